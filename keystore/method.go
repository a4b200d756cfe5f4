package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Method is how the secret guarding a record is obtained.
type Method int

const (
	// MethodPIN records are keyed by a PBKDF2 derivation of the user's PIN.
	MethodPIN Method = iota
	// MethodBiometric records are keyed by the device secret, released only
	// after a successful biometric or device passcode challenge.
	MethodBiometric
)

// ErrUnknownMethod is returned when an unrecognized method is encountered.
var ErrUnknownMethod = errors.New("unknown key method")

func (m Method) String() string {
	switch m {
	case MethodPIN:
		return "pin"
	case MethodBiometric:
		return "biometric"
	default:
		return "unknown"
	}
}

// ParseMethod parses the lower-case wire form of a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "pin":
		return MethodPIN, nil
	case "biometric":
		return MethodBiometric, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

func (m *Method) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unmarshaling key method: %w", err)
	}
	parsed, err := ParseMethod(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Method) MarshalJSON() ([]byte, error) {
	if m != MethodPIN && m != MethodBiometric {
		return nil, ErrUnknownMethod
	}
	return json.Marshal(m.String())
}
