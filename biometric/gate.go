// Package biometric detects and invokes user-presence checks. A gate only
// reports success or failure; it never produces or consumes key material.
package biometric

import (
	"context"
	"errors"
	"sync"
)

// AuthType is one kind of user-presence check a device supports.
type AuthType int

const (
	Fingerprint AuthType = iota + 1
	FacialRecognition
	Iris
	DevicePasscode
)

func (t AuthType) String() string {
	switch t {
	case Fingerprint:
		return "fingerprint"
	case FacialRecognition:
		return "facial_recognition"
	case Iris:
		return "iris"
	case DevicePasscode:
		return "device_passcode"
	default:
		return "unknown"
	}
}

// SecurityLevel is the strongest enrolled check on the device.
type SecurityLevel int

const (
	SecurityNone SecurityLevel = iota
	SecuritySecret
	SecurityBiometricWeak
	SecurityBiometricStrong
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityNone:
		return "none"
	case SecuritySecret:
		return "secret"
	case SecurityBiometricWeak:
		return "biometric_weak"
	case SecurityBiometricStrong:
		return "biometric_strong"
	default:
		return "unknown"
	}
}

// Capability describes what the device can do. Callers decide the fallback.
type Capability struct {
	HasBiometric      bool
	HasDevicePasscode bool
	SupportedTypes    []AuthType
	SecurityLevel     SecurityLevel
}

// Available reports whether any challenge can be presented.
func (c Capability) Available() bool {
	return c.HasBiometric || c.HasDevicePasscode
}

// ErrNotEnrolled is returned by Challenge when nothing is enrolled.
var ErrNotEnrolled = errors.New("no biometric or device passcode enrolled")

// Gate presents a user-presence challenge.
type Gate interface {
	// Capability reports hardware and enrollment state. Ambiguous or failed
	// detection reports nothing available rather than an error.
	Capability(ctx context.Context) (Capability, error)
	// Challenge returns true only on explicit success. Cancellation and
	// failed matches return false with a nil error; an error means an
	// unexpected platform failure.
	Challenge(ctx context.Context, reason string) (bool, error)
}

// None is a Gate on a device without any user-presence hardware.
type None struct{}

func (None) Capability(context.Context) (Capability, error) {
	return Capability{}, nil
}

func (None) Challenge(context.Context, string) (bool, error) {
	return false, ErrNotEnrolled
}

// Static is a scripted Gate for tests and embedders that perform the check
// elsewhere.
type Static struct {
	Cap    Capability
	Result bool
	Err    error

	mu    sync.Mutex
	calls int
}

func (s *Static) Capability(ctx context.Context) (Capability, error) {
	return s.Cap, nil
}

func (s *Static) Challenge(ctx context.Context, reason string) (bool, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if ctx.Err() != nil {
		return false, nil
	}
	if s.Err != nil {
		return false, s.Err
	}
	return s.Result, nil
}

// Calls returns how many challenges were presented.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
