package biometric

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Prompter reads a secret from the user without echo.
type Prompter interface {
	// Available reports whether a prompt can be shown at all.
	Available() bool
	ReadSecret(prompt string) ([]byte, error)
}

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// TerminalPrompter prompts on a terminal file descriptor.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stdin and writes prompts to stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) Available() bool {
	return p.In != nil && term.IsTerminal(int(p.In.Fd()))
}

// ReadSecret prints prompt and reads a line without echo. The caller must
// wipe the returned slice.
func (p *TerminalPrompter) ReadSecret(prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(p.Out, prompt); err != nil {
		return nil, err
	}
	b, err := readPassword(int(p.In.Fd()))
	fmt.Fprintln(p.Out)
	if err != nil {
		return nil, err
	}
	return b, nil
}
