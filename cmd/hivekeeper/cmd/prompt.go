package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jmcleod/hivekeeper/biometric"
	"github.com/jmcleod/hivekeeper/internal/util"
)

// linePrompter reads secrets line by line from a non-terminal input such as
// a pipe. Input is echoed by whatever produced it; nothing is echoed here.
type linePrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newLinePrompter(in io.Reader, out io.Writer) *linePrompter {
	return &linePrompter{in: bufio.NewReader(in), out: out}
}

func (p *linePrompter) Available() bool {
	return p.in != nil
}

func (p *linePrompter) ReadSecret(prompt string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprint(p.out, prompt); err != nil {
		return nil, err
	}
	line, err := p.in.ReadBytes('\n')
	fmt.Fprintln(p.out)
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		util.WipeBytes(line)
		return nil, err
	}
	out := bytes.TrimRight(line, "\r\n")
	return out, nil
}

// readSecret prompts for a non-empty secret.
func readSecret(p biometric.Prompter, prompt string) (string, error) {
	b, err := p.ReadSecret(prompt)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	defer util.WipeBytes(b)
	s := string(bytes.TrimSpace(b))
	if s == "" {
		return "", errors.New("no input given")
	}
	return s, nil
}

// readNewPIN prompts for a PIN twice.
func readNewPIN(p biometric.Prompter, label string) (string, error) {
	pin, err := readSecret(p, label+": ")
	if err != nil {
		return "", err
	}
	confirm, err := readSecret(p, "Confirm "+label+": ")
	if err != nil {
		return "", err
	}
	if pin != confirm {
		return "", errors.New("entries do not match")
	}
	return pin, nil
}
