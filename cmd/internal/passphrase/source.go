// Package passphrase resolves keystore passphrases for the command line tools.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrMismatch is returned when the confirmation prompt does not match.
var ErrMismatch = errors.New("passphrases do not match")

// Source lazily resolves a passphrase from an environment variable or by
// prompting on the terminal. The first result is cached.
type Source struct {
	envVar  string
	label   string
	confirm bool

	stderr   io.Writer
	terminal func() bool
	read     func() ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithConfirmation asks for the passphrase twice when prompting.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// WithLabel changes the noun used in prompts and errors.
func WithLabel(label string) Option {
	return func(s *Source) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			s.label = trimmed
		}
	}
}

// NewSource returns a source that checks envVar before prompting.
func NewSource(envVar string, opts ...Option) *Source {
	fd := int(os.Stdin.Fd())
	s := &Source{
		envVar:   strings.TrimSpace(envVar),
		label:    "keystore passphrase",
		stderr:   os.Stderr,
		terminal: func() bool { return term.IsTerminal(fd) },
		read:     func() ([]byte, error) { return term.ReadPassword(fd) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.terminal() {
		if s.envVar != "" {
			return "", fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s required and no terminal available", s.label)
	}

	value, err := s.prompt("Enter " + s.label + ": ")
	if err != nil {
		return "", err
	}
	if s.confirm {
		again, err := s.prompt("Repeat " + s.label + ": ")
		if err != nil {
			return "", err
		}
		if again != value {
			return "", ErrMismatch
		}
	}
	return value, nil
}

func (s *Source) prompt(message string) (string, error) {
	fmt.Fprint(s.stderr, message)
	raw, err := s.read()
	fmt.Fprintln(s.stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.label, err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s cannot be empty", s.label)
	}
	return value, nil
}
