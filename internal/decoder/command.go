package decoder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrEmptyCommand is returned for a write that is blank after trimming.
	ErrEmptyCommand = errors.New("empty command")
	// ErrUnknownCommand is returned when no registered command matches.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidArgument is returned when an argument is missing, unexpected or out of range.
	ErrInvalidArgument = errors.New("invalid argument")
)

// CommandError reports a command that could not be decoded or executed.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Command == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("command %q: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Command is a parsed write.
type Command struct {
	Name   string
	Arg    int
	HasArg bool
}

func (c Command) String() string {
	if c.HasArg {
		return c.Name + strconv.Itoa(c.Arg)
	}
	return c.Name
}

// Parse splits raw characteristic bytes into a command name and an optional
// trailing integer argument. Surrounding whitespace and NUL padding are ignored.
func Parse(data []byte) (Command, error) {
	raw := strings.Trim(string(data), " \t\r\n\x00")
	if raw == "" {
		return Command{}, &CommandError{Err: ErrEmptyCommand}
	}

	split := len(raw)
	for split > 0 && raw[split-1] >= '0' && raw[split-1] <= '9' {
		split--
	}
	name, digits := raw[:split], raw[split:]

	if !isName(name) {
		return Command{}, &CommandError{Command: raw, Err: ErrUnknownCommand}
	}
	if digits == "" {
		return Command{Name: name}, nil
	}

	arg, err := strconv.Atoi(digits)
	if err != nil {
		return Command{}, &CommandError{Command: raw, Err: fmt.Errorf("%w: %v", ErrInvalidArgument, err)}
	}
	return Command{Name: name, Arg: arg, HasArg: true}, nil
}

// isName reports whether s starts with a letter and holds only letters,
// digits and underscores.
func isName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
