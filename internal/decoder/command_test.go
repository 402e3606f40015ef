package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Command
	}{
		{"action", "sampleBag", Command{Name: "sampleBag"}},
		{"trimmed", "  abort\r\n", Command{Name: "abort"}},
		{"nul padded", "purgeBag\x00\x00", Command{Name: "purgeBag"}},
		{"parameter", "samplingTime5000", Command{Name: "samplingTime", Arg: 5000, HasArg: true}},
		{"zero", "numPurgeCycles0", Command{Name: "numPurgeCycles", Arg: 0, HasArg: true}},
		{"underscore", "LED_ON", Command{Name: "LED_ON"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantIs error
	}{
		{"empty", "", ErrEmptyCommand},
		{"blank", " \r\n\x00", ErrEmptyCommand},
		{"digits only", "12345", ErrUnknownCommand},
		{"inner space", "sample Bag", ErrUnknownCommand},
		{"punctuation", "abort!", ErrUnknownCommand},
		{"overflow", "samplingTime99999999999999999999999", ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIs)

			var cmdErr *CommandError
			assert.ErrorAs(t, err, &cmdErr)
		})
	}
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "abort", Command{Name: "abort"}.String())
	assert.Equal(t, "fillingTime250", Command{Name: "fillingTime", Arg: 250, HasArg: true}.String())
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Command: "bogus", Err: ErrUnknownCommand}
	assert.Equal(t, `command "bogus": unknown command`, err.Error())
	assert.ErrorIs(t, err, ErrUnknownCommand)

	assert.Equal(t, "empty command", (&CommandError{Err: ErrEmptyCommand}).Error())
}
