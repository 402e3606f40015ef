package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of *testing.T the asserters report through.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

// TextAssertOptions controls how CLI text output is normalized before diffing.
type TextAssertOptions struct {
	TrimSpace          bool `default:"true"`
	TrimTrailingSpaces bool `default:"true"`
	IgnoreEmptyLines   bool `default:"false"`
	StripANSI          bool `default:"true"`
	Colors             bool `default:"false"`
}

// TextOption mutates TextAssertOptions.
type TextOption func(*TextAssertOptions)

// TextAsserter compares command output and reports a unified diff on mismatch.
type TextAsserter struct {
	t    TestingT
	opts TextAssertOptions
}

// NewTextAsserter returns an asserter with default options applied.
func NewTextAsserter(t TestingT, opts ...TextOption) *TextAsserter {
	o := TextAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &TextAsserter{t: t, opts: o}
}

// Options returns the effective options.
func (ta *TextAsserter) Options() TextAssertOptions {
	return ta.opts
}

// Assert fails the test when actual differs from expected after normalization.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	if d := ta.Diff(actual, expected); d != "" {
		ta.t.Errorf("text mismatch (-expected +actual):\n%s", d)
		return false
	}
	return true
}

// Diff returns the unified diff between expected and actual, or "" when equal.
func (ta *TextAsserter) Diff(actual, expected string) string {
	want, got := ta.normalize(expected), ta.normalize(actual)
	if want == got {
		return ""
	}
	edits := myers.ComputeEdits("", want, got)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", want, edits))
	if !ta.opts.Colors {
		return unified
	}
	return colorize(unified)
}

func (ta *TextAsserter) normalize(s string) string {
	if ta.opts.StripANSI {
		s = stripANSI(s)
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if ta.opts.TrimSpace {
		s = strings.TrimSpace(s)
	}

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if ta.opts.TrimTrailingSpaces {
			line = strings.TrimRight(line, " \t")
		}
		if ta.opts.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n") + "\n"
}

func colorize(diff string) string {
	header := color.New(color.FgYellow)
	hunk := color.New(color.FgCyan)
	del := color.New(color.FgRed)
	add := color.New(color.FgGreen)
	for _, c := range []*color.Color{header, hunk, del, add} {
		c.EnableColor()
	}

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			lines[i] = header.Sprint(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = hunk.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = del.Sprint(visibleSpace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = add.Sprint(visibleSpace(line))
		}
	}
	return strings.Join(lines, "\n")
}

func visibleSpace(line string) string {
	return strings.NewReplacer(" ", "·", "\t", "→").Replace(line)
}

// stripANSI removes CSI escape sequences such as color codes.
func stripANSI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// WithTrimSpace toggles trimming of leading and trailing whitespace of the whole text.
func WithTrimSpace(v bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = v }
}

// WithIgnoreEmptyLines toggles skipping blank lines.
func WithIgnoreEmptyLines(v bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = v }
}

// WithStripANSI toggles removal of terminal color codes.
func WithStripANSI(v bool) TextOption {
	return func(o *TextAssertOptions) { o.StripANSI = v }
}

// WithColors toggles colored diff output.
func WithColors(v bool) TextOption {
	return func(o *TextAssertOptions) { o.Colors = v }
}
