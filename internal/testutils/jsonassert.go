package testutils

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence matches any value as long as the key exists in the actual document.
const Presence = "<<PRESENCE>>"

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions controls how documents are normalized before comparison.
type JSONAssertOptions struct {
	IgnoreExtraKeys  bool     `default:"true"`
	AllowPresence    bool     `default:"true"`
	IgnoreArrayOrder bool     `default:"false"`
	IgnoredFields    []string
}

// JSONOption mutates JSONAssertOptions.
type JSONOption func(*JSONAssertOptions)

// JSONAsserter compares JSON output structurally and reports a gojsondiff
// rendering on mismatch.
type JSONAsserter struct {
	t    TestingT
	opts JSONAssertOptions
}

// NewJSONAsserter returns an asserter with default options applied.
func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	o := JSONAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONAsserter{t: t, opts: o}
}

// Options returns the effective options.
func (ja *JSONAsserter) Options() JSONAssertOptions {
	return ja.opts
}

// Assert fails the test when actualJSON does not match expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	ja.t.Helper()
	if d := ja.Diff(actualJSON, expectedJSON); d != "" {
		ja.t.Errorf("JSON mismatch:\n%s", d)
		return false
	}
	return true
}

// Diff returns a readable difference, or "" when the documents match.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only.
	expected = map[string]any{"root": expected}
	actual = map[string]any{"root": actual}

	if len(ja.opts.IgnoredFields) > 0 {
		dropFields(expected, ja.opts.IgnoredFields)
		dropFields(actual, ja.opts.IgnoredFields)
	}
	if ja.opts.AllowPresence {
		fillPresence(expected, actual)
	}
	if ja.opts.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if ja.opts.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	left, _ := json.Marshal(expected)
	right, _ := json.Marshal(actual)
	diff, err := gojsondiff.New().Compare(left, right)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, err := f.Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON documents differ (format failed: %v)", err)
	}
	return out
}

// walk visits expected and actual in lockstep.
func walk(expected, actual any, visit func(exp, act map[string]any)) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		visit(exp, act)
		for k, v := range exp {
			walk(v, act[k], visit)
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range min(len(exp), len(act)) {
			walk(exp[i], act[i], visit)
		}
	}
}

func fillPresence(expected, actual any) {
	walk(expected, actual, func(exp, act map[string]any) {
		for k, v := range exp {
			if s, ok := v.(string); ok && s == Presence {
				if av, found := act[k]; found {
					exp[k] = av
				}
			}
		}
	})
}

func pruneExtraKeys(actual, expected any) {
	walk(expected, actual, func(exp, act map[string]any) {
		for k := range act {
			if _, ok := exp[k]; !ok {
				delete(act, k)
			}
		}
	})
}

func dropFields(doc any, fields []string) {
	switch v := doc.(type) {
	case map[string]any:
		for k, child := range v {
			if slices.Contains(fields, k) {
				delete(v, k)
				continue
			}
			dropFields(child, fields)
		}
	case []any:
		for _, child := range v {
			dropFields(child, fields)
		}
	}
}

// sortArrays orders every array by the JSON encoding of its elements.
func sortArrays(doc any) {
	switch v := doc.(type) {
	case map[string]any:
		for _, child := range v {
			sortArrays(child)
		}
	case []any:
		for _, child := range v {
			sortArrays(child)
		}
		sort.SliceStable(v, func(i, j int) bool {
			a, _ := json.Marshal(v[i])
			b, _ := json.Marshal(v[j])
			return string(a) < string(b)
		})
	}
}

// WithIgnoreExtraKeys toggles ignoring keys present only in the actual document.
func WithIgnoreExtraKeys(v bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = v }
}

// WithPresence toggles the Presence placeholder.
func WithPresence(v bool) JSONOption {
	return func(o *JSONAssertOptions) { o.AllowPresence = v }
}

// WithIgnoreArrayOrder toggles order-insensitive array comparison.
func WithIgnoreArrayOrder(v bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = v }
}

// WithIgnoredFields removes the named keys at any depth before comparing.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}
