package decoder

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
)

// ScriptError represents a Lua load or runtime failure.
type ScriptError struct {
	Phase   string // "load", "runtime", "api"
	Source  string
	Line    int
	Message string
}

func (e *ScriptError) Error() string {
	var loc []string
	if e.Source != "" {
		loc = append(loc, e.Source)
	}
	if e.Line > 0 {
		loc = append(loc, fmt.Sprintf("line %d", e.Line))
	}
	if len(loc) == 0 {
		return fmt.Sprintf("lua %s error: %s", e.Phase, e.Message)
	}
	return fmt.Sprintf("lua %s error (%s): %s", e.Phase, strings.Join(loc, ", "), e.Message)
}

// Is matches any *ScriptError of the same phase.
func (e *ScriptError) Is(target error) bool {
	var t *ScriptError
	if errors.As(target, &t) {
		return e.Phase == t.Phase
	}
	return false
}

// Notifier sends a string back to the connected central.
type Notifier func(text string) error

// LuaDecoder hands every write to the script's global decode(command).
//
// The script sees two Go functions:
//
//	notify(text)      -> ok, err   send a notification to the central
//	dispatch(command) -> ok, err   run a builtin command through the fallback dispatcher
//
// decode may return an error string; it is reported as a runtime ScriptError.
type LuaDecoder struct {
	logger   *logrus.Logger
	fallback *Dispatcher
	notify   Notifier
	source   string

	mu    sync.Mutex
	state *lua.State
}

// NewLuaDecoder compiles script and checks that it defines decode.
// fallback and notify may be nil; the matching Lua function then reports an error.
func NewLuaDecoder(script, source string, fallback *Dispatcher, notify Notifier, logger *logrus.Logger) (*LuaDecoder, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(script) == "" {
		return nil, &ScriptError{Phase: "api", Source: source, Message: "empty script"}
	}

	d := &LuaDecoder{
		logger:   logger,
		fallback: fallback,
		notify:   notify,
		source:   source,
		state:    lua.NewState(),
	}
	d.state.OpenLibs()
	d.registerFunctions()

	if err := d.state.DoString(script); err != nil {
		e := parseLuaError(err.Error(), "load", source)
		d.state.Close()
		return nil, e
	}

	d.state.GetGlobal("decode")
	ok := d.state.IsFunction(-1)
	d.state.Pop(1)
	if !ok {
		d.state.Close()
		return nil, &ScriptError{Phase: "api", Source: source, Message: "script does not define function decode(command)"}
	}

	logger.WithField("script", source).Info("Lua decoder loaded")
	return d, nil
}

// LoadLuaDecoder reads a script file and calls NewLuaDecoder.
func LoadLuaDecoder(path string, fallback *Dispatcher, notify Notifier, logger *logrus.Logger) (*LuaDecoder, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return NewLuaDecoder(string(content), path, fallback, notify, logger)
}

func (d *LuaDecoder) registerFunctions() {
	L := d.state

	L.PushGoFunction(func(L *lua.State) int {
		if !L.IsString(1) {
			return pushResult(L, errors.New("notify expects a string"))
		}
		text := L.ToString(1)
		if d.notify == nil {
			return pushResult(L, errors.New("notifications are not available"))
		}
		return pushResult(L, d.notify(text))
	})
	L.SetGlobal("notify")

	L.PushGoFunction(func(L *lua.State) int {
		if !L.IsString(1) {
			return pushResult(L, errors.New("dispatch expects a string"))
		}
		command := L.ToString(1)
		if d.fallback == nil {
			return pushResult(L, errors.New("no builtin commands available"))
		}
		return pushResult(L, d.fallback.DecodeAndExecute([]byte(command)))
	})
	L.SetGlobal("dispatch")
}

// pushResult pushes (true) or (false, message).
func pushResult(L *lua.State, err error) int {
	if err == nil {
		L.PushBoolean(true)
		return 1
	}
	L.PushBoolean(false)
	L.PushString(err.Error())
	return 2
}

// DecodeAndExecute implements peripheral.Decoder. The Lua stack is restored
// to its previous height whether decode returns, raises or panics.
func (d *LuaDecoder) DecodeAndExecute(data []byte) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == nil {
		return &ScriptError{Phase: "api", Source: d.source, Message: "decoder closed"}
	}

	L := d.state
	top := L.GetTop()
	defer L.SetTop(top)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Lua decode panicked: %v", r)
			err = &ScriptError{Phase: "runtime", Source: d.source, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	L.GetGlobal("decode")
	L.PushString(string(data))
	if err := L.Call(1, 1); err != nil {
		return parseLuaError(err.Error(), "runtime", d.source)
	}

	if L.IsString(-1) {
		if msg := L.ToString(-1); msg != "" {
			return &ScriptError{Phase: "runtime", Source: d.source, Message: msg}
		}
	}
	return nil
}

// Close releases the Lua state.
func (d *LuaDecoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != nil {
		d.state.Close()
		d.state = nil
	}
}

// parseLuaError extracts the line number from messages like
// `[string "..."]:3: attempt to call a nil value`.
func parseLuaError(msg, phase, source string) *ScriptError {
	line := 0
	message := msg
	parts := strings.SplitN(msg, ":", 3)
	if len(parts) == 3 {
		if n, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &line); err == nil && n == 1 {
			message = strings.TrimSpace(parts[2])
		} else {
			line = 0
		}
	}
	return &ScriptError{Phase: phase, Source: source, Line: line, Message: message}
}
