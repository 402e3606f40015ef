package stackfactory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/blimp/internal/peripheral"
	goble "github.com/srg/blimp/internal/peripheral/go-ble"
	tinygoble "github.com/srg/blimp/internal/peripheral/tinygo"
)

// Backend names accepted by New.
const (
	BackendTinyGo = "tinygo"
	BackendGoBLE  = "go-ble"

	DefaultBackend = BackendTinyGo
)

// StackFactory creates peripheral.Stack instances.
// This is a variable so that it can be overridden in tests.
var StackFactory = New

// New creates the stack for backend. The returned io.Closer releases the
// stack's resources; it is a no-op for backends without any.
func New(ctx context.Context, backend string, logger *logrus.Logger) (peripheral.Stack, io.Closer, error) {
	name, err := Canonical(backend)
	if err != nil {
		return nil, nil, err
	}
	if name == BackendGoBLE {
		s := goble.NewStack(ctx, logger)
		return s, s, nil
	}
	return tinygoble.NewStack(logger), nopCloser{}, nil
}

// Canonical resolves a user-supplied backend name. Empty selects DefaultBackend.
func Canonical(backend string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendTinyGo:
		return BackendTinyGo, nil
	case BackendGoBLE, "goble":
		return BackendGoBLE, nil
	default:
		return "", fmt.Errorf("unknown BLE backend %q (available: %s)", backend, strings.Join(Backends(), ", "))
	}
}

// Backends lists the supported backend names.
func Backends() []string {
	out := []string{BackendTinyGo, BackendGoBLE}
	sort.Strings(out)
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
