package peripheral

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionError_Is(t *testing.T) {
	wrapped := fmt.Errorf("notify: %w", &ConnectionError{State: NotConnected, Msg: "central left"})

	assert.ErrorIs(t, wrapped, ErrNotConnected)
	assert.NotErrorIs(t, wrapped, ErrNotInitialized)
	assert.True(t, IsConnectionState(wrapped, NotConnected))
	assert.False(t, IsConnectionState(errors.New("other"), NotConnected))
}

func TestConnectionError_Error(t *testing.T) {
	assert.Equal(t, "not_connected", ErrNotConnected.Error())
	assert.Equal(t, "not_initialized: no handle", (&ConnectionError{State: NotInitialized, Msg: "no handle"}).Error())

	var nilErr *ConnectionError
	assert.Equal(t, "<nil>", nilErr.Error())
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		wantIs error
	}{
		{"not connected", errors.New("Device Not Connected"), ErrNotConnected},
		{"disconnected", errors.New("peer disconnected"), ErrNotConnected},
		{"not initialized", errors.New("stack not initialized"), ErrNotInitialized},
		{"not enabled", errors.New("adapter not enabled"), ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.wantIs)
			assert.Contains(t, got.Error(), tt.err.Error())
		})
	}

	other := errors.New("att: write failed")
	assert.Same(t, other, NormalizeError(other))
	assert.NoError(t, NormalizeError(nil))
}
