package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/srg/blimp/internal/decoder"
	"github.com/srg/blimp/internal/peripheral"
)

// FormatUserError turns internal errors into a one-line message with a hint
// where the cause is usually environmental.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var scriptErr *decoder.ScriptError
	switch {
	case peripheral.IsConnectionState(err, peripheral.BluetoothOff):
		return fmt.Sprintf("%v (is Bluetooth enabled and the adapter present?)", err)
	case errors.Is(err, peripheral.ErrAlreadySetup):
		return "peripheral is already set up"
	case errors.Is(err, peripheral.ErrInvalidUUID):
		return fmt.Sprintf("%v (expected a 16-bit alias like 180d or a 128-bit UUID)", err)
	case errors.As(err, &scriptErr):
		return fmt.Sprintf("%v (check decoder.script)", scriptErr)
	case errors.Is(err, os.ErrPermission):
		return fmt.Sprintf("%v (try running with elevated privileges or grant CAP_NET_ADMIN)", err)
	default:
		return err.Error()
	}
}
