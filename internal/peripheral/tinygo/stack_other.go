//go:build !linux

// Package tinygoble implements peripheral.Stack on top of tinygo.org/x/bluetooth.
// Peripheral mode is only available on Linux; elsewhere every call fails.
package tinygoble

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/srg/blimp/internal/peripheral"
)

// ErrUnsupported is returned on platforms without tinygo peripheral support.
var ErrUnsupported = errors.New("tinygo: peripheral mode is not supported on this platform")

type Stack struct{}

var _ peripheral.Stack = (*Stack)(nil)

func NewStack(*logrus.Logger) *Stack { return &Stack{} }

func (*Stack) Enable(string) error                          { return ErrUnsupported }
func (*Stack) SetConnectHandler(peripheral.ConnectHandler) {}
func (*Stack) AddService(peripheral.ServiceConfig) (peripheral.CharacteristicHandle, error) {
	return nil, ErrUnsupported
}
func (*Stack) ConfigureAdvertising(peripheral.AdvertisingOptions) error { return ErrUnsupported }
func (*Stack) StartAdvertising() error                                 { return ErrUnsupported }
