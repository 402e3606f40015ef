//go:build linux

// Package tinygoble implements peripheral.Stack on top of tinygo.org/x/bluetooth
// (BlueZ over D-Bus on Linux).
package tinygoble

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/blimp/internal/peripheral"
)

// radio is the subset of *bluetooth.Adapter the stack drives.
type radio interface {
	Enable() error
	SetConnectHandler(func(device bluetooth.Device, connected bool))
	AddService(svc *bluetooth.Service) error
	Advertisement() advertiser
}

type advertiser interface {
	Configure(options bluetooth.AdvertisementOptions) error
	Start() error
	Stop() error
}

// charWriter pushes a new value to subscribed centrals.
type charWriter interface {
	Write(p []byte) (int, error)
}

type adapterRadio struct {
	*bluetooth.Adapter
}

func (r adapterRadio) Advertisement() advertiser {
	return r.DefaultAdvertisement()
}

// Stack is a peripheral.Stack backed by the default tinygo adapter.
type Stack struct {
	radio  radio
	logger *logrus.Logger

	// wrap turns the stack-filled characteristic into a writer; tests replace it.
	wrap func(*bluetooth.Characteristic) charWriter

	mu          sync.Mutex
	adv         advertiser
	advertising bool
}

var _ peripheral.Stack = (*Stack)(nil)

// NewStack returns a stack over bluetooth.DefaultAdapter.
func NewStack(logger *logrus.Logger) *Stack {
	return newStack(adapterRadio{bluetooth.DefaultAdapter}, logger)
}

func newStack(r radio, logger *logrus.Logger) *Stack {
	if logger == nil {
		logger = logrus.New()
	}
	return &Stack{
		radio:  r,
		logger: logger,
		wrap:   func(c *bluetooth.Characteristic) charWriter { return c },
	}
}

// Enable powers on the adapter. BlueZ takes the device name from the
// advertisement's LocalName, so deviceName is only logged here.
func (s *Stack) Enable(deviceName string) error {
	if err := s.radio.Enable(); err != nil {
		return fmt.Errorf("tinygo: enable adapter: %w", err)
	}
	s.logger.WithField("name", deviceName).Debug("BLE adapter enabled")
	return nil
}

func (s *Stack) SetConnectHandler(handler peripheral.ConnectHandler) {
	s.radio.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			// A central that connected stops the advertisement on most controllers.
			s.mu.Lock()
			s.advertising = false
			s.mu.Unlock()
		}
		handler(device.Address.String(), connected)
	})
}

// Flags maps peripheral properties to tinygo characteristic permissions.
func Flags(p peripheral.Property) bluetooth.CharacteristicPermissions {
	var flags bluetooth.CharacteristicPermissions
	if p&peripheral.PropertyRead != 0 {
		flags |= bluetooth.CharacteristicReadPermission
	}
	if p&peripheral.PropertyWrite != 0 {
		flags |= bluetooth.CharacteristicWritePermission
	}
	if p&peripheral.PropertyNotify != 0 {
		flags |= bluetooth.CharacteristicNotifyPermission
	}
	return flags
}

func (s *Stack) AddService(svc peripheral.ServiceConfig) (peripheral.CharacteristicHandle, error) {
	svcUUID, err := bluetooth.ParseUUID(svc.UUID)
	if err != nil {
		return nil, fmt.Errorf("tinygo: parse service UUID: %w", err)
	}
	charUUID, err := bluetooth.ParseUUID(svc.Characteristic.UUID)
	if err != nil {
		return nil, fmt.Errorf("tinygo: parse characteristic UUID: %w", err)
	}

	var ch bluetooth.Characteristic
	onWrite := svc.Characteristic.WriteHandler
	config := bluetooth.CharacteristicConfig{
		Handle: &ch,
		UUID:   charUUID,
		Flags:  Flags(svc.Characteristic.Properties),
		WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
			if onWrite == nil {
				return
			}
			onWrite(fmt.Sprintf("conn-%d", client), value)
		},
	}

	if err := s.radio.AddService(&bluetooth.Service{
		UUID:            svcUUID,
		Characteristics: []bluetooth.CharacteristicConfig{config},
	}); err != nil {
		return nil, fmt.Errorf("tinygo: add service: %w", err)
	}

	return &handle{char: s.wrap(&ch)}, nil
}

func (s *Stack) ConfigureAdvertising(opts peripheral.AdvertisingOptions) error {
	uuids := make([]bluetooth.UUID, 0, len(opts.ServiceUUIDs))
	for _, u := range opts.ServiceUUIDs {
		parsed, err := bluetooth.ParseUUID(u)
		if err != nil {
			return fmt.Errorf("tinygo: parse advertised UUID: %w", err)
		}
		uuids = append(uuids, parsed)
	}

	adv := s.radio.Advertisement()
	options := bluetooth.AdvertisementOptions{
		LocalName:    opts.LocalName,
		ServiceUUIDs: uuids,
	}
	if opts.Interval > 0 {
		options.Interval = bluetooth.NewDuration(opts.Interval)
	}
	if err := adv.Configure(options); err != nil {
		return fmt.Errorf("tinygo: configure advertisement: %w", err)
	}

	// BlueZ negotiates connection parameters itself.
	s.logger.WithFields(logrus.Fields{
		"scan_response": opts.ScanResponse,
		"min_preferred": opts.MinPreferred,
		"max_preferred": opts.MaxPreferred,
	}).Debug("Connection hints not supported by tinygo backend, ignoring")

	s.mu.Lock()
	s.adv = adv
	s.mu.Unlock()
	return nil
}

// StartAdvertising (re)registers the advertisement. BlueZ rejects a second
// registration, so an active advertisement is stopped first.
func (s *Stack) StartAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adv == nil {
		return peripheral.ErrNotInitialized
	}
	if s.advertising {
		if err := s.adv.Stop(); err != nil {
			s.logger.WithError(err).Debug("Stop advertisement failed")
		}
		s.advertising = false
	}
	if err := s.adv.Start(); err != nil {
		return fmt.Errorf("tinygo: start advertisement: %w", err)
	}
	s.advertising = true
	return nil
}

// handle keeps its own copy of the value; tinygo exposes no getter.
type handle struct {
	char charWriter

	mu    sync.Mutex
	value []byte
}

func (h *handle) SetValue(value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.value = append(h.value[:0], value...)
}

func (h *handle) Value() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.value...)
}

// Notify writes the current value, which BlueZ pushes to subscribed centrals.
func (h *handle) Notify() error {
	h.mu.Lock()
	value := append([]byte(nil), h.value...)
	h.mu.Unlock()

	if _, err := h.char.Write(value); err != nil {
		return peripheral.NormalizeError(err)
	}
	return nil
}
