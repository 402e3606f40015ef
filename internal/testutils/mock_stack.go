package testutils

import (
	"sync"

	"github.com/srg/blimp/internal/peripheral"
)

// MockHandle is an in-memory peripheral.CharacteristicHandle that records
// every value it notified.
type MockHandle struct {
	mu            sync.Mutex
	value         []byte
	notifications [][]byte
	setValueCalls int

	// NotifyErr, when set, is returned by Notify.
	NotifyErr error
}

func (h *MockHandle) SetValue(value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.value = append([]byte(nil), value...)
	h.setValueCalls++
}

func (h *MockHandle) Value() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.value...)
}

func (h *MockHandle) Notify() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.NotifyErr != nil {
		return h.NotifyErr
	}
	h.notifications = append(h.notifications, append([]byte(nil), h.value...))
	return nil
}

// Notifications returns copies of all notified values, oldest first.
func (h *MockHandle) Notifications() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.notifications))
	copy(out, h.notifications)
	return out
}

// SetValueCalls returns how many times SetValue was called.
func (h *MockHandle) SetValueCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setValueCalls
}

// MockStack simulates a vendor BLE stack. Failures are injected through the
// *Err fields; events are injected through the Simulate* methods.
type MockStack struct {
	mu             sync.Mutex
	calls          []string
	name           string
	service        *peripheral.ServiceConfig
	advertising    peripheral.AdvertisingOptions
	advertiseCount int
	connectHandler peripheral.ConnectHandler

	Handle *MockHandle

	EnableErr     error
	AddServiceErr error
	ConfigureErr  error
	AdvertiseErr  error
}

// NewMockStack returns a stack whose AddService hands out a fresh MockHandle.
func NewMockStack() *MockStack {
	return &MockStack{Handle: &MockHandle{}}
}

var _ peripheral.Stack = (*MockStack)(nil)

func (s *MockStack) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *MockStack) Enable(deviceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Enable")
	if s.EnableErr != nil {
		return s.EnableErr
	}
	s.name = deviceName
	return nil
}

func (s *MockStack) SetConnectHandler(handler peripheral.ConnectHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SetConnectHandler")
	s.connectHandler = handler
}

func (s *MockStack) AddService(svc peripheral.ServiceConfig) (peripheral.CharacteristicHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("AddService")
	if s.AddServiceErr != nil {
		return nil, s.AddServiceErr
	}
	s.service = &svc
	return s.Handle, nil
}

func (s *MockStack) ConfigureAdvertising(opts peripheral.AdvertisingOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ConfigureAdvertising")
	if s.ConfigureErr != nil {
		return s.ConfigureErr
	}
	s.advertising = opts
	return nil
}

func (s *MockStack) StartAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("StartAdvertising")
	s.advertiseCount++
	return s.AdvertiseErr
}

// SimulateConnect fires the registered connect handler with connected=true.
func (s *MockStack) SimulateConnect(central string) {
	s.fire(central, true)
}

// SimulateDisconnect fires the registered connect handler with connected=false.
func (s *MockStack) SimulateDisconnect(central string) {
	s.fire(central, false)
}

func (s *MockStack) fire(central string, connected bool) {
	s.mu.Lock()
	h := s.connectHandler
	s.mu.Unlock()
	if h != nil {
		h(central, connected)
	}
}

// SimulateWrite delivers data to the characteristic write handler.
func (s *MockStack) SimulateWrite(central string, data []byte) {
	s.mu.Lock()
	var h peripheral.WriteHandler
	if s.service != nil {
		h = s.service.Characteristic.WriteHandler
	}
	s.mu.Unlock()
	if h != nil {
		h(central, data)
	}
}

// AdvertiseCount returns how many times StartAdvertising was requested.
func (s *MockStack) AdvertiseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertiseCount
}

// Calls returns the ordered list of stack methods invoked.
func (s *MockStack) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Name returns the device name passed to Enable.
func (s *MockStack) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Service returns the service passed to AddService, or nil.
func (s *MockStack) Service() *peripheral.ServiceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.service
}

// Advertising returns the last advertising configuration.
func (s *MockStack) Advertising() peripheral.AdvertisingOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising
}

// RecordingDecoder records every payload it receives.
type RecordingDecoder struct {
	mu    sync.Mutex
	calls [][]byte

	// Err, when set, is returned from DecodeAndExecute.
	Err error
}

func (d *RecordingDecoder) DecodeAndExecute(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, append([]byte(nil), data...))
	return d.Err
}

// Calls returns copies of the received payloads, oldest first.
func (d *RecordingDecoder) Calls() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.calls))
	copy(out, d.calls)
	return out
}
