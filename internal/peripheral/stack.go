package peripheral

import (
	"strings"
	"time"
)

// Property is a GATT characteristic capability bit set.
type Property uint8

const (
	PropertyRead Property = 1 << iota
	PropertyWrite
	PropertyNotify
)

// String renders the set as "read,write,notify".
func (p Property) String() string {
	parts := make([]string, 0, 3)
	if p&PropertyRead != 0 {
		parts = append(parts, "read")
	}
	if p&PropertyWrite != 0 {
		parts = append(parts, "write")
	}
	if p&PropertyNotify != 0 {
		parts = append(parts, "notify")
	}
	return strings.Join(parts, ",")
}

// WriteHandler receives the raw bytes a central wrote to the characteristic.
type WriteHandler func(central string, data []byte)

// ConnectHandler receives connect (connected=true) and disconnect events.
type ConnectHandler func(central string, connected bool)

// CharacteristicConfig describes the single characteristic of the service.
// Stacks attach the client characteristic configuration descriptor (0x2902)
// when Properties includes PropertyNotify.
type CharacteristicConfig struct {
	UUID         string
	Properties   Property
	WriteHandler WriteHandler
}

// ServiceConfig describes the GATT service added by Setup.
type ServiceConfig struct {
	UUID           string
	Characteristic CharacteristicConfig
}

// Connection interval hints advertised for broad central compatibility,
// in 1.25ms units.
const (
	DefaultMinPreferred uint16 = 0x06
	DefaultMaxPreferred uint16 = 0x12
)

// AdvertisingOptions configures the advertising payload.
type AdvertisingOptions struct {
	LocalName    string
	ServiceUUIDs []string
	Interval     time.Duration // 0 = stack default
	ScanResponse bool
	MinPreferred uint16 // preferred connection interval lower bound hint
	MaxPreferred uint16 // preferred connection interval upper bound hint
}

// CharacteristicHandle is the stack-owned characteristic created by AddService.
// The adapter references it for reads and notifications but never owns it.
type CharacteristicHandle interface {
	// SetValue replaces the value served to reads and sent by Notify.
	SetValue(value []byte)
	// Value returns the current value.
	Value() []byte
	// Notify pushes the current value to subscribed centrals.
	Notify() error
}

// Stack abstracts the vendor BLE stack for testing.
type Stack interface {
	// Enable powers on the radio under the given device name.
	Enable(deviceName string) error
	// SetConnectHandler registers the connect/disconnect event handler.
	SetConnectHandler(handler ConnectHandler)
	// AddService creates the service and its characteristic.
	AddService(svc ServiceConfig) (CharacteristicHandle, error)
	// ConfigureAdvertising sets the advertising payload.
	ConfigureAdvertising(opts AdvertisingOptions) error
	// StartAdvertising requests the radio to (re)start advertising.
	StartAdvertising() error
}
