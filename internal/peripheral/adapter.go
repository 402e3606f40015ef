package peripheral

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Decoder is the command decoder collaborator that receives every non-empty
// characteristic write.
type Decoder interface {
	DecodeAndExecute(data []byte) error
}

// DecoderFunc adapts a plain function to the Decoder interface.
type DecoderFunc func(data []byte) error

// DecodeAndExecute calls f(data).
func (f DecoderFunc) DecodeAndExecute(data []byte) error {
	return f(data)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAdvertising overrides advertising parameters. LocalName and ServiceUUIDs
// are always taken from Setup arguments.
func WithAdvertising(opts AdvertisingOptions) Option {
	return func(a *Adapter) {
		a.advOpts = opts
	}
}

// WithJournal records adapter events into j.
func WithJournal(j *Journal) Option {
	return func(a *Adapter) {
		a.journal = j
	}
}

// Adapter is the BLE peripheral adapter: one service, one characteristic,
// a connection flag and a decoder hook.
//
// Stacks deliver callbacks from their own goroutines, so the connection flag
// and the characteristic handle are guarded by mu. The decoder is always
// invoked outside mu so it may call SendNotification.
type Adapter struct {
	stack   Stack
	decoder Decoder
	logger  *logrus.Logger
	journal *Journal
	advOpts AdvertisingOptions

	setupMu sync.Mutex // serializes Setup

	mu          sync.Mutex
	setup       bool
	connected   bool
	char        CharacteristicHandle
	deviceName  string
	serviceUUID string
	charUUID    string
}

// NewAdapter creates an adapter over stack. decoder may be nil, in which case
// writes are only logged.
func NewAdapter(stack Stack, decoder Decoder, logger *logrus.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}

	a := &Adapter{
		stack:   stack,
		decoder: decoder,
		logger:  logger,
		advOpts: AdvertisingOptions{
			MinPreferred: DefaultMinPreferred,
			MaxPreferred: DefaultMaxPreferred,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Setup initializes the stack under deviceName, creates the service with a
// read/write/notify characteristic, registers event handlers and starts
// advertising the service UUID. It must be called exactly once.
//
// If advertising fails to start, the adapter is still set up and the error is
// returned; a later CheckAndReadvertise retries the start.
func (a *Adapter) Setup(deviceName, serviceUUID, characteristicUUID string) error {
	a.setupMu.Lock()
	defer a.setupMu.Unlock()

	a.mu.Lock()
	done := a.setup
	a.mu.Unlock()
	if done {
		return ErrAlreadySetup
	}

	if deviceName == "" {
		return fmt.Errorf("setup: device name cannot be empty")
	}
	uuids, err := ValidateUUID(serviceUUID, characteristicUUID)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	svcUUID, charUUID := uuids[0], uuids[1]

	log := a.logger.WithFields(logrus.Fields{
		"name":           deviceName,
		"service":        svcUUID,
		"characteristic": charUUID,
	})

	if err := a.stack.Enable(deviceName); err != nil {
		return fmt.Errorf("setup: enable stack: %w", err)
	}
	a.stack.SetConnectHandler(a.handleConnect)

	handle, err := a.stack.AddService(ServiceConfig{
		UUID: svcUUID,
		Characteristic: CharacteristicConfig{
			UUID:         charUUID,
			Properties:   PropertyRead | PropertyWrite | PropertyNotify,
			WriteHandler: a.handleWrite,
		},
	})
	if err != nil {
		return fmt.Errorf("setup: add service %s: %w", svcUUID, err)
	}
	if handle == nil {
		return fmt.Errorf("setup: add service %s: %w", svcUUID, ErrNotInitialized)
	}

	adv := a.advOpts
	adv.LocalName = deviceName
	adv.ServiceUUIDs = []string{svcUUID}
	if err := a.stack.ConfigureAdvertising(adv); err != nil {
		return fmt.Errorf("setup: configure advertising: %w", err)
	}

	a.mu.Lock()
	a.char = handle
	a.setup = true
	a.deviceName = deviceName
	a.serviceUUID = svcUUID
	a.charUUID = charUUID
	a.mu.Unlock()

	if err := a.stack.StartAdvertising(); err != nil {
		return fmt.Errorf("setup: start advertising: %w", err)
	}
	a.journal.Record(EventAdvertise, "", nil)

	log.Info("BLE server is ready and advertising")
	return nil
}

// OnConnect marks a central as connected.
func (a *Adapter) OnConnect() {
	a.handleConnect("", true)
}

// OnDisconnect marks the central as gone and re-starts advertising so a new
// central can discover the peripheral.
func (a *Adapter) OnDisconnect() {
	a.handleConnect("", false)
}

// OnCharacteristicWrite forwards non-empty writes verbatim to the decoder.
// Empty writes are ignored.
func (a *Adapter) OnCharacteristicWrite(data []byte) {
	a.handleWrite("", data)
}

func (a *Adapter) handleConnect(central string, connected bool) {
	log := a.logger.WithField("central", central)

	a.mu.Lock()
	a.connected = connected
	ready := a.setup
	a.mu.Unlock()

	if connected {
		a.journal.Record(EventConnect, central, nil)
		log.Info("Client connected")
		return
	}

	a.journal.Record(EventDisconnect, central, nil)
	log.Info("Client disconnected")

	if !ready {
		log.Debug("Stack not set up, skipping re-advertise")
		return
	}
	if err := a.stack.StartAdvertising(); err != nil {
		log.WithError(err).Warn("Failed to restart advertising")
		return
	}
	a.journal.Record(EventAdvertise, "", nil)
	log.Info("Started advertising again")
}

func (a *Adapter) handleWrite(central string, data []byte) {
	if len(data) == 0 {
		a.logger.WithField("central", central).Debug("Ignoring empty write")
		return
	}

	value := make([]byte, len(data))
	copy(value, data)

	a.journal.Record(EventWrite, central, value)
	a.logger.WithFields(logrus.Fields{
		"central": central,
		"value":   string(value),
	}).Info("Received value")

	if a.decoder == nil {
		return
	}
	if err := a.decoder.DecodeAndExecute(value); err != nil {
		a.logger.WithError(err).WithField("value", string(value)).Warn("Command decoder failed")
	}
}

// CheckAndReadvertise re-issues an advertising start when no central is
// connected. It is safe to call repeatedly, e.g. from a polling timer.
// Returns ErrNotInitialized before Setup.
func (a *Adapter) CheckAndReadvertise() error {
	a.mu.Lock()
	ready, connected := a.setup, a.connected
	a.mu.Unlock()

	if !ready {
		return ErrNotInitialized
	}
	if connected {
		return nil
	}

	if err := a.stack.StartAdvertising(); err != nil {
		return fmt.Errorf("re-advertise: %w", err)
	}
	a.journal.Record(EventAdvertise, "", nil)
	a.logger.Debug("Re-advertising")
	return nil
}

// SendNotification sets the characteristic value to message and notifies the
// connected central. Returns ErrNotConnected, with no stack interaction,
// when no central is connected.
func (a *Adapter) SendNotification(message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		a.logger.WithField("value", message).Debug("Cannot send, no device connected")
		return ErrNotConnected
	}
	if a.char == nil {
		return ErrNotInitialized
	}

	a.char.SetValue([]byte(message))
	if err := a.char.Notify(); err != nil {
		return fmt.Errorf("notify: %w", NormalizeError(err))
	}

	a.journal.Record(EventNotify, "", []byte(message))
	a.logger.WithField("value", message).Debug("Sent value")
	return nil
}

// IsConnected reports whether a central is currently connected.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Journal returns the event journal, or nil if none was configured.
func (a *Adapter) Journal() *Journal {
	return a.journal
}

// Status is a point-in-time snapshot of the adapter.
type Status struct {
	Name           string `json:"name" yaml:"name"`
	Service        string `json:"service" yaml:"service"`
	Characteristic string `json:"characteristic" yaml:"characteristic"`
	Ready          bool   `json:"ready" yaml:"ready"`
	Connected      bool   `json:"connected" yaml:"connected"`
}

// Status returns a snapshot of the adapter state.
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Name:           a.deviceName,
		Service:        a.serviceUUID,
		Characteristic: a.charUUID,
		Ready:          a.setup,
		Connected:      a.connected,
	}
}
