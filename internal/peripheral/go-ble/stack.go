// Package goble implements peripheral.Stack on top of github.com/go-ble/ble.
//
// go-ble has no connect callback on the GATT server side: a central is
// registered on its first request and dropped when its Conn reports
// Disconnected.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/peripheral"
)

// Stack is a peripheral.Stack backed by a go-ble HCI device.
type Stack struct {
	logger *logrus.Logger
	ctx    context.Context

	dev     ble.Device
	onEvent peripheral.ConnectHandler

	centrals  *hashmap.Map[string, ble.Conn]
	notifiers *hashmap.Map[string, ble.Notifier]

	// connMu serializes connect handler calls; connected counts tracked centrals.
	connMu    sync.Mutex
	connected int

	advMu     sync.Mutex
	adv       peripheral.AdvertisingOptions
	advUUIDs  []ble.UUID
	advCancel context.CancelFunc
	advDone   chan struct{}
	advWG     sync.WaitGroup
}

var _ peripheral.Stack = (*Stack)(nil)

// NewStack creates a stack. The device is opened by Enable; advertising
// goroutines live until ctx is cancelled or Close is called.
func NewStack(ctx context.Context, logger *logrus.Logger) *Stack {
	if logger == nil {
		logger = logrus.New()
	}
	return &Stack{
		logger:    logger,
		ctx:       ctx,
		centrals:  hashmap.New[string, ble.Conn](),
		notifiers: hashmap.New[string, ble.Notifier](),
	}
}

func (s *Stack) Enable(deviceName string) error {
	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("go-ble: open device: %w", NormalizeError(err))
	}
	s.dev = dev
	s.logger.WithField("name", deviceName).Debug("HCI device opened")
	return nil
}

func (s *Stack) SetConnectHandler(handler peripheral.ConnectHandler) {
	s.onEvent = handler
}

func (s *Stack) AddService(cfg peripheral.ServiceConfig) (peripheral.CharacteristicHandle, error) {
	if s.dev == nil {
		return nil, peripheral.ErrNotInitialized
	}
	svcUUID, err := ble.Parse(cfg.UUID)
	if err != nil {
		return nil, fmt.Errorf("go-ble: parse service UUID: %w", err)
	}
	charUUID, err := ble.Parse(cfg.Characteristic.UUID)
	if err != nil {
		return nil, fmt.Errorf("go-ble: parse characteristic UUID: %w", err)
	}

	h := &handle{stack: s}
	svc := ble.NewService(svcUUID)
	c := svc.NewCharacteristic(charUUID)

	props := cfg.Characteristic.Properties
	if props&peripheral.PropertyRead != 0 {
		c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			s.track(req.Conn())
			if _, err := rsp.Write(h.Value()); err != nil {
				s.logger.WithError(err).Debug("Read response failed")
			}
		}))
	}
	if props&peripheral.PropertyWrite != 0 {
		onWrite := cfg.Characteristic.WriteHandler
		c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			central := s.track(req.Conn())
			if onWrite != nil {
				onWrite(central, req.Data())
			}
		}))
	}
	if props&peripheral.PropertyNotify != 0 {
		// Subscriptions arrive through the 0x2902 descriptor.
		c.HandleNotify(ble.NotifyHandlerFunc(s.serveNotify))
	}

	if err := s.dev.AddService(svc); err != nil {
		return nil, fmt.Errorf("go-ble: add service: %w", NormalizeError(err))
	}
	return h, nil
}

// serveNotify holds a subscription open until the central unsubscribes.
func (s *Stack) serveNotify(req ble.Request, n ble.Notifier) {
	central := s.track(req.Conn())
	s.notifiers.Set(central, n)
	s.logger.WithField("central", central).Debug("Central subscribed")

	<-n.Context().Done()

	s.notifiers.Del(central)
	s.logger.WithField("central", central).Debug("Central unsubscribed")
}

// track registers conn on first sight and watches for its disconnect. The
// connect handler reports the link as a whole: connected when the first
// central appears, disconnected only when the last one leaves.
func (s *Stack) track(conn ble.Conn) string {
	central := conn.RemoteAddr().String()
	if _, loaded := s.centrals.GetOrInsert(central, conn); loaded {
		return central
	}

	s.connMu.Lock()
	s.connected++
	if s.connected == 1 && s.onEvent != nil {
		s.onEvent(central, true)
	} else if s.connected > 1 {
		s.logger.WithFields(logrus.Fields{"central": central, "centrals": s.connected}).Debug("Additional central connected")
	}
	s.connMu.Unlock()

	groutine.Go(s.ctx, "goble-conn-"+central, func(ctx context.Context) {
		select {
		case <-conn.Disconnected():
		case <-ctx.Done():
			return
		}
		s.centrals.Del(central)
		s.notifiers.Del(central)

		s.connMu.Lock()
		defer s.connMu.Unlock()
		s.connected--
		if s.connected == 0 && s.onEvent != nil {
			s.onEvent(central, false)
		} else if s.connected > 0 {
			s.logger.WithFields(logrus.Fields{"central": central, "centrals": s.connected}).Debug("Central left, others still connected")
		}
	})
	return central
}

func (s *Stack) ConfigureAdvertising(opts peripheral.AdvertisingOptions) error {
	uuids := make([]ble.UUID, 0, len(opts.ServiceUUIDs))
	for _, u := range opts.ServiceUUIDs {
		parsed, err := ble.Parse(u)
		if err != nil {
			return fmt.Errorf("go-ble: parse advertised UUID: %w", err)
		}
		uuids = append(uuids, parsed)
	}

	if opts.Interval > 0 || opts.ScanResponse {
		s.logger.WithFields(logrus.Fields{
			"interval":      opts.Interval,
			"scan_response": opts.ScanResponse,
		}).Debug("Advertising interval and scan response are controller defaults on go-ble")
	}

	s.advMu.Lock()
	s.adv = opts
	s.advUUIDs = uuids
	s.advMu.Unlock()
	return nil
}

// StartAdvertising cancels any running advertisement and starts a new one.
func (s *Stack) StartAdvertising() error {
	if s.dev == nil {
		return peripheral.ErrNotInitialized
	}

	s.advMu.Lock()
	defer s.advMu.Unlock()

	s.stopAdvertisingLocked()

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.advCancel = cancel
	s.advDone = done

	name, uuids := s.adv.LocalName, s.advUUIDs
	groutine.GoWait(ctx, &s.advWG, "goble-advertise", func(ctx context.Context) {
		defer close(done)
		err := s.dev.AdvertiseNameAndServices(ctx, name, uuids...)
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			s.logger.WithError(NormalizeError(err)).Warn("Advertising stopped")
		}
	})
	return nil
}

func (s *Stack) stopAdvertisingLocked() {
	if s.advCancel == nil {
		return
	}
	s.advCancel()
	<-s.advDone
	s.advCancel = nil
	s.advDone = nil
}

// Close stops advertising and the HCI device.
func (s *Stack) Close() error {
	s.advMu.Lock()
	s.stopAdvertisingLocked()
	s.advMu.Unlock()
	s.advWG.Wait()

	if s.dev == nil {
		return nil
	}
	return s.dev.Stop()
}

// Centrals returns the addresses of the tracked centrals.
func (s *Stack) Centrals() []string {
	out := make([]string, 0, s.centrals.Len())
	s.centrals.Range(func(addr string, _ ble.Conn) bool {
		out = append(out, addr)
		return true
	})
	return out
}

type handle struct {
	stack *Stack

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

// Notify sends the value to every subscribed central. Centrals that never
// subscribed only see the value on their next read.
func (h *handle) Notify() error {
	value := h.Value()

	var errs []error
	h.stack.notifiers.Range(func(central string, n ble.Notifier) bool {
		if _, err := n.Write(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", central, err))
		}
		return true
	})
	if len(errs) > 0 {
		return NormalizeError(errors.Join(errs...))
	}
	return nil
}
