package peripheral_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/testutils"
)

const (
	testName        = "BLE-Sampler"
	testServiceUUID = "12345678-1234-1234-1234-123456789012"
	testCharUUID    = "87654321-4321-4321-4321-210987654321"
	testCentral     = "AA:BB:CC:DD:EE:FF"
)

// AdapterTestSuite runs every test against a freshly set-up adapter over a MockStack.
type AdapterTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	stack   *testutils.MockStack
	decoder *testutils.RecordingDecoder
	journal *peripheral.Journal
	adapter *peripheral.Adapter
}

func (s *AdapterTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.stack = testutils.NewMockStack()
	s.decoder = &testutils.RecordingDecoder{}
	s.journal = peripheral.NewJournal(64)
	s.adapter = peripheral.NewAdapter(s.stack, s.decoder, s.helper.Logger, peripheral.WithJournal(s.journal))
	s.Require().NoError(s.adapter.Setup(testName, testServiceUUID, testCharUUID))
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}

func (s *AdapterTestSuite) TestSetup_ConfiguresStack() {
	// GOAL: Verify Setup drives the stack in order and builds the expected GATT layout
	//
	// TEST SCENARIO: Setup → Enable, handler, service, advertising config, advertising start

	s.Equal([]string{"Enable", "SetConnectHandler", "AddService", "ConfigureAdvertising", "StartAdvertising"}, s.stack.Calls())
	s.Equal(testName, s.stack.Name())

	svc := s.stack.Service()
	s.Require().NotNil(svc)
	s.Equal(testServiceUUID, svc.UUID)
	s.Equal(testCharUUID, svc.Characteristic.UUID)
	s.Equal(peripheral.PropertyRead|peripheral.PropertyWrite|peripheral.PropertyNotify, svc.Characteristic.Properties)
	s.NotNil(svc.Characteristic.WriteHandler)

	adv := s.stack.Advertising()
	s.Equal(testName, adv.LocalName)
	s.Equal([]string{testServiceUUID}, adv.ServiceUUIDs)
	s.False(adv.ScanResponse)
	s.Equal(peripheral.DefaultMinPreferred, adv.MinPreferred)
	s.Equal(peripheral.DefaultMaxPreferred, adv.MaxPreferred)

	s.False(s.adapter.IsConnected())
	s.Equal(1, s.stack.AdvertiseCount())
}

func (s *AdapterTestSuite) TestSetup_SecondCallRejected() {
	err := s.adapter.Setup(testName, testServiceUUID, testCharUUID)

	s.ErrorIs(err, peripheral.ErrAlreadySetup)
	s.Equal(1, s.stack.AdvertiseCount())
}

func (s *AdapterTestSuite) TestConnectionState_FollowsMostRecentEvent() {
	// GOAL: Verify ConnectionState is true iff the most recent event was a connect
	//
	// TEST SCENARIO: Apply an event sequence → after each event state matches the event

	events := []bool{true, false, false, true, true, false, true}
	for i, connected := range events {
		if connected {
			s.stack.SimulateConnect(testCentral)
		} else {
			s.stack.SimulateDisconnect(testCentral)
		}
		s.Equal(connected, s.adapter.IsConnected(), "after event %d", i)
	}
}

func (s *AdapterTestSuite) TestDisconnect_ReadvertisesExactlyOnce() {
	// GOAL: Verify each disconnect issues exactly one advertising start
	//
	// TEST SCENARIO: connect → disconnect → one extra start; repeat → one more

	before := s.stack.AdvertiseCount()

	s.stack.SimulateConnect(testCentral)
	s.Equal(before, s.stack.AdvertiseCount(), "connect must not advertise")

	s.stack.SimulateDisconnect(testCentral)
	s.Equal(before+1, s.stack.AdvertiseCount())

	s.stack.SimulateConnect(testCentral)
	s.stack.SimulateDisconnect(testCentral)
	s.Equal(before+2, s.stack.AdvertiseCount())
}

func (s *AdapterTestSuite) TestDisconnect_AdvertiseErrorIsSwallowed() {
	s.stack.SimulateConnect(testCentral)
	s.stack.AdvertiseErr = errors.New("radio busy")

	s.NotPanics(func() { s.stack.SimulateDisconnect(testCentral) })
	s.False(s.adapter.IsConnected())
}

func (s *AdapterTestSuite) TestCheckAndReadvertise() {
	// GOAL: Verify CheckAndReadvertise advertises iff disconnected
	//
	// TEST SCENARIO: disconnected → +1 per call; connected → no stack call

	before := s.stack.AdvertiseCount()

	s.NoError(s.adapter.CheckAndReadvertise())
	s.NoError(s.adapter.CheckAndReadvertise())
	s.Equal(before+2, s.stack.AdvertiseCount())

	s.stack.SimulateConnect(testCentral)
	s.NoError(s.adapter.CheckAndReadvertise())
	s.Equal(before+2, s.stack.AdvertiseCount())
}

func (s *AdapterTestSuite) TestCheckAndReadvertise_PropagatesStackError() {
	s.stack.AdvertiseErr = errors.New("radio busy")

	err := s.adapter.CheckAndReadvertise()

	s.Error(err)
	s.Contains(err.Error(), "radio busy")
}

func (s *AdapterTestSuite) TestSendNotification_Connected() {
	s.stack.SimulateConnect(testCentral)

	s.Require().NoError(s.adapter.SendNotification("status:idle"))

	s.Equal([]byte("status:idle"), s.stack.Handle.Value())
	s.Equal([][]byte{[]byte("status:idle")}, s.stack.Handle.Notifications())
}

func (s *AdapterTestSuite) TestSendNotification_NotConnected() {
	// GOAL: Verify notifying without a central reports NotConnected and leaves the stack alone
	//
	// TEST SCENARIO: no connection → SendNotification → ErrNotConnected, no SetValue, no notify

	callsBefore := len(s.stack.Calls())

	err := s.adapter.SendNotification("hi")

	s.ErrorIs(err, peripheral.ErrNotConnected)
	s.True(peripheral.IsConnectionState(err, peripheral.NotConnected))
	s.Equal(0, s.stack.Handle.SetValueCalls())
	s.Empty(s.stack.Handle.Notifications())
	s.Len(s.stack.Calls(), callsBefore)
	s.Empty(s.decoder.Calls())
}

func (s *AdapterTestSuite) TestSendNotification_AfterDisconnect() {
	s.stack.SimulateConnect(testCentral)
	s.stack.SimulateDisconnect(testCentral)

	s.ErrorIs(s.adapter.SendNotification("late"), peripheral.ErrNotConnected)
}

func (s *AdapterTestSuite) TestSendNotification_NotifyErrorNormalized() {
	s.stack.SimulateConnect(testCentral)
	s.stack.Handle.NotifyErr = errors.New("device not connected")

	err := s.adapter.SendNotification("x")

	s.ErrorIs(err, peripheral.ErrNotConnected)
}

func (s *AdapterTestSuite) TestWrite_ForwardsExactBytesOnce() {
	s.stack.SimulateWrite(testCentral, []byte{0x00, 'L', 0xff})

	s.Equal([][]byte{{0x00, 'L', 0xff}}, s.decoder.Calls())
}

func (s *AdapterTestSuite) TestWrite_EmptyIgnored() {
	s.stack.SimulateWrite(testCentral, nil)
	s.stack.SimulateWrite(testCentral, []byte{})

	s.Empty(s.decoder.Calls())
}

func (s *AdapterTestSuite) TestWrite_DecoderErrorDoesNotPropagate() {
	s.decoder.Err = errors.New("unknown command")

	s.NotPanics(func() { s.stack.SimulateWrite(testCentral, []byte("bogus")) })
	s.Len(s.decoder.Calls(), 1)
}

func (s *AdapterTestSuite) TestWrite_DecoderMayNotifyBack() {
	// GOAL: Verify the decoder runs outside the adapter lock
	//
	// TEST SCENARIO: decoder calls SendNotification from within the write callback → no deadlock

	stack := testutils.NewMockStack()
	var echo *peripheral.Adapter
	echo = peripheral.NewAdapter(stack, peripheral.DecoderFunc(func(data []byte) error {
		return echo.SendNotification("ack:" + string(data))
	}), s.helper.Logger)
	s.Require().NoError(echo.Setup(testName, testServiceUUID, testCharUUID))

	stack.SimulateConnect(testCentral)
	stack.SimulateWrite(testCentral, []byte("ping"))

	s.Equal([][]byte{[]byte("ack:ping")}, stack.Handle.Notifications())
}

func (s *AdapterTestSuite) TestScenario_ConnectWriteLEDOn() {
	s.stack.SimulateConnect(testCentral)
	s.stack.SimulateWrite(testCentral, []byte("LED_ON"))

	s.Equal([][]byte{[]byte("LED_ON")}, s.decoder.Calls())
}

func (s *AdapterTestSuite) TestScenario_ConnectDisconnectCheck() {
	// GOAL: connect → disconnect → check issues two advertising starts beyond Setup's
	before := s.stack.AdvertiseCount()

	s.stack.SimulateConnect(testCentral)
	s.stack.SimulateDisconnect(testCentral)
	s.Require().NoError(s.adapter.CheckAndReadvertise())

	s.Equal(before+2, s.stack.AdvertiseCount())
}

func (s *AdapterTestSuite) TestJournal_RecordsEvents() {
	s.journal.Drain() // drop setup's advertise event

	s.stack.SimulateConnect(testCentral)
	s.stack.SimulateWrite(testCentral, []byte("abort"))
	s.Require().NoError(s.adapter.SendNotification("aborted"))
	s.stack.SimulateDisconnect(testCentral)

	var kinds []peripheral.EventKind
	for _, ev := range s.journal.Drain() {
		kinds = append(kinds, ev.Kind)
	}
	s.Equal([]peripheral.EventKind{
		peripheral.EventConnect,
		peripheral.EventWrite,
		peripheral.EventNotify,
		peripheral.EventDisconnect,
		peripheral.EventAdvertise,
	}, kinds)
}

func (s *AdapterTestSuite) TestStatus() {
	s.stack.SimulateConnect(testCentral)

	st := s.adapter.Status()

	s.Equal(peripheral.Status{
		Name:           testName,
		Service:        testServiceUUID,
		Characteristic: testCharUUID,
		Ready:          true,
		Connected:      true,
	}, st)
}

func TestAdapter_NotificationBeforeSetup(t *testing.T) {
	stack := testutils.NewMockStack()
	adapter := peripheral.NewAdapter(stack, nil, nil)

	// No central yet: NotConnected wins.
	assert.ErrorIs(t, adapter.SendNotification("hi"), peripheral.ErrNotConnected)

	// A connect before Setup cannot reach a characteristic handle.
	adapter.OnConnect()
	assert.ErrorIs(t, adapter.SendNotification("hi"), peripheral.ErrNotInitialized)
	assert.Empty(t, stack.Calls())
}

func TestAdapter_CheckBeforeSetup(t *testing.T) {
	stack := testutils.NewMockStack()
	adapter := peripheral.NewAdapter(stack, nil, nil)

	assert.ErrorIs(t, adapter.CheckAndReadvertise(), peripheral.ErrNotInitialized)
	adapter.OnDisconnect()
	assert.Equal(t, 0, stack.AdvertiseCount())
}

func TestAdapter_ExportedEventHandlers(t *testing.T) {
	stack := testutils.NewMockStack()
	decoder := &testutils.RecordingDecoder{}
	adapter := peripheral.NewAdapter(stack, decoder, logrus.New())
	require.NoError(t, adapter.Setup(testName, "180d", "2a37"))

	adapter.OnConnect()
	assert.True(t, adapter.IsConnected())

	adapter.OnCharacteristicWrite([]byte("sampleBag"))
	adapter.OnCharacteristicWrite(nil)
	assert.Equal(t, [][]byte{[]byte("sampleBag")}, decoder.Calls())

	adapter.OnDisconnect()
	assert.False(t, adapter.IsConnected())
	assert.Equal(t, 2, stack.AdvertiseCount())

	svc := stack.Service()
	require.NotNil(t, svc)
	assert.Equal(t, "0000180d-0000-1000-8000-00805f9b34fb", svc.UUID)
	assert.Equal(t, "00002a37-0000-1000-8000-00805f9b34fb", svc.Characteristic.UUID)
}

func TestAdapter_SetupFailures(t *testing.T) {
	tests := []struct {
		name      string
		devName   string
		service   string
		char      string
		configure func(*testutils.MockStack)
		wantErr   string
		wantIs    error
	}{
		{
			name:    "empty device name",
			devName: "",
			service: testServiceUUID,
			char:    testCharUUID,
			wantErr: "device name cannot be empty",
		},
		{
			name:    "malformed service UUID",
			devName: testName,
			service: "not-a-uuid",
			char:    testCharUUID,
			wantIs:  peripheral.ErrInvalidUUID,
		},
		{
			name:    "empty characteristic UUID",
			devName: testName,
			service: testServiceUUID,
			char:    "",
			wantIs:  peripheral.ErrInvalidUUID,
		},
		{
			name:      "stack enable fails",
			devName:   testName,
			service:   testServiceUUID,
			char:      testCharUUID,
			configure: func(m *testutils.MockStack) { m.EnableErr = errors.New("radio unavailable") },
			wantErr:   "enable stack: radio unavailable",
		},
		{
			name:      "add service fails",
			devName:   testName,
			service:   testServiceUUID,
			char:      testCharUUID,
			configure: func(m *testutils.MockStack) { m.AddServiceErr = errors.New("no space") },
			wantErr:   "add service",
		},
		{
			name:      "configure advertising fails",
			devName:   testName,
			service:   testServiceUUID,
			char:      testCharUUID,
			configure: func(m *testutils.MockStack) { m.ConfigureErr = errors.New("payload too long") },
			wantErr:   "configure advertising",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := testutils.NewMockStack()
			if tt.configure != nil {
				tt.configure(stack)
			}
			adapter := peripheral.NewAdapter(stack, nil, nil)

			err := adapter.Setup(tt.devName, tt.service, tt.char)

			require.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.False(t, adapter.Status().Ready)
		})
	}
}

func TestAdapter_SetupAdvertiseFailureLeavesAdapterReady(t *testing.T) {
	stack := testutils.NewMockStack()
	stack.AdvertiseErr = errors.New("busy")
	adapter := peripheral.NewAdapter(stack, nil, nil)

	err := adapter.Setup(testName, testServiceUUID, testCharUUID)

	require.Error(t, err)
	assert.True(t, adapter.Status().Ready)

	stack.AdvertiseErr = nil
	assert.NoError(t, adapter.CheckAndReadvertise())
}

func TestAdapter_WithAdvertising(t *testing.T) {
	stack := testutils.NewMockStack()
	adapter := peripheral.NewAdapter(stack, nil, nil, peripheral.WithAdvertising(peripheral.AdvertisingOptions{
		LocalName:    "ignored",
		ServiceUUIDs: []string{"ignored"},
		ScanResponse: true,
		MinPreferred: 0x10,
		MaxPreferred: 0x20,
	}))
	require.NoError(t, adapter.Setup(testName, testServiceUUID, testCharUUID))

	adv := stack.Advertising()
	assert.Equal(t, testName, adv.LocalName)
	assert.Equal(t, []string{testServiceUUID}, adv.ServiceUUIDs)
	assert.True(t, adv.ScanResponse)
	assert.Equal(t, uint16(0x10), adv.MinPreferred)
	assert.Equal(t, uint16(0x20), adv.MaxPreferred)
}
