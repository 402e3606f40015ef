package peripheral

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// EventKind identifies an adapter event recorded in the Journal.
type EventKind string

const (
	EventConnect    EventKind = "connect"
	EventDisconnect EventKind = "disconnect"
	EventWrite      EventKind = "write"
	EventNotify     EventKind = "notify"
	EventAdvertise  EventKind = "advertise"
)

// Event is a single journal record.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    EventKind `json:"kind"`
	Central string    `json:"central,omitempty"`
	Data    []byte    `json:"data,omitempty"`
}

// String renders the event for console and log output.
func (e Event) String() string {
	ts := e.Time.Format("15:04:05.000")
	switch {
	case len(e.Data) > 0 && e.Central != "":
		return fmt.Sprintf("%s %-10s %s %q", ts, e.Kind, e.Central, e.Data)
	case len(e.Data) > 0:
		return fmt.Sprintf("%s %-10s %q", ts, e.Kind, e.Data)
	case e.Central != "":
		return fmt.Sprintf("%s %-10s %s", ts, e.Kind, e.Central)
	default:
		return fmt.Sprintf("%s %s", ts, e.Kind)
	}
}

// DefaultJournalSize is the journal capacity used when none is configured.
const DefaultJournalSize uint32 = 256

// Journal is a bounded, overwrite-oldest history of adapter events.
// Producers (stack callbacks) and the consumer (the serve loop) may run
// on different goroutines. All methods are thread-safe.
type Journal struct {
	buffer      mpmc.RichOverlappedRingBuffer[Event]
	overwritten atomic.Uint64
	recorded    atomic.Uint64
}

// NewJournal creates a journal holding up to size events.
func NewJournal(size uint32) *Journal {
	if size == 0 {
		size = DefaultJournalSize
	}
	return &Journal{
		buffer: mpmc.NewOverlappedRingBuffer[Event](size),
	}
}

// Record appends an event, dropping the oldest one when full.
func (j *Journal) Record(kind EventKind, central string, data []byte) {
	if j == nil {
		return
	}
	ev := Event{Time: time.Now(), Kind: kind, Central: central}
	if len(data) > 0 {
		ev.Data = append([]byte(nil), data...)
	}
	overwrites, err := j.buffer.EnqueueM(ev)
	if err != nil {
		return
	}
	j.overwritten.Add(uint64(overwrites))
	j.recorded.Add(1)
}

// Drain removes and returns all buffered events, oldest first.
func (j *Journal) Drain() []Event {
	if j == nil {
		return nil
	}
	var events []Event
	for !j.buffer.IsEmpty() {
		ev, err := j.buffer.Dequeue()
		if err != nil {
			break
		}
		events = append(events, ev)
	}
	return events
}

// Recorded returns the total number of events ever recorded.
func (j *Journal) Recorded() uint64 {
	if j == nil {
		return 0
	}
	return j.recorded.Load()
}

// Overwritten returns how many events were dropped because the journal was full.
func (j *Journal) Overwritten() uint64 {
	if j == nil {
		return 0
	}
	return j.overwritten.Load()
}
