package sampler

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Valve names a solenoid valve on the sampling rig.
type Valve string

const (
	Air      Valve = "air"
	Vacuum   Valve = "vacuum"
	Sampling Valve = "sampling"
)

// Valves lists every valve in the order they are closed by CloseAll.
var Valves = []Valve{Air, Vacuum, Sampling}

// ParseValve accepts a valve name.
func ParseValve(name string) (Valve, error) {
	for _, v := range Valves {
		if string(v) == name {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownValve, name)
}

// ValveDriver switches physical valves.
type ValveDriver interface {
	Set(valve Valve, open bool) error
}

// LogDriver is a ValveDriver that only logs and remembers valve states.
// It is used when no hardware driver is wired in.
type LogDriver struct {
	logger *logrus.Logger

	mu    sync.Mutex
	state map[Valve]bool
	sets  int
}

func NewLogDriver(logger *logrus.Logger) *LogDriver {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogDriver{logger: logger, state: make(map[Valve]bool)}
}

func (d *LogDriver) Set(valve Valve, open bool) error {
	d.mu.Lock()
	d.state[valve] = open
	d.sets++
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"valve": valve,
		"open":  open,
	}).Debug("Valve switched")
	return nil
}

// IsOpen reports the last state set for valve.
func (d *LogDriver) IsOpen(valve Valve) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state[valve]
}

// Sets returns how many Set calls were made.
func (d *LogDriver) Sets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sets
}
