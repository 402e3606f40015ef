package sampler

import (
	"fmt"
	"time"
)

// Parameters are the sequence timings. Centrals update them with the
// samplingTime/fillingTime/purgeFillTime (milliseconds) and numPurgeCycles commands.
type Parameters struct {
	SamplingTime   time.Duration `yaml:"sampling_time" json:"sampling_time" default:"5s"`
	FillingTime    time.Duration `yaml:"filling_time" json:"filling_time" default:"5s"`
	PurgeFillTime  time.Duration `yaml:"purge_fill_time" json:"purge_fill_time" default:"3s"`
	NumPurgeCycles int           `yaml:"num_purge_cycles" json:"num_purge_cycles" default:"3"`
}

// DefaultParameters returns the factory timings.
func DefaultParameters() Parameters {
	return Parameters{
		SamplingTime:   5 * time.Second,
		FillingTime:    5 * time.Second,
		PurgeFillTime:  3 * time.Second,
		NumPurgeCycles: 3,
	}
}

// MaxPurgeCycles bounds numPurgeCycles.
const MaxPurgeCycles = 100

func (p Parameters) Validate() error {
	if p.SamplingTime < 0 || p.FillingTime < 0 || p.PurgeFillTime < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidParameter)
	}
	if p.NumPurgeCycles < 0 || p.NumPurgeCycles > MaxPurgeCycles {
		return fmt.Errorf("%w: num_purge_cycles must be within 0..%d", ErrInvalidParameter, MaxPurgeCycles)
	}
	return nil
}

// apply sets the named parameter from its wire value.
func (p *Parameters) apply(name string, value int) error {
	if value < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidParameter, name)
	}
	ms := time.Duration(value) * time.Millisecond
	switch name {
	case "samplingTime":
		p.SamplingTime = ms
	case "fillingTime":
		p.FillingTime = ms
	case "purgeFillTime":
		p.PurgeFillTime = ms
	case "numPurgeCycles":
		if value > MaxPurgeCycles {
			return fmt.Errorf("%w: numPurgeCycles must be at most %d", ErrInvalidParameter, MaxPurgeCycles)
		}
		p.NumPurgeCycles = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return nil
}
