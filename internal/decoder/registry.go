package decoder

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind distinguishes bare actions from integer parameters.
type Kind int

const (
	Action Kind = iota
	Parameter
)

func (k Kind) String() string {
	if k == Parameter {
		return "parameter"
	}
	return "action"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Handler executes a command. arg is zero for actions.
type Handler func(arg int) error

// Spec describes one registered command.
type Spec struct {
	Name    string  `json:"name" yaml:"name"`
	Kind    Kind    `json:"kind" yaml:"kind"`
	Unit    string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	Help    string  `json:"help" yaml:"help"`
	Handler Handler `json:"-" yaml:"-"`
}

// Usage renders the wire form, e.g. "samplingTime<ms>".
func (s Spec) Usage() string {
	if s.Kind != Parameter {
		return s.Name
	}
	unit := s.Unit
	if unit == "" {
		unit = "n"
	}
	return fmt.Sprintf("%s<%s>", s.Name, unit)
}

// Registry is the insertion-ordered command catalog.
type Registry struct {
	specs *orderedmap.OrderedMap[string, Spec]
}

func NewRegistry() *Registry {
	return &Registry{specs: orderedmap.New[string, Spec]()}
}

// Register adds spec; names must be unique.
func (r *Registry) Register(spec Spec) error {
	if !isName(spec.Name) {
		return fmt.Errorf("invalid command name %q", spec.Name)
	}
	if spec.Handler == nil {
		return fmt.Errorf("command %q has no handler", spec.Name)
	}
	if _, exists := r.specs.Get(spec.Name); exists {
		return fmt.Errorf("command %q already registered", spec.Name)
	}
	r.specs.Set(spec.Name, spec)
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	return r.specs.Get(name)
}

func (r *Registry) Len() int {
	return r.specs.Len()
}

// Specs returns the catalog in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, r.specs.Len())
	for pair := r.specs.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Target is what the default command set drives.
type Target interface {
	SampleBag() error
	PurgeBag() error
	SampleAndPurgeBag() error
	Abort() error
	SetValve(valve string, open bool) error
	CloseAllValves() error
	SetParameter(name string, value int) error
}

// DefaultRegistry registers the sampler command set against target. target is
// only used when a handler runs, so a nil target yields a listing-only catalog.
func DefaultRegistry(target Target) *Registry {
	r := NewRegistry()

	action := func(name, help string, fn func(Target) error) {
		r.MustRegister(Spec{Name: name, Kind: Action, Help: help, Handler: func(int) error { return fn(target) }})
	}
	valve := func(name, valve string, open bool) {
		verb := "Close"
		if open {
			verb = "Open"
		}
		action(name, fmt.Sprintf("%s the %s valve", verb, valve), func(t Target) error {
			return t.SetValve(valve, open)
		})
	}
	param := func(name, unit, help string) {
		r.MustRegister(Spec{Name: name, Kind: Parameter, Unit: unit, Help: help, Handler: func(arg int) error {
			return target.SetParameter(name, arg)
		}})
	}

	action("sampleBag", "Fill the bag through the sampling valve", Target.SampleBag)
	action("purgeBag", "Run the air/vacuum purge cycles", Target.PurgeBag)
	action("sampleAndPurgeBag", "Purge, pre-fill, then sample", Target.SampleAndPurgeBag)
	action("abort", "Stop the running sequence and close all valves", Target.Abort)

	valve("openAirValve", "air", true)
	valve("closeAirValve", "air", false)
	valve("openVacuumValve", "vacuum", true)
	valve("closeVacuumValve", "vacuum", false)
	valve("openSamplingValve", "sampling", true)
	valve("closeSamplingValve", "sampling", false)
	action("closeAllValves", "Close every valve", Target.CloseAllValves)

	param("samplingTime", "ms", "Sampling valve open time")
	param("fillingTime", "ms", "Pre-fill time before sampling")
	param("purgeFillTime", "ms", "Air and vacuum time per purge cycle")
	param("numPurgeCycles", "n", "Number of purge cycles")

	return r
}
