package decoder

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Dispatcher parses writes and runs the matching registry handler.
type Dispatcher struct {
	registry *Registry
	logger   *logrus.Logger
}

func NewDispatcher(registry *Registry, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// DecodeAndExecute implements peripheral.Decoder.
func (d *Dispatcher) DecodeAndExecute(data []byte) error {
	cmd, err := Parse(data)
	if err != nil {
		return err
	}
	return d.Execute(cmd)
}

// Execute runs an already parsed command.
func (d *Dispatcher) Execute(cmd Command) error {
	spec, ok := d.registry.Lookup(cmd.Name)
	if !ok {
		return &CommandError{Command: cmd.String(), Err: ErrUnknownCommand}
	}

	switch {
	case spec.Kind == Parameter && !cmd.HasArg:
		return &CommandError{Command: cmd.String(), Err: fmt.Errorf("%w: %s expects a value", ErrInvalidArgument, spec.Usage())}
	case spec.Kind == Action && cmd.HasArg:
		return &CommandError{Command: cmd.String(), Err: fmt.Errorf("%w: %s takes no value", ErrInvalidArgument, spec.Name)}
	}

	d.logger.WithFields(logrus.Fields{
		"command": spec.Name,
		"kind":    spec.Kind.String(),
	}).Debug("Dispatching command")

	if err := spec.Handler(cmd.Arg); err != nil {
		return &CommandError{Command: cmd.String(), Err: err}
	}
	return nil
}
