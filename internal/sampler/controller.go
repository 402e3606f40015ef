package sampler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blimp/internal/groutine"
)

var (
	// ErrBusy is returned when a sequence is already running.
	ErrBusy = errors.New("sampler busy")
	// ErrUnknownValve is returned for a valve name outside Valves.
	ErrUnknownValve = errors.New("unknown valve")
	// ErrUnknownParameter is returned for a parameter name the controller does not know.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrInvalidParameter is returned for an out-of-range parameter value.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Reporter receives human-readable status updates, e.g. "purgeBag:cycle 2/3".
// It may be called with the controller lock held and must not call back into
// the controller.
type Reporter func(status string)

// Controller runs the bag sampling sequences. At most one sequence runs at a
// time; sequences run in their own goroutine and stop on Abort or when the
// controller's context ends. Valves are always closed when a sequence stops.
type Controller struct {
	ctx    context.Context
	driver ValveDriver
	report Reporter
	logger *logrus.Logger

	mu      sync.Mutex
	params  Parameters
	running string
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewController creates a controller. report may be nil.
func NewController(ctx context.Context, driver ValveDriver, params Parameters, report Reporter, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if driver == nil {
		driver = NewLogDriver(logger)
	}
	if report == nil {
		report = func(string) {}
	}
	return &Controller{
		ctx:    ctx,
		driver: driver,
		report: report,
		logger: logger,
		params: params,
	}
}

// SampleBag opens the sampling valve for SamplingTime.
func (c *Controller) SampleBag() error {
	return c.start("sampleBag", func(ctx context.Context, p Parameters) error {
		return c.hold(ctx, Sampling, p.SamplingTime)
	})
}

// PurgeBag runs NumPurgeCycles of air fill followed by vacuum evacuation.
func (c *Controller) PurgeBag() error {
	return c.start("purgeBag", c.purge)
}

// SampleAndPurgeBag purges, pre-fills for FillingTime, then samples.
func (c *Controller) SampleAndPurgeBag() error {
	return c.start("sampleAndPurgeBag", func(ctx context.Context, p Parameters) error {
		if err := c.purge(ctx, p); err != nil {
			return err
		}
		c.report("sampleAndPurgeBag:filling")
		if err := c.hold(ctx, Sampling, p.FillingTime); err != nil {
			return err
		}
		c.report("sampleAndPurgeBag:sampling")
		return c.hold(ctx, Sampling, p.SamplingTime)
	})
}

func (c *Controller) purge(ctx context.Context, p Parameters) error {
	for i := 1; i <= p.NumPurgeCycles; i++ {
		c.report(fmt.Sprintf("purgeBag:cycle %d/%d", i, p.NumPurgeCycles))
		if err := c.hold(ctx, Air, p.PurgeFillTime); err != nil {
			return err
		}
		if err := c.hold(ctx, Vacuum, p.PurgeFillTime); err != nil {
			return err
		}
	}
	return nil
}

// hold opens valve for d, closing it again even when ctx ends first.
func (c *Controller) hold(ctx context.Context, valve Valve, d time.Duration) error {
	if err := c.driver.Set(valve, true); err != nil {
		return fmt.Errorf("open %s valve: %w", valve, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	var waitErr error
	select {
	case <-timer.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if err := c.driver.Set(valve, false); err != nil {
		return errors.Join(waitErr, fmt.Errorf("close %s valve: %w", valve, err))
	}
	return waitErr
}

func (c *Controller) start(name string, seq func(ctx context.Context, p Parameters) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running != "" {
		return fmt.Errorf("%w: %s is running", ErrBusy, c.running)
	}

	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.running = name
	c.cancel = cancel
	c.done = done
	params := c.params

	log := c.logger.WithField("sequence", name)
	log.Info("Sequence started")
	c.report(name + ":started")

	groutine.GoWait(ctx, &c.wg, "sampler-"+name, func(ctx context.Context) {
		defer close(done)
		err := seq(ctx, params)

		c.mu.Lock()
		if c.done == done {
			c.running = ""
			c.cancel = nil
			c.done = nil
		}
		c.mu.Unlock()
		cancel()

		switch {
		case err == nil:
			log.Info("Sequence finished")
			c.report(name + ":done")
		case errors.Is(err, context.Canceled):
			log.Info("Sequence aborted")
			c.report(name + ":aborted")
		default:
			log.WithError(err).Warn("Sequence failed")
			c.report(name + ":error " + err.Error())
		}
	})
	return nil
}

// Abort stops any running sequence and closes every valve.
func (c *Controller) Abort() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if err := c.closeAll(); err != nil {
		return err
	}
	c.report("abort:done")
	return nil
}

// SetValve switches a single valve. Rejected while a sequence runs.
func (c *Controller) SetValve(name string, open bool) error {
	valve, err := ParseValve(name)
	if err != nil {
		return err
	}
	if err := c.idle(); err != nil {
		return err
	}
	if err := c.driver.Set(valve, open); err != nil {
		return fmt.Errorf("set %s valve: %w", valve, err)
	}

	state := "closed"
	if open {
		state = "open"
	}
	c.report(fmt.Sprintf("%sValve:%s", valve, state))
	return nil
}

// CloseAllValves closes every valve. Rejected while a sequence runs.
func (c *Controller) CloseAllValves() error {
	if err := c.idle(); err != nil {
		return err
	}
	if err := c.closeAll(); err != nil {
		return err
	}
	c.report("allValves:closed")
	return nil
}

func (c *Controller) closeAll() error {
	var errs []error
	for _, v := range Valves {
		if err := c.driver.Set(v, false); err != nil {
			errs = append(errs, fmt.Errorf("close %s valve: %w", v, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) idle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running != "" {
		return fmt.Errorf("%w: %s is running", ErrBusy, c.running)
	}
	return nil
}

// SetParameter updates a timing parameter from its wire value. A running
// sequence keeps the parameters it started with.
func (c *Controller) SetParameter(name string, value int) error {
	c.mu.Lock()
	err := c.params.apply(name, value)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{"parameter": name, "value": value}).Info("Parameter updated")
	c.report(name + ":" + strconv.Itoa(value))
	return nil
}

// Parameters returns the current timings.
func (c *Controller) Parameters() Parameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Running returns the name of the running sequence, or "".
func (c *Controller) Running() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Wait blocks until every sequence goroutine has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}
