package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/srg/blimp"
	"github.com/srg/blimp/internal/console"
	"github.com/srg/blimp/internal/decoder"
	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/sampler"
	"github.com/srg/blimp/internal/stackfactory"
	"github.com/srg/blimp/pkg/config"
)

// journalInterval is how often adapter events are echoed to the log and console.
const journalInterval = 250 * time.Millisecond

// server wires the stack, adapter, decoder, sampler and console for serve.
type server struct {
	ctx    context.Context
	cfg    *config.Config
	logger *logrus.Logger

	stackCloser io.Closer
	journal     *peripheral.Journal
	controller  *sampler.Controller
	registry    *decoder.Registry
	lua         *decoder.LuaDecoder
	adapter     *peripheral.Adapter

	outMu   sync.Mutex
	out     io.Writer
	console *console.Console
}

func newServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger, out io.Writer) (*server, error) {
	stack, closer, err := stackfactory.StackFactory(ctx, cfg.Stack.Backend, logger)
	if err != nil {
		return nil, err
	}

	s := &server{
		ctx:         ctx,
		cfg:         cfg,
		logger:      logger,
		out:         out,
		stackCloser: closer,
		journal:     peripheral.NewJournal(cfg.JournalSize),
	}
	s.controller = sampler.NewController(ctx, sampler.NewLogDriver(logger), cfg.Sampler, s.report, logger)
	s.registry = decoder.DefaultRegistry(s.controller)
	dispatcher := decoder.NewDispatcher(s.registry, logger)

	var dec peripheral.Decoder = dispatcher
	if cfg.Decoder.Kind == config.DecoderLua {
		s.lua, err = s.loadLua(dispatcher)
		if err != nil {
			_ = closer.Close()
			return nil, err
		}
		dec = s.lua
	}

	s.adapter = peripheral.NewAdapter(stack, dec, logger,
		peripheral.WithAdvertising(cfg.Stack.Advertising()),
		peripheral.WithJournal(s.journal),
	)
	return s, nil
}

func (s *server) loadLua(fallback *decoder.Dispatcher) (*decoder.LuaDecoder, error) {
	if path := s.cfg.Decoder.Script; path != "" {
		s.logger.WithField("file", path).Info("Loading custom Lua decoder")
		return decoder.LoadLuaDecoder(path, fallback, s.notify, s.logger)
	}
	s.logger.Info("Using default Lua decoder")
	return decoder.NewLuaDecoder(blimp.DefaultDecoderScript, "decoder.lua", fallback, s.notify, s.logger)
}

// Start sets up the adapter and opens the console. An advertising start
// failure is not fatal: the poll loop retries it.
func (s *server) Start() error {
	d := s.cfg.Device
	if err := s.adapter.Setup(d.Name, d.ServiceUUID, d.CharacteristicUUID); err != nil {
		if !s.adapter.Status().Ready {
			return err
		}
		s.logger.WithError(err).Warn("Advertising did not start, will retry")
	}

	if s.cfg.Console.Enabled {
		con, err := console.Open(s.ctx, console.Options{
			WriteCap: s.cfg.Console.WriteCapacity,
			Logger:   s.logger,
			OnLine:   s.handleLine,
		})
		if err != nil {
			return err
		}
		s.outMu.Lock()
		s.console = con
		s.outMu.Unlock()
	}

	s.printBanner()
	return nil
}

// Run re-advertises every readvertise_interval and echoes the journal until
// ctx is done.
func (s *server) Run(ctx context.Context) {
	var wg sync.WaitGroup
	groutine.GoWait(ctx, &wg, "readvertise-poll", s.pollLoop)
	wg.Wait()
	s.drainJournal()
}

func (s *server) pollLoop(ctx context.Context) {
	readvertise := time.NewTicker(s.cfg.ReadvertiseInterval)
	defer readvertise.Stop()
	journal := time.NewTicker(journalInterval)
	defer journal.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readvertise.C:
			if err := s.adapter.CheckAndReadvertise(); err != nil {
				s.logger.WithError(err).Warn("Re-advertising failed")
			}
		case <-journal.C:
			s.drainJournal()
		}
	}
}

// Close stops the sampler and releases the console, Lua state and stack.
func (s *server) Close() error {
	var errs []error
	if s.controller.Running() != "" {
		errs = append(errs, s.controller.Abort())
	}
	s.controller.Wait()
	if s.lua != nil {
		s.lua.Close()
	}

	s.outMu.Lock()
	con := s.console
	s.console = nil
	s.outMu.Unlock()
	if con != nil {
		errs = append(errs, con.Close())
	}
	errs = append(errs, s.stackCloser.Close())
	return errors.Join(errs...)
}

// report forwards sampler status to the central. Dropped when nobody listens.
func (s *server) report(status string) {
	if err := s.notify(status); err != nil {
		if peripheral.IsConnectionState(err, peripheral.NotConnected) {
			s.logger.WithField("status", status).Debug("No central connected, status not sent")
			return
		}
		s.logger.WithError(err).WithField("status", status).Warn("Failed to send status")
	}
}

func (s *server) notify(text string) error {
	if s.adapter == nil {
		return peripheral.ErrNotInitialized
	}
	return s.adapter.SendNotification(text)
}

// handleLine runs one console line: ":" prefixed lines are local commands,
// anything else is sent to the central.
func (s *server) handleLine(line string) {
	switch line {
	case ":status":
		s.printStatus()
		return
	case ":commands":
		var b strings.Builder
		_ = writeCommandsTable(&b, s.registry.Specs())
		s.printf("%s", b.String())
		return
	}
	if strings.HasPrefix(line, ":") {
		s.printf("unknown console command %q (try :status or :commands)\n", line)
		return
	}

	if err := s.notify(line); err != nil {
		if peripheral.IsConnectionState(err, peripheral.NotConnected) {
			s.printf("not sent: no central connected\n")
			return
		}
		s.printf("not sent: %v\n", err)
		return
	}
	s.printf("sent %q\n", line)
}

func (s *server) drainJournal() {
	for _, ev := range s.journal.Drain() {
		s.logger.WithFields(logrus.Fields{
			"kind":    ev.Kind,
			"central": ev.Central,
		}).Debug(ev.String())
		s.printf("%s\n", ev)
	}
}

func (s *server) printBanner() {
	st := s.adapter.Status()
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)

	s.outMu.Lock()
	defer s.outMu.Unlock()
	green.Fprintf(s.out, "Advertising %q\n", st.Name)
	fmt.Fprintf(s.out, "  service:        %s\n", st.Service)
	fmt.Fprintf(s.out, "  characteristic: %s\n", st.Characteristic)
	fmt.Fprintf(s.out, "  backend:        %s\n", s.cfg.Stack.Backend)
	fmt.Fprintf(s.out, "  decoder:        %s\n", s.cfg.Decoder.Kind)
	if s.console != nil {
		bold.Fprintf(s.out, "Console: %s\n", s.console.TTYName())
	}
}

func (s *server) printStatus() {
	st := s.adapter.Status()
	state := color.New(color.FgRed).Sprint("disconnected")
	if st.Connected {
		state = color.New(color.FgGreen).Sprint("connected")
	}
	running := s.controller.Running()
	if running == "" {
		running = "idle"
	}
	p := s.controller.Parameters()

	s.printf("%s: %s\n", st.Name, state)
	s.printf("sampler: %s (sampling %s, filling %s, purge fill %s, %d purge cycles)\n",
		running, p.SamplingTime, p.FillingTime, p.PurgeFillTime, p.NumPurgeCycles)
	s.printf("journal: %d events, %d overwritten\n", s.journal.Recorded(), s.journal.Overwritten())
}

// printf writes to the console when one is open, else to the command output.
func (s *server) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.console != nil {
		s.console.Printf(format, args...)
		return
	}
	fmt.Fprintf(s.out, format, args...)
}
