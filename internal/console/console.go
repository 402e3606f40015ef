// Package console exposes the peripheral on a pseudo-terminal so an operator
// can type notifications by hand:
//
//	con, err := console.Open(ctx, console.Options{OnLine: handle})
//	// screen $(con.TTYName())
//
// Every non-empty line typed into the slave side is delivered to OnLine.
// Output queued with Printf is written to the slave asynchronously; when the
// write buffer is full the excess bytes are dropped and counted.
package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/blimp/internal/groutine"
)

const (
	// DefaultWriteCap is the outbound buffer size in bytes.
	DefaultWriteCap = 16 * 1024
	// DefaultPollTimeout bounds shutdown latency of the I/O loops.
	DefaultPollTimeout = 50 * time.Millisecond
	// maxLine caps a single input line; longer input is split.
	maxLine = 512
)

// LineHandler receives one input line without its terminator.
type LineHandler func(line string)

// Options configures Open. Zero values use defaults.
type Options struct {
	WriteCap    int
	PollTimeout time.Duration
	Logger      *logrus.Logger
	OnLine      LineHandler
}

// Stats are runtime counters.
type Stats struct {
	Lines        uint64
	BytesIn      uint64
	BytesOut     uint64
	DroppedWrite uint64
}

// Console is a PTY master with line-oriented input and buffered output.
type Console struct {
	logger  *logrus.Logger
	onLine  LineHandler
	pollMs  int
	master  *os.File
	slave   *os.File
	ttyName string

	writeBuf *ringbuffer.RingBuffer

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	lines        atomic.Uint64
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
	droppedWrite atomic.Uint64
}

// Open creates the PTY pair and starts the read and write loops.
func Open(ctx context.Context, opts Options) (*Console, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	writeCap := opts.WriteCap
	if writeCap <= 0 {
		writeCap = DefaultWriteCap
	}
	poll := opts.PollTimeout
	if poll <= 0 {
		poll = DefaultPollTimeout
	}

	master, slave, err := openPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Console{
		logger:   logger,
		onLine:   opts.OnLine,
		pollMs:   int(poll / time.Millisecond),
		master:   master,
		slave:    slave,
		ttyName:  slave.Name(),
		writeBuf: ringbuffer.New(writeCap),
		cancel:   cancel,
	}

	groutine.GoWait(ctx, &c.wg, "console-read-loop", c.readLoop)
	groutine.GoWait(ctx, &c.wg, "console-write-loop", c.writeLoop)

	logger.WithField("tty", c.ttyName).Info("Console ready")
	return c, nil
}

func openPTY() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(cause error) error {
		return errors.Join(cause, master.Close(), slave.Close())
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, cleanup(fmt.Errorf("failed to set %s to raw mode: %w", slave.Name(), err))
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return nil, nil, cleanup(fmt.Errorf("failed to set PTY master nonblocking: %w", err))
	}
	return master, slave, nil
}

// TTYName returns the slave device path, e.g. /dev/pts/5.
func (c *Console) TTYName() string {
	return c.ttyName
}

// Write queues p for the slave. It never blocks; n < len(p) means bytes were dropped.
func (c *Console) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := c.writeBuf.Write(p)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return n, err
	}
	if n < len(p) {
		dropped := len(p) - n
		c.droppedWrite.Add(uint64(dropped))
		c.logger.Debugf("Console write buffer full: dropped %d bytes", dropped)
	}
	return n, nil
}

// Printf formats and queues a message. Bare "\n" is sent as "\r\n" since
// the slave is in raw mode.
func (c *Console) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	msg = strings.ReplaceAll(msg, "\n", "\r\n")
	_, _ = c.Write([]byte(msg))
}

func (c *Console) readLoop(ctx context.Context) {
	master := c.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 1024)
	var line bytes.Buffer

	for ctx.Err() == nil {
		ready, err := unix.Poll(fds, c.pollMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			c.logger.WithError(err).Warn("Console poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			c.bytesIn.Add(uint64(n))
			c.consume(buf[:n], &line)
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, io.EOF), errors.Is(err, syscall.EBADF), errors.Is(err, syscall.EIO):
				c.logger.WithError(err).Debug("Console read loop exiting")
				return
			default:
				c.logger.WithError(err).Warn("Console read loop exiting on error")
				return
			}
		}
	}
}

// consume splits input on CR or LF and emits complete lines.
func (c *Console) consume(data []byte, line *bytes.Buffer) {
	for _, b := range data {
		if b == '\r' || b == '\n' {
			c.emit(line)
			continue
		}
		line.WriteByte(b)
		if line.Len() >= maxLine {
			c.emit(line)
		}
	}
}

func (c *Console) emit(line *bytes.Buffer) {
	text := strings.TrimSpace(line.String())
	line.Reset()
	if text == "" || c.onLine == nil {
		return
	}
	c.lines.Add(1)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("Console line handler panicked: %v", r)
		}
	}()
	c.onLine(text)
}

func (c *Console) writeLoop(ctx context.Context) {
	master := c.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		if c.writeBuf.IsEmpty() {
			time.Sleep(time.Duration(c.pollMs) * time.Millisecond / 5)
			continue
		}

		n, err := c.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			c.logger.WithError(err).Warn("Console buffer read failed")
			continue
		}

		for off := 0; off < n && ctx.Err() == nil; {
			written, err := master.Write(buf[off:n])
			if written > 0 {
				off += written
				c.bytesOut.Add(uint64(written))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(fds, c.pollMs); perr != nil && !errors.Is(perr, syscall.EINTR) {
					c.logger.WithError(perr).Warn("Console poll failed")
				}
			default:
				c.logger.WithError(err).Debug("Console write loop exiting")
				return
			}
		}
	}
}

// Stats returns the current counters.
func (c *Console) Stats() Stats {
	return Stats{
		Lines:        c.lines.Load(),
		BytesIn:      c.bytesIn.Load(),
		BytesOut:     c.bytesOut.Load(),
		DroppedWrite: c.droppedWrite.Load(),
	}
}

// Close stops the loops and closes both ends of the PTY.
func (c *Console) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	err := errors.Join(c.master.Close(), c.slave.Close())
	c.wg.Wait()
	return err
}
