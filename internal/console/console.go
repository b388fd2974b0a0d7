// Package console is the keyboard flight console: raw terminal input in,
// flight actions and a one-line status out.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/chronologos/ardrone/internal/command"
	"github.com/chronologos/ardrone/internal/dronestate"
	"github.com/chronologos/ardrone/internal/keymap"
)

const (
	stdinBufSize          = 256
	DefaultHoldTimeout    = 300 * time.Millisecond
	DefaultStatusInterval = 100 * time.Millisecond
)

// Pilot runs the actions bound to keys.
type Pilot interface {
	Do(command.Action) error
	SetSpeed(float64) error
	Speed() float64
}

// Telemetry is where the status line reads from.
type Telemetry interface {
	Telemetry() *dronestate.Telemetry
}

// Config holds console configuration.
type Config struct {
	// HoldTimeout is how long a movement key may go without repeating
	// before the console sends hover. Terminals report no key release.
	HoldTimeout    time.Duration
	StatusInterval time.Duration
	Losses         func() uint64 // optional
	Logger         *slog.Logger
}

// Console reads keys and flies the drone.
type Console struct {
	cfg     Config
	log     *slog.Logger
	pilot   Pilot
	tel     Telemetry
	dec     keymap.Decoder
	stdin   io.Reader
	stdout  io.Writer
	stdinFd int // for MakeRaw/Restore; -1 if not a terminal
	start   time.Time
}

func (c *Config) applyDefaults() {
	if c.HoldTimeout <= 0 {
		c.HoldTimeout = DefaultHoldTimeout
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// New returns a console on os.Stdin and os.Stdout. Raw mode is skipped when
// stdin is not a terminal.
func New(p Pilot, tel Telemetry, cfg Config) *Console {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fd = -1
	}
	return newConsole(p, tel, cfg, os.Stdin, os.Stdout, fd)
}

func newConsole(p Pilot, tel Telemetry, cfg Config, stdin io.Reader, stdout io.Writer, fd int) *Console {
	cfg.applyDefaults()
	return &Console{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "console"),
		pilot:   p,
		tel:     tel,
		stdin:   stdin,
		stdout:  stdout,
		stdinFd: fd,
	}
}

// Run flies until a quit key, stdin EOF or ctx cancellation. It does not
// land the drone.
func (c *Console) Run(ctx context.Context) error {
	if c.stdinFd >= 0 {
		oldState, err := term.MakeRaw(c.stdinFd)
		if err != nil {
			return fmt.Errorf("make raw: %w", err)
		}
		defer term.Restore(c.stdinFd, oldState)
	}
	c.start = time.Now()
	fmt.Fprintf(c.stdout, "%s\r\n", keymap.Help)

	stdinCh := make(chan []byte, 4)
	done := make(chan struct{})
	defer close(done)
	go c.readStdin(stdinCh, done)

	status := time.NewTicker(c.cfg.StatusInterval)
	defer status.Stop()
	hold := time.NewTimer(c.cfg.HoldTimeout)
	hold.Stop()
	defer hold.Stop()
	defer fmt.Fprint(c.stdout, "\r\n")

	var events []keymap.Event
	for {
		select {
		case data, ok := <-stdinCh:
			if !ok {
				return nil
			}
			events = c.dec.Feed(events[:0], data)
			for _, ev := range events {
				b, bound := keymap.Lookup(ev)
				if !bound {
					continue
				}
				if b.Quit {
					return nil
				}
				c.apply(b)
				if b.Hold {
					hold.Reset(c.cfg.HoldTimeout)
				} else {
					hold.Stop()
				}
			}

		case <-hold.C:
			// Movement key released.
			if err := c.pilot.Do(command.Hover); err != nil {
				c.log.Warn("hover failed", "err", err)
			}

		case <-status.C:
			c.drawStatus()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Console) apply(b keymap.Binding) {
	if b.Speed > 0 {
		if err := c.pilot.SetSpeed(b.Speed); err != nil {
			c.log.Warn("set speed failed", "speed", b.Speed, "err", err)
		}
		return
	}
	if err := c.pilot.Do(b.Action); err != nil {
		c.log.Warn("action failed", "action", b.Action.String(), "err", err)
	}
}

// StatusLine formats the console status.
func StatusLine(elapsed time.Duration, t *dronestate.Telemetry, losses uint64, speed float64) string {
	d := t.Demo()
	return fmt.Sprintf("%6.1fs  bat %3d%%  alt %5dmm  %-10s  speed %.1f  losses %d",
		elapsed.Seconds(), d.Battery, d.Altitude, d.FlightState(), speed, losses)
}

func (c *Console) drawStatus() {
	var losses uint64
	if c.cfg.Losses != nil {
		losses = c.cfg.Losses()
	}
	line := StatusLine(time.Since(c.start), c.tel.Telemetry(), losses, c.pilot.Speed())
	fmt.Fprintf(c.stdout, "\r%s\x1b[K", line)
}

// readStdin reads stdin in a loop, sending chunks to ch. Once done is closed
// it returns rather than block on ch.
func (c *Console) readStdin(ch chan<- []byte, done <-chan struct{}) {
	defer close(ch)
	for {
		buf := make([]byte, stdinBufSize)
		n, err := c.stdin.Read(buf)
		if n > 0 {
			select {
			case ch <- buf[:n]:
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}
