// Package navlink keeps the navdata telemetry stream flowing. It owns a
// datagram socket for navdata and a TCP connection to the control port,
// waits on both, publishes the newest flight telemetry, and reopens both
// sockets whenever the drone goes silent or drops the control connection.
package navlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chronologos/ardrone/internal/navdata"
)

var (
	ErrLinkSilent = errors.New("navdata link silent")
	ErrPeerClosed = errors.New("control connection closed by peer")
	// ErrWouldBlock is returned by Link reads when no more data is queued.
	ErrWouldBlock = errors.New("no data available")
)

const (
	DefaultNavdataPort = 5554
	DefaultControlPort = 5559
	DefaultWaitTimeout = 1 * time.Second
	DefaultMaxDrain    = 64

	navBufSize = 4096
	ackBufSize = 4096
)

// Ready reports which sockets are readable.
type Ready struct {
	Navdata bool
	Ack     bool
}

// Link is one open pair of navdata and control sockets.
type Link interface {
	// Wait blocks until a socket is readable or timeout elapses. A timeout
	// returns the zero Ready and a nil error.
	Wait(timeout time.Duration) (Ready, error)
	// ReadNavdata reads one datagram, or returns ErrWouldBlock.
	ReadNavdata(buf []byte) (int, error)
	// ReadAck reads control bytes, or returns ErrWouldBlock. It returns
	// 0, nil once the peer has closed the connection.
	ReadAck(buf []byte) (int, error)
	Close() error
}

// Opener opens a fresh Link. The context bounds the link's lifetime: when
// it is cancelled a pending Wait returns early.
type Opener func(ctx context.Context) (Link, error)

// Publisher receives decoded packets that carry flight telemetry.
type Publisher interface {
	SetNavdata(p *navdata.Packet)
}

// State is the channel's connection state.
type State int32

const (
	Connecting State = iota
	Listening
	Reconnecting
	Stopped
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	case Reconnecting:
		return "reconnecting"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config holds navdata channel configuration.
type Config struct {
	WaitTimeout time.Duration // readiness wait before the link counts as silent
	MaxDrain    int           // reads per socket per wakeup
	Logger      *slog.Logger
}

// Stats is a snapshot of the channel's counters. Losses is cumulative and
// never reset.
type Stats struct {
	State        State
	Losses       uint64 // readiness waits that timed out
	Opens        uint64 // links opened, the first one included
	Reconnects   uint64 // links torn down for reopening
	OpenFailures uint64
	Decoded      uint64 // packets decoded
	Published    uint64 // packets with flight telemetry handed to the publisher
	Dropped      uint64 // datagrams superseded within one drain
	DecodeErrors uint64 // datagrams with a bad header or malformed options
	AckBytes     uint64
}

// Channel runs the navdata state machine.
type Channel struct {
	cfg  Config
	open Opener
	pub  Publisher
	log  *slog.Logger

	state        atomic.Int32
	losses       atomic.Uint64
	opens        atomic.Uint64
	reconnects   atomic.Uint64
	openFailures atomic.Uint64
	decoded      atomic.Uint64
	published    atomic.Uint64
	dropped      atomic.Uint64
	decodeErrors atomic.Uint64
	ackBytes     atomic.Uint64
}

// New returns a channel that opens links with open and publishes to pub.
func New(open Opener, pub Publisher, cfg Config) *Channel {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.MaxDrain <= 0 {
		cfg.MaxDrain = DefaultMaxDrain
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	c := &Channel{
		cfg:  cfg,
		open: open,
		pub:  pub,
		log:  cfg.Logger.With("component", "navlink"),
	}
	c.state.Store(int32(Connecting))
	return c
}

// State returns the current state.
func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) setState(s State) { c.state.Store(int32(s)) }

// Stats returns a snapshot of the counters.
func (c *Channel) Stats() Stats {
	return Stats{
		State:        c.State(),
		Losses:       c.losses.Load(),
		Opens:        c.opens.Load(),
		Reconnects:   c.reconnects.Load(),
		OpenFailures: c.openFailures.Load(),
		Decoded:      c.decoded.Load(),
		Published:    c.published.Load(),
		Dropped:      c.dropped.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		AckBytes:     c.ackBytes.Load(),
	}
}

// Run drives the channel until ctx is cancelled, then closes the open link
// and returns ctx.Err(). Silence and peer closure are retried indefinitely.
func (c *Channel) Run(ctx context.Context) error {
	var link Link
	defer func() {
		if link != nil {
			link.Close()
		}
		c.setState(Stopped)
	}()

	navBuf := make([]byte, navBufSize)
	ackBuf := make([]byte, ackBufSize)
	var last []byte
	reconnect := true

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if reconnect {
			if link != nil {
				c.setState(Reconnecting)
				link.Close()
				link = nil
				c.reconnects.Add(1)
			}
			c.setState(Connecting)
			l, err := c.open(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.openFailures.Add(1)
				c.log.Warn("navdata link open failed, retrying", "err", err, "delay", c.cfg.WaitTimeout)
				select {
				case <-time.After(c.cfg.WaitTimeout):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			link = l
			c.opens.Add(1)
			reconnect = false
			c.setState(Listening)
			c.log.Debug("navdata link open")
		}

		ready, err := link.Wait(c.cfg.WaitTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("navdata wait failed, reconnecting", "err", err)
			reconnect = true
			continue
		}
		if !ready.Navdata && !ready.Ack {
			n := c.losses.Add(1)
			c.log.Warn("navdata link silent, reconnecting", "err", ErrLinkSilent, "losses", n)
			reconnect = true
			continue
		}

		if ready.Navdata {
			last, err = c.drainNavdata(link, navBuf, last[:0])
			if err != nil {
				c.log.Warn("navdata read failed, reconnecting", "err", err)
				reconnect = true
			}
		}
		if ready.Ack && !reconnect {
			if err := c.drainAck(link, ackBuf); err != nil {
				c.log.Warn("control link failed, reconnecting", "err", err)
				reconnect = true
			}
		}
	}
}

// drainNavdata reads up to MaxDrain queued datagrams and decodes only the
// newest. Older datagrams from the same wakeup are dropped.
func (c *Channel) drainNavdata(link Link, buf, last []byte) ([]byte, error) {
	got := false
	for i := 0; i < c.cfg.MaxDrain; i++ {
		n, err := link.ReadNavdata(buf)
		if errors.Is(err, ErrWouldBlock) {
			break
		}
		if err != nil {
			return last, fmt.Errorf("read navdata: %w", err)
		}
		if got {
			c.dropped.Add(1)
		}
		last = append(last[:0], buf[:n]...)
		got = true
	}
	if !got {
		return last, nil
	}

	p, flight, err := navdata.Decode(last)
	if err != nil {
		c.decodeErrors.Add(1)
		c.log.Debug("navdata decode failed", "err", err)
		return last, nil
	}
	c.decoded.Add(1)
	if p.Truncated() {
		c.decodeErrors.Add(1)
		c.log.Debug("navdata options truncated", "seq", p.Sequence, "err", p.OptionErr)
	}
	if flight {
		c.pub.SetNavdata(p)
		c.published.Add(1)
	}
	return last, nil
}

// drainAck consumes control bytes. They are logged, not interpreted.
func (c *Channel) drainAck(link Link, buf []byte) error {
	for i := 0; i < c.cfg.MaxDrain; i++ {
		n, err := link.ReadAck(buf)
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read control: %w", err)
		}
		if n == 0 {
			return ErrPeerClosed
		}
		c.ackBytes.Add(uint64(n))
		c.log.Warn("control data received", "bytes", n, "data", fmt.Sprintf("%q", buf[:n]))
	}
	return nil
}
