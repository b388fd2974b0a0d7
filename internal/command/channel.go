// Package command implements the drone's command channel: AT commands sent as
// UDP datagrams, each stamped with the next sequence number, with a
// communication watchdog that sends COMWDG whenever the channel has been
// idle for one watchdog period.
package command

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronologos/ardrone/internal/atcmd"
	"github.com/chronologos/ardrone/internal/atconfig"
)

var (
	ErrClosed          = errors.New("command channel closed")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownAction   = errors.New("unknown action")
)

const (
	DefaultPort           = 5556
	DefaultWatchdogPeriod = 200 * time.Millisecond
	DefaultSpeed          = 0.2
	DefaultResetDelay     = 100 * time.Millisecond

	DefaultSessionID     = "943dac23"
	DefaultUserID        = "36355d78"
	DefaultApplicationID = "21d958e4"
)

// Config holds command channel configuration. Zero values select defaults.
type Config struct {
	WatchdogPeriod time.Duration
	Speed          float64 // initial speed multiplier in [0, 1]
	ResetDelay     time.Duration

	// Identifiers sent with CONFIG_IDS ahead of every CONFIG.
	SessionID     string
	UserID        string
	ApplicationID string

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.WatchdogPeriod <= 0 {
		c.WatchdogPeriod = DefaultWatchdogPeriod
	}
	if c.Speed == 0 {
		c.Speed = DefaultSpeed
	}
	if c.ResetDelay <= 0 {
		c.ResetDelay = DefaultResetDelay
	}
	if c.SessionID == "" {
		c.SessionID = DefaultSessionID
	}
	if c.UserID == "" {
		c.UserID = DefaultUserID
	}
	if c.ApplicationID == "" {
		c.ApplicationID = DefaultApplicationID
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Channel serializes AT commands onto a datagram writer. It is safe for
// concurrent use.
type Channel struct {
	cfg Config
	log *slog.Logger

	// mu guards everything the send path touches: the sequence counter, the
	// watchdog timer and its generation, and the closed flag.
	mu       sync.Mutex
	w        io.Writer
	seq      uint32
	watchdog *time.Timer
	gen      uint64
	closed   bool

	speed     atomic.Uint64 // math.Float64bits of the speed multiplier
	sent      atomic.Uint64
	keepalive atomic.Uint64
}

// New returns a channel writing one datagram per Write to w. If w is an
// io.Closer it is closed by Close.
func New(w io.Writer, cfg Config) (*Channel, error) {
	cfg.applyDefaults()
	if cfg.Speed < 0 || cfg.Speed > 1 {
		return nil, fmt.Errorf("%w: speed %v outside [0, 1]", ErrInvalidArgument, cfg.Speed)
	}
	c := &Channel{
		cfg: cfg,
		log: cfg.Logger.With("component", "command"),
		w:   w,
		seq: 1,
	}
	c.speed.Store(math.Float64bits(cfg.Speed))
	return c, nil
}

// Dial opens a UDP socket to addr (host:port) and returns a channel on it.
func Dial(addr string, cfg Config) (*Channel, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial command port: %w", err)
	}
	c, err := New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Send transmits cmd with the next sequence number and rearms the watchdog.
func (c *Channel) Send(cmd atcmd.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(cmd)
}

// sendBatch sends cmds back to back with no other command in between.
func (c *Channel) sendBatch(cmds ...atcmd.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range cmds {
		if err := c.sendLocked(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendLocked(cmd atcmd.Command) error {
	if c.closed {
		return ErrClosed
	}
	c.stopWatchdogLocked()
	_, err := c.w.Write(cmd.Encode(c.seq))
	if err != nil {
		// The sequence number was not used; keep the watchdog running so the
		// drone still sees keep-alives once the socket recovers.
		c.armWatchdogLocked()
		return fmt.Errorf("send %s: %w", cmd.Name(), err)
	}
	c.seq++
	c.sent.Add(1)
	c.armWatchdogLocked()
	return nil
}

func (c *Channel) stopWatchdogLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

// armWatchdogLocked replaces the watchdog. A timer that already fired and is
// waiting on mu sees a newer generation and does nothing.
func (c *Channel) armWatchdogLocked() {
	c.gen++
	gen := c.gen
	c.watchdog = time.AfterFunc(c.cfg.WatchdogPeriod, func() { c.fireWatchdog(gen) })
}

func (c *Channel) fireWatchdog(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return
	}
	if err := c.sendLocked(atcmd.ComWdg()); err != nil {
		c.log.Warn("watchdog keep-alive failed", "err", err)
		return
	}
	c.keepalive.Add(1)
}

// NextSeq returns the sequence number the next command will carry.
func (c *Channel) NextSeq() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Sent returns how many commands were transmitted, keep-alives included, and
// how many of those were watchdog keep-alives.
func (c *Channel) Sent() (total, keepalives uint64) {
	return c.sent.Load(), c.keepalive.Load()
}

// StopWatchdog cancels the watchdog without closing the channel. The next
// Send arms it again.
func (c *Channel) StopWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.stopWatchdogLocked()
}

// Close cancels the watchdog and closes the underlying socket. Later sends
// fail with ErrClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.gen++
	c.stopWatchdogLocked()
	if cl, ok := c.w.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Speed returns the current speed multiplier.
func (c *Channel) Speed() float64 {
	return math.Float64frombits(c.speed.Load())
}

// SetSpeed sets the multiplier applied to directional actions.
func (c *Channel) SetSpeed(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: speed %v outside [0, 1]", ErrInvalidArgument, v)
	}
	c.speed.Store(math.Float64bits(v))
	return nil
}

// SendConfig validates every setting and then sends each one as a
// CONFIG_IDS/CONFIG pair. Nothing is sent if any setting is invalid.
func (c *Channel) SendConfig(settings ...atconfig.Setting) error {
	values, err := atconfig.ValidateAll(settings)
	if err != nil {
		return err
	}
	ids := atcmd.ConfigIDs(c.cfg.SessionID, c.cfg.UserID, c.cfg.ApplicationID)
	cmds := make([]atcmd.Command, 0, 2*len(settings))
	for i, s := range settings {
		cmds = append(cmds, ids, atcmd.Config(s.Key, values[i]))
	}
	if err := c.sendBatch(cmds...); err != nil {
		return err
	}
	c.log.Debug("config sent", "settings", len(settings))
	return nil
}

// SetCameraView switches between the front and the downward camera.
func (c *Channel) SetCameraView(downward bool) error {
	channel := 1
	if downward {
		channel = 0
	}
	return c.SendConfig(atconfig.Setting{Key: atconfig.KeyVideoChannel, Value: channel})
}

// Move sends a progressive PCMD with the given fractions, unscaled by speed.
func (c *Channel) Move(lr, fb, vv, va float64) error {
	for _, v := range [...]float64{lr, fb, vv, va} {
		if math.IsNaN(v) || v < -1 || v > 1 {
			return fmt.Errorf("%w: move component %v outside [-1, 1]", ErrInvalidArgument, v)
		}
	}
	return c.Send(atcmd.Pcmd(true, lr, fb, vv, va))
}

// SelectVideoStream sends ZAP.
func (c *Channel) SelectVideoStream(stream int) error {
	return c.Send(atcmd.Zap(stream))
}

// ControlMode sends CTRL.
func (c *Channel) ControlMode(mode int) error {
	return c.Send(atcmd.Ctrl(mode))
}

// AutonomousFlight sends AFLIGHT.
func (c *Channel) AutonomousFlight(enable bool) error {
	return c.Send(atcmd.AFlight(enable))
}
