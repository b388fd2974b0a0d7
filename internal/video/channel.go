// Package video carries the drone's video: a relay loop copies the encoded
// TCP stream into an external decoder, and a frame loop cuts the decoder's
// raw RGB output into frames and publishes them. Video has no reconnect; once
// either side fails the channel stops and reports ErrStreamEnded.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/chronologos/ardrone/internal/dronestate"
)

const (
	DefaultPort        = 5555
	DefaultDialTimeout = 5 * time.Second

	relayBufSize = 64 * 1024
)

// FramePublisher receives decoded frames.
type FramePublisher interface {
	SetImage(f *dronestate.Frame)
}

// Config holds video channel configuration.
type Config struct {
	Addr        string // drone video endpoint, host:port
	Height      int
	Width       int
	Passthrough bool // forward the transport verbatim instead of demuxing PaVE
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// Stats is a snapshot of the channel's counters.
type Stats struct {
	BytesIn uint64
	Frames  uint64
	Demux   DemuxStats
}

// Channel runs the relay and frame loops.
type Channel struct {
	cfg Config
	dec Decoder
	pub FramePublisher
	log *slog.Logger

	demux   atomic.Pointer[Demuxer]
	bytesIn atomic.Uint64
	frames  atomic.Uint64
}

// New returns a channel feeding dec and publishing to pub.
func New(dec Decoder, pub FramePublisher, cfg Config) *Channel {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Channel{
		cfg: cfg,
		dec: dec,
		pub: pub,
		log: cfg.Logger.With("component", "video"),
	}
}

// Stats returns a snapshot of the counters.
func (c *Channel) Stats() Stats {
	s := Stats{BytesIn: c.bytesIn.Load(), Frames: c.frames.Load()}
	if d := c.demux.Load(); d != nil {
		s.Demux = d.Stats()
	}
	return s
}

// Run starts both loops and blocks until the stream ends or ctx is
// cancelled. The decoder is always terminated before Run returns. Run
// returns ctx.Err() after cancellation and an ErrStreamEnded error
// otherwise.
func (c *Channel) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, func() { c.dec.Terminate() })
	defer stop()

	relayErr := make(chan error, 1)
	go func() { relayErr <- c.relay(runCtx) }()

	err := c.readFrames()
	c.dec.Terminate()
	cancel()
	rerr := <-relayErr

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if rerr != nil {
		c.log.Warn("video relay stopped", "err", rerr)
		return fmt.Errorf("%w: %w", ErrStreamEnded, rerr)
	}
	c.log.Warn("video frame loop stopped", "err", err, "frames", c.frames.Load())
	return err
}

// relay copies the video connection into the decoder's input and closes the
// input on exit so the decoder sees end of stream.
func (c *Channel) relay(ctx context.Context) error {
	in := c.dec.Input()
	defer in.Close()

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dial video %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	c.log.Info("video connected", "addr", c.cfg.Addr, "demux", !c.cfg.Passthrough)

	var dst io.Writer = in
	if !c.cfg.Passthrough {
		dm := NewDemuxer(in)
		c.demux.Store(dm)
		dst = dm
	}

	buf := make([]byte, relayBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.bytesIn.Add(uint64(n))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("write decoder: %w", werr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return errors.New("video connection closed by peer")
			}
			return fmt.Errorf("read video: %w", err)
		}
	}
}

// readFrames publishes frames until the decoder output fails.
func (c *Channel) readFrames() error {
	fr := NewFrameReader(c.dec.Output(), c.cfg.Height, c.cfg.Width)
	for {
		f, err := fr.ReadFrame()
		if err != nil {
			return err
		}
		c.pub.SetImage(f)
		c.frames.Add(1)
	}
}
