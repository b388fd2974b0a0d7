// Package relay serves drone telemetry and frames to remote consumers over
// QUIC and accepts flight commands from them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/chronologos/ardrone/internal/command"
	"github.com/chronologos/ardrone/internal/dronestate"
)

const DefaultTelemetryInterval = 100 * time.Millisecond

// authTimeout bounds how long a client may take to authenticate.
const authTimeout = 5 * time.Second

// Source is where the server reads drone state from.
type Source interface {
	Telemetry() *dronestate.Telemetry
	Image() *dronestate.Frame
}

// Commander runs actions received from clients.
type Commander interface {
	Do(command.Action) error
	SetSpeed(float64) error
}

// Config holds relay server configuration.
type Config struct {
	Addr              string // UDP listen address, e.g. ":7777"
	Passkey           []byte
	TelemetryInterval time.Duration
	FrameInterval     time.Duration // 0 disables frame relay
	Losses            func() uint64 // navdata link losses, optional
	Logger            *slog.Logger
}

// Server accepts authenticated relay clients.
type Server struct {
	cfg Config
	src Source
	cmd Commander
	log *slog.Logger

	tr *quic.Transport
	ln *quic.Listener

	wg sync.WaitGroup
}

// Listen binds the relay's UDP socket and starts a QUIC listener with a
// fresh self-signed certificate.
func Listen(cfg Config, src Source, cmd Commander) (*Server, error) {
	if len(cfg.Passkey) == 0 {
		return nil, errors.New("relay: empty passkey")
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = DefaultTelemetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	cert, err := relayCert(time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	addr, err := net.ResolveUDPAddr("udp4", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Addr, err)
	}
	udpConn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(relayTLS(&cert), quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}

	return &Server{
		cfg: cfg,
		src: src,
		cmd: cmd,
		log: cfg.Logger.With("component", "relay"),
		tr:  tr,
		ln:  ln,
	}, nil
}

// Addr returns the bound UDP address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts clients until ctx is cancelled, then closes the listener and
// waits for the client sessions to end.
func (s *Server) Serve(ctx context.Context) error {
	defer s.wg.Wait()
	s.log.Info("relay listening", "addr", s.Addr().String())
	for {
		qconn, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept QUIC connection: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, qconn)
		}()
	}
}

// Close shuts down the listener and underlying transport.
func (s *Server) Close() error {
	s.ln.Close()
	return s.tr.Close()
}

func (s *Server) serveConn(ctx context.Context, qconn *quic.Conn) {
	log := s.log.With("remote", qconn.RemoteAddr().String())

	stream, err := s.authenticate(ctx, qconn)
	if err != nil {
		log.Warn("client rejected", "err", err)
		qconn.CloseWithError(1, "auth failed")
		return
	}
	log.Info("client connected")

	sess := &session{stream: stream}
	sctx, cancel := context.WithCancel(ctx)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		s.readCommands(sess, log)
	}()

	err = s.push(sctx, sess)
	cancel()
	qconn.CloseWithError(0, "closed")
	<-readerDone
	log.Info("client disconnected", "err", err)
}

func (s *Server) authenticate(ctx context.Context, qconn *quic.Conn) (*quic.Stream, error) {
	actx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	stream, err := qconn.AcceptStream(actx)
	if err != nil {
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	stream.SetReadDeadline(time.Now().Add(authTimeout))
	msg, err := ReadMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read auth request: %w", err)
	}
	stream.SetReadDeadline(time.Time{})
	req, ok := msg.(*AuthRequest)
	if !ok {
		return nil, fmt.Errorf("expected AuthRequest, got %T", msg)
	}

	material, err := sessionMaterial(qconn)
	if err != nil {
		return nil, fmt.Errorf("export keying material: %w", err)
	}
	if !CheckSessionToken(s.cfg.Passkey, material, req.Token) {
		WriteMessage(stream, &AuthResponse{Status: AuthFailed})
		stream.Close()
		// Let the client read the rejection before the connection goes.
		select {
		case <-qconn.Context().Done():
		case <-actx.Done():
		}
		return nil, ErrAuthFailed
	}
	if err := WriteMessage(stream, &AuthResponse{Status: AuthOK}); err != nil {
		return nil, fmt.Errorf("write auth response: %w", err)
	}
	return stream, nil
}

// session serialises writes to one client's stream.
type session struct {
	mu     sync.Mutex
	stream *quic.Stream
}

func (ss *session) write(msg any) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return WriteMessage(ss.stream, msg)
}

// push sends telemetry, and frames when enabled, each time a newer one has
// been published since the last send.
func (s *Server) push(ctx context.Context, sess *session) error {
	telemetry := time.NewTicker(s.cfg.TelemetryInterval)
	defer telemetry.Stop()

	var frames <-chan time.Time
	if s.cfg.FrameInterval > 0 {
		t := time.NewTicker(s.cfg.FrameInterval)
		defer t.Stop()
		frames = t.C
	}

	var lastTelemetry *dronestate.Telemetry
	var lastFrame *dronestate.Frame
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-telemetry.C:
			t := s.src.Telemetry()
			if t == lastTelemetry {
				continue
			}
			lastTelemetry = t
			if err := sess.write(s.telemetryMessage(t)); err != nil {
				return fmt.Errorf("write telemetry: %w", err)
			}
		case <-frames:
			f := s.src.Image()
			if f == lastFrame {
				continue
			}
			lastFrame = f
			if err := sess.write(&Frame{
				Width:  uint32(f.Width),
				Height: uint32(f.Height),
				Data:   f.Pix,
			}); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		}
	}
}

func (s *Server) telemetryMessage(t *dronestate.Telemetry) *Telemetry {
	var losses uint64
	if s.cfg.Losses != nil {
		losses = s.cfg.Losses()
	}
	return NewTelemetry(t, losses)
}

// NewTelemetry builds the relay view of a published navdata packet.
func NewTelemetry(t *dronestate.Telemetry, losses uint64) *Telemetry {
	d := t.Demo()
	m := &Telemetry{
		FlightState: d.FlightState().String(),
		Battery:     d.Battery,
		Theta:       d.Theta,
		Phi:         d.Phi,
		Psi:         d.Psi,
		Altitude:    d.Altitude,
		VX:          d.VX,
		VY:          d.VY,
		VZ:          d.VZ,
		Losses:      losses,
	}
	if t.Packet != nil {
		m.Sequence = t.Packet.Sequence
		m.State = t.Packet.State.Raw
	}
	if !t.Received.IsZero() {
		m.ReceivedMs = t.Received.UnixMilli()
	}
	return m
}

// readCommands runs client commands until the stream fails. Rejected
// commands are answered with an Error message.
func (s *Server) readCommands(sess *session, log *slog.Logger) {
	for {
		msg, err := ReadMessage(sess.stream)
		if err != nil {
			return
		}
		cmd, ok := msg.(*Command)
		if !ok {
			log.Warn("unexpected message from client", "type", fmt.Sprintf("%T", msg))
			continue
		}
		if err := s.run(cmd); err != nil {
			log.Warn("command rejected", "action", cmd.Action, "err", err)
			if err := sess.write(&Error{Message: err.Error()}); err != nil {
				return
			}
			continue
		}
		log.Debug("command", "action", cmd.Action, "set_speed", cmd.Speed != nil)
	}
}

func (s *Server) run(cmd *Command) error {
	var action command.Action
	if cmd.Action != "" {
		a, err := command.ParseAction(cmd.Action)
		if err != nil {
			return err
		}
		action = a
	}
	if cmd.Speed != nil {
		if err := s.cmd.SetSpeed(*cmd.Speed); err != nil {
			return err
		}
	}
	if cmd.Action == "" {
		return nil
	}
	return s.cmd.Do(action)
}
