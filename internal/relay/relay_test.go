package relay

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chronologos/ardrone/internal/command"
	"github.com/chronologos/ardrone/internal/dronestate"
	"github.com/chronologos/ardrone/internal/navdata"
	"github.com/chronologos/ardrone/internal/navdata/navdatatest"
)

func newTestState(t *testing.T, seq uint32, battery uint32) *dronestate.State {
	t.Helper()
	st := dronestate.New(2, 2)
	publish(t, st, seq, battery)
	return st
}

func publish(t *testing.T, st *dronestate.State, seq, battery uint32) {
	t.Helper()
	raw := navdatatest.New(0x55667788, 1, seq, 0).
		Demo(navdatatest.DemoFields{CtrlState: 3 << 16, Battery: battery, Altitude: 1200}).
		Bytes()
	p, _, err := navdata.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	st.SetNavdata(p)
}

type fakeCommander struct {
	mu      sync.Mutex
	actions []command.Action
	speeds  []float64
}

func (c *fakeCommander) Do(a command.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, a)
	return nil
}

func (c *fakeCommander) SetSpeed(v float64) error {
	if v > 1 {
		return command.ErrInvalidArgument
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speeds = append(c.speeds, v)
	return nil
}

func (c *fakeCommander) snapshot() ([]command.Action, []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]command.Action(nil), c.actions...), append([]float64(nil), c.speeds...)
}

func speed(v float64) *float64 { return &v }

// setupRelay starts a server on 127.0.0.1 and dials it.
func setupRelay(t *testing.T, cfg Config, src Source, cmd Commander) (*Client, func()) {
	t.Helper()

	passkey, err := NewPasskey()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Addr = "127.0.0.1:0"
	cfg.Passkey = passkey
	srv, err := Listen(cfg, src, cmd)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	dctx, dcancel := context.WithTimeout(ctx, 5*time.Second)
	defer dcancel()
	c, err := Dial(dctx, srv.Addr().String(), passkey)
	if err != nil {
		cancel()
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	return c, func() {
		c.Close()
		cancel()
		select {
		case <-served:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		srv.Close()
	}
}

// nextOf reads messages until one of type T arrives.
func nextOf[T any](t *testing.T, c *Client) *T {
	t.Helper()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			c.Close()
		}
	}()
	for {
		msg, err := c.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if m, ok := msg.(*T); ok {
			return m
		}
	}
}

func TestTelemetryPushedWhenPublished(t *testing.T) {
	st := newTestState(t, 5, 80)
	c, cleanup := setupRelay(t, Config{
		TelemetryInterval: 10 * time.Millisecond,
		Losses:            func() uint64 { return 3 },
	}, st, &fakeCommander{})
	defer cleanup()

	m := nextOf[Telemetry](t, c)
	if m.Sequence != 5 || m.Battery != 80 || m.Losses != 3 || m.Altitude != 1200 {
		t.Fatalf("telemetry = %+v", m)
	}
	if m.FlightState != "flying" || m.State != 1 || m.ReceivedMs == 0 {
		t.Fatalf("telemetry = %+v", m)
	}

	// Unchanged telemetry is not resent, so the next message is the new packet.
	time.Sleep(50 * time.Millisecond)
	publish(t, st, 6, 79)
	m = nextOf[Telemetry](t, c)
	if m.Sequence != 6 || m.Battery != 79 {
		t.Fatalf("second telemetry = %+v", m)
	}
}

func TestCommandsRunOnCommander(t *testing.T) {
	cmd := &fakeCommander{}
	c, cleanup := setupRelay(t, Config{TelemetryInterval: time.Hour}, newTestState(t, 1, 50), cmd)
	defer cleanup()

	if err := c.Send(Command{Action: "takeoff", Speed: speed(0.5)}); err != nil {
		t.Fatal(err)
	}
	if err := c.Send(Command{Speed: speed(0.3)}); err != nil {
		t.Fatal(err)
	}
	if err := c.Send(Command{Action: "move_left"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		actions, speeds := cmd.snapshot()
		if len(actions) == 2 && len(speeds) == 2 {
			if actions[0] != command.Takeoff || actions[1] != command.MoveLeft {
				t.Fatalf("actions = %v", actions)
			}
			if speeds[0] != 0.5 || speeds[1] != 0.3 {
				t.Fatalf("speeds = %v", speeds)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("actions = %v speeds = %v", actions, speeds)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestZeroSpeedReachesCommander(t *testing.T) {
	cmd := &fakeCommander{}
	c, cleanup := setupRelay(t, Config{TelemetryInterval: time.Hour}, newTestState(t, 1, 50), cmd)
	defer cleanup()

	if err := c.Send(Command{Action: "hover", Speed: speed(0)}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		actions, speeds := cmd.snapshot()
		if len(actions) == 1 {
			if len(speeds) != 1 || speeds[0] != 0 {
				t.Fatalf("speeds = %v, want [0]", speeds)
			}
			if actions[0] != command.Hover {
				t.Fatalf("actions = %v", actions)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("actions = %v speeds = %v", actions, speeds)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRejectedCommandsGetError(t *testing.T) {
	cmd := &fakeCommander{}
	c, cleanup := setupRelay(t, Config{TelemetryInterval: time.Hour}, newTestState(t, 1, 50), cmd)
	defer cleanup()

	if err := c.Send(Command{Action: "barrel_roll"}); err != nil {
		t.Fatal(err)
	}
	m := nextOf[Error](t, c)
	if !strings.Contains(m.Message, "unknown action") {
		t.Fatalf("error = %q", m.Message)
	}

	if err := c.Send(Command{Action: "land", Speed: speed(2)}); err != nil {
		t.Fatal(err)
	}
	m = nextOf[Error](t, c)
	if !strings.Contains(m.Message, "invalid argument") {
		t.Fatalf("error = %q", m.Message)
	}
	if actions, _ := cmd.snapshot(); len(actions) != 0 {
		t.Fatalf("rejected commands ran: %v", actions)
	}
}

func TestFrameRelay(t *testing.T) {
	st := newTestState(t, 1, 50)
	f, err := dronestate.NewFrame(2, 2, bytes.Repeat([]byte{9}, 12))
	if err != nil {
		t.Fatal(err)
	}
	st.SetImage(f)
	c, cleanup := setupRelay(t, Config{
		TelemetryInterval: time.Hour,
		FrameInterval:     10 * time.Millisecond,
	}, st, &fakeCommander{})
	defer cleanup()

	m := nextOf[Frame](t, c)
	if m.Width != 2 || m.Height != 2 || !bytes.Equal(m.Data, f.Pix) {
		t.Fatalf("frame = %+v", m)
	}
}

func TestWrongPasskeyRejected(t *testing.T) {
	passkey, _ := NewPasskey()
	srv, err := Listen(Config{Addr: "127.0.0.1:0", Passkey: passkey}, newTestState(t, 1, 50), &fakeCommander{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go srv.Serve(ctx)

	other, _ := NewPasskey()
	_, err = Dial(ctx, srv.Addr().String(), other)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("dial with wrong passkey = %v", err)
	}
}

func TestListenRequiresPasskey(t *testing.T) {
	if _, err := Listen(Config{Addr: "127.0.0.1:0"}, newTestState(t, 1, 50), &fakeCommander{}); err == nil {
		t.Fatal("expected error")
	}
}
