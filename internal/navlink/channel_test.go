package navlink

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/chronologos/ardrone/internal/navdata"
	"github.com/chronologos/ardrone/internal/navdata/navdatatest"
)

// step scripts one Wait call on the fake link.
type step struct {
	ready  Ready
	nav    [][]byte // datagrams queued before Wait returns
	ack    []byte   // control bytes queued before Wait returns
	ackEOF bool     // control peer closes
	cancel bool     // cancel the run context inside this Wait
}

// fakeDrone scripts every link it opens from one shared list of steps.
type fakeDrone struct {
	mu        sync.Mutex
	steps     []step
	failOpens int
	opens     int
	closes    int
	cancel    context.CancelFunc

	nav    [][]byte
	ack    []byte
	ackEOF bool
}

func (d *fakeDrone) open(ctx context.Context) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOpens > 0 {
		d.failOpens--
		return nil, errors.New("connection refused")
	}
	d.opens++
	d.nav, d.ack, d.ackEOF = nil, nil, false
	return &fakeLink{d: d}, nil
}

type fakeLink struct {
	d      *fakeDrone
	closed bool
}

func (l *fakeLink) Wait(time.Duration) (Ready, error) {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.steps) == 0 {
		d.cancel()
		return Ready{}, net.ErrClosed
	}
	s := d.steps[0]
	d.steps = d.steps[1:]
	d.nav = append(d.nav, s.nav...)
	d.ack = append(d.ack, s.ack...)
	d.ackEOF = d.ackEOF || s.ackEOF
	if s.cancel {
		d.cancel()
	}
	return s.ready, nil
}

func (l *fakeLink) ReadNavdata(buf []byte) (int, error) {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.nav) == 0 {
		return 0, ErrWouldBlock
	}
	n := copy(buf, d.nav[0])
	d.nav = d.nav[1:]
	return n, nil
}

func (l *fakeLink) ReadAck(buf []byte) (int, error) {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ack) > 0 {
		n := copy(buf, d.ack)
		d.ack = d.ack[n:]
		return n, nil
	}
	if d.ackEOF {
		return 0, nil
	}
	return 0, ErrWouldBlock
}

func (l *fakeLink) Close() error {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !l.closed {
		l.closed = true
		d.closes++
	}
	return nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	packets []*navdata.Packet
}

func (p *recordingPublisher) SetNavdata(pkt *navdata.Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packets = append(p.packets, pkt)
}

func (p *recordingPublisher) all() []*navdata.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*navdata.Packet(nil), p.packets...)
}

func flightPacket(seq uint32) []byte {
	return navdatatest.New(0, 1, seq, 0).Demo(navdatatest.DemoFields{Battery: 50, NumFrames: seq}).Bytes()
}

// runScript runs a channel against the scripted drone until the script
// cancels the context.
func runScript(t *testing.T, d *fakeDrone, cfg Config) (*Channel, *recordingPublisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.cancel = cancel
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = 10 * time.Millisecond
	}
	pub := &recordingPublisher{}
	c := New(d.open, pub, cfg)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	return c, pub
}

func TestThreeTimeoutsReconnectThreeTimes(t *testing.T) {
	d := &fakeDrone{steps: []step{
		{},
		{},
		{},
		{
			ready:  Ready{Navdata: true},
			nav:    [][]byte{navdatatest.New(0, 0, 9, 0).Bytes()},
			cancel: true,
		},
	}}
	c, pub := runScript(t, d, Config{})

	st := c.Stats()
	if st.Losses != 3 {
		t.Errorf("losses = %d, want 3", st.Losses)
	}
	if st.Reconnects != 3 {
		t.Errorf("reconnects = %d, want 3", st.Reconnects)
	}
	if d.opens != 4 || d.closes != 4 {
		t.Errorf("opens = %d, closes = %d, want 4 and 4", d.opens, d.closes)
	}
	if len(pub.all()) != 0 {
		t.Errorf("published %d packets without flight info", len(pub.all()))
	}
	if st.Decoded != 1 || st.Published != 0 {
		t.Errorf("decoded = %d, published = %d", st.Decoded, st.Published)
	}
	if st.State != Stopped {
		t.Errorf("state = %v, want stopped", st.State)
	}
}

func TestDrainPublishesNewestOnly(t *testing.T) {
	d := &fakeDrone{steps: []step{{
		ready:  Ready{Navdata: true},
		nav:    [][]byte{flightPacket(1), flightPacket(2), flightPacket(3)},
		cancel: true,
	}}}
	c, pub := runScript(t, d, Config{})

	got := pub.all()
	if len(got) != 1 || got[0].Sequence != 3 {
		t.Fatalf("published %d packets, want only seq 3", len(got))
	}
	if st := c.Stats(); st.Dropped != 2 || st.Published != 1 {
		t.Fatalf("dropped = %d, published = %d", st.Dropped, st.Published)
	}
}

func TestDrainIsBounded(t *testing.T) {
	d := &fakeDrone{steps: []step{
		{
			ready: Ready{Navdata: true},
			nav:   [][]byte{flightPacket(1), flightPacket(2), flightPacket(3), flightPacket(4), flightPacket(5)},
		},
		{ready: Ready{Navdata: true}, cancel: true},
	}}
	_, pub := runScript(t, d, Config{MaxDrain: 2})

	got := pub.all()
	if len(got) != 2 || got[0].Sequence != 2 || got[1].Sequence != 4 {
		seqs := make([]uint32, len(got))
		for i, p := range got {
			seqs[i] = p.Sequence
		}
		t.Fatalf("published sequences %v, want [2 4]", seqs)
	}
}

func TestUndecodableDatagramIsNotPublished(t *testing.T) {
	d := &fakeDrone{steps: []step{{
		ready:  Ready{Navdata: true},
		nav:    [][]byte{{1, 2, 3}},
		cancel: true,
	}}}
	c, pub := runScript(t, d, Config{})

	if len(pub.all()) != 0 {
		t.Fatal("published a short datagram")
	}
	if st := c.Stats(); st.DecodeErrors != 1 || st.Decoded != 0 {
		t.Fatalf("decodeErrors = %d, decoded = %d", st.DecodeErrors, st.Decoded)
	}
}

func TestPeerCloseForcesReconnect(t *testing.T) {
	d := &fakeDrone{steps: []step{
		{ready: Ready{Ack: true}, ackEOF: true},
		{ready: Ready{Navdata: true}, nav: [][]byte{flightPacket(7)}, cancel: true},
	}}
	c, pub := runScript(t, d, Config{})

	st := c.Stats()
	if st.Reconnects != 1 || st.Losses != 0 {
		t.Fatalf("reconnects = %d, losses = %d", st.Reconnects, st.Losses)
	}
	if d.opens != 2 {
		t.Fatalf("opens = %d, want 2", d.opens)
	}
	if len(pub.all()) != 1 {
		t.Fatal("telemetry after reconnect was not published")
	}
}

func TestAckDataIsConsumed(t *testing.T) {
	d := &fakeDrone{steps: []step{
		{ready: Ready{Ack: true}, ack: []byte("ack")},
		{ready: Ready{Ack: true}, ack: []byte("more"), cancel: true},
	}}
	c, _ := runScript(t, d, Config{})

	st := c.Stats()
	if st.AckBytes != 7 {
		t.Fatalf("ack bytes = %d, want 7", st.AckBytes)
	}
	if st.Reconnects != 0 || d.opens != 1 {
		t.Fatalf("reconnects = %d, opens = %d", st.Reconnects, d.opens)
	}
}

func TestOpenFailureIsRetried(t *testing.T) {
	d := &fakeDrone{
		failOpens: 2,
		steps:     []step{{ready: Ready{Navdata: true}, nav: [][]byte{flightPacket(1)}, cancel: true}},
	}
	c, pub := runScript(t, d, Config{})

	st := c.Stats()
	if st.OpenFailures != 2 || st.Opens != 1 {
		t.Fatalf("openFailures = %d, opens = %d", st.OpenFailures, st.Opens)
	}
	if st.Losses != 0 {
		t.Fatalf("open failures counted as losses: %d", st.Losses)
	}
	if len(pub.all()) != 1 {
		t.Fatal("expected one published packet")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Connecting:   "connecting",
		Listening:    "listening",
		Reconnecting: "reconnecting",
		Stopped:      "stopped",
		State(9):     "State(9)",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
