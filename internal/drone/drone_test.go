package drone

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chronologos/ardrone/internal/atconfig"
	"github.com/chronologos/ardrone/internal/command"
	"github.com/chronologos/ardrone/internal/navdata/navdatatest"
	"github.com/chronologos/ardrone/internal/navlink"
	"github.com/chronologos/ardrone/internal/video"
)

// onceLink delivers one navdata packet and then stays quiet without ever
// timing out, so the navdata channel keeps a single link open.
type onceLink struct {
	ctx  context.Context
	pkt  []byte
	mu   sync.Mutex
	sent bool
}

func (l *onceLink) Wait(timeout time.Duration) (navlink.Ready, error) {
	l.mu.Lock()
	sent := l.sent
	l.mu.Unlock()
	if !sent {
		return navlink.Ready{Navdata: true}, nil
	}
	<-l.ctx.Done()
	return navlink.Ready{}, net.ErrClosed
}

func (l *onceLink) ReadNavdata(buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sent {
		return 0, navlink.ErrWouldBlock
	}
	l.sent = true
	return copy(buf, l.pkt), nil
}

func (l *onceLink) ReadAck([]byte) (int, error) { return 0, navlink.ErrWouldBlock }
func (l *onceLink) Close() error                { return nil }

type pipeDecoder struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

func (d *pipeDecoder) Input() io.WriteCloser { return d.pw }
func (d *pipeDecoder) Output() io.Reader     { return d.pr }
func (d *pipeDecoder) Terminate() error {
	d.pr.CloseWithError(io.ErrClosedPipe)
	return d.pw.Close()
}

// commandSink collects AT datagrams.
type commandSink struct {
	conn *net.UDPConn
	mu   sync.Mutex
	got  []string
}

func setupCommandSink(t *testing.T) (*commandSink, func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	s := &commandSink{conn: conn}
	go func() {
		buf := make([]byte, 2048)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			s.mu.Lock()
			s.got = append(s.got, string(buf[:n]))
			s.mu.Unlock()
		}
	}()
	return s, func() { conn.Close() }
}

func (s *commandSink) port() int { return s.conn.LocalAddr().(*net.UDPAddr).Port }

func (s *commandSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testDeps(pkt []byte) deps {
	return deps{
		navOpener: func(ctx context.Context) (navlink.Link, error) {
			return &onceLink{ctx: ctx, pkt: pkt}, nil
		},
		newDecoder: func(int, int) (video.Decoder, error) {
			pr, pw := io.Pipe()
			return &pipeDecoder{pr: pr, pw: pw}, nil
		},
	}
}

func TestConnectRunsAllChannels(t *testing.T) {
	sink, cleanup := setupCommandSink(t)
	defer cleanup()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	frame := bytes.Repeat([]byte{7}, 360*640*3)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write(frame)
		conn.Close()
	}()

	cfg := Config{
		Host:             "127.0.0.1",
		CommandPort:      sink.port(),
		VideoPort:        ln.Addr().(*net.TCPAddr).Port,
		Video:            true,
		VideoPassthrough: true,
		WatchdogPeriod:   time.Hour,
	}
	cfg.applyDefaults()
	pkt := navdatatest.New(0, 1, 21, 0).Demo(navdatatest.DemoFields{Battery: 99}).Bytes()
	dr, err := connect(context.Background(), cfg, testDeps(pkt))
	if err != nil {
		t.Fatal(err)
	}
	defer dr.Halt()

	waitUntil(t, "startup config", func() bool { return len(sink.all()) >= 22 })
	got := sink.all()
	if !strings.HasPrefix(got[0], "AT*CONFIG_IDS=1,") || !strings.HasPrefix(got[1], "AT*CONFIG=2,\"custom:session_id\"") {
		t.Fatalf("startup began with %q", got[:2])
	}
	if got[21] != "AT*CONFIG=22,\"control:altitude_max\",\"20000\"\r" {
		t.Fatalf("last startup command = %q", got[21])
	}

	waitUntil(t, "telemetry", func() bool { return dr.State.Navdata().Sequence == 21 })
	if dr.State.Telemetry().Demo().Battery != 99 {
		t.Fatal("battery not published")
	}

	waitUntil(t, "frame", func() bool { return dr.State.Image().Pix[0] == 7 })
	select {
	case <-dr.VideoDone():
	case <-time.After(5 * time.Second):
		t.Fatal("video did not stop after the stream closed")
	}
	if !errors.Is(dr.VideoErr(), video.ErrStreamEnded) {
		t.Fatalf("VideoErr = %v", dr.VideoErr())
	}

	// Video going down leaves the other channels running.
	if st := dr.NavStats(); st.State != navlink.Listening {
		t.Fatalf("navdata state = %v", st.State)
	}
	if err := dr.Do(command.Land); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "land", func() bool { return len(sink.all()) == 23 })
	if last := sink.all()[22]; last != "AT*REF=23,290717696\r" {
		t.Fatalf("land = %q", last)
	}
}

func TestHaltStopsEverything(t *testing.T) {
	sink, cleanup := setupCommandSink(t)
	defer cleanup()

	cfg := Config{
		Host:           "127.0.0.1",
		CommandPort:    sink.port(),
		WatchdogPeriod: 20 * time.Millisecond,
		Startup:        []atconfig.Setting{},
	}
	cfg.applyDefaults()
	dr, err := connect(context.Background(), cfg, testDeps(navdatatest.New(0, 0, 1, 0).Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if err := dr.Do(command.Hover); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "keep-alive", func() bool {
		for _, p := range sink.all() {
			if strings.HasPrefix(p, "AT*COMWDG") {
				return true
			}
		}
		return false
	})

	start := time.Now()
	if err := dr.Halt(); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("halt took %v", time.Since(start))
	}
	if st := dr.NavStats(); st.State != navlink.Stopped {
		t.Fatalf("navdata state after halt = %v", st.State)
	}
	if !errors.Is(dr.VideoErr(), errVideoDisabled) {
		t.Fatalf("VideoErr = %v", dr.VideoErr())
	}

	n := len(sink.all())
	time.Sleep(80 * time.Millisecond)
	if len(sink.all()) != n {
		t.Fatal("keep-alive sent after halt")
	}
	if err := dr.Do(command.Land); !errors.Is(err, command.ErrClosed) {
		t.Fatalf("Do after halt = %v", err)
	}
	if err := dr.Halt(); err != nil {
		t.Fatalf("second halt = %v", err)
	}
}

func TestConnectRejectsInvalidStartup(t *testing.T) {
	sink, cleanup := setupCommandSink(t)
	defer cleanup()

	cfg := Config{
		Host:        "127.0.0.1",
		CommandPort: sink.port(),
		Startup:     []atconfig.Setting{{Key: atconfig.KeyBitrateControlMode, Value: 2}},
	}
	cfg.applyDefaults()
	_, err := connect(context.Background(), cfg, testDeps(nil))
	if !errors.Is(err, atconfig.ErrInvalidConfigValue) {
		t.Fatalf("connect = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := sink.all(); len(got) != 0 {
		t.Fatalf("sent %q", got)
	}
}

func TestDecoderFailureLeavesDroneUsable(t *testing.T) {
	sink, cleanup := setupCommandSink(t)
	defer cleanup()

	cfg := Config{
		Host:           "127.0.0.1",
		CommandPort:    sink.port(),
		Video:          true,
		WatchdogPeriod: time.Hour,
		Startup:        []atconfig.Setting{},
	}
	cfg.applyDefaults()
	d := testDeps(navdatatest.New(0, 0, 1, 0).Bytes())
	d.newDecoder = func(int, int) (video.Decoder, error) { return nil, errors.New("ffmpeg: not found") }
	dr, err := connect(context.Background(), cfg, d)
	if err != nil {
		t.Fatal(err)
	}
	defer dr.Halt()

	if !errors.Is(dr.VideoErr(), video.ErrStreamEnded) {
		t.Fatalf("VideoErr = %v", dr.VideoErr())
	}
	if err := dr.Do(command.Takeoff); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultStartup(t *testing.T) {
	for _, hd := range []bool{false, true} {
		settings := DefaultStartup(hd)
		vals, err := atconfig.ValidateAll(settings)
		if err != nil {
			t.Fatal(err)
		}
		codec := vals[8]
		if (hd && codec != "131") || (!hd && codec != "129") {
			t.Fatalf("hd=%v codec = %s", hd, codec)
		}
	}
	h, w := Config{HD: true}.ImageSize()
	if h != 720 || w != 1280 {
		t.Fatalf("HD size = %dx%d", w, h)
	}
}
