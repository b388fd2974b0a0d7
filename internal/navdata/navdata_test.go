package navdata_test

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/chronologos/ardrone/internal/navdata"
	"github.com/chronologos/ardrone/internal/navdata/navdatatest"
)

var sampleDemo = navdatatest.DemoFields{
	CtrlState: 262144,
	Battery:   87,
	Theta:     4500,
	Phi:       -1500,
	Psi:       179999,
	Altitude:  1234,
	VX:        0.5,
	VY:        -0.25,
	VZ:        0,
	NumFrames: 42,
}

func TestDecodeDemoPacket(t *testing.T) {
	raw := navdatatest.New(0, 0b01, 5, 0).Demo(sampleDemo).Bytes()

	p, flight, err := navdata.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !flight {
		t.Fatal("expected flight info")
	}
	if !p.State.Fly || p.State.Video {
		t.Fatalf("state flags wrong: %+v", p.State)
	}
	if p.Sequence != 5 {
		t.Fatalf("sequence = %d", p.Sequence)
	}
	want := navdata.Demo{
		CtrlState: 262144,
		Battery:   87,
		Theta:     4,
		Phi:       -1,
		Psi:       179,
		Altitude:  1234,
		VX:        0.5,
		VY:        -0.25,
		VZ:        0,
		NumFrames: 42,
	}
	if *p.Demo != want {
		t.Fatalf("demo = %+v, want %+v", *p.Demo, want)
	}
	if p.Demo.FlightState() != navdata.StateHovering {
		t.Fatalf("flight state = %v", p.Demo.FlightState())
	}
	if p.Truncated() {
		t.Fatalf("unexpected option error: %v", p.OptionErr)
	}
}

func TestAngleTruncatesTowardZero(t *testing.T) {
	tests := []struct {
		milli float32
		want  int32
	}{
		{4500, 4},
		{-1500, -1},
		{999, 0},
		{-999, 0},
		{-180000, -180},
		{3e12, 2147483647},
	}
	for _, tt := range tests {
		d := sampleDemo
		d.Theta = tt.milli
		p, _, err := navdata.Decode(navdatatest.New(0, 0, 1, 0).Demo(d).Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if p.Demo.Theta != tt.want {
			t.Errorf("theta %v millideg = %d, want %d", tt.milli, p.Demo.Theta, tt.want)
		}
	}
}

func TestDecodeShortHeader(t *testing.T) {
	for _, n := range []int{0, 1, 15} {
		_, flight, err := navdata.Decode(make([]byte, n))
		if !errors.Is(err, navdata.ErrShortHeader) {
			t.Fatalf("%d bytes: error = %v", n, err)
		}
		if flight {
			t.Fatalf("%d bytes: flight info on failed decode", n)
		}
	}
}

func TestDecodeHeaderOnly(t *testing.T) {
	p, flight, err := navdata.Decode(navdatatest.New(0x55667788, 1<<31, 9, 1).Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if flight || p.Demo != nil {
		t.Fatal("header-only packet reported flight info")
	}
	if !p.State.Emergency || p.State.Fly {
		t.Fatalf("state flags wrong: %+v", p.State)
	}
	if p.Header != 0x55667788 || p.VisionFlag != 1 || len(p.Options) != 0 {
		t.Fatalf("unexpected packet %+v", p)
	}
}

func TestUnknownOptionsKeptRaw(t *testing.T) {
	raw := navdatatest.New(0, 0, 1, 0).
		Option(16, []byte{1, 2, 3}).
		Demo(sampleDemo).
		Option(0xFFFF, []byte{9, 9, 9, 9}).
		Bytes()

	p, flight, err := navdata.Decode(raw)
	if err != nil || !flight {
		t.Fatalf("flight=%v err=%v", flight, err)
	}
	if !bytes.Equal(p.Options[16], []byte{1, 2, 3}) {
		t.Fatalf("option 16 = %v", p.Options[16])
	}
	if !bytes.Equal(p.Options[0xFFFF], []byte{9, 9, 9, 9}) {
		t.Fatalf("option 0xffff = %v", p.Options[0xFFFF])
	}
	if len(p.Options[navdata.DemoOptionID]) != navdata.DemoPayloadSize {
		t.Fatalf("demo payload kept with %d bytes", len(p.Options[0]))
	}
}

func TestTruncatedOptionKeepsEarlierOptions(t *testing.T) {
	full := navdatatest.New(0, 0, 1, 0).
		Option(3, []byte{7, 7}).
		Demo(sampleDemo).
		Bytes()

	// Cut the demo option short.
	raw := full[:len(full)-10]
	p, flight, err := navdata.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if flight || p.Demo != nil {
		t.Fatal("truncated demo reported as flight info")
	}
	if !errors.Is(p.OptionErr, navdata.ErrTruncatedOption) {
		t.Fatalf("OptionErr = %v", p.OptionErr)
	}
	if !bytes.Equal(p.Options[3], []byte{7, 7}) {
		t.Fatalf("earlier option lost: %v", p.Options)
	}
	if _, ok := p.Options[0]; ok {
		t.Fatal("partial demo option stored")
	}
}

func TestDemoPayloadTooSmall(t *testing.T) {
	raw := navdatatest.New(0, 0, 1, 0).Option(0, make([]byte, 36)).Bytes()
	p, flight, err := navdata.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if flight || !errors.Is(p.OptionErr, navdata.ErrTruncatedOption) {
		t.Fatalf("flight=%v OptionErr=%v", flight, p.OptionErr)
	}
}

func TestZeroSizeOptionStopsParsing(t *testing.T) {
	raw := navdatatest.New(0, 0, 1, 0).OptionWithSize(5, 0, nil).Demo(sampleDemo).Bytes()
	p, flight, err := navdata.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if flight || !p.Truncated() {
		t.Fatalf("flight=%v truncated=%v", flight, p.Truncated())
	}
}

func TestTrailingBytesAreEndOfPacket(t *testing.T) {
	raw := append(navdatatest.New(0, 0, 1, 0).Demo(sampleDemo).Bytes(), 0xAA, 0xBB)
	p, flight, err := navdata.Decode(raw)
	if err != nil || !flight {
		t.Fatalf("flight=%v err=%v", flight, err)
	}
	if p.Truncated() {
		t.Fatalf("trailing bytes flagged: %v", p.OptionErr)
	}
}

func TestDecodeIsPure(t *testing.T) {
	raw := navdatatest.New(1, 0xF0F0, 77, 0).Option(9, []byte{1}).Demo(sampleDemo).Bytes()
	orig := append([]byte(nil), raw...)

	a, fa, _ := navdata.Decode(raw)
	b, fb, _ := navdata.Decode(raw)
	if fa != fb || !reflect.DeepEqual(a, b) {
		t.Fatal("decode results differ for identical input")
	}
	if !bytes.Equal(raw, orig) {
		t.Fatal("decode mutated its input")
	}
	// Returned payloads must not alias the input buffer.
	raw[navdata.HeaderSize+4] = 0xEE
	if a.Options[9][0] != 1 {
		t.Fatal("option payload aliases input")
	}
}

func TestDecodeStateBits(t *testing.T) {
	tests := []struct {
		bit   uint
		check func(navdata.DroneState) bool
	}{
		{0, func(s navdata.DroneState) bool { return s.Fly }},
		{1, func(s navdata.DroneState) bool { return s.Video }},
		{10, func(s navdata.DroneState) bool { return s.NavdataDemo }},
		{13, func(s navdata.DroneState) bool { return s.ComLost }},
		{15, func(s navdata.DroneState) bool { return s.VBatLow }},
		{19, func(s navdata.DroneState) bool { return s.AnglesOutOfRange }},
		{30, func(s navdata.DroneState) bool { return s.ComWatchdog }},
		{31, func(s navdata.DroneState) bool { return s.Emergency }},
	}
	for _, tt := range tests {
		s := navdata.DecodeState(1 << tt.bit)
		if !tt.check(s) {
			t.Errorf("bit %d not decoded", tt.bit)
		}
		if s.Raw != 1<<tt.bit {
			t.Errorf("bit %d: raw = %#x", tt.bit, s.Raw)
		}
	}
	if s := navdata.DecodeState(1 << 14); s != (navdata.DroneState{Raw: 1 << 14}) {
		t.Errorf("unused bit 14 set a flag: %+v", s)
	}
}

func TestFlightStateString(t *testing.T) {
	tests := map[uint32]string{
		131072: "landed",
		393216: "taking off",
		393217: "taking off",
		262144: "hovering",
		524288: "landing",
		458752: "goto fix",
		196608: "flying",
	}
	for ctrl, want := range tests {
		if got := (navdata.Demo{CtrlState: ctrl}).FlightState().String(); got != want {
			t.Errorf("ctrl_state %d = %q, want %q", ctrl, got, want)
		}
	}
	if got := navdata.FlightState(77).String(); got != "FlightState(77)" {
		t.Errorf("got %q", got)
	}
}
