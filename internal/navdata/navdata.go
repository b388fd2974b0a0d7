// Package navdata decodes the drone's telemetry packets.
//
// A packet is a 16-byte little-endian header followed by options:
//
//	[4B header][4B state mask][4B sequence][4B vision flag]
//	([2B id][2B size][size-4 bytes payload])*
//
// Option 0 carries the flight demo record. Other options are kept as raw
// bytes.
package navdata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrShortHeader     = errors.New("navdata packet shorter than header")
	ErrTruncatedOption = errors.New("navdata option truncated")
)

const (
	HeaderSize       = 16
	optionHeaderSize = 4

	// DemoOptionID is the id of the flight demo option.
	DemoOptionID = 0
	// DemoPayloadSize is the minimum payload of a demo option.
	DemoPayloadSize = 40
)

// Demo is the flight telemetry carried by option 0. Angles are whole
// degrees, truncated toward zero from the wire's millidegrees.
type Demo struct {
	CtrlState uint32
	Battery   uint32 // percent
	Theta     int32  // pitch
	Phi       int32  // roll
	Psi       int32  // yaw
	Altitude  int32  // millimetres
	VX        float32
	VY        float32
	VZ        float32
	NumFrames uint32
}

// FlightState returns the major control state.
func (d Demo) FlightState() FlightState {
	return FlightState(d.CtrlState >> 16)
}

// Packet is a decoded navdata packet.
type Packet struct {
	Header     uint32
	State      DroneState
	Sequence   uint32
	VisionFlag uint32

	// Options maps option id to its payload, excluding the 4-byte option
	// header. The demo option's payload is also here.
	Options map[uint16][]byte
	Demo    *Demo

	// OptionErr records why option parsing stopped early, if it did. The
	// options before that point are kept.
	OptionErr error
}

// Truncated reports whether option parsing stopped on malformed input.
func (p *Packet) Truncated() bool { return p.OptionErr != nil }

// Decode parses packet. The returned bool reports whether the packet carries
// flight information, i.e. a decoded demo option. Decode only fails when the
// header itself is incomplete. Running out of bytes between options is the
// normal end of a packet; an option whose size overruns the packet ends
// parsing and is noted in OptionErr.
func Decode(packet []byte) (*Packet, bool, error) {
	if len(packet) < HeaderSize {
		return nil, false, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(packet))
	}
	le := binary.LittleEndian
	p := &Packet{
		Header:     le.Uint32(packet[0:]),
		State:      DecodeState(le.Uint32(packet[4:])),
		Sequence:   le.Uint32(packet[8:]),
		VisionFlag: le.Uint32(packet[12:]),
		Options:    make(map[uint16][]byte),
	}

	rest := packet[HeaderSize:]
	for len(rest) >= optionHeaderSize {
		id := le.Uint16(rest[0:])
		size := int(le.Uint16(rest[2:]))
		if size < optionHeaderSize || size > len(rest) {
			p.OptionErr = fmt.Errorf("%w: option %d size %d with %d bytes left", ErrTruncatedOption, id, size, len(rest))
			break
		}
		payload := make([]byte, size-optionHeaderSize)
		copy(payload, rest[optionHeaderSize:size])
		rest = rest[size:]

		if id == DemoOptionID {
			d, err := decodeDemo(payload)
			if err != nil {
				p.OptionErr = err
				break
			}
			p.Demo = d
		}
		p.Options[id] = payload
	}
	return p, p.Demo != nil, nil
}

func decodeDemo(b []byte) (*Demo, error) {
	if len(b) < DemoPayloadSize {
		return nil, fmt.Errorf("%w: demo payload %d bytes, want %d", ErrTruncatedOption, len(b), DemoPayloadSize)
	}
	le := binary.LittleEndian
	f32 := func(off int) float32 { return math.Float32frombits(le.Uint32(b[off:])) }
	return &Demo{
		CtrlState: le.Uint32(b[0:]),
		Battery:   le.Uint32(b[4:]),
		Theta:     milliToDegrees(f32(8)),
		Phi:       milliToDegrees(f32(12)),
		Psi:       milliToDegrees(f32(16)),
		Altitude:  int32(le.Uint32(b[20:])),
		VX:        f32(24),
		VY:        f32(28),
		VZ:        f32(32),
		NumFrames: le.Uint32(b[36:]),
	}, nil
}

// milliToDegrees truncates toward zero. Non-finite and out-of-range inputs
// saturate instead of relying on Go's implementation-defined conversion.
func milliToDegrees(v float32) int32 {
	d := float64(v) / 1000
	switch {
	case math.IsNaN(d):
		return 0
	case d >= math.MaxInt32:
		return math.MaxInt32
	case d <= math.MinInt32:
		return math.MinInt32
	}
	return int32(d)
}
