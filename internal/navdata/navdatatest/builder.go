// Package navdatatest builds navdata packets for tests and fake drones.
package navdatatest

import (
	"encoding/binary"
	"math"
)

// DemoFields is the wire form of a demo option. Angles are millidegrees.
type DemoFields struct {
	CtrlState uint32
	Battery   uint32
	Theta     float32
	Phi       float32
	Psi       float32
	Altitude  int32
	VX        float32
	VY        float32
	VZ        float32
	NumFrames uint32
}

// Packet accumulates a navdata packet.
type Packet struct {
	b []byte
}

// New starts a packet with the given header fields.
func New(header, state, seq, vision uint32) *Packet {
	p := &Packet{}
	p.b = binary.LittleEndian.AppendUint32(p.b, header)
	p.b = binary.LittleEndian.AppendUint32(p.b, state)
	p.b = binary.LittleEndian.AppendUint32(p.b, seq)
	p.b = binary.LittleEndian.AppendUint32(p.b, vision)
	return p
}

// Option appends an option whose size field is len(payload)+4.
func (p *Packet) Option(id uint16, payload []byte) *Packet {
	return p.OptionWithSize(id, uint16(len(payload)+4), payload)
}

// OptionWithSize appends an option with an arbitrary size field.
func (p *Packet) OptionWithSize(id, size uint16, payload []byte) *Packet {
	p.b = binary.LittleEndian.AppendUint16(p.b, id)
	p.b = binary.LittleEndian.AppendUint16(p.b, size)
	p.b = append(p.b, payload...)
	return p
}

// Demo appends a demo option.
func (p *Packet) Demo(d DemoFields) *Packet {
	return p.Option(0, DemoPayload(d))
}

// Bytes returns the packet.
func (p *Packet) Bytes() []byte {
	return append([]byte(nil), p.b...)
}

// DemoPayload encodes d as a 40-byte demo payload.
func DemoPayload(d DemoFields) []byte {
	le := binary.LittleEndian
	b := make([]byte, 0, 40)
	b = le.AppendUint32(b, d.CtrlState)
	b = le.AppendUint32(b, d.Battery)
	b = le.AppendUint32(b, math.Float32bits(d.Theta))
	b = le.AppendUint32(b, math.Float32bits(d.Phi))
	b = le.AppendUint32(b, math.Float32bits(d.Psi))
	b = le.AppendUint32(b, uint32(d.Altitude))
	b = le.AppendUint32(b, math.Float32bits(d.VX))
	b = le.AppendUint32(b, math.Float32bits(d.VY))
	b = le.AppendUint32(b, math.Float32bits(d.VZ))
	b = le.AppendUint32(b, d.NumFrames)
	return b
}
