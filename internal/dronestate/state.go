// Package dronestate holds the latest video frame and the latest navdata
// packet. The navdata and video channels each write one field; any number of
// readers may load either field at any time. Each field is replaced as a
// whole, so a reader never sees a partially written frame or packet. The two
// fields are independent and may come from different instants.
package dronestate

import (
	"sync/atomic"
	"time"

	"github.com/chronologos/ardrone/internal/navdata"
)

// Telemetry is a published navdata packet and the time it was published.
type Telemetry struct {
	Packet   *navdata.Packet
	Received time.Time
}

// Demo returns the packet's demo view. Published packets always have one.
func (t *Telemetry) Demo() navdata.Demo {
	if t.Packet == nil || t.Packet.Demo == nil {
		return navdata.Demo{}
	}
	return *t.Packet.Demo
}

// State is the shared drone state.
type State struct {
	image     atomic.Pointer[Frame]
	telemetry atomic.Pointer[Telemetry]
	frames    atomic.Uint64
	packets   atomic.Uint64
}

// New returns a state seeded with a blank frame of the given size and a
// zero telemetry record, so readers never see nil.
func New(height, width int) *State {
	s := &State{}
	s.image.Store(BlankFrame(height, width))
	s.telemetry.Store(&Telemetry{Packet: &navdata.Packet{
		Options: map[uint16][]byte{},
		Demo:    &navdata.Demo{},
	}})
	return s
}

// Image returns the latest frame.
func (s *State) Image() *Frame { return s.image.Load() }

// SetImage publishes f. The caller must not modify f afterwards.
func (s *State) SetImage(f *Frame) {
	s.image.Store(f)
	s.frames.Add(1)
}

// Telemetry returns the latest telemetry record.
func (s *State) Telemetry() *Telemetry { return s.telemetry.Load() }

// Navdata returns the latest published packet.
func (s *State) Navdata() *navdata.Packet { return s.telemetry.Load().Packet }

// SetNavdata publishes p. The caller must not modify p afterwards.
func (s *State) SetNavdata(p *navdata.Packet) {
	s.telemetry.Store(&Telemetry{Packet: p, Received: time.Now()})
	s.packets.Add(1)
}

// Counts returns how many frames and navdata packets have been published.
func (s *State) Counts() (frames, packets uint64) {
	return s.frames.Load(), s.packets.Load()
}
