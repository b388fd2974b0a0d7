package video

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"
)

// PaVE ("Parrot Video Encapsulation") frames the drone's video stream:
// every encoded frame, or chunk of one, follows a little-endian header that
// starts with the "PaVE" signature and gives its own length and the length
// of the payload after it.
var paveSignature = []byte("PaVE")

const (
	paveMinHeaderSize = 32
	paveMaxHeaderSize = 1024
	paveMaxPayload    = 4 << 20
	paveSizeOffset    = 12 // bytes needed to read header and payload size
)

var errNotPaVE = errors.New("not a PaVE header")

// Header is a parsed PaVE header.
type Header struct {
	Version       uint8
	Codec         uint8
	HeaderSize    uint16
	PayloadSize   uint32
	EncodedWidth  uint16
	EncodedHeight uint16
	DisplayWidth  uint16
	DisplayHeight uint16
	FrameNumber   uint32
	Timestamp     uint32 // milliseconds
	TotalChunks   uint8
	ChunkIndex    uint8
	FrameType     uint8
	Control       uint8
}

// ParseHeader parses the fixed part of a PaVE header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < paveMinHeaderSize || !bytes.HasPrefix(b, paveSignature) {
		return Header{}, errNotPaVE
	}
	le := binary.LittleEndian
	return Header{
		Version:       b[4],
		Codec:         b[5],
		HeaderSize:    le.Uint16(b[6:]),
		PayloadSize:   le.Uint32(b[8:]),
		EncodedWidth:  le.Uint16(b[12:]),
		EncodedHeight: le.Uint16(b[14:]),
		DisplayWidth:  le.Uint16(b[16:]),
		DisplayHeight: le.Uint16(b[18:]),
		FrameNumber:   le.Uint32(b[20:]),
		Timestamp:     le.Uint32(b[24:]),
		TotalChunks:   b[28],
		ChunkIndex:    b[29],
		FrameType:     b[30],
		Control:       b[31],
	}, nil
}

// Demuxer is an io.Writer that strips PaVE headers from the transport
// stream and writes only the payload bytes to dst. Bytes that are not part
// of a well-formed frame are skipped until the next signature.
type Demuxer struct {
	dst       io.Writer
	store     []byte
	buf       []byte
	remaining uint32
	synced    bool
	last      atomic.Pointer[Header]

	headers atomic.Uint64
	resyncs atomic.Uint64
	skipped atomic.Uint64
}

// NewDemuxer returns a demuxer writing payloads to dst.
func NewDemuxer(dst io.Writer) *Demuxer {
	return &Demuxer{dst: dst, synced: true}
}

// DemuxStats counts what the demuxer has seen.
type DemuxStats struct {
	Headers uint64 // PaVE headers parsed
	Resyncs uint64 // times sync was lost
	Skipped uint64 // bytes discarded while out of sync
}

// Stats returns a snapshot of the counters. It is safe to call while
// another goroutine writes.
func (d *Demuxer) Stats() DemuxStats {
	return DemuxStats{
		Headers: d.headers.Load(),
		Resyncs: d.resyncs.Load(),
		Skipped: d.skipped.Load(),
	}
}

// Last returns the most recent header, or nil.
func (d *Demuxer) Last() *Header { return d.last.Load() }

// Write consumes p. It returns an error only when dst fails.
func (d *Demuxer) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	err := d.process()
	// Keep the unconsumed tail at the front of the backing array.
	d.store = append(d.store[:0], d.buf...)
	d.buf = d.store
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *Demuxer) process() error {
	for {
		if d.remaining > 0 {
			if len(d.buf) == 0 {
				return nil
			}
			n := len(d.buf)
			if uint32(n) > d.remaining {
				n = int(d.remaining)
			}
			if _, err := d.dst.Write(d.buf[:n]); err != nil {
				return err
			}
			d.buf = d.buf[n:]
			d.remaining -= uint32(n)
			continue
		}

		if len(d.buf) < len(paveSignature) {
			return nil
		}
		if !bytes.HasPrefix(d.buf, paveSignature) {
			i := bytes.Index(d.buf, paveSignature)
			if i < 0 {
				// A signature may straddle the next write.
				d.skip(len(d.buf) - (len(paveSignature) - 1))
				return nil
			}
			d.skip(i)
			continue
		}
		if len(d.buf) < paveSizeOffset {
			return nil
		}
		hs := int(binary.LittleEndian.Uint16(d.buf[6:]))
		ps := binary.LittleEndian.Uint32(d.buf[8:])
		if hs < paveMinHeaderSize || hs > paveMaxHeaderSize || ps > paveMaxPayload {
			d.skip(1)
			continue
		}
		if len(d.buf) < hs {
			return nil
		}
		h, err := ParseHeader(d.buf[:hs])
		if err != nil {
			d.skip(1)
			continue
		}
		d.last.Store(&h)
		d.headers.Add(1)
		d.synced = true
		d.buf = d.buf[hs:]
		d.remaining = ps
	}
}

func (d *Demuxer) skip(n int) {
	if n <= 0 {
		return
	}
	if d.synced {
		d.synced = false
		d.resyncs.Add(1)
	}
	d.skipped.Add(uint64(n))
	d.buf = d.buf[n:]
}
