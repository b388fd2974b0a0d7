package video

import (
	"errors"
	"fmt"
	"io"

	"github.com/chronologos/ardrone/internal/dronestate"
)

// ErrStreamEnded means the decoder's output closed or failed before a full
// frame arrived. It is terminal for the video channel.
var ErrStreamEnded = errors.New("video stream ended")

// FrameReader splits a raw RGB byte stream into frames. There is no
// delimiter; every frame is exactly height*width*3 bytes.
type FrameReader struct {
	r      io.Reader
	height int
	width  int
}

// NewFrameReader reads height x width RGB frames from r.
func NewFrameReader(r io.Reader, height, width int) *FrameReader {
	return &FrameReader{r: r, height: height, width: width}
}

// FrameSize is the byte length of one frame.
func (fr *FrameReader) FrameSize() int { return fr.height * fr.width * 3 }

// ReadFrame reads the next frame into a fresh buffer.
func (fr *FrameReader) ReadFrame() (*dronestate.Frame, error) {
	pix := make([]byte, fr.FrameSize())
	if _, err := io.ReadFull(fr.r, pix); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamEnded, err)
	}
	return dronestate.NewFrame(fr.height, fr.width, pix)
}
