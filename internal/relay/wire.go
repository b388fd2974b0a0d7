package relay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrUnknownMessage  = errors.New("unknown message type")
	ErrShortPayload    = errors.New("payload too short for message type")
	ErrAuthFailed      = errors.New("relay authentication failed")
)

// Header: [4B payload_length big-endian][1B message_type]
const HeaderSize = 5

// Maximum payload size (4 MB). A 1280x720 RGB frame fits.
const MaxPayloadSize = 4 * 1024 * 1024

// MessageType identifies the type of a framed message.
type MessageType byte

const (
	MsgAuthRequest  MessageType = 0x01
	MsgAuthResponse MessageType = 0x02

	// Server to client
	MsgTelemetry MessageType = 0x20
	MsgFrame     MessageType = 0x21
	MsgError     MessageType = 0x22

	// Client to server
	MsgCommand MessageType = 0x30
)

// AuthStatus is the result of an authentication attempt.
type AuthStatus byte

const (
	AuthOK     AuthStatus = 0
	AuthFailed AuthStatus = 1
)

const (
	AuthRequestSize  = 32 // HMAC token
	AuthResponseSize = 1  // status byte
)

type AuthRequest struct {
	Token [32]byte
}

type AuthResponse struct {
	Status AuthStatus
}

// Telemetry is one navdata packet as seen by remote consumers. Angles are in
// degrees and altitude in millimetres.
type Telemetry struct {
	Sequence    uint32  `msgpack:"seq"`
	State       uint32  `msgpack:"state"`
	FlightState string  `msgpack:"flight_state"`
	Battery     uint32  `msgpack:"battery"`
	Theta       int32   `msgpack:"theta"`
	Phi         int32   `msgpack:"phi"`
	Psi         int32   `msgpack:"psi"`
	Altitude    int32   `msgpack:"altitude"`
	VX          float32 `msgpack:"vx"`
	VY          float32 `msgpack:"vy"`
	VZ          float32 `msgpack:"vz"`
	Losses      uint64  `msgpack:"losses"`
	ReceivedMs  int64   `msgpack:"ts,omitempty"`
}

// Frame is a decoded RGB image.
type Frame struct {
	Width  uint32 `msgpack:"width"`
	Height uint32 `msgpack:"height"`
	Data   []byte `msgpack:"data"`
}

// Command asks the server to run a flight action. A non-nil Speed, zero
// included, is applied before the action; an empty Action only changes the
// speed.
type Command struct {
	Action string   `msgpack:"action"`
	Speed  *float64 `msgpack:"speed,omitempty"`
}

// Error reports a rejected command.
type Error struct {
	Message string `msgpack:"message"`
}

// WriteMessage writes a framed message (header + payload) to w.
func WriteMessage(w io.Writer, msg any) error {
	var msgType MessageType
	var payload []byte
	var scratch [AuthRequestSize]byte

	switch m := msg.(type) {
	case *AuthRequest:
		msgType = MsgAuthRequest
		payload = m.Token[:]
	case *AuthResponse:
		msgType = MsgAuthResponse
		scratch[0] = byte(m.Status)
		payload = scratch[:1]
	case *Telemetry, *Frame, *Error, *Command:
		msgType = typeOf(m)
		var err error
		if payload, err = msgpack.Marshal(m); err != nil {
			return fmt.Errorf("encode %T: %w", m, err)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}

	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	hdr[4] = byte(msgType)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func typeOf(msg any) MessageType {
	switch msg.(type) {
	case *Telemetry:
		return MsgTelemetry
	case *Frame:
		return MsgFrame
	case *Error:
		return MsgError
	default:
		return MsgCommand
	}
}

// ReadMessage reads a framed message from r.
func ReadMessage(r io.Reader) (any, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	payloadLen := binary.BigEndian.Uint32(header[0:4])
	msgType := MessageType(header[4])

	if payloadLen > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	return DecodePayload(msgType, payload)
}

// DecodePayload decodes a raw payload given its message type.
func DecodePayload(msgType MessageType, payload []byte) (any, error) {
	var msg any
	switch msgType {
	case MsgAuthRequest:
		if len(payload) < AuthRequestSize {
			return nil, ErrShortPayload
		}
		req := &AuthRequest{}
		copy(req.Token[:], payload[:AuthRequestSize])
		return req, nil
	case MsgAuthResponse:
		if len(payload) < AuthResponseSize {
			return nil, ErrShortPayload
		}
		return &AuthResponse{Status: AuthStatus(payload[0])}, nil
	case MsgTelemetry:
		msg = &Telemetry{}
	case MsgFrame:
		msg = &Frame{}
	case MsgError:
		msg = &Error{}
	case MsgCommand:
		msg = &Command{}
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMessage, byte(msgType))
	}
	if err := msgpack.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("decode message 0x%02x: %w", byte(msgType), err)
	}
	return msg, nil
}
