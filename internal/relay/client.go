package relay

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

// Client is an authenticated relay connection.
type Client struct {
	tr     *quic.Transport
	qconn  *quic.Conn
	stream *quic.Stream

	wmu       sync.Mutex
	closeOnce sync.Once
}

// Dial connects to a relay server at addr and authenticates with passkey.
func Dial(ctx context.Context, addr string, passkey []byte) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	qconn, err := tr.Dial(ctx, raddr, relayTLS(nil), quicConfig())
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}

	stream, err := performAuth(ctx, qconn, passkey)
	if err != nil {
		qconn.CloseWithError(1, "auth failed")
		tr.Close()
		return nil, err
	}
	return &Client{tr: tr, qconn: qconn, stream: stream}, nil
}

func performAuth(ctx context.Context, qconn *quic.Conn, passkey []byte) (*quic.Stream, error) {
	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	material, err := sessionMaterial(qconn)
	if err != nil {
		return nil, fmt.Errorf("export keying material: %w", err)
	}
	if err := WriteMessage(stream, &AuthRequest{
		Token: SessionToken(passkey, material),
	}); err != nil {
		return nil, fmt.Errorf("write auth request: %w", err)
	}

	msg, err := ReadMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read auth response: %w", err)
	}
	resp, ok := msg.(*AuthResponse)
	if !ok {
		return nil, fmt.Errorf("expected AuthResponse, got %T", msg)
	}
	if resp.Status != AuthOK {
		return nil, fmt.Errorf("%w: status %d", ErrAuthFailed, resp.Status)
	}
	return stream, nil
}

// Next blocks for the next server message: *Telemetry, *Frame or *Error.
func (c *Client) Next() (any, error) {
	return ReadMessage(c.stream)
}

// Send asks the server to run cmd.
func (c *Client) Send(cmd Command) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteMessage(c.stream, &cmd)
}

// Close tears down the connection. A blocked Next returns an error.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stream.CancelRead(0)
		c.stream.Close()
		c.qconn.CloseWithError(0, "closed")
		err = c.tr.Close()
	})
	return err
}
