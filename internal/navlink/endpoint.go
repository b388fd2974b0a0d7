package navlink

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"
)

// activation is sent to the drone's navdata port to start the stream.
var activation = []byte{0x01, 0x00, 0x00, 0x00}

// DefaultConnectTimeout bounds the control connection's TCP handshake.
const DefaultConnectTimeout = 1 * time.Second

// Endpoint describes where a link connects.
type Endpoint struct {
	Host           string // drone address
	NavdataPort    int    // drone's navdata port, the activation target
	ControlPort    int    // drone's control port
	LocalAddr      string // local navdata bind address, e.g. ":5554"
	ConnectTimeout time.Duration
}

func (e *Endpoint) applyDefaults() {
	if e.NavdataPort == 0 {
		e.NavdataPort = DefaultNavdataPort
	}
	if e.ControlPort == 0 {
		e.ControlPort = DefaultControlPort
	}
	if e.LocalAddr == "" {
		e.LocalAddr = ":" + strconv.Itoa(DefaultNavdataPort)
	}
	if e.ConnectTimeout <= 0 {
		e.ConnectTimeout = DefaultConnectTimeout
	}
}

// NewOpener returns an Opener for real sockets on ep.
func NewOpener(ep Endpoint) Opener {
	ep.applyDefaults()
	return func(ctx context.Context) (Link, error) {
		return openPollLink(ctx, ep)
	}
}

// resolve4 returns an IPv4 address for host.
func resolve4(ctx context.Context, host string) ([4]byte, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		if !a.Unmap().Is4() {
			return [4]byte{}, fmt.Errorf("resolve %s: not an IPv4 address", host)
		}
		return a.Unmap().As4(), nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return [4]byte{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return [4]byte{}, fmt.Errorf("resolve %s: no IPv4 address", host)
	}
	return addrs[0].Unmap().As4(), nil
}

// parseLocal splits a bind address. An empty host binds every interface.
func parseLocal(addr string) ([4]byte, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return [4]byte{}, 0, fmt.Errorf("local address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return [4]byte{}, 0, fmt.Errorf("local address %q: bad port", addr)
	}
	if host == "" {
		return [4]byte{}, port, nil
	}
	a, err := netip.ParseAddr(host)
	if err != nil || !a.Unmap().Is4() {
		return [4]byte{}, 0, fmt.Errorf("local address %q: not an IPv4 address", addr)
	}
	return a.Unmap().As4(), port, nil
}
