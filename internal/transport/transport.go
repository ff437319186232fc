// Package transport provides the connection-oriented byte streams that carry
// chat sessions. TCP is the default; QUIC runs one bidirectional stream per
// connection.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"
)

type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetWriteDeadline(t time.Time) error
}

type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

type Transport interface {
	Listen(addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
	Close() error
	Kind() Kind
}

type Kind string

const (
	KindTCP  Kind = "tcp"
	KindQUIC Kind = "quic"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTCP, "":
		return KindTCP, nil
	case KindQUIC:
		return KindQUIC, nil
	default:
		return "", fmt.Errorf("unknown transport %q (want tcp or quic)", s)
	}
}

// New builds a transport whose outbound connections originate from local, so
// that the remote side sees the same address it would dial back.
func New(kind Kind, local netip.Addr) (Transport, error) {
	switch kind {
	case KindTCP, "":
		return NewTCP(local), nil
	case KindQUIC:
		return NewQUIC(local)
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// HostOf extracts the unmapped host address from a net.Addr.
func HostOf(addr net.Addr) (netip.Addr, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return netip.Addr{}, fmt.Errorf("invalid address %s", a)
		}
		return ip.Unmap(), nil
	case *net.UDPAddr:
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return netip.Addr{}, fmt.Errorf("invalid address %s", a)
		}
		return ip.Unmap(), nil
	}

	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parsing address %s: %w", addr, err)
	}
	return ap.Addr().Unmap(), nil
}
