package transport

import (
	"context"
	"net"
	"net/netip"
)

type TCPTransport struct {
	dialer net.Dialer
}

func NewTCP(local netip.Addr) *TCPTransport {
	t := &TCPTransport{}
	if local.IsValid() && !local.IsUnspecified() {
		t.dialer.LocalAddr = &net.TCPAddr{IP: local.AsSlice()}
	}
	return t
}

func (t *TCPTransport) Kind() Kind { return KindTCP }

func (t *TCPTransport) Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func (t *TCPTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}

func (t *TCPTransport) Close() error { return nil }

type tcpListener struct {
	ln net.Listener
}

// Accept ignores ctx; closing the listener unblocks it.
func (l *tcpListener) Accept(_ context.Context) (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

func (l *tcpListener) Close() error { return l.ln.Close() }
