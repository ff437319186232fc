package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// streamPreamble is written by the dialer right after opening the stream;
	// a QUIC stream is invisible to the peer until it carries data.
	streamPreamble      byte = 0xC4
	streamAcceptTimeout      = 10 * time.Second
	closeLinger              = 500 * time.Millisecond
	acceptBacklog            = 16
)

// QUICTransport binds one UDP socket for both listening and dialing, so
// outbound sessions leave from the session port of the local address.
type QUICTransport struct {
	local    netip.Addr
	tlsConf  *tls.Config
	quicConf *quic.Config

	mu   sync.Mutex
	udp  *net.UDPConn
	quic *quic.Transport
}

func NewQUIC(local netip.Addr) (*QUICTransport, error) {
	tlsConf, err := DefaultTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("creating TLS config: %w", err)
	}

	return &QUICTransport{
		local:    local,
		tlsConf:  tlsConf,
		quicConf: DefaultQUICConfig(),
	}, nil
}

func (t *QUICTransport) Kind() Kind { return KindQUIC }

func (t *QUICTransport) Listen(addr string) (Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	tr, err := t.bind(udpAddr)
	if err != nil {
		return nil, err
	}

	ln, err := tr.Listen(t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	return newQUICListener(ln), nil
}

func (t *QUICTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	tr, err := t.bind(&net.UDPAddr{IP: t.local.AsSlice()})
	if err != nil {
		return nil, err
	}

	conn, err := tr.Dial(ctx, raddr, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "opening stream")
		return nil, err
	}

	if _, err := stream.Write([]byte{streamPreamble}); err != nil {
		_ = conn.CloseWithError(1, "writing preamble")
		return nil, err
	}

	return &quicConn{conn: conn, stream: stream}, nil
}

func (t *QUICTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.quic == nil {
		return nil
	}
	err := t.quic.Close()
	_ = t.udp.Close()
	t.quic = nil
	t.udp = nil
	return err
}

// bind returns the shared quic.Transport, creating it on addr when no socket
// exists yet. Dialing before Listen binds an ephemeral port.
func (t *QUICTransport) bind(addr *net.UDPAddr) (*quic.Transport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.quic != nil {
		return t.quic, nil
	}

	if !t.local.IsValid() || t.local.IsUnspecified() {
		addr = &net.UDPAddr{Port: addr.Port}
	}

	udp, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	t.udp = udp
	t.quic = &quic.Transport{Conn: udp}
	return t.quic, nil
}

type quicListener struct {
	ln    *quic.Listener
	conns chan Conn
	done  chan struct{}
	once  sync.Once
}

func newQUICListener(ln *quic.Listener) *quicListener {
	l := &quicListener{
		ln:    ln,
		conns: make(chan Conn, acceptBacklog),
		done:  make(chan struct{}),
	}
	go l.acceptLoop()
	return l
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

func (l *quicListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.ln.Close()
	})
	return err
}

func (l *quicListener) acceptLoop() {
	defer func() { _ = l.Close() }()

	for {
		conn, err := l.ln.Accept(context.Background())
		if err != nil {
			return
		}
		go l.acceptStream(conn)
	}
}

func (l *quicListener) acceptStream(conn *quic.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), streamAcceptTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		return
	}

	var preamble [1]byte
	if _, err := io.ReadFull(stream, preamble[:]); err != nil || preamble[0] != streamPreamble {
		_ = conn.CloseWithError(1, "bad preamble")
		return
	}

	select {
	case l.conns <- &quicConn{conn: conn, stream: stream}:
	case <-l.done:
		_ = conn.CloseWithError(0, "listener closed")
	}
}

type quicConn struct {
	conn   *quic.Conn
	stream *quic.Stream
}

// Read reports a graceful close by the peer as io.EOF, like a TCP stream.
func (c *quicConn) Read(p []byte) (int, error) {
	n, err := c.stream.Read(p)
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == 0 {
		err = io.EOF
	}
	return n, err
}

func (c *quicConn) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *quicConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }

// Close finishes the stream and gives the peer a moment to read what is
// still in flight before the connection is torn down.
func (c *quicConn) Close() error {
	_ = c.stream.Close()
	select {
	case <-c.conn.Context().Done():
	case <-time.After(closeLinger):
	}
	return c.conn.CloseWithError(0, "session closed")
}
