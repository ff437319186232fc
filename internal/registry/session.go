package registry

import (
	"bufio"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/transport"
)

var ErrSessionClosed = errors.New("session closed")

// Session is one live stream to a peer. Writes are serialized by sendMu so
// concurrent senders never interleave partial frames; reads belong to the
// single goroutine running the session's receive loop.
type Session struct {
	addr     netip.Addr
	outbound bool
	conn     transport.Conn
	reader   *bufio.Reader

	writeTimeout time.Duration

	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewSession wraps conn. outbound is true when the local node dialed.
func NewSession(addr netip.Addr, conn transport.Conn, outbound bool, writeTimeout time.Duration) *Session {
	return &Session{
		addr:         addr.Unmap(),
		outbound:     outbound,
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (s *Session) Addr() netip.Addr { return s.addr }

func (s *Session) Outbound() bool { return s.outbound }

func (s *Session) IsClosed() bool { return s.closed.Load() }

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) String() string {
	dir := "in"
	if s.outbound {
		dir = "out"
	}
	return fmt.Sprintf("%s(%s)", s.addr, dir)
}

// Send encodes f and writes it under the send lock.
func (s *Session) Send(f protocol.Frame) error {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw writes an already encoded frame.
func (s *Session) SendRaw(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}

	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("writing to %s: %w", s.addr, err)
	}
	return nil
}

// ReadFrame reads the next frame. Only the receive loop may call it.
func (s *Session) ReadFrame() (protocol.Frame, error) {
	return protocol.ReadFrame(s.reader)
}

// Close releases the stream. It is safe to call more than once and from any
// goroutine; a blocked ReadFrame returns with an error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
		close(s.done)
	})
	return s.closeErr
}

// preferred reports whether this stream wins a simultaneous open against the
// opposite-direction stream to the same peer: the stream dialed by the lower
// address survives on both ends.
func (s *Session) preferred(local netip.Addr) bool {
	if s.outbound {
		return local.Less(s.addr)
	}
	return s.addr.Less(local)
}
