package node

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/history"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/registry"
)

// handleSession is the receive loop of one session. It runs until the peer
// closes the stream, sends Leave, a read fails or the node shuts down.
func (n *Node) handleSession(ctx context.Context, s *registry.Session) {
	log := n.logger.WithField("peer", s.String())
	log.Info("Peer connected")

	defer func() {
		removed := n.registry.RemoveSession(s)
		_ = s.Close()
		// a displaced duplicate goes away silently
		if removed || ctx.Err() != nil {
			n.out.Notice(closedNotice(time.Now(), s.Addr()))
		}
		log.Info("Peer disconnected")
	}()

	for {
		f, err := s.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				log.WithError(err).Warn("Skipping malformed frame")
				continue
			}
			if !s.IsClosed() && ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Debug("Session read failed")
			}
			return
		}

		if !n.handleFrame(s, f) {
			return
		}
	}
}

// handleFrame reports whether the session stays open.
func (n *Node) handleFrame(s *registry.Session, f protocol.Frame) bool {
	if !f.Type.IsSessionType() {
		n.logger.WithField("peer", s.String()).WithField("type", f.Type).Warn("Unexpected frame on session")
		return true
	}

	switch f.Type {
	case protocol.FrameChat:
		n.dispatcher.Chat(s, f)
	case protocol.FrameHistory:
		for _, line := range history.Lines(f.Payload) {
			n.out.Chat(line)
		}
	case protocol.FrameLeave:
		n.out.Notice(f.Payload)
		return false
	}
	return true
}
