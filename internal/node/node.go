// Package node wires discovery, transport, the session registry and the
// history log into one chat participant.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/discovery"
	"github.com/rudransh-shrivastava/peer-chat/internal/history"
	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/registry"
	"github.com/rudransh-shrivastava/peer-chat/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrDiscoveryDisabled = errors.New("discovery disabled")

type Node struct {
	cfg    Config
	logger logrus.FieldLogger
	out    Output

	history    history.Log
	registry   *registry.Registry
	dispatcher *Dispatcher

	transport transport.Transport
	listener  transport.Listener
	beacon    *discovery.Beacon

	ctx    context.Context
	cancel context.CancelFunc

	// loops runs the accept loop and the beacon; a failure there stops the node.
	loops    *errgroup.Group
	sessions *errgroup.Group
	dials    *errgroup.Group

	// spawnMu guards closing so no task is added to a group once Shutdown
	// has started waiting on it.
	spawnMu sync.RWMutex
	closing bool
	running bool

	pendingMu sync.Mutex
	pending   map[netip.Addr]struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates cfg and binds the session listener and the discovery socket.
// Nothing runs until Run is called.
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	log = log.WithField("node", cfg.Name)

	out := cfg.Output
	if out == nil {
		out = discardOutput{}
	}

	hist := cfg.History
	if hist == nil {
		hist = history.NewMemory()
	}

	tr, err := transport.New(cfg.Transport, cfg.Addr)
	if err != nil {
		return nil, err
	}

	listenAddr := net.JoinHostPort(cfg.Addr.String(), strconv.Itoa(cfg.SessionPort))
	ln, err := tr.Listen(listenAddr)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("listening on %s: %w", listenAddr, err)
	}

	reg := registry.New(cfg.Addr, log)

	base, cancel := context.WithCancel(context.Background())
	loops, ctx := errgroup.WithContext(base)

	sessions := &errgroup.Group{}
	sessions.SetLimit(cfg.MaxSessions)
	dials := &errgroup.Group{}
	dials.SetLimit(cfg.MaxDials)

	n := &Node{
		cfg:        cfg,
		logger:     log,
		out:        out,
		history:    hist,
		registry:   reg,
		dispatcher: NewDispatcher(cfg.Relay, hist, reg, out, log),
		transport:  tr,
		listener:   ln,
		ctx:        ctx,
		cancel:     cancel,
		loops:      loops,
		sessions:   sessions,
		dials:      dials,
		pending:    make(map[netip.Addr]struct{}),
	}

	if !cfg.DisableDiscovery {
		n.beacon, err = discovery.New(discovery.Config{
			Name:   cfg.Name,
			Addr:   cfg.Addr,
			Port:   cfg.DiscoveryPort,
			Source: cfg.Discovery,
			Delay:  cfg.AnnounceDelay,
			Logger: log,
		}, n)
		if err != nil {
			cancel()
			_ = ln.Close()
			_ = tr.Close()
			return nil, err
		}
	}

	return n, nil
}

func (n *Node) Name() string { return n.cfg.Name }

func (n *Node) Addr() netip.Addr { return n.cfg.Addr }

func (n *Node) ListenAddr() net.Addr { return n.listener.Addr() }

// Run starts the accept loop and discovery and blocks until ctx is cancelled,
// the node is shut down, or the listener fails.
func (n *Node) Run(ctx context.Context) error {
	n.spawnMu.Lock()
	if n.closing || n.running {
		n.spawnMu.Unlock()
		return errors.New("node already started")
	}
	n.running = true
	n.loops.Go(func() error { return n.acceptLoop(n.ctx) })
	if n.beacon != nil {
		n.loops.Go(func() error { return n.beacon.Run(n.ctx) })
	}
	n.spawnMu.Unlock()

	n.logger.WithFields(logrus.Fields{
		"addr":      n.listener.Addr(),
		"transport": n.cfg.Transport,
		"relay":     n.cfg.Relay,
		"replay":    n.cfg.Replay,
		"discovery": n.beacon != nil,
	}).Info("Node started")

	select {
	case <-ctx.Done():
	case <-n.ctx.Done():
	}
	return n.Shutdown()
}

func (n *Node) acceptLoop(ctx context.Context) error {
	for {
		conn, err := n.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			n.logger.WithError(err).Error("Failed to accept connection")
			return fmt.Errorf("accepting sessions: %w", err)
		}
		n.admitInbound(conn)
	}
}

func (n *Node) admitInbound(conn transport.Conn) {
	addr, err := transport.HostOf(conn.RemoteAddr())
	if err != nil {
		n.logger.WithError(err).Warn("Rejecting connection with unusable address")
		_ = conn.Close()
		return
	}

	s := registry.NewSession(addr, conn, false, n.cfg.WriteTimeout)
	n.admit(s, n.cfg.Replay.replays(false))
}

// admit registers s and starts its receive loop, replaying the history from
// that goroutine first when replay is set. It closes s and returns false when
// a session to the same peer wins or the node is shutting down.
func (n *Node) admit(s *registry.Session, replay bool) bool {
	ok, displaced := n.registry.Admit(s)
	if displaced != nil {
		n.logger.WithField("peer", displaced.String()).Debug("Closing displaced duplicate session")
		_ = displaced.Close()
	}
	if !ok {
		n.logger.WithField("peer", s.String()).Debug("Duplicate session rejected")
		_ = s.Close()
		return false
	}

	if !n.spawnSession(s, replay) {
		n.registry.RemoveSession(s)
		_ = s.Close()
		return false
	}
	return true
}

func (n *Node) spawnSession(s *registry.Session, replay bool) bool {
	n.spawnMu.RLock()
	defer n.spawnMu.RUnlock()

	if n.closing {
		return false
	}
	if !n.sessions.TryGo(func() error {
		if replay {
			n.replay(s)
		}
		n.handleSession(n.ctx, s)
		return nil
	}) {
		n.logger.WithField("peer", s.String()).Warn("Session limit reached")
		return false
	}
	return true
}

// Observe is called by the beacon for every discovery datagram.
func (n *Node) Observe(_ context.Context, addr netip.Addr) {
	addr = addr.Unmap()
	if n.registry.IsLocal(addr) || n.registry.Has(addr) {
		return
	}

	n.spawnMu.RLock()
	defer n.spawnMu.RUnlock()
	if n.closing {
		return
	}

	if !n.dials.TryGo(func() error {
		err := n.Connect(n.ctx, addr)
		if err != nil && !errors.Is(err, ErrSelfConnect) && !errors.Is(err, ErrAlreadyConnected) {
			n.logger.WithField("peer", addr).WithError(err).Warn("Connect failed")
		}
		return nil
	}) {
		n.logger.WithField("peer", addr).Debug("Dial limit reached, skipping")
	}
}

// Connect opens a session to addr unless addr is the local address, already
// has a live session, or is being dialed. On success the peer is sent the
// history (per the replay policy) followed by a "connected" line.
func (n *Node) Connect(ctx context.Context, addr netip.Addr) error {
	addr = addr.Unmap()
	if n.registry.IsLocal(addr) {
		return ErrSelfConnect
	}
	if n.registry.Has(addr) {
		return fmt.Errorf("%w to %s", ErrAlreadyConnected, addr)
	}
	if !n.beginDial(addr) {
		return fmt.Errorf("%w to %s (dial in progress)", ErrAlreadyConnected, addr)
	}
	defer n.endDial(addr)

	dialCtx, cancel := context.WithTimeout(ctx, n.cfg.DialTimeout)
	defer cancel()

	target := net.JoinHostPort(addr.String(), strconv.Itoa(n.cfg.SessionPort))
	conn, err := n.transport.Dial(dialCtx, target)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", target, err)
	}

	s := registry.NewSession(addr, conn, true, n.cfg.WriteTimeout)
	if !n.admit(s, false) {
		return fmt.Errorf("%w to %s", ErrAlreadyConnected, addr)
	}

	// outbound replay stays on this goroutine so it precedes "connected"
	if n.cfg.Replay.replays(true) {
		n.replay(s)
	}

	line := FormatLine(time.Now(), n.cfg.Name, "connected")
	n.dispatcher.MarkSent(line)
	if err := s.Send(protocol.NewChat(line)); err != nil {
		n.logger.WithField("peer", s.String()).WithError(err).Warn("Send failed")
	}
	return nil
}

func (n *Node) beginDial(addr netip.Addr) bool {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	if _, ok := n.pending[addr]; ok {
		return false
	}
	n.pending[addr] = struct{}{}
	return true
}

func (n *Node) endDial(addr netip.Addr) {
	n.pendingMu.Lock()
	delete(n.pending, addr)
	n.pendingMu.Unlock()
}

// replay sends the current history snapshot to s. Lines appended while the
// snapshot is being sent are not included.
func (n *Node) replay(s *registry.Session) {
	lines, err := n.history.Snapshot()
	if err != nil {
		n.logger.WithError(err).Warn("Failed to read history")
		return
	}

	for _, batch := range history.Batches(lines, protocol.MaxPayloadSize) {
		if err := s.Send(protocol.NewHistory(batch)); err != nil {
			n.logger.WithField("peer", s.String()).WithError(err).Warn("History replay failed")
			return
		}
	}
	if len(lines) > 0 {
		n.logger.WithFields(logrus.Fields{"peer": s.String(), "lines": len(lines)}).Debug("History replayed")
	}
}

// Say formats text as a local chat line, records it and sends it to every
// live session. It returns the number of peers that accepted the line.
func (n *Node) Say(text string) (int, error) {
	line := FormatLine(time.Now(), n.cfg.Name, text)
	if len(line) > protocol.MaxPayloadSize {
		return 0, protocol.ErrPayloadTooLarge
	}

	n.dispatcher.Local(line)
	return n.registry.BroadcastToAll(protocol.NewChat(line), nil)
}

// Leave tells every peer the user is leaving, then shuts the node down.
func (n *Node) Leave() error {
	line := FormatLine(time.Now(), n.cfg.Name, "disconnected")
	if sent, err := n.registry.BroadcastToAll(protocol.NewLeave(line), nil); err != nil {
		n.logger.WithError(err).WithField("delivered", sent).Warn("Leave not delivered to every peer")
	}
	return n.Shutdown()
}

// Announce re-runs a discovery sweep.
func (n *Node) Announce(ctx context.Context) (int, error) {
	if n.beacon == nil {
		return 0, ErrDiscoveryDisabled
	}
	return n.beacon.Announce(ctx)
}

// Peers lists the addresses with a live session, in address order.
func (n *Node) Peers() []netip.Addr {
	return n.registry.Addrs()
}

func (n *Node) History() ([]string, error) {
	return n.history.Snapshot()
}

// Done is closed once the node starts shutting down.
func (n *Node) Done() <-chan struct{} {
	return n.ctx.Done()
}

// Shutdown stops discovery and the accept loop, closes every session and
// waits for all tasks to finish. It is safe to call more than once.
func (n *Node) Shutdown() error {
	n.shutdownOnce.Do(func() {
		n.logger.Info("Shutting down node")
		n.cancel()

		n.spawnMu.Lock()
		n.closing = true
		n.spawnMu.Unlock()

		var g errgroup.Group
		g.Go(n.listener.Close)
		if n.beacon != nil {
			g.Go(n.beacon.Close)
		}
		g.Go(func() error {
			n.registry.CloseAll()
			return nil
		})
		_ = g.Wait()

		loopErr := n.loops.Wait()
		_ = n.dials.Wait()
		// dials that finished after the first sweep
		n.registry.CloseAll()
		_ = n.sessions.Wait()

		_ = n.transport.Close()
		n.dispatcher.Close()

		if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
			n.shutdownErr = loopErr
		}
	})
	return n.shutdownErr
}
