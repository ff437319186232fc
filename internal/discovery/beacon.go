// Package discovery announces the local node over UDP and reports every
// address it hears from, so the node can open a session to it.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPort  = 9000
	DefaultDelay = 500 * time.Millisecond

	readBufferSize = protocol.HeaderSize + protocol.MaxPayloadSize
)

// Observer is told about every address a datagram arrives from.
type Observer interface {
	Observe(ctx context.Context, addr netip.Addr)
}

type ObserverFunc func(ctx context.Context, addr netip.Addr)

func (f ObserverFunc) Observe(ctx context.Context, addr netip.Addr) { f(ctx, addr) }

type Config struct {
	Name   string
	Addr   netip.Addr
	Port   int
	Source CandidateSource
	Delay  time.Duration
	// ListenAddr overrides the bind address. By default broadcast sources
	// bind the wildcard address and the others bind Addr.
	ListenAddr string
	Logger     logrus.FieldLogger
}

type Beacon struct {
	cfg      Config
	observer Observer
	logger   logrus.FieldLogger
	conn     *net.UDPConn

	closeOnce sync.Once
	closeErr  error
}

func New(cfg Config, observer Observer) (*Beacon, error) {
	if observer == nil {
		return nil, errors.New("discovery: nil observer")
	}
	if !cfg.Addr.IsValid() {
		return nil, errors.New("discovery: local address required")
	}
	cfg.Addr = cfg.Addr.Unmap()
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Source == nil {
		cfg.Source = BroadcastSource{}
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger()
	}

	listen := cfg.ListenAddr
	if listen == "" {
		if _, ok := cfg.Source.(BroadcastSource); ok {
			listen = net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port))
		} else {
			listen = net.JoinHostPort(cfg.Addr.String(), strconv.Itoa(cfg.Port))
		}
	}

	conn, err := listenUDP(listen)
	if err != nil {
		return nil, fmt.Errorf("binding discovery socket %s: %w", listen, err)
	}

	return &Beacon{
		cfg:      cfg,
		observer: observer,
		logger:   cfg.Logger.WithField("component", "discovery"),
		conn:     conn,
	}, nil
}

func listenUDP(addr string) (*net.UDPConn, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{}
	if ap.Addr().IsUnspecified() {
		lc.Control = reuseAddr
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func (b *Beacon) LocalAddr() net.Addr {
	return b.conn.LocalAddr()
}

// Run sends the first sweep after the configured delay and reads datagrams
// until ctx is cancelled or the beacon is closed.
func (b *Beacon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.receive(ctx)
	})

	g.Go(func() error {
		timer := time.NewTimer(b.cfg.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if _, err := b.Announce(ctx); err != nil {
			b.logger.WithError(err).Warn("Announce failed")
		}
		return nil
	})

	return g.Wait()
}

// Announce sends one Announce frame to every candidate except the local
// address and returns how many sends succeeded. Individual send failures are
// logged and skipped.
func (b *Beacon) Announce(ctx context.Context) (int, error) {
	data, err := protocol.Encode(protocol.FrameAnnounce, b.cfg.Name)
	if err != nil {
		return 0, err
	}

	candidates, err := b.cfg.Source.Candidates()
	if err != nil && len(candidates) == 0 {
		return 0, fmt.Errorf("listing candidates: %w", err)
	}
	if err != nil {
		b.logger.WithError(err).Warn("Candidate listing incomplete")
	}

	sent := 0
	for _, addr := range candidates {
		if ctx.Err() != nil {
			break
		}
		if addr == b.cfg.Addr {
			continue
		}
		dst := netip.AddrPortFrom(addr, uint16(b.cfg.Port))
		if _, err := b.conn.WriteToUDPAddrPort(data, dst); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return sent, err
			}
			b.logger.WithField("target", dst).WithError(err).Debug("Announce send failed")
			continue
		}
		sent++
	}

	b.logger.WithFields(logrus.Fields{"sent": sent, "candidates": len(candidates)}).Debug("Announce sweep done")
	return sent, nil
}

func (b *Beacon) receive(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = b.Close() })
	defer stop()

	buf := make([]byte, readBufferSize)
	for {
		n, from, err := b.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			b.logger.WithError(err).Debug("Discovery read failed")
			continue
		}

		addr := from.Addr().Unmap()
		if f, err := protocol.Decode(buf[:n]); err != nil {
			b.logger.WithField("from", addr).WithError(err).Debug("Malformed discovery datagram")
		} else {
			b.logger.WithFields(logrus.Fields{"from": addr, "type": f.Type, "name": f.Payload}).Debug("Discovery datagram")
		}

		b.observer.Observe(ctx, addr)
	}
}

func (b *Beacon) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.conn.Close()
	})
	return b.closeErr
}
