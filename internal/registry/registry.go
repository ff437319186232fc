// Package registry is the single owner of live peer sessions. It guarantees
// at most one session per peer address under concurrent dial and accept.
package registry

import (
	"errors"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Registry struct {
	local  netip.Addr
	logger logrus.FieldLogger

	mu       sync.RWMutex
	sessions map[netip.Addr]*Session
}

func New(local netip.Addr, log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Registry{
		local:    local.Unmap(),
		logger:   log,
		sessions: make(map[netip.Addr]*Session),
	}
}

func (r *Registry) Local() netip.Addr { return r.local }

func (r *Registry) IsLocal(addr netip.Addr) bool {
	return addr.Unmap() == r.local
}

// TryAddIfAbsent inserts s only if no live session exists for its address.
// The caller owns s again when false is returned and must close it.
func (r *Registry) TryAddIfAbsent(s *Session) bool {
	if r.IsLocal(s.Addr()) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[s.Addr()]; ok && !existing.IsClosed() {
		return false
	}
	r.sessions[s.Addr()] = s
	return true
}

// Admit is TryAddIfAbsent with simultaneous-open arbitration. If the peer
// dialed us while we dialed it, both ends keep the stream opened by the lower
// address. When s replaces the existing entry, the displaced session is
// returned and the caller must close it.
func (r *Registry) Admit(s *Session) (bool, *Session) {
	if r.IsLocal(s.Addr()) {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sessions[s.Addr()]
	if !ok || existing.IsClosed() {
		r.sessions[s.Addr()] = s
		return true, nil
	}

	if existing.Outbound() != s.Outbound() && s.preferred(r.local) && !existing.preferred(r.local) {
		r.sessions[s.Addr()] = s
		return true, existing
	}

	return false, nil
}

// Remove deletes the entry for addr and returns it. Removing an absent
// address is a no-op.
func (r *Registry) Remove(addr netip.Addr) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[addr.Unmap()]
	if !ok {
		return nil
	}
	delete(r.sessions, addr.Unmap())
	return s
}

// RemoveSession deletes the entry for s.Addr() only while it still points at
// s, so a displaced session cannot evict its replacement.
func (r *Registry) RemoveSession(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.Addr()] != s {
		return false
	}
	delete(r.sessions, s.Addr())
	return true
}

func (r *Registry) Get(addr netip.Addr) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[addr.Unmap()]
	return s, ok
}

// Has reports whether a live session exists for addr.
func (r *Registry) Has(addr netip.Addr) bool {
	s, ok := r.Get(addr)
	return ok && !s.IsClosed()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of the live sessions ordered by address.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.IsClosed() {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Addr().Less(out[j].Addr()) })
	return out
}

func (r *Registry) Addrs() []netip.Addr {
	sessions := r.Sessions()
	addrs := make([]netip.Addr, len(sessions))
	for i, s := range sessions {
		addrs[i] = s.Addr()
	}
	return addrs
}

// BroadcastToAll sends f to every live session except exclude. Each session
// is written from its own goroutine; a failing peer only contributes to the
// joined error. It returns the number of sessions that accepted the frame.
func (r *Registry) BroadcastToAll(f protocol.Frame, exclude *Session) (int, error) {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return 0, err
	}

	var (
		g         errgroup.Group
		delivered atomic.Int64
		mu        sync.Mutex
		errs      []error
	)

	for _, s := range r.Sessions() {
		if s == exclude {
			continue
		}
		g.Go(func() error {
			if err := s.SendRaw(data); err != nil {
				r.logger.WithFields(logrus.Fields{"peer": s.Addr(), "type": f.Type}).WithError(err).Warn("Send failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(delivered.Load()), errors.Join(errs...)
}

// CloseAll empties the registry and closes every session concurrently.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for addr, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, addr)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			_ = s.Close()
			return nil
		})
	}
	_ = g.Wait()
}
