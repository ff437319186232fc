package node

import (
	"github.com/rudransh-shrivastava/peer-chat/internal/history"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/registry"
	"github.com/rudransh-shrivastava/peer-chat/internal/seen"
	"github.com/sirupsen/logrus"
)

// Dispatcher applies the relay policy to chat lines received from peers and
// records locally originated ones.
type Dispatcher struct {
	policy   RelayPolicy
	history  history.Log
	registry *registry.Registry
	seen     *seen.Cache
	out      Output
	logger   logrus.FieldLogger
}

func NewDispatcher(policy RelayPolicy, log history.Log, reg *registry.Registry, out Output, logger logrus.FieldLogger) *Dispatcher {
	d := &Dispatcher{
		policy:   policy,
		history:  log,
		registry: reg,
		out:      out,
		logger:   logger,
	}
	if policy == RelayFlood {
		d.seen = seen.New(seen.DefaultExpiry)
	}
	return d
}

// Chat shows a line received on origin, appends it to the history and, under
// flood relay, forwards it to every other session. Under flood relay a line
// already handled is dropped.
func (d *Dispatcher) Chat(origin *registry.Session, f protocol.Frame) {
	if d.seen != nil && !d.seen.Add(seen.Of(f.Payload)) {
		d.logger.WithField("peer", origin.Addr()).Debug("Dropping duplicate line")
		return
	}

	d.out.Chat(f.Payload)

	if err := d.history.Append(f.Payload); err != nil {
		d.logger.WithError(err).Warn("Failed to append to history")
	}

	if d.policy != RelayFlood {
		return
	}

	n, err := d.registry.BroadcastToAll(f, origin)
	if err != nil {
		d.logger.WithError(err).Debug("Relay partially failed")
	}
	d.logger.WithFields(logrus.Fields{"from": origin.Addr(), "peers": n}).Debug("Relayed line")
}

// Local records a line typed by the local user. Under flood relay it is
// marked as seen so an echo from the mesh is dropped.
func (d *Dispatcher) Local(line string) {
	if d.seen != nil {
		d.seen.Add(seen.Of(line))
	}
	if err := d.history.Append(line); err != nil {
		d.logger.WithError(err).Warn("Failed to append to history")
	}
}

// MarkSent remembers a line sent without being recorded in the history.
func (d *Dispatcher) MarkSent(line string) {
	if d.seen != nil {
		d.seen.Add(seen.Of(line))
	}
}

func (d *Dispatcher) Close() {
	if d.seen != nil {
		d.seen.Close()
	}
}
