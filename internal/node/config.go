package node

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/discovery"
	"github.com/rudransh-shrivastava/peer-chat/internal/history"
	"github.com/rudransh-shrivastava/peer-chat/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSessionPort  = 9001
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultMaxSessions  = 256
	DefaultMaxDials     = 32

	maxNameLength = 64
)

var (
	ErrInvalidConfig    = errors.New("invalid config")
	ErrSelfConnect      = errors.New("cannot connect to self")
	ErrAlreadyConnected = errors.New("already connected")
)

// RelayPolicy decides what happens to a chat line after it is shown.
type RelayPolicy int

const (
	// RelayNone ("mesh") keeps lines on the link they arrived on; every node
	// is expected to hold a direct session to every other node.
	RelayNone RelayPolicy = iota
	// RelayFlood forwards each new line to every other session once.
	RelayFlood
)

func (p RelayPolicy) String() string {
	switch p {
	case RelayNone:
		return "mesh"
	case RelayFlood:
		return "flood"
	default:
		return "unknown"
	}
}

func ParseRelayPolicy(s string) (RelayPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mesh", "none":
		return RelayNone, nil
	case "flood":
		return RelayFlood, nil
	default:
		return 0, fmt.Errorf("%w: unknown relay policy %q (want mesh or flood)", ErrInvalidConfig, s)
	}
}

// ReplayPolicy decides which new sessions receive the local history.
type ReplayPolicy int

const (
	ReplayAll ReplayPolicy = iota
	ReplayOutbound
	ReplayNone
)

func (p ReplayPolicy) String() string {
	switch p {
	case ReplayAll:
		return "all"
	case ReplayOutbound:
		return "outbound"
	case ReplayNone:
		return "none"
	default:
		return "unknown"
	}
}

func ParseReplayPolicy(s string) (ReplayPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ReplayAll, nil
	case "outbound":
		return ReplayOutbound, nil
	case "none":
		return ReplayNone, nil
	default:
		return 0, fmt.Errorf("%w: unknown replay policy %q (want all, outbound or none)", ErrInvalidConfig, s)
	}
}

func (p ReplayPolicy) replays(outbound bool) bool {
	switch p {
	case ReplayAll:
		return true
	case ReplayOutbound:
		return outbound
	default:
		return false
	}
}

// Output receives everything meant for the user's screen.
type Output interface {
	Chat(line string)
	Notice(line string)
}

type discardOutput struct{}

func (discardOutput) Chat(string)   {}
func (discardOutput) Notice(string) {}

type Config struct {
	Name string
	Addr netip.Addr

	SessionPort   int
	DiscoveryPort int
	Transport     transport.Kind

	Relay  RelayPolicy
	Replay ReplayPolicy

	// Discovery defaults to broadcast. DisableDiscovery leaves only manual
	// and inbound sessions.
	Discovery        discovery.CandidateSource
	DisableDiscovery bool
	AnnounceDelay    time.Duration

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	MaxSessions  int
	MaxDials     int

	History history.Log
	Output  Output
	Logger  logrus.FieldLogger
}

func (c Config) withDefaults() Config {
	c.Addr = c.Addr.Unmap()
	if c.SessionPort == 0 {
		c.SessionPort = DefaultSessionPort
	}
	if c.DiscoveryPort == 0 {
		c.DiscoveryPort = discovery.DefaultPort
	}
	if c.Transport == "" {
		c.Transport = transport.KindTCP
	}
	if c.Discovery == nil {
		c.Discovery = discovery.BroadcastSource{}
	}
	if c.AnnounceDelay == 0 {
		c.AnnounceDelay = discovery.DefaultDelay
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.MaxDials == 0 {
		c.MaxDials = DefaultMaxDials
	}
	return c
}

// Validate reports every problem with the configuration after defaults are
// applied. All errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	c = c.withDefaults()

	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch {
	case c.Name == "":
		invalid("name is required")
	case len(c.Name) > maxNameLength:
		invalid("name longer than %d bytes", maxNameLength)
	case strings.ContainsAny(c.Name, "[]\r\n"):
		invalid("name %q contains brackets or line breaks", c.Name)
	}

	if !c.Addr.IsValid() || c.Addr.IsUnspecified() {
		invalid("a concrete local address is required")
	} else if !c.Addr.Is4() {
		invalid("local address %s is not IPv4", c.Addr)
	}

	if c.SessionPort < 1 || c.SessionPort > 65535 {
		invalid("session port %d out of range", c.SessionPort)
	}
	if c.DiscoveryPort < 1 || c.DiscoveryPort > 65535 {
		invalid("discovery port %d out of range", c.DiscoveryPort)
	}
	if _, err := transport.ParseKind(string(c.Transport)); err != nil {
		invalid("%v", err)
	}
	if c.Relay != RelayNone && c.Relay != RelayFlood {
		invalid("unknown relay policy %d", c.Relay)
	}
	if c.Replay < ReplayAll || c.Replay > ReplayNone {
		invalid("unknown replay policy %d", c.Replay)
	}
	if c.DialTimeout < 0 || c.WriteTimeout < 0 || c.AnnounceDelay < 0 {
		invalid("timeouts must not be negative")
	}
	if c.MaxSessions < 0 || c.MaxDials < 0 {
		invalid("limits must not be negative")
	}

	return errors.Join(errs...)
}
