// Package cmd is the peer-chat command line.
package cmd

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/console"
	"github.com/rudransh-shrivastava/peer-chat/internal/db"
	"github.com/rudransh-shrivastava/peer-chat/internal/discovery"
	"github.com/rudransh-shrivastava/peer-chat/internal/history"
	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/node"
	"github.com/rudransh-shrivastava/peer-chat/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	sessionPort   int
	discoveryPort int
	transport     string
	relay         string
	replay        string
	discovery     string
	sweepRange    string
	peers         []string
	announceDelay time.Duration
	historyDB     string
	debug         bool
}

func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "peer-chat <name> <ip>",
		Short: "serverless chat for the local network",
		Long: `peer-chat finds other peer-chat nodes on the local network, connects to each
of them directly and exchanges chat lines without a central server.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(args, opts)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return run(cmd.Context(), cfg, opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.sessionPort, "session-port", node.DefaultSessionPort, "port for peer sessions")
	f.IntVar(&opts.discoveryPort, "discovery-port", discovery.DefaultPort, "UDP port for discovery")
	f.StringVar(&opts.transport, "transport", string(transport.KindTCP), "session transport: tcp or quic")
	f.StringVar(&opts.relay, "relay", "mesh", "relay policy: mesh or flood")
	f.StringVar(&opts.replay, "replay", "all", "history replay: all, outbound or none")
	f.StringVar(&opts.discovery, "discovery", "broadcast", "discovery: broadcast, range, static or off")
	f.StringVar(&opts.sweepRange, "range", "127.0.0.0/24", "addresses swept by --discovery=range")
	f.StringArrayVar(&opts.peers, "peer", nil, "peer address for --discovery=static (repeatable)")
	f.DurationVar(&opts.announceDelay, "announce-delay", discovery.DefaultDelay, "delay before the first announce")
	f.StringVar(&opts.historyDB, "history-db", "", "keep the history in this sqlite file instead of memory")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildConfig(args []string, opts *options) (node.Config, error) {
	name := strings.TrimSpace(args[0])

	addr, err := netip.ParseAddr(args[1])
	if err != nil {
		return node.Config{}, fmt.Errorf("invalid ip %q: %w", args[1], err)
	}
	if addr.IsUnspecified() {
		return node.Config{}, fmt.Errorf("ip %s is unspecified, use the address peers can reach", addr)
	}

	kind, err := transport.ParseKind(opts.transport)
	if err != nil {
		return node.Config{}, err
	}
	relay, err := node.ParseRelayPolicy(opts.relay)
	if err != nil {
		return node.Config{}, err
	}
	replay, err := node.ParseReplayPolicy(opts.replay)
	if err != nil {
		return node.Config{}, err
	}

	cfg := node.Config{
		Name:          name,
		Addr:          addr.Unmap(),
		SessionPort:   opts.sessionPort,
		DiscoveryPort: opts.discoveryPort,
		Transport:     kind,
		Relay:         relay,
		Replay:        replay,
		AnnounceDelay: opts.announceDelay,
	}

	switch strings.ToLower(opts.discovery) {
	case "broadcast", "":
		cfg.Discovery = discovery.BroadcastSource{}
	case "range":
		prefix, err := netip.ParsePrefix(opts.sweepRange)
		if err != nil {
			return node.Config{}, fmt.Errorf("invalid range %q: %w", opts.sweepRange, err)
		}
		cfg.Discovery = discovery.RangeSource{Prefix: prefix}
	case "static":
		if len(opts.peers) == 0 {
			return node.Config{}, fmt.Errorf("--discovery=static needs at least one --peer")
		}
		peers := make(discovery.StaticSource, 0, len(opts.peers))
		for _, p := range opts.peers {
			a, err := netip.ParseAddr(p)
			if err != nil {
				return node.Config{}, fmt.Errorf("invalid peer %q: %w", p, err)
			}
			peers = append(peers, a.Unmap())
		}
		cfg.Discovery = peers
	case "off", "none":
		cfg.DisableDiscovery = true
	default:
		return node.Config{}, fmt.Errorf("unknown discovery mode %q", opts.discovery)
	}

	return cfg, nil
}

func run(ctx context.Context, cfg node.Config, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log := logger.NewLogger()
	if opts.debug {
		log.SetLevel(logrus.DebugLevel)
	}
	cfg.Logger = log

	if opts.historyDB != "" {
		gdb, err := db.Open(opts.historyDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(gdb) }()

		hist, err := history.NewSQL(gdb)
		if err != nil {
			return err
		}
		cfg.History = hist
	}

	con := console.New(os.Stdout)
	cfg.Output = con

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		select {
		case <-sigCtx.Done():
			_ = n.Leave()
		case <-n.Done():
		}
	}()

	go func() {
		if err := con.Run(sigCtx, os.Stdin, n); err != nil {
			log.WithError(err).Warn("Console stopped")
		}
	}()

	con.Notice(fmt.Sprintf("Joined as %s on %s. Type /help for commands.", cfg.Name, cfg.Addr))
	return n.Run(context.Background())
}
