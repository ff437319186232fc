package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
)

type CommandKind int

const (
	CmdSay CommandKind = iota
	CmdEmpty
	CmdExit
	CmdPeers
	CmdConnect
	CmdAnnounce
	CmdHistory
	CmdHelp
)

type Command struct {
	Kind CommandKind
	Text string
	Addr netip.Addr
}

var ErrUnknownCommand = errors.New("unknown command")

const helpText = `Type a line and press enter to send it.
  /peers          list connected peers
  /connect <ip>   connect to a peer
  /announce       announce this node again
  /history        show the chat history
  /help           show this help
  /exit           leave the chat`

// ParseCommand interprets one input line. Lines not starting with "/" are
// chat text.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{Kind: CmdEmpty}, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: CmdSay, Text: line}, nil
	}

	fields := strings.Fields(trimmed)
	switch fields[0] {
	case "/exit", "/quit":
		return Command{Kind: CmdExit}, nil
	case "/peers":
		return Command{Kind: CmdPeers}, nil
	case "/announce":
		return Command{Kind: CmdAnnounce}, nil
	case "/history":
		return Command{Kind: CmdHistory}, nil
	case "/help":
		return Command{Kind: CmdHelp}, nil
	case "/connect":
		if len(fields) != 2 {
			return Command{}, errors.New("usage: /connect <ip>")
		}
		addr, err := netip.ParseAddr(fields[1])
		if err != nil {
			return Command{}, fmt.Errorf("invalid address %q", fields[1])
		}
		return Command{Kind: CmdConnect, Addr: addr.Unmap()}, nil
	default:
		return Command{}, fmt.Errorf("%w %s (try /help)", ErrUnknownCommand, fields[0])
	}
}

// Commander is the part of a node the input loop drives.
type Commander interface {
	Say(text string) (int, error)
	Leave() error
	Peers() []netip.Addr
	Connect(ctx context.Context, addr netip.Addr) error
	Announce(ctx context.Context) (int, error)
	History() ([]string, error)
}

// Run reads commands from in until /exit, end of input or ctx is cancelled.
// /exit and end of input make the node leave.
func (c *Console) Run(ctx context.Context, in io.Reader, node Commander) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 4096), protocol.MaxPayloadSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return node.Leave()
			}
			if done, err := c.execute(ctx, line, node); done {
				return err
			}
		}
	}
}

// execute runs one line and reports whether the loop should stop.
func (c *Console) execute(ctx context.Context, line string, node Commander) (bool, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		c.Notice(err.Error())
		return false, nil
	}

	switch cmd.Kind {
	case CmdEmpty:
	case CmdSay:
		if _, err := node.Say(cmd.Text); err != nil && errors.Is(err, protocol.ErrPayloadTooLarge) {
			c.Notice("Message too long")
		}
	case CmdExit:
		return true, node.Leave()
	case CmdPeers:
		peers := node.Peers()
		if len(peers) == 0 {
			c.Notice("No peers connected")
			break
		}
		c.Printf("Connected peers (%d):", len(peers))
		for _, p := range peers {
			c.Printf("  %s", p)
		}
	case CmdConnect:
		go func() {
			if err := node.Connect(ctx, cmd.Addr); err != nil {
				c.Notice(fmt.Sprintf("Connect to %s failed: %v", cmd.Addr, err))
			}
		}()
	case CmdAnnounce:
		n, err := node.Announce(ctx)
		if err != nil {
			c.Notice(fmt.Sprintf("Announce failed: %v", err))
			break
		}
		c.Notice(fmt.Sprintf("Announced to %d addresses", n))
	case CmdHistory:
		lines, err := node.History()
		if err != nil {
			c.Notice(fmt.Sprintf("Reading history failed: %v", err))
			break
		}
		for _, l := range lines {
			c.Chat(l)
		}
	case CmdHelp:
		c.Printf("%s", helpText)
	}
	return false, nil
}
