package node

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
)

type recordOutput struct {
	mu      sync.Mutex
	chats   []string
	notices []string
}

func (o *recordOutput) Chat(line string) {
	o.mu.Lock()
	o.chats = append(o.chats, line)
	o.mu.Unlock()
}

func (o *recordOutput) Notice(line string) {
	o.mu.Lock()
	o.notices = append(o.notices, line)
	o.mu.Unlock()
}

func (o *recordOutput) Chats() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.chats...)
}

func (o *recordOutput) hasChat(substr string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.chats {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func (o *recordOutput) hasNotice(substr string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, n := range o.notices {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

// freeTCPPort returns a port that is currently unused on 127.0.0.1. Nodes in
// a test share it, each bound to its own loopback address.
func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}
	port := pc.LocalAddr().(*net.UDPAddr).Port
	_ = pc.Close()
	return port
}

func testConfig(name, addr string, port int) Config {
	return Config{
		Name:             name,
		Addr:             netip.MustParseAddr(addr),
		SessionPort:      port,
		DisableDiscovery: true,
		DialTimeout:      2 * time.Second,
		WriteTimeout:     time.Second,
		Logger:           logger.NewDiscardLogger(),
	}
}

// startNode creates and runs a node; it is shut down when the test ends.
func startNode(t *testing.T, cfg Config) (*Node, *recordOutput) {
	t.Helper()
	out := &recordOutput{}
	cfg.Output = out

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(context.Background())
	}()
	t.Cleanup(func() {
		_ = n.Shutdown()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after Shutdown")
		}
	})
	return n, out
}
