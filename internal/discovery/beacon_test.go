package discovery

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
)

type recorder struct {
	mu   sync.Mutex
	seen []netip.Addr
	ch   chan netip.Addr
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan netip.Addr, 16)}
}

func (r *recorder) Observe(_ context.Context, addr netip.Addr) {
	r.mu.Lock()
	r.seen = append(r.seen, addr)
	r.mu.Unlock()
	select {
	case r.ch <- addr:
	default:
	}
}

func (r *recorder) wait(t *testing.T, want netip.Addr) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-r.ch:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting to observe %s", want)
		}
	}
}

// freeUDPPort returns a port that is currently unused on 127.0.0.1.
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

func startBeacon(t *testing.T, cfg Config, obs Observer) *Beacon {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDiscardLogger()
	}
	b, err := New(cfg, obs)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func TestAnnounceReachesStaticPeer(t *testing.T) {
	port := freeUDPPort(t)
	alice := netip.MustParseAddr("127.0.0.1")
	bob := netip.MustParseAddr("127.0.0.2")

	bobSeen := newRecorder()
	startBeacon(t, Config{Name: "bob", Addr: bob, Port: port, Source: StaticSource{}, Delay: time.Hour}, bobSeen)
	startBeacon(t, Config{Name: "alice", Addr: alice, Port: port, Source: StaticSource{bob}, Delay: 10 * time.Millisecond}, newRecorder())

	bobSeen.wait(t, alice)
}

func TestAnnounceRangeSkipsSelf(t *testing.T) {
	port := freeUDPPort(t)
	alice := netip.MustParseAddr("127.0.0.1")
	bob := netip.MustParseAddr("127.0.0.2")
	sweep := RangeSource{Prefix: netip.MustParsePrefix("127.0.0.0/29")}

	aliceSeen := newRecorder()
	bobSeen := newRecorder()
	startBeacon(t, Config{Name: "bob", Addr: bob, Port: port, Source: sweep, Delay: time.Hour}, bobSeen)
	a := startBeacon(t, Config{Name: "alice", Addr: alice, Port: port, Source: sweep, Delay: time.Hour}, aliceSeen)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sent, err := a.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce failed: %v", err)
	}
	if sent != 6 {
		t.Errorf("expected 6 sends (7 hosts minus self), got %d", sent)
	}

	bobSeen.wait(t, alice)

	time.Sleep(100 * time.Millisecond)
	aliceSeen.mu.Lock()
	defer aliceSeen.mu.Unlock()
	for _, addr := range aliceSeen.seen {
		if addr == alice {
			t.Error("beacon announced to its own address")
		}
	}
}

func TestMalformedDatagramStillObserved(t *testing.T) {
	port := freeUDPPort(t)
	bob := netip.MustParseAddr("127.0.0.2")

	bobSeen := newRecorder()
	startBeacon(t, Config{Name: "bob", Addr: bob, Port: port, Source: StaticSource{}, Delay: time.Hour}, bobSeen)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.3")})
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.WriteToUDP([]byte{0xFF}, &net.UDPAddr{IP: net.ParseIP("127.0.0.2"), Port: port}); err != nil {
		t.Fatalf("WriteToUDP failed: %v", err)
	}

	bobSeen.wait(t, netip.MustParseAddr("127.0.0.3"))
}

func TestAnnouncePayloadCarriesName(t *testing.T) {
	port := freeUDPPort(t)
	sink, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.2"), Port: port})
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer func() { _ = sink.Close() }()

	startBeacon(t, Config{
		Name:   "alice",
		Addr:   netip.MustParseAddr("127.0.0.1"),
		Port:   port,
		Source: StaticSource{netip.MustParseAddr("127.0.0.2")},
		Delay:  10 * time.Millisecond,
	}, newRecorder())

	_ = sink.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := sink.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP failed: %v", err)
	}

	f, err := protocol.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.Type != protocol.FrameAnnounce || f.Payload != "alice" {
		t.Errorf("unexpected frame %s %q", f.Type, f.Payload)
	}
}

func TestCloseStopsRun(t *testing.T) {
	b, err := New(Config{
		Addr:   netip.MustParseAddr("127.0.0.1"),
		Port:   freeUDPPort(t),
		Source: StaticSource{},
		Logger: logger.NewDiscardLogger(),
	}, newRecorder())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	_ = b.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
