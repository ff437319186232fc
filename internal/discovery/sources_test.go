package discovery

import (
	"net"
	"net/netip"
	"testing"
)

func TestRangeSource(t *testing.T) {
	got, err := RangeSource{Prefix: netip.MustParsePrefix("127.0.0.0/30")}.Candidates()
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	want := []string{"127.0.0.1", "127.0.0.2", "127.0.0.3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("candidate %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRangeSourceRejectsLargePrefix(t *testing.T) {
	if _, err := (RangeSource{Prefix: netip.MustParsePrefix("10.0.0.0/8")}).Candidates(); err == nil {
		t.Error("expected error for a /8 sweep")
	}
}

func TestStaticSourceUnmaps(t *testing.T) {
	got, _ := StaticSource{netip.MustParseAddr("::ffff:10.0.0.1")}.Candidates()
	if len(got) != 1 || got[0] != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("unexpected candidates %v", got)
	}
}

func TestBroadcastSourceIncludesLimitedBroadcast(t *testing.T) {
	got, _ := BroadcastSource{}.Candidates()
	if len(got) == 0 || got[0] != limitedBroadcast {
		t.Errorf("expected 255.255.255.255 first, got %v", got)
	}
}

func TestDirectedBroadcast(t *testing.T) {
	_, ipnet, _ := net.ParseCIDR("192.168.1.17/24")
	ipnet.IP = net.ParseIP("192.168.1.17").To4()

	got, ok := directedBroadcast(ipnet)
	if !ok || got != netip.MustParseAddr("192.168.1.255") {
		t.Errorf("expected 192.168.1.255, got %s", got)
	}
}
