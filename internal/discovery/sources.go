package discovery

import (
	"fmt"
	"net"
	"net/netip"
)

// CandidateSource yields the addresses an announce sweep is sent to.
type CandidateSource interface {
	Candidates() ([]netip.Addr, error)
}

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// BroadcastSource targets the limited broadcast address and the directed
// broadcast address of every IPv4 interface network that supports it.
type BroadcastSource struct{}

func (BroadcastSource) Candidates() ([]netip.Addr, error) {
	out := []netip.Addr{limitedBroadcast}
	seen := map[netip.Addr]bool{limitedBroadcast: true}

	ifaces, err := net.Interfaces()
	if err != nil {
		return out, fmt.Errorf("listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			bcast, ok := directedBroadcast(ipnet)
			if !ok || seen[bcast] {
				continue
			}
			seen[bcast] = true
			out = append(out, bcast)
		}
	}
	return out, nil
}

func directedBroadcast(ipnet *net.IPNet) (netip.Addr, bool) {
	ip4 := ipnet.IP.To4()
	if ip4 == nil || len(ipnet.Mask) != net.IPv4len {
		return netip.Addr{}, false
	}
	var b [4]byte
	for i := range b {
		b[i] = ip4[i] | ^ipnet.Mask[i]
	}
	return netip.AddrFrom4(b), true
}

// StaticSource is a fixed list of peer addresses.
type StaticSource []netip.Addr

func (s StaticSource) Candidates() ([]netip.Addr, error) {
	out := make([]netip.Addr, len(s))
	for i, a := range s {
		out[i] = a.Unmap()
	}
	return out, nil
}

// maxRangeBits bounds RangeSource to 65536 addresses.
const maxRangeBits = 16

// RangeSource sweeps every address of a prefix after the network address,
// e.g. 127.0.0.0/24 for several nodes on one loopback interface.
type RangeSource struct {
	Prefix netip.Prefix
}

func (r RangeSource) Candidates() ([]netip.Addr, error) {
	p := r.Prefix.Masked()
	if !p.IsValid() {
		return nil, fmt.Errorf("invalid range %s", r.Prefix)
	}
	if p.Addr().BitLen()-p.Bits() > maxRangeBits {
		return nil, fmt.Errorf("range %s is too large", p)
	}

	var out []netip.Addr
	for a := p.Addr().Next(); a.IsValid() && p.Contains(a); a = a.Next() {
		out = append(out, a)
	}
	return out, nil
}
