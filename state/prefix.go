package state

import (
	"cmp"
	"net"
	"net/netip"
	"slices"

	"github.com/cilium/cilium/pkg/ip"
	"go4.org/netipx"
)

// ParsePrefix parses an IPv4 CIDR and returns it in canonical (masked) form
func ParsePrefix(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, &InvalidPrefixError{Prefix: s, Reason: err.Error()}
	}
	return CheckPrefix(p)
}

func CheckPrefix(p netip.Prefix) (netip.Prefix, error) {
	if !p.IsValid() {
		return netip.Prefix{}, &InvalidPrefixError{Prefix: p.String(), Reason: "not a valid prefix"}
	}
	if !p.Addr().Unmap().Is4() {
		return netip.Prefix{}, &InvalidPrefixError{Prefix: p.String(), Reason: "only IPv4 is supported"}
	}
	return netip.PrefixFrom(p.Addr().Unmap(), p.Bits()).Masked(), nil
}

func toIPNets(prefixes []netip.Prefix) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(prefixes))
	for _, p := range prefixes {
		if p.IsValid() {
			nets = append(nets, netipx.PrefixIPNet(p))
		}
	}
	return nets
}

func fromIPNets(nets []*net.IPNet) []netip.Prefix {
	output := make([]netip.Prefix, 0, len(nets))
	for _, n := range nets {
		if p, ok := netipx.FromStdIPNet(n); ok {
			output = append(output, netip.PrefixFrom(p.Addr().Unmap(), p.Bits()))
		}
	}
	return output
}

// ComparePrefix orders prefixes by address, then by length
func ComparePrefix(a, b netip.Prefix) int {
	return cmp.Or(a.Addr().Compare(b.Addr()), cmp.Compare(a.Bits(), b.Bits()))
}

// CoalescePrefix merges adjacent and overlapping prefixes into the smallest covering set
func CoalescePrefix(prefixes []netip.Prefix) []netip.Prefix {
	ipv4, ipv6 := ip.CoalesceCIDRs(toIPNets(prefixes))
	out := fromIPNets(append(ipv4, ipv6...))
	slices.SortFunc(out, ComparePrefix)
	return out
}

// PrefixSet builds the set of addresses covered by prefixes
func PrefixSet(prefixes []netip.Prefix) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, p := range prefixes {
		b.AddPrefix(p)
	}
	return b.IPSet()
}
