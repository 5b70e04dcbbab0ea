package core

import (
	"net/netip"

	"github.com/encodeous/routesim/state"
	"github.com/gaissmai/bart"
)

type FibEntry struct {
	Prefix   netip.Prefix
	Nh       state.RouterId
	Protocol state.Protocol
	Local    bool // the prefix is originated or attached here
}

// Fib is the forwarding table of a router, kept in sync with the selected RIB routes
type Fib struct {
	table *bart.Table[FibEntry]
}

func NewFib() *Fib {
	return &Fib{table: new(bart.Table[FibEntry])}
}

func (f *Fib) Update(self state.RouterId, c RouteChange) {
	if !c.Prefix.IsValid() {
		return
	}
	if c.New == nil {
		f.table.Delete(c.Prefix)
		return
	}
	f.table.Insert(c.Prefix, FibEntry{
		Prefix:   c.Prefix,
		Nh:       c.New.NextHop(),
		Protocol: c.New.Protocol(),
		Local:    c.New.NextHop() == self,
	})
}

// Lookup does a longest-prefix match
func (f *Fib) Lookup(addr netip.Addr) (FibEntry, bool) {
	return f.table.Lookup(addr)
}

func (f *Fib) Prefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, f.table.Size())
	for pfx := range f.table.All() {
		out = append(out, pfx)
	}
	return out
}

func (f *Fib) Len() int {
	return f.table.Size()
}
