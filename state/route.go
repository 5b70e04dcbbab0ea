package state

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// BGPRoute is a path-vector route. ASPath holds the traversed AS numbers with the most recently
// added one last, so the holder's own AS is always the final element.
type BGPRoute struct {
	Prefix netip.Prefix
	ASPath []ASN
	Origin RouterId
	Nh     RouterId // next hop, the router itself for originated routes
	// Epoch counts how many times Origin stopped originating Prefix before this advertisement
	Epoch uint64
}

func (r BGPRoute) Source() RouterId {
	return r.Nh
}

func (r BGPRoute) NextHop() RouterId {
	return r.Nh
}

func (r BGPRoute) Destination() string {
	return r.Prefix.String()
}

func (r BGPRoute) Protocol() Protocol {
	return ProtoBGP
}

// NeighbourAS is the AS the route was received from: the element before the holder's own AS,
// or the holder's AS for an originated route
func (r BGPRoute) NeighbourAS() ASN {
	switch len(r.ASPath) {
	case 0:
		return 0
	case 1:
		return r.ASPath[0]
	default:
		return r.ASPath[len(r.ASPath)-2]
	}
}

func (r BGPRoute) Contains(as ASN) bool {
	return slices.Contains(r.ASPath, as)
}

// HasLoop reports whether any AS appears twice in the path
func (r BGPRoute) HasLoop() bool {
	seen := make(map[ASN]struct{}, len(r.ASPath))
	for _, as := range r.ASPath {
		if _, ok := seen[as]; ok {
			return true
		}
		seen[as] = struct{}{}
	}
	return false
}

// Extend returns a copy of the route as seen by a neighbour in AS as, reached through nh
func (r BGPRoute) Extend(as ASN, nh RouterId) BGPRoute {
	path := make([]ASN, len(r.ASPath), len(r.ASPath)+1)
	copy(path, r.ASPath)
	return BGPRoute{
		Prefix: r.Prefix,
		ASPath: append(path, as),
		Origin: r.Origin,
		Nh:     nh,
		Epoch:  r.Epoch,
	}
}

// Compare orders candidates by shortest AS path, then lowest neighbour AS, then lowest origin id,
// then lowest next hop id
func (r BGPRoute) Compare(o BGPRoute) int {
	return cmp.Or(
		cmp.Compare(len(r.ASPath), len(o.ASPath)),
		cmp.Compare(r.NeighbourAS(), o.NeighbourAS()),
		cmp.Compare(r.Origin, o.Origin),
		cmp.Compare(r.Nh, o.Nh),
	)
}

func (r BGPRoute) Equal(o BGPRoute) bool {
	return r.Prefix == o.Prefix && r.Origin == o.Origin && r.Nh == o.Nh && r.Epoch == o.Epoch &&
		slices.Equal(r.ASPath, o.ASPath)
}

func (r BGPRoute) PathString() string {
	parts := make([]string, 0, len(r.ASPath))
	for _, as := range r.ASPath {
		parts = append(parts, fmt.Sprint(as))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (r BGPRoute) String() string {
	return fmt.Sprintf("(nh: %s, origin: %s, path: %s)", r.Nh, r.Origin, r.PathString())
}

// Dest is an OSPF destination: either a router or a stub prefix attached to one
type Dest struct {
	Router RouterId
	Prefix netip.Prefix
}

func RouterDest(id RouterId) Dest {
	return Dest{Router: id}
}

func PrefixDest(p netip.Prefix) Dest {
	return Dest{Prefix: p}
}

func (d Dest) IsPrefix() bool {
	return d.Prefix.IsValid()
}

func (d Dest) String() string {
	if d.IsPrefix() {
		return d.Prefix.String()
	}
	return string(d.Router)
}

func (d Dest) Compare(o Dest) int {
	// routers sort before prefixes
	if d.IsPrefix() != o.IsPrefix() {
		if d.IsPrefix() {
			return 1
		}
		return -1
	}
	if d.IsPrefix() {
		return ComparePrefix(d.Prefix, o.Prefix)
	}
	return cmp.Compare(d.Router, o.Router)
}

// OSPFRoute is a link-state route computed by SPF
type OSPFRoute struct {
	Dest      Dest
	Cost      uint32
	Nh        RouterId
	Area      AreaId
	AdvRouter RouterId // router the destination is attached to
}

func (r OSPFRoute) Source() RouterId {
	return r.Nh
}

func (r OSPFRoute) NextHop() RouterId {
	return r.Nh
}

func (r OSPFRoute) Destination() string {
	return r.Dest.String()
}

func (r OSPFRoute) Protocol() Protocol {
	return ProtoOSPF
}

// Compare orders candidates by lowest cost, then lowest next hop id, then lowest advertising router id
func (r OSPFRoute) Compare(o OSPFRoute) int {
	return cmp.Or(
		cmp.Compare(r.Cost, o.Cost),
		cmp.Compare(r.Nh, o.Nh),
		cmp.Compare(r.AdvRouter, o.AdvRouter),
	)
}

func (r OSPFRoute) Equal(o OSPFRoute) bool {
	return r == o
}

func (r OSPFRoute) String() string {
	return fmt.Sprintf("(nh: %s, cost: %d, area: %s, adv: %s)", r.Nh, r.Cost, r.Area, r.AdvRouter)
}

// AnyRoute is the protocol independent view of a selected route
type AnyRoute interface {
	Destination() string
	NextHop() RouterId
	Protocol() Protocol
	String() string
}

var (
	_ Route[BGPRoute]  = BGPRoute{}
	_ Route[OSPFRoute] = OSPFRoute{}
	_ AnyRoute         = BGPRoute{}
	_ AnyRoute         = OSPFRoute{}
)
