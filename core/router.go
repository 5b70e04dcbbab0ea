package core

import (
	"maps"
	"net/netip"

	"github.com/encodeous/routesim/state"
	"github.com/jellydator/ttlcache/v3"
)

// Router is a simulated router. Engines reach protocol behaviour through the BGPSpeaker and
// OSPFSpeaker capabilities.
type Router interface {
	RIBHolder
	Id() state.RouterId
	Role() state.Role
	Fib() *Fib
}

type RIBHolder interface {
	// Table returns the selected route of every destination, keyed by destination
	Table() map[string]state.AnyRoute
}

type BGPSpeaker interface {
	Router
	BGP() *BGPRouter
}

type OSPFSpeaker interface {
	Router
	OSPF() *OSPFRouter
}

type routerBase struct {
	id   state.RouterId
	role state.Role
	fib  *Fib
}

func (r *routerBase) Id() state.RouterId {
	return r.id
}

func (r *routerBase) Role() state.Role {
	return r.role
}

func (r *routerBase) Fib() *Fib {
	return r.fib
}

type loopKey struct {
	Neighbour state.RouterId
	Prefix    netip.Prefix
}

type originKey struct {
	Origin state.RouterId
	Prefix netip.Prefix
}

type BGPRouter struct {
	routerBase
	RIB        *state.RIB[netip.Prefix, state.BGPRoute]
	Originated map[netip.Prefix]struct{}
	// AdjOut is what has been advertised to each neighbour
	AdjOut map[state.RouterId]map[netip.Prefix]state.BGPRoute
	// advertisements currently suppressed by the AS path check
	loops *ttlcache.Cache[loopKey, state.ASN]
	// newest epoch known to be withdrawn, per origin and prefix
	retracted map[originKey]uint64
	// retractions learned during the last commit, flooded by the next propagation
	pending []pendingRetraction
}

func NewBGPRouter(id state.RouterId, as state.ASN) *BGPRouter {
	return &BGPRouter{
		routerBase: routerBase{id: id, role: state.BGP(as), fib: NewFib()},
		RIB:        state.NewRIB[netip.Prefix, state.BGPRoute](),
		Originated: make(map[netip.Prefix]struct{}),
		AdjOut:     make(map[state.RouterId]map[netip.Prefix]state.BGPRoute),
		retracted:  make(map[originKey]uint64),
		loops: ttlcache.New[loopKey, state.ASN](
			ttlcache.WithCapacity[loopKey, state.ASN](state.LoopEventCapacity),
			ttlcache.WithDisableTouchOnHit[loopKey, state.ASN](),
		),
	}
}

func (r *BGPRouter) BGP() *BGPRouter {
	return r
}

func (r *BGPRouter) AS() state.ASN {
	return r.role.AS
}

func (r *BGPRouter) Table() map[string]state.AnyRoute {
	out := make(map[string]state.AnyRoute, r.RIB.Len())
	for p, route := range r.RIB.Selected() {
		out[p.String()] = route
	}
	return out
}

// Origin returns the route the router injects for a prefix it originates
func (r *BGPRouter) Origin(prefix netip.Prefix) state.BGPRoute {
	return state.BGPRoute{
		Prefix: prefix,
		ASPath: []state.ASN{r.AS()},
		Origin: r.id,
		Nh:     r.id,
		Epoch:  r.originEpoch(prefix),
	}
}

func (r *BGPRouter) originEpoch(prefix netip.Prefix) uint64 {
	if e, ok := r.retracted[originKey{Origin: r.id, Prefix: prefix}]; ok {
		return e + 1
	}
	return 0
}

// Stale reports whether route was withdrawn by its origin
func (r *BGPRouter) Stale(route state.BGPRoute) bool {
	e, ok := r.retracted[originKey{Origin: route.Origin, Prefix: route.Prefix}]
	return ok && route.Epoch <= e
}

// ForgetNeighbour drops everything learned from or advertised to a neighbour and returns the
// prefixes whose selection changed
func (r *BGPRouter) ForgetNeighbour(neigh state.RouterId) []netip.Prefix {
	delete(r.AdjOut, neigh)
	for _, k := range r.loops.Keys() {
		if k.Neighbour == neigh {
			r.loops.Delete(k)
		}
	}
	return r.RIB.WithdrawSource(neigh)
}

type OSPFRouter struct {
	routerBase
	RIB *state.RIB[state.Dest, state.OSPFRoute]
	// Stubs are the prefixes attached to this router with their cost
	Stubs map[netip.Prefix]uint32
}

func NewOSPFRouter(id state.RouterId, area state.AreaId) *OSPFRouter {
	return &OSPFRouter{
		routerBase: routerBase{id: id, role: state.OSPF(area), fib: NewFib()},
		RIB:        state.NewRIB[state.Dest, state.OSPFRoute](),
		Stubs:      make(map[netip.Prefix]uint32),
	}
}

func (r *OSPFRouter) OSPF() *OSPFRouter {
	return r
}

func (r *OSPFRouter) Area() state.AreaId {
	return r.role.Area
}

func (r *OSPFRouter) Table() map[string]state.AnyRoute {
	out := make(map[string]state.AnyRoute, r.RIB.Len())
	for d, route := range r.RIB.Selected() {
		out[d.String()] = route
	}
	return out
}

func (r *OSPFRouter) StubsCopy() map[netip.Prefix]uint32 {
	return maps.Clone(r.Stubs)
}

var (
	_ BGPSpeaker  = &BGPRouter{}
	_ OSPFSpeaker = &OSPFRouter{}
)
