package core

import (
	"net/netip"

	"github.com/encodeous/routesim/state"
)

type RouterEvent int

// trace events

const (
	RouteSelected RouterEvent = iota
	RouteWithdrawn
	LoopPrevented
	SPFComputed
)

// warn events

const (
	InconsistentState RouterEvent = iota + 1000
	RejectedAdvert
)

func (e RouterEvent) String() string {
	switch e {
	case RouteSelected:
		return "RouteSelected"
	case RouteWithdrawn:
		return "RouteWithdrawn"
	case LoopPrevented:
		return "LoopPrevented"
	case SPFComputed:
		return "SPFComputed"
	case InconsistentState:
		return "InconsistentState"
	case RejectedAdvert:
		return "RejectedAdvert"
	}
	return "RouterEvent(?)"
}

func (e RouterEvent) IsWarning() bool {
	return e >= InconsistentState
}

// LoopPreventedEvent records an advertisement that was suppressed because the neighbour's AS is
// already in the route's AS path. It is recorded once when the suppression starts.
type LoopPreventedEvent struct {
	Round       int
	Router      state.RouterId
	Neighbour   state.RouterId
	NeighbourAS state.ASN
	Prefix      netip.Prefix
	ASPath      []state.ASN
}

// RouteChange is published whenever the selected route of a destination changes.
// Old or New is nil when the destination was added or cleared.
type RouteChange struct {
	Round       int
	Router      state.RouterId
	Destination string
	Prefix      netip.Prefix // invalid for router destinations
	Old, New    state.AnyRoute
}

type RoundCompleted struct {
	Stats RoundStats
}
