package core

import (
	"maps"
	"net/netip"
	"slices"

	"github.com/encodeous/routesim/state"
	"github.com/jellydator/ttlcache/v3"
)

// BGPUpdate carries the changes to the Adj-RIB-Out of one router towards one neighbour.
// Routes in Announce already carry the receiver's AS and have the sender as next hop.
type BGPUpdate struct {
	From, To state.RouterId
	Announce []state.BGPRoute
	Withdraw []netip.Prefix
	Retract  []Retraction
}

func (u BGPUpdate) Empty() bool {
	return len(u.Announce) == 0 && len(u.Withdraw) == 0 && len(u.Retract) == 0
}

// Retraction tells that Origin stopped originating Prefix. Every route from Origin for Prefix with
// an epoch up to Epoch is stale. Retractions are flooded one hop per round, independent of the AS
// path check, so an origin withdrawal reaches every router within the network diameter.
type Retraction struct {
	Prefix netip.Prefix
	Origin state.RouterId
	Epoch  uint64
}

type pendingRetraction struct {
	Retraction
	from state.RouterId
}

// Bus collects everything a router emits during the compute phase of a round
type Bus interface {
	SendUpdate(update BGPUpdate)
	LoopPrevented(ev LoopPreventedEvent)
	Log(event RouterEvent, desc string, args ...any)
}

type BGPNeighbour struct {
	Id state.RouterId
	AS state.ASN
}

// PropagateBGP computes the updates r sends to each of its neighbours this round. It reads only the
// committed RIB of r and mutates only r's own Adj-RIB-Out, loop tracking and retraction queue, so
// routers may be propagated concurrently.
func PropagateBGP(r *BGPRouter, neighs []BGPNeighbour, bus Bus) {
	selected := r.RIB.Selected()
	prefixes := slices.SortedFunc(maps.Keys(selected), state.ComparePrefix)
	suppressed := make(map[loopKey]struct{})
	flood := r.pending
	r.pending = nil

	for _, n := range neighs {
		out, ok := r.AdjOut[n.Id]
		if !ok {
			out = make(map[netip.Prefix]state.BGPRoute)
			r.AdjOut[n.Id] = out
		}
		want := make(map[netip.Prefix]state.BGPRoute)
		for _, p := range prefixes {
			route := selected[p]
			if route.Contains(n.AS) {
				// as path loop check
				key := loopKey{Neighbour: n.Id, Prefix: p}
				suppressed[key] = struct{}{}
				if !r.loops.Has(key) {
					r.loops.Set(key, n.AS, ttlcache.DefaultTTL)
					bus.LoopPrevented(LoopPreventedEvent{
						Router:      r.id,
						Neighbour:   n.Id,
						NeighbourAS: n.AS,
						Prefix:      p,
						ASPath:      slices.Clone(route.ASPath),
					})
					bus.Log(LoopPrevented, "advertisement suppressed", "neigh", n.Id, "prefix", p, "path", route.PathString())
				}
				continue
			}
			want[p] = route.Extend(n.AS, r.id)
		}

		upd := BGPUpdate{From: r.id, To: n.Id}
		for _, rt := range flood {
			if rt.from != n.Id {
				upd.Retract = append(upd.Retract, rt.Retraction)
			}
		}
		for _, p := range prefixes {
			adv, ok := want[p]
			if !ok {
				continue
			}
			if old, sent := out[p]; !sent || !old.Equal(adv) {
				upd.Announce = append(upd.Announce, adv)
				out[p] = adv
			}
		}
		for _, p := range slices.SortedFunc(maps.Keys(out), state.ComparePrefix) {
			if _, ok := want[p]; !ok {
				upd.Withdraw = append(upd.Withdraw, p)
				delete(out, p)
			}
		}
		if !upd.Empty() {
			bus.SendUpdate(upd)
		}
	}

	// re-arm suppressions that ended
	for _, k := range r.loops.Keys() {
		if _, ok := suppressed[k]; !ok {
			r.loops.Delete(k)
		}
	}
}

// ApplyBGPUpdate commits an update received from a neighbour into r's RIB. Retractions are applied
// first, then withdrawals, then announcements. It returns the prefixes whose selection changed.
func ApplyBGPUpdate(r *BGPRouter, upd BGPUpdate, bus Bus) []netip.Prefix {
	changed := make([]netip.Prefix, 0)
	for _, rt := range upd.Retract {
		if !learnRetraction(r, rt, upd.From) {
			continue
		}
		if r.RIB.WithdrawMatching(rt.Prefix, r.Stale) {
			changed = append(changed, rt.Prefix)
		}
	}
	for _, p := range upd.Withdraw {
		if r.RIB.Withdraw(p, upd.From) {
			changed = append(changed, p)
		}
	}
	for _, route := range upd.Announce {
		if route.Nh != upd.From || len(route.ASPath) == 0 || route.ASPath[len(route.ASPath)-1] != r.AS() {
			bus.Log(InconsistentState, "malformed advertisement", "from", upd.From, "route", route)
			continue
		}
		// a router never installs a route that already traversed its own AS
		if slices.Contains(route.ASPath[:len(route.ASPath)-1], r.AS()) || route.HasLoop() {
			bus.Log(RejectedAdvert, "advertisement contains own as", "from", upd.From, "prefix", route.Prefix, "path", route.PathString())
			if r.RIB.Withdraw(route.Prefix, upd.From) {
				changed = append(changed, route.Prefix)
			}
			continue
		}
		if r.Stale(route) {
			// still in flight from before the origin withdrew it
			if r.RIB.Withdraw(route.Prefix, upd.From) {
				changed = append(changed, route.Prefix)
			}
			continue
		}
		if r.RIB.Install(route.Prefix, route) {
			changed = append(changed, route.Prefix)
		}
	}
	slices.SortFunc(changed, state.ComparePrefix)
	return slices.Compact(changed)
}

// Originate installs a locally originated route and reports whether the selection changed
func Originate(r *BGPRouter, prefix netip.Prefix) bool {
	r.Originated[prefix] = struct{}{}
	return r.RIB.Install(prefix, r.Origin(prefix))
}

// StopOriginating removes a locally originated route, the withdrawal is propagated by the next rounds
func StopOriginating(r *BGPRouter, prefix netip.Prefix) bool {
	if _, ok := r.Originated[prefix]; !ok {
		return false
	}
	learnRetraction(r, Retraction{Prefix: prefix, Origin: r.id, Epoch: r.originEpoch(prefix)}, r.id)
	delete(r.Originated, prefix)
	return r.RIB.WithdrawMatching(prefix, r.Stale)
}

// learnRetraction records rt and queues it for flooding, unless r already knows about it
func learnRetraction(r *BGPRouter, rt Retraction, from state.RouterId) bool {
	key := originKey{Origin: rt.Origin, Prefix: rt.Prefix}
	if e, ok := r.retracted[key]; ok && e >= rt.Epoch {
		return false
	}
	r.retracted[key] = rt.Epoch
	r.pending = append(r.pending, pendingRetraction{Retraction: rt, from: from})
	return true
}
