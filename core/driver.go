package core

import (
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"slices"
	"time"

	"github.com/encodeous/routesim/perf"
	"github.com/encodeous/routesim/state"
	"golang.org/x/sync/errgroup"
)

type DriverState int

const (
	Idle DriverState = iota
	Propagating
	Converged
	Aborted
)

func (s DriverState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Propagating:
		return "propagating"
	case Converged:
		return "converged"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("DriverState(%d)", int(s))
}

type RoundStats struct {
	Round       int
	Updates     int // bgp updates delivered
	BGPChanges  int // bgp selection changes
	OSPFChanges int // ospf selection changes
	Loops       int // newly suppressed advertisements
	SPFRuns     int
	Duration    time.Duration
}

// Changes is the number the convergence check looks at
func (s RoundStats) Changes() int {
	return s.Updates + s.BGPChanges + s.OSPFChanges
}

type ConvergenceReport struct {
	Converged        bool
	State            DriverState
	Rounds           int
	Changes          int // over all rounds
	UnstablePrefixes []netip.Prefix
	UnstableRouters  []state.RouterId
	RoundStats       []RoundStats
}

// outbox is the Bus of one router for one round
type outbox struct {
	router  state.RouterId
	log     *slog.Logger
	updates []BGPUpdate
	loops   []LoopPreventedEvent
	ospf    []state.OSPFRoute
	spf     bool
}

func (o *outbox) SendUpdate(update BGPUpdate) {
	o.updates = append(o.updates, update)
}

func (o *outbox) LoopPrevented(ev LoopPreventedEvent) {
	o.loops = append(o.loops, ev)
}

func (o *outbox) Log(event RouterEvent, desc string, args ...any) {
	x := make([]any, 0, len(args)+4)
	x = append(x, "router", o.router, "event", event)
	x = append(x, args...)
	if event.IsWarning() {
		o.log.Warn(desc, x...)
	} else {
		o.log.Debug(desc, x...)
	}
}

// Driver runs propagation rounds over a network until a fixed point is reached. A round has a
// parallel compute phase, in which every router reads only committed state, followed by a
// sequential commit in router id order.
type Driver struct {
	net     *network
	state   DriverState
	round   int // rounds run since the driver was created
	workers int
	// area generation each area was last computed at
	areaSeen map[state.AreaId]uint64
	last     roundDelta
}

// roundDelta is what moved during a round, used to report non-convergence
type roundDelta struct {
	prefixes map[netip.Prefix]struct{}
	routers  map[state.RouterId]struct{}
}

func newRoundDelta() roundDelta {
	return roundDelta{
		prefixes: make(map[netip.Prefix]struct{}),
		routers:  make(map[state.RouterId]struct{}),
	}
}

func newDriver(net *network, workers int) *Driver {
	return &Driver{
		net:      net,
		workers:  workers,
		areaSeen: make(map[state.AreaId]uint64),
	}
}

func (d *Driver) State() DriverState {
	return d.state
}

func (d *Driver) Round() int {
	return d.round
}

// dirtyAreas builds the link-state database of every area that changed since it was last computed
func (d *Driver) dirtyAreas() map[state.AreaId]*LSDB {
	dbs := make(map[state.AreaId]*LSDB)
	for _, area := range d.net.topo.Areas() {
		if d.net.areaGeneration(area) == d.areaSeen[area] {
			continue
		}
		dbs[area] = BuildLSDB(d.net.topo, area, d.net.stubsOf)
	}
	return dbs
}

// Step runs exactly one round
func (d *Driver) Step() (RoundStats, error) {
	d.round++
	d.state = Propagating
	start := time.Now()
	stats := RoundStats{Round: d.round}
	delta := newRoundDelta()

	ids := d.net.topo.Routers()
	dbs := d.dirtyAreas()
	outs := make(map[state.RouterId]*outbox, len(ids))
	for _, id := range ids {
		outs[id] = &outbox{router: id, log: d.net.log}
	}

	// compute
	g := new(errgroup.Group)
	if d.workers > 0 {
		g.SetLimit(d.workers)
	}
	for _, id := range ids {
		r := d.net.routers[id]
		out := outs[id]
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = recoverInvariant(p)
				}
			}()
			if sp, ok := r.(BGPSpeaker); ok {
				PropagateBGP(sp.BGP(), d.net.bgpNeighbours(id), out)
			}
			if sp, ok := r.(OSPFSpeaker); ok {
				if db, dirty := dbs[sp.OSPF().Area()]; dirty {
					out.ospf = OSPFTable(db, RunSPF(db, id))
					out.spf = true
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.state = Aborted
		return stats, err
	}

	// commit
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = recoverInvariant(p)
			}
		}()
		d.commit(outs, ids, &stats, delta)
		return nil
	}()
	if err != nil {
		d.state = Aborted
		return stats, err
	}
	for area := range dbs {
		d.areaSeen[area] = d.net.areaGeneration(area)
	}

	stats.Duration = time.Since(start)
	d.last = delta
	perf.RoundLatency.Add(float64(stats.Duration.Microseconds()))
	perf.UpdatesSent.Add(float64(stats.Updates))
	perf.LoopsPrevented.Add(float64(stats.Loops))
	perf.SPFRuns.Add(float64(stats.SPFRuns))
	d.net.log.Debug("round complete", "round", d.round, "updates", stats.Updates,
		"bgp", stats.BGPChanges, "ospf", stats.OSPFChanges, "loops", stats.Loops, "took", stats.Duration)
	d.net.trace.Publish(RoundCompleted{Stats: stats})
	return stats, nil
}

func (d *Driver) commit(outs map[state.RouterId]*outbox, ids []state.RouterId, stats *RoundStats, delta roundDelta) {
	bgpBefore := make(map[state.RouterId]map[netip.Prefix]state.BGPRoute)
	bgpTouched := make(map[state.RouterId]map[netip.Prefix]struct{})

	for _, id := range ids {
		out := outs[id]
		for _, ev := range out.loops {
			ev.Round = d.round
			d.net.recordLoop(ev)
			stats.Loops++
		}
		for _, upd := range out.updates {
			recv, ok := d.net.routers[upd.To].(BGPSpeaker)
			if !ok {
				out.Log(InconsistentState, "update to a router that does not speak bgp", "to", upd.To)
				continue
			}
			rb := recv.BGP()
			if _, ok := bgpBefore[upd.To]; !ok {
				bgpBefore[upd.To] = rb.RIB.Selected()
				bgpTouched[upd.To] = make(map[netip.Prefix]struct{})
			}
			stats.Updates++
			delta.routers[upd.To] = struct{}{}
			for _, p := range ApplyBGPUpdate(rb, upd, outs[upd.To]) {
				bgpTouched[upd.To][p] = struct{}{}
			}
			for _, p := range upd.Withdraw {
				delta.prefixes[p] = struct{}{}
			}
			for _, rt := range upd.Retract {
				delta.prefixes[rt.Prefix] = struct{}{}
			}
			for _, r := range upd.Announce {
				delta.prefixes[r.Prefix] = struct{}{}
			}
		}
	}
	for _, id := range slices.Sorted(maps.Keys(bgpTouched)) {
		rb := d.net.routers[id].(BGPSpeaker).BGP()
		for _, p := range slices.SortedFunc(maps.Keys(bgpTouched[id]), state.ComparePrefix) {
			old, had := bgpBefore[id][p]
			cur, has := rb.RIB.Best(p)
			if had == has && (!has || old.Equal(cur)) {
				continue
			}
			stats.BGPChanges++
			d.net.routeChanged(d.round, rb, p.String(), p, bgpAny(old, had), bgpAny(cur, has))
		}
	}

	for _, id := range ids {
		out := outs[id]
		if !out.spf {
			continue
		}
		stats.SPFRuns++
		ro := d.net.routers[id].(OSPFSpeaker).OSPF()
		before := ro.RIB.Selected()
		for _, dst := range ApplyOSPFTable(ro, out.ospf, out) {
			old, had := before[dst]
			cur, has := ro.RIB.Best(dst)
			if had == has && (!has || old.Equal(cur)) {
				continue
			}
			stats.OSPFChanges++
			delta.routers[id] = struct{}{}
			if dst.IsPrefix() {
				delta.prefixes[dst.Prefix] = struct{}{}
			}
			d.net.routeChanged(d.round, ro, dst.String(), dst.Prefix, ospfAny(old, had), ospfAny(cur, has))
		}
	}
}

func bgpAny(r state.BGPRoute, ok bool) state.AnyRoute {
	if !ok {
		return nil
	}
	return r
}

func ospfAny(r state.OSPFRoute, ok bool) state.AnyRoute {
	if !ok {
		return nil
	}
	return r
}

func recoverInvariant(p any) error {
	if err, ok := p.(*state.InvariantError); ok {
		return err
	}
	panic(p)
}

// Run steps until a round changes nothing or maxRounds rounds have run. On abort the report is
// returned together with a *state.NonConvergenceError.
func (d *Driver) Run(maxRounds int) (ConvergenceReport, error) {
	if maxRounds <= 0 {
		maxRounds = state.DefaultMaxRounds
	}
	report := ConvergenceReport{RoundStats: make([]RoundStats, 0)}
	for report.Rounds < maxRounds {
		stats, err := d.Step()
		report.Rounds++
		report.RoundStats = append(report.RoundStats, stats)
		report.Changes += stats.Changes()
		if err != nil {
			report.State = d.state
			return report, err
		}
		if stats.Changes() == 0 {
			d.state = Converged
			report.Converged = true
			report.State = d.state
			return report, nil
		}
	}
	d.state = Aborted
	report.State = d.state
	report.UnstablePrefixes = slices.SortedFunc(maps.Keys(d.last.prefixes), state.ComparePrefix)
	report.UnstableRouters = slices.Sorted(maps.Keys(d.last.routers))
	d.net.log.Warn("simulation did not converge", "rounds", report.Rounds,
		"prefixes", report.UnstablePrefixes, "routers", report.UnstableRouters)
	return report, &state.NonConvergenceError{
		Rounds:           report.Rounds,
		UnstablePrefixes: report.UnstablePrefixes,
		UnstableRouters:  report.UnstableRouters,
	}
}
