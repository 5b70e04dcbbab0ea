package core

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/netip"
	"runtime"
	"slices"
	"sync"

	"github.com/encodeous/routesim/state"
	"github.com/google/uuid"
	"go4.org/netipx"
)

// network is the state shared by the Simulation API and the Driver
type network struct {
	topo    *state.Topology
	routers map[state.RouterId]Router
	// bumped whenever a stub prefix of a router in the area changes
	stubGen map[state.AreaId]uint64
	loops   []LoopPreventedEvent
	log     *slog.Logger
	trace   *Trace
}

func (n *network) areaGeneration(area state.AreaId) uint64 {
	return n.topo.AreaGeneration(area) + n.stubGen[area]
}

func (n *network) stubsOf(id state.RouterId) map[netip.Prefix]uint32 {
	if sp, ok := n.routers[id].(OSPFSpeaker); ok {
		return sp.OSPF().StubsCopy()
	}
	return nil
}

// bgpNeighbours returns the directly linked routers that also speak BGP, sorted by id
func (n *network) bgpNeighbours(id state.RouterId) []BGPNeighbour {
	out := make([]BGPNeighbour, 0)
	for _, adj := range n.topo.Neighbours(id) {
		if sp, ok := n.routers[adj.Id].(BGPSpeaker); ok {
			out = append(out, BGPNeighbour{Id: adj.Id, AS: sp.BGP().AS()})
		}
	}
	return out
}

func (n *network) recordLoop(ev LoopPreventedEvent) {
	n.loops = append(n.loops, ev)
	n.trace.Publish(ev)
}

func (n *network) routeChanged(round int, r Router, dst string, prefix netip.Prefix, old, cur state.AnyRoute) {
	c := RouteChange{
		Round:       round,
		Router:      r.Id(),
		Destination: dst,
		Prefix:      prefix,
		Old:         old,
		New:         cur,
	}
	r.Fib().Update(r.Id(), c)
	if cur == nil {
		n.log.Debug("route withdrawn", "router", r.Id(), "event", RouteWithdrawn, "dst", dst)
	} else {
		n.log.Debug("route selected", "router", r.Id(), "event", RouteSelected, "dst", dst, "route", cur)
	}
	n.trace.Publish(c)
}

var ErrClosed = errors.New("simulation is closed")

type Option func(s *Simulation)

func WithLogger(log *slog.Logger) Option {
	return func(s *Simulation) {
		s.baseLog = log
	}
}

// WithWorkers bounds the number of routers evaluated concurrently within a round
func WithWorkers(n int) Option {
	return func(s *Simulation) {
		s.workers = n
	}
}

// Simulation owns the topology, every router and the convergence driver. All methods are safe to
// call from multiple goroutines, they are serialized so that no mutation happens mid-round.
type Simulation struct {
	*network
	Id      uuid.UUID
	mu      sync.Mutex
	driver  *Driver
	baseLog *slog.Logger
	workers int
	closed  bool
}

func NewSimulation(opts ...Option) *Simulation {
	s := &Simulation{
		Id:      uuid.New(),
		baseLog: slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.network = &network{
		topo:    state.NewTopology(),
		routers: make(map[state.RouterId]Router),
		stubGen: make(map[state.AreaId]uint64),
		loops:   make([]LoopPreventedEvent, 0),
		log:     s.baseLog.With("sim", s.Id.String()),
		trace:   NewTrace(),
	}
	s.driver = newDriver(s.network, s.workers)
	return s
}

func (s *Simulation) AddRouter(id state.RouterId, role state.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := state.NameValidator(string(id)); err != nil {
		return err
	}
	var r Router
	switch role.Protocol {
	case state.ProtoBGP:
		if role.AS == 0 {
			return &state.ConfigError{Msg: fmt.Sprintf("router %s: bgp routers need a non-zero as", id)}
		}
		r = NewBGPRouter(id, role.AS)
	case state.ProtoOSPF:
		if role.Area == "" {
			return &state.ConfigError{Msg: fmt.Sprintf("router %s: ospf routers need an area", id)}
		}
		r = NewOSPFRouter(id, role.Area)
	default:
		return &state.ConfigError{Msg: fmt.Sprintf("router %s: unknown protocol %s", id, role.Protocol)}
	}
	if err := s.topo.AddRouter(id, role); err != nil {
		return err
	}
	s.routers[id] = r
	s.log.Debug("router added", "router", id, "role", role)
	return nil
}

// RemoveRouter deletes a router with all its links. Neighbours forget everything they learned from
// it and the withdrawals cascade over the next rounds.
func (s *Simulation) RemoveRouter(id state.RouterId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.topo.HasRouter(id) {
		return &state.UnknownRouterError{Id: id}
	}
	for _, n := range s.topo.Neighbours(id) {
		s.forgetLink(id, n.Id)
	}
	if sp, ok := s.routers[id].(OSPFSpeaker); ok && len(sp.OSPF().Stubs) > 0 {
		s.stubGen[sp.OSPF().Area()]++
	}
	if err := s.topo.RemoveRouter(id); err != nil {
		return err
	}
	delete(s.routers, id)
	s.log.Debug("router removed", "router", id)
	return nil
}

func (s *Simulation) Connect(a, b state.RouterId, cost int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topo.Connect(a, b, cost)
}

func (s *Simulation) Disconnect(a, b state.RouterId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.topo.Disconnect(a, b); err != nil {
		return err
	}
	s.forgetLink(a, b)
	return nil
}

// SetLinkCost changes the cost of an existing link. BGP ignores link costs, OSPF areas containing
// the link are recomputed.
func (s *Simulation) SetLinkCost(a, b state.RouterId, cost int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topo.SetCost(a, b, cost)
}

// forgetLink drops the BGP session state on both ends of a link. OSPF is invalidated through the
// area generation.
func (s *Simulation) forgetLink(a, b state.RouterId) {
	for _, pair := range [][2]state.RouterId{{a, b}, {b, a}} {
		sp, ok := s.routers[pair[0]].(BGPSpeaker)
		if !ok {
			continue
		}
		rb := sp.BGP()
		before := rb.RIB.Selected()
		for _, p := range rb.ForgetNeighbour(pair[1]) {
			old, had := before[p]
			cur, has := rb.RIB.Best(p)
			s.routeChanged(s.driver.Round(), rb, p.String(), p, bgpAny(old, had), bgpAny(cur, has))
		}
	}
}

func (s *Simulation) bgpRouter(id state.RouterId) (*BGPRouter, error) {
	r, ok := s.routers[id]
	if !ok {
		return nil, &state.UnknownRouterError{Id: id}
	}
	sp, ok := r.(BGPSpeaker)
	if !ok {
		return nil, &state.RoleMismatchError{Id: id, Want: state.ProtoBGP, Have: r.Role().Protocol}
	}
	return sp.BGP(), nil
}

func (s *Simulation) ospfRouter(id state.RouterId) (*OSPFRouter, error) {
	r, ok := s.routers[id]
	if !ok {
		return nil, &state.UnknownRouterError{Id: id}
	}
	sp, ok := r.(OSPFSpeaker)
	if !ok {
		return nil, &state.RoleMismatchError{Id: id, Want: state.ProtoOSPF, Have: r.Role().Protocol}
	}
	return sp.OSPF(), nil
}

// AdvertiseBGPRoute makes origin originate prefix with AS path [own AS]. Advertising a prefix that
// is already originated changes nothing.
func (s *Simulation) AdvertiseBGPRoute(origin state.RouterId, prefix netip.Prefix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, err := s.bgpRouter(origin)
	if err != nil {
		return err
	}
	prefix, err = state.CheckPrefix(prefix)
	if err != nil {
		return err
	}
	before, had := rb.RIB.Best(prefix)
	if Originate(rb, prefix) {
		cur, _ := rb.RIB.Best(prefix)
		s.routeChanged(s.driver.Round(), rb, prefix.String(), prefix, bgpAny(before, had), cur)
	}
	return nil
}

func (s *Simulation) WithdrawBGPRoute(origin state.RouterId, prefix netip.Prefix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, err := s.bgpRouter(origin)
	if err != nil {
		return err
	}
	prefix, err = state.CheckPrefix(prefix)
	if err != nil {
		return err
	}
	before, had := rb.RIB.Best(prefix)
	if StopOriginating(rb, prefix) {
		cur, has := rb.RIB.Best(prefix)
		s.routeChanged(s.driver.Round(), rb, prefix.String(), prefix, bgpAny(before, had), bgpAny(cur, has))
	}
	return nil
}

// AdvertiseOSPFPrefix attaches a stub prefix to an OSPF router, replacing the cost if it is already
// attached
func (s *Simulation) AdvertiseOSPFPrefix(id state.RouterId, prefix netip.Prefix, cost int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ro, err := s.ospfRouter(id)
	if err != nil {
		return err
	}
	prefix, err = state.CheckPrefix(prefix)
	if err != nil {
		return err
	}
	if cost < 0 || cost > state.MaxLinkCost {
		return &state.InvalidCostError{A: id, B: id, Cost: cost}
	}
	if old, ok := ro.Stubs[prefix]; ok && old == uint32(cost) {
		return nil
	}
	ro.Stubs[prefix] = uint32(cost)
	s.stubGen[ro.Area()]++
	return nil
}

func (s *Simulation) WithdrawOSPFPrefix(id state.RouterId, prefix netip.Prefix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ro, err := s.ospfRouter(id)
	if err != nil {
		return err
	}
	prefix, err = state.CheckPrefix(prefix)
	if err != nil {
		return err
	}
	if _, ok := ro.Stubs[prefix]; !ok {
		return nil
	}
	delete(ro.Stubs, prefix)
	s.stubGen[ro.Area()]++
	return nil
}

// RunUntilConverged runs rounds until one changes nothing. maxRounds <= 0 uses state.DefaultMaxRounds.
// If the ceiling is hit the report is returned together with a *state.NonConvergenceError and the
// state after the last round is kept for inspection.
func (s *Simulation) RunUntilConverged(maxRounds int) (ConvergenceReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver.Run(maxRounds)
}

// Step runs a single round
func (s *Simulation) Step() (RoundStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver.Step()
}

func (s *Simulation) State() DriverState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver.State()
}

// RibOf returns the selected route of every destination of a router, keyed by destination
func (s *Simulation) RibOf(id state.RouterId) (map[string]state.AnyRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[id]
	if !ok {
		return nil, &state.UnknownRouterError{Id: id}
	}
	return r.Table(), nil
}

func (s *Simulation) BGPRibOf(id state.RouterId) (map[netip.Prefix]state.BGPRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, err := s.bgpRouter(id)
	if err != nil {
		return nil, err
	}
	return rb.RIB.Selected(), nil
}

func (s *Simulation) OSPFRibOf(id state.RouterId) (map[state.Dest]state.OSPFRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ro, err := s.ospfRouter(id)
	if err != nil {
		return nil, err
	}
	return ro.RIB.Selected(), nil
}

// Alternatives returns the candidates of a BGP destination that are not selected, best first
func (s *Simulation) Alternatives(id state.RouterId, prefix netip.Prefix) ([]state.BGPRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, err := s.bgpRouter(id)
	if err != nil {
		return nil, err
	}
	entry, ok := rb.RIB.Entry(prefix)
	if !ok {
		return nil, nil
	}
	return entry.Alternatives(), nil
}

// RouteInfo returns the route src uses towards dst: for BGP the selected route originated in dst's
// AS (the first element of its AS path), for OSPF the route to the dst router
func (s *Simulation) RouteInfo(src, dst state.RouterId) (state.AnyRoute, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[src]
	if !ok {
		return nil, false, &state.UnknownRouterError{Id: src}
	}
	d, ok := s.routers[dst]
	if !ok {
		return nil, false, &state.UnknownRouterError{Id: dst}
	}
	if d.Role().Protocol != r.Role().Protocol {
		return nil, false, &state.RoleMismatchError{Id: dst, Want: r.Role().Protocol, Have: d.Role().Protocol}
	}
	switch rt := r.(type) {
	case BGPSpeaker:
		sel := rt.BGP().RIB.Selected()
		for _, p := range slices.SortedFunc(maps.Keys(sel), state.ComparePrefix) {
			if path := sel[p].ASPath; len(path) > 0 && path[0] == d.Role().AS {
				return sel[p], true, nil
			}
		}
	case OSPFSpeaker:
		if route, ok := rt.OSPF().RIB.Best(state.RouterDest(dst)); ok {
			return route, true, nil
		}
	}
	return nil, false, nil
}

// Lookup does a longest-prefix match in a router's forwarding table
func (s *Simulation) Lookup(id state.RouterId, addr netip.Addr) (FibEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[id]
	if !ok {
		return FibEntry{}, false, &state.UnknownRouterError{Id: id}
	}
	e, found := r.Fib().Lookup(addr)
	return e, found, nil
}

// Summarize returns the smallest set of prefixes covering everything a router can forward to
func (s *Simulation) Summarize(id state.RouterId) ([]netip.Prefix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[id]
	if !ok {
		return nil, &state.UnknownRouterError{Id: id}
	}
	return state.CoalescePrefix(r.Fib().Prefixes()), nil
}

// Coverage returns the addresses a router can forward to
func (s *Simulation) Coverage(id state.RouterId) (*netipx.IPSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[id]
	if !ok {
		return nil, &state.UnknownRouterError{Id: id}
	}
	return state.PrefixSet(r.Fib().Prefixes())
}

func (s *Simulation) LoopEvents() []LoopPreventedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.loops)
}

func (s *Simulation) Routers() []state.RouterId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topo.Routers()
}

func (s *Simulation) Role(id state.RouterId) (state.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topo.Role(id)
}

func (s *Simulation) Links() []state.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topo.Links()
}

func (s *Simulation) Diameter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topo.Diameter()
}

// Subscribe registers ch for RouteChange, LoopPreventedEvent and RoundCompleted events
func (s *Simulation) Subscribe(ch chan<- any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.trace.Register(ch)
	return nil
}

func (s *Simulation) Unsubscribe(ch chan<- any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.trace.Unregister(ch)
	}
}

// Close stops the trace broadcaster, events are no longer delivered afterwards
func (s *Simulation) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.trace.Close()
}
