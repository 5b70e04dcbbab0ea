package core

import (
	"container/heap"
	"maps"
	"net/netip"
	"slices"

	"github.com/encodeous/routesim/state"
)

// LSDB is the link-state view of one area: every intra-area adjacency and the stub prefixes
// attached to each router. It is built once per recomputation and is read only afterwards, every
// router of the area runs SPF over it independently.
type LSDB struct {
	Area    state.AreaId
	Routers []state.RouterId
	Adj     map[state.RouterId][]state.Adjacency
	Stubs   map[state.RouterId]map[netip.Prefix]uint32
}

func BuildLSDB(topo *state.Topology, area state.AreaId, stubs func(id state.RouterId) map[netip.Prefix]uint32) *LSDB {
	db := &LSDB{
		Area:    area,
		Routers: topo.AreaRouters(area),
		Adj:     make(map[state.RouterId][]state.Adjacency),
		Stubs:   make(map[state.RouterId]map[netip.Prefix]uint32),
	}
	for _, id := range db.Routers {
		adj := make([]state.Adjacency, 0)
		for _, n := range topo.Neighbours(id) {
			if a, ok := topo.LinkArea(id, n.Id); ok && a == area {
				adj = append(adj, n)
			}
		}
		db.Adj[id] = adj
		if s := stubs(id); len(s) > 0 {
			db.Stubs[id] = s
		}
	}
	return db
}

type SPFResult struct {
	Root state.RouterId
	Dist map[state.RouterId]uint32
	// FirstHops holds every neighbour of Root that starts a shortest path, sorted
	FirstHops map[state.RouterId][]state.RouterId
}

func (r *SPFResult) Reachable(id state.RouterId) bool {
	_, ok := r.Dist[id]
	return ok
}

// NextHop is the lowest id among the equal-cost first hops
func (r *SPFResult) NextHop(id state.RouterId) (state.RouterId, bool) {
	fh := r.FirstHops[id]
	if len(fh) == 0 {
		return "", false
	}
	return fh[0], true
}

type spfItem struct {
	id   state.RouterId
	dist uint32
}

type spfQueue []spfItem

func (q spfQueue) Len() int { return len(q) }
func (q spfQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].id < q[j].id
}
func (q spfQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *spfQueue) Push(x any)   { *q = append(*q, x.(spfItem)) }
func (q *spfQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// RunSPF runs Dijkstra over the area rooted at root
func RunSPF(db *LSDB, root state.RouterId) *SPFResult {
	res := &SPFResult{
		Root:      root,
		Dist:      make(map[state.RouterId]uint32),
		FirstHops: make(map[state.RouterId][]state.RouterId),
	}
	if _, ok := db.Adj[root]; !ok {
		return res
	}
	dist := map[state.RouterId]uint32{root: 0}
	done := make(map[state.RouterId]bool)
	order := make([]state.RouterId, 0, len(db.Routers))
	q := &spfQueue{{id: root, dist: 0}}
	for q.Len() > 0 {
		cur := heap.Pop(q).(spfItem)
		if done[cur.id] {
			continue
		}
		done[cur.id] = true
		order = append(order, cur.id)
		for _, n := range db.Adj[cur.id] {
			alt := cur.dist + n.Cost
			if d, ok := dist[n.Id]; !ok || alt < d {
				dist[n.Id] = alt
				heap.Push(q, spfItem{id: n.Id, dist: alt})
			}
		}
	}
	res.Dist = dist

	// first hops are propagated along tight edges until nothing changes, zero cost links can make
	// the tight edges cyclic
	hops := make(map[state.RouterId]map[state.RouterId]struct{})
	for changed := true; changed; {
		changed = false
		for _, v := range order[1:] {
			set, ok := hops[v]
			if !ok {
				set = make(map[state.RouterId]struct{})
				hops[v] = set
			}
			before := len(set)
			for _, u := range db.Adj[v] {
				du, ok := dist[u.Id]
				if !ok || du+u.Cost != dist[v] {
					continue
				}
				if u.Id == root {
					set[v] = struct{}{}
					continue
				}
				for h := range hops[u.Id] {
					set[h] = struct{}{}
				}
			}
			changed = changed || len(set) != before
		}
	}
	for v, set := range hops {
		res.FirstHops[v] = slices.Sorted(maps.Keys(set))
	}
	return res
}

// OSPFTable turns an SPF result into RIB candidates: one per equal-cost first hop for every
// reachable router and every stub prefix attached to a reachable router
func OSPFTable(db *LSDB, spf *SPFResult) []state.OSPFRoute {
	best := make(map[state.Dest]map[state.RouterId]state.OSPFRoute)
	add := func(route state.OSPFRoute) {
		byNh, ok := best[route.Dest]
		if !ok {
			byNh = make(map[state.RouterId]state.OSPFRoute)
			best[route.Dest] = byNh
		}
		if old, ok := byNh[route.Nh]; !ok || route.Compare(old) < 0 {
			byNh[route.Nh] = route
		}
	}

	for _, v := range db.Routers {
		d, ok := spf.Dist[v]
		if !ok {
			continue
		}
		hops := spf.FirstHops[v]
		if v == spf.Root {
			// attached prefixes are reached directly
			hops = []state.RouterId{spf.Root}
		} else {
			for _, nh := range hops {
				add(state.OSPFRoute{Dest: state.RouterDest(v), Cost: d, Nh: nh, Area: db.Area, AdvRouter: v})
			}
		}
		for p, c := range db.Stubs[v] {
			for _, nh := range hops {
				add(state.OSPFRoute{Dest: state.PrefixDest(p), Cost: d + c, Nh: nh, Area: db.Area, AdvRouter: v})
			}
		}
	}

	out := make([]state.OSPFRoute, 0)
	for _, dst := range slices.SortedFunc(maps.Keys(best), state.Dest.Compare) {
		byNh := best[dst]
		for _, nh := range slices.Sorted(maps.Keys(byNh)) {
			out = append(out, byNh[nh])
		}
	}
	return out
}

// ApplyOSPFTable replaces the candidates in r's RIB with a freshly computed table and returns the
// destinations whose selection changed
func ApplyOSPFTable(r *OSPFRouter, routes []state.OSPFRoute, bus Bus) []state.Dest {
	want := make(map[state.Dest]map[state.RouterId]state.OSPFRoute)
	for _, route := range routes {
		if want[route.Dest] == nil {
			want[route.Dest] = make(map[state.RouterId]state.OSPFRoute)
		}
		want[route.Dest][route.Nh] = route
	}

	changed := make(map[state.Dest]struct{})
	for _, dst := range r.RIB.Destinations() {
		entry, _ := r.RIB.Entry(dst)
		for _, src := range slices.Sorted(maps.Keys(entry.Candidates)) {
			if _, keep := want[dst][src]; keep {
				continue
			}
			if r.RIB.Withdraw(dst, src) {
				changed[dst] = struct{}{}
			}
		}
	}
	for _, route := range routes {
		if r.RIB.Install(route.Dest, route) {
			changed[route.Dest] = struct{}{}
		}
	}
	bus.Log(SPFComputed, "spf computed", "area", r.Area(), "routes", len(routes), "changed", len(changed))
	return slices.SortedFunc(maps.Keys(changed), state.Dest.Compare)
}
