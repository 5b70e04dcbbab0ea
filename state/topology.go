package state

import (
	"cmp"
	"maps"
	"slices"
)

// Link is an undirected edge, A is always the smaller id
type Link struct {
	A, B RouterId
	Cost uint32
}

type Adjacency struct {
	Id   RouterId
	Cost uint32
}

// Topology is the physical connectivity of the simulation: an undirected weighted graph of routers.
// It also tracks a generation counter per OSPF area that is bumped whenever something visible to
// that area's link-state database changes.
type Topology struct {
	roles   map[RouterId]Role
	adj     map[RouterId]map[RouterId]uint32
	areaGen map[AreaId]uint64
}

func NewTopology() *Topology {
	return &Topology{
		roles:   make(map[RouterId]Role),
		adj:     make(map[RouterId]map[RouterId]uint32),
		areaGen: make(map[AreaId]uint64),
	}
}

func (t *Topology) AddRouter(id RouterId, role Role) error {
	if _, ok := t.roles[id]; ok {
		return &DuplicateRouterError{Id: id}
	}
	t.roles[id] = role
	t.adj[id] = make(map[RouterId]uint32)
	if role.IsOSPF() {
		t.areaGen[role.Area]++
	}
	return nil
}

// RemoveRouter deletes the router and every link attached to it
func (t *Topology) RemoveRouter(id RouterId) error {
	role, ok := t.roles[id]
	if !ok {
		return &UnknownRouterError{Id: id}
	}
	for neigh := range t.adj[id] {
		t.touchLink(id, neigh)
		delete(t.adj[neigh], id)
	}
	delete(t.adj, id)
	delete(t.roles, id)
	if role.IsOSPF() {
		t.areaGen[role.Area]++
	}
	return nil
}

func (t *Topology) checkEndpoints(a, b RouterId) error {
	if _, ok := t.roles[a]; !ok {
		return &UnknownRouterError{Id: a}
	}
	if _, ok := t.roles[b]; !ok {
		return &UnknownRouterError{Id: b}
	}
	if a == b {
		return &SelfLinkError{Id: a}
	}
	return nil
}

func checkCost(a, b RouterId, cost int) error {
	if cost < 0 || cost > MaxLinkCost {
		return &InvalidCostError{A: a, B: b, Cost: cost}
	}
	return nil
}

func (t *Topology) Connect(a, b RouterId, cost int) error {
	if err := t.checkEndpoints(a, b); err != nil {
		return err
	}
	if err := checkCost(a, b, cost); err != nil {
		return err
	}
	if _, ok := t.adj[a][b]; ok {
		return &DuplicateLinkError{A: a, B: b}
	}
	t.adj[a][b] = uint32(cost)
	t.adj[b][a] = uint32(cost)
	t.touchLink(a, b)
	return nil
}

func (t *Topology) Disconnect(a, b RouterId) error {
	if err := t.checkEndpoints(a, b); err != nil {
		return err
	}
	if _, ok := t.adj[a][b]; !ok {
		return &UnknownLinkError{A: a, B: b}
	}
	delete(t.adj[a], b)
	delete(t.adj[b], a)
	t.touchLink(a, b)
	return nil
}

func (t *Topology) SetCost(a, b RouterId, cost int) error {
	if err := t.checkEndpoints(a, b); err != nil {
		return err
	}
	if err := checkCost(a, b, cost); err != nil {
		return err
	}
	old, ok := t.adj[a][b]
	if !ok {
		return &UnknownLinkError{A: a, B: b}
	}
	if old == uint32(cost) {
		return nil
	}
	t.adj[a][b] = uint32(cost)
	t.adj[b][a] = uint32(cost)
	t.touchLink(a, b)
	return nil
}

// touchLink invalidates the area that contains the link, if any
func (t *Topology) touchLink(a, b RouterId) {
	if area, ok := t.LinkArea(a, b); ok {
		t.areaGen[area]++
	}
}

// LinkArea returns the OSPF area a link belongs to. Only links between two OSPF routers of the same
// area form an adjacency.
func (t *Topology) LinkArea(a, b RouterId) (AreaId, bool) {
	ra, okA := t.roles[a]
	rb, okB := t.roles[b]
	if !okA || !okB || !ra.IsOSPF() || !rb.IsOSPF() || ra.Area != rb.Area {
		return "", false
	}
	return ra.Area, true
}

// Neighbours returns the routers directly linked to id, sorted by id. Unknown or isolated routers
// have no neighbours.
func (t *Topology) Neighbours(id RouterId) []Adjacency {
	links := t.adj[id]
	out := make([]Adjacency, 0, len(links))
	for _, n := range slices.Sorted(maps.Keys(links)) {
		out = append(out, Adjacency{Id: n, Cost: links[n]})
	}
	return out
}

func (t *Topology) Cost(a, b RouterId) (uint32, bool) {
	c, ok := t.adj[a][b]
	return c, ok
}

func (t *Topology) Role(id RouterId) (Role, bool) {
	r, ok := t.roles[id]
	return r, ok
}

func (t *Topology) HasRouter(id RouterId) bool {
	_, ok := t.roles[id]
	return ok
}

func (t *Topology) Routers() []RouterId {
	return slices.Sorted(maps.Keys(t.roles))
}

// AreaRouters returns the OSPF routers of an area, sorted by id
func (t *Topology) AreaRouters(area AreaId) []RouterId {
	out := make([]RouterId, 0)
	for _, id := range t.Routers() {
		if r := t.roles[id]; r.IsOSPF() && r.Area == area {
			out = append(out, id)
		}
	}
	return out
}

func (t *Topology) Areas() []AreaId {
	areas := make(map[AreaId]struct{})
	for _, r := range t.roles {
		if r.IsOSPF() {
			areas[r.Area] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(areas))
}

func (t *Topology) AreaGeneration(area AreaId) uint64 {
	return t.areaGen[area]
}

func (t *Topology) Links() []Link {
	out := make([]Link, 0)
	for a, links := range t.adj {
		for b, cost := range links {
			if a < b {
				out = append(out, Link{A: a, B: b, Cost: cost})
			}
		}
	}
	slices.SortFunc(out, func(x, y Link) int {
		return cmp.Or(cmp.Compare(x.A, y.A), cmp.Compare(x.B, y.B))
	})
	return out
}

// Diameter is the largest hop count between any two connected routers, ignoring costs
func (t *Topology) Diameter() int {
	diameter := 0
	for _, src := range t.Routers() {
		dist := map[RouterId]int{src: 0}
		queue := []RouterId{src}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for n := range t.adj[cur] {
				if _, seen := dist[n]; !seen {
					dist[n] = dist[cur] + 1
					diameter = max(diameter, dist[n])
					queue = append(queue, n)
				}
			}
		}
	}
	return diameter
}
