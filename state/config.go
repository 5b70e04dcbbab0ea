package state

import (
	"maps"
	"net/netip"
	"slices"
	"strings"
)

// StubCfg is a prefix attached to an OSPF router
type StubCfg struct {
	Prefix netip.Prefix `yaml:"prefix"`
	Cost   int          `yaml:"cost,omitempty"`
}

type RouterCfg struct {
	Id       RouterId  `yaml:"id"`
	Protocol Protocol  `yaml:"protocol"`
	AS       ASN       `yaml:"as,omitempty"`
	Area     AreaId    `yaml:"area,omitempty"`
	Stubs    []StubCfg `yaml:"stubs,omitempty"` // ospf only
}

func (r RouterCfg) Role() (Role, error) {
	switch r.Protocol {
	case ProtoBGP:
		return BGP(r.AS), nil
	case ProtoOSPF:
		return OSPF(r.Area), nil
	}
	return Role{}, configErrorf("protocol must be bgp or ospf, got %s", r.Protocol)
}

type LinkCfg struct {
	A    RouterId `yaml:"a"`
	B    RouterId `yaml:"b"`
	Cost int      `yaml:"cost"`
}

type AdvertiseCfg struct {
	Router RouterId     `yaml:"router"`
	Prefix netip.Prefix `yaml:"prefix"`
}

// SimCfg describes a whole simulation: routers, their connectivity and the BGP advertisements to inject
type SimCfg struct {
	Routers   []RouterCfg    `yaml:"routers"`
	Links     []LinkCfg      `yaml:"links,omitempty"`
	Mesh      []string       `yaml:"mesh,omitempty"`      // see ParseGraph
	MeshCost  int            `yaml:"mesh_cost,omitempty"` // cost of links generated from Mesh
	Advertise []AdvertiseCfg `yaml:"advertise,omitempty"`
	MaxRounds int            `yaml:"max_rounds,omitempty"`
	Workers   int            `yaml:"workers,omitempty"`
}

func (c *SimCfg) RouterIds() []string {
	ids := make([]string, 0, len(c.Routers))
	for _, r := range c.Routers {
		ids = append(ids, string(r.Id))
	}
	return ids
}

// ExpandLinks returns the explicit links followed by the links generated from the mesh graph.
// A mesh pairing that duplicates an explicit link is dropped.
func (c *SimCfg) ExpandLinks() ([]LinkCfg, error) {
	links := slices.Clone(c.Links)
	if len(c.Mesh) == 0 {
		return links, nil
	}
	pairs, err := ParseGraph(c.Mesh, c.RouterIds())
	if err != nil {
		return nil, err
	}
	cost := c.MeshCost
	if cost == 0 {
		cost = DefaultMeshCost
	}
	for _, p := range pairs {
		if slices.ContainsFunc(links, func(l LinkCfg) bool {
			return MakeSortedPair(l.A, l.B) == p
		}) {
			continue
		}
		links = append(links, LinkCfg{A: p.V1, B: p.V2, Cost: cost})
	}
	return links, nil
}

func parseSymbolList(s string, validSymbols []string) ([]string, error) {
	spl := strings.Split(strings.TrimSpace(s), ",")
	line := make([]string, 0)
	for _, s := range spl {
		x := strings.TrimSpace(s)
		if x == "" {
			continue
		}
		if !slices.Contains(validSymbols, x) {
			return nil, configErrorf(`%s is not a valid router/group`, x)
		}
		line = append(line, x)
	}
	if len(line) == 0 {
		return nil, configErrorf(`router/group list must not be empty`)
	}
	slices.Sort(line)
	return line, nil
}

/*
ParseGraph expands a compact mesh description into router pairs:

	core = r1, r2, r3 // defines group core

	edge = r4, r5

	core, edge // every router in core is linked to every router in edge

	core, core // full mesh within core

	r6, r7 // a single link

routers is the set of router ids the groups evaluate down to.
*/
func ParseGraph(graph []string, routers []string) ([]Pair[RouterId, RouterId], error) {
	parsedPairings := make([]Pair[string, string], 0)
	groups := make(map[string][]string)
	symbols := slices.Clone(routers)

	// pass 0, collect group names
	for _, line := range graph {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "=") {
			spl := strings.Split(line, "=")
			if len(spl) != 2 {
				return nil, configErrorf("invalid graph: %s. group definition must contain one '='", line)
			}
			grp := strings.TrimSpace(spl[0])
			if slices.Contains(routers, grp) {
				return nil, configErrorf("group name must not be a router name: %s", grp)
			}
			symbols = append(symbols, grp)
		}
	}
	slices.Sort(symbols)
	symbols = slices.Compact(symbols)

	// group -> groups it depends on
	deps := make(map[string][]string)
	expansion := make(map[string][]string)

	// pass 1, parse definitions and pairings
	for _, line := range graph {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "=") {
			spl := strings.Split(line, "=")
			grp := strings.TrimSpace(spl[0])
			if _, ok := groups[grp]; ok {
				return nil, configErrorf("duplicate group name: %s", grp)
			}
			lst, err := parseSymbolList(spl[1], symbols)
			if err != nil {
				return nil, err
			}
			grpDeps := make([]string, 0)
			for _, l := range lst {
				if slices.Contains(routers, l) {
					expansion[grp] = append(expansion[grp], l)
				} else {
					grpDeps = append(grpDeps, l)
				}
			}
			slices.Sort(grpDeps)
			deps[grp] = slices.Compact(grpDeps)
			groups[grp] = lst
		} else {
			names, err := parseSymbolList(line, symbols)
			if err != nil {
				return nil, err
			}
			if len(names) < 2 {
				return nil, configErrorf("invalid pairing, %v", names)
			}
			for i, a := range names {
				for _, b := range names[i+1:] {
					parsedPairings = append(parsedPairings, MakeSortedPair(a, b))
				}
			}
		}
	}
	SortPairs(parsedPairings)
	parsedPairings = slices.Compact(parsedPairings)

	// pass 2, expand groups in dependency order
	for len(deps) > 0 {
		var group string
		for _, k := range slices.Sorted(maps.Keys(deps)) {
			if len(deps[k]) == 0 {
				group = k
				break
			}
		}
		if group == "" {
			return nil, configErrorf("cycle detected in graph: %v", slices.Sorted(maps.Keys(deps)))
		}
		delete(deps, group)

		for k, d := range deps {
			if slices.Contains(d, group) {
				expansion[k] = append(expansion[k], expansion[group]...)
				slices.Sort(expansion[k])
				expansion[k] = slices.Compact(expansion[k])
				deps[k] = slices.DeleteFunc(d, func(s string) bool { return s == group })
			}
		}
	}

	// pass 3, rewrite pairings over routers
	resolve := func(sym string) []string {
		if slices.Contains(routers, sym) {
			return []string{sym}
		}
		return expansion[sym]
	}
	pairings := make([]Pair[RouterId, RouterId], 0)
	for _, pair := range parsedPairings {
		for _, x := range resolve(pair.V1) {
			for _, y := range resolve(pair.V2) {
				if x != y {
					pairings = append(pairings, MakeSortedPair(RouterId(x), RouterId(y)))
				}
			}
		}
	}
	SortPairs(pairings)
	return slices.Compact(pairings), nil
}
