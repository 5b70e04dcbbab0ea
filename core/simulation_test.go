package core

import (
	"errors"
	"fmt"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/encodeous/routesim/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// bgpLine builds routers r1..rn in AS 1..n, linked in a line
func bgpLine(t *testing.T, n int, opts ...Option) *Simulation {
	t.Helper()
	s := NewSimulation(opts...)
	for i := 1; i <= n; i++ {
		require.NoError(t, s.AddRouter(state.RouterId(fmt.Sprintf("as%d", i)), state.BGP(state.ASN(i))))
		if i > 1 {
			require.NoError(t, s.Connect(state.RouterId(fmt.Sprintf("as%d", i-1)), state.RouterId(fmt.Sprintf("as%d", i)), 1))
		}
	}
	return s
}

func ospfDiamond(t *testing.T) *Simulation {
	t.Helper()
	s := NewSimulation()
	for _, id := range []state.RouterId{"a", "b", "c", "d"} {
		require.NoError(t, s.AddRouter(id, state.OSPF("0")))
	}
	require.NoError(t, s.Connect("a", "b", 1))
	require.NoError(t, s.Connect("a", "c", 1))
	require.NoError(t, s.Connect("b", "d", 1))
	require.NoError(t, s.Connect("c", "d", 5))
	return s
}

func TestScenario_BGPLine(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := bgpLine(t, 3)
	defer s.Close()

	require.NoError(t, s.AdvertiseBGPRoute("as1", pfxA))
	report, err := s.RunUntilConverged(0)
	require.NoError(t, err)
	assert.True(t, report.Converged)
	assert.Equal(t, Converged, report.State)
	assert.Equal(t, 3, report.Rounds)
	assert.Len(t, report.RoundStats, 3)
	assert.Zero(t, report.RoundStats[2].Changes())

	rib, err := s.BGPRibOf("as3")
	require.NoError(t, err)
	require.Contains(t, rib, pfxA)
	assert.Equal(t, []state.ASN{1, 2, 3}, rib[pfxA].ASPath)
	assert.Equal(t, state.RouterId("as2"), rib[pfxA].Nh)
	assert.Equal(t, state.RouterId("as1"), rib[pfxA].Origin)

	// as1 is never offered its own route back
	alts, err := s.Alternatives("as1", pfxA)
	require.NoError(t, err)
	assert.Empty(t, alts)
	assert.Contains(t, s.LoopEvents(), LoopPreventedEvent{
		Round:       2,
		Router:      "as2",
		Neighbour:   "as1",
		NeighbourAS: 1,
		Prefix:      pfxA,
		ASPath:      []state.ASN{1, 2},
	})

	generic, err := s.RibOf("as3")
	require.NoError(t, err)
	assert.Equal(t, state.RouterId("as2"), generic["10.0.0.0/24"].NextHop())
}

func TestScenario_OSPFDiamond(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := ospfDiamond(t)
	defer s.Close()

	report, err := s.RunUntilConverged(0)
	require.NoError(t, err)
	assert.True(t, report.Converged)
	assert.Equal(t, 2, report.Rounds)
	assert.Equal(t, 4, report.RoundStats[0].SPFRuns)
	assert.Zero(t, report.RoundStats[1].SPFRuns)

	rib, err := s.OSPFRibOf("d")
	require.NoError(t, err)
	toA := rib[state.RouterDest("a")]
	assert.Equal(t, uint32(2), toA.Cost)
	assert.Equal(t, state.RouterId("b"), toA.Nh)
	assert.Equal(t, state.AreaId("0"), toA.Area)

	generic, err := s.RibOf("d")
	require.NoError(t, err)
	assert.Len(t, generic, 3)
	assert.Equal(t, state.RouterId("b"), generic["a"].NextHop())
}

func TestSimulation_SetLinkCost(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := ospfDiamond(t)
	defer s.Close()
	_, err := s.RunUntilConverged(0)
	require.NoError(t, err)

	require.NoError(t, s.SetLinkCost("b", "d", 10))
	report, err := s.RunUntilConverged(0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rounds)

	route, ok, err := s.RouteInfo("d", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.RouterId("c"), route.NextHop())
	assert.Equal(t, uint32(6), route.(state.OSPFRoute).Cost)

	// unchanged cost does not trigger a recomputation
	require.NoError(t, s.SetLinkCost("b", "d", 10))
	stats, err := s.Step()
	require.NoError(t, err)
	assert.Zero(t, stats.SPFRuns)
}

func TestSimulation_Deterministic(t *testing.T) {
	defer goleak.VerifyNone(t)
	build := func(workers int) map[state.RouterId]map[netip.Prefix]state.BGPRoute {
		rng := rand.New(rand.NewSource(42))
		s := NewSimulation(WithWorkers(workers))
		defer s.Close()
		n := 16
		for i := 0; i < n; i++ {
			// several routers share an AS
			require.NoError(t, s.AddRouter(state.RouterId(fmt.Sprintf("r%02d", i)), state.BGP(state.ASN(1+i%10))))
		}
		for i := 1; i < n; i++ {
			require.NoError(t, s.Connect(state.RouterId(fmt.Sprintf("r%02d", rng.Intn(i))), state.RouterId(fmt.Sprintf("r%02d", i)), 1))
		}
		for i := 0; i < 12; i++ {
			a, b := rng.Intn(n), rng.Intn(n)
			// duplicates and self links are rejected, that is fine here
			_ = s.Connect(state.RouterId(fmt.Sprintf("r%02d", a)), state.RouterId(fmt.Sprintf("r%02d", b)), 1)
		}
		for i := 0; i < 4; i++ {
			origin := state.RouterId(fmt.Sprintf("r%02d", rng.Intn(n)))
			require.NoError(t, s.AdvertiseBGPRoute(origin, netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(i), 0, 0}), 16)))
		}
		_, err := s.RunUntilConverged(0)
		require.NoError(t, err)
		out := make(map[state.RouterId]map[netip.Prefix]state.BGPRoute)
		for _, id := range s.Routers() {
			rib, err := s.BGPRibOf(id)
			require.NoError(t, err)
			out[id] = rib
		}
		return out
	}

	first := build(1)
	second := build(8)
	if diff := cmp.Diff(first, second, cmpopts.EquateComparable(netip.Prefix{})); diff != "" {
		t.Fatalf("ribs differ between runs (-first +second):\n%s", diff)
	}
}

func TestSimulation_NoRepeatedAS(t *testing.T) {
	defer goleak.VerifyNone(t)
	rng := rand.New(rand.NewSource(3))
	for iter := 0; iter < 10; iter++ {
		s := NewSimulation()
		n := 4 + rng.Intn(10)
		for i := 0; i < n; i++ {
			require.NoError(t, s.AddRouter(state.RouterId(fmt.Sprintf("r%02d", i)), state.BGP(state.ASN(1+rng.Intn(n)))))
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.Intn(3) == 0 {
					require.NoError(t, s.Connect(state.RouterId(fmt.Sprintf("r%02d", i)), state.RouterId(fmt.Sprintf("r%02d", j)), 1))
				}
			}
		}
		require.NoError(t, s.AdvertiseBGPRoute("r00", pfxA))
		require.NoError(t, s.AdvertiseBGPRoute(state.RouterId(fmt.Sprintf("r%02d", n-1)), pfxB))
		_, err := s.RunUntilConverged(0)
		require.NoError(t, err)

		for _, id := range s.Routers() {
			role, _ := s.Role(id)
			rib, err := s.BGPRibOf(id)
			require.NoError(t, err)
			for p, r := range rib {
				assert.False(t, r.HasLoop(), "%s has looping route %v for %s", id, r, p)
				assert.Equal(t, role.AS, r.ASPath[len(r.ASPath)-1])
			}
		}
		require.NoError(t, s.Close())
	}
}

func TestSimulation_IdempotentAdvertise(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := bgpLine(t, 3)
	defer s.Close()
	require.NoError(t, s.AdvertiseBGPRoute("as1", pfxA))
	_, err := s.RunUntilConverged(0)
	require.NoError(t, err)
	before, err := s.BGPRibOf("as3")
	require.NoError(t, err)

	require.NoError(t, s.AdvertiseBGPRoute("as1", pfxA))
	report, err := s.RunUntilConverged(0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rounds)
	assert.Zero(t, report.Changes)
	assert.Zero(t, report.RoundStats[0].Updates)

	after, err := s.BGPRibOf("as3")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, after, cmpopts.EquateComparable(netip.Prefix{})))
}

// bgpRing is bgpLine with the ends linked
func bgpRing(t *testing.T, n int) *Simulation {
	t.Helper()
	s := bgpLine(t, n)
	require.NoError(t, s.Connect("as1", state.RouterId(fmt.Sprintf("as%d", n)), 1))
	return s
}

func TestSimulation_WithdrawWithinDiameter(t *testing.T) {
	defer goleak.VerifyNone(t)
	tests := []struct {
		name string
		sim  func(t *testing.T) *Simulation
	}{
		{"line 5", func(t *testing.T) *Simulation { return bgpLine(t, 5) }},
		{"ring 4", func(t *testing.T) *Simulation { return bgpRing(t, 4) }},
		{"ring 5", func(t *testing.T) *Simulation { return bgpRing(t, 5) }},
		{"ring 6", func(t *testing.T) *Simulation { return bgpRing(t, 6) }},
		{"ring 6 with chord", func(t *testing.T) *Simulation {
			s := bgpRing(t, 6)
			require.NoError(t, s.Connect("as2", "as5", 1))
			return s
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.sim(t)
			defer s.Close()
			require.NoError(t, s.AdvertiseBGPRoute("as1", pfxA))
			require.NoError(t, s.AdvertiseBGPRoute("as1", pfxB))
			_, err := s.RunUntilConverged(0)
			require.NoError(t, err)

			require.NoError(t, s.WithdrawBGPRoute("as1", pfxA))
			for i := 0; i < s.Diameter(); i++ {
				_, err := s.Step()
				require.NoError(t, err)
			}
			for _, id := range s.Routers() {
				rib, err := s.BGPRibOf(id)
				require.NoError(t, err)
				assert.NotContains(t, rib, pfxA, "router %s after %d rounds", id, s.Diameter())
				assert.Contains(t, rib, pfxB, "router %s", id)
			}
			report, err := s.RunUntilConverged(0)
			require.NoError(t, err)
			assert.True(t, report.Converged)

			// the prefix can be advertised again afterwards
			require.NoError(t, s.AdvertiseBGPRoute("as1", pfxA))
			_, err = s.RunUntilConverged(0)
			require.NoError(t, err)
			for _, id := range s.Routers() {
				rib, err := s.BGPRibOf(id)
				require.NoError(t, err)
				assert.Contains(t, rib, pfxA, "router %s", id)
			}
		})
	}
}

func TestSimulation_NonConvergence(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := bgpLine(t, 3)
	defer s.Close()
	require.NoError(t, s.AdvertiseBGPRoute("as1", pfxA))

	report, err := s.RunUntilConverged(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, state.ErrNonConvergence)
	var nce *state.NonConvergenceError
	require.True(t, errors.As(err, &nce))
	assert.Equal(t, 1, nce.Rounds)
	assert.False(t, report.Converged)
	assert.Equal(t, Aborted, report.State)
	assert.Equal(t, Aborted, s.State())
	assert.Equal(t, []netip.Prefix{pfxA}, report.UnstablePrefixes)
	assert.Equal(t, []state.RouterId{"as2"}, report.UnstableRouters)

	// the partial state can be inspected and the run resumed
	rib, err := s.BGPRibOf("as2")
	require.NoError(t, err)
	assert.Contains(t, rib, pfxA)
	report, err = s.RunUntilConverged(0)
	require.NoError(t, err)
	assert.True(t, report.Converged)
	assert.Equal(t, 2, report.Rounds)
}

func TestSimulation_DisconnectCascades(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := bgpLine(t, 3)
	defer s.Close()
	require.NoError(t, s.AdvertiseBGPRoute("as1", pfxA))
	_, err := s.RunUntilConverged(0)
	require.NoError(t, err)

	require.NoError(t, s.Disconnect("as1", "as2"))
	rib, err := s.BGPRibOf("as2")
	require.NoError(t, err)
	assert.Empty(t, rib)
	_, err = s.RunUntilConverged(0)
	require.NoError(t, err)
	rib, err = s.BGPRibOf("as3")
	require.NoError(t, err)
	assert.Empty(t, rib)

	require.NoError(t, s.Connect("as1", "as2", 1))
	_, err = s.RunUntilConverged(0)
	require.NoError(t, err)
	rib, err = s.BGPRibOf("as3")
	require.NoError(t, err)
	assert.Equal(t, []state.ASN{1, 2, 3}, rib[pfxA].ASPath)

	require.NoError(t, s.RemoveRouter("as2"))
	assert.Equal(t, []state.RouterId{"as1", "as3"}, s.Routers())
	rib, err = s.BGPRibOf("as3")
	require.NoError(t, err)
	assert.Empty(t, rib)
	_, err = s.BGPRibOf("as2")
	assert.ErrorIs(t, err, state.ErrConfiguration)
}

func TestSimulation_ConfigurationErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := bgpLine(t, 2)
	defer s.Close()
	require.NoError(t, s.AddRouter("o1", state.OSPF("0")))

	var dup *state.DuplicateRouterError
	assert.ErrorAs(t, s.AddRouter("as1", state.BGP(9)), &dup)
	var unknown *state.UnknownRouterError
	assert.ErrorAs(t, s.Connect("as1", "nope", 1), &unknown)
	var cost *state.InvalidCostError
	assert.ErrorAs(t, s.Connect("as1", "o1", -1), &cost)
	var dupLink *state.DuplicateLinkError
	assert.ErrorAs(t, s.Connect("as2", "as1", 3), &dupLink)
	var mismatch *state.RoleMismatchError
	assert.ErrorAs(t, s.AdvertiseBGPRoute("o1", pfxA), &mismatch)
	assert.ErrorAs(t, s.AdvertiseOSPFPrefix("as1", pfxA, 1), &mismatch)
	var prefix *state.InvalidPrefixError
	assert.ErrorAs(t, s.AdvertiseBGPRoute("as1", netip.MustParsePrefix("2001:db8::/32")), &prefix)
	assert.ErrorIs(t, s.AddRouter("Bad Name", state.BGP(1)), state.ErrConfiguration)
	assert.ErrorIs(t, s.AddRouter("o2", state.OSPF("")), state.ErrConfiguration)
	assert.ErrorIs(t, s.AddRouter("z", state.BGP(0)), state.ErrConfiguration)
	_, known := s.Role("z")
	assert.False(t, known)

	// neighbours of an isolated router are empty, not an error
	require.NoError(t, s.AddRouter("lonely", state.BGP(7)))
	_, err := s.RunUntilConverged(0)
	require.NoError(t, err)
	rib, err := s.RibOf("lonely")
	require.NoError(t, err)
	assert.Empty(t, rib)
}

func TestSimulation_ForwardingAndSummaries(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := bgpLine(t, 3)
	defer s.Close()
	low := netip.MustParsePrefix("10.0.0.0/25")
	high := netip.MustParsePrefix("10.0.0.128/25")
	require.NoError(t, s.AdvertiseBGPRoute("as1", low))
	require.NoError(t, s.AdvertiseBGPRoute("as1", high))
	_, err := s.RunUntilConverged(0)
	require.NoError(t, err)

	e, ok, err := s.Lookup("as3", netip.MustParseAddr("10.0.0.130"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FibEntry{Prefix: high, Nh: "as2", Protocol: state.ProtoBGP}, e)

	e, ok, err = s.Lookup("as1", netip.MustParseAddr("10.0.0.1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.Local)

	_, ok, err = s.Lookup("as3", netip.MustParseAddr("10.0.1.1"))
	require.NoError(t, err)
	assert.False(t, ok)

	summary, err := s.Summarize("as3")
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{pfxA}, summary)

	coverage, err := s.Coverage("as2")
	require.NoError(t, err)
	assert.True(t, coverage.Contains(netip.MustParseAddr("10.0.0.255")))
	assert.False(t, coverage.Contains(netip.MustParseAddr("10.0.1.0")))

	require.NoError(t, s.WithdrawBGPRoute("as1", high))
	_, err = s.RunUntilConverged(0)
	require.NoError(t, err)
	e, ok, err = s.Lookup("as3", netip.MustParseAddr("10.0.0.130"))
	require.NoError(t, err)
	assert.False(t, ok, "withdrawn prefix left in the fib: %v", e)
}

func TestSimulation_OSPFStubs(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := ospfDiamond(t)
	defer s.Close()
	lan := netip.MustParsePrefix("192.168.1.0/24")
	require.NoError(t, s.AdvertiseOSPFPrefix("a", lan, 1))
	_, err := s.RunUntilConverged(0)
	require.NoError(t, err)

	rib, err := s.OSPFRibOf("d")
	require.NoError(t, err)
	assert.Equal(t, state.OSPFRoute{Dest: state.PrefixDest(lan), Cost: 3, Nh: "b", Area: "0", AdvRouter: "a"}, rib[state.PrefixDest(lan)])
	e, ok, err := s.Lookup("d", netip.MustParseAddr("192.168.1.7"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.RouterId("b"), e.Nh)
	assert.Equal(t, state.ProtoOSPF, e.Protocol)

	require.NoError(t, s.WithdrawOSPFPrefix("a", lan))
	report, err := s.RunUntilConverged(0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rounds)
	_, ok, err = s.Lookup("d", netip.MustParseAddr("192.168.1.7"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSimulation_MixedProtocolsStayApart(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := ospfDiamond(t)
	defer s.Close()
	require.NoError(t, s.AddRouter("edge", state.BGP(100)))
	require.NoError(t, s.AddRouter("x", state.OSPF("1")))
	require.NoError(t, s.Connect("edge", "a", 1))
	require.NoError(t, s.Connect("x", "d", 1))
	require.NoError(t, s.AdvertiseBGPRoute("edge", pfxA))
	_, err := s.RunUntilConverged(0)
	require.NoError(t, err)

	rib, err := s.RibOf("a")
	require.NoError(t, err)
	assert.NotContains(t, rib, pfxA.String())
	assert.NotContains(t, rib, "x")

	_, _, err = s.RouteInfo("a", "edge")
	assert.ErrorIs(t, err, state.ErrConfiguration)
}

func TestSimulation_RouteInfo(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := bgpLine(t, 3)
	defer s.Close()
	require.NoError(t, s.AdvertiseBGPRoute("as1", pfxA))
	_, err := s.RunUntilConverged(0)
	require.NoError(t, err)

	route, ok, err := s.RouteInfo("as3", "as1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "(nh: as2, origin: as1, path: [1 2 3])", route.String())

	_, ok, err = s.RouteInfo("as1", "as3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSimulation_Trace(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := bgpLine(t, 3)
	defer s.Close()
	events := make(chan any, 1024)
	require.NoError(t, s.Subscribe(events))
	defer s.Unsubscribe(events)

	require.NoError(t, s.AdvertiseBGPRoute("as1", pfxA))
	_, err := s.RunUntilConverged(0)
	require.NoError(t, err)

	var changes []RouteChange
	loops := 0
	for done := false; !done; {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case RouteChange:
				changes = append(changes, ev)
			case LoopPreventedEvent:
				loops++
			case RoundCompleted:
				done = ev.Stats.Round == 3
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for the last round")
		}
	}
	require.Len(t, changes, 3)
	assert.Equal(t, state.RouterId("as1"), changes[0].Router)
	assert.Nil(t, changes[0].Old)
	assert.Equal(t, RouteChange{
		Round:       2,
		Router:      "as3",
		Destination: "10.0.0.0/24",
		Prefix:      pfxA,
		New:         state.BGPRoute{Prefix: pfxA, ASPath: []state.ASN{1, 2, 3}, Origin: "as1", Nh: "as2"},
	}, changes[2])
	assert.Equal(t, 2, loops)
}

func TestSimulation_Closed(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := NewSimulation()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Subscribe(make(chan any)), ErrClosed)
}
