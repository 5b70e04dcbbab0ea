//go:build integration

package integration

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/encodeous/routesim/core"
	"github.com/encodeous/routesim/state"
	"github.com/stretchr/testify/require"
)

type Signal chan bool

func NewSignal() Signal {
	return make(chan bool)
}
func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}
func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}
func (s Signal) Wait() {
	<-s
}

type routeWatch struct {
	router state.RouterId
	dst    string
	match  func(c core.RouteChange) bool
	sig    Signal
}

// ScenarioHarness builds a simulation config, runs it and records every trace event
type ScenarioHarness struct {
	t   *testing.T
	Cfg state.SimCfg
	Sim *core.Simulation

	events  chan any
	wg      sync.WaitGroup
	mu      sync.Mutex
	changes []core.RouteChange
	watches []*routeWatch
}

func NewHarness(t *testing.T) *ScenarioHarness {
	return &ScenarioHarness{t: t}
}

func (h *ScenarioHarness) NewBGP(id string, as state.ASN) {
	h.Cfg.Routers = append(h.Cfg.Routers, state.RouterCfg{Id: state.RouterId(id), Protocol: state.ProtoBGP, AS: as})
}

func (h *ScenarioHarness) NewOSPF(id string, area state.AreaId, stubs ...string) {
	cfg := state.RouterCfg{Id: state.RouterId(id), Protocol: state.ProtoOSPF, Area: area}
	for _, s := range stubs {
		cfg.Stubs = append(cfg.Stubs, state.StubCfg{Prefix: netip.MustParsePrefix(s)})
	}
	h.Cfg.Routers = append(h.Cfg.Routers, cfg)
}

func (h *ScenarioHarness) AddLink(a, b string, cost int) {
	h.Cfg.Links = append(h.Cfg.Links, state.LinkCfg{A: state.RouterId(a), B: state.RouterId(b), Cost: cost})
}

func (h *ScenarioHarness) Advertise(router, prefix string) {
	h.Cfg.Advertise = append(h.Cfg.Advertise, state.AdvertiseCfg{Router: state.RouterId(router), Prefix: netip.MustParsePrefix(prefix)})
}

// Start loads the simulation and begins recording its trace
func (h *ScenarioHarness) Start() {
	h.t.Helper()
	sim, err := core.LoadSimulation(&h.Cfg, core.WithWorkers(4))
	require.NoError(h.t, err)
	h.Sim = sim
	h.events = make(chan any, state.TraceBufferSize)
	require.NoError(h.t, sim.Subscribe(h.events))
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for ev := range h.events {
			if c, ok := ev.(core.RouteChange); ok {
				h.record(c)
			}
		}
	}()
}

func (h *ScenarioHarness) record(c core.RouteChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, c)
	for _, w := range h.watches {
		if w.router == c.Router && w.dst == c.Destination && w.match(c) {
			w.sig.Trigger()
		}
	}
}

// WatchRoute returns a signal that fires once router selects a route to dst accepted by match
func (h *ScenarioHarness) WatchRoute(router, dst string, match func(c core.RouteChange) bool) Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := &routeWatch{router: state.RouterId(router), dst: dst, match: match, sig: NewSignal()}
	h.watches = append(h.watches, w)
	return w.sig
}

func (h *ScenarioHarness) Changes() []core.RouteChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.RouteChange(nil), h.changes...)
}

func (h *ScenarioHarness) Converge() core.ConvergenceReport {
	h.t.Helper()
	report, err := h.Sim.RunUntilConverged(h.Cfg.MaxRounds)
	require.NoError(h.t, err)
	return report
}

func (h *ScenarioHarness) Stop() {
	h.Sim.Unsubscribe(h.events)
	require.NoError(h.t, h.Sim.Close())
	close(h.events)
	h.wg.Wait()
}
