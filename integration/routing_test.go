//go:build integration

package integration

import (
	"net/netip"
	"testing"

	"github.com/encodeous/routesim/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestOSPFReroute(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := NewHarness(t)
	h.NewOSPF("a", "0", "192.168.1.0/24")
	h.NewOSPF("b", "0")
	h.NewOSPF("c", "0")
	h.NewOSPF("d", "0", "192.168.4.0/24")
	h.AddLink("a", "b", 1)
	h.AddLink("a", "c", 1)
	h.AddLink("b", "d", 1)
	h.AddLink("c", "d", 5)
	h.Start()
	defer h.Stop()
	h.Converge()

	lan := netip.MustParseAddr("192.168.1.10")
	e, ok, err := h.Sim.Lookup("d", lan)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.RouterId("b"), e.Nh)

	require.NoError(t, h.Sim.SetLinkCost("b", "d", 20))
	h.Converge()
	e, ok, err = h.Sim.Lookup("d", lan)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.RouterId("c"), e.Nh)

	rib, err := h.Sim.OSPFRibOf("a")
	require.NoError(t, err)
	assert.Equal(t, uint32(6), rib[state.PrefixDest(netip.MustParsePrefix("192.168.4.0/24"))].Cost)

	require.NoError(t, h.Sim.RemoveRouter("c"))
	h.Converge()
	e, ok, err = h.Sim.Lookup("d", lan)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.RouterId("b"), e.Nh)

	coverage, err := h.Sim.Coverage("b")
	require.NoError(t, err)
	assert.True(t, coverage.Contains(netip.MustParseAddr("192.168.4.1")))
}
