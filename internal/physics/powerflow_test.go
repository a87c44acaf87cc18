package physics

import (
	"testing"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/stretchr/testify/require"
)

// newPowerFlowFixture builds a three-bus topology: a generator bus, a
// load bus, and an intermediate bus, connected in a line with the
// generator and load on opposite ends so flow must cross both lines.
func newPowerFlowFixture(t *testing.T) (*fabric.Fabric, *PowerFlowSolver) {
	t.Helper()
	clk, err := clock.New(clock.Stepped, 1)
	require.NoError(t, err)
	f := fabric.New(clk)

	require.NoError(t, f.Register("turbine_1", fabric.KindPLC, 1, nil, nil))
	require.NoError(t, f.Register("load_1", fabric.KindRTU, 1, nil, nil))
	require.NoError(t, f.WriteWord("turbine_1", fabric.InputRegister, TurbinePowerMWReg, fixed10(60)))
	require.NoError(t, f.WriteWord("load_1", fabric.HoldingRegister, 0, fixed10(60)))

	buses := []Bus{
		{Name: "gen_bus", GenDevice: "turbine_1"},
		{Name: "mid_bus"},
		{Name: "load_bus", LoadDeviceReg: struct {
			Device string
			Index  uint16
		}{Device: "load_1", Index: 0}},
	}
	lines := []Line{
		{ID: "l1", FromBus: "gen_bus", ToBus: "mid_bus", Reactance: 0.1, RatingMW: 100},
		{ID: "l2", FromBus: "mid_bus", ToBus: "load_bus", Reactance: 0.1, RatingMW: 40},
	}
	return f, NewPowerFlowSolver(f, buses, lines)
}

// TestPowerFlowConservesInjectionAcrossSeriesLines asserts that for a
// pure series topology (no alternate path), both lines carry the same
// MW flow equal to the generator's injection.
func TestPowerFlowConservesInjectionAcrossSeriesLines(t *testing.T) {
	_, solver := newPowerFlowFixture(t)

	flows := solver.Solve()
	require.Len(t, flows, 2)
	require.InDelta(t, 60.0, flows[0].FlowMW, 0.01)
	require.InDelta(t, 60.0, flows[1].FlowMW, 0.01)
}

// TestPowerFlowFlagsOverloadedLine asserts that a line carrying more
// than its rating is reported overloaded.
func TestPowerFlowFlagsOverloadedLine(t *testing.T) {
	_, solver := newPowerFlowFixture(t)

	flows := solver.Solve()
	require.False(t, flows[0].Overload) // l1 rated 100MW carrying 60MW
	require.True(t, flows[1].Overload)  // l2 rated 40MW carrying 60MW
}

// TestPowerFlowIntegratorWrapsSolver asserts the Integrator adapter
// exposes the same flows the underlying solver computed.
func TestPowerFlowIntegratorWrapsSolver(t *testing.T) {
	_, solver := newPowerFlowFixture(t)
	integ := NewPowerFlowIntegrator("power_flow", solver)

	integ.Update(0)

	require.Equal(t, "power_flow", integ.Device())
	require.Len(t, integ.Flows(), 2)
	require.InDelta(t, 60.0, integ.Flows()[0].FlowMW, 0.01)
}

// TestPowerFlowTopologyChangeInvalidatesCache asserts that calling
// SetTopology forces the susceptance matrix to rebuild on the next
// Solve rather than reusing stale bus indices.
func TestPowerFlowTopologyChangeInvalidatesCache(t *testing.T) {
	_, solver := newPowerFlowFixture(t)

	solver.Solve()

	solver.SetTopology([]Bus{
		{Name: "gen_bus", GenDevice: "turbine_1"},
		{Name: "load_bus", LoadDeviceReg: struct {
			Device string
			Index  uint16
		}{Device: "load_1", Index: 0}},
	}, []Line{
		{ID: "direct", FromBus: "gen_bus", ToBus: "load_bus", Reactance: 0.2, RatingMW: 100},
	})

	flows := solver.Solve()
	require.Len(t, flows, 1)
	require.InDelta(t, 60.0, flows[0].FlowMW, 0.01)
	require.False(t, flows[0].Overload)
}
