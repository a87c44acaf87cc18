package physics

import (
	"testing"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/stretchr/testify/require"
)

// newGridScenarioFixture builds the S3 scenario: three turbine-kind
// devices each reporting ~33 MW via their power_mw input register, and a
// grid monitor device aggregating them against a 100 MW load.
func newGridScenarioFixture(t *testing.T) (*fabric.Fabric, *GridIntegrator) {
	t.Helper()
	clk, err := clock.New(clock.Stepped, 1)
	require.NoError(t, err)
	f := fabric.New(clk)

	gens := []string{"turbine_1", "turbine_2", "turbine_3"}
	for _, g := range gens {
		require.NoError(t, f.Register(g, fabric.KindPLC, 1, []string{"modbus"}, nil))
		require.NoError(t, f.WriteWord(g, fabric.InputRegister, TurbinePowerMWReg, fixed10(33.3)))
	}
	require.NoError(t, f.Register("grid_monitor", fabric.KindRTU, 1, nil, nil))
	require.NoError(t, f.WriteWord("grid_monitor", fabric.HoldingRegister, GridLoadMWReg, fixed10(100)))
	require.NoError(t, f.WriteWord("grid_monitor", fabric.HoldingRegister, GridUnderFreqLimitReg, u16(49.0*100)))

	grid := NewGridIntegrator(f, "grid_monitor", gens, DefaultGridParams())
	return f, grid
}

// TestGridLoadLossDropsFrequencyAndTrips asserts scenario S3: tripping one
// of three ~33 MW turbines against a 100 MW load drives frequency below
// 49.9 Hz within 100 s of sim time, and crossing the configured
// under_frequency_limit fires GridTrip exactly once.
func TestGridLoadLossDropsFrequencyAndTrips(t *testing.T) {
	f, grid := newGridScenarioFixture(t)

	// Trip turbine_1: it stops reporting power.
	require.NoError(t, f.WriteWord("turbine_1", fabric.InputRegister, TurbinePowerMWReg, 0))

	const dt = 0.5
	tripped := false
	trips := 0
	for elapsed := 0.0; elapsed < 100.0; elapsed += dt {
		grid.Update(dt)
		select {
		case ev := <-f.Events():
			if ev.Type == fabric.GridTrip {
				trips++
				tripped = true
			}
		default:
		}
	}

	require.Less(t, grid.State().FrequencyHz, 49.9)
	require.Greater(t, grid.State().FrequencyHz, 48.5)
	require.True(t, tripped)
	require.Equal(t, 1, trips)
}

// TestGridFrequencyHoldsAtNominalWithBalancedLoad asserts that when
// generation matches load, frequency stays at the nominal 50 Hz and no
// trip fires.
func TestGridFrequencyHoldsAtNominalWithBalancedLoad(t *testing.T) {
	clk, err := clock.New(clock.Stepped, 1)
	require.NoError(t, err)
	f := fabric.New(clk)

	require.NoError(t, f.Register("turbine_1", fabric.KindPLC, 1, nil, nil))
	require.NoError(t, f.WriteWord("turbine_1", fabric.InputRegister, TurbinePowerMWReg, fixed10(100)))
	require.NoError(t, f.Register("grid_monitor", fabric.KindRTU, 1, nil, nil))
	require.NoError(t, f.WriteWord("grid_monitor", fabric.HoldingRegister, GridLoadMWReg, fixed10(100)))

	grid := NewGridIntegrator(f, "grid_monitor", []string{"turbine_1"}, DefaultGridParams())
	for i := 0; i < 200; i++ {
		grid.Update(0.5)
	}

	require.InDelta(t, 50.0, grid.State().FrequencyHz, 0.01)
	require.False(t, grid.State().Tripped)
}
