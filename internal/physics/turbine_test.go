package physics

import (
	"testing"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/stretchr/testify/require"
)

func newTurbineFixture(t *testing.T) (*fabric.Fabric, *TurbineIntegrator) {
	t.Helper()
	clk, err := clock.New(clock.Stepped, 1)
	require.NoError(t, err)
	f := fabric.New(clk)
	require.NoError(t, f.Register("turbine_plc_1", fabric.KindPLC, 1, []string{"modbus"}, nil))
	turb := NewTurbineIntegrator(f, "turbine_plc_1", DefaultTurbineParams(50))
	return f, turb
}

// TestOverspeedDamage asserts property 8: setpoint 4500 rpm with governor
// enabled and no trip accumulates damage_pct >= 10.0 and raises the
// overspeed_alarm coil within 10 seconds of sim time.
func TestOverspeedDamage(t *testing.T) {
	f, turb := newTurbineFixture(t)

	require.NoError(t, f.WriteWord("turbine_plc_1", fabric.HoldingRegister, TurbineSpeedSetpointReg, 4500))
	require.NoError(t, f.WriteBool("turbine_plc_1", fabric.Coil, TurbineGovernorEnabledCoil, true))

	const dt = 0.1
	for elapsed := 0.0; elapsed < 10.0; elapsed += dt {
		turb.Update(dt)
	}

	require.GreaterOrEqual(t, turb.State().DamagePct, 10.0)

	alarm, ok, err := f.ReadBool("turbine_plc_1", fabric.Coil, TurbineOverspeedCoil)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, alarm)
}

// TestEmergencyTripStopsTurbine asserts that asserting emergency_trip
// drives shaft speed back toward zero even with the setpoint still high.
func TestEmergencyTripStopsTurbine(t *testing.T) {
	f, turb := newTurbineFixture(t)
	require.NoError(t, f.WriteWord("turbine_plc_1", fabric.HoldingRegister, TurbineSpeedSetpointReg, 3600))
	require.NoError(t, f.WriteBool("turbine_plc_1", fabric.Coil, TurbineGovernorEnabledCoil, true))

	for i := 0; i < 100; i++ {
		turb.Update(0.1)
	}
	require.GreaterOrEqual(t, turb.State().ShaftSpeedRPM, 1000.0)

	require.NoError(t, f.WriteBool("turbine_plc_1", fabric.Coil, TurbineEmergencyTripCoil, true))
	for i := 0; i < 600; i++ {
		turb.Update(0.1)
	}
	require.InDelta(t, 0, turb.State().ShaftSpeedRPM, 0.5)
}

// TestPhysicsToMemoryMirror asserts property 4: after Update, the
// shaft-speed telemetry register matches the integrator's internal state
// truncated to uint16.
func TestPhysicsToMemoryMirror(t *testing.T) {
	f, turb := newTurbineFixture(t)
	require.NoError(t, f.WriteWord("turbine_plc_1", fabric.HoldingRegister, TurbineSpeedSetpointReg, 1800))
	require.NoError(t, f.WriteBool("turbine_plc_1", fabric.Coil, TurbineGovernorEnabledCoil, true))

	turb.Update(1.0)

	reg, ok, err := f.ReadWord("turbine_plc_1", fabric.InputRegister, TurbineShaftSpeedReg)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, u16(turb.State().ShaftSpeedRPM), reg)
}

// TestCatastrophicFailureStopsRunning asserts that once damage exceeds
// 50%, the turbine is marked not-running and decelerates at double rate
// regardless of setpoint.
func TestCatastrophicFailureStopsRunning(t *testing.T) {
	f, turb := newTurbineFixture(t)
	require.NoError(t, f.WriteWord("turbine_plc_1", fabric.HoldingRegister, TurbineSpeedSetpointReg, 6000))
	require.NoError(t, f.WriteBool("turbine_plc_1", fabric.Coil, TurbineGovernorEnabledCoil, true))

	for i := 0; i < 5000 && turb.State().DamagePct < 55; i++ {
		turb.Update(0.1)
	}

	require.GreaterOrEqual(t, turb.State().DamagePct, 50.0)
	require.False(t, turb.State().Running)
}
