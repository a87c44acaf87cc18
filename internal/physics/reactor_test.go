package physics

import (
	"testing"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/stretchr/testify/require"
)

func newReactorFixture(t *testing.T) (*fabric.Fabric, *ReactorIntegrator) {
	t.Helper()
	clk, err := clock.New(clock.Stepped, 1)
	require.NoError(t, err)
	f := fabric.New(clk)
	require.NoError(t, f.Register("reactor_1", fabric.KindPLC, 1, []string{"modbus"}, nil))
	reactor := NewReactorIntegrator(f, "reactor_1", DefaultReactorParams())
	return f, reactor
}

// TestReactorSCRAMCommandLatchesRodsAndPump asserts that an explicit SCRAM
// command drives control rods and coolant pump to 100% and latches the
// scram_active status coil.
func TestReactorSCRAMCommandLatchesRodsAndPump(t *testing.T) {
	f, reactor := newReactorFixture(t)
	require.NoError(t, f.WriteWord("reactor_1", fabric.HoldingRegister, ReactorPowerSetpointReg, 80))
	require.NoError(t, f.WriteWord("reactor_1", fabric.HoldingRegister, ReactorCoolantPumpReg, 50))
	require.NoError(t, f.WriteBool("reactor_1", fabric.Coil, ReactorSCRAMCommandCoil, true))

	reactor.Update(1.0)

	require.True(t, reactor.State().SCRAMActive)
	active, ok, err := f.ReadBool("reactor_1", fabric.Coil, ReactorSCRAMActiveCoil)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, active)
}

// TestReactorHardInterlockAutoScrams asserts §4.3.2's hard interlock:
// once core temperature reaches the critical threshold, SCRAM engages
// automatically even without an explicit command, and a ReactorScram
// event fires exactly once.
func TestReactorHardInterlockAutoScrams(t *testing.T) {
	f, reactor := newReactorFixture(t)
	require.NoError(t, f.WriteWord("reactor_1", fabric.HoldingRegister, ReactorPowerSetpointReg, 100))
	require.NoError(t, f.WriteWord("reactor_1", fabric.HoldingRegister, ReactorCoolantPumpReg, 5))
	require.NoError(t, f.WriteWord("reactor_1", fabric.HoldingRegister, ReactorControlRodReg, 0))

	for i := 0; i < 2000 && reactor.State().CoreTempC < DefaultReactorParams().CriticalCoreTempC; i++ {
		reactor.Update(0.5)
	}

	require.True(t, reactor.State().SCRAMActive)

	scrams := 0
drain:
	for {
		select {
		case ev := <-f.Events():
			if ev.Type == fabric.ReactorScram {
				scrams++
			}
		default:
			break drain
		}
	}
	require.Equal(t, 1, scrams)
}

// TestReactorContainmentBreachIsTerminal asserts that once containment is
// breached (here by the core reaching the critical temperature),
// containment_breach latches permanently (stays true on subsequent ticks)
// and is mirrored to its status coil.
func TestReactorContainmentBreachIsTerminal(t *testing.T) {
	f, reactor := newReactorFixture(t)
	require.NoError(t, f.WriteWord("reactor_1", fabric.HoldingRegister, ReactorPowerSetpointReg, 100))
	require.NoError(t, f.WriteWord("reactor_1", fabric.HoldingRegister, ReactorCoolantPumpReg, 5))
	require.NoError(t, f.WriteWord("reactor_1", fabric.HoldingRegister, ReactorControlRodReg, 0))

	for i := 0; i < 5000 && !reactor.State().ContainmentBreach; i++ {
		reactor.Update(0.5)
	}
	require.True(t, reactor.State().ContainmentBreach)

	reactor.Update(0.5)
	require.True(t, reactor.State().ContainmentBreach)

	breached, ok, err := f.ReadBool("reactor_1", fabric.Coil, ReactorContainmentBreached)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, breached)
}
