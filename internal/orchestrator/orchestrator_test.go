package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grimm-is/icsrange/internal/config"
	"github.com/grimm-is/icsrange/internal/device"
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/physics"
)

const testCatalogue = `
simulation:
  mode: Stepped
  speed: 1
  update_interval_s: 1
corporate_network: corporate_network
devices:
  - name: turbine_plc_1
    kind: PLC
    id: 1
    scan_interval_s: 1
    physics:
      type: turbine
      params:
        rated_power_mw: 50
    protocols:
      - name: modbus
        host: 127.0.0.1
        port: 0
        unit_id: 1
  - name: safety_plc_1
    kind: SIS
    id: 2
    scan_interval_s: 1
    interlocks:
      - name: overspeed_trip
        watch_device: turbine_plc_1
        watch_space: input
        watch_index: 0
        comparator: gt
        threshold: 3900
        trip_device: safety_plc_1
        trip_coil: 0
  - name: scada_1
    kind: SCADA
    id: 3
    scan_interval_s: 1
    tags:
      - name: shaft_speed
        peer_device: turbine_plc_1
        space: input
        index: 0
        poll_rate_s: 1
networks:
  - name: plant_network
    subnet: 192.168.1.0/24
memberships:
  - network: plant_network
    devices: [turbine_plc_1, safety_plc_1, scada_1]
`

func buildTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cat, err := config.Parse([]byte(testCatalogue))
	require.NoError(t, err)
	o, err := Build(cat, nil)
	require.NoError(t, err)
	return o
}

func TestBuildWiresEveryDeviceKind(t *testing.T) {
	o := buildTestOrchestrator(t)
	require.Len(t, o.integrators, 1)
	require.Len(t, o.scanners, 3)
	require.Len(t, o.servers, 1)
}

func TestBootStartsListenersAndValidatesTopology(t *testing.T) {
	o := buildTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Boot(ctx))
	defer o.Stop(ctx)

	require.Equal(t, "modbus", o.servers[0].Protocol())
	require.NotZero(t, o.servers[0].Port())
}

// TestTickLoopAcceleratesTurbineAndTripsInterlock drives runOneTick
// directly (bypassing the goroutine-driven Run/SleepSim loop) so the
// causal ordering — physics before scans before protocol sync — can be
// asserted deterministically without a wall-clock race.
func TestTickLoopAcceleratesTurbineAndTripsInterlock(t *testing.T) {
	o := buildTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Boot(ctx))
	defer o.Stop(ctx)

	require.NoError(t, o.Fabric.WriteBool("turbine_plc_1", fabric.Coil, physics.TurbineGovernorEnabledCoil, true))
	require.NoError(t, o.Fabric.WriteWord("turbine_plc_1", fabric.HoldingRegister, physics.TurbineSpeedSetpointReg, 4000))

	var lastSpeed uint16
	for i := 0; i < 45; i++ {
		o.runOneTick()
		// runOneTick alone never advances a Stepped clock; Step it the
		// same amount the bypassed SleepSim(updateInterval) call would
		// have, so scan_interval_s-gated scanners become due again.
		require.NoError(t, o.Clock.Step(o.updateInterval))
		v, ok, err := o.Fabric.ReadWord("turbine_plc_1", fabric.InputRegister, physics.TurbineShaftSpeedReg)
		require.NoError(t, err)
		require.True(t, ok)
		require.GreaterOrEqual(t, v, lastSpeed, "shaft speed must never decrease while accelerating toward setpoint")
		lastSpeed = v
	}
	require.Greater(t, lastSpeed, uint16(3900), "turbine should have exceeded the interlock threshold by tick 45")

	tripped, ok, err := o.Fabric.ReadBool("safety_plc_1", fabric.Coil, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, tripped, "safety PLC must assert its trip coil once shaft speed crosses the interlock threshold")

	tag, ok := tagDBFrom(o, "scada_1").Get("shaft_speed")
	require.True(t, ok)
	require.Greater(t, tag.Value, 3900.0)
}

// tagDBFrom reaches into the SCADA scanner built by Build to read its tag
// database directly; Build does not otherwise expose it, since normal
// callers read tag values through the fabric's mirrored registers.
func tagDBFrom(o *Orchestrator, name string) *device.TagDB {
	for _, sc := range o.scanners {
		if sc.Name() != name {
			continue
		}
		if base, ok := sc.(*device.Base); ok {
			return base.TagDB()
		}
		return nil
	}
	return nil
}

func TestStopIsIdempotent(t *testing.T) {
	o := buildTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Boot(ctx))
	require.NoError(t, o.Stop(ctx))
	require.NoError(t, o.Stop(ctx))
}

func TestRunRespectsContextCancellation(t *testing.T) {
	o := buildTestOrchestrator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, o.Boot(ctx))

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, o.Stop(context.Background()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
