package device

import (
	"testing"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/stretchr/testify/require"
)

func newTestFabric(t *testing.T) *fabric.Fabric {
	t.Helper()
	clk, err := clock.New(clock.Stepped, 1)
	require.NoError(t, err)
	return fabric.New(clk)
}

func TestSafetyPLCAssertsTripOnOverspeed(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("turbine_plc_1", fabric.KindPLC, 1, nil, nil))
	require.NoError(t, f.Register("safety_plc_1", fabric.KindSIS, 2, nil, nil))

	require.NoError(t, f.WriteWord("turbine_plc_1", fabric.InputRegister, 0, 4000)) // shaft speed telemetry

	interlocks := []Interlock{{
		Name:        "turbine_overspeed",
		WatchDevice: "turbine_plc_1",
		WatchSpace:  fabric.InputRegister,
		WatchIndex:  0,
		Comparator:  GreaterThan,
		Threshold:   3960,
		TripDevice:  "turbine_plc_1",
		TripCoil:    11,
	}}
	sis := NewSafetyPLC(f, "safety_plc_1", 0.1, interlocks, nil)
	sis.RunScan(0)

	trip, ok, err := f.ReadBool("turbine_plc_1", fabric.Coil, 11)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, trip)
}

func TestDeviceFaultsAfterConsecutiveFailures(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("broken", fabric.KindPLC, 1, nil, nil))

	calls := 0
	failing := func(_ float64, _ *fabric.MemoryMap) (*fabric.MemoryMap, error) {
		calls++
		panic("scan boom")
	}
	b := NewBase(f, "broken", 0.1, failing, nil)

	for i := 0; i < DefaultMaxConsecutiveFailures; i++ {
		b.RunScan(float64(i))
	}

	snap := f.List()
	require.Len(t, snap, 1)
	require.False(t, snap[0].Online)
	require.Equal(t, DefaultMaxConsecutiveFailures, calls)
}

func TestSCADATagDBAlarmHysteresis(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("plc", fabric.KindPLC, 1, nil, nil))
	require.NoError(t, f.Register("scada", fabric.KindSCADA, 2, nil, nil))
	require.NoError(t, f.WriteWord("plc", fabric.InputRegister, 0, 50))

	high := 40.0
	tags := NewTagDB([]TagDef{{
		Name: "temp", PeerDevice: "plc", Space: fabric.InputRegister, Index: 0,
		PollRate: 0, AlarmHigh: &high, Hysteresis: 5,
	}})

	scada := NewSCADA(f, "scada", 0.1, tags, nil)
	scada.RunScan(0)
	v, ok := tags.Get("temp")
	require.True(t, ok)
	require.True(t, v.InAlarm)

	require.NoError(t, f.WriteWord("plc", fabric.InputRegister, 0, 34))
	scada.RunScan(1)
	v, ok = tags.Get("temp")
	require.True(t, ok)
	require.False(t, v.InAlarm, "should clear once below high-hysteresis")
}

func TestHistorianRingBufferWraps(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("plc", fabric.KindPLC, 1, nil, nil))
	require.NoError(t, f.Register("scada", fabric.KindSCADA, 2, nil, nil))
	require.NoError(t, f.Register("historian", fabric.KindHistorian, 3, nil, nil))

	tags := NewTagDB([]TagDef{{Name: "t", PeerDevice: "plc", Space: fabric.InputRegister, Index: 0}})
	scada := NewSCADA(f, "scada", 0.1, tags, nil)
	hist := NewHistorian(tags, []string{"t"}, 3)
	histScanner := NewHistorianScanner(f, "historian", 0.1, hist, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.WriteWord("plc", fabric.InputRegister, 0, uint16(i)))
		scada.RunScan(float64(i))
		histScanner.RunScan(float64(i))
	}

	samples := hist.Samples()
	require.Len(t, samples, 3)
	for i := 1; i < len(samples); i++ {
		require.Greater(t, samples[i].Time, samples[i-1].Time)
	}
}
