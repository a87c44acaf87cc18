package fabric

import (
	"testing"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/icserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFabric(t *testing.T) *Fabric {
	t.Helper()
	clk, err := clock.New(clock.Stepped, 1)
	require.NoError(t, err)
	return New(clk)
}

func TestRegisterDuplicate(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("turbine_plc_1", KindPLC, 1, []string{"modbus"}, nil))
	err := f.Register("turbine_plc_1", KindPLC, 1, []string{"modbus"}, nil)
	require.Error(t, err)
	assert.True(t, icserr.Of(err, icserr.DuplicateDevice))
}

func TestUnknownDevice(t *testing.T) {
	f := newTestFabric(t)
	err := f.WriteBool("nope", Coil, 0, true)
	require.Error(t, err)
	assert.True(t, icserr.Of(err, icserr.UnknownDevice))
}

func TestTypeMismatch(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("d", KindPLC, 1, nil, nil))
	err := f.WriteBool("d", HoldingRegister, 0, true)
	require.Error(t, err)
	assert.True(t, icserr.Of(err, icserr.TypeMismatch))
}

func TestReadWriteRoundTrip(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("d", KindPLC, 1, nil, nil))
	require.NoError(t, f.WriteWord("d", HoldingRegister, 0, 4500))
	v, ok, err := f.ReadWord("d", HoldingRegister, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 4500, v)
}

func TestBulkAtomicity(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("d", KindPLC, 1, nil, nil))

	partial := NewMemoryMap()
	partial.HoldingRegisters[0] = 100
	partial.Coils[5] = true
	require.NoError(t, f.WriteBulk("d", partial))

	snap, err := f.ReadBulk("d")
	require.NoError(t, err)
	assert.EqualValues(t, 100, snap.HoldingRegisters[0])
	assert.True(t, snap.Coils[5])
}

func TestListSortedByName(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("zeta", KindPLC, 1, nil, nil))
	require.NoError(t, f.Register("alpha", KindPLC, 2, nil, nil))
	list := f.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].Name)
}

func TestSetOnlineEmitsFaultedEvent(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("d", KindPLC, 1, nil, nil))
	<-f.Events() // DeviceRegistered

	require.NoError(t, f.SetOnline("d", false))
	ev := <-f.Events()
	assert.Equal(t, DeviceFaulted, ev.Type)
}

func TestSummary(t *testing.T) {
	f := newTestFabric(t)
	require.NoError(t, f.Register("d1", KindPLC, 1, []string{"modbus"}, nil))
	require.NoError(t, f.Register("d2", KindSCADA, 2, nil, nil))
	s := f.Summary()
	assert.Equal(t, 2, s.DevicesTotal)
	assert.Equal(t, 2, s.DevicesOnline)
	assert.Equal(t, 1, s.ByKind["PLC"])
	assert.Equal(t, 1, s.ByProtocol["modbus"])
}
