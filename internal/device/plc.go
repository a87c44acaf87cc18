package device

import (
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/logging"
)

// NewPLC builds the scan machine for a PLC or RTU device. Per §4.4, a
// PLC/RTU "owns a physics integrator and forwards controls ↔ telemetry" —
// that forwarding happens directly through the Fabric inside the owning
// physics.Integrator each tick, so the scan cycle itself only needs to
// maintain a heartbeat discrete input that downstream SCADA polling can
// use to detect a stalled device even when physics keeps running.
func NewPLC(fab *fabric.Fabric, name string, interval float64, heartbeatReg uint16, logger *logging.Logger) *Base {
	beat := false
	scan := func(_ float64, _ *fabric.MemoryMap) (*fabric.MemoryMap, error) {
		beat = !beat
		out := fabric.NewMemoryMap()
		out.DiscreteInputs[heartbeatReg] = beat
		return out, nil
	}
	return NewBase(fab, name, interval, scan, logger)
}

// NewRTU builds the scan machine for an RTU device. RTUs share the PLC
// scan-cycle shape per §4.4 ("similar to PLC, typically for wide-area
// SCADA").
func NewRTU(fab *fabric.Fabric, name string, interval float64, heartbeatReg uint16, logger *logging.Logger) *Base {
	return NewPLC(fab, name, interval, heartbeatReg, logger)
}
