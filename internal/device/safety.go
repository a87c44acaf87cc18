package device

import (
	"fmt"

	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/logging"
)

// Comparator selects how an Interlock compares a watched register against
// its threshold.
type Comparator int

const (
	GreaterThan Comparator = iota
	LessThan
)

// Interlock is one trip rule evaluated by a Safety PLC each scan: watch a
// register on (possibly) a peer device, and when the comparison holds,
// assert a coil on a peer device. Per §4.4, a Safety PLC "may only write
// coils it owns or explicitly authorized trip-signal coils on a peer
// device; never writes a setpoint" — Interlock.TripDevice/TripCoil is
// exactly that authorized peer write, configured at boot, never derived.
type Interlock struct {
	Name        string
	WatchDevice string
	WatchSpace  fabric.Space // HoldingRegister or InputRegister
	WatchIndex  uint16
	Comparator  Comparator
	Threshold   float64
	TripDevice  string
	TripCoil    uint16
}

func (il Interlock) evaluate(fab *fabric.Fabric) (bool, error) {
	v, ok, err := fab.ReadWord(il.WatchDevice, il.WatchSpace, il.WatchIndex)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	switch il.Comparator {
	case GreaterThan:
		return float64(v) > il.Threshold, nil
	case LessThan:
		return float64(v) < il.Threshold, nil
	default:
		return false, fmt.Errorf("interlock %s: unknown comparator", il.Name)
	}
}

// NewSafetyPLC builds the scan machine for a Safety PLC (SIS), evaluating
// each interlock in order and asserting its authorized trip coil when the
// watched condition holds. Trip coils are latching: once asserted by an
// interlock, the safety PLC does not clear them — only an operator write
// (or scenario reset) does.
func NewSafetyPLC(fab *fabric.Fabric, name string, interval float64, interlocks []Interlock, logger *logging.Logger) *Base {
	scan := func(_ float64, _ *fabric.MemoryMap) (*fabric.MemoryMap, error) {
		for _, il := range interlocks {
			tripped, err := il.evaluate(fab)
			if err != nil {
				return nil, fmt.Errorf("interlock %s: %w", il.Name, err)
			}
			if tripped {
				if err := fab.WriteBool(il.TripDevice, fabric.Coil, il.TripCoil, true); err != nil {
					return nil, fmt.Errorf("interlock %s: assert trip: %w", il.Name, err)
				}
			}
		}
		return nil, nil
	}
	return NewBase(fab, name, interval, scan, logger)
}
