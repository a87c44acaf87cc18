// Package physics implements the continuous-state integrators of §4.3.
//
// Common contract: Update(dt) is synchronous, pure over internal state plus
// the latest control inputs staged from the owning device's memory map, and
// publishes results back into that same memory map. No integrator calls the
// clock directly — dt is supplied by the orchestrator's tick loop.
//
// Grounded on the staged-evaluation shape of grimm.is/flywall/internal/engine
// (ConfigPipeline/IntegratedEngine run fixed ordered stages over a shared
// config object); here each integrator runs one ordered stage
// (read-controls -> integrate -> write-telemetry) over its device's memory
// map each tick.
package physics

import "github.com/grimm-is/icsrange/internal/fabric"

// Integrator advances one physical process by one timestep. Exactly one
// integrator owns a given DeviceRecord's memory map (§3 invariant).
type Integrator interface {
	// Device returns the name of the DeviceRecord this integrator owns.
	Device() string
	// Update advances continuous state by dt seconds of sim time,
	// reading controls from and writing telemetry to the owning
	// device's memory map via the Fabric handle given at construction.
	Update(dt float64)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// u16 truncates a non-negative float to uint16, saturating at 65535.
func u16(v float64) uint16 {
	if v < 0 {
		v = 0
	}
	if v > 65535 {
		v = 65535
	}
	return uint16(v)
}

// fixed10 encodes a float as a x10 fixed-point uint16 (spec's vibration
// and damage-percent encoding), saturating at 65535.
func fixed10(v float64) uint16 { return u16(v * 10) }

func readWord(f *fabric.Fabric, device string, space fabric.Space, idx uint16) uint16 {
	v, _, err := f.ReadWord(device, space, idx)
	if err != nil {
		return 0
	}
	return v
}

func readBool(f *fabric.Fabric, device string, space fabric.Space, idx uint16) bool {
	v, _, err := f.ReadBool(device, space, idx)
	if err != nil {
		return false
	}
	return v
}
