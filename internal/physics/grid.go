package physics

import "github.com/grimm-is/icsrange/internal/fabric"

// Grid register/coil layout (§4.3.4), on the grid-monitor device's own
// memory map.
const (
	GridLoadMWReg           uint16 = 0 // holding: aggregate load, MW x10
	GridUnderFreqLimitReg   uint16 = 1 // holding: under_frequency_limit Hz x100
	GridOverFreqLimitReg    uint16 = 2 // holding: over_frequency_limit Hz x100

	GridFrequencyReg uint16 = 0 // input: frequency_hz x100
	GridPGenReg      uint16 = 1 // input: aggregate generation MW x10
	GridPLoadReg     uint16 = 2 // input: aggregate load MW x10

	GridTripCoil uint16 = 20 // coil: grid_trip (latched)
)

// GridParams are the tunable constants for §4.3.4.
type GridParams struct {
	NominalFreqHz float64 // f_nom
	InertiaMWs    float64 // H, system inertia
	DampingCoef   float64 // D
}

// DefaultGridParams returns the spec's S3 scenario defaults.
func DefaultGridParams() GridParams {
	return GridParams{
		NominalFreqHz: 50.0,
		InertiaMWs:    5000,
		DampingCoef:   1.0,
	}
}

// GridState is the grid's continuous state.
type GridState struct {
	FrequencyHz float64
	PGenMW      float64
	PLoadMW     float64
	Tripped     bool
}

// GridIntegrator implements the swing-equation integrator of §4.3.4. It
// owns one device's memory map (the grid monitor) but reads the power_mw
// telemetry of an explicit, boot-configured set of generator devices —
// the orchestrator wires that list the same way it wires any other
// cross-device read, via the shared Fabric handle.
type GridIntegrator struct {
	device      string
	genDevices  []string
	fab         *fabric.Fabric
	params      GridParams
	state       GridState
	tripLatched bool
}

// NewGridIntegrator constructs a grid-frequency integrator bound to
// device, aggregating generation from genDevices (each read via
// physics.TurbinePowerMWReg on their own input-register space).
func NewGridIntegrator(fab *fabric.Fabric, device string, genDevices []string, params GridParams) *GridIntegrator {
	return &GridIntegrator{
		device:     device,
		genDevices: genDevices,
		fab:        fab,
		params:     params,
		state:      GridState{FrequencyHz: params.NominalFreqHz},
	}
}

func (g *GridIntegrator) Device() string { return g.device }

// State returns a copy of the grid's current continuous state.
func (g *GridIntegrator) State() GridState { return g.state }

func (g *GridIntegrator) Update(dt float64) {
	f, d, p := g.fab, g.device, &g.params
	s := &g.state

	var pGen float64
	for _, gen := range g.genDevices {
		raw := readWord(f, gen, fabric.InputRegister, TurbinePowerMWReg)
		pGen += float64(raw) / 10.0
	}
	pLoad := float64(readWord(f, d, fabric.HoldingRegister, GridLoadMWReg)) / 10.0
	if pLoad == 0 {
		pLoad = s.PLoadMW // hold last value if no setpoint configured yet
	}

	s.PGenMW = pGen
	s.PLoadMW = pLoad

	dfdt := (pGen-pLoad)/(2*p.InertiaMWs) - p.DampingCoef*(s.FrequencyHz-p.NominalFreqHz)
	s.FrequencyHz += dfdt * dt

	underLimit := float64(readWord(f, d, fabric.HoldingRegister, GridUnderFreqLimitReg)) / 100.0
	overLimit := float64(readWord(f, d, fabric.HoldingRegister, GridOverFreqLimitReg)) / 100.0

	crossed := false
	if underLimit > 0 && s.FrequencyHz < underLimit {
		crossed = true
	}
	if overLimit > 0 && s.FrequencyHz > overLimit {
		crossed = true
	}
	if crossed && !g.tripLatched {
		g.tripLatched = true
		s.Tripped = true
		f.Emit(fabric.Event{Type: fabric.GridTrip, Device: d})
	}

	f.WriteWord(d, fabric.InputRegister, GridFrequencyReg, u16(s.FrequencyHz*100))
	f.WriteWord(d, fabric.InputRegister, GridPGenReg, fixed10(s.PGenMW))
	f.WriteWord(d, fabric.InputRegister, GridPLoadReg, fixed10(s.PLoadMW))
	f.WriteBool(d, fabric.Coil, GridTripCoil, g.tripLatched)
}

// ResetTrip clears the latched grid_trip condition, used by scenario
// reset logic between test runs.
func (g *GridIntegrator) ResetTrip() {
	g.tripLatched = false
	g.state.Tripped = false
}
