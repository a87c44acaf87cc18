package physics

import "github.com/grimm-is/icsrange/internal/fabric"

// Reactor register/coil layout (§4.3.2).
const (
	ReactorPowerSetpointReg   uint16 = 0 // holding: power_setpoint_pct
	ReactorCoolantPumpReg     uint16 = 1 // holding: coolant_pump_pct
	ReactorControlRodReg      uint16 = 2 // holding: control_rod_pct
	ReactorThaumicDamperReg   uint16 = 3 // holding: thaumic_dampener_pct

	ReactorSCRAMCommandCoil    uint16 = 10 // coil: scram command
	ReactorSCRAMActiveCoil     uint16 = 20 // coil: scram_active (status)
	ReactorContainmentBreached uint16 = 21 // coil: containment_breach (status, latched)

	ReactorCoreTempReg        uint16 = 0 // input: core_temp_c
	ReactorCoolantTempReg     uint16 = 1 // input: coolant_temp_c
	ReactorVesselPressureReg  uint16 = 2 // input: vessel_pressure_bar
	ReactorReactionRateReg    uint16 = 3 // input: reaction_rate_pct x10
	ReactorThaumicFieldReg    uint16 = 4 // input: thaumic_field_strength x10
	ReactorContainmentPctReg  uint16 = 5 // input: containment_integrity_pct x10
	ReactorDamagePctReg       uint16 = 6 // input: damage_pct x10
)

// ReactorParams are the tunable constants for §4.3.2.
type ReactorParams struct {
	RatedCoreTempC     float64
	CriticalCoreTempC  float64
	ContainmentMinPct  float64 // auto-SCRAM threshold
	ThermalTimeConstS  float64
	KineticsGain       float64
}

// DefaultReactorParams returns reasonable defaults for a small research
// reactor loop.
func DefaultReactorParams() ReactorParams {
	return ReactorParams{
		RatedCoreTempC:    320,
		CriticalCoreTempC: 650,
		ContainmentMinPct: 20,
		ThermalTimeConstS: 25,
		KineticsGain:      1.5,
	}
}

// ReactorState is the reactor's continuous state.
type ReactorState struct {
	CoreTempC          float64
	CoolantTempC       float64
	VesselPressureBar  float64
	ReactionRatePct    float64
	ThaumicField       float64
	ContainmentPct     float64
	DamagePct          float64
	SCRAMActive        bool
	ContainmentBreach  bool
}

// ReactorIntegrator implements Integrator for §4.3.2.
type ReactorIntegrator struct {
	device        string
	fab           *fabric.Fabric
	params        ReactorParams
	state         ReactorState
	scramLatched  bool
	breachLatched bool
}

// NewReactorIntegrator constructs a reactor integrator at cold-shutdown
// initial conditions.
func NewReactorIntegrator(fab *fabric.Fabric, device string, params ReactorParams) *ReactorIntegrator {
	return &ReactorIntegrator{
		device: device,
		fab:    fab,
		params: params,
		state: ReactorState{
			CoreTempC:      25,
			CoolantTempC:   25,
			ContainmentPct: 100,
		},
	}
}

func (r *ReactorIntegrator) Device() string { return r.device }

// State returns a copy of the reactor's current continuous state.
func (r *ReactorIntegrator) State() ReactorState { return r.state }

func (r *ReactorIntegrator) Update(dt float64) {
	f, d, p := r.fab, r.device, &r.params
	s := &r.state

	powerSetpoint := float64(readWord(f, d, fabric.HoldingRegister, ReactorPowerSetpointReg))
	coolantPump := float64(readWord(f, d, fabric.HoldingRegister, ReactorCoolantPumpReg))
	controlRod := float64(readWord(f, d, fabric.HoldingRegister, ReactorControlRodReg))
	scramCommand := readBool(f, d, fabric.Coil, ReactorSCRAMCommandCoil)

	hardInterlock := s.CoreTempC >= p.CriticalCoreTempC || s.ContainmentPct < p.ContainmentMinPct
	scram := scramCommand || hardInterlock || s.ContainmentBreach
	if scram {
		controlRod = 100
		coolantPump = 100
		if !r.scramLatched {
			r.scramLatched = true
			f.Emit(fabric.Event{Type: fabric.ReactorScram, Device: d})
		}
	} else {
		r.scramLatched = false
	}
	s.SCRAMActive = scram

	rodFactor := clamp(1.0-controlRod/100.0, 0, 1)
	targetReactionRate := clamp(powerSetpoint, 0, 100) * rodFactor
	s.ReactionRatePct += dt * p.KineticsGain * (targetReactionRate - s.ReactionRatePct) / 10.0
	s.ReactionRatePct = clamp(s.ReactionRatePct, 0, 120)

	pumpFactor := clamp(coolantPump/100.0, 0.05, 1)
	targetCoreTemp := 25 + (p.RatedCoreTempC-25)*(s.ReactionRatePct/100.0)/pumpFactor
	s.CoreTempC += (dt / p.ThermalTimeConstS) * (targetCoreTemp - s.CoreTempC)
	s.CoolantTempC += (dt / (p.ThermalTimeConstS * 1.5)) * (s.CoreTempC*0.8 - s.CoolantTempC)
	s.VesselPressureBar = 1 + s.CoreTempC/20.0
	s.ThaumicField = clamp(s.ReactionRatePct/100.0*10.0, 0, 10)

	if s.CoreTempC > p.RatedCoreTempC {
		over := (s.CoreTempC - p.RatedCoreTempC) / p.RatedCoreTempC
		s.DamagePct += dt * over * 2.0
		s.ContainmentPct -= dt * over * 1.0
		if s.ContainmentPct < 0 {
			s.ContainmentPct = 0
		}
	}

	if s.CoreTempC >= p.CriticalCoreTempC || s.ContainmentPct <= 0 {
		s.ContainmentBreach = true
		if !r.breachLatched {
			r.breachLatched = true
			f.Emit(fabric.Event{Type: fabric.ContainmentBreach, Device: d})
		}
	}

	// Re-check the hard interlock against the state just integrated, so a
	// core that reaches the critical temperature this tick is scrammed in
	// the same tick.
	if !s.SCRAMActive && (s.CoreTempC >= p.CriticalCoreTempC || s.ContainmentPct < p.ContainmentMinPct || s.ContainmentBreach) {
		s.SCRAMActive = true
		r.scramLatched = true
		f.Emit(fabric.Event{Type: fabric.ReactorScram, Device: d})
	}

	f.WriteWord(d, fabric.InputRegister, ReactorCoreTempReg, u16(s.CoreTempC))
	f.WriteWord(d, fabric.InputRegister, ReactorCoolantTempReg, u16(s.CoolantTempC))
	f.WriteWord(d, fabric.InputRegister, ReactorVesselPressureReg, u16(s.VesselPressureBar))
	f.WriteWord(d, fabric.InputRegister, ReactorReactionRateReg, fixed10(s.ReactionRatePct))
	f.WriteWord(d, fabric.InputRegister, ReactorThaumicFieldReg, fixed10(s.ThaumicField))
	f.WriteWord(d, fabric.InputRegister, ReactorContainmentPctReg, fixed10(s.ContainmentPct))
	f.WriteWord(d, fabric.InputRegister, ReactorDamagePctReg, fixed10(s.DamagePct))
	f.WriteBool(d, fabric.Coil, ReactorSCRAMActiveCoil, s.SCRAMActive)
	f.WriteBool(d, fabric.Coil, ReactorContainmentBreached, s.ContainmentBreach)
}
