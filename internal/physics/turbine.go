package physics

import (
	"math"

	"github.com/grimm-is/icsrange/internal/fabric"
)

// Turbine register/coil layout (§4.3.1). Exported so device scan machines
// (the safety PLC polling shaft speed) and protocol tests can address the
// same fields by name instead of magic numbers.
const (
	TurbineSpeedSetpointReg uint16 = 0 // holding: speed_setpoint_rpm

	TurbineGovernorEnabledCoil uint16 = 10 // coil: governor_enabled
	TurbineEmergencyTripCoil   uint16 = 11 // coil: emergency_trip

	TurbineRunningCoil      uint16 = 20 // coil: running
	TurbineOverspeedCoil    uint16 = 21 // coil: overspeed_alarm
	TurbineHighVibCoil      uint16 = 22 // coil: high_vibration
	TurbineHighBearingCoil  uint16 = 23 // coil: high_bearing_temp
	TurbineSevereDamageCoil uint16 = 24 // coil: severe_damage

	TurbineShaftSpeedReg    uint16 = 0 // input: shaft_speed_rpm
	TurbineSteamPressureReg uint16 = 1 // input: steam_pressure_bar
	TurbineSteamTempReg     uint16 = 2 // input: steam_temp_c
	TurbineBearingTempReg   uint16 = 3 // input: bearing_temp_c
	TurbineVibrationReg     uint16 = 4 // input: vibration_mm_s x10
	TurbinePowerMWReg       uint16 = 5 // input: power_mw x10
	TurbineOverspeedSecReg  uint16 = 6 // input: overspeed_accumulated_s
	TurbineDamagePctReg     uint16 = 7 // input: damage_pct x10
)

// TurbineParams are the tunable constants from §4.3.1, each with the
// spec's default.
type TurbineParams struct {
	RatedSpeedRPM      float64 // default 3600
	RatedPowerMW       float64
	MaxSafeSpeedRPM    float64 // default 3960 = 110% rated
	AccelRPMPerSec     float64 // default 100
	DecelRPMPerSec     float64 // default 50
	BearingTimeConstS  float64 // default 10
	VibrationBaseline  float64 // mm/s at rest
	VibrationGain      float64 // mm/s at rated speed, added to baseline
	BearingAmbientC    float64
	BearingGainC       float64 // bearing temp rise at rated speed, above ambient
}

// DefaultTurbineParams returns the spec's §4.3.1 defaults for a 3600 RPM
// rated turbine producing ratedPowerMW at rated speed.
func DefaultTurbineParams(ratedPowerMW float64) TurbineParams {
	return TurbineParams{
		RatedSpeedRPM:     3600,
		RatedPowerMW:      ratedPowerMW,
		MaxSafeSpeedRPM:   3960,
		AccelRPMPerSec:    100,
		DecelRPMPerSec:    50,
		BearingTimeConstS: 10,
		VibrationBaseline: 1.0,
		VibrationGain:     4.0,
		BearingAmbientC:   25,
		BearingGainC:      60,
	}
}

// TurbineState is the turbine's continuous state (§3 PhysicsState).
type TurbineState struct {
	ShaftSpeedRPM         float64
	BearingTempC          float64
	VibrationMMS          float64
	SteamPressureBar      float64
	SteamTempC            float64
	PowerMW               float64
	OverspeedAccumulatedS float64
	DamagePct             float64
	Running               bool
}

// TurbineIntegrator implements Integrator for a single steam turbine
// device, per §4.3.1.
type TurbineIntegrator struct {
	device      string
	fab         *fabric.Fabric
	params      TurbineParams
	state       TurbineState
	tripLatched bool
}

// NewTurbineIntegrator constructs a turbine integrator bound to device,
// with state at rest (shaft stopped, ambient temperatures).
func NewTurbineIntegrator(fab *fabric.Fabric, device string, params TurbineParams) *TurbineIntegrator {
	return &TurbineIntegrator{
		device: device,
		fab:    fab,
		params: params,
		state: TurbineState{
			BearingTempC: params.BearingAmbientC,
			VibrationMMS: params.VibrationBaseline,
			Running:      true,
		},
	}
}

func (t *TurbineIntegrator) Device() string { return t.device }

// State returns a copy of the turbine's current continuous state, used by
// tests and scenario assertions.
func (t *TurbineIntegrator) State() TurbineState { return t.state }

func (t *TurbineIntegrator) Update(dt float64) {
	f, d, p := t.fab, t.device, &t.params
	s := &t.state

	setpoint := float64(readWord(f, d, fabric.HoldingRegister, TurbineSpeedSetpointReg))
	governorEnabled := readBool(f, d, fabric.Coil, TurbineGovernorEnabledCoil)
	emergencyTrip := readBool(f, d, fabric.Coil, TurbineEmergencyTripCoil)

	var target float64
	switch {
	case emergencyTrip:
		target = 0
		governorEnabled = false
	case governorEnabled:
		target = clampNonNegative(setpoint)
	default:
		target = 0 // coasting: no governor input, decelerate toward stop
	}

	catastrophic := s.DamagePct > 50
	decel := p.DecelRPMPerSec
	if catastrophic {
		decel *= 2
		target = 0
	}

	err := target - s.ShaftSpeedRPM
	switch {
	case catastrophic:
		s.ShaftSpeedRPM = math.Max(0, s.ShaftSpeedRPM-decel*dt)
	case err > 0:
		s.ShaftSpeedRPM += math.Min(err, p.AccelRPMPerSec*dt)
	case err < 0:
		s.ShaftSpeedRPM = math.Max(target, s.ShaftSpeedRPM-decel*dt)
	}

	if s.ShaftSpeedRPM > p.MaxSafeSpeedRPM {
		ratio := s.ShaftSpeedRPM / p.RatedSpeedRPM
		overshoot := ratio - 1.0
		if overshoot < 0 {
			overshoot = 0
		}
		rate := overshoot / 0.2 // %/s, 1.0 at 120% rated per spec
		s.DamagePct += dt * rate
		s.OverspeedAccumulatedS += dt
		if !t.tripLatched {
			t.tripLatched = true
			f.Emit(fabric.Event{Type: fabric.OverspeedTrip, Device: d})
		}
	} else {
		t.tripLatched = false
	}

	if s.DamagePct > 50 {
		s.Running = false
	} else {
		s.Running = s.ShaftSpeedRPM > 1
	}

	speedRatio := clamp(s.ShaftSpeedRPM/p.RatedSpeedRPM, 0, 2)
	targetBearing := p.BearingAmbientC + p.BearingGainC*speedRatio
	s.BearingTempC += (dt / p.BearingTimeConstS) * (targetBearing - s.BearingTempC)

	s.VibrationMMS = p.VibrationBaseline + p.VibrationGain*speedRatio*speedRatio
	s.PowerMW = clamp(speedRatio, 0, 1.2) * p.RatedPowerMW
	s.SteamPressureBar = 10 + 150*speedRatio
	s.SteamTempC = 150 + 400*speedRatio

	f.WriteWord(d, fabric.InputRegister, TurbineShaftSpeedReg, u16(s.ShaftSpeedRPM))
	f.WriteWord(d, fabric.InputRegister, TurbineSteamPressureReg, u16(s.SteamPressureBar))
	f.WriteWord(d, fabric.InputRegister, TurbineSteamTempReg, u16(s.SteamTempC))
	f.WriteWord(d, fabric.InputRegister, TurbineBearingTempReg, u16(s.BearingTempC))
	f.WriteWord(d, fabric.InputRegister, TurbineVibrationReg, fixed10(s.VibrationMMS))
	f.WriteWord(d, fabric.InputRegister, TurbinePowerMWReg, fixed10(s.PowerMW))
	f.WriteWord(d, fabric.InputRegister, TurbineOverspeedSecReg, u16(s.OverspeedAccumulatedS))
	f.WriteWord(d, fabric.InputRegister, TurbineDamagePctReg, fixed10(s.DamagePct))

	f.WriteBool(d, fabric.Coil, TurbineRunningCoil, s.Running)
	f.WriteBool(d, fabric.Coil, TurbineOverspeedCoil, s.ShaftSpeedRPM > p.MaxSafeSpeedRPM)
	f.WriteBool(d, fabric.Coil, TurbineHighVibCoil, s.VibrationMMS > 5.0)
	f.WriteBool(d, fabric.Coil, TurbineHighBearingCoil, s.BearingTempC > 90)
	f.WriteBool(d, fabric.Coil, TurbineSevereDamageCoil, s.DamagePct >= 50)
}
