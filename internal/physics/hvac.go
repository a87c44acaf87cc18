package physics

import "github.com/grimm-is/icsrange/internal/fabric"

// HVAC register layout (§4.3.3).
const (
	HVACTempSetpointReg     uint16 = 0 // holding: temp_setpoint_c
	HVACHumiditySetpointReg uint16 = 1 // holding: humidity_setpoint_pct
	HVACFanSpeedReg         uint16 = 2 // holding: fan_speed_pct
	HVACDamperReg           uint16 = 3 // holding: damper_pct

	HVACZoneTempReg     uint16 = 0 // input: zone_temp_c x10
	HVACZoneHumidityReg uint16 = 1 // input: zone_humidity_pct x10
	HVACStabilityReg    uint16 = 2 // input: lspace_stability x1000 (0..1 -> 0..1000)
)

// HVACParams are the tunable constants for §4.3.3.
type HVACParams struct {
	TimeConstS     float64
	ExcursionBandC float64 // +/- band around setpoint considered "within band"
	DecayRate      float64 // stability decay per second per degree of excursion
	RebuildRate    float64 // stability rebuild per second when within band
}

// DefaultHVACParams returns reasonable defaults.
func DefaultHVACParams() HVACParams {
	return HVACParams{
		TimeConstS:     60,
		ExcursionBandC: 2,
		DecayRate:      0.02,
		RebuildRate:    0.01,
	}
}

// HVACState is the zone's continuous state.
type HVACState struct {
	ZoneTempC    float64
	ZoneHumidity float64
	Stability    float64
}

// HVACIntegrator implements Integrator for §4.3.3.
type HVACIntegrator struct {
	device string
	fab    *fabric.Fabric
	params HVACParams
	state  HVACState
}

// NewHVACIntegrator constructs an HVAC zone integrator at a comfortable
// ambient starting point with full dimensional stability.
func NewHVACIntegrator(fab *fabric.Fabric, device string, params HVACParams) *HVACIntegrator {
	return &HVACIntegrator{
		device: device,
		fab:    fab,
		params: params,
		state: HVACState{
			ZoneTempC:    22,
			ZoneHumidity: 45,
			Stability:    1.0,
		},
	}
}

func (h *HVACIntegrator) Device() string { return h.device }

// State returns a copy of the zone's current continuous state.
func (h *HVACIntegrator) State() HVACState { return h.state }

func (h *HVACIntegrator) Update(dt float64) {
	f, d, p := h.fab, h.device, &h.params
	s := &h.state

	tempSetpoint := float64(readWord(f, d, fabric.HoldingRegister, HVACTempSetpointReg))
	humiditySetpoint := float64(readWord(f, d, fabric.HoldingRegister, HVACHumiditySetpointReg))
	fanSpeed := clamp(float64(readWord(f, d, fabric.HoldingRegister, HVACFanSpeedReg))/100.0, 0, 1)
	damper := clamp(float64(readWord(f, d, fabric.HoldingRegister, HVACDamperReg))/100.0, 0, 1)

	responseGain := clamp(fanSpeed*damper, 0.02, 1)
	tc := p.TimeConstS / responseGain

	s.ZoneTempC += (dt / tc) * (tempSetpoint - s.ZoneTempC)
	s.ZoneHumidity += (dt / tc) * (humiditySetpoint - s.ZoneHumidity)

	excursion := s.ZoneTempC - tempSetpoint
	if excursion < 0 {
		excursion = -excursion
	}
	if excursion > p.ExcursionBandC {
		s.Stability -= dt * p.DecayRate * (excursion - p.ExcursionBandC)
	} else {
		s.Stability += dt * p.RebuildRate
	}
	s.Stability = clamp(s.Stability, 0, 1)

	f.WriteWord(d, fabric.InputRegister, HVACZoneTempReg, fixed10(s.ZoneTempC))
	f.WriteWord(d, fabric.InputRegister, HVACZoneHumidityReg, fixed10(s.ZoneHumidity))
	f.WriteWord(d, fabric.InputRegister, HVACStabilityReg, u16(s.Stability*1000))
}
