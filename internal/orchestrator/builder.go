package orchestrator

import (
	"fmt"
	"strconv"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/config"
	"github.com/grimm-is/icsrange/internal/device"
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/icserr"
	"github.com/grimm-is/icsrange/internal/logging"
	"github.com/grimm-is/icsrange/internal/netgate"
	"github.com/grimm-is/icsrange/internal/physics"
	"github.com/grimm-is/icsrange/internal/protocol"
)

var kindByName = map[string]fabric.Kind{
	"PLC":       fabric.KindPLC,
	"RTU":       fabric.KindRTU,
	"HMI":       fabric.KindHMI,
	"SCADA":     fabric.KindSCADA,
	"Historian": fabric.KindHistorian,
	"IED":       fabric.KindIED,
	"SIS":       fabric.KindSIS,
}

var spaceByName = map[string]fabric.Space{
	"coil":     fabric.Coil,
	"discrete": fabric.DiscreteInput,
	"holding":  fabric.HoldingRegister,
	"input":    fabric.InputRegister,
}

const defaultScanIntervalS = 0.5

// Build runs §4.7's boot sequence steps 1-7 from a parsed catalogue: it
// constructs the Clock, State Fabric, registers every device, constructs
// physics integrators and scan machines bound to them, loads the
// topology into the Network Gate, and constructs protocol listeners for
// every catalogue entry that declares a protocol binding. Boot (step 8)
// and Run (step 9, the tick loop) are separate calls so callers can
// inspect the wired Orchestrator before starting it.
func Build(cat *config.Catalogue, logger *logging.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.Default("orchestrator")
	}

	mode, err := parseClockMode(cat.Simulation.Mode)
	if err != nil {
		return nil, err
	}
	speed := cat.Simulation.Speed
	if speed <= 0 {
		speed = 1
	}
	clk, err := clock.New(mode, speed)
	if err != nil {
		return nil, err
	}

	fab := fabric.New(clk)
	for _, d := range cat.Devices {
		kind, ok := kindByName[d.Kind]
		if !ok {
			return nil, icserr.New(icserr.InvalidConfig, "device %q: unrecognized kind %q", d.Name, d.Kind).WithDevice(d.Name)
		}
		if err := fab.Register(d.Name, kind, d.ID, protocolNames(d.Protocols), d.Metadata); err != nil {
			return nil, err
		}
	}

	corporate := cat.CorporateNetwork
	if corporate == "" {
		corporate = "corporate_network"
	}
	gate := netgate.New(corporate, cat.DeniedLogCap)
	gate.BindEvents(fab)
	for _, n := range cat.Networks {
		if err := gate.AddNetwork(n.Name, n.Subnet, n.VLAN); err != nil {
			return nil, err
		}
	}
	for _, m := range cat.Memberships {
		for _, dev := range m.Devices {
			if err := gate.AddMembership(dev, m.Network); err != nil {
				return nil, err
			}
		}
	}
	for _, r := range cat.AllowRules {
		gate.AddAllowRule(netgate.AllowRule{
			SrcNetwork: r.SrcNetwork, DstDevice: r.DstDevice, Protocol: r.Protocol, Port: r.Port,
		})
	}

	o := New(clk, fab, gate, cat.Simulation.UpdateInterval, logger)

	if len(cat.PowerFlowBuses) > 0 {
		buses := make([]physics.Bus, 0, len(cat.PowerFlowBuses))
		for _, b := range cat.PowerFlowBuses {
			bus := physics.Bus{Name: b.Name, GenDevice: b.GenDevice}
			bus.LoadDeviceReg.Device = b.LoadDevice
			bus.LoadDeviceReg.Index = b.LoadRegIndex
			buses = append(buses, bus)
		}
		lines := make([]physics.Line, 0, len(cat.PowerFlowLines))
		for _, l := range cat.PowerFlowLines {
			lines = append(lines, physics.Line{
				ID: l.ID, FromBus: l.FromBus, ToBus: l.ToBus,
				Reactance: l.Reactance, RatingMW: l.RatingMW,
			})
		}
		solver := physics.NewPowerFlowSolver(fab, buses, lines)
		o.AddIntegrator(physics.NewPowerFlowIntegrator("power_flow", solver))
	}

	tagDBs := make(map[string]*device.TagDB)
	for _, d := range cat.Devices {
		if d.Kind == "SCADA" {
			tagDBs[d.Name] = device.NewTagDB(toTagDefs(d.Tags))
		}
	}

	for _, d := range cat.Devices {
		interval := d.ScanIntervalS
		if interval <= 0 {
			interval = defaultScanIntervalS
		}
		dlog := logger.With(d.Name)

		if d.Physics != nil {
			integ, err := buildIntegrator(fab, d.Name, d.Physics)
			if err != nil {
				return nil, icserr.Wrap(icserr.InvalidConfig, err, "device %q physics", d.Name).WithDevice(d.Name)
			}
			o.AddIntegrator(integ)
		}

		switch d.Kind {
		case "PLC":
			o.AddScanner(device.NewPLC(fab, d.Name, interval, 30, dlog))
		case "RTU":
			o.AddScanner(device.NewRTU(fab, d.Name, interval, 30, dlog))
		case "SIS":
			o.AddScanner(device.NewSafetyPLC(fab, d.Name, interval, toInterlocks(d.Interlocks), dlog))
		case "SCADA":
			o.AddScanner(device.NewSCADA(fab, d.Name, interval, tagDBs[d.Name], dlog))
		case "HMI":
			scada, ok := tagDBs[d.SCADADevice]
			if !ok {
				return nil, icserr.New(icserr.InvalidConfig, "HMI %q: scada_device %q not found", d.Name, d.SCADADevice).WithDevice(d.Name)
			}
			hmi := device.NewHMI(scada, toScreens(d.Screens))
			o.AddScanner(device.NewHMIScanner(fab, d.Name, interval, hmi, dlog))
		case "Historian":
			scada, ok := tagDBs[d.SCADADevice]
			if !ok {
				return nil, icserr.New(icserr.InvalidConfig, "Historian %q: scada_device %q not found", d.Name, d.SCADADevice).WithDevice(d.Name)
			}
			cap := d.HistorianCapacity
			if cap <= 0 {
				cap = 1000
			}
			hist := device.NewHistorian(scada, d.HistorianTags, cap)
			o.AddScanner(device.NewHistorianScanner(fab, d.Name, interval, hist, dlog))
		}

		for _, p := range d.Protocols {
			srv, err := buildServer(d.Name, p, gate, dlog)
			if err != nil {
				return nil, err
			}
			if srv != nil {
				o.AddServer(srv)
			}
		}
	}

	return o, nil
}

func protocolNames(protos []config.ProtocolConfig) []string {
	out := make([]string, len(protos))
	for i, p := range protos {
		out[i] = p.Name
	}
	return out
}

func parseClockMode(s string) (clock.Mode, error) {
	switch s {
	case "", "RealTime":
		return clock.RealTime, nil
	case "Accelerated":
		return clock.Accelerated, nil
	case "Stepped":
		return clock.Stepped, nil
	case "Paused":
		return clock.Paused, nil
	default:
		return 0, icserr.New(icserr.InvalidConfig, "unrecognized clock mode %q", s)
	}
}

func buildIntegrator(fab *fabric.Fabric, name string, pc *config.PhysicsConfig) (physics.Integrator, error) {
	p := pc.Params
	switch pc.Type {
	case "turbine":
		params := physics.DefaultTurbineParams(getf(p, "rated_power_mw", 50))
		applyIfSet(p, "rated_speed_rpm", &params.RatedSpeedRPM)
		applyIfSet(p, "max_safe_speed_rpm", &params.MaxSafeSpeedRPM)
		applyIfSet(p, "accel_rpm_per_s", &params.AccelRPMPerSec)
		applyIfSet(p, "decel_rpm_per_s", &params.DecelRPMPerSec)
		return physics.NewTurbineIntegrator(fab, name, params), nil
	case "reactor":
		params := physics.DefaultReactorParams()
		applyIfSet(p, "rated_core_temp_c", &params.RatedCoreTempC)
		applyIfSet(p, "critical_core_temp_c", &params.CriticalCoreTempC)
		applyIfSet(p, "containment_min_pct", &params.ContainmentMinPct)
		return physics.NewReactorIntegrator(fab, name, params), nil
	case "hvac":
		params := physics.DefaultHVACParams()
		applyIfSet(p, "time_const_s", &params.TimeConstS)
		applyIfSet(p, "excursion_band_c", &params.ExcursionBandC)
		return physics.NewHVACIntegrator(fab, name, params), nil
	case "grid":
		params := physics.DefaultGridParams()
		applyIfSet(p, "nominal_freq_hz", &params.NominalFreqHz)
		applyIfSet(p, "inertia_mws", &params.InertiaMWs)
		applyIfSet(p, "damping_coef", &params.DampingCoef)
		return physics.NewGridIntegrator(fab, name, pc.GenDevices, params), nil
	default:
		return nil, fmt.Errorf("unrecognized physics type %q", pc.Type)
	}
}

func getf(m map[string]float64, key string, def float64) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func applyIfSet(m map[string]float64, key string, dst *float64) {
	if v, ok := m[key]; ok {
		*dst = v
	}
}

func toInterlocks(cs []config.InterlockConfig) []device.Interlock {
	out := make([]device.Interlock, 0, len(cs))
	for _, c := range cs {
		cmp := device.GreaterThan
		if c.Comparator == "lt" {
			cmp = device.LessThan
		}
		out = append(out, device.Interlock{
			Name:        c.Name,
			WatchDevice: c.WatchDevice,
			WatchSpace:  spaceByName[c.WatchSpace],
			WatchIndex:  c.WatchIndex,
			Comparator:  cmp,
			Threshold:   c.Threshold,
			TripDevice:  c.TripDevice,
			TripCoil:    c.TripCoil,
		})
	}
	return out
}

func toTagDefs(cs []config.TagConfig) []device.TagDef {
	out := make([]device.TagDef, 0, len(cs))
	for _, c := range cs {
		out = append(out, device.TagDef{
			Name:       c.Name,
			PeerDevice: c.PeerDevice,
			Space:      spaceByName[c.Space],
			Index:      c.Index,
			PollRate:   c.PollRateS,
			AlarmLow:   c.AlarmLow,
			AlarmHigh:  c.AlarmHigh,
			Hysteresis: c.Hysteresis,
		})
	}
	return out
}

func toScreens(cs []config.ScreenConfig) []device.Screen {
	out := make([]device.Screen, 0, len(cs))
	for _, c := range cs {
		out = append(out, device.Screen{Name: c.Name, Tags: c.Tags})
	}
	return out
}

var defaultBounds = protocol.Bounds{Coils: 1024, DiscreteInputs: 1024, HoldingRegisters: 1024, InputRegisters: 1024}

// buildServer constructs the protocol listener for one device/protocol
// binding. Modbus is bit-exact per §6; the other five are minimal
// pluggable servers conforming to the same protocol.Server contract per
// §4.5's "Other protocols" allowance (session registration plus a small
// read/browse surface, not full conformance).
func buildServer(device, p config.ProtocolConfig, gate protocol.Admission, logger *logging.Logger) (protocol.Server, error) {
	addr := p.Host + ":" + strconv.Itoa(p.Port)
	switch p.Name {
	case "modbus":
		unit := byte(p.UnitID)
		return protocol.NewModbusServer(device, addr, unit, defaultBounds, gate, logger), nil
	case "s7":
		return protocol.NewS7Server(device, addr, defaultBounds, gate, logger), nil
	case "dnp3":
		return protocol.NewDNP3Server(device, addr, defaultBounds, gate, logger), nil
	case "iec104":
		return protocol.NewIEC104Server(device, addr, defaultBounds, gate, logger), nil
	case "opcua":
		return protocol.NewOPCUAServer(device, addr, defaultBounds, gate, logger), nil
	case "ethernetip":
		return protocol.NewEtherNetIPServer(device, addr, defaultBounds, gate, logger), nil
	default:
		logger.Warnf("protocol %q on device %q has no listener implementation in this build; skipping", p.Name, device)
		return nil, nil
	}
}
