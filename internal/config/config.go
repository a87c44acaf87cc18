// Package config loads the declarative device/network/scenario catalogue
// described in §6 ("Configuration catalogue"). spec.md treats catalogue
// loading as an external collaborator; this package is the concrete
// reference loader the orchestrator boots against, built on
// gopkg.in/yaml.v3 the way the teacher's own tooling (tools/cmd/vm-builder,
// cmd/gen-config-docs) loads declarative YAML documents into typed structs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/grimm-is/icsrange/internal/icserr"
)

// ProtocolConfig is one protocol binding for a device: host/port plus
// protocol-specific options (currently just the Modbus unit_id).
type ProtocolConfig struct {
	Name   string `yaml:"name"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	UnitID int    `yaml:"unit_id,omitempty"`
}

// PhysicsConfig binds a device to one of the §4.3 integrators.
type PhysicsConfig struct {
	Type       string             `yaml:"type"` // turbine, reactor, hvac, grid (power flow is set up from power_flow_buses/lines)
	Params     map[string]float64 `yaml:"params,omitempty"`
	GenDevices []string           `yaml:"gen_devices,omitempty"` // grid: turbine-kind devices to aggregate
}

// InterlockConfig is one Safety PLC trip rule (§4.4).
type InterlockConfig struct {
	Name        string  `yaml:"name"`
	WatchDevice string  `yaml:"watch_device"`
	WatchSpace  string  `yaml:"watch_space"` // "holding" or "input"
	WatchIndex  uint16  `yaml:"watch_index"`
	Comparator  string  `yaml:"comparator"` // "gt" or "lt"
	Threshold   float64 `yaml:"threshold"`
	TripDevice  string  `yaml:"trip_device"`
	TripCoil    uint16  `yaml:"trip_coil"`
}

// TagConfig is one SCADA tag-database entry (§4.4).
type TagConfig struct {
	Name       string   `yaml:"name"`
	PeerDevice string   `yaml:"peer_device"`
	Space      string   `yaml:"space"` // "coil", "discrete", "holding", "input"
	Index      uint16   `yaml:"index"`
	PollRateS  float64  `yaml:"poll_rate_s,omitempty"`
	AlarmLow   *float64 `yaml:"alarm_low,omitempty"`
	AlarmHigh  *float64 `yaml:"alarm_high,omitempty"`
	Hysteresis float64  `yaml:"hysteresis,omitempty"`
}

// ScreenConfig is one HMI screen definition (§4.4).
type ScreenConfig struct {
	Name string   `yaml:"name"`
	Tags []string `yaml:"tags"`
}

// DeviceConfig is one catalogue entry under the top-level `devices:` list.
type DeviceConfig struct {
	Name          string           `yaml:"name"`
	Kind          string           `yaml:"kind"` // PLC, RTU, HMI, SCADA, Historian, IED, SIS
	ID            int              `yaml:"id"`
	Protocols     []ProtocolConfig `yaml:"protocols"`
	Metadata      map[string]any   `yaml:"metadata,omitempty"`
	ScanIntervalS float64          `yaml:"scan_interval_s,omitempty"`

	Physics *PhysicsConfig `yaml:"physics,omitempty"`

	// Safety PLC (SIS) configuration.
	Interlocks []InterlockConfig `yaml:"interlocks,omitempty"`

	// SCADA configuration.
	Tags []TagConfig `yaml:"tags,omitempty"`

	// HMI configuration.
	SCADADevice string         `yaml:"scada_device,omitempty"`
	Screens     []ScreenConfig `yaml:"screens,omitempty"`

	// Historian configuration.
	HistorianTags     []string `yaml:"historian_tags,omitempty"`
	HistorianCapacity int      `yaml:"historian_capacity,omitempty"`
}

// NetworkConfig is one entry under `networks:`.
type NetworkConfig struct {
	Name   string `yaml:"name"`
	Subnet string `yaml:"subnet"` // CIDR
	VLAN   int    `yaml:"vlan,omitempty"`
}

// MembershipConfig is one entry under `memberships:`: a network and the
// devices that belong to it.
type MembershipConfig struct {
	Network string   `yaml:"network"`
	Devices []string `yaml:"devices"`
}

// AllowRuleConfig is one explicit reachability exception under
// `allow_rules:`, independent of network membership.
type AllowRuleConfig struct {
	SrcNetwork string `yaml:"src_network"`
	DstDevice  string `yaml:"dst_device"`
	Protocol   string `yaml:"protocol"`
	Port       int    `yaml:"port"`
}

// SimulationConfig configures the Clock (§4.1) at boot.
type SimulationConfig struct {
	Mode           string  `yaml:"mode"` // RealTime, Accelerated, Stepped, Paused
	Speed          float64 `yaml:"speed,omitempty"`
	UpdateInterval float64 `yaml:"update_interval_s,omitempty"`
}

// BusConfig is one power-flow bus injection point (§4.3.5).
type BusConfig struct {
	Name          string `yaml:"name"`
	GenDevice     string `yaml:"gen_device,omitempty"`
	LoadDevice    string `yaml:"load_device,omitempty"`
	LoadRegIndex  uint16 `yaml:"load_reg_index,omitempty"`
}

// LineConfig is one transmission line in the static admittance topology
// (§4.3.5).
type LineConfig struct {
	ID        string  `yaml:"id"`
	FromBus   string  `yaml:"from_bus"`
	ToBus     string  `yaml:"to_bus"`
	Reactance float64 `yaml:"reactance"`
	RatingMW  float64 `yaml:"rating_mw"`
}

// Catalogue is the full declarative boot configuration described in §6.
type Catalogue struct {
	Simulation       SimulationConfig   `yaml:"simulation"`
	CorporateNetwork string             `yaml:"corporate_network"`
	Devices          []DeviceConfig     `yaml:"devices"`
	Networks         []NetworkConfig    `yaml:"networks"`
	Memberships      []MembershipConfig `yaml:"memberships"`
	AllowRules       []AllowRuleConfig  `yaml:"allow_rules,omitempty"`
	PowerFlowBuses   []BusConfig        `yaml:"power_flow_buses,omitempty"`
	PowerFlowLines   []LineConfig       `yaml:"power_flow_lines,omitempty"`
	DeniedLogCap     int                `yaml:"denied_log_capacity,omitempty"`
}

// Load reads and parses a catalogue document from path, validating the
// cross-references it can check without the fabric (non-empty device
// names, recognized kinds). Deeper validation (membership references a
// registered device, etc.) happens at orchestrator boot per §4.7 step 6.
func Load(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, icserr.Wrap(icserr.InvalidConfig, err, "read catalogue %q", path)
	}
	return Parse(data)
}

// Parse decodes a catalogue document already in memory, used by Load and
// directly by tests that construct a scenario inline.
func Parse(data []byte) (*Catalogue, error) {
	var cat Catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, icserr.Wrap(icserr.InvalidConfig, err, "parse catalogue YAML")
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate performs the structural checks Load/Parse can make without a
// live Fabric or Gate: unique non-empty device names, recognized device
// kinds, and well-formed protocol bindings.
func (c *Catalogue) Validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "" {
			return icserr.New(icserr.InvalidConfig, "device entry missing name")
		}
		if seen[d.Name] {
			return icserr.New(icserr.InvalidConfig, "duplicate device name %q in catalogue", d.Name)
		}
		seen[d.Name] = true
		if _, err := ParseKind(d.Kind); err != nil {
			return icserr.Wrap(icserr.InvalidConfig, err, "device %q", d.Name).WithDevice(d.Name)
		}
		for _, p := range d.Protocols {
			if p.Name == "" {
				return icserr.New(icserr.InvalidConfig, "device %q: protocol entry missing name", d.Name).WithDevice(d.Name)
			}
		}
	}
	for _, n := range c.Networks {
		if n.Name == "" {
			return icserr.New(icserr.InvalidConfig, "network entry missing name")
		}
		if n.Subnet == "" {
			return icserr.New(icserr.InvalidConfig, "network %q missing subnet CIDR", n.Name)
		}
	}
	for _, m := range c.Memberships {
		if m.Network == "" {
			return icserr.New(icserr.InvalidConfig, "membership entry missing network")
		}
	}
	return nil
}

// kindNames lists the catalogue's accepted kind spellings, which match
// fabric.Kind's String() form, without importing fabric here (config
// stays a leaf package). The orchestrator translates these strings to
// fabric.Kind with its own kindByName table, which holds the same names.
var kindNames = map[string]bool{
	"PLC": true, "RTU": true, "HMI": true, "SCADA": true,
	"Historian": true, "IED": true, "SIS": true,
}

// ParseKind validates a catalogue device kind string.
func ParseKind(s string) (string, error) {
	if !kindNames[s] {
		return "", fmt.Errorf("unrecognized device kind %q", s)
	}
	return s, nil
}
