package fabric

import "strconv"

// Space names one of the four Modbus-flavored address spaces.
type Space int

const (
	Coil Space = iota
	DiscreteInput
	HoldingRegister
	InputRegister
)

func (s Space) String() string {
	switch s {
	case Coil:
		return "coils"
	case DiscreteInput:
		return "discrete_inputs"
	case HoldingRegister:
		return "holding_registers"
	case InputRegister:
		return "input_registers"
	default:
		return "unknown"
	}
}

// CanonicalKey formats the (space, index) pair as the boundary string key
// described in §3: "<space>[<index>]".
func CanonicalKey(space Space, index uint16) string {
	return space.String() + "[" + strconv.Itoa(int(index)) + "]"
}

// MemoryMap holds the four sparse address spaces for one device. Spaces are
// arenas with presence tracked by map membership rather than fixed-size
// arrays, per the REDESIGN FLAGS note on dynamic memory-map keys: callers
// address by (space, index), and the string-key form is a convenience
// layer only (see CanonicalKey).
type MemoryMap struct {
	Coils            map[uint16]bool
	DiscreteInputs   map[uint16]bool
	HoldingRegisters map[uint16]uint16
	InputRegisters   map[uint16]uint16
}

// NewMemoryMap returns an empty MemoryMap.
func NewMemoryMap() *MemoryMap {
	return &MemoryMap{
		Coils:            make(map[uint16]bool),
		DiscreteInputs:   make(map[uint16]bool),
		HoldingRegisters: make(map[uint16]uint16),
		InputRegisters:   make(map[uint16]uint16),
	}
}

// Clone returns a deep copy, used for bulk reads and mirror pushes so that
// callers never alias the fabric's internal maps.
func (m *MemoryMap) Clone() *MemoryMap {
	out := NewMemoryMap()
	for k, v := range m.Coils {
		out.Coils[k] = v
	}
	for k, v := range m.DiscreteInputs {
		out.DiscreteInputs[k] = v
	}
	for k, v := range m.HoldingRegisters {
		out.HoldingRegisters[k] = v
	}
	for k, v := range m.InputRegisters {
		out.InputRegisters[k] = v
	}
	return out
}

// Merge overlays partial's present entries onto m, used for partial bulk
// writes. Both maps are addressed by (space, index); only spaces present
// in partial are touched.
func (m *MemoryMap) Merge(partial *MemoryMap) {
	for k, v := range partial.Coils {
		m.Coils[k] = v
	}
	for k, v := range partial.DiscreteInputs {
		m.DiscreteInputs[k] = v
	}
	for k, v := range partial.HoldingRegisters {
		m.HoldingRegisters[k] = v
	}
	for k, v := range partial.InputRegisters {
		m.InputRegisters[k] = v
	}
}
