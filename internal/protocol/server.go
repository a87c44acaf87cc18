// Package protocol implements the protocol servers of §4.5: real TCP
// listeners, each bound to one device and one protocol, holding a mirror
// of that device's memory map consulted to serve client requests between
// orchestrator sync cycles.
//
// Grounded on the listener lifecycle of grimm.is/flywall/internal/api.Server
// (a constructed *Server with Start/Stop over a configured net.Listener,
// threaded loggers/metrics) and the simulated in-memory register tables of
// other_examples' arx-os-arxos Modbus client (SimulatedRegister/
// SimulatedCoil maps guarded by a dedicated mutex, addressed by uint16).
package protocol

import (
	"context"
	"sync"

	"github.com/grimm-is/icsrange/internal/fabric"
)

// Server is the shared protocol-server contract (§4.5): bind/accept,
// mirror synchronization, and shutdown. Each concrete protocol (Modbus,
// S7, DNP3, IEC-104, OPC UA, EtherNet/IP) implements this the same way.
type Server interface {
	Device() string
	Protocol() string
	Port() int

	// Start binds and begins accepting; it returns once listening.
	Start(ctx context.Context) error
	// Stop stops accepting, drains sessions, and closes the socket.
	Stop(ctx context.Context) error

	// MirrorPush copies telemetry (discrete inputs, input registers)
	// from the device's memory map into the listener's mirror.
	MirrorPush(tele *fabric.MemoryMap)
	// MirrorPull harvests coil/holding-register writes received from
	// clients since the last pull, for the orchestrator to apply to
	// device memory.
	MirrorPull() *fabric.MemoryMap
}

// Bounds configures the addressable size of each space a listener
// exposes; addresses at or beyond a bound are "unmapped" and reads/writes
// against them return an address error (Modbus exception 02).
type Bounds struct {
	Coils            uint16
	DiscreteInputs   uint16
	HoldingRegisters uint16
	InputRegisters   uint16
}

// Mirror is the per-listener in-memory snapshot of a device's memory map
// (§3 ProtocolListener / Mirror). It is ground truth for serving client
// requests between sync cycles: writes land here immediately (so a
// same-session read-after-write round-trips without waiting on the
// orchestrator) and are also queued for MirrorPull so the orchestrator
// can apply them to the device's real memory map on the next sync,
// satisfying the causal-layering invariant for physics visibility.
type Mirror struct {
	mu     sync.Mutex
	bounds Bounds

	coils    map[uint16]bool
	discrete map[uint16]bool
	holding  map[uint16]uint16
	input    map[uint16]uint16

	pendingCoils   map[uint16]bool
	pendingHolding map[uint16]uint16
}

// NewMirror constructs an empty Mirror with the given addressable bounds.
func NewMirror(bounds Bounds) *Mirror {
	return &Mirror{
		bounds:         bounds,
		coils:          make(map[uint16]bool),
		discrete:       make(map[uint16]bool),
		holding:        make(map[uint16]uint16),
		input:          make(map[uint16]uint16),
		pendingCoils:   make(map[uint16]bool),
		pendingHolding: make(map[uint16]uint16),
	}
}

func inRange(idx, bound uint16) bool { return bound > 0 && idx < bound }

// ReadCoil reads one coil; ok is false if idx is out of the configured bounds.
func (m *Mirror) ReadCoil(idx uint16) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !inRange(idx, m.bounds.Coils) {
		return false, false
	}
	return m.coils[idx], true
}

// ReadDiscrete reads one discrete input; ok is false if idx is out of bounds.
func (m *Mirror) ReadDiscrete(idx uint16) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !inRange(idx, m.bounds.DiscreteInputs) {
		return false, false
	}
	return m.discrete[idx], true
}

// ReadHolding reads one holding register; ok is false if idx is out of bounds.
func (m *Mirror) ReadHolding(idx uint16) (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !inRange(idx, m.bounds.HoldingRegisters) {
		return 0, false
	}
	return m.holding[idx], true
}

// ReadInput reads one input register; ok is false if idx is out of bounds.
func (m *Mirror) ReadInput(idx uint16) (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !inRange(idx, m.bounds.InputRegisters) {
		return 0, false
	}
	return m.input[idx], true
}

// WriteCoil applies a client coil write; ok is false if idx is out of bounds.
func (m *Mirror) WriteCoil(idx uint16, v bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !inRange(idx, m.bounds.Coils) {
		return false
	}
	m.coils[idx] = v
	m.pendingCoils[idx] = v
	return true
}

// WriteHolding applies a client holding-register write; ok is false if
// idx is out of bounds.
func (m *Mirror) WriteHolding(idx uint16, v uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !inRange(idx, m.bounds.HoldingRegisters) {
		return false
	}
	m.holding[idx] = v
	m.pendingHolding[idx] = v
	return true
}

// InBounds reports whether [start, start+qty) lies entirely within bound.
func InBounds(start, qty uint32, bound uint16) bool {
	if qty == 0 {
		return false
	}
	end := uint32(start) + qty
	return end <= uint32(bound)
}

// Push copies telemetry (discrete inputs, input registers) from the
// device's memory map into the mirror.
func (m *Mirror) Push(tele *fabric.MemoryMap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range tele.DiscreteInputs {
		if inRange(k, m.bounds.DiscreteInputs) {
			m.discrete[k] = v
		}
	}
	for k, v := range tele.InputRegisters {
		if inRange(k, m.bounds.InputRegisters) {
			m.input[k] = v
		}
	}
}

// Pull drains and returns pending client writes as a partial MemoryMap,
// ready for the orchestrator to apply to the device via WriteBulk.
func (m *Mirror) Pull() *fabric.MemoryMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := fabric.NewMemoryMap()
	for k, v := range m.pendingCoils {
		out.Coils[k] = v
	}
	for k, v := range m.pendingHolding {
		out.HoldingRegisters[k] = v
	}
	m.pendingCoils = make(map[uint16]bool)
	m.pendingHolding = make(map[uint16]uint16)
	return out
}
