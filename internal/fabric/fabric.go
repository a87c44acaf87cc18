// Package fabric implements the State Fabric (§4.2): the device registry
// and per-device memory maps, with atomic per-device access.
//
// Grounded on grimm.is/flywall/internal/kernel.SimKernel: the teacher
// protects its FlowTable/BlockedIPs/RuleStats maps with a single
// sync.RWMutex and exposes atomic Get/Set-style methods (DumpFlows,
// GetFlow, KillFlow, AddBlock...). We generalize that to per-device
// locking, since spec.md requires readers of other devices not to block
// behind one device's writer.
package fabric

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/icserr"
)

// Kind enumerates device roles.
type Kind int

const (
	KindPLC Kind = iota
	KindRTU
	KindHMI
	KindSCADA
	KindHistorian
	KindIED
	KindSIS
)

func (k Kind) String() string {
	switch k {
	case KindPLC:
		return "PLC"
	case KindRTU:
		return "RTU"
	case KindHMI:
		return "HMI"
	case KindSCADA:
		return "SCADA"
	case KindHistorian:
		return "Historian"
	case KindIED:
		return "IED"
	case KindSIS:
		return "SIS"
	default:
		return "Unknown"
	}
}

// MarshalJSON renders a Kind by name for the admin API's /devices feed.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// deviceEntry is the fabric's internal per-device record. The mutex
// guards MemoryMap, Online, LastUpdate, and Metadata; Name/Kind/ID/
// Protocols are immutable after registration.
type deviceEntry struct {
	mu sync.RWMutex

	name      string
	kind      Kind
	id        int
	protocols map[string]bool

	online     bool
	lastUpdate float64
	metadata   map[string]any
	mm         *MemoryMap
}

// DeviceSnapshot is an immutable point-in-time view of a DeviceRecord,
// returned by List/Get so callers never see the fabric's internal lock.
type DeviceSnapshot struct {
	Name       string
	Kind       Kind
	ID         int
	Protocols  []string
	Online     bool
	LastUpdate float64
	Metadata   map[string]any
}

// Summary is the aggregate status snapshot described in §4.2 and surfaced
// via the admin API.
type Summary struct {
	DevicesTotal  int
	DevicesOnline int
	ByKind        map[string]int
	ByProtocol    map[string]int
	SimTime       float64
	Cycles        uint64
}

// Fabric is the shared state fabric: a device registry plus per-device
// memory maps. All methods are safe for concurrent use.
type Fabric struct {
	clk *clock.Clock

	mu      sync.RWMutex // guards the devices map itself (register/list)
	devices map[string]*deviceEntry

	events chan Event
}

// New constructs an empty Fabric bound to clk, whose Now() stamps
// LastUpdate on every successful mutation.
func New(clk *clock.Clock) *Fabric {
	return &Fabric{
		clk:     clk,
		devices: make(map[string]*deviceEntry),
		events:  make(chan Event, 256),
	}
}

// Events returns the fan-out channel of kernel events. Its consumer (the
// orchestrator's event drain, which feeds the telemetry collector and the
// admin API's event log) should drain it promptly; the
// channel is buffered but emit() drops events rather than blocking the
// fabric if a consumer falls behind.
func (f *Fabric) Events() <-chan Event { return f.events }

func (f *Fabric) emit(e Event) {
	e.Time = f.clk.Now()
	select {
	case f.events <- e:
	default:
	}
}

// Emit publishes a kernel event from outside the fabric (e.g. the Network
// Gate's ConnectionAllowed/ConnectionDenied records), stamping it with the
// current sim time the same way internally-generated events are stamped.
func (f *Fabric) Emit(e Event) { f.emit(e) }

// Register adds a new device to the fabric. Fails with DuplicateDevice if
// name is already registered.
func (f *Fabric) Register(name string, kind Kind, id int, protocols []string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.devices[name]; exists {
		return icserr.New(icserr.DuplicateDevice, "device %q already registered", name).WithDevice(name)
	}

	protoSet := make(map[string]bool, len(protocols))
	for _, p := range protocols {
		protoSet[p] = true
	}
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	f.devices[name] = &deviceEntry{
		name:       name,
		kind:       kind,
		id:         id,
		protocols:  protoSet,
		online:     true,
		lastUpdate: f.clk.Now(),
		metadata:   meta,
		mm:         NewMemoryMap(),
	}

	f.emit(Event{Type: DeviceRegistered, Device: name})
	return nil
}

func (f *Fabric) lookup(name string) (*deviceEntry, error) {
	f.mu.RLock()
	d, ok := f.devices[name]
	f.mu.RUnlock()
	if !ok {
		return nil, icserr.New(icserr.UnknownDevice, "no such device %q", name).WithDevice(name)
	}
	return d, nil
}

// SetOnline marks a device's online status, emitting DeviceFaulted when
// transitioning to offline.
func (f *Fabric) SetOnline(name string, online bool) error {
	d, err := f.lookup(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	was := d.online
	d.online = online
	d.mu.Unlock()

	if was && !online {
		f.emit(Event{Type: DeviceFaulted, Device: name})
	}
	return nil
}

// ReadBool reads a coil or discrete-input value.
func (f *Fabric) ReadBool(name string, space Space, index uint16) (bool, bool, error) {
	d, err := f.lookup(name)
	if err != nil {
		return false, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch space {
	case Coil:
		v, ok := d.mm.Coils[index]
		return v, ok, nil
	case DiscreteInput:
		v, ok := d.mm.DiscreteInputs[index]
		return v, ok, nil
	default:
		return false, false, icserr.New(icserr.TypeMismatch, "space %v is not boolean", space).WithDevice(name)
	}
}

// ReadWord reads a holding or input register value.
func (f *Fabric) ReadWord(name string, space Space, index uint16) (uint16, bool, error) {
	d, err := f.lookup(name)
	if err != nil {
		return 0, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch space {
	case HoldingRegister:
		v, ok := d.mm.HoldingRegisters[index]
		return v, ok, nil
	case InputRegister:
		v, ok := d.mm.InputRegisters[index]
		return v, ok, nil
	default:
		return 0, false, icserr.New(icserr.TypeMismatch, "space %v is not a register", space).WithDevice(name)
	}
}

// WriteBool writes a coil or discrete-input value.
func (f *Fabric) WriteBool(name string, space Space, index uint16, v bool) error {
	if space != Coil && space != DiscreteInput {
		return icserr.New(icserr.TypeMismatch, "cannot write bool to %v", space).WithDevice(name)
	}
	d, err := f.lookup(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if space == Coil {
		d.mm.Coils[index] = v
	} else {
		d.mm.DiscreteInputs[index] = v
	}
	d.lastUpdate = f.clk.Now()
	return nil
}

// WriteWord writes a holding or input register value.
func (f *Fabric) WriteWord(name string, space Space, index uint16, v uint16) error {
	if space != HoldingRegister && space != InputRegister {
		return icserr.New(icserr.TypeMismatch, "cannot write register to %v", space).WithDevice(name)
	}
	d, err := f.lookup(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if space == HoldingRegister {
		d.mm.HoldingRegisters[index] = v
	} else {
		d.mm.InputRegisters[index] = v
	}
	d.lastUpdate = f.clk.Now()
	return nil
}

// ReadBulk returns a deep-copied snapshot of a device's entire memory map.
func (f *Fabric) ReadBulk(name string) (*MemoryMap, error) {
	d, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mm.Clone(), nil
}

// WriteBulk applies partial atomically to a device's memory map: the
// merge happens while holding the device's single writer lock, so it is
// atomic with respect to other bulk or single writes on that device (but
// not a system-wide transaction across devices).
func (f *Fabric) WriteBulk(name string, partial *MemoryMap) error {
	d, err := f.lookup(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mm.Merge(partial)
	d.lastUpdate = f.clk.Now()
	return nil
}

// ListByKind returns snapshots of every device of the given kind, sorted
// by name for deterministic iteration order (§5: "integrators and scan
// machines execute in a stable order").
func (f *Fabric) ListByKind(kind Kind) []DeviceSnapshot {
	return f.list(func(d *deviceEntry) bool { return d.kind == kind })
}

// ListByProtocol returns snapshots of every device declaring tag.
func (f *Fabric) ListByProtocol(tag string) []DeviceSnapshot {
	return f.list(func(d *deviceEntry) bool { return d.protocols[tag] })
}

// List returns snapshots of every registered device, sorted by name.
func (f *Fabric) List() []DeviceSnapshot {
	return f.list(func(*deviceEntry) bool { return true })
}

func (f *Fabric) list(pred func(*deviceEntry) bool) []DeviceSnapshot {
	f.mu.RLock()
	names := make([]string, 0, len(f.devices))
	for n, d := range f.devices {
		if pred(d) {
			names = append(names, n)
		}
	}
	f.mu.RUnlock()
	sort.Strings(names)

	out := make([]DeviceSnapshot, 0, len(names))
	for _, n := range names {
		f.mu.RLock()
		d := f.devices[n]
		f.mu.RUnlock()
		out = append(out, snapshotOf(d))
	}
	return out
}

func snapshotOf(d *deviceEntry) DeviceSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	protos := make([]string, 0, len(d.protocols))
	for p := range d.protocols {
		protos = append(protos, p)
	}
	sort.Strings(protos)
	meta := make(map[string]any, len(d.metadata))
	for k, v := range d.metadata {
		meta[k] = v
	}
	return DeviceSnapshot{
		Name:       d.name,
		Kind:       d.kind,
		ID:         d.id,
		Protocols:  protos,
		Online:     d.online,
		LastUpdate: d.lastUpdate,
		Metadata:   meta,
	}
}

// Summary returns the aggregate status snapshot described in §4.2.
func (f *Fabric) Summary() Summary {
	f.mu.RLock()
	names := make([]string, 0, len(f.devices))
	for n := range f.devices {
		names = append(names, n)
	}
	f.mu.RUnlock()

	s := Summary{
		ByKind:     make(map[string]int),
		ByProtocol: make(map[string]int),
		SimTime:    f.clk.Now(),
		Cycles:     f.clk.Cycles(),
	}
	for _, n := range names {
		f.mu.RLock()
		d := f.devices[n]
		f.mu.RUnlock()
		snap := snapshotOf(d)
		s.DevicesTotal++
		if snap.Online {
			s.DevicesOnline++
		}
		s.ByKind[snap.Kind.String()]++
		for _, p := range snap.Protocols {
			s.ByProtocol[p]++
		}
	}
	return s
}
