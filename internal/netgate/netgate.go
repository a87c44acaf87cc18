// Package netgate implements the Network Gate (§4.6): the topology
// registry and reachability decisions evaluated at connection accept
// time.
//
// Grounded on the zone/rule matching shape of
// grimm.is/flywall/internal/engine (Evaluator/Matcher resolve a packet's
// zone membership against configured rules); here the "zones" are named
// networks and the "packet" is an inbound protocol-server connection.
package netgate

import (
	"net"
	"sort"
	"sync"

	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/icserr"
)

// Network is one named topology network (§3 NetworkTopology).
type Network struct {
	Name   string
	Subnet *net.IPNet
	VLAN   int
}

// AllowRule is an explicit allow exception: (src_network, dst_device,
// protocol, port) -> allow, independent of subnet membership.
type AllowRule struct {
	SrcNetwork string
	DstDevice  string
	Protocol   string
	Port       int
}

// DeniedRecord is appended to the gate's ring of denied connection
// attempts (§4.6).
type DeniedRecord struct {
	Peer     string
	Device   string
	Protocol string
	Port     int
	Reason   string
	Time     float64
}

// Gate holds the network topology and evaluates reachability at accept
// time. All methods are safe for concurrent use.
type Gate struct {
	mu sync.RWMutex

	networks   map[string]Network
	membership map[string]map[string]bool // device -> set<network>
	allowRules []AllowRule

	corporateNetwork string // fallback source network for unmatched peers

	deniedCap int
	denied    []DeniedRecord

	fab *fabric.Fabric // optional; set via BindEvents to emit ConnectionAllowed/Denied
}

// New constructs an empty Gate. corporateNetwork is the fallback source
// network assigned to a peer address that matches no registered subnet.
func New(corporateNetwork string, deniedCap int) *Gate {
	if deniedCap < 1 {
		deniedCap = 256
	}
	return &Gate{
		networks:         make(map[string]Network),
		membership:       make(map[string]map[string]bool),
		corporateNetwork: corporateNetwork,
		deniedCap:        deniedCap,
	}
}

// BindEvents attaches the State Fabric's event fan-out so RecordAllowed/
// RecordDenied also emit the §6 ConnectionAllowed/ConnectionDenied kernel
// events, in addition to the gate's own denied-connection ring buffer.
// Optional: a Gate used without BindEvents (e.g. in protocol-server unit
// tests) simply skips event emission.
func (g *Gate) BindEvents(fab *fabric.Fabric) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fab = fab
}

// AddNetwork registers a named network with its subnet and VLAN tag.
func (g *Gate) AddNetwork(name, cidr string, vlan int) error {
	_, subnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return icserr.Wrap(icserr.TopologyInvalid, err, "network %q: invalid CIDR %q", name, cidr)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.networks[name] = Network{Name: name, Subnet: subnet, VLAN: vlan}
	return nil
}

// AddMembership records that device is a member of network. A device
// present on more than one network is a deliberate dual-homed pivot
// (§4.6) and is always permitted.
func (g *Gate) AddMembership(device, network string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.networks[network]; !ok {
		return icserr.New(icserr.TopologyInvalid, "membership references unknown network %q", network)
	}
	if g.membership[device] == nil {
		g.membership[device] = make(map[string]bool)
	}
	g.membership[device][network] = true
	return nil
}

// RemoveMembership removes device from network, used by dual-homed pivot
// scenarios (S4) that revoke an earlier membership mid-run.
func (g *Gate) RemoveMembership(device, network string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.membership[device]; ok {
		delete(m, network)
	}
}

// AddAllowRule registers an explicit allow exception independent of
// subnet membership.
func (g *Gate) AddAllowRule(rule AllowRule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowRules = append(g.allowRules, rule)
}

// ValidateMemberships checks every membership references a device present
// in knownDevices, per the orchestrator boot-step 6 requirement
// (TopologyInvalid on failure).
func (g *Gate) ValidateMemberships(knownDevices map[string]bool) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.membership))
	for d := range g.membership {
		names = append(names, d)
	}
	sort.Strings(names)
	for _, d := range names {
		if !knownDevices[d] {
			return icserr.New(icserr.TopologyInvalid, "membership references unregistered device %q", d)
		}
	}
	return nil
}

// InferSourceNetwork matches a peer IP address against registered
// subnets, falling back to the configured corporate network if nothing
// matches.
func (g *Gate) InferSourceNetwork(peerIP net.IP) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.networks))
	for n := range g.networks {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if g.networks[n].Subnet.Contains(peerIP) {
			return n
		}
	}
	return g.corporateNetwork
}

// CanReach evaluates whether srcNetwork may reach device over protocol on
// port, per §4.6: allowed if the destination device is a member of
// srcNetwork, or an explicit allow rule covers the tuple.
func (g *Gate) CanReach(srcNetwork, device, protocol string, port int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if members, ok := g.membership[device]; ok && members[srcNetwork] {
		return true
	}
	for _, r := range g.allowRules {
		if r.SrcNetwork == srcNetwork && r.DstDevice == device && r.Protocol == protocol && r.Port == port {
			return true
		}
	}
	return false
}

// RecordDenied appends a ConnectionDenied record to the bounded ring,
// evicting the oldest entry when full, and emits a ConnectionDenied
// kernel event if BindEvents was called.
func (g *Gate) RecordDenied(rec DeniedRecord) {
	g.mu.Lock()
	g.denied = append(g.denied, rec)
	if len(g.denied) > g.deniedCap {
		g.denied = g.denied[len(g.denied)-g.deniedCap:]
	}
	fab := g.fab
	g.mu.Unlock()

	if fab != nil {
		fab.Emit(fabric.Event{
			Type: fabric.ConnectionDenied, Device: rec.Device, Peer: rec.Peer,
			Protocol: rec.Protocol, Port: rec.Port, Reason: rec.Reason,
		})
	}
}

// RecordAllowed emits a ConnectionAllowed kernel event for an admitted
// connection, if BindEvents was called. It does not append to the denied
// ring (nothing to retain for an allowed connection).
func (g *Gate) RecordAllowed(peer, device, protocol string, port int) {
	g.mu.RLock()
	fab := g.fab
	g.mu.RUnlock()

	if fab != nil {
		fab.Emit(fabric.Event{
			Type: fabric.ConnectionAllowed, Device: device, Peer: peer,
			Protocol: protocol, Port: port,
		})
	}
}

// DeniedLog returns a copy of the denied-connection ring buffer.
func (g *Gate) DeniedLog() []DeniedRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]DeniedRecord, len(g.denied))
	copy(out, g.denied)
	return out
}

// Networks returns every registered network, sorted by name.
func (g *Gate) Networks() []Network {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.networks))
	for n := range g.networks {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Network, 0, len(names))
	for _, n := range names {
		out = append(out, g.networks[n])
	}
	return out
}
