// Package orchestrator implements §4.7: the boot sequence, tick loop,
// protocol sync cycle, and shutdown that wire every other kernel layer
// together in a fixed causal order.
//
// Grounded on the Start/Stop/Status lifecycle shape of
// grimm.is/flywall/internal/services.Service and the cooperative-task
// model of §5; the tick loop and the event-drain loop run as a
// golang.org/x/sync/errgroup.Group (listener accept loops and sessions
// are tracked by each protocol server's own WaitGroup) the way the teacher's
// own service registry starts/stops a fixed set of long-running tasks
// under one context.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/device"
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/logging"
	"github.com/grimm-is/icsrange/internal/netgate"
	"github.com/grimm-is/icsrange/internal/physics"
	"github.com/grimm-is/icsrange/internal/protocol"
	"github.com/grimm-is/icsrange/internal/telemetry"
)

// DefaultEventLogCapacity bounds the orchestrator's in-memory kernel-event
// ring buffer, surfaced through the admin API's /events endpoint.
const DefaultEventLogCapacity = 512

// Orchestrator wires the Clock, State Fabric, physics integrators, scan
// machines, Network Gate, and protocol servers together and drives the
// tick loop described in §4.7. One Orchestrator instance is the whole
// running simulator.
type Orchestrator struct {
	log *logging.Logger

	Clock     *clock.Clock
	Fabric    *fabric.Fabric
	Gate      *netgate.Gate
	Telemetry *telemetry.Collector

	integrators []physics.Integrator
	scanners    []device.Scanner
	servers     []protocol.Server

	updateInterval float64

	eventMu  sync.Mutex
	eventCap int
	events   []fabric.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Orchestrator from already-built components. Build
// builds an Orchestrator from a parsed catalogue directly; New is the
// lower-level constructor used by tests that want to wire a scenario by
// hand without a YAML document.
func New(clk *clock.Clock, fab *fabric.Fabric, gate *netgate.Gate, updateInterval float64, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default("orchestrator")
	}
	if updateInterval <= 0 {
		updateInterval = 0.01
	}
	return &Orchestrator{
		log:            logger,
		Clock:          clk,
		Fabric:         fab,
		Gate:           gate,
		Telemetry:      telemetry.NewCollector(),
		updateInterval: updateInterval,
		eventCap:       DefaultEventLogCapacity,
	}
}

// AddIntegrator registers a physics integrator to be stepped every tick,
// in the deterministic device-name order enforced by sortIntegrators.
func (o *Orchestrator) AddIntegrator(i physics.Integrator) { o.integrators = append(o.integrators, i) }

// AddScanner registers a device scan machine to be run on its own
// schedule by the tick loop.
func (o *Orchestrator) AddScanner(s device.Scanner) { o.scanners = append(o.scanners, s) }

// AddServer registers a protocol server to be started, synced every
// tick, and stopped at shutdown.
func (o *Orchestrator) AddServer(s protocol.Server) { o.servers = append(o.servers, s) }

func sortIntegrators(ints []physics.Integrator) {
	sort.SliceStable(ints, func(i, j int) bool { return ints[i].Device() < ints[j].Device() })
}

func sortScanners(s []device.Scanner) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Name() < s[j].Name() })
}

// Boot finishes the §4.7 boot sequence after Build (which ran steps 1-7):
// it validates that every network membership references a registered
// device (step 6's check) and starts every registered protocol server
// (step 8). Any BindFailed error from one
// listener is logged and that listener is skipped; the orchestrator
// proceeds with the remaining listeners per §7's propagation policy. A
// TopologyInvalid or other InvalidConfig error aborts boot entirely.
func (o *Orchestrator) Boot(ctx context.Context) error {
	sortIntegrators(o.integrators)
	sortScanners(o.scanners)

	knownDevices := make(map[string]bool)
	for _, d := range o.Fabric.List() {
		knownDevices[d.Name] = true
	}
	if err := o.Gate.ValidateMemberships(knownDevices); err != nil {
		return err
	}

	for _, srv := range o.servers {
		if err := srv.Start(ctx); err != nil {
			o.log.Errorf("listener for device %q protocol %q did not bind: %v", srv.Device(), srv.Protocol(), err)
			continue
		}
	}

	o.log.Infof("boot complete: %d integrators, %d scanners, %d listeners", len(o.integrators), len(o.scanners), len(o.servers))
	return nil
}

// Run starts the tick loop and the kernel-event drain loop, blocking
// until ctx is cancelled or Stop is called. It is safe to call Run in its
// own goroutine.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return o.tickLoop(gctx) })
	g.Go(func() error { o.drainEvents(gctx); return nil })
	return g.Wait()
}

// Stop stops every protocol server, draining in-flight sessions within
// the given context's deadline, then cancels the tick loop and event
// drain. Per §4.7: listeners first, then the tick loop, then release.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var firstErr error
	for _, srv := range o.servers {
		if err := srv.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping %s/%s listener: %w", srv.Device(), srv.Protocol(), err)
		}
	}
	if o.cancel != nil {
		o.cancel()
	}
	return firstErr
}

// tickLoop runs one iteration of §4.7's tick loop per SleepSim(updateInterval)
// wakeup: integrators in deterministic order, due scanners, then the
// protocol sync (mirror_pull -> device write, device read -> mirror_push).
func (o *Orchestrator) tickLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		o.runOneTick()
		o.Clock.SleepSim(o.updateInterval)
		if o.Clock.Mode() == clock.Stepped {
			// In Stepped mode SleepSim already blocked for exactly one
			// step; nothing further to wait on before the next iteration.
		} else {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(0):
			}
		}
	}
}

// runOneTick runs exactly one tick's causal sequence: physics -> scans ->
// sync, then increments the cycle counter (§4.7, §5).
func (o *Orchestrator) runOneTick() {
	now := o.Clock.Now()
	dt := o.updateInterval

	for _, integ := range o.integrators {
		integ.Update(dt)
	}

	for _, sc := range o.scanners {
		if sc.NextDue() <= now {
			sc.RunScan(now)
			sc.Reschedule(now)
			stats := sc.Stats()
			if stats.TotalFailures > 0 && stats.ConsecutiveFailures > 0 {
				o.Telemetry.RecordScanFailure(sc.Name())
			}
		}
	}

	o.syncProtocols()

	for _, snap := range o.Fabric.List() {
		o.Telemetry.SetDeviceOnline(snap.Name, snap.Kind.String(), snap.Online)
	}
	o.Telemetry.SimTimeSeconds.Set(o.Clock.Now())
	o.Clock.IncrementCycles()
	o.Telemetry.Cycles.Inc()
}

// syncProtocols runs the orchestrator's half of §4.5's MirrorPush/
// MirrorPull contract: harvest pending client writes from every listener
// and apply them to the owning device (causal-layering invariant: a
// write landing in tick n's sync becomes visible to physics starting at
// tick n+1), then push the device's latest telemetry into the mirror for
// clients to read.
func (o *Orchestrator) syncProtocols() {
	for _, srv := range o.servers {
		writes := srv.MirrorPull()
		if len(writes.Coils) > 0 || len(writes.HoldingRegisters) > 0 {
			if err := o.Fabric.WriteBulk(srv.Device(), writes); err != nil {
				o.log.Warnf("applying %s writes from %s listener: %v", srv.Device(), srv.Protocol(), err)
			}
		}

		tele, err := o.Fabric.ReadBulk(srv.Device())
		if err != nil {
			o.log.Warnf("reading %s telemetry for %s mirror: %v", srv.Device(), srv.Protocol(), err)
			continue
		}
		srv.MirrorPush(tele)
	}
}

// drainEvents consumes the Fabric's kernel-event fan-out, appending to
// the orchestrator's bounded event log and updating telemetry counters
// for connection admission events. It is the single consumer of
// Fabric.Events(); other components read the log via Events()/Telemetry
// rather than subscribing to the channel directly.
func (o *Orchestrator) drainEvents(ctx context.Context) {
	ch := o.Fabric.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			o.recordEvent(ev)
		}
	}
}

func (o *Orchestrator) recordEvent(ev fabric.Event) {
	o.eventMu.Lock()
	o.events = append(o.events, ev)
	if len(o.events) > o.eventCap {
		o.events = o.events[len(o.events)-o.eventCap:]
	}
	o.eventMu.Unlock()

	switch ev.Type {
	case fabric.ConnectionAllowed:
		o.Telemetry.RecordConnectionAllowed(ev.Device, ev.Protocol)
	case fabric.ConnectionDenied:
		o.Telemetry.RecordConnectionDenied(ev.Device, ev.Protocol)
	}
}

// Events returns a copy of the orchestrator's bounded kernel-event log,
// most recent last.
func (o *Orchestrator) Events() []fabric.Event {
	o.eventMu.Lock()
	defer o.eventMu.Unlock()
	out := make([]fabric.Event, len(o.events))
	copy(out, o.events)
	return out
}
