// Package device implements the scan-cycle machines of §4.4: the periodic
// control-logic loop that bridges physics, memory maps, and peer devices.
//
// Grounded on the lifecycle shape of grimm.is/flywall/internal/services.Service
// (a small Start/Stop-style interface implemented by each concrete service)
// and the counter-on-failure idiom of grimm.is/flywall/internal/metrics
// (PolicyStats/InterfaceStats accumulate counts rather than failing loudly).
package device

import (
	"fmt"

	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/logging"
)

// DefaultMaxConsecutiveFailures is the default N from §4.4: a device that
// fails this many scans in a row is marked offline.
const DefaultMaxConsecutiveFailures = 5

// ScanStats tracks per-device scan health. The orchestrator reads it after
// each scan to feed the Prometheus scan-failure counter; it is not part of
// the fabric's Summary, and LastDurationS is not populated.
type ScanStats struct {
	ConsecutiveFailures int
	TotalScans          uint64
	TotalFailures       uint64
	LastError           string
	LastDurationS       float64
}

// Scanner is one device's periodic control-logic loop (§4.4). Concrete
// scanners (PLC, SCADA, HMI, Historian, Safety PLC) embed *Base and
// implement scanOnce.
type Scanner interface {
	Name() string
	Interval() float64
	NextDue() float64
	Reschedule(now float64)
	RunScan(now float64)
	Stats() ScanStats
}

// scanFunc is the device-kind-specific control logic run each scan, after
// Base has taken the bulk-read snapshot and before it applies the bulk
// write. It receives the current sim time and the snapshot, and returns
// the partial write to merge back, or an error if the scan failed.
type scanFunc func(now float64, snapshot *fabric.MemoryMap) (*fabric.MemoryMap, error)

// Base implements the common scan-cycle mechanics shared by every device
// kind: snapshot, run scanOnce, write back, count failures, fault after
// DefaultMaxConsecutiveFailures.
type Base struct {
	name     string
	fab      *fabric.Fabric
	interval float64
	nextDue  float64
	maxFail  int
	logger   *logging.Logger
	scanOnce scanFunc
	tagDB    *TagDB // set only for SCADA-kind scanners, by NewSCADA

	stats ScanStats
}

// NewBase constructs the common scan machinery for a device named name,
// scanning at the given sim-time interval.
func NewBase(fab *fabric.Fabric, name string, interval float64, fn scanFunc, logger *logging.Logger) *Base {
	if logger == nil {
		logger = logging.Default("device")
	}
	return &Base{
		name:     name,
		fab:      fab,
		interval: interval,
		maxFail:  DefaultMaxConsecutiveFailures,
		logger:   logger.With(name),
		scanOnce: fn,
	}
}

func (b *Base) Name() string      { return b.name }
func (b *Base) Interval() float64 { return b.interval }
func (b *Base) NextDue() float64  { return b.nextDue }
func (b *Base) Stats() ScanStats  { return b.stats }

// TagDB returns the SCADA tag database this scanner polls, or nil for
// every non-SCADA device kind. Used by callers (e.g. HMI/Historian wiring,
// and tests) that need to read tag values directly rather than through a
// device's mirrored registers.
func (b *Base) TagDB() *TagDB { return b.tagDB }

// Reschedule advances NextDue by Interval from now, called by the
// orchestrator after a scan runs.
func (b *Base) Reschedule(now float64) { b.nextDue = now + b.interval }

// RunScan executes one scan cycle: snapshot (bulk read), run the
// device-kind-specific control logic, apply the resulting bulk write.
// Panics and errors are caught, counted, and logged; they never propagate
// to the orchestrator's tick loop (§4.4 failure semantics).
func (b *Base) RunScan(now float64) {
	b.stats.TotalScans++

	result, err := b.safeScanOnce(now)
	if err != nil {
		b.stats.TotalFailures++
		b.stats.ConsecutiveFailures++
		b.stats.LastError = err.Error()
		b.logger.Warnf("scan failed (%d consecutive): %v", b.stats.ConsecutiveFailures, err)

		if b.stats.ConsecutiveFailures >= b.maxFail {
			if ferr := b.fab.SetOnline(b.name, false); ferr != nil {
				b.logger.Errorf("could not mark device offline: %v", ferr)
			}
		}
		return
	}

	b.stats.ConsecutiveFailures = 0
	if result != nil {
		if err := b.fab.WriteBulk(b.name, result); err != nil {
			b.logger.Warnf("bulk write failed: %v", err)
		}
	}
}

func (b *Base) safeScanOnce(now float64) (result *fabric.MemoryMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scan: %v", r)
		}
	}()

	if b.scanOnce == nil {
		return nil, nil
	}

	snapshot, readErr := b.fab.ReadBulk(b.name)
	if readErr != nil {
		return nil, readErr
	}
	return b.scanOnce(now, snapshot)
}
