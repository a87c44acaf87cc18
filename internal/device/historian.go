package device

import (
	"sync"

	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/logging"
)

// Sample is one historian ring-buffer entry.
type Sample struct {
	Time  float64
	Tag   string
	Value float64
}

// Historian records selected tags from a SCADA tag database into a
// bounded ring buffer with monotonic timestamps (§4.4). It holds no
// physics and writes nothing back to any device memory map.
type Historian struct {
	mu       sync.RWMutex
	scada    *TagDB
	tags     []string
	capacity int
	buf      []Sample
	next     int
	full     bool
	lastTime float64
}

// NewHistorian constructs a historian watching tags from scada, with a
// ring buffer sized capacity.
func NewHistorian(scada *TagDB, tags []string, capacity int) *Historian {
	if capacity < 1 {
		capacity = 1
	}
	return &Historian{
		scada:    scada,
		tags:     tags,
		capacity: capacity,
		buf:      make([]Sample, capacity),
	}
}

// Samples returns a copy of the ring buffer contents in chronological order.
func (h *Historian) Samples() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full {
		out := make([]Sample, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]Sample, h.capacity)
	copy(out, h.buf[h.next:])
	copy(out[h.capacity-h.next:], h.buf[:h.next])
	return out
}

func (h *Historian) append(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = s
	h.next = (h.next + 1) % h.capacity
	if h.next == 0 {
		h.full = true
	}
	h.lastTime = s.Time
}

// NewHistorianScanner wraps a Historian in the common scan-cycle
// machinery: each scan snapshots its watched tags with a timestamp
// strictly greater than the last sample's (monotonic per §3).
func NewHistorianScanner(fab *fabric.Fabric, name string, interval float64, hist *Historian, logger *logging.Logger) *Base {
	scan := func(now float64, _ *fabric.MemoryMap) (*fabric.MemoryMap, error) {
		hist.mu.RLock()
		last := hist.lastTime
		hist.mu.RUnlock()
		if now <= last {
			now = last + 1e-9
		}
		for _, tag := range hist.tags {
			v, ok := hist.scada.Get(tag)
			if !ok {
				continue
			}
			val := v.Value
			if v.IsBool && v.Bool {
				val = 1
			}
			hist.append(Sample{Time: now, Tag: tag, Value: val})
		}
		return nil, nil
	}
	return NewBase(fab, name, interval, scan, logger)
}
