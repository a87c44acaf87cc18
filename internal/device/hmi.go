package device

import (
	"sync"

	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/logging"
)

// Screen is a logical HMI screen: a named set of tags it displays. The
// simulator tracks which tags a screen needs so the HMI's poll rate can
// be validated against scenario checks; no rendering happens here (out of
// scope per §1 Non-goals, GUI/HMI rendering).
type Screen struct {
	Name string
	Tags []string
}

// HMI polls a SCADA device's tag database at a faster rate than the
// SCADA itself refreshes it (§4.4), keeping a local cache for whichever
// screen is currently selected.
type HMI struct {
	mu      sync.RWMutex
	scada   *TagDB
	screens []Screen
	active  string
	cache   map[string]TagValue
}

// NewHMI constructs an HMI device bound to a SCADA device's tag database.
func NewHMI(scada *TagDB, screens []Screen) *HMI {
	active := ""
	if len(screens) > 0 {
		active = screens[0].Name
	}
	return &HMI{
		scada:   scada,
		screens: screens,
		active:  active,
		cache:   make(map[string]TagValue),
	}
}

// SelectScreen changes which screen's tags are cached on the next scan.
func (h *HMI) SelectScreen(name string) {
	h.mu.Lock()
	h.active = name
	h.mu.Unlock()
}

// Cached returns the last-polled value for a tag on the active screen.
func (h *HMI) Cached(tag string) (TagValue, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.cache[tag]
	return v, ok
}

// NewHMIScanner wraps an HMI in the common scan-cycle machinery, polling
// its bound SCADA tag database each scan.
func NewHMIScanner(fab *fabric.Fabric, name string, interval float64, hmi *HMI, logger *logging.Logger) *Base {
	scan := func(_ float64, _ *fabric.MemoryMap) (*fabric.MemoryMap, error) {
		hmi.mu.Lock()
		defer hmi.mu.Unlock()

		var tags []string
		for _, sc := range hmi.screens {
			if sc.Name == hmi.active {
				tags = sc.Tags
				break
			}
		}
		for _, t := range tags {
			if v, ok := hmi.scada.Get(t); ok {
				hmi.cache[t] = v
			}
		}
		return nil, nil
	}
	return NewBase(fab, name, interval, scan, logger)
}
