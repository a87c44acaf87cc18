package device

import (
	"sync"

	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/logging"
)

// TagDef configures one logical tag in a SCADA tag database: which peer
// register it mirrors, how often to poll it, and its alarm limits.
type TagDef struct {
	Name        string
	PeerDevice  string
	Space       fabric.Space
	Index       uint16
	PollRate    float64 // sim seconds between refreshes
	AlarmLow    *float64
	AlarmHigh   *float64
	Hysteresis  float64
}

// TagValue is the live state of one tag, as read by the latest poll.
type TagValue struct {
	Value      float64
	Bool       bool
	IsBool     bool
	InAlarm    bool
	LastPollAt float64
}

// TagDB is a SCADA device's polled mirror of peer device registers,
// safe for concurrent reads from HMI devices polling it.
type TagDB struct {
	mu   sync.RWMutex
	defs map[string]TagDef
	vals map[string]TagValue
}

// NewTagDB builds a tag database from its definitions.
func NewTagDB(defs []TagDef) *TagDB {
	db := &TagDB{
		defs: make(map[string]TagDef, len(defs)),
		vals: make(map[string]TagValue, len(defs)),
	}
	for _, d := range defs {
		db.defs[d.Name] = d
	}
	return db
}

// Get returns the current value of a tag and whether it exists.
func (db *TagDB) Get(name string) (TagValue, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.vals[name]
	return v, ok
}

// Names returns every tag name in the database.
func (db *TagDB) Names() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]string, 0, len(db.defs))
	for n := range db.defs {
		out = append(out, n)
	}
	return out
}

func (db *TagDB) refresh(fab *fabric.Fabric, now float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for name, def := range db.defs {
		prev := db.vals[name]
		if now-prev.LastPollAt < def.PollRate && prev.LastPollAt != 0 {
			continue
		}

		var nv TagValue
		nv.LastPollAt = now
		switch def.Space {
		case fabric.Coil, fabric.DiscreteInput:
			v, _, err := fab.ReadBool(def.PeerDevice, def.Space, def.Index)
			if err != nil {
				return err
			}
			nv.IsBool = true
			nv.Bool = v
		default:
			v, _, err := fab.ReadWord(def.PeerDevice, def.Space, def.Index)
			if err != nil {
				return err
			}
			nv.Value = float64(v)
		}

		nv.InAlarm = prev.InAlarm
		if !nv.IsBool {
			if def.AlarmHigh != nil {
				if nv.Value > *def.AlarmHigh {
					nv.InAlarm = true
				} else if nv.Value < *def.AlarmHigh-def.Hysteresis {
					nv.InAlarm = false
				}
			}
			if def.AlarmLow != nil {
				if nv.Value < *def.AlarmLow {
					nv.InAlarm = true
				} else if nv.Value > *def.AlarmLow+def.Hysteresis &&
					(def.AlarmHigh == nil || nv.Value < *def.AlarmHigh-def.Hysteresis) {
					nv.InAlarm = false
				}
			}
		}

		db.vals[name] = nv
	}
	return nil
}

// NewSCADA builds the scan machine for a SCADA device: it owns no
// physics, and each scan refreshes its tag database by polling peer
// device registers through the Fabric and evaluating alarm
// limits/hysteresis (§4.4).
func NewSCADA(fab *fabric.Fabric, name string, interval float64, tags *TagDB, logger *logging.Logger) *Base {
	scan := func(now float64, _ *fabric.MemoryMap) (*fabric.MemoryMap, error) {
		return nil, tags.refresh(fab, now)
	}
	base := NewBase(fab, name, interval, scan, logger)
	base.tagDB = tags
	return base
}
