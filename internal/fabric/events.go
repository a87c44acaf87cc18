package fabric

import "encoding/json"

// EventType enumerates the kernel events listed in §6.
type EventType int

const (
	DeviceRegistered EventType = iota
	DeviceFaulted
	ConnectionAllowed
	ConnectionDenied
	GridTrip
	OverspeedTrip
	ReactorScram
	ContainmentBreach
)

func (t EventType) String() string {
	switch t {
	case DeviceRegistered:
		return "DeviceRegistered"
	case DeviceFaulted:
		return "DeviceFaulted"
	case ConnectionAllowed:
		return "ConnectionAllowed"
	case ConnectionDenied:
		return "ConnectionDenied"
	case GridTrip:
		return "GridTrip"
	case OverspeedTrip:
		return "OverspeedTrip"
	case ReactorScram:
		return "ReactorScram"
	case ContainmentBreach:
		return "ContainmentBreach"
	default:
		return "Unknown"
	}
}

// MarshalJSON renders an EventType by name, so the admin API's /events
// feed reads as "OverspeedTrip" rather than a bare integer.
func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Event is a single observable kernel event, timestamped in sim time.
type Event struct {
	Type     EventType
	Device   string
	Peer     string
	Protocol string
	Port     int
	Reason   string
	Time     float64
}
