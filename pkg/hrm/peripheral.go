package hrm

import "time"

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "disconnected"
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Peripheral is a heart rate sensor we've heard advertising.
type Peripheral struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	RSSI     int16           `json:"rssi"`
	State    ConnectionState `json:"state"`
	LastSeen time.Time       `json:"last_seen"`
}

// peripheralList keeps peripherals in the order they were first seen.
type peripheralList []Peripheral

func (l peripheralList) indexOf(address string) int {
	for i, p := range l {
		if p.Address == address {
			return i
		}
	}
	return -1
}

// update merges an advertisement into the list and returns the index of the
// entry, or -1 if the advertisement was dropped. New peripherals without a
// local name are not listed, there's nothing to show for them.
func (l *peripheralList) update(adv Advertisement, now time.Time) int {
	if i := l.indexOf(adv.Address); i >= 0 {
		p := &(*l)[i]
		if adv.Name != "" {
			p.Name = adv.Name
		}
		p.RSSI = adv.RSSI
		p.LastSeen = now
		return i
	}
	if adv.Name == "" {
		return -1
	}
	*l = append(*l, Peripheral{
		Address:  adv.Address,
		Name:     adv.Name,
		RSSI:     adv.RSSI,
		LastSeen: now,
	})
	return len(*l) - 1
}

func (l peripheralList) snapshot() []Peripheral {
	out := make([]Peripheral, len(l))
	copy(out, l)
	return out
}
