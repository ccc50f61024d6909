package hrm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

type EventKind int

const (
	StateChanged EventKind = iota
	DeviceDiscovered
	Connected
	ServiceDiscovered
	CharacteristicUpdated
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case StateChanged:
		return "StateChanged"
	case DeviceDiscovered:
		return "DeviceDiscovered"
	case Connected:
		return "Connected"
	case ServiceDiscovered:
		return "ServiceDiscovered"
	case CharacteristicUpdated:
		return "CharacteristicUpdated"
	case Disconnected:
		return "Disconnected"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

type RadioState int

const (
	RadioUnknown RadioState = iota
	RadioPoweredOn
	RadioUnavailable
)

func (s RadioState) String() string {
	switch s {
	case RadioPoweredOn:
		return "poweredOn"
	case RadioUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Event is everything the central tells its consumer. Which fields are set
// depends on Kind:
//
//	StateChanged          State, Err
//	DeviceDiscovered      Peripheral, Peripherals (snapshot of the whole list)
//	Connected             Peripheral, Session
//	ServiceDiscovered     Peripheral, Session, Service, Characteristics
//	CharacteristicUpdated Peripheral, Session, Service, Characteristic, Payload
//	Disconnected          Peripheral, Session, Err
type Event struct {
	Kind EventKind
	Time time.Time

	State RadioState
	Err   error

	Peripheral  Peripheral
	Peripherals []Peripheral

	Session         uuid.UUID
	Service         bluetooth.UUID
	Characteristics []bluetooth.UUID
	Characteristic  bluetooth.UUID
	Payload         []byte
}
