package hrm

import "tinygo.org/x/bluetooth"

// Radio is the bit of a BLE stack the central drives. TinygoRadio is the real
// one; tests bring their own.
type Radio interface {
	Enable() error
	// Scan blocks, calling found for every advertisement carrying one of the
	// services (or every advertisement if services is empty), until StopScan.
	Scan(services []bluetooth.UUID, found func(Advertisement)) error
	StopScan() error
	Connect(address string) (Link, error)
}

type Advertisement struct {
	Address string
	Name    string
	RSSI    int16
}

// Link is a connection to a single peripheral.
type Link interface {
	DiscoverServices(uuids []bluetooth.UUID) ([]Service, error)
	Disconnect() error
}

type Service interface {
	UUID() bluetooth.UUID
	// DiscoverCharacteristics with a nil filter returns all of them.
	DiscoverCharacteristics(uuids []bluetooth.UUID) ([]Characteristic, error)
}

type Characteristic interface {
	UUID() bluetooth.UUID
	Read() ([]byte, error)
	EnableNotifications(callback func(buf []byte)) error
}
