package hrm

import (
	"sync"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"
)

// TinygoRadio drives a tinygo.org/x/bluetooth adapter.
type TinygoRadio struct {
	adapter *bluetooth.Adapter

	mtx  sync.Mutex
	seen map[string]bluetooth.Address
}

func NewTinygoRadio(adapter *bluetooth.Adapter) *TinygoRadio {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	return &TinygoRadio{
		adapter: adapter,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (r *TinygoRadio) Enable() error {
	return r.adapter.Enable()
}

func (r *TinygoRadio) Scan(services []bluetooth.UUID, found func(Advertisement)) error {
	return r.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !advertisesAny(result, services) {
			return
		}
		address := result.Address.String()

		r.mtx.Lock()
		r.seen[address] = result.Address
		r.mtx.Unlock()

		found(Advertisement{
			Address: address,
			Name:    result.LocalName(),
			RSSI:    result.RSSI,
		})
	})
}

func advertisesAny(result bluetooth.ScanResult, services []bluetooth.UUID) bool {
	if len(services) == 0 {
		return true
	}
	for _, s := range services {
		if result.HasServiceUUID(s) {
			return true
		}
	}
	return false
}

func (r *TinygoRadio) StopScan() error {
	return r.adapter.StopScan()
}

// Connect only knows addresses it has seen in a scan, since the address
// format differs per platform (MAC on linux, a UUID on macOS).
func (r *TinygoRadio) Connect(address string) (Link, error) {
	r.mtx.Lock()
	addr, ok := r.seen[address]
	r.mtx.Unlock()
	if !ok {
		return nil, errors.Errorf("peripheral %s has not been seen in a scan", address)
	}

	device, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &tinygoLink{device: device}, nil
}

type tinygoLink struct {
	device bluetooth.Device
}

func (l *tinygoLink) DiscoverServices(uuids []bluetooth.UUID) ([]Service, error) {
	srvcs, err := l.device.DiscoverServices(uuids)
	if err != nil {
		return nil, err
	}
	out := make([]Service, len(srvcs))
	for i := range srvcs {
		out[i] = &tinygoService{service: srvcs[i]}
	}
	return out, nil
}

func (l *tinygoLink) Disconnect() error {
	return l.device.Disconnect()
}

type tinygoService struct {
	service bluetooth.DeviceService
}

func (s *tinygoService) UUID() bluetooth.UUID {
	return s.service.UUID()
}

func (s *tinygoService) DiscoverCharacteristics(uuids []bluetooth.UUID) ([]Characteristic, error) {
	chars, err := s.service.DiscoverCharacteristics(uuids)
	if err != nil {
		return nil, err
	}
	out := make([]Characteristic, len(chars))
	for i := range chars {
		out[i] = &tinygoCharacteristic{char: chars[i]}
	}
	return out, nil
}

// maximum length of an attribute value
const maxAttributeLen = 512

type tinygoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) UUID() bluetooth.UUID {
	return c.char.UUID()
}

func (c *tinygoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, maxAttributeLen)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinygoCharacteristic) EnableNotifications(callback func(buf []byte)) error {
	return c.char.EnableNotifications(callback)
}
