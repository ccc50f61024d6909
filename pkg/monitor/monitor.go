// Package monitor is the consumer end of a central's event channel. It decodes
// characteristic updates and keeps what a display needs: the latest reading,
// the peripheral list and a running text log.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/duckfullstop/hrmble/pkg/gattdecode"
	"github.com/duckfullstop/hrmble/pkg/hrm"
)

const defaultLogLines = 200

// Reading is the most recent decoded state of the connected sensor.
type Reading struct {
	Peripheral            string                        `json:"peripheral"`
	Session               uuid.UUID                     `json:"session"`
	Connected             bool                          `json:"connected"`
	HeartRate             gattdecode.HeartRate          `json:"heart_rate"`
	HasHeartRate          bool                          `json:"has_heart_rate"`
	BodySensorLocation    gattdecode.BodySensorLocation `json:"body_sensor_location"`
	HasBodySensorLocation bool                          `json:"has_body_sensor_location"`
	Updated               time.Time                     `json:"updated"`
}

type Monitor struct {
	log      logrus.FieldLogger
	maxLines int

	mtx         sync.RWMutex
	reading     Reading
	peripherals []hrm.Peripheral
	radio       hrm.RadioState
	info        []string
	observers   []func(Reading)
}

func New(log logrus.FieldLogger) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{
		log:      log,
		maxLines: defaultLogLines,
	}
}

// OnReading registers fn to be called after every decoded value. fn runs on
// the consuming goroutine.
func (m *Monitor) OnReading(fn func(Reading)) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.observers = append(m.observers, fn)
}

// Consume handles events until the channel is closed or ctx is done.
func (m *Monitor) Consume(ctx context.Context, events <-chan hrm.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Handle(ev)
		}
	}
}

func (m *Monitor) Handle(ev hrm.Event) {
	switch ev.Kind {
	case hrm.StateChanged:
		m.mtx.Lock()
		m.radio = ev.State
		m.mtx.Unlock()
		if ev.Err != nil {
			m.log.WithError(ev.Err).Errorf("😭 Bluetooth is %s", ev.State)
		}
	case hrm.DeviceDiscovered:
		m.mtx.Lock()
		m.peripherals = ev.Peripherals
		m.mtx.Unlock()
	case hrm.Connected:
		m.mtx.Lock()
		m.setPeripheralLocked(ev.Peripheral)
		// values from a previous sensor don't carry over
		m.reading = Reading{
			Peripheral: ev.Peripheral.Address,
			Session:    ev.Session,
			Connected:  true,
			Updated:    ev.Time,
		}
		m.info = nil
		m.mtx.Unlock()
	case hrm.ServiceDiscovered:
		m.appendInfo(fmt.Sprintf("Service: %s (%d characteristics)", ev.Service, len(ev.Characteristics)))
	case hrm.CharacteristicUpdated:
		m.handleUpdate(ev)
	case hrm.Disconnected:
		m.mtx.Lock()
		m.setPeripheralLocked(ev.Peripheral)
		if m.reading.Session == ev.Session {
			m.reading.Connected = false
		}
		m.mtx.Unlock()
	}
}

func (m *Monitor) setPeripheralLocked(p hrm.Peripheral) {
	for i := range m.peripherals {
		if m.peripherals[i].Address == p.Address {
			m.peripherals[i] = p
			return
		}
	}
}

func (m *Monitor) handleUpdate(ev hrm.Event) {
	m.mtx.RLock()
	current := m.reading.Session == ev.Session && m.reading.Connected
	m.mtx.RUnlock()
	if !current {
		m.log.WithField("session", ev.Session).Debug("ignoring update from stale session")
		return
	}

	value, err := gattdecode.Decode(ev.Characteristic, ev.Payload)
	switch {
	case errors.Is(err, gattdecode.ErrUnhandledCharacteristic):
		m.appendInfo(fmt.Sprintf("Unhandled Characteristic UUID: %s serviceUUID: %s", ev.Characteristic, ev.Service))
		return
	case err != nil:
		m.log.WithError(err).WithField("payload", fmt.Sprintf("%x", ev.Payload)).Warn("⚠️ Ignoring malformed payload")
		return
	}

	m.mtx.Lock()
	switch v := value.(type) {
	case gattdecode.HeartRate:
		m.reading.HeartRate = v
		m.reading.HasHeartRate = true
	case gattdecode.BodySensorLocation:
		m.reading.BodySensorLocation = v
		m.reading.HasBodySensorLocation = true
	}
	m.reading.Updated = ev.Time
	reading := m.reading
	observers := m.observers
	m.mtx.Unlock()

	switch v := value.(type) {
	case gattdecode.HeartRate:
		m.log.WithField("session", ev.Session).Infof("❤️ BPM: %d", v)
		m.appendInfo(fmt.Sprintf("BPM: %d", v))
	case gattdecode.BodySensorLocation:
		m.log.WithField("session", ev.Session).Infof("📍 BodySensorLocation: %s", v)
		m.appendInfo(fmt.Sprintf("BodySensorLocation: %s", v))
	}

	for _, fn := range observers {
		fn(reading)
	}
}

func (m *Monitor) appendInfo(line string) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.info = append(m.info, line)
	if len(m.info) > m.maxLines {
		m.info = m.info[len(m.info)-m.maxLines:]
	}
}

func (m *Monitor) Reading() Reading {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.reading
}

func (m *Monitor) Peripherals() []hrm.Peripheral {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	out := make([]hrm.Peripheral, len(m.peripherals))
	copy(out, m.peripherals)
	return out
}

func (m *Monitor) RadioState() hrm.RadioState {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.radio
}

// InfoLog is the text log of the current connection, oldest line first.
func (m *Monitor) InfoLog() []string {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	out := make([]string, len(m.info))
	copy(out, m.info)
	return out
}
