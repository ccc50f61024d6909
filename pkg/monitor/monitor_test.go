package monitor

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"github.com/duckfullstop/hrmble/pkg/gattdecode"
	"github.com/duckfullstop/hrmble/pkg/hrm"
)

var strap = hrm.Peripheral{Address: "aa", Name: "Polar H10", State: hrm.StateConnected}

func update(t *testing.T, session uuid.UUID, char bluetooth.UUID, payload string) hrm.Event {
	t.Helper()
	b, err := hex.DecodeString(payload)
	require.NoError(t, err)
	return hrm.Event{
		Kind:           hrm.CharacteristicUpdated,
		Time:           time.Now(),
		Peripheral:     strap,
		Session:        session,
		Service:        gattdecode.HeartRateServiceUUID,
		Characteristic: char,
		Payload:        b,
	}
}

func connected(session uuid.UUID) hrm.Event {
	return hrm.Event{Kind: hrm.Connected, Time: time.Now(), Peripheral: strap, Session: session}
}

func newTestMonitor() (*Monitor, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return New(logger), hook
}

func TestMonitorDecodesUpdates(t *testing.T) {
	m, _ := newTestMonitor()
	session := uuid.New()

	var seen []Reading
	m.OnReading(func(r Reading) { seen = append(seen, r) })

	m.Handle(hrm.Event{Kind: hrm.DeviceDiscovered, Peripheral: strap, Peripherals: []hrm.Peripheral{strap}})
	m.Handle(connected(session))
	m.Handle(update(t, session, gattdecode.BodySensorLocationUUID, "05"))
	m.Handle(update(t, session, gattdecode.HeartRateMeasurementUUID, "004b"))
	m.Handle(update(t, session, gattdecode.HeartRateMeasurementUUID, "01012c"))

	r := m.Reading()
	assert.True(t, r.Connected)
	assert.Equal(t, "aa", r.Peripheral)
	assert.Equal(t, session, r.Session)
	assert.True(t, r.HasHeartRate)
	assert.Equal(t, gattdecode.HeartRate(300), r.HeartRate)
	assert.True(t, r.HasBodySensorLocation)
	assert.Equal(t, gattdecode.LocationEarLobe, r.BodySensorLocation)

	require.Len(t, seen, 3)
	assert.Equal(t, gattdecode.HeartRate(75), seen[1].HeartRate)

	assert.Equal(t, []string{
		"BodySensorLocation: Ear Lobe",
		"BPM: 75",
		"BPM: 300",
	}, m.InfoLog())
	assert.Len(t, m.Peripherals(), 1)
}

func TestMonitorIgnoresMalformedPayload(t *testing.T) {
	m, hook := newTestMonitor()
	session := uuid.New()
	m.Handle(connected(session))
	m.Handle(update(t, session, gattdecode.HeartRateMeasurementUUID, "004b"))
	m.Handle(update(t, session, gattdecode.HeartRateMeasurementUUID, "01"))
	m.Handle(update(t, session, gattdecode.BodySensorLocationUUID, ""))

	r := m.Reading()
	assert.Equal(t, gattdecode.HeartRate(75), r.HeartRate)
	assert.False(t, r.HasBodySensorLocation)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestMonitorLogsUnhandledCharacteristic(t *testing.T) {
	m, _ := newTestMonitor()
	session := uuid.New()
	m.Handle(connected(session))
	m.Handle(update(t, session, bluetooth.New16BitUUID(0x2a39), "01"))

	log := m.InfoLog()
	require.Len(t, log, 1)
	assert.Contains(t, log[0], "Unhandled Characteristic UUID: ")
	assert.Contains(t, log[0], "serviceUUID: ")
	assert.False(t, m.Reading().HasHeartRate)
}

func TestMonitorIgnoresStaleSession(t *testing.T) {
	m, _ := newTestMonitor()
	old, current := uuid.New(), uuid.New()

	m.Handle(connected(old))
	m.Handle(update(t, old, gattdecode.HeartRateMeasurementUUID, "0050"))
	m.Handle(connected(current))
	m.Handle(update(t, old, gattdecode.HeartRateMeasurementUUID, "0060"))

	r := m.Reading()
	assert.Equal(t, current, r.Session)
	assert.False(t, r.HasHeartRate)

	m.Handle(hrm.Event{Kind: hrm.Disconnected, Peripheral: strap, Session: old})
	assert.True(t, m.Reading().Connected)

	m.Handle(hrm.Event{Kind: hrm.Disconnected, Peripheral: strap, Session: current})
	assert.False(t, m.Reading().Connected)

	// nothing is decoded once disconnected
	m.Handle(update(t, current, gattdecode.HeartRateMeasurementUUID, "0060"))
	assert.False(t, m.Reading().HasHeartRate)
}

func TestMonitorInfoLogIsBounded(t *testing.T) {
	m, _ := newTestMonitor()
	m.maxLines = 3
	session := uuid.New()
	m.Handle(connected(session))
	for _, p := range []string{"0001", "0002", "0003", "0004", "0005"} {
		m.Handle(update(t, session, gattdecode.HeartRateMeasurementUUID, p))
	}
	assert.Equal(t, []string{"BPM: 3", "BPM: 4", "BPM: 5"}, m.InfoLog())
}

func TestMonitorConsume(t *testing.T) {
	m, _ := newTestMonitor()
	session := uuid.New()
	events := make(chan hrm.Event, 4)
	events <- hrm.Event{Kind: hrm.StateChanged, State: hrm.RadioPoweredOn}
	events <- connected(session)
	events <- update(t, session, gattdecode.HeartRateMeasurementUUID, "0048")
	close(events)

	m.Consume(context.Background(), events)

	assert.Equal(t, hrm.RadioPoweredOn, m.RadioState())
	assert.Equal(t, gattdecode.HeartRate(72), m.Reading().HeartRate)
}

func TestMonitorConsumeStopsOnCancel(t *testing.T) {
	m, _ := newTestMonitor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		m.Consume(ctx, make(chan hrm.Event))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return")
	}
}
