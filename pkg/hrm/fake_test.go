package hrm

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"tinygo.org/x/bluetooth"

	"github.com/duckfullstop/hrmble/pkg/gattdecode"
)

type fakeRadio struct {
	mtx        sync.Mutex
	enableErr  error
	ads        []Advertisement
	links      map[string]*fakeLink
	connectErr error
	// when set, Connect waits for it to be closed
	connectGate chan struct{}
	// how long Scan takes before the radio is really scanning
	scanDelay time.Duration
	stop      chan struct{}
	scans     int
	stops     int
}

func (r *fakeRadio) Enable() error { return r.enableErr }

func (r *fakeRadio) Scan(services []bluetooth.UUID, found func(Advertisement)) error {
	time.Sleep(r.scanDelay)
	r.mtx.Lock()
	r.scans++
	stop := make(chan struct{})
	r.stop = stop
	ads := r.ads
	r.mtx.Unlock()

	for _, a := range ads {
		found(a)
	}
	<-stop
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.stops++
	if r.stop == nil {
		return errors.New("not scanning")
	}
	close(r.stop)
	r.stop = nil
	return nil
}

func (r *fakeRadio) isScanning() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.stop != nil
}

func (r *fakeRadio) Connect(address string) (Link, error) {
	if r.connectGate != nil {
		<-r.connectGate
	}
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	link, ok := r.links[address]
	if !ok {
		return nil, errors.New("unknown address")
	}
	return link, nil
}

type fakeLink struct {
	mtx          sync.Mutex
	services     []*fakeService
	disconnected int
}

func (l *fakeLink) DiscoverServices(uuids []bluetooth.UUID) ([]Service, error) {
	var out []Service
	for _, s := range l.services {
		for _, u := range uuids {
			if s.uuid == u {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (l *fakeLink) Disconnect() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.disconnected++
	return nil
}

func (l *fakeLink) disconnects() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.disconnected
}

type fakeService struct {
	uuid  bluetooth.UUID
	chars []*fakeChar
}

func (s *fakeService) UUID() bluetooth.UUID { return s.uuid }

func (s *fakeService) DiscoverCharacteristics(uuids []bluetooth.UUID) ([]Characteristic, error) {
	out := make([]Characteristic, len(s.chars))
	for i, c := range s.chars {
		out[i] = c
	}
	return out, nil
}

type fakeChar struct {
	mtx     sync.Mutex
	uuid    bluetooth.UUID
	value   []byte
	readErr error
	notify  func([]byte)
}

func (c *fakeChar) UUID() bluetooth.UUID { return c.uuid }

func (c *fakeChar) Read() ([]byte, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	return c.value, nil
}

func (c *fakeChar) EnableNotifications(callback func(buf []byte)) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.notify = callback
	return nil
}

func (c *fakeChar) send(t *testing.T, buf []byte) {
	t.Helper()
	c.mtx.Lock()
	notify := c.notify
	c.mtx.Unlock()
	if notify == nil {
		t.Fatal("notifications not enabled")
	}
	notify(buf)
}

// heartRateLink is a chest strap with a measurement, a body sensor location
// and a control point that can't be read.
func heartRateLink() (*fakeLink, *fakeChar) {
	measurement := &fakeChar{uuid: gattdecode.HeartRateMeasurementUUID}
	link := &fakeLink{services: []*fakeService{{
		uuid: gattdecode.HeartRateServiceUUID,
		chars: []*fakeChar{
			measurement,
			{uuid: gattdecode.BodySensorLocationUUID, value: []byte{0x01}},
			{uuid: bluetooth.New16BitUUID(0x2a39), readErr: errors.New("not permitted")},
		},
	}}}
	return link, measurement
}

func newTestCentral(radio Radio, opts Options) (*Central, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts.Logger = logger
	return NewCentral(radio, opts), hook
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}
