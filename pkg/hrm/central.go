// Package hrm is the central side of a BLE heart rate monitor: it scans for
// sensors, keeps the list of what it found, connects to one at a time and
// reports everything that happens as Events on a single channel.
package hrm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/duckfullstop/hrmble/pkg/gattdecode"
)

var (
	ErrNoSuchPeripheral = errors.New("no such peripheral")
	ErrNotConnected     = errors.New("peripheral is not connected")
	ErrConnectTimeout   = errors.New("timed out connecting to peripheral")
	ErrNoService        = errors.New("peripheral has none of the requested services")
	ErrBusy             = errors.New("another connect is in progress")
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultEventBuffer    = 64

	// how often a running scan is checked for whether it should have stopped
	scanPollInterval = 50 * time.Millisecond
)

type Options struct {
	// Services to scan for and discover on connect. Defaults to the heart
	// rate service.
	Services []bluetooth.UUID
	// Notify lists the characteristics to subscribe to instead of reading.
	// Defaults to the heart rate measurement.
	Notify         []bluetooth.UUID
	ConnectTimeout time.Duration
	EventBuffer    int
	Logger         logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if len(o.Services) == 0 {
		o.Services = []bluetooth.UUID{gattdecode.HeartRateServiceUUID}
	}
	if len(o.Notify) == 0 {
		o.Notify = []bluetooth.UUID{gattdecode.HeartRateMeasurementUUID}
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

type connection struct {
	address string
	session uuid.UUID
	link    Link
}

type Central struct {
	radio Radio
	opts  Options
	log   logrus.FieldLogger

	mtx         sync.Mutex
	peripherals peripheralList
	conn        *connection
	// set while a connect is dialing
	dialing  bool
	scanning bool

	// poked whenever we drop back to having no connection, so Run can
	// resume scanning
	idle chan struct{}

	evMtx    sync.Mutex
	events   chan Event
	evClosed bool
}

func NewCentral(radio Radio, opts Options) *Central {
	opts = opts.withDefaults()
	return &Central{
		radio:  radio,
		opts:   opts,
		log:    opts.Logger,
		idle:   make(chan struct{}, 1),
		events: make(chan Event, opts.EventBuffer),
	}
}

// Events is the central's only output. There must be exactly one consumer.
// The channel is closed when Run returns.
func (c *Central) Events() <-chan Event {
	return c.events
}

// Run enables the radio and scans until ctx is done. Scanning pauses while a
// peripheral is connected.
func (c *Central) Run(ctx context.Context) error {
	defer c.closeEvents()
	defer c.Close()

	if err := c.radio.Enable(); err != nil {
		c.emit(Event{Kind: StateChanged, State: RadioUnavailable, Err: err})
		return errors.Wrap(err, "can't enable bluetooth")
	}
	c.log.Info("📡 Bluetooth is powered on")
	c.emit(Event{Kind: StateChanged, State: RadioPoweredOn})

	for {
		if !c.isBusy() {
			if err := c.scan(ctx); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.idle:
		}
	}
}

// scan returns once the scan is stopped, either by ctx or by a connect.
// StopScan fails if it lands before the radio has actually started scanning,
// so it is retried until Scan returns.
func (c *Central) scan(ctx context.Context) error {
	c.mtx.Lock()
	if c.conn != nil || c.dialing {
		c.mtx.Unlock()
		return nil
	}
	c.scanning = true
	c.mtx.Unlock()

	c.log.Info("🕵️ Scanning for heart rate monitors...")
	done := make(chan error, 1)
	go func() {
		done <- c.radio.Scan(c.opts.Services, c.handleAdvertisement)
	}()

	ticker := time.NewTicker(scanPollInterval)
	defer ticker.Stop()

	stopping := false
	ctxDone := ctx.Done()
	for {
		select {
		case err := <-done:
			c.mtx.Lock()
			c.scanning = false
			c.mtx.Unlock()
			if stopping || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "scan failed")
		case <-ctxDone:
			ctxDone = nil
			stopping = true
			c.stopScan()
		case <-ticker.C:
			if stopping || c.isBusy() {
				c.stopScan()
			}
		}
	}
}

func (c *Central) stopScan() {
	c.mtx.Lock()
	scanning := c.scanning
	c.mtx.Unlock()
	if !scanning {
		return
	}
	if err := c.radio.StopScan(); err != nil {
		c.log.WithError(err).Debug("stopping scan")
	}
}

func (c *Central) handleAdvertisement(adv Advertisement) {
	c.mtx.Lock()
	known := c.peripherals.indexOf(adv.Address) >= 0
	i := c.peripherals.update(adv, time.Now())
	if i < 0 {
		c.mtx.Unlock()
		return
	}
	p := c.peripherals[i]
	snapshot := c.peripherals.snapshot()
	c.mtx.Unlock()

	if !known {
		c.log.Infof("👀 Found %s (%s)", p.Name, p.Address)
	}
	c.emit(Event{Kind: DeviceDiscovered, Peripheral: p, Peripherals: snapshot})
}

// Peripherals returns a copy of the peripheral list in discovery order.
func (c *Central) Peripherals() []Peripheral {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.peripherals.snapshot()
}

// Find returns the first listed peripheral matching the name or address.
func (c *Central) Find(nameOrAddress string) (Peripheral, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, p := range c.peripherals {
		if p.Address == nameOrAddress || p.Name == nameOrAddress {
			return p, true
		}
	}
	return Peripheral{}, false
}

// Toggle connects a disconnected peripheral and disconnects a connected one.
// Peripherals in the middle of either are left alone.
func (c *Central) Toggle(ctx context.Context, index int) error {
	c.mtx.Lock()
	if index < 0 || index >= len(c.peripherals) {
		c.mtx.Unlock()
		return errors.Wrapf(ErrNoSuchPeripheral, "index %d", index)
	}
	p := c.peripherals[index]
	c.mtx.Unlock()

	switch p.State {
	case StateDisconnected:
		return c.Connect(ctx, p.Address)
	case StateConnected:
		return c.Disconnect(p.Address)
	}
	return nil
}

func (c *Central) isBusy() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.conn != nil || c.dialing
}

// Close drops the connection, if any, and stops scanning.
func (c *Central) Close() {
	c.mtx.Lock()
	conn := c.conn
	c.mtx.Unlock()
	if conn != nil {
		if err := c.Disconnect(conn.address); err != nil {
			c.log.WithError(err).Warn("⚠️ Failed to disconnect cleanly")
		}
	}
	c.stopScan()
}

func (c *Central) setState(address string, state ConnectionState) Peripheral {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.setStateLocked(address, state)
}

func (c *Central) setStateLocked(address string, state ConnectionState) Peripheral {
	i := c.peripherals.indexOf(address)
	if i < 0 {
		return Peripheral{Address: address, State: state}
	}
	c.peripherals[i].State = state
	return c.peripherals[i]
}

func (c *Central) wake() {
	select {
	case c.idle <- struct{}{}:
	default:
	}
}

// emit is called from radio callbacks and never blocks. If the buffer is
// full the event is dropped.
func (c *Central) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	c.evMtx.Lock()
	defer c.evMtx.Unlock()
	if c.evClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.WithField("event", ev.Kind).Warn("⚠️ Event buffer full, dropping event")
	}
}

func (c *Central) closeEvents() {
	c.evMtx.Lock()
	defer c.evMtx.Unlock()
	if !c.evClosed {
		c.evClosed = true
		close(c.events)
	}
}
