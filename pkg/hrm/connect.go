package hrm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"
)

// Connect connects to a listed peripheral, discovers its services and starts
// reporting characteristic values. Only one peripheral is connected at a time,
// so any existing connection is dropped first. While another Connect is still
// in progress it fails with ErrBusy.
func (c *Central) Connect(ctx context.Context, address string) error {
	c.mtx.Lock()
	i := c.peripherals.indexOf(address)
	if i < 0 {
		c.mtx.Unlock()
		return errors.Wrap(ErrNoSuchPeripheral, address)
	}
	if s := c.peripherals[i].State; s == StateConnecting || s == StateConnected {
		c.mtx.Unlock()
		return nil
	}
	if c.dialing {
		c.mtx.Unlock()
		return errors.Wrap(ErrBusy, address)
	}
	c.dialing = true
	prev := c.conn
	c.mtx.Unlock()

	if prev != nil {
		if err := c.Disconnect(prev.address); err != nil {
			c.log.WithError(err).Warnf("⚠️ Failed to disconnect from %s", prev.address)
		}
	}

	p := c.setState(address, StateConnecting)
	c.stopScan()

	c.log.Infof("🔌 Connecting to %s (%s)", p.Name, address)
	link, err := c.dial(ctx, address)
	if err != nil {
		c.mtx.Lock()
		c.dialing = false
		c.setStateLocked(address, StateDisconnected)
		c.mtx.Unlock()
		c.wake()
		return errors.Wrapf(err, "can't connect to %s", address)
	}

	conn := &connection{
		address: address,
		session: uuid.New(),
		link:    link,
	}
	c.mtx.Lock()
	c.conn = conn
	c.dialing = false
	p = c.setStateLocked(address, StateConnected)
	c.mtx.Unlock()

	c.log.WithField("session", conn.session).Infof("✅ Connected to %s", p.Name)
	c.emit(Event{Kind: Connected, Peripheral: p, Session: conn.session})

	if err := c.discover(conn, p); err != nil {
		if derr := c.Disconnect(address); derr != nil {
			c.log.WithError(derr).Warn("⚠️ Failed to disconnect after discovery error")
		}
		return err
	}
	return nil
}

type dialResult struct {
	link Link
	err  error
}

func (c *Central) dial(ctx context.Context, address string) (Link, error) {
	ch := make(chan dialResult, 1)
	go func() {
		link, err := c.radio.Connect(address)
		ch <- dialResult{link, err}
	}()

	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()

	var err error
	select {
	case r := <-ch:
		return r.link, r.err
	case <-timer.C:
		err = ErrConnectTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	// the connect may still succeed after we've given up on it
	go func() {
		if r := <-ch; r.err == nil && r.link != nil {
			r.link.Disconnect()
		}
	}()
	return nil, err
}

func (c *Central) discover(conn *connection, p Peripheral) error {
	srvcs, err := conn.link.DiscoverServices(c.opts.Services)
	if err != nil {
		return errors.Wrap(err, "can't discover services")
	}
	if len(srvcs) == 0 {
		return ErrNoService
	}

	for _, srvc := range srvcs {
		chars, err := srvc.DiscoverCharacteristics(nil)
		if err != nil {
			return errors.Wrapf(err, "can't discover characteristics of service %s", srvc.UUID())
		}

		ids := make([]bluetooth.UUID, len(chars))
		for i, char := range chars {
			ids[i] = char.UUID()
		}
		c.log.Debugf("found service %s with %d characteristics", srvc.UUID(), len(chars))
		c.emit(Event{
			Kind:            ServiceDiscovered,
			Peripheral:      p,
			Session:         conn.session,
			Service:         srvc.UUID(),
			Characteristics: ids,
		})

		for _, char := range chars {
			c.attach(conn, p, srvc.UUID(), char)
		}
	}
	return nil
}

// attach subscribes to the characteristics we expect notifications from and
// reads the rest once. Failures only get logged, a sensor missing one value
// is still worth watching.
func (c *Central) attach(conn *connection, p Peripheral, service bluetooth.UUID, char Characteristic) {
	id := char.UUID()
	log := c.log.WithField("characteristic", id.String())

	update := func(buf []byte) {
		payload := make([]byte, len(buf))
		copy(payload, buf)
		c.emit(Event{
			Kind:           CharacteristicUpdated,
			Peripheral:     p,
			Session:        conn.session,
			Service:        service,
			Characteristic: id,
			Payload:        payload,
		})
	}

	if c.notifies(id) {
		if err := char.EnableNotifications(update); err != nil {
			log.WithError(err).Warn("⚠️ Can't enable notifications")
			return
		}
		log.Debug("notifications enabled")
		return
	}

	value, err := char.Read()
	if err != nil {
		log.WithError(err).Warn("⚠️ Can't read characteristic")
		return
	}
	update(value)
}

func (c *Central) notifies(id bluetooth.UUID) bool {
	for _, n := range c.opts.Notify {
		if n == id {
			return true
		}
	}
	return false
}

// Disconnect drops the connection to the peripheral at address.
func (c *Central) Disconnect(address string) error {
	c.mtx.Lock()
	conn := c.conn
	if conn == nil || conn.address != address {
		c.mtx.Unlock()
		return errors.Wrap(ErrNotConnected, address)
	}
	c.conn = nil
	c.setStateLocked(address, StateDisconnecting)
	c.mtx.Unlock()

	err := conn.link.Disconnect()

	c.mtx.Lock()
	p := c.setStateLocked(address, StateDisconnected)
	c.mtx.Unlock()

	c.log.WithField("session", conn.session).Infof("👋 Disconnected from %s", p.Name)
	c.emit(Event{Kind: Disconnected, Peripheral: p, Session: conn.session, Err: err})
	c.wake()
	return errors.Wrap(err, "can't disconnect")
}
