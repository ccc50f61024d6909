package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/duckfullstop/hrmble/pkg/api"
	"github.com/duckfullstop/hrmble/pkg/config"
	"github.com/duckfullstop/hrmble/pkg/gattdecode"
	"github.com/duckfullstop/hrmble/pkg/hrm"
	"github.com/duckfullstop/hrmble/pkg/monitor"
)

func cmdScan(c *cli.Context) error {
	duration := c.Duration("duration")
	if duration <= 0 {
		duration = cfg.Scan.Duration
	}
	central, err := newCentral()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(duration)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- central.Run(ctx) }()
	for range central.Events() {
		// the central logs what it finds
	}
	if err := <-errc; err != nil {
		return err
	}

	peripherals := central.Peripherals()
	log.Printf("🕵️ Found %d heart rate monitor(s)", len(peripherals))
	for i, p := range peripherals {
		fmt.Printf("%2d  %-20s  %s  %d dBm\n", i, p.Name, p.Address, p.RSSI)
	}
	return nil
}

func cmdTarget(c *cli.Context) error {
	target := c.String("target")
	if target == "" {
		target = c.Args().First()
	}
	if target == "" {
		return errors.New("invalid target")
	}

	central, err := newCentral()
	if err != nil {
		return err
	}
	mon := monitor.New(log)

	ctx, cancel := signalContext(c.Duration("duration"))
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- central.Run(ctx) }()

	log.Printf("🎯 Waiting for %s...", target)
	connecting := false
	for ev := range central.Events() {
		mon.Handle(ev)
		switch ev.Kind {
		case hrm.DeviceDiscovered:
			p := ev.Peripheral
			if connecting || (p.Name != target && p.Address != target) {
				continue
			}
			connecting = true
			go func() {
				if err := central.Connect(ctx, p.Address); err != nil {
					log.Errorf("😭 Failed to connect to %s: %s", target, err)
					cancel()
				}
			}()
		case hrm.Disconnected:
			// the sensor went away, nothing left to watch
			cancel()
		}
	}
	return <-errc
}

func cmdServe(c *cli.Context) error {
	listen := c.String("listen")
	if listen == "" {
		listen = cfg.HTTP.Listen
	}
	central, err := newCentral()
	if err != nil {
		return err
	}
	mon := monitor.New(log)
	srv := api.NewServer(central, mon, log)

	ctx, cancel := signalContext(0)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- central.Run(ctx) }()
	go func() { errc <- srv.ListenAndServe(ctx, listen) }()
	go mon.Consume(ctx, central.Events())

	// whichever stops first takes the other down with it
	err = <-errc
	cancel()
	if err2 := <-errc; err == nil {
		err = err2
	}
	return err
}

func cmdDecode(c *cli.Context) error {
	id, err := config.ParseUUID(c.String("characteristic"))
	if err != nil {
		return err
	}
	payload, err := hex.DecodeString(strings.TrimSpace(c.Args().First()))
	if err != nil {
		return errors.Wrap(err, "payload must be hex")
	}
	value, err := gattdecode.Decode(id, payload)
	if err != nil {
		return err
	}
	switch v := value.(type) {
	case gattdecode.HeartRate:
		fmt.Printf("BPM: %d\n", v)
	case gattdecode.BodySensorLocation:
		fmt.Printf("BodySensorLocation: %s\n", v)
	}
	return nil
}
