package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/duckfullstop/hrmble/pkg/config"
	"github.com/duckfullstop/hrmble/pkg/hrm"
)

var (
	log = logrus.New()
	cfg = config.Default()
)

func setup(c *cli.Context) error {
	var err error
	cfg, err = config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return errors.Wrap(err, "bad log level")
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

func newCentral() (*hrm.Central, error) {
	opts, err := cfg.CentralOptions(log)
	if err != nil {
		return nil, err
	}
	return hrm.NewCentral(hrm.NewTinygoRadio(nil), opts), nil
}

// signalContext is cancelled on SIGINT/SIGTERM, and after d if d > 0.
func signalContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if d <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, func() {
		cancel()
		stop()
	}
}

func main() {
	log.Print("❤️ hrmble - heart rate monitor over Bluetooth LE")

	app := cli.NewApp()
	app.Name = "hrmble"
	app.Usage = "scan for, connect to and read BLE heart rate monitors"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "YAML config file"},
		cli.StringFlag{Name: "log-level, l", Usage: "override the configured log level"},
	}
	app.Before = setup
	app.Commands = []cli.Command{
		{
			Name:   "scan",
			Usage:  "list heart rate monitors in range",
			Action: cmdScan,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Usage: "how long to scan (default from config)"},
			},
		},
		{
			Name:   "target",
			Usage:  "connect to a monitor by name or address and log its readings",
			Action: cmdTarget,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "target, t", Usage: "local name or address of the monitor"},
				cli.DurationFlag{Name: "duration, d", Usage: "stop after this long (0 runs until interrupted)"},
			},
		},
		{
			Name:   "serve",
			Usage:  "scan and serve the peripheral list and readings over HTTP",
			Action: cmdServe,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "listen", Usage: "listen address (default from config)"},
			},
		},
		{
			Name:      "decode",
			Usage:     "decode a hex characteristic payload",
			ArgsUsage: "<hex payload>",
			Action:    cmdDecode,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "characteristic, char", Value: "2a37", Usage: "characteristic UUID"},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("😭 %s", err)
	}
}
