package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"tinygo.org/x/bluetooth"

	"github.com/duckfullstop/hrmble/pkg/hrm"
)

type Config struct {
	Scan    ScanConfig    `yaml:"scan"`
	Connect ConnectConfig `yaml:"connect"`
	Events  EventsConfig  `yaml:"events"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

type ScanConfig struct {
	// Service UUIDs, 16 bit ("180d") or full 128 bit.
	Services []string      `yaml:"services"`
	Duration time.Duration `yaml:"duration"`
}

type ConnectConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Services: []string{"180d"},
			Duration: 10 * time.Second,
		},
		Connect: ConnectConfig{Timeout: hrm.DefaultConnectTimeout},
		Events:  EventsConfig{Buffer: hrm.DefaultEventBuffer},
		HTTP:    HTTPConfig{Listen: ":5003"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults. An empty path just returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "can't read config")
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "can't parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.ServiceUUIDs(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if c.Connect.Timeout <= 0 {
		return errors.New("connect.timeout must be positive")
	}
	return nil
}

func (c *Config) ServiceUUIDs() ([]bluetooth.UUID, error) {
	out := make([]bluetooth.UUID, 0, len(c.Scan.Services))
	for _, s := range c.Scan.Services {
		u, err := ParseUUID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// ParseUUID accepts the short 16 bit form as well as anything
// bluetooth.ParseUUID does.
func ParseUUID(s string) (bluetooth.UUID, error) {
	if len(s) == 4 {
		short, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, errors.Errorf("invalid UUID %q", s)
		}
		return bluetooth.New16BitUUID(uint16(short)), nil
	}
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		return bluetooth.UUID{}, errors.Wrapf(err, "invalid UUID %q", s)
	}
	return u, nil
}

// CentralOptions maps the config onto hrm.Options.
func (c *Config) CentralOptions(log logrus.FieldLogger) (hrm.Options, error) {
	services, err := c.ServiceUUIDs()
	if err != nil {
		return hrm.Options{}, err
	}
	return hrm.Options{
		Services:       services,
		ConnectTimeout: c.Connect.Timeout,
		EventBuffer:    c.Events.Buffer,
		Logger:         log,
	}, nil
}
