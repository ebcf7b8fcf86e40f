// Package config loads scanner and receiver settings from an optional file
// and GSCAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mastercactapus/gscan/actuator"
	"github.com/mastercactapus/gscan/scan"
)

// EnvPrefix is prepended to environment overrides, e.g. GSCAN_SENSOR_DEVICE.
const EnvPrefix = "GSCAN"

type Sensor struct {
	Device        string        `mapstructure:"device"`
	Baud          int           `mapstructure:"baud"`
	Driver        string        `mapstructure:"driver"`
	Retries       int           `mapstructure:"retries"`
	Simulate      bool          `mapstructure:"simulate"`
	SimInterval   time.Duration `mapstructure:"sim_interval"`
	MinStrength   int           `mapstructure:"min_strength"`
	DistanceScale float64       `mapstructure:"distance_scale"`
}

type Limits struct {
	MinH float64 `mapstructure:"min_h"`
	MaxH float64 `mapstructure:"max_h"`
	MinV float64 `mapstructure:"min_v"`
	MaxV float64 `mapstructure:"max_v"`
}

type Actuator struct {
	// Driver is "grbl" or "sim".
	Driver         string  `mapstructure:"driver"`
	Device         string  `mapstructure:"device"`
	Baud           int     `mapstructure:"baud"`
	SerialDriver   string  `mapstructure:"serial_driver"`
	SPJSURL        string  `mapstructure:"spjs_url"`
	HAxis          string  `mapstructure:"h_axis"`
	VAxis          string  `mapstructure:"v_axis"`
	UnitsPerDegree float64 `mapstructure:"units_per_degree"`
	Limits         Limits  `mapstructure:"limits"`
}

type Scan struct {
	HStart       float64       `mapstructure:"h_start"`
	HStop        float64       `mapstructure:"h_stop"`
	VStart       float64       `mapstructure:"v_start"`
	VStop        float64       `mapstructure:"v_stop"`
	HStep        float64       `mapstructure:"h_step"`
	VStep        float64       `mapstructure:"v_step"`
	StepTime     time.Duration `mapstructure:"step_time"`
	SlowStepTime time.Duration `mapstructure:"slow_step_time"`
	SettleTime   time.Duration `mapstructure:"settle_time"`
	Order        string        `mapstructure:"order"`
	Backlog      int           `mapstructure:"backlog"`
}

type Stream struct {
	Addr         string        `mapstructure:"addr"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendInvalid  bool          `mapstructure:"send_invalid"`
}

type Server struct {
	Listen        string        `mapstructure:"listen"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	HTTPAddr      string        `mapstructure:"http_addr"`
}

type API struct {
	Addr          string        `mapstructure:"addr"`
	StateInterval time.Duration `mapstructure:"state_interval"`
}

type Feed struct {
	Addr     string        `mapstructure:"addr"`
	Interval time.Duration `mapstructure:"interval"`
	Count    int           `mapstructure:"count"`
}

// Config is the full set of settings shared by the binaries.
type Config struct {
	Sensor   Sensor   `mapstructure:"sensor"`
	Actuator Actuator `mapstructure:"actuator"`
	Scan     Scan     `mapstructure:"scan"`
	Stream   Stream   `mapstructure:"stream"`
	Server   Server   `mapstructure:"server"`
	API      API      `mapstructure:"api"`
	Feed     Feed     `mapstructure:"feed"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sensor.device", "/dev/serial0")
	v.SetDefault("sensor.baud", 115200)
	v.SetDefault("sensor.driver", "bugst")
	v.SetDefault("sensor.retries", 5)
	v.SetDefault("sensor.simulate", false)
	v.SetDefault("sensor.sim_interval", 10*time.Millisecond)
	v.SetDefault("sensor.min_strength", 0)
	v.SetDefault("sensor.distance_scale", 0.01)

	v.SetDefault("actuator.driver", "grbl")
	v.SetDefault("actuator.device", "/dev/ttyUSB0")
	v.SetDefault("actuator.baud", 115200)
	v.SetDefault("actuator.serial_driver", "tarm")
	v.SetDefault("actuator.spjs_url", "ws://localhost:8989/ws")
	v.SetDefault("actuator.h_axis", "X")
	v.SetDefault("actuator.v_axis", "Y")
	v.SetDefault("actuator.units_per_degree", 1.0)
	v.SetDefault("actuator.limits.min_h", actuator.DefaultLimits.MinH)
	v.SetDefault("actuator.limits.max_h", actuator.DefaultLimits.MaxH)
	v.SetDefault("actuator.limits.min_v", actuator.DefaultLimits.MinV)
	v.SetDefault("actuator.limits.max_v", actuator.DefaultLimits.MaxV)

	v.SetDefault("scan.h_start", -90.0)
	v.SetDefault("scan.h_stop", 90.0)
	v.SetDefault("scan.v_start", 0.0)
	v.SetDefault("scan.v_stop", 90.0)
	v.SetDefault("scan.h_step", 1.0)
	v.SetDefault("scan.v_step", 1.0)
	v.SetDefault("scan.step_time", 20*time.Millisecond)
	v.SetDefault("scan.slow_step_time", 100*time.Millisecond)
	v.SetDefault("scan.settle_time", scan.DefaultSettleTime)
	v.SetDefault("scan.order", "horizontal")
	v.SetDefault("scan.backlog", 64)

	v.SetDefault("stream.addr", "localhost:4206")
	v.SetDefault("stream.dial_timeout", 5*time.Second)
	v.SetDefault("stream.write_timeout", 5*time.Second)
	v.SetDefault("stream.send_invalid", false)

	v.SetDefault("server.listen", ":4206")
	v.SetDefault("server.read_timeout", time.Duration(0))
	v.SetDefault("server.queue_capacity", 1<<16)
	v.SetDefault("server.http_addr", ":9092")

	v.SetDefault("api.addr", ":9091")
	v.SetDefault("api.state_interval", 500*time.Millisecond)

	v.SetDefault("feed.addr", "localhost:4206")
	v.SetDefault("feed.interval", 100*time.Millisecond)
	v.SetDefault("feed.count", 0)
}

// Load reads path, if not empty, over the defaults and applies environment
// overrides. The format follows the file extension (yaml, toml, json).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Sensor.Baud <= 0 {
		errs = append(errs, errors.New("sensor.baud must be positive"))
	}
	if c.Sensor.DistanceScale <= 0 {
		errs = append(errs, errors.New("sensor.distance_scale must be positive"))
	}
	switch c.Actuator.Driver {
	case "grbl", "sim":
	default:
		errs = append(errs, fmt.Errorf("actuator.driver: unknown driver %q", c.Actuator.Driver))
	}
	if len(c.Actuator.HAxis) != 1 || len(c.Actuator.VAxis) != 1 {
		errs = append(errs, errors.New("actuator.h_axis and actuator.v_axis must be single letters"))
	}
	if c.Actuator.UnitsPerDegree == 0 {
		errs = append(errs, errors.New("actuator.units_per_degree must not be zero"))
	}
	l := c.Limits()
	if l.MinH > l.MaxH || l.MinV > l.MaxV {
		errs = append(errs, errors.New("actuator.limits: min is past max"))
	}
	if c.Feed.Interval <= 0 || c.API.StateInterval <= 0 {
		errs = append(errs, errors.New("feed.interval and api.state_interval must be positive"))
	}
	if _, err := scan.ParseSweepOrder(c.Scan.Order); err != nil {
		errs = append(errs, err)
	}
	if err := c.Pattern().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Limits returns the configured actuator limits.
func (c *Config) Limits() actuator.Limits {
	l := c.Actuator.Limits
	return actuator.Limits{MinH: l.MinH, MaxH: l.MaxH, MinV: l.MinV, MaxV: l.MaxV}
}

// Pattern returns the configured default scan pattern.
func (c *Config) Pattern() scan.Pattern {
	s := c.Scan
	return scan.Pattern{
		Horizontal:   scan.Range{Start: s.HStart, Stop: s.HStop},
		Vertical:     scan.Range{Start: s.VStart, Stop: s.VStop},
		HStep:        s.HStep,
		VStep:        s.VStep,
		StepTime:     s.StepTime,
		SlowStepTime: s.SlowStepTime,
		SettleTime:   s.SettleTime,
	}
}

// Order returns the configured sweep order.
func (c *Config) Order() scan.SweepOrder {
	o, _ := scan.ParseSweepOrder(c.Scan.Order)
	return o
}
