// Package config loads the daemon configuration from a YAML file.
package config

import (
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientId"`
	// WSBroker is the websocket URL shown on the status page; "=broker"
	// derives it from Broker, "off" disables it.
	WSBroker string `yaml:"wsBroker"`
	// TopicPrefix is prepended to every upload topic.
	TopicPrefix string `yaml:"topicPrefix"`
	// Buffer is the number of messages kept while disconnected.
	Buffer int `yaml:"buffer"`
}

// AMQPConfig configures the optional mirror sink. An empty URL disables it.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// GPIOConfig configures the binary inputs.
type GPIOConfig struct {
	Chip     string        `yaml:"chip"`
	Pins     []int         `yaml:"pins"`
	Debounce time.Duration `yaml:"debounce"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// AnalogConfig configures a group of continuous measurements.
type AnalogConfig struct {
	Names              []string      `yaml:"names"`
	Topics             []string      `yaml:"topics"`
	ReadInterval       time.Duration `yaml:"readInterval"`
	SendInterval       time.Duration `yaml:"sendInterval"`
	InvalidateInterval time.Duration `yaml:"invalidateInterval"`
	LowerLimit         float64       `yaml:"lowerLimit"`
	UpperLimit         float64       `yaml:"upperLimit"`
}

// GasConfig configures the gas meter counter group.
type GasConfig struct {
	Topic              string        `yaml:"topic"`
	ReadInterval       time.Duration `yaml:"readInterval"`
	SendInterval       time.Duration `yaml:"sendInterval"`
	InvalidateInterval time.Duration `yaml:"invalidateInterval"`
	LowerLimit         float64       `yaml:"lowerLimit"`
	UpperLimit         float64       `yaml:"upperLimit"`
	// BaseOffset holds the meter digits left of the ones the camera reads.
	BaseOffset   float64 `yaml:"baseOffset"`
	DisplayWidth int     `yaml:"displayWidth"`
	// StateFile keeps the day base across restarts. Empty disables it.
	StateFile string `yaml:"stateFile"`
}

// OnOffConfig names the binary channels, one per GPIO pin.
type OnOffConfig struct {
	Names []string `yaml:"names"`
}

// UploadConfig configures row keys and duplicate suppression.
type UploadConfig struct {
	AnalogPrefix   string  `yaml:"analogPrefix"`
	OnOffPrefix    string  `yaml:"onOffPrefix"`
	FilterCapacity uint    `yaml:"filterCapacity"`
	FalsePositive  float64 `yaml:"falsePositive"`
	// ResetUsage is the filter fill ratio, in percent, at which it is cleared.
	ResetUsage float64 `yaml:"resetUsage"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the complete daemon configuration.
type Config struct {
	MQTT      MQTTConfig    `yaml:"mqtt"`
	AMQP      AMQPConfig    `yaml:"amqp,omitempty"`
	GPIO      GPIOConfig    `yaml:"gpio"`
	HTTP      HTTPConfig    `yaml:"http"`
	Timezone  string        `yaml:"timezone"`
	Poll      time.Duration `yaml:"poll"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Boiler    AnalogConfig  `yaml:"boiler"`
	Gas       GasConfig     `yaml:"gas"`
	OnOff     OnOffConfig   `yaml:"onoff"`
	Upload    UploadConfig  `yaml:"upload"`
	Log       LogConfig     `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:      "tcp://192.168.1.200:1883",
			ClientID:    "boiler-telemetry",
			WSBroker:    "=broker",
			TopicPrefix: "energy/boiler/telemetry",
			Buffer:      1000,
		},
		AMQP: AMQPConfig{
			Exchange: "boiler.telemetry",
		},
		GPIO: GPIOConfig{
			Chip:     "gpiochip0",
			Pins:     []int{26, 24},
			Debounce: 250 * time.Millisecond,
		},
		HTTP:      HTTPConfig{Addr: ":80"},
		Timezone:  "Europe/Berlin",
		Poll:      100 * time.Millisecond,
		Heartbeat: 15 * time.Minute,
		Boiler: AnalogConfig{
			Names: []string{"outside", "supply", "cylinder", "modulation"},
			Topics: []string{
				"heating/viessmann/outside",
				"heating/viessmann/supply",
				"heating/viessmann/cylinder",
				"heating/viessmann/modulation",
			},
			ReadInterval:       77 * time.Second,
			SendInterval:       5 * time.Minute,
			InvalidateInterval: 10 * time.Minute,
			LowerLimit:         -40,
			UpperLimit:         140,
		},
		Gas: GasConfig{
			Topic:              "gasmeter/main/value",
			ReadInterval:       60 * time.Second,
			SendInterval:       2 * time.Minute,
			InvalidateInterval: 10 * time.Minute,
			LowerLimit:         -0.1,
			UpperLimit:         999,
			BaseOffset:         2000,
			DisplayWidth:       4,
			StateFile:          "/var/lib/boiler-telemetry/gas-day.yaml",
		},
		OnOff: OnOffConfig{
			Names: []string{"burner", "pump"},
		},
		Upload: UploadConfig{
			AnalogPrefix:   "Y2_",
			OnOffPrefix:    "Y3_",
			FilterCapacity: 100000,
			FalsePositive:  0.01,
			ResetUsage:     75,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads filename over the defaults.
func Load(filename string) (*Config, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	c := Default()
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, errors.Wrap(err, "parsing yaml")
	}
	return c, nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %q", c.Timezone)
	}
	return loc, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required")
	}
	if c.Poll <= 0 {
		return errors.New("poll must be positive")
	}
	if len(c.GPIO.Pins) == 0 {
		return errors.New("gpio.pins must list at least one pin")
	}
	if len(c.OnOff.Names) != len(c.GPIO.Pins) {
		return errors.Errorf("onoff.names has %d entries, gpio.pins has %d", len(c.OnOff.Names), len(c.GPIO.Pins))
	}
	if len(c.Boiler.Topics) != len(c.Boiler.Names) {
		return errors.Errorf("boiler.topics has %d entries, boiler.names has %d", len(c.Boiler.Topics), len(c.Boiler.Names))
	}
	if err := c.Boiler.validate("boiler"); err != nil {
		return err
	}
	if c.Gas.Topic != "" {
		if c.Gas.SendInterval <= 0 || c.Gas.InvalidateInterval <= 0 {
			return errors.New("gas: send and invalidate intervals must be positive")
		}
		if c.Gas.LowerLimit >= c.Gas.UpperLimit {
			return errors.New("gas: lowerLimit must be below upperLimit")
		}
	}
	if c.Upload.FilterCapacity == 0 {
		return errors.New("upload.filterCapacity must be positive")
	}
	if c.Upload.FalsePositive <= 0 || c.Upload.FalsePositive >= 1 {
		return errors.New("upload.falsePositive must be between 0 and 1")
	}
	if c.Upload.ResetUsage <= 0 || c.Upload.ResetUsage > 100 {
		return errors.New("upload.resetUsage must be a percentage")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func (a AnalogConfig) validate(name string) error {
	if len(a.Names) == 0 {
		return nil
	}
	if a.SendInterval <= 0 || a.InvalidateInterval <= 0 {
		return errors.Errorf("%s: send and invalidate intervals must be positive", name)
	}
	if a.LowerLimit >= a.UpperLimit {
		return errors.Errorf("%s: lowerLimit must be below upperLimit", name)
	}
	return nil
}
