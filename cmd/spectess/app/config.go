package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/spectess/internal/calibration"
	"github.com/roman-kulish/spectess/internal/photometer"
)

const (
	DeviceSerial    DeviceType = "serial"
	DeviceMQTT      DeviceType = "mqtt"
	DeviceSimulated DeviceType = "simulated"

	// DatabaseEnv overrides the configured database path
	DatabaseEnv = "SPECTESS_DATABASE"

	defaultDatabase  = "spectess.db"
	simulatedMAC     = "00:00:5E:00:53:00"
	defaultMQTTTopic = "STARS/+/reading"
)

type DeviceType string

// Config represents the main application configuration
type Config struct {
	Settings    Settings          `yaml:"settings"`
	Storage     StorageConfig     `yaml:"storage"`
	Device      DeviceConfig      `yaml:"device"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Export      ExportConfig      `yaml:"export"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Database string `yaml:"database"`
}

// DeviceConfig selects and configures the photometer transport
type DeviceConfig struct {
	Type        DeviceType      `yaml:"type"`
	InfoTimeout Duration        `yaml:"infoTimeout"`
	Identity    photometer.Info `yaml:"identity"`
	Serial      SerialConfig    `yaml:"serial"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
	Simulated   SimulatedConfig `yaml:"simulated"`
}

type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baudRate"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientID"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

type SimulatedConfig struct {
	Frequency float64  `yaml:"frequency"`
	Jitter    float64  `yaml:"jitter"`
	Interval  Duration `yaml:"interval"`
}

// CalibrationConfig holds the initial operator settings
type CalibrationConfig struct {
	Role    photometer.Role         `yaml:"role"`
	Save    bool                    `yaml:"save"`
	Filters calibration.FilterBands `yaml:"filters"`
}

type ExportConfig struct {
	Directory string `yaml:"directory"`
}

// HTTPConfig enables the metrics and live feed endpoints when Listen is set
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// LoadConfig reads the YAML configuration at path, applies environment
// overrides and defaults, and validates the result
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := Config{
		Calibration: CalibrationConfig{Role: photometer.RoleTest},
	}
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	config.applyDefaults()

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if db := os.Getenv(DatabaseEnv); db != "" {
		c.Storage.Database = db
	}
	if c.Storage.Database == "" {
		c.Storage.Database = defaultDatabase
	}
	if c.Device.InfoTimeout == 0 {
		c.Device.InfoTimeout = Duration(photometer.InfoTimeout)
	}
	if c.Device.Type == DeviceSimulated && c.Device.Identity.MAC == "" {
		c.Device.Identity.MAC = simulatedMAC
	}
	if c.Device.Type == DeviceMQTT {
		if c.Device.MQTT.Topic == "" {
			c.Device.MQTT.Topic = defaultMQTTTopic
		}
		if c.Device.MQTT.ClientID == "" {
			c.Device.MQTT.ClientID = "spectess"
		}
	}
	if len(c.Calibration.Filters) == 0 {
		c.Calibration.Filters = calibration.DefaultFilterBands
	}
	if c.Export.Directory == "" {
		c.Export.Directory = "."
	}
}

func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return err
	}
	if err := c.Calibration.Filters.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *DeviceConfig) Validate() error {
	switch c.Type {
	case DeviceSerial:
		if c.Serial.Port == "" {
			return errors.New("app.DeviceConfig: serial port is required")
		}
		if c.Serial.BaudRate < 0 {
			return fmt.Errorf("app.DeviceConfig: invalid baud rate: %d given", c.Serial.BaudRate)
		}

	case DeviceMQTT:
		if c.MQTT.Broker == "" {
			return errors.New("app.DeviceConfig: MQTT broker is required")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("app.DeviceConfig: MQTT QoS must be 0, 1 or 2: %d given", c.MQTT.QoS)
		}

	case DeviceSimulated:
		if c.Simulated.Jitter < 0 {
			return fmt.Errorf("app.DeviceConfig: simulated jitter must not be negative: %g given", c.Simulated.Jitter)
		}

	case "":
		return errors.New("app.DeviceConfig: device type is required")

	default:
		return fmt.Errorf("app.DeviceConfig: unknown device type '%s'", c.Type)
	}

	if c.Identity.MAC == "" {
		return errors.New("app.DeviceConfig: photometer MAC address is required")
	}
	if c.InfoTimeout < 0 {
		return fmt.Errorf("app.DeviceConfig: info timeout must not be negative: %s", c.InfoTimeout.String())
	}
	return nil
}

// Duration is a time.Duration read from strings such as "10s"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
