package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the benchline station.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Station    StationConfig    `yaml:"station"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Serial     SerialConfig     `yaml:"serial"`
	Sequence   SequenceConfig   `yaml:"sequence"`
	Programmer ProgrammerConfig `yaml:"programmer"`
}

// StationConfig identifies this bench station and the panel it runs.
type StationConfig struct {
	// Name identifies the station in logs, telemetry topics, and history records.
	Name string `yaml:"name"`

	// Panel is the path to the panel definition YAML (geometry + scripts).
	Panel string `yaml:"panel"`

	// Simulation replaces the motion/vision/programmer collaborators with
	// logged stand-ins so the full pipeline runs without bench hardware.
	// The target and head serial ports are not opened in this mode.
	Simulation bool `yaml:"simulation"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for telemetry.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`

	// Commands additionally subscribes to the station command topics so a
	// line controller can start, cancel, and retry cycles over MQTT.
	Commands bool `yaml:"commands"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection backoff settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for phase metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SerialConfig groups the station's physical serial links.
type SerialConfig struct {
	// Target is the link to the board under test (provisioning commands).
	Target SerialPortConfig `yaml:"target"`

	// Head is the link to the probe-head controller (contact/power/logic).
	Head SerialPortConfig `yaml:"head"`
}

// SerialPortConfig describes one serial device.
type SerialPortConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// QueueSize bounds the inbound line queue. Lines beyond the bound are
	// dropped and counted rather than blocking the reader.
	QueueSize int `yaml:"queue_size"`
}

// SequenceConfig tunes the cycle orchestrator.
type SequenceConfig struct {
	Phases PhaseToggles `yaml:"phases"`

	// ScanTimeout bounds one vision scan, in seconds.
	ScanTimeout float64 `yaml:"scan_timeout"`

	// CommandTimeout bounds one head-controller command round trip, in seconds.
	CommandTimeout float64 `yaml:"command_timeout"`

	// Workers sizes the pool used for blocking collaborator calls
	// (camera capture, flashing tool subprocesses).
	Workers int `yaml:"workers"`
}

// PhaseToggles individually enables pipeline phases. A disabled phase is
// left Pending and the pipeline continues past it.
type PhaseToggles struct {
	Vision    bool `yaml:"vision"`
	Probe     bool `yaml:"probe"`
	Program   bool `yaml:"program"`
	Provision bool `yaml:"provision"`
	Test      bool `yaml:"test"`
}

// ProgrammerConfig describes the external flashing tool invocation.
type ProgrammerConfig struct {
	// Binary is the path to the flashing tool executable.
	Binary string `yaml:"binary"`

	// Device optionally pins the debug probe (serial number) when several
	// are attached to the bench host.
	Device string `yaml:"device"`

	// Timeout bounds one tool invocation, in seconds.
	Timeout int `yaml:"timeout"`

	// Steps is the ordered programming sequence. Recognised values:
	// recover, erase, program, verify, lock.
	Steps []string `yaml:"steps"`

	// Slots maps firmware slot names to hex image paths, flashed in sorted
	// slot-name order during the program step.
	Slots map[string]string `yaml:"slots"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BENCHLINE_SECTION_KEY
// For example: BENCHLINE_DATABASE_PATH, BENCHLINE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults for a single-bench station.
func defaultConfig() *Config {
	return &Config{
		Station: StationConfig{
			Name:  "bench-01",
			Panel: "configs/panels/example.yaml",
		},
		Database: DatabaseConfig{
			Path:        "./data/benchline.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "benchline-station",
			},
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			QoS:         1,
			TopicPrefix: "benchline",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Serial: SerialConfig{
			Target: SerialPortConfig{
				Device:    "/dev/ttyUSB0",
				Baud:      115200,
				QueueSize: 256,
			},
			Head: SerialPortConfig{
				Device:    "/dev/ttyUSB1",
				Baud:      115200,
				QueueSize: 64,
			},
		},
		Sequence: SequenceConfig{
			Phases: PhaseToggles{
				Vision:    true,
				Probe:     true,
				Program:   true,
				Provision: true,
				Test:      true,
			},
			ScanTimeout:    5.0,
			CommandTimeout: 2.0,
			Workers:        2,
		},
		Programmer: ProgrammerConfig{
			Binary:  "nrfutil",
			Timeout: 120,
			Steps:   []string{"recover", "erase", "program", "verify"},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BENCHLINE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BENCHLINE_STATION_NAME"); v != "" {
		cfg.Station.Name = v
	}
	if v := os.Getenv("BENCHLINE_STATION_PANEL"); v != "" {
		cfg.Station.Panel = v
	}

	if v := os.Getenv("BENCHLINE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("BENCHLINE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BENCHLINE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BENCHLINE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("BENCHLINE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("BENCHLINE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("BENCHLINE_SERIAL_TARGET_DEVICE"); v != "" {
		cfg.Serial.Target.Device = v
	}
	if v := os.Getenv("BENCHLINE_SERIAL_HEAD_DEVICE"); v != "" {
		cfg.Serial.Head.Device = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Station.Name == "" {
		errs = append(errs, "station.name is required")
	}
	if c.Station.Panel == "" {
		errs = append(errs, "station.panel is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
		if c.MQTT.Reconnect.InitialDelay < 1 {
			errs = append(errs, "mqtt.reconnect.initial_delay must be at least 1 second")
		}
		if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
			errs = append(errs, "mqtt.reconnect.max_delay must not be below initial_delay")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Hardware links are mandatory outside simulation: the provisioning
	// engine cannot run without a target session.
	if !c.Station.Simulation {
		if c.Serial.Target.Device == "" {
			errs = append(errs, "serial.target.device is required (or enable station.simulation)")
		}
		if c.Serial.Head.Device == "" && c.Sequence.Phases.Probe {
			errs = append(errs, "serial.head.device is required while the probe phase is enabled")
		}
		if c.Programmer.Binary == "" && c.Sequence.Phases.Program {
			errs = append(errs, "programmer.binary is required while the program phase is enabled")
		}
	}

	if c.Sequence.Workers < 1 {
		errs = append(errs, "sequence.workers must be at least 1")
	}
	if c.Sequence.ScanTimeout <= 0 {
		errs = append(errs, "sequence.scan_timeout must be positive")
	}

	for _, step := range c.Programmer.Steps {
		switch step {
		case "recover", "erase", "program", "verify", "lock":
		default:
			errs = append(errs, fmt.Sprintf("programmer.steps: unknown step %q", step))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetScanTimeout returns the vision scan timeout as a Duration.
func (c *Config) GetScanTimeout() time.Duration {
	return time.Duration(c.Sequence.ScanTimeout * float64(time.Second))
}

// GetCommandTimeout returns the head command timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Sequence.CommandTimeout * float64(time.Second))
}

// GetProgrammerTimeout returns the flashing tool timeout as a Duration.
func (c *Config) GetProgrammerTimeout() time.Duration {
	return time.Duration(c.Programmer.Timeout) * time.Second
}
