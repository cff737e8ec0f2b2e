package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
station:
  name: "bench-test"
  panel: "panels/test.yaml"
  simulation: true
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
    client_id: "bench-test"
  qos: 1
  topic_prefix: "benchline"
api:
  enabled: true
  host: "0.0.0.0"
  port: 8080
sequence:
  scan_timeout: 2.5
  workers: 3
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Station.Name != "bench-test" {
		t.Errorf("Station.Name = %q, want %q", cfg.Station.Name, "bench-test")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Sequence.Workers != 3 {
		t.Errorf("Sequence.Workers = %d, want 3", cfg.Sequence.Workers)
	}
	// Defaults survive a partial file.
	if cfg.Serial.Target.Baud != 115200 {
		t.Errorf("Serial.Target.Baud = %d, want default 115200", cfg.Serial.Target.Baud)
	}
	if cfg.MQTT.Reconnect.MaxDelay != 60 {
		t.Errorf("MQTT.Reconnect.MaxDelay = %d, want default 60", cfg.MQTT.Reconnect.MaxDelay)
	}
	if !cfg.Sequence.Phases.Provision {
		t.Error("Sequence.Phases.Provision = false, want default true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BENCHLINE_STATION_NAME", "bench-env")
	t.Setenv("BENCHLINE_SERIAL_TARGET_DEVICE", "/dev/ttyACM9")

	content := `
station:
  name: "bench-file"
  panel: "panels/test.yaml"
  simulation: true
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Station.Name != "bench-env" {
		t.Errorf("Station.Name = %q, want env override %q", cfg.Station.Name, "bench-env")
	}
	if cfg.Serial.Target.Device != "/dev/ttyACM9" {
		t.Errorf("Serial.Target.Device = %q, want env override %q", cfg.Serial.Target.Device, "/dev/ttyACM9")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Station.Simulation = true
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid simulation config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing station name",
			mutate:  func(c *Config) { c.Station.Name = "" },
			wantErr: true,
		},
		{
			name:    "missing panel path",
			mutate:  func(c *Config) { c.Station.Panel = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name: "invalid qos with mqtt enabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name: "reconnect max below initial",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.Reconnect.InitialDelay = 30
				c.MQTT.Reconnect.MaxDelay = 5
			},
			wantErr: true,
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name: "hardware mode without target device",
			mutate: func(c *Config) {
				c.Station.Simulation = false
				c.Serial.Target.Device = ""
			},
			wantErr: true,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Sequence.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "unknown programmer step",
			mutate:  func(c *Config) { c.Programmer.Steps = []string{"recover", "detonate"} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := defaultConfig()
	cfg.Sequence.ScanTimeout = 2.5
	cfg.Sequence.CommandTimeout = 0.25

	if got := cfg.GetScanTimeout(); got != 2500*time.Millisecond {
		t.Errorf("GetScanTimeout() = %v, want 2.5s", got)
	}
	if got := cfg.GetCommandTimeout(); got != 250*time.Millisecond {
		t.Errorf("GetCommandTimeout() = %v, want 250ms", got)
	}
	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
}
