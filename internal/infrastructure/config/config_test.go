package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-key-at-least-32-chars!"

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = testSecret
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeFile(t, `
site:
  id: "plant-room"
database:
  driver: badger
  badger:
    path: "/var/lib/resgraph"
    sync_writes: true
graph:
  max_reference_depth: 12
  persist_timeout_ms: 250
schema:
  files: ["schema/hvac.yaml", "schema/lighting.yaml"]
  watch: true
channels:
  enabled: true
  mapping_file: "channels.yaml"
  owner: "knx-gateway"
  priority: high
  patterns: [heating]
security:
  jwt:
    secret: "`+testSecret+`"
  consumers:
    hvac-controller: operator
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "plant-room" {
		t.Errorf("Site.ID = %q, want plant-room", cfg.Site.ID)
	}
	if cfg.Database.Driver != DriverBadger || cfg.Database.Badger.Path != "/var/lib/resgraph" || !cfg.Database.Badger.SyncWrites {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Graph.MaxReferenceDepth != 12 || cfg.GetPersistTimeout() != 250*time.Millisecond {
		t.Errorf("Graph = %+v", cfg.Graph)
	}
	if len(cfg.Schema.Files) != 2 || !cfg.Schema.Watch {
		t.Errorf("Schema = %+v", cfg.Schema)
	}
	if cfg.Channels.Owner != "knx-gateway" || cfg.Channels.Priority != "high" || len(cfg.Channels.Patterns) != 1 {
		t.Errorf("Channels = %+v", cfg.Channels)
	}
	if cfg.Security.Consumers["hvac-controller"] != "operator" {
		t.Errorf("Consumers = %v", cfg.Security.Consumers)
	}
	// Unset sections keep their defaults.
	if cfg.API.Port != 8080 || cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("API.Port/MQTT port = %d/%d, want defaults", cfg.API.Port, cfg.MQTT.Broker.Port)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load(missing) error = nil")
	}
	if _, err := Load(writeFile(t, "invalid: [yaml: content")); err == nil {
		t.Error("Load(invalid yaml) error = nil")
	}

	t.Setenv("GRAYLOGIC_JWT_SECRET", "")
	_, err := Load(writeFile(t, "site:\n  id: \"\"\ngraph:\n  max_reference_depth: 0\n"))
	if err == nil {
		t.Fatal("Load(invalid values) error = nil")
	}
	// Every problem is reported at once.
	for _, want := range []string{"site.id", "max_reference_depth", "jwt.secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing site id", func(c *Config) { c.Site.ID = "" }, true},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, true},
		{"badger driver", func(c *Config) { c.Database.Driver = DriverBadger }, false},
		{"badger in memory", func(c *Config) {
			c.Database.Driver = DriverBadger
			c.Database.Badger.Path = ""
			c.Database.Badger.InMemory = true
		}, false},
		{"badger without path", func(c *Config) {
			c.Database.Driver = DriverBadger
			c.Database.Badger.Path = ""
		}, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, true},
		{"zero reference depth", func(c *Config) { c.Graph.MaxReferenceDepth = 0 }, true},
		{"negative persist timeout", func(c *Config) { c.Graph.PersistTimeout = -1 }, true},
		{"invalid qos", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"channels without mapping", func(c *Config) { c.Channels.Enabled = true }, true},
		{"channels bad priority", func(c *Config) {
			c.Channels.Enabled = true
			c.Channels.MappingFile = "channels.yaml"
			c.Channels.Priority = "urgent"
		}, true},
		{"api port zero", func(c *Config) { c.API.Port = 0 }, true},
		{"api port too high", func(c *Config) { c.API.Port = 70000 }, true},
		{"missing jwt secret", func(c *Config) { c.Security.JWT.Secret = "" }, true},
		{"short jwt secret", func(c *Config) { c.Security.JWT.Secret = "short" }, true},
		{"unknown consumer role", func(c *Config) {
			c.Security.Consumers = map[string]string{"hvac": "superuser"}
		}, true},
		{"known consumer role", func(c *Config) {
			c.Security.Consumers = map[string]string{"hvac": "operator"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		API:   APIConfig{Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60}},
		Graph: GraphConfig{PersistTimeout: 1500},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 45s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.GetPersistTimeout(); got != 1500*time.Millisecond {
		t.Errorf("GetPersistTimeout() = %v, want 1.5s", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" || cfg.Database.Path == "" {
		t.Errorf("defaultConfig site/database = %q/%q, want both set", cfg.Site.ID, cfg.Database.Path)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Graph.MaxReferenceDepth != 32 {
		t.Errorf("Graph.MaxReferenceDepth = %d, want 32", cfg.Graph.MaxReferenceDepth)
	}
	if cfg.Channels.Owner != "channel" || cfg.Channels.Priority != "normal" {
		t.Errorf("Channels writer = %s/%s, want channel/normal", cfg.Channels.Owner, cfg.Channels.Priority)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if cfg.API.Port != 8080 || cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("API.Port/MQTT port = %d/%d, want 8080/1883", cfg.API.Port, cfg.MQTT.Broker.Port)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_DRIVER", "badger")
	t.Setenv("GRAYLOGIC_BADGER_PATH", "/var/lib/resgraph")
	t.Setenv("GRAYLOGIC_GRAPH_MAX_REFERENCE_DEPTH", "8")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "resgraph")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "broker-pass")
	t.Setenv("GRAYLOGIC_API_HOST", "192.168.1.1")
	t.Setenv("GRAYLOGIC_API_PORT", "9090")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Database.Driver != DriverBadger || cfg.Database.Badger.Path != "/var/lib/resgraph" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Graph.MaxReferenceDepth != 8 {
		t.Errorf("Graph.MaxReferenceDepth = %d, want 8", cfg.Graph.MaxReferenceDepth)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" || cfg.MQTT.Auth.Username != "resgraph" || cfg.MQTT.Auth.Password != "broker-pass" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.API.Host != "192.168.1.1" || cfg.API.Port != 9090 {
		t.Errorf("API host/port = %s/%d", cfg.API.Host, cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want secret-token", cfg.InfluxDB.Token)
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want jwt-secret", cfg.Security.JWT.Secret)
	}
}

func TestApplyEnvOverrides_IgnoresBadNumbers(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYLOGIC_GRAPH_MAX_REFERENCE_DEPTH", "deep")

	applyEnvOverrides(cfg)

	if cfg.Graph.MaxReferenceDepth != 32 {
		t.Errorf("Graph.MaxReferenceDepth = %d, want default 32", cfg.Graph.MaxReferenceDepth)
	}
}
