package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// isolateEnv points the dotenv lookup at an empty directory and clears the
// PRISM_* variables for the duration of the test.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, k := range []string{
		EnvEnvFile, EnvHubURL, EnvHubToken, EnvMQTTHost, EnvMQTTUsername,
		EnvMQTTPassword, EnvStatusPort, EnvLogLevel,
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `
hub:
  url: "http://homeassistant.local:8123"
  token: "file-token"
realtime:
  poll_interval: 2s
  backoff:
    initial: 500ms
    max: 1m
panel:
  entities: ["sensor.outdoor_temp"]
  buttons:
    - label: "Kitchen"
      type: "switch"
      entity_id: "light.kitchen"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
status:
  enabled: true
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.URL != "http://homeassistant.local:8123" || cfg.Hub.Token != "file-token" {
		t.Errorf("Hub = %+v", cfg.Hub)
	}
	if cfg.Realtime.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.Realtime.PollInterval)
	}
	if cfg.Realtime.Backoff.Initial != 500*time.Millisecond || cfg.Realtime.Backoff.Max != time.Minute {
		t.Errorf("Backoff = %+v", cfg.Realtime.Backoff)
	}
	// Untouched keys keep their defaults.
	if cfg.Realtime.Backoff.Multiplier != 2 || cfg.Realtime.Backoff.SustainedReset != 10*time.Second {
		t.Errorf("Backoff defaults lost: %+v", cfg.Realtime.Backoff)
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.Status.Port != 9000 {
		t.Errorf("Status.Port = %d, want 9000", cfg.Status.Port)
	}
}

func TestLoad_NoFile(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Hub.URL != "" || cfg.Hub.Token != "" {
		t.Errorf("Hub = %+v, want empty", cfg.Hub)
	}
	if cfg.Realtime.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want default 5s", cfg.Realtime.PollInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	isolateEnv(t)
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	path, err := filepath.Abs(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	isolateEnv(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() example config error = %v", err)
	}
	if !cfg.Status.Enabled || cfg.MQTT.Enabled {
		t.Errorf("status/mqtt enabled = %v/%v, want true/false", cfg.Status.Enabled, cfg.MQTT.Enabled)
	}
	if !slices.Contains(cfg.WatchedEntities(), "sensor.printer_current_state") {
		t.Errorf("WatchedEntities() = %v, want printer entities", cfg.WatchedEntities())
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `
realtime:
  backoff:
    multiplier: 0.5
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "realtime.backoff.multiplier") {
		t.Errorf("Load() error = %v, want multiplier validation error", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, `
hub:
  url: "http://file.local:8123"
  token: "file-token"
`)
	t.Setenv(EnvHubURL, "https://env.local")
	t.Setenv(EnvHubToken, "env-token")
	t.Setenv(EnvMQTTHost, "mqtt.env")
	t.Setenv(EnvStatusPort, "9100")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Hub.URL != "https://env.local" || cfg.Hub.Token != "env-token" {
		t.Errorf("Hub = %+v, want env values", cfg.Hub)
	}
	if cfg.MQTT.Broker.Host != "mqtt.env" {
		t.Errorf("MQTT host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.Status.Port != 9100 {
		t.Errorf("Status.Port = %d, want 9100", cfg.Status.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoad_BadStatusPortEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvStatusPort, "not-a-port")

	if _, err := Load(""); err == nil {
		t.Error("Load() expected error for non-numeric port")
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	isolateEnv(t)
	envPath := filepath.Join(t.TempDir(), "prism.env")
	content := "PRISM_HUB_URL=http://dotenv.local:8123\nPRISM_HUB_TOKEN=dotenv-token\n"
	if err := os.WriteFile(envPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv(EnvEnvFile, envPath)
	// A variable already in the environment wins over the file.
	t.Setenv(EnvHubToken, "real-env-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Hub.URL != "http://dotenv.local:8123" {
		t.Errorf("Hub.URL = %q, want value from env file", cfg.Hub.URL)
	}
	if cfg.Hub.Token != "real-env-token" {
		t.Errorf("Hub.Token = %q, want the pre-existing environment value", cfg.Hub.Token)
	}
	if v, ok := os.LookupEnv(EnvHubURL); ok {
		t.Errorf("env file leaked into the process environment: %s=%q", EnvHubURL, v)
	}
}

// TestLoad_RotatedCredentials loads twice, as a SIGHUP reload does, and
// checks that the second load sees edits to both the env file and YAML.
func TestLoad_RotatedCredentials(t *testing.T) {
	isolateEnv(t)
	writeEnv := func(content string) {
		t.Helper()
		if err := os.WriteFile(".env", []byte(content), 0600); err != nil {
			t.Fatalf("failed to write env file: %v", err)
		}
	}

	writeEnv("PRISM_HUB_TOKEN=old-token\n")
	path := writeConfig(t, "hub:\n  url: \"http://hub.local:8123\"\n  token: \"yaml-token\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("first Load() error = %v", err)
	}
	if cfg.Hub.Token != "old-token" {
		t.Fatalf("first Hub.Token = %q, want old-token from env file", cfg.Hub.Token)
	}

	writeEnv("PRISM_HUB_TOKEN=new-token\n")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if cfg.Hub.Token != "new-token" {
		t.Errorf("rotated env file: Hub.Token = %q, want new-token", cfg.Hub.Token)
	}

	// With the token gone from the env file, the YAML value applies again.
	writeEnv("# no token\n")
	if err := os.WriteFile(path, []byte("hub:\n  url: \"http://hub.local:8123\"\n  token: \"yaml-rotated\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("third Load() error = %v", err)
	}
	if cfg.Hub.Token != "yaml-rotated" {
		t.Errorf("rotated YAML: Hub.Token = %q, want yaml-rotated", cfg.Hub.Token)
	}
}

func TestLoad_MissingExplicitEnvFile(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvEnvFile, filepath.Join(t.TempDir(), "missing.env"))

	if _, err := Load(""); err == nil {
		t.Error("Load() expected error for missing explicit env file")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:   "empty hub is allowed",
			mutate: func(c *Config) { c.Hub = HubConfig{} },
		},
		{
			name:    "hub url without scheme",
			mutate:  func(c *Config) { c.Hub.URL = "homeassistant.local:8123" },
			wantErr: "hub.url",
		},
		{
			name:    "hub url without host",
			mutate:  func(c *Config) { c.Hub.URL = "http://" },
			wantErr: "hub.url must include a host",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Realtime.PollInterval = 0 },
			wantErr: "realtime.poll_interval",
		},
		{
			name:    "max below initial",
			mutate:  func(c *Config) { c.Realtime.Backoff.Max = 100 * time.Millisecond },
			wantErr: "realtime.backoff.max",
		},
		{
			name: "mqtt enabled without host",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.Broker.Host = ""
			},
			wantErr: "mqtt.broker.host",
		},
		{
			name: "mqtt wildcard prefix",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.TopicPrefix = "prism/#"
			},
			wantErr: "mqtt.topic_prefix",
		},
		{
			name: "mqtt disabled ignores bad qos",
			mutate: func(c *Config) {
				c.MQTT.QoS = 7
			},
		},
		{
			name: "status enabled with bad port",
			mutate: func(c *Config) {
				c.Status.Enabled = true
				c.Status.Port = 0
			},
			wantErr: "status.port",
		},
		{
			name: "status websocket zero ping interval",
			mutate: func(c *Config) {
				c.Status.Enabled = true
				c.Status.WebSocket.PingInterval = 0
			},
			wantErr: "status.websocket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_JoinsErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Realtime.PollInterval = 0
	cfg.Realtime.Backoff.Initial = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !strings.HasPrefix(err.Error(), "configuration errors: ") || strings.Count(err.Error(), ";") < 1 {
		t.Errorf("Validate() error = %q, want joined list", err)
	}
}

func TestConfig_WatchedEntities(t *testing.T) {
	cfg := defaultConfig()
	cfg.Panel = PanelConfig{
		Entities: []string{"sensor.outdoor_temp", "light.kitchen"},
		Buttons: []ButtonConfig{
			{Label: "Kitchen", Type: "switch", EntityID: "light.kitchen"},
			{Label: "Empty", Type: "script"},
			{
				Label:                  "Printer",
				Type:                   ButtonTypePrinter,
				EntityID:               "switch.printer_power",
				PrinterStateEntity:     "sensor.printer_state",
				PrinterCameraEntity:    "camera.printer",
				PrinterNozzleEntity:    "sensor.nozzle",
				PrinterBedEntity:       "sensor.bed",
				PrinterBedTargetEntity: "sensor.bed_target",
			},
			{Label: "Not a printer", Type: "switch", EntityID: "fan.office", PrinterCameraEntity: "camera.ignored"},
		},
	}

	want := []string{
		"light.kitchen",
		"sensor.printer_state",
		"camera.printer",
		"sensor.nozzle",
		"sensor.bed",
		"sensor.bed_target",
		"switch.printer_power",
		"fan.office",
		"sensor.outdoor_temp",
	}
	if got := cfg.WatchedEntities(); !slices.Equal(got, want) {
		t.Errorf("WatchedEntities() = %v, want %v", got, want)
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := defaultConfig().Status
	if got := cfg.GetReadTimeout(); got != 10*time.Second {
		t.Errorf("GetReadTimeout() = %v", got)
	}
	if got := cfg.GetWriteTimeout(); got != 10*time.Second {
		t.Errorf("GetWriteTimeout() = %v", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v", got)
	}
}

func TestTokenExpiry(t *testing.T) {
	sign := func(claims jwt.MapClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("hub-secret"))
		if err != nil {
			t.Fatalf("signing token: %v", err)
		}
		return tok
	}
	exp := time.Date(2034, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("with exp", func(t *testing.T) {
		got, ok, err := TokenExpiry(sign(jwt.MapClaims{"iss": "abc", "exp": exp.Unix()}))
		if err != nil || !ok {
			t.Fatalf("TokenExpiry() = %v, %v, %v", got, ok, err)
		}
		if !got.Equal(exp) {
			t.Errorf("TokenExpiry() = %v, want %v", got, exp)
		}
	})

	t.Run("without exp", func(t *testing.T) {
		_, ok, err := TokenExpiry(sign(jwt.MapClaims{"iss": "abc"}))
		if err != nil || ok {
			t.Errorf("TokenExpiry() ok = %v, err = %v, want false, nil", ok, err)
		}
	})

	t.Run("not a jwt", func(t *testing.T) {
		if _, _, err := TokenExpiry("plainly-not-a-token"); err == nil {
			t.Error("TokenExpiry() expected error")
		}
	})
}
