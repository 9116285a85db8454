package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables recognised by Load.
const (
	EnvConfigPath   = "PRISM_CONFIG"
	EnvEnvFile      = "PRISM_ENV_FILE"
	EnvHubURL       = "PRISM_HUB_URL"
	EnvHubToken     = "PRISM_HUB_TOKEN"
	EnvMQTTHost     = "PRISM_MQTT_HOST"
	EnvMQTTUsername = "PRISM_MQTT_USERNAME"
	EnvMQTTPassword = "PRISM_MQTT_PASSWORD"
	EnvStatusPort   = "PRISM_STATUS_PORT"
	EnvLogLevel     = "PRISM_LOG_LEVEL"

	defaultEnvFile = ".env"
)

// ButtonTypePrinter marks a panel button bound to a 3D printer. Such
// buttons watch several sub-entities besides their own entity_id.
const ButtonTypePrinter = "3d_printer"

// Config is the root configuration structure for Prism.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Panel    PanelConfig    `yaml:"panel"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Status   StatusConfig   `yaml:"status"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HubConfig identifies the Home Assistant instance. Both values may be
// left empty; the event client then reports missing configuration and
// waits for a reload.
type HubConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// RealtimeConfig tunes the event stream connection.
type RealtimeConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	Backoff          BackoffConfig `yaml:"backoff"`
}

// BackoffConfig controls the delay between reconnect attempts.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Multiplier float64       `yaml:"multiplier"`
	Max        time.Duration `yaml:"max"`

	// SustainedReset is how long a connection must last for the delay to
	// drop back to Initial.
	SustainedReset time.Duration `yaml:"sustained_reset"`

	// AuthFailureDelay is the minimum delay after the hub rejected the
	// token. Zero means Max.
	AuthFailureDelay time.Duration `yaml:"auth_failure_delay"`
}

// PanelConfig lists what the control panel displays. Its entities seed the
// subscription filter.
type PanelConfig struct {
	Entities []string       `yaml:"entities"`
	Buttons  []ButtonConfig `yaml:"buttons"`
}

// ButtonConfig is one panel button.
type ButtonConfig struct {
	Label    string `yaml:"label"`
	Type     string `yaml:"type"`
	EntityID string `yaml:"entity_id"`

	// Printer sub-entities, only read for 3d_printer buttons.
	PrinterStateEntity        string `yaml:"printer_state_entity,omitempty"`
	PrinterCameraEntity       string `yaml:"printer_camera_entity,omitempty"`
	PrinterNozzleEntity       string `yaml:"printer_nozzle_entity,omitempty"`
	PrinterBedEntity          string `yaml:"printer_bed_entity,omitempty"`
	PrinterNozzleTargetEntity string `yaml:"printer_nozzle_target_entity,omitempty"`
	PrinterBedTargetEntity    string `yaml:"printer_bed_target_entity,omitempty"`
}

// Entities returns the entity ids the button needs updates for.
func (b ButtonConfig) Entities() []string {
	if b.Type != ButtonTypePrinter {
		return nonEmpty(b.EntityID)
	}
	return nonEmpty(
		b.PrinterStateEntity,
		b.PrinterCameraEntity,
		b.PrinterNozzleEntity,
		b.PrinterBedEntity,
		b.PrinterNozzleTargetEntity,
		b.PrinterBedTargetEntity,
		b.EntityID,
	)
}

// MQTTConfig contains settings for the optional MQTT relay.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// StatusConfig contains settings for the local status HTTP server.
type StatusConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Host     string              `yaml:"host"`
	Port     int                 `yaml:"port"`
	Timeouts StatusTimeoutConfig `yaml:"timeouts"`

	// WebSocket configures the local event stream at /api/v1/ws.
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig contains settings for local event stream clients.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"` // bytes
	PingInterval   int `yaml:"ping_interval"`    // seconds
	PongTimeout    int `yaml:"pong_timeout"`     // seconds
}

// StatusTimeoutConfig contains HTTP timeout settings, in seconds.
type StatusTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds the configuration.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, if path is non-empty
//  3. PRISM_* variables from the environment, falling back to a dotenv file
//     (PRISM_ENV_FILE, default ".env") for any variable the environment
//     leaves unset
//
// The dotenv file is read on every call and never copied into the process
// environment, so a reload sees edits to both the file and the YAML.
//
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	env, err := loadEnvFile()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// envLookup returns the value of an environment variable, or "".
type envLookup func(key string) string

// loadEnvFile reads the dotenv file and returns a lookup in which the
// process environment wins over the file. A missing default file is fine;
// a missing file named explicitly is not.
func loadEnvFile() (envLookup, error) {
	path := os.Getenv(EnvEnvFile)
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file %s: %w", path, err)
		}
		values = nil
	}

	return func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return values[key]
	}, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			PollInterval:     5 * time.Second,
			ConnectTimeout:   10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			MaxMessageSize:   16 << 20,
			Backoff: BackoffConfig{
				Initial:        1 * time.Second,
				Multiplier:     2,
				Max:            30 * time.Second,
				SustainedReset: 10 * time.Second,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "prism",
			},
			QoS:         1,
			TopicPrefix: "prism",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Status: StatusConfig{
			Host: "127.0.0.1",
			Port: 8099,
			Timeouts: StatusTimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PRISM_SECTION_KEY
func applyEnvOverrides(cfg *Config, getenv envLookup) error {
	// Hub
	if v := getenv(EnvHubURL); v != "" {
		cfg.Hub.URL = v
	}
	if v := getenv(EnvHubToken); v != "" {
		cfg.Hub.Token = v
	}

	// MQTT
	if v := getenv(EnvMQTTHost); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := getenv(EnvMQTTUsername); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := getenv(EnvMQTTPassword); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Status server
	if v := getenv(EnvStatusPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvStatusPort, err)
		}
		cfg.Status.Port = port
	}

	// Logging
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Hub: both values are optional, but a URL that is set must be usable.
	if c.Hub.URL != "" {
		if err := validateHubURL(c.Hub.URL); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Realtime
	rt := c.Realtime
	if rt.PollInterval <= 0 {
		errs = append(errs, "realtime.poll_interval must be positive")
	}
	if rt.ConnectTimeout <= 0 || rt.HandshakeTimeout <= 0 || rt.WriteTimeout <= 0 {
		errs = append(errs, "realtime timeouts must be positive")
	}
	if rt.MaxMessageSize < 0 {
		errs = append(errs, "realtime.max_message_size must not be negative")
	}
	b := rt.Backoff
	if b.Initial <= 0 {
		errs = append(errs, "realtime.backoff.initial must be positive")
	}
	if b.Multiplier < 1 {
		errs = append(errs, "realtime.backoff.multiplier must be at least 1")
	}
	if b.Max < b.Initial {
		errs = append(errs, "realtime.backoff.max must not be below initial")
	}
	if b.SustainedReset < 0 || b.AuthFailureDelay < 0 {
		errs = append(errs, "realtime.backoff durations must not be negative")
	}

	// MQTT relay
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
			errs = append(errs, "mqtt.topic_prefix must be set and must not contain wildcards")
		}
	}

	// Status server
	if c.Status.Enabled {
		if c.Status.Port < 1 || c.Status.Port > 65535 {
			errs = append(errs, "status.port must be between 1 and 65535")
		}
		ws := c.Status.WebSocket
		if ws.MaxMessageSize <= 0 || ws.PingInterval <= 0 || ws.PongTimeout <= 0 {
			errs = append(errs, "status.websocket values must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validateHubURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("hub.url is not a valid URL: %v", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("hub.url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("hub.url must include a host")
	}
	return nil
}

// WatchedEntities returns the entity ids the panel needs live updates for:
// every button's entities followed by panel.entities, de-duplicated, in
// first-seen order.
func (c *Config) WatchedEntities() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(ids ...string) {
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	for _, b := range c.Panel.Buttons {
		add(b.Entities()...)
	}
	add(c.Panel.Entities...)
	return out
}

// GetReadTimeout returns the status server read timeout as a Duration.
func (c StatusConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the status server write timeout as a Duration.
func (c StatusConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the status server idle timeout as a Duration.
func (c StatusConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// TokenExpiry reports the expiry of a hub long-lived access token. Hub
// tokens are JWTs signed by the hub; the signature is not checked here,
// only the exp claim is read. ok is false when the token carries no expiry.
func TokenExpiry(token string) (exp time.Time, ok bool, err error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false, fmt.Errorf("parsing hub token: %w", err)
	}
	date, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading hub token expiry: %w", err)
	}
	if date == nil {
		return time.Time{}, false, nil
	}
	return date.Time, true, nil
}

func nonEmpty(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
