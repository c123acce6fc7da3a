// Package config loads the hubwire application configuration. Defaults are
// layered under an optional YAML file, and HUBWIRE_* environment variables
// take highest priority.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/hubwire/hubwire/internal/transport"
	"github.com/hubwire/hubwire/pkg/logging"
)

// Config represents the application configuration
type Config struct {
	Server          ServerConfig          `yaml:"server" envconfig:"SERVER"`
	CORS            CORSConfig            `yaml:"cors" envconfig:"CORS"`
	Logging         logging.Config        `yaml:"logging" envconfig:"LOGGING"`
	JWT             JWTConfig             `yaml:"jwt" envconfig:"JWT"`
	ConnectionStore ConnectionStoreConfig `yaml:"connection_store" envconfig:"CONNECTION_STORE"`
	Transports      TransportsConfig      `yaml:"transports" envconfig:"TRANSPORTS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host" envconfig:"HOST"`
	Port int    `yaml:"port" envconfig:"PORT"`
}

// CORSConfig contains cross-origin resource sharing settings applied to the
// shared router.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"` // seconds
}

// JWTConfig contains bearer token validation configuration
type JWTConfig struct {
	Secret      string `yaml:"secret" envconfig:"SECRET"`
	ExpiryHours int    `yaml:"expiry_hours" envconfig:"EXPIRY_HOURS"`
	Issuer      string `yaml:"issuer" envconfig:"ISSUER"`
}

// ConnectionStoreConfig contains negotiated-connection store configuration
type ConnectionStoreConfig struct {
	// Type is the store type: "memory" or "redis"
	Type string `yaml:"type" envconfig:"TYPE"`
	// TTLSeconds bounds how long a negotiated connection id may remain
	// unclaimed before the execution route rejects it.
	TTLSeconds int `yaml:"ttl_seconds" envconfig:"TTL_SECONDS"`
	// Redis contains Redis-specific configuration
	Redis RedisConfig `yaml:"redis" envconfig:"REDIS"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Address   string `yaml:"address" envconfig:"ADDRESS"`
	Password  string `yaml:"password" envconfig:"PASSWORD"`
	DB        int    `yaml:"db" envconfig:"DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// TransportsConfig contains wire transport configuration
type TransportsConfig struct {
	// Enabled lists the transports the dispatcher may offer. Endpoint
	// options can narrow this set per endpoint, never widen it.
	Enabled []string `yaml:"enabled" envconfig:"ENABLED"`
	// PollTimeoutSeconds is how long a long-polling request is held open.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds" envconfig:"POLL_TIMEOUT_SECONDS"`
	// DisconnectTimeoutSeconds is how long a long-polling connection may sit
	// without an in-flight poll before the server presumes the client gone
	// and tears it down. Zero disables the sweep.
	DisconnectTimeoutSeconds int `yaml:"disconnect_timeout_seconds" envconfig:"DISCONNECT_TIMEOUT_SECONDS"`
	// ReadBufferSize and WriteBufferSize size the websocket upgrader buffers.
	ReadBufferSize  int `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := defaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("HUBWIRE", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Requested-With"},
			AllowCredentials: false,
			MaxAge:           43200,
		},
		Logging: logging.DefaultConfig(),
		JWT: JWTConfig{
			ExpiryHours: 24,
			Issuer:      "hubwire",
		},
		ConnectionStore: ConnectionStoreConfig{
			Type:       "memory",
			TTLSeconds: 120,
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "hubwire:conn:",
			},
		},
		Transports: TransportsConfig{
			Enabled: []string{
				string(transport.KindWebSockets),
				string(transport.KindServerSentEvents),
				string(transport.KindLongPolling),
			},
			PollTimeoutSeconds:       90,
			DisconnectTimeoutSeconds: 30,
			ReadBufferSize:           4096,
			WriteBufferSize:          4096,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	if c.ConnectionStore.Type != "memory" && c.ConnectionStore.Type != "redis" {
		return fmt.Errorf("invalid connection store type: %s (must be memory or redis)", c.ConnectionStore.Type)
	}

	if c.ConnectionStore.Type == "redis" && c.ConnectionStore.Redis.Address == "" {
		return fmt.Errorf("redis address is required when using redis connection store")
	}

	if len(c.Transports.Enabled) == 0 {
		return fmt.Errorf("at least one transport must be enabled")
	}
	for _, name := range c.Transports.Enabled {
		if !transport.Kind(name).Valid() {
			return fmt.Errorf("unknown transport: %s", name)
		}
	}

	return nil
}

// Address returns the server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TTL returns the negotiated-connection time to live
func (c *ConnectionStoreConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// PollTimeout returns how long a long-polling request is held open
func (c *TransportsConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// DisconnectTimeout returns the idle window after which a long-polling
// connection without an in-flight poll is torn down
func (c *TransportsConfig) DisconnectTimeout() time.Duration {
	return time.Duration(c.DisconnectTimeoutSeconds) * time.Second
}

// EnabledKinds returns the enabled transports as typed kinds
func (c *TransportsConfig) EnabledKinds() []transport.Kind {
	kinds := make([]transport.Kind, 0, len(c.Enabled))
	for _, name := range c.Enabled {
		kinds = append(kinds, transport.Kind(name))
	}
	return kinds
}
