// Package config handles loading and validation of application configuration
// from environment variables and potentially configuration files.
package config

import (
	"fmt"

	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Environment represents the application's running environment (development or production).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Event service backends.
const (
	EventBackendMemory = "memory"
	EventBackendRedis  = "redis"
)

// Location provider kinds.
const (
	ProviderSimulated = "simulated"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Environment    Environment `mapstructure:"ENVIRONMENT" yaml:"environment"`
	Port           string      `mapstructure:"PORT" yaml:"port"`
	AllowedOrigins []string    `mapstructure:"ALLOWED_ORIGINS" yaml:"allowed_origins"`
	Version        string      `mapstructure:"VERSION" yaml:"version"`
}

// RedisConfig holds Redis connection details.
type RedisConfig struct {
	Address      string `mapstructure:"ADDRESS" yaml:"address"`
	Password     string `mapstructure:"PASSWORD" yaml:"password"`
	DB           int    `mapstructure:"DB" yaml:"db"`
	UseTLS       bool   `mapstructure:"USE_TLS" yaml:"use_tls"`
	PoolSize     int    `mapstructure:"POOL_SIZE" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"MIN_IDLE_CONNS" yaml:"min_idle_conns"`
}

// EventServiceConfig holds configuration for the event broadcast service.
type EventServiceConfig struct {
	// Backend selects the broadcast implementation: "memory" for a single
	// instance, "redis" for multi-instance deployments.
	Backend string `mapstructure:"BACKEND" yaml:"backend"`
	// Timeout for publishing a single event (in seconds)
	PublishTimeoutSeconds int `mapstructure:"PUBLISH_TIMEOUT_SECONDS" yaml:"publish_timeout_seconds"`
	// Timeout for establishing a subscription (in seconds)
	SubscribeTimeoutSeconds int `mapstructure:"SUBSCRIBE_TIMEOUT_SECONDS" yaml:"subscribe_timeout_seconds"`
	// Buffer size for the channel delivering events to a single subscriber
	EventBufferSize int `mapstructure:"EVENT_BUFFER_SIZE" yaml:"event_buffer_size"`
}

// LocationConfig holds configuration for the location adapter and provider.
type LocationConfig struct {
	// Provider selects the location provider implementation.
	Provider string `mapstructure:"PROVIDER" yaml:"provider"`
	// BatchPolicy selects which samples of a provider batch are forwarded:
	// "first" (default), "last", or "all".
	BatchPolicy string `mapstructure:"BATCH_POLICY" yaml:"batch_policy"`
	// FixTTLSeconds is how long the last published fix is retained in the store.
	FixTTLSeconds int `mapstructure:"FIX_TTL_SECONDS" yaml:"fix_ttl_seconds"`
	// Simulator parameters (used when Provider is "simulated").
	SimOriginLat          float64 `mapstructure:"SIM_ORIGIN_LAT" yaml:"sim_origin_lat"`
	SimOriginLon          float64 `mapstructure:"SIM_ORIGIN_LON" yaml:"sim_origin_lon"`
	SimIntervalMillis     int     `mapstructure:"SIM_INTERVAL_MILLIS" yaml:"sim_interval_millis"`
	SimBatchSize          int     `mapstructure:"SIM_BATCH_SIZE" yaml:"sim_batch_size"`
	SimGrantDelayMillis   int     `mapstructure:"SIM_GRANT_DELAY_MILLIS" yaml:"sim_grant_delay_millis"`
	SimAuthorizationGrant string  `mapstructure:"SIM_AUTHORIZATION_GRANT" yaml:"sim_authorization_grant"`
}

// Config aggregates all application configuration sections.
type Config struct {
	Server       ServerConfig       `mapstructure:"SERVER" yaml:"server"`
	Redis        RedisConfig        `mapstructure:"REDIS" yaml:"redis"`
	EventService EventServiceConfig `mapstructure:"EVENT_SERVICE" yaml:"event_service"`
	Location     LocationConfig     `mapstructure:"LOCATION" yaml:"location"`
}

// IsDevelopment returns true if the application is running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if the application is running in production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// Redacted returns a YAML rendering of the configuration with secrets masked,
// suitable for startup logging.
func (c *Config) Redacted() (string, error) {
	redacted := *c
	if redacted.Redis.Password != "" {
		redacted.Redis.Password = logger.MaskSensitiveString(redacted.Redis.Password, 2, 2)
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(out), nil
}

// bindEnvVars binds multiple environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b[0], err)
		}
	}
	return nil
}

// LoadConfig loads configuration from environment variables using Viper,
// sets default values, binds environment variables to config struct fields,
// unmarshals the configuration, and validates it.
func LoadConfig() (*Config, error) {
	v := viper.New()
	log := logger.GetLogger()

	v.SetDefault("SERVER.ENVIRONMENT", EnvDevelopment)
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("SERVER.VERSION", "dev")
	v.SetDefault("REDIS.ADDRESS", "localhost:6379")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.MIN_IDLE_CONNS", 2)
	v.SetDefault("EVENT_SERVICE.BACKEND", EventBackendMemory)
	v.SetDefault("EVENT_SERVICE.PUBLISH_TIMEOUT_SECONDS", 5)
	v.SetDefault("EVENT_SERVICE.SUBSCRIBE_TIMEOUT_SECONDS", 10)
	v.SetDefault("EVENT_SERVICE.EVENT_BUFFER_SIZE", 100)
	v.SetDefault("LOCATION.PROVIDER", ProviderSimulated)
	v.SetDefault("LOCATION.BATCH_POLICY", string(types.BatchPolicyFirst))
	v.SetDefault("LOCATION.FIX_TTL_SECONDS", 3600)
	v.SetDefault("LOCATION.SIM_ORIGIN_LAT", 52.3676)
	v.SetDefault("LOCATION.SIM_ORIGIN_LON", 4.9041)
	v.SetDefault("LOCATION.SIM_INTERVAL_MILLIS", 1000)
	v.SetDefault("LOCATION.SIM_BATCH_SIZE", 3)
	v.SetDefault("LOCATION.SIM_GRANT_DELAY_MILLIS", 250)
	v.SetDefault("LOCATION.SIM_AUTHORIZATION_GRANT", string(types.PermissionAuthorizedWhenInUse))

	bindings := [][2]string{
		{"SERVER.ENVIRONMENT", "ENVIRONMENT"},
		{"SERVER.PORT", "PORT"},
		{"SERVER.ALLOWED_ORIGINS", "ALLOWED_ORIGINS"},
		{"SERVER.VERSION", "VERSION"},
		{"REDIS.ADDRESS", "REDIS_ADDRESS"},
		{"REDIS.PASSWORD", "REDIS_PASSWORD"},
		{"REDIS.DB", "REDIS_DB"},
		{"REDIS.USE_TLS", "REDIS_USE_TLS"},
		{"EVENT_SERVICE.BACKEND", "EVENT_BACKEND"},
		{"EVENT_SERVICE.PUBLISH_TIMEOUT_SECONDS", "EVENT_PUBLISH_TIMEOUT_SECONDS"},
		{"EVENT_SERVICE.SUBSCRIBE_TIMEOUT_SECONDS", "EVENT_SUBSCRIBE_TIMEOUT_SECONDS"},
		{"EVENT_SERVICE.EVENT_BUFFER_SIZE", "EVENT_BUFFER_SIZE"},
		{"LOCATION.PROVIDER", "LOCATION_PROVIDER"},
		{"LOCATION.BATCH_POLICY", "LOCATION_BATCH_POLICY"},
		{"LOCATION.FIX_TTL_SECONDS", "LOCATION_FIX_TTL_SECONDS"},
		{"LOCATION.SIM_ORIGIN_LAT", "SIM_ORIGIN_LAT"},
		{"LOCATION.SIM_ORIGIN_LON", "SIM_ORIGIN_LON"},
		{"LOCATION.SIM_INTERVAL_MILLIS", "SIM_INTERVAL_MILLIS"},
		{"LOCATION.SIM_BATCH_SIZE", "SIM_BATCH_SIZE"},
		{"LOCATION.SIM_GRANT_DELAY_MILLIS", "SIM_GRANT_DELAY_MILLIS"},
		{"LOCATION.SIM_AUTHORIZATION_GRANT", "SIM_AUTHORIZATION_GRANT"},
	}
	if err := bindEnvVars(v, bindings); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Infow("Configuration loaded",
		"environment", cfg.Server.Environment,
		"eventBackend", cfg.EventService.Backend,
		"provider", cfg.Location.Provider,
		"redisAddress", logger.MaskConnectionString(cfg.Redis.Address),
	)

	return &cfg, nil
}

// Validate checks the configuration for inconsistent or out-of-range values.
func (c *Config) Validate() error {
	switch c.Server.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("invalid environment: %q", c.Server.Environment)
	}

	switch c.EventService.Backend {
	case EventBackendMemory, EventBackendRedis:
	default:
		return fmt.Errorf("invalid event backend: %q", c.EventService.Backend)
	}

	if c.EventService.Backend == EventBackendRedis && c.Redis.Address == "" {
		return fmt.Errorf("redis backend selected but no redis address configured")
	}

	if _, err := types.ParseBatchPolicy(c.Location.BatchPolicy); err != nil {
		return err
	}

	if c.Location.Provider != ProviderSimulated {
		return fmt.Errorf("unknown location provider: %q", c.Location.Provider)
	}

	if c.Location.SimOriginLat < -90 || c.Location.SimOriginLat > 90 {
		return fmt.Errorf("simulator origin latitude %f outside valid range [-90, 90]", c.Location.SimOriginLat)
	}
	if c.Location.SimOriginLon < -180 || c.Location.SimOriginLon > 180 {
		return fmt.Errorf("simulator origin longitude %f outside valid range [-180, 180]", c.Location.SimOriginLon)
	}

	if c.EventService.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive")
	}

	return nil
}
