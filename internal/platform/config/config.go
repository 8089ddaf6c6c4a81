// Package config resolves runtime configuration in priority order:
// defaults, then an optional YAML file, then HIRELOOP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hireloop/internal/auth/password"
	"hireloop/internal/events/publisher"
	"hireloop/internal/platform/database"
	"hireloop/internal/platform/kafka"
)

const envPrefix = "HIRELOOP_"

// devSigningKey is only accepted when Environment is "dev".
const devSigningKey = "dev-secret-key-change-in-production-0123"

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	Environment     string        `yaml:"environment"`
	JWTSigningKey   string        `yaml:"jwt_signing_key"`
	JWTIssuer       string        `yaml:"jwt_issuer"`
	JWTAudience     string        `yaml:"jwt_audience"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	RefreshTTL      time.Duration `yaml:"refresh_ttl"`
	AdminToken      string        `yaml:"admin_token"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type PasswordConfig struct {
	// CurrentVersion is "argon2id" or "bcrypt".
	CurrentVersion string                `yaml:"current_version"`
	BcryptCost     int                   `yaml:"bcrypt_cost"`
	Argon2         password.Argon2Params `yaml:"argon2"`
}

// ReplayerConfig tunes the overflow replayer. MaxRejections parks an entry
// after that many broker rejections.
type ReplayerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	Retention     time.Duration `yaml:"retention"`
	MaxRejections int           `yaml:"max_rejections"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Server    Server           `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Kafka     kafka.Config     `yaml:"kafka"`
	Publisher publisher.Config `yaml:"publisher"`
	Database  database.Config  `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Password  PasswordConfig   `yaml:"password"`
	Replayer  ReplayerConfig   `yaml:"replayer"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			Environment:     "dev",
			JWTIssuer:       "hireloop-auth",
			JWTAudience:     "hireloop-api",
			TokenTTL:        15 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Log:       LogConfig{Level: "info", Format: "json"},
		Kafka:     kafka.DefaultConfig(),
		Publisher: publisher.DefaultConfig(),
		Database:  database.DefaultConfig(),
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Password: PasswordConfig{
			CurrentVersion: password.VersionArgon2id.String(),
			BcryptCost:     12,
			Argon2:         password.DefaultArgon2Params(),
		},
		Replayer: ReplayerConfig{
			PollInterval:  5 * time.Second,
			BatchSize:     100,
			Retention:     7 * 24 * time.Hour,
			MaxRejections: 5,
		},
	}
}

// Load resolves configuration. An empty path or a missing file is not an
// error; a file that does not parse is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Addr = envOrDefault("ADDR", s.Addr)
	s.Environment = envOrDefault("ENVIRONMENT", s.Environment)
	s.JWTSigningKey = envOrDefault("JWT_SIGNING_KEY", s.JWTSigningKey)
	s.JWTIssuer = envOrDefault("JWT_ISSUER", s.JWTIssuer)
	s.JWTAudience = envOrDefault("JWT_AUDIENCE", s.JWTAudience)
	s.TokenTTL = envDuration("TOKEN_TTL", s.TokenTTL)
	s.RefreshTTL = envDuration("REFRESH_TTL", s.RefreshTTL)
	s.AdminToken = envOrDefault("ADMIN_TOKEN", s.AdminToken)
	s.RequestTimeout = envDuration("REQUEST_TIMEOUT", s.RequestTimeout)
	s.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	cfg.Log.Level = envOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("LOG_FORMAT", cfg.Log.Format)

	k := &cfg.Kafka
	k.Brokers = envOrDefault("KAFKA_BROKERS", k.Brokers)
	k.Topic = envOrDefault("KAFKA_TOPIC", k.Topic)
	k.TopicMode = envOrDefault("KAFKA_TOPIC_MODE", k.TopicMode)
	k.Acks = envOrDefault("KAFKA_ACKS", k.Acks)
	k.DialTimeout = envDuration("KAFKA_DIAL_TIMEOUT", k.DialTimeout)
	k.AttemptTimeout = envDuration("KAFKA_ATTEMPT_TIMEOUT", k.AttemptTimeout)
	k.Connect.MaxAttempts = envInt("KAFKA_CONNECT_MAX_ATTEMPTS", k.Connect.MaxAttempts)
	k.ConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", k.ConsumerGroup)

	p := &cfg.Publisher
	p.Lanes = envInt("PUBLISHER_LANES", p.Lanes)
	p.LaneBuffer = envInt("PUBLISHER_LANE_BUFFER", p.LaneBuffer)
	p.PublishDeadline = envDuration("PUBLISHER_PUBLISH_DEADLINE", p.PublishDeadline)
	p.Retry.MaxAttempts = envInt("PUBLISHER_RETRY_MAX_ATTEMPTS", p.Retry.MaxAttempts)
	p.OverflowPolicy = envOrDefault("PUBLISHER_OVERFLOW_POLICY", p.OverflowPolicy)
	p.OverflowQueue = envInt("PUBLISHER_OVERFLOW_QUEUE", p.OverflowQueue)
	p.DrainTimeout = envDuration("PUBLISHER_DRAIN_TIMEOUT", p.DrainTimeout)

	cfg.Database.URL = envOrDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Redis.URL = envOrDefault("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.PoolSize = envInt("REDIS_POOL_SIZE", cfg.Redis.PoolSize)

	cfg.Password.CurrentVersion = envOrDefault("PASSWORD_CURRENT_VERSION", cfg.Password.CurrentVersion)
	cfg.Password.BcryptCost = envInt("PASSWORD_BCRYPT_COST", cfg.Password.BcryptCost)

	cfg.Replayer.PollInterval = envDuration("REPLAYER_POLL_INTERVAL", cfg.Replayer.PollInterval)
	cfg.Replayer.BatchSize = envInt("REPLAYER_BATCH_SIZE", cfg.Replayer.BatchSize)
	cfg.Replayer.MaxRejections = envInt("REPLAYER_MAX_REJECTIONS", cfg.Replayer.MaxRejections)
}

func (c *Config) validate() error {
	if c.Server.JWTSigningKey == "" {
		if !c.IsDev() {
			return fmt.Errorf("missing %sJWT_SIGNING_KEY", envPrefix)
		}
		c.Server.JWTSigningKey = devSigningKey
	}
	if len(c.Server.JWTSigningKey) < 32 {
		return fmt.Errorf("jwt signing key must be at least 32 bytes")
	}
	if c.Server.TokenTTL <= 0 || c.Server.RefreshTTL <= 0 {
		return fmt.Errorf("token ttls must be positive")
	}
	switch c.Kafka.TopicMode {
	case kafka.TopicModeSingle, kafka.TopicModePerType:
	default:
		return fmt.Errorf("unknown kafka topic mode %q", c.Kafka.TopicMode)
	}
	switch c.Publisher.OverflowPolicy {
	case publisher.OverflowPersist, publisher.OverflowDrop:
	default:
		return fmt.Errorf("unknown overflow policy %q", c.Publisher.OverflowPolicy)
	}
	if _, err := c.Password.Version(); err != nil {
		return err
	}
	return nil
}

// IsDev reports whether the service runs in the development environment.
func (c Config) IsDev() bool {
	return c.Server.Environment == "dev"
}

// Version maps CurrentVersion onto a hash version.
func (p PasswordConfig) Version() (password.Version, error) {
	switch strings.ToLower(p.CurrentVersion) {
	case password.VersionArgon2id.String():
		return password.VersionArgon2id, nil
	case password.VersionBcrypt.String():
		return password.VersionBcrypt, nil
	default:
		return 0, fmt.Errorf("unknown password hash version %q", p.CurrentVersion)
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(envPrefix + name); value != "" {
		return value
	}
	return fallback
}

// envInt falls back on empty or invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(envPrefix + name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
