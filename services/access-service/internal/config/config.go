package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env           string           `yaml:"env" envconfig:"APP_ENV"`
	Port          int              `yaml:"port" envconfig:"ACCESS_PORT"`
	GRPCPort      int              `yaml:"grpc_port" envconfig:"ACCESS_GRPC_PORT"`
	LogLevel      string           `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat     string           `yaml:"log_format" envconfig:"LOG_FORMAT"`
	MongoURI      string           `yaml:"mongo_uri" envconfig:"MONGO_URI"`
	DatabaseName  string           `yaml:"database_name" envconfig:"MONGO_DB_NAME"`
	MongoTimeout  time.Duration    `yaml:"mongo_timeout" envconfig:"MONGO_TIMEOUT"`
	RedisAddr     string           `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string           `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int              `yaml:"redis_db" envconfig:"REDIS_DB"`
	ServiceSecret string           `yaml:"service_secret" envconfig:"SERVICE_JWT_SECRET"`
	LockTTL       time.Duration    `yaml:"lock_ttl" envconfig:"GRANT_LOCK_TTL"`
	Controller    ControllerConfig `yaml:"controller"`
}

// ControllerConfig holds the network controller credential. It is read only by
// this service.
type ControllerConfig struct {
	URL                string        `yaml:"url" envconfig:"CONTROLLER_URL"`
	Username           string        `yaml:"username" envconfig:"CONTROLLER_USERNAME"`
	Password           string        `yaml:"password" envconfig:"CONTROLLER_PASSWORD"`
	Server             string        `yaml:"server" envconfig:"CONTROLLER_SERVER"`
	Profile            string        `yaml:"profile" envconfig:"CONTROLLER_PROFILE"`
	Timeout            time.Duration `yaml:"timeout" envconfig:"CONTROLLER_TIMEOUT"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" envconfig:"CONTROLLER_INSECURE_SKIP_VERIFY"`
	AllowPlaceholder   bool          `yaml:"allow_placeholder" envconfig:"CONTROLLER_ALLOW_PLACEHOLDER"`
}

func defaults() *Config {
	return &Config{
		Env:          "production",
		Port:         8010,
		GRPCPort:     9081,
		LogLevel:     "info",
		LogFormat:    "json",
		MongoURI:     "mongodb://localhost:27017",
		DatabaseName: "hotspot",
		MongoTimeout: 10 * time.Second,
		RedisAddr:    "localhost:6379",
		LockTTL:      30 * time.Second,
		Controller: ControllerConfig{
			Server:  "all",
			Profile: "default",
			Timeout: 10 * time.Second,
		},
	}
}

// LoadConfig applies defaults, then the YAML file at path (optional), then the
// environment.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to open config: %w", err)
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config: %w", err)
			}
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ServiceSecret == "" {
		return fmt.Errorf("SERVICE_JWT_SECRET is required")
	}
	if c.Controller.URL == "" {
		return fmt.Errorf("CONTROLLER_URL is required")
	}
	if c.Controller.Username == "" {
		return fmt.Errorf("CONTROLLER_USERNAME is required")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock_ttl must be positive")
	}
	return nil
}
