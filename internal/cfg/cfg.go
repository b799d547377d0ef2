// Package cfg loads service configuration from a YAML file selected by
// CONFIG_FILE, with environment variables taking precedence over file
// values and providing the complete fallback when no file is configured.
// A .env file in the working directory is honored if present.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the fully resolved runtime configuration.
type Settings struct {
	Listen           string        // HTTP listen address for the dashboard API and /ws
	ActivityCapacity int           // Bounded activity log size
	QueueCapacity    int           // Per-subscriber frame queue size
	Simulate         bool          // Run the built-in producer simulation
	SimInterval      time.Duration // Simulation tick interval
	PriceFeedURL     string        // Optional HTTP price endpoint polled for open positions
	PollInterval     time.Duration // Price feed poll interval
	RESTTimeout      time.Duration // Price feed HTTP client timeout
	DataPath         string        // Optional directory for the activity journal
}

// ConfigFile mirrors the YAML layout.
type ConfigFile struct {
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`

	Feed struct {
		ActivityCapacity int `yaml:"activityCapacity"`
		QueueCapacity    int `yaml:"queueCapacity"`
	} `yaml:"feed"`

	Producer struct {
		Simulate     bool   `yaml:"simulate"`
		SimInterval  string `yaml:"simInterval"`
		PriceFeedURL string `yaml:"priceFeedURL"`
		PollInterval string `yaml:"pollInterval"`
		RESTTimeout  string `yaml:"restTimeout"`
	} `yaml:"producer"`

	System struct {
		DataPath string `yaml:"dataPath"`
	} `yaml:"system"`
}

// Load resolves settings from CONFIG_FILE when set, otherwise from
// environment variables alone. Environment variables always win over file
// values.
func Load() (Settings, error) {
	_ = godotenv.Load() // optional .env, ignore if missing

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		Listen:           getEnvOrDefault("LISTEN_ADDR", defaultString(config.Server.Listen, ":8080")),
		ActivityCapacity: getIntFromEnvOrConfig("ACTIVITY_CAPACITY", config.Feed.ActivityCapacity, 10),
		QueueCapacity:    getIntFromEnvOrConfig("QUEUE_CAPACITY", config.Feed.QueueCapacity, 64),
		Simulate:         getBoolFromEnvOrConfig("SIMULATE", config.Producer.Simulate),
		SimInterval:      getDurationFromEnvOrConfig("SIM_INTERVAL", config.Producer.SimInterval, 2*time.Second),
		PriceFeedURL:     getEnvOrDefault("PRICE_FEED_URL", config.Producer.PriceFeedURL),
		PollInterval:     getDurationFromEnvOrConfig("POLL_INTERVAL", config.Producer.PollInterval, 5*time.Second),
		RESTTimeout:      getDurationFromEnvOrConfig("REST_TIMEOUT", config.Producer.RESTTimeout, 5*time.Second),
		DataPath:         getEnvOrDefault("DATA_PATH", config.System.DataPath),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Listen:           getEnvOrDefault("LISTEN_ADDR", ":8080"),
		ActivityCapacity: getIntOrDefault("ACTIVITY_CAPACITY", 10),
		QueueCapacity:    getIntOrDefault("QUEUE_CAPACITY", 64),
		Simulate:         getBoolOrDefault("SIMULATE", true),
		SimInterval:      getDurationOrDefault("SIM_INTERVAL", 2*time.Second),
		PriceFeedURL:     os.Getenv("PRICE_FEED_URL"), // optional
		PollInterval:     getDurationOrDefault("POLL_INTERVAL", 5*time.Second),
		RESTTimeout:      getDurationOrDefault("REST_TIMEOUT", 5*time.Second),
		DataPath:         os.Getenv("DATA_PATH"), // optional
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func defaultString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

func getDurationFromEnvOrConfig(key, configValue string, defaultValue time.Duration) time.Duration {
	if env := os.Getenv(key); env != "" {
		if d, err := time.ParseDuration(env); err == nil {
			return d
		}
	}
	if configValue != "" {
		if d, err := time.ParseDuration(configValue); err == nil {
			return d
		}
	}
	return defaultValue
}

// validateSettings performs bounds checking on the resolved configuration.
func validateSettings(settings *Settings) error {
	if settings.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}

	if settings.ActivityCapacity < 1 || settings.ActivityCapacity > 1000 {
		return fmt.Errorf("activity capacity must be between 1 and 1000, got %d", settings.ActivityCapacity)
	}
	if settings.QueueCapacity < 1 || settings.QueueCapacity > 4096 {
		return fmt.Errorf("queue capacity must be between 1 and 4096, got %d", settings.QueueCapacity)
	}

	if settings.SimInterval < 10*time.Millisecond || settings.SimInterval > time.Minute {
		return fmt.Errorf("simulation interval must be between 10ms and 1m, got %v", settings.SimInterval)
	}
	if settings.PollInterval < 100*time.Millisecond || settings.PollInterval > 10*time.Minute {
		return fmt.Errorf("poll interval must be between 100ms and 10m, got %v", settings.PollInterval)
	}
	if settings.RESTTimeout < time.Second || settings.RESTTimeout > time.Minute {
		return fmt.Errorf("REST timeout must be between 1s and 1m, got %v", settings.RESTTimeout)
	}

	return nil
}
