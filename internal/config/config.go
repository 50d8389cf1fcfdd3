// Package config provides configuration loading for commutersim.
// It supports loading from YAML files and environment variables, and is the
// only place simulation inputs are validated.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/talgya/commutersim/internal/engine"
	"github.com/talgya/commutersim/internal/environment"
)

// Weight and window limits.
const (
	MinWeight = -100
	MaxWeight = 100
	MinWindow = 1
	MaxWindow = 50
)

// Config contains all commutersim configuration settings.
type Config struct {
	Simulation  SimulationConfig  `json:"simulation" yaml:"simulation"`
	Environment EnvironmentConfig `json:"environment" yaml:"environment"`
	Model       ModelConfig       `json:"model" yaml:"model"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	API         APIConfig         `json:"api" yaml:"api"`
}

// SimulationConfig shapes the population. Changes need a re-initialization.
type SimulationConfig struct {
	MaxDays               int     `json:"max_days" yaml:"max_days"`
	ResidentsPerLocation  int     `json:"residents_per_location" yaml:"residents_per_location"`
	InitialCarProbability float64 `json:"initial_car_probability" yaml:"initial_car_probability"`

	// RandomSeed fixes the random source. Nil means a fresh seed each run.
	RandomSeed *int64 `json:"random_seed,omitempty" yaml:"random_seed,omitempty"`
}

// EnvironmentConfig configures the weather and roadworks tracks.
type EnvironmentConfig struct {
	RainStartProbability      float64 `json:"rain_start_probability" yaml:"rain_start_probability"`
	RainMaxDuration           int     `json:"rain_max_duration" yaml:"rain_max_duration"`
	RoadworksStartProbability float64 `json:"roadworks_start_probability" yaml:"roadworks_start_probability"`
	RoadworksMaxDuration      int     `json:"roadworks_max_duration" yaml:"roadworks_max_duration"`

	// RainAuto and RoadworksAuto start the tracks in auto mode.
	RainAuto      bool `json:"rain_auto" yaml:"rain_auto"`
	RoadworksAuto bool `json:"roadworks_auto" yaml:"roadworks_auto"`

	// LiveWeather drives the rain track from real weather when serving with
	// autoplay. Takes precedence over RainAuto.
	LiveWeather LiveWeatherConfig `json:"live_weather" yaml:"live_weather"`
}

// LiveWeatherConfig configures the OpenWeatherMap feed.
type LiveWeatherConfig struct {
	// APIKey is the OpenWeatherMap key. Supports ${VAR} syntax. Empty disables the feed.
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}

// ModelConfig holds the decision-model weights and congestion window.
type ModelConfig struct {
	engine.Weights   `yaml:",inline"`
	CongestionWindow int `json:"congestion_window" yaml:"congestion_window"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" logs every simulated day.
	Level string `json:"level" yaml:"level"`
}

// StorageConfig configures run persistence.
type StorageConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `json:"path" yaml:"path"`
}

// APIConfig configures the HTTP control plane.
type APIConfig struct {
	Port int `json:"port" yaml:"port"`

	// AdminKey is the bearer token for POST endpoints. Supports ${VAR} syntax.
	// Empty disables all mutating endpoints.
	AdminKey string `json:"admin_key,omitempty" yaml:"admin_key,omitempty"`
}

// RedactedAdminKey returns the admin key with most characters masked.
func (c APIConfig) RedactedAdminKey() string {
	if c.AdminKey == "" {
		return ""
	}
	if len(c.AdminKey) < 12 {
		return "(set)"
	}
	return c.AdminKey[:4] + "..." + c.AdminKey[len(c.AdminKey)-4:]
}

// Default returns a Config with the calibrated defaults.
func Default() *Config {
	params := engine.DefaultParams()
	return &Config{
		Simulation: SimulationConfig{
			MaxDays:               50,
			ResidentsPerLocation:  50,
			InitialCarProbability: 0.8,
		},
		Environment: EnvironmentConfig{
			RainStartProbability:      params.Rain.StartProbability,
			RainMaxDuration:           params.Rain.MaxDuration,
			RoadworksStartProbability: params.Roadworks.StartProbability,
			RoadworksMaxDuration:      params.Roadworks.MaxDuration,
		},
		Model: ModelConfig{
			Weights:          params.Weights,
			CongestionWindow: params.CongestionWindow,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Path: filepath.Join("data", "commutersim.db"),
		},
		API: APIConfig{
			Port: 8080,
		},
	}
}

// DefaultPath returns ~/.commutersim/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".commutersim", "config.yaml"), nil
}

// Load loads configuration from path, or from the default location when path
// is empty, then applies environment variable overrides.
// Order: defaults -> config file -> environment variables.
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		if p, err := DefaultPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Settings absent
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.API.AdminKey = expandEnvVars(config.API.AdminKey)
	config.Environment.LiveWeather.APIKey = expandEnvVars(config.Environment.LiveWeather.APIKey)

	return config, nil
}

// Save writes the configuration to path as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.ValidateSimulation(); err != nil {
		return err
	}
	if err := ValidateParams(c.Params()); err != nil {
		return err
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api port must be between 0 and 65535, got %d", c.API.Port)
	}

	return nil
}

// ValidateSimulation checks the population settings.
func (c *Config) ValidateSimulation() error {
	return ValidateSetup(c.Setup())
}

// ValidateSetup checks values that shape a population.
func ValidateSetup(s engine.Setup) error {
	if s.MaxDays <= 0 {
		return fmt.Errorf("max_days must be positive, got %d", s.MaxDays)
	}
	if s.ResidentsPerLocation <= 0 {
		return fmt.Errorf("residents_per_location must be positive, got %d", s.ResidentsPerLocation)
	}
	if math.IsNaN(s.CarProbability) || s.CarProbability < 0 || s.CarProbability > 1 {
		return fmt.Errorf("initial_car_probability must be between 0 and 1, got %f", s.CarProbability)
	}
	return nil
}

// ValidateParams checks runtime-tunable parameters.
func ValidateParams(p engine.Params) error {
	weights := []struct {
		name  string
		value float64
	}{
		{"time_effort", p.Weights.TimeEffort},
		{"expense", p.Weights.Expense},
		{"congestion", p.Weights.Congestion},
		{"roadworks", p.Weights.Roadworks},
		{"weather", p.Weights.Weather},
		{"individual", p.Weights.Individual},
	}
	for _, w := range weights {
		if math.IsNaN(w.value) || w.value < MinWeight || w.value > MaxWeight {
			return fmt.Errorf("weight %s must be between %d and %d, got %g", w.name, MinWeight, MaxWeight, w.value)
		}
	}

	if p.CongestionWindow < MinWindow || p.CongestionWindow > MaxWindow {
		return fmt.Errorf("congestion_window must be between %d and %d, got %d", MinWindow, MaxWindow, p.CongestionWindow)
	}

	if err := validateSchedule("rain", p.Rain); err != nil {
		return err
	}
	return validateSchedule("roadworks", p.Roadworks)
}

func validateSchedule(name string, s environment.Schedule) error {
	if math.IsNaN(s.StartProbability) || s.StartProbability < 0 || s.StartProbability > 1 {
		return fmt.Errorf("%s_start_probability must be between 0 and 1, got %f", name, s.StartProbability)
	}
	if s.MaxDuration < 0 {
		return fmt.Errorf("%s_max_duration must be non-negative, got %d", name, s.MaxDuration)
	}
	return nil
}

// Setup returns the population setup described by the configuration.
func (c *Config) Setup() engine.Setup {
	return engine.Setup{
		ResidentsPerLocation: c.Simulation.ResidentsPerLocation,
		CarProbability:       c.Simulation.InitialCarProbability,
		MaxDays:              c.Simulation.MaxDays,
		Seed:                 c.Simulation.RandomSeed,
	}
}

// Params returns the runtime parameters described by the configuration.
func (c *Config) Params() engine.Params {
	return engine.Params{
		Weights:          c.Model.Weights,
		CongestionWindow: c.Model.CongestionWindow,
		Rain: environment.Schedule{
			StartProbability: c.Environment.RainStartProbability,
			MaxDuration:      c.Environment.RainMaxDuration,
		},
		Roadworks: environment.Schedule{
			StartProbability: c.Environment.RoadworksStartProbability,
			MaxDuration:      c.Environment.RoadworksMaxDuration,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("COMMUTERSIM_MAX_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.MaxDays = n
		}
	}

	if v := os.Getenv("COMMUTERSIM_RESIDENTS_PER_LOCATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.ResidentsPerLocation = n
		}
	}

	if v := os.Getenv("COMMUTERSIM_INITIAL_CAR_PROBABILITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.InitialCarProbability = f
		}
	}

	if v := os.Getenv("COMMUTERSIM_RANDOM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Simulation.RandomSeed = &n
		}
	}

	if v := os.Getenv("COMMUTERSIM_RAIN_AUTO"); v != "" {
		config.Environment.RainAuto = v == "true" || v == "1"
	}

	if v := os.Getenv("COMMUTERSIM_ROADWORKS_AUTO"); v != "" {
		config.Environment.RoadworksAuto = v == "true" || v == "1"
	}

	if v := os.Getenv("COMMUTERSIM_WEATHER_API_KEY"); v != "" {
		config.Environment.LiveWeather.APIKey = v
	}

	if v := os.Getenv("COMMUTERSIM_WEATHER_LOCATION"); v != "" {
		config.Environment.LiveWeather.Location = v
	}

	if v := os.Getenv("COMMUTERSIM_DB_PATH"); v != "" {
		config.Storage.Path = v
	}

	if v := os.Getenv("COMMUTERSIM_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.API.Port = n
		}
	}

	if v := os.Getenv("COMMUTERSIM_ADMIN_KEY"); v != "" {
		config.API.AdminKey = v
	}

	if v := os.Getenv("COMMUTERSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
