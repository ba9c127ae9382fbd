package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the agent's full configuration, loaded from YAML with
// environment-variable overrides.
type Config struct {
	Env         string `yaml:"env" env:"APP_ENV" env-default:"production"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-default:"location-agent.db"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
		Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
	} `yaml:"log"`

	User struct {
		ID string `yaml:"id" env:"USER_ID"`
	} `yaml:"user"`

	Remote struct {
		BaseURL        string `yaml:"base_url" env:"REMOTE_BASE_URL" env-required:"true"`
		APIKey         string `yaml:"api_key" env:"REMOTE_API_KEY"`
		TimeoutSeconds int    `yaml:"timeout_seconds" env:"REMOTE_TIMEOUT" env-default:"10"`
	} `yaml:"remote"`

	Location struct {
		Endpoint    string `yaml:"endpoint" env:"LOCATION_ENDPOINT" env-default:"http://127.0.0.1:2947/fix"`
		PollSeconds int    `yaml:"poll_seconds" env-default:"5"`
	} `yaml:"location"`

	Tracking struct {
		MinUpdateIntervalMs   int     `yaml:"min_update_interval_ms" env-default:"3000"`
		MinDistanceMeters     float64 `yaml:"min_distance_meters" env-default:"5"`
		ForegroundPollSeconds int     `yaml:"foreground_poll_seconds" env-default:"15"`
		BackgroundPollSeconds int     `yaml:"background_poll_seconds" env-default:"60"`
		ActivityThresholdKmh  float64 `yaml:"activity_threshold_kmh" env-default:"5"`
	} `yaml:"tracking"`

	Sync struct {
		SweepIntervalSeconds int `yaml:"sweep_interval_seconds" env-default:"60"`
		ProbeIntervalSeconds int `yaml:"probe_interval_seconds" env-default:"10"`
		RetentionDays        int `yaml:"retention_days" env-default:"30"`
	} `yaml:"sync"`

	Tiles struct {
		URLTemplate    string `yaml:"url_template" env:"TILE_URL_TEMPLATE" env-default:"https://tile.openstreetmap.org/{z}/{x}/{y}.png"`
		FreshnessHours int    `yaml:"freshness_hours" env-default:"168"`
		FetchDelayMs   int    `yaml:"fetch_delay_ms" env-default:"100"`
	} `yaml:"tiles"`

	Geocoder struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		BaseURL string `yaml:"base_url" env:"GEOCODER_BASE_URL"`
	} `yaml:"geocoder"`

	Server struct {
		Enabled bool `yaml:"enabled" env-default:"false"`
		Port    int  `yaml:"port" env-default:"8723"`
	} `yaml:"server"`
}

// LoadConfig reads the config file at path, falling back to environment
// variables alone when the file does not exist.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	return &cfg, nil
}
