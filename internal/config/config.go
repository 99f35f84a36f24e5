package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMeshEndpoint      = "ws://localhost:9001"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
	DefaultPlacesRadius      = 5000
)

type Config struct {
	Mesh     MeshConfig     `yaml:"mesh"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Location LocationConfig `yaml:"location"`
	Notify   NotifyConfig   `yaml:"notify"`
	API      APIConfig      `yaml:"api"`
	Weather  WeatherConfig  `yaml:"weather"`
	Log      LogConfig      `yaml:"log"`
	UI       UIConfig       `yaml:"ui"`
}

type MeshConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	// ReconnectMaxDelay enables bounded exponential backoff when greater
	// than ReconnectDelay. Zero keeps the fixed delay.
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	SimulateOnFailure bool          `yaml:"simulate_on_failure"`
}

type MonitorConfig struct {
	ProbeTargets []string      `yaml:"probe_targets"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type LocationConfig struct {
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Command string `yaml:"command"`
}

type APIConfig struct {
	Listen        string `yaml:"listen"`
	MapsAPIKey    string `yaml:"maps_api_key"`
	DirectionsURL string `yaml:"directions_url"`
	PlacesURL     string `yaml:"places_url"`
}

type WeatherConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type LogConfig struct {
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"`
	Outputs  []string       `yaml:"outputs"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	Enable     bool   `yaml:"enable"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type UIConfig struct {
	Theme string `yaml:"theme"`
}

func DefaultConfig() Config {
	return Config{
		Mesh: MeshConfig{
			Endpoint:          DefaultMeshEndpoint,
			HeartbeatInterval: DefaultHeartbeatInterval,
			ReconnectDelay:    DefaultReconnectDelay,
			ReconnectMaxDelay: 0,
			DialTimeout:       8 * time.Second,
			WriteTimeout:      10 * time.Second,
			SimulateOnFailure: true,
		},
		Monitor: MonitorConfig{
			ProbeTargets: []string{"1.1.1.1:443", "8.8.8.8:53"},
			PollInterval: 5 * time.Second,
			ProbeTimeout: 2 * time.Second,
		},
		Location: LocationConfig{
			Lat: 12.9716,
			Lng: 77.5946,
		},
		Notify: NotifyConfig{
			Enabled: true,
			Command: "notify-send {title} {body}",
		},
		API: APIConfig{
			Listen:        "127.0.0.1:3000",
			MapsAPIKey:    "",
			DirectionsURL: "https://maps.googleapis.com/maps/api/directions/json",
			PlacesURL:     "https://maps.googleapis.com/maps/api/place/nearbysearch/json",
		},
		Weather: WeatherConfig{
			APIKey:          "",
			BaseURL:         "https://api.openweathermap.org/data/2.5",
			RefreshInterval: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/rescuelink.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		UI: UIConfig{
			Theme: "dark",
		},
	}
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return parse(data)
}

func LoadOptional(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, err
	}
	return parse(data)
}

func Save(path string, cfg Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	endpoint := strings.ToLower(cfg.Mesh.Endpoint)
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		return errors.New("mesh.endpoint must be a ws:// or wss:// url")
	}
	if cfg.Mesh.HeartbeatInterval <= 0 {
		return errors.New("mesh.heartbeat_interval must be positive")
	}
	if cfg.Mesh.ReconnectDelay <= 0 {
		return errors.New("mesh.reconnect_delay must be positive")
	}
	if cfg.Mesh.ReconnectMaxDelay != 0 && cfg.Mesh.ReconnectMaxDelay < cfg.Mesh.ReconnectDelay {
		return errors.New("mesh.reconnect_max_delay must be 0 or >= mesh.reconnect_delay")
	}
	if cfg.Mesh.DialTimeout <= 0 {
		return errors.New("mesh.dial_timeout must be positive")
	}
	if cfg.Monitor.PollInterval <= 0 {
		return errors.New("monitor.poll_interval must be positive")
	}
	if cfg.Monitor.ProbeTimeout <= 0 {
		return errors.New("monitor.probe_timeout must be positive")
	}
	if cfg.Location.Lat < -90 || cfg.Location.Lat > 90 {
		return errors.New("location.lat must be -90..90")
	}
	if cfg.Location.Lng < -180 || cfg.Location.Lng > 180 {
		return errors.New("location.lng must be -180..180")
	}
	if cfg.Notify.Enabled && strings.TrimSpace(cfg.Notify.Command) == "" {
		return errors.New("notify.command is required when notify is enabled")
	}
	if cfg.Weather.RefreshInterval < time.Minute {
		return errors.New("weather.refresh_interval must be at least 1m")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("log.level must be debug|info|warn|error")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "console", "json":
	default:
		return errors.New("log.format must be console|json")
	}
	if cfg.UI.Theme == "" {
		return errors.New("ui.theme is required")
	}
	return nil
}
