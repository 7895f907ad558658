package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Bridge     BridgeConfig    `yaml:"bridge"`
	Videoloft  VideoloftConfig `yaml:"videoloft"`
	Stream     StreamConfig    `yaml:"stream"`
	Thumbnails ThumbnailConfig `yaml:"thumbnails"`
	Gemini     GeminiConfig    `yaml:"gemini"`
	Quota      QuotaConfig     `yaml:"quota"`
	Analysis   AnalysisConfig  `yaml:"analysis"`
	LPR        LPRConfig       `yaml:"lpr"`
	Web        WebConfig       `yaml:"web"`
	Health     HealthConfig    `yaml:"health"`
	Metrics    MetricsConfig   `yaml:"metrics"`
	MQTT       MQTTConfig      `yaml:"mqtt"`
	Log        LogConfig       `yaml:"log,omitempty"`
}

// BridgeConfig contains process level settings
type BridgeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// VideoloftConfig contains vendor account and endpoint settings
type VideoloftConfig struct {
	Email         string        `yaml:"email"`
	Password      string        `yaml:"password"` // never logged
	AuthServer    string        `yaml:"auth_server"`
	RegionAuthURL string        `yaml:"region_auth_url"` // {region} is substituted
	Scheme        string        `yaml:"scheme"`          // scheme for logger/wowza hosts
	UserAgent     string        `yaml:"user_agent"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AuthTimeout   time.Duration `yaml:"auth_timeout"`
	DeviceTimeout time.Duration `yaml:"device_timeout"`
	DeviceTTL     time.Duration `yaml:"device_ttl"`
	Timeout       time.Duration `yaml:"timeout"`
	AuthAttempts  int           `yaml:"auth_attempts"`
}

// StreamConfig contains live stream session and proxy settings
type StreamConfig struct {
	KeepAliveInterval  time.Duration `yaml:"keepalive_interval"`
	ProbeInterval      time.Duration `yaml:"probe_interval"`
	LiveCommandTimeout time.Duration `yaml:"live_command_timeout"`
	StatusTimeout      time.Duration `yaml:"status_timeout"`
	PlaceholderHost    string        `yaml:"placeholder_host"`
	ChunkSize          int           `yaml:"chunk_size"`
	MaxConns           int           `yaml:"max_conns"`
	MaxConnsPerHost    int           `yaml:"max_conns_per_host"`
	IdleConnTimeout    time.Duration `yaml:"idle_conn_timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	TotalTimeout       time.Duration `yaml:"total_timeout"`
	RoutePrefix        string        `yaml:"route_prefix"`
	SyncInterval       time.Duration `yaml:"sync_interval"`
}

// ThumbnailConfig contains thumbnail cache settings
type ThumbnailConfig struct {
	ImmediateTTL    time.Duration `yaml:"immediate_ttl"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	CameraDelay     time.Duration `yaml:"camera_delay"`
	ErrorBackoff    time.Duration `yaml:"error_backoff"`
	PreloadDelay    time.Duration `yaml:"preload_delay"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
}

// GeminiConfig contains vision model settings
type GeminiConfig struct {
	APIKey     string        `yaml:"api_key"` // never logged
	Endpoint   string        `yaml:"endpoint"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// QuotaConfig contains vision model budget settings
type QuotaConfig struct {
	DailyLimit        int           `yaml:"daily_limit"`
	MinuteLimit       int           `yaml:"minute_limit"`
	Window            time.Duration `yaml:"window"`
	DefaultRetryDelay time.Duration `yaml:"default_retry_delay"`
}

// AnalysisConfig contains batch analysis settings
type AnalysisConfig struct {
	DefaultStartHour int           `yaml:"default_start_hour"`
	DefaultEndHour   int           `yaml:"default_end_hour"`
	RateLimitRetries int           `yaml:"rate_limit_retries"`
	MinuteLimitWait  time.Duration `yaml:"minute_limit_wait"`
	EventSliceLength time.Duration `yaml:"event_slice_length"`
}

// LPRConfig contains licence plate monitor settings
type LPRConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Lookback     time.Duration `yaml:"lookback"`
	MatchHold    time.Duration `yaml:"match_hold"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// HealthConfig contains health server configuration
type HealthConfig struct {
	Port                int     `yaml:"port"`
	DiskMaxUsagePercent float64 `yaml:"disk_max_usage_percent"`
}

// MetricsConfig contains Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTTConfig contains notifier settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a configuration populated only with defaults
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/videoloft-bridge/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Bridge.DataDir == "" {
		c.Bridge.DataDir = "./data"
	}

	v := &c.Videoloft
	if v.AuthServer == "" {
		v.AuthServer = "https://auth1.manything.com"
	}
	if v.RegionAuthURL == "" {
		v.RegionAuthURL = "https://{region}-auth-1.manything.com"
	}
	if v.Scheme == "" {
		v.Scheme = "https"
	}
	if v.UserAgent == "" {
		v.UserAgent = "VideoloftHA/1.0"
	}
	if v.TokenTTL == 0 {
		v.TokenTTL = 1200 * time.Second
	}
	if v.AuthTimeout == 0 {
		v.AuthTimeout = 10 * time.Second
	}
	if v.DeviceTimeout == 0 {
		v.DeviceTimeout = 15 * time.Second
	}
	if v.DeviceTTL == 0 {
		v.DeviceTTL = 12 * time.Hour
	}
	if v.Timeout == 0 {
		v.Timeout = 10 * time.Second
	}
	if v.AuthAttempts == 0 {
		v.AuthAttempts = 3
	}

	s := &c.Stream
	if s.KeepAliveInterval == 0 {
		s.KeepAliveInterval = 30 * time.Second
	}
	if s.ProbeInterval == 0 {
		s.ProbeInterval = 10 * time.Second
	}
	if s.LiveCommandTimeout == 0 {
		s.LiveCommandTimeout = 8 * time.Second
	}
	if s.StatusTimeout == 0 {
		s.StatusTimeout = 5 * time.Second
	}
	if s.PlaceholderHost == "" {
		s.PlaceholderHost = "wowza1"
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = 32768
	}
	if s.MaxConns == 0 {
		s.MaxConns = 200
	}
	if s.MaxConnsPerHost == 0 {
		s.MaxConnsPerHost = 40
	}
	if s.IdleConnTimeout == 0 {
		s.IdleConnTimeout = 60 * time.Second
	}
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = 3 * time.Second
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 8 * time.Second
	}
	if s.TotalTimeout == 0 {
		s.TotalTimeout = 10 * time.Second
	}
	if s.RoutePrefix == "" {
		s.RoutePrefix = "/api/videoloft/stream"
	}
	if s.SyncInterval == 0 {
		s.SyncInterval = 5 * time.Minute
	}

	t := &c.Thumbnails
	if t.ImmediateTTL == 0 {
		t.ImmediateTTL = 10 * time.Minute
	}
	if t.CacheTTL == 0 {
		t.CacheTTL = 5 * time.Minute
	}
	if t.RefreshInterval == 0 {
		t.RefreshInterval = 2 * time.Minute
	}
	if t.CameraDelay == 0 {
		t.CameraDelay = time.Second
	}
	if t.ErrorBackoff == 0 {
		t.ErrorBackoff = 30 * time.Second
	}
	if t.PreloadDelay == 0 {
		t.PreloadDelay = 5 * time.Second
	}
	if t.FetchTimeout == 0 {
		t.FetchTimeout = 10 * time.Second
	}

	g := &c.Gemini
	if g.Endpoint == "" {
		g.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if g.Model == "" {
		g.Model = "gemini-2.5-flash"
	}
	if g.Timeout == 0 {
		g.Timeout = 30 * time.Second
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 3
	}

	q := &c.Quota
	if q.DailyLimit == 0 {
		q.DailyLimit = 200
	}
	if q.MinuteLimit == 0 {
		q.MinuteLimit = 10
	}
	if q.Window == 0 {
		q.Window = 60 * time.Second
	}
	if q.DefaultRetryDelay == 0 {
		q.DefaultRetryDelay = 60 * time.Second
	}

	a := &c.Analysis
	if a.DefaultStartHour == 0 && a.DefaultEndHour == 0 {
		a.DefaultStartHour = 8
		a.DefaultEndHour = 20
	}
	if a.RateLimitRetries == 0 {
		a.RateLimitRetries = 3
	}
	if a.MinuteLimitWait == 0 {
		a.MinuteLimitWait = 60 * time.Second
	}
	if a.EventSliceLength == 0 {
		a.EventSliceLength = 30 * time.Minute
	}

	if c.LPR.PollInterval == 0 {
		c.LPR.PollInterval = 30 * time.Second
	}
	if c.LPR.Lookback == 0 {
		c.LPR.Lookback = 5 * time.Minute
	}
	if c.LPR.MatchHold == 0 {
		c.LPR.MatchHold = 10 * time.Second
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8123
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8081
	}
	if c.Health.DiskMaxUsagePercent == 0 {
		c.Health.DiskMaxUsagePercent = 95
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "videoloft-bridge"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "videoloft"
	}
}
