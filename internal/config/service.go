package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Service holds the live configuration and re-reads it on demand
type Service struct {
	configPath string

	mu       sync.RWMutex
	config   *Config
	watchers []ConfigWatcher
}

// ConfigWatcher is called after a successful reload
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService loads, overrides and validates the configuration at
// configPath
func NewService(configPath string) (*Service, error) {
	cfg, err := LoadWithEnv(configPath)
	if err != nil {
		return nil, err
	}
	return &Service{config: cfg, configPath: configPath}, nil
}

// LoadWithEnv loads the file, applies environment overrides and validates
func LoadWithEnv(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Get returns the current configuration. Callers must not mutate it.
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload re-reads the file. An invalid file leaves the current
// configuration in place. Watcher errors are joined into the result but
// do not undo the reload.
func (s *Service) Reload(ctx context.Context) error {
	next, err := LoadWithEnv(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	s.mu.Lock()
	prev := s.config
	s.config = next
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	s.mu.Unlock()

	var errs []error
	for _, w := range watchers {
		if err := w(ctx, prev, next); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Watch registers a watcher called after every successful reload
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// RestartRequired lists the top-level sections that differ between two
// configurations and are only read at startup. Only the log level is
// applied live.
func RestartRequired(oldConfig, newConfig *Config) []string {
	var changed []string
	ov := reflect.ValueOf(*oldConfig)
	nv := reflect.ValueOf(*newConfig)
	t := ov.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Name == "Log" {
			continue
		}
		if !reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			name := strings.Split(field.Tag.Get("yaml"), ",")[0]
			if name == "" {
				name = strings.ToLower(field.Name)
			}
			changed = append(changed, name)
		}
	}
	if oldConfig.Log.Format != newConfig.Log.Format || oldConfig.Log.Output != newConfig.Log.Output {
		changed = append(changed, "log")
	}
	return changed
}

// envOverride maps one environment variable onto the configuration.
// Unparseable values are ignored.
type envOverride struct {
	name  string
	apply func(cfg *Config, val string)
}

var envOverrides = []envOverride{
	{"BRIDGE_DATA_DIR", func(c *Config, v string) { c.Bridge.DataDir = v }},

	{"VIDEOLOFT_EMAIL", func(c *Config, v string) { c.Videoloft.Email = v }},
	{"VIDEOLOFT_PASSWORD", func(c *Config, v string) { c.Videoloft.Password = v }},
	{"VIDEOLOFT_AUTH_SERVER", func(c *Config, v string) { c.Videoloft.AuthServer = v }},

	{"GEMINI_API_KEY", func(c *Config, v string) { c.Gemini.APIKey = v }},
	{"GEMINI_MODEL", func(c *Config, v string) { c.Gemini.Model = v }},
	{"GEMINI_DAILY_LIMIT", func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.Quota.DailyLimit = n
		}
	}},

	{"STREAM_KEEPALIVE_INTERVAL", func(c *Config, v string) {
		if d, err := time.ParseDuration(v); err == nil {
			c.Stream.KeepAliveInterval = d
		}
	}},

	{"BRIDGE_WEB_PORT", func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.Web.Port = n
		}
	}},

	{"LPR_ENABLED", func(c *Config, v string) { c.LPR.Enabled = parseBool(v) }},

	// a broker address implies the notifier is wanted
	{"MQTT_BROKER", func(c *Config, v string) {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}},
	{"MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Username = v }},
	{"MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Password = v }},

	{"LOG_LEVEL", func(c *Config, v string) { c.Log.Level = v }},
	{"LOG_FORMAT", func(c *Config, v string) { c.Log.Format = v }},
	{"LOG_OUTPUT", func(c *Config, v string) { c.Log.Output = v }},
}

// ApplyEnvOverrides applies every set, non-empty override variable
func ApplyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if val := os.Getenv(o.name); val != "" {
			o.apply(cfg, val)
		}
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
