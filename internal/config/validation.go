package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	if c.Bridge.DataDir == "" {
		errors = append(errors, "bridge.data_dir is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Vendor account
	if c.Videoloft.Email == "" {
		errors = append(errors, "videoloft.email is required")
	}
	if c.Videoloft.Password == "" {
		errors = append(errors, "videoloft.password is required")
	}
	if _, err := url.ParseRequestURI(c.Videoloft.AuthServer); err != nil {
		errors = append(errors, fmt.Sprintf("videoloft.auth_server must be an absolute URL, got: %q", c.Videoloft.AuthServer))
	}
	if !strings.Contains(c.Videoloft.RegionAuthURL, "{region}") {
		errors = append(errors, fmt.Sprintf("videoloft.region_auth_url must contain {region}, got: %q", c.Videoloft.RegionAuthURL))
	}
	if c.Videoloft.Scheme != "http" && c.Videoloft.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("videoloft.scheme must be http or https, got: %s", c.Videoloft.Scheme))
	}
	if c.Videoloft.AuthAttempts < 1 {
		errors = append(errors, fmt.Sprintf("videoloft.auth_attempts must be >= 1, got: %d", c.Videoloft.AuthAttempts))
	}

	// Stream
	if c.Stream.ChunkSize < 1024 {
		errors = append(errors, fmt.Sprintf("stream.chunk_size must be >= 1024, got: %d", c.Stream.ChunkSize))
	}
	if c.Stream.MaxConnsPerHost > c.Stream.MaxConns {
		errors = append(errors, fmt.Sprintf("stream.max_conns_per_host (%d) cannot be greater than max_conns (%d)", c.Stream.MaxConnsPerHost, c.Stream.MaxConns))
	}
	if c.Stream.ConnectTimeout > c.Stream.TotalTimeout || c.Stream.ReadTimeout > c.Stream.TotalTimeout {
		errors = append(errors, "stream.connect_timeout and stream.read_timeout must not exceed stream.total_timeout")
	}
	if !strings.HasPrefix(c.Stream.RoutePrefix, "/") {
		errors = append(errors, fmt.Sprintf("stream.route_prefix must start with '/', got: %s", c.Stream.RoutePrefix))
	}

	// Thumbnails
	if c.Thumbnails.RefreshInterval > c.Thumbnails.ImmediateTTL {
		errors = append(errors, fmt.Sprintf("thumbnails.refresh_interval (%v) must not exceed thumbnails.immediate_ttl (%v)", c.Thumbnails.RefreshInterval, c.Thumbnails.ImmediateTTL))
	}

	// Quota
	if c.Quota.DailyLimit <= 0 {
		errors = append(errors, fmt.Sprintf("quota.daily_limit must be > 0, got: %d", c.Quota.DailyLimit))
	}
	if c.Quota.MinuteLimit <= 0 {
		errors = append(errors, fmt.Sprintf("quota.minute_limit must be > 0, got: %d", c.Quota.MinuteLimit))
	}
	if c.Quota.MinuteLimit > c.Quota.DailyLimit {
		errors = append(errors, fmt.Sprintf("quota.minute_limit (%d) cannot be greater than daily_limit (%d)", c.Quota.MinuteLimit, c.Quota.DailyLimit))
	}

	// Analysis
	if !validHour(c.Analysis.DefaultStartHour) || !validHour(c.Analysis.DefaultEndHour) {
		errors = append(errors, fmt.Sprintf("analysis default hours must be within 0-23, got: %d-%d", c.Analysis.DefaultStartHour, c.Analysis.DefaultEndHour))
	} else if c.Analysis.DefaultStartHour > c.Analysis.DefaultEndHour {
		errors = append(errors, fmt.Sprintf("analysis.default_start_hour (%d) cannot be after default_end_hour (%d)", c.Analysis.DefaultStartHour, c.Analysis.DefaultEndHour))
	}

	// Web
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}
	if c.Health.Port <= 0 || c.Health.Port > 65535 {
		errors = append(errors, fmt.Sprintf("health.port must be between 1 and 65535, got: %d", c.Health.Port))
	}
	if c.Health.Port == c.Web.Port {
		errors = append(errors, fmt.Sprintf("health.port and web.port must differ, both are %d", c.Web.Port))
	}
	if c.Health.DiskMaxUsagePercent <= 0 || c.Health.DiskMaxUsagePercent > 100 {
		errors = append(errors, fmt.Sprintf("health.disk_max_usage_percent must be between 0 and 100, got: %.1f", c.Health.DiskMaxUsagePercent))
	}

	// MQTT
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errors = append(errors, "mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS > 2 {
		errors = append(errors, fmt.Sprintf("mqtt.qos must be 0, 1 or 2, got: %d", c.MQTT.QoS))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}
