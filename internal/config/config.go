// Package config defines the bridge configuration and its loading hooks.
//
// Conventions:
// - New() builds a Config with defaults; Load(ctx) layers external sources on top.
// - Durations are Go duration strings; cooldowns are seconds.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/okian/posebridge/internal/domain/model"
)

// Thumbnail formats.
const (
	ThumbnailRaw  = "raw"
	ThumbnailJPEG = "jpeg"
)

// Cooldown clock modes.
const (
	ClockWall      = "wall"
	ClockDetection = "detection"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// StatusAddr is the local status server listen address; empty disables it.
	StatusAddr string `koanf:"status_addr"`

	// ShmKey is the SysV key of the detection segment.
	ShmKey int `koanf:"shm_key"`

	// Remote delivery identity and endpoint.
	ServerURL string   `koanf:"server_url"`
	UnitID    string   `koanf:"unit_id"`
	UnitName  string   `koanf:"unit_name"`
	RTSPURIs  []string `koanf:"rtsp_uris"`

	// Thumbnail handling.
	SendThumbnails    bool   `koanf:"send_thumbnails"`
	ThumbnailFormat   string `koanf:"thumbnail_format"`
	ThumbnailMaxWidth int    `koanf:"thumbnail_max_width"`
	ThumbnailQuality  int    `koanf:"thumbnail_quality"`

	// Delivery.
	RetryAttempts  int           `koanf:"retry_attempts"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`

	// Monitor loop.
	PollInterval  time.Duration `koanf:"poll_interval"`
	ErrorBackoff  time.Duration `koanf:"error_backoff"`
	SummaryRate   float64       `koanf:"summary_rate"`
	Detailed      bool          `koanf:"detailed"`
	CooldownClock string        `koanf:"cooldown_clock"`

	// Cooldowns maps pose class names (or indices) to seconds.
	Cooldowns map[string]float64 `koanf:"cooldowns"`

	// DefaultCooldown is used for classes without an entry, in seconds.
	DefaultCooldown float64 `koanf:"default_cooldown"`

	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	MaxPersonAge    time.Duration `koanf:"max_person_age"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		StatusAddr:        ":9108",
		ShmKey:            12345,
		ServerURL:         "https://corabackend.onrender.com/api/detections",
		UnitID:            "jetson_unit_01",
		UnitName:          "Jetson Pose Detection Unit",
		RTSPURIs:          []string{},
		SendThumbnails:    false,
		ThumbnailFormat:   ThumbnailRaw,
		ThumbnailMaxWidth: 320,
		ThumbnailQuality:  80,
		RetryAttempts:     3,
		RequestTimeout:    5 * time.Second,
		RetryBackoff:      time.Second,
		PollInterval:      10 * time.Millisecond,
		ErrorBackoff:      time.Second,
		SummaryRate:       2.0,
		CooldownClock:     ClockWall,
		Cooldowns: map[string]float64{
			"sitting_down": 30,
			"getting_up":   30,
			"sitting":      120,
			"standing":     120,
			"walking":      60,
			"jumping":      45,
		},
		DefaultCooldown: 60,
		CleanupInterval: 5 * time.Minute,
		MaxPersonAge:    10 * time.Minute,
	}
}

// Seconds converts a cooldown expressed in seconds to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// CooldownDurations resolves the configured per-class cooldowns.
func (c *Config) CooldownDurations() (map[model.PoseClass]time.Duration, error) {
	out := make(map[model.PoseClass]time.Duration, len(c.Cooldowns))
	for name, secs := range c.Cooldowns {
		class, err := model.ParseClass(name)
		if err != nil {
			return nil, fmt.Errorf("%w: cooldowns: %w", ErrInvalidConfig, err)
		}
		if secs < 0 {
			return nil, fmt.Errorf("%w: cooldown for %s must not be negative", ErrInvalidConfig, name)
		}
		out[class] = Seconds(secs)
	}
	return out, nil
}

// Validate checks the configuration for values the bridge cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.ServerURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: server_url %q must be an absolute http(s) URL", ErrInvalidConfig, c.ServerURL)
	}
	if c.UnitID == "" {
		return fmt.Errorf("%w: unit_id must not be empty", ErrInvalidConfig)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("%w: retry_attempts must be at least 1", ErrInvalidConfig)
	}
	for name, d := range map[string]time.Duration{
		"request_timeout":  c.RequestTimeout,
		"poll_interval":    c.PollInterval,
		"error_backoff":    c.ErrorBackoff,
		"cleanup_interval": c.CleanupInterval,
		"max_person_age":   c.MaxPersonAge,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("%w: retry_backoff must not be negative", ErrInvalidConfig)
	}
	if c.SummaryRate <= 0 {
		return fmt.Errorf("%w: summary_rate must be positive", ErrInvalidConfig)
	}
	switch c.ThumbnailFormat {
	case ThumbnailRaw, ThumbnailJPEG:
	default:
		return fmt.Errorf("%w: thumbnail_format %q (want raw or jpeg)", ErrInvalidConfig, c.ThumbnailFormat)
	}
	if c.ThumbnailQuality < 1 || c.ThumbnailQuality > 100 {
		return fmt.Errorf("%w: thumbnail_quality must be in 1..100", ErrInvalidConfig)
	}
	if c.ThumbnailMaxWidth < 0 {
		return fmt.Errorf("%w: thumbnail_max_width must not be negative", ErrInvalidConfig)
	}
	switch c.CooldownClock {
	case ClockWall, ClockDetection:
	default:
		return fmt.Errorf("%w: cooldown_clock %q (want wall or detection)", ErrInvalidConfig, c.CooldownClock)
	}
	if c.DefaultCooldown < 0 {
		return fmt.Errorf("%w: default_cooldown must not be negative", ErrInvalidConfig)
	}
	if _, err := c.CooldownDurations(); err != nil {
		return err
	}
	return nil
}
