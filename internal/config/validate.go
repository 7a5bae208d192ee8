package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"unicode"
)

var validFormats = map[string]bool{
	"pcm": true,
	"wav": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that must stop startup from ones that
// were corrected or can be ignored.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// All returns fatals followed by warnings.
func (r ValidationResult) All() []error {
	return append(append([]error(nil), r.Fatals...), r.Warnings...)
}

// Validate checks the config and returns every problem found. Out-of-range
// numbers are clamped in place. Problems are logged as warnings.
func (c *Config) Validate() []error {
	errs := c.ValidateTiered().All()
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}
	return errs
}

// ValidateTiered is Validate without logging, split by severity.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	for _, ch := range c.Device {
		if unicode.IsControl(ch) {
			r.Fatals = append(r.Fatals, fmt.Errorf("device %q contains control characters", c.Device))
			break
		}
	}

	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format == "" {
		c.Format = "pcm"
	}
	if !validFormats[c.Format] {
		r.Fatals = append(r.Fatals, fmt.Errorf("format %q is not valid (use pcm or wav)", c.Format))
	}

	if c.ListenAddr != "" {
		if _, port, err := net.SplitHostPort(c.ListenAddr); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("listen_addr %q is not host:port: %w", c.ListenAddr, err))
		} else if port == "" {
			r.Fatals = append(r.Fatals, fmt.Errorf("listen_addr %q has no port", c.ListenAddr))
		}
	}

	clamp(&r, "buffer_frames", &c.BufferFrames, 256, 65536)
	clamp(&r, "idle_wait_ms", &c.IdleWaitMs, 0, 1000)
	clamp(&r, "buffer_duration_ms", &c.BufferDurationMs, 20, 10000)
	clamp(&r, "stream_queue", &c.StreamQueue, 1, 4096)
	clamp(&r, "log_max_size_mb", &c.LogMaxSizeMB, 1, 1024)
	clamp(&r, "log_max_backups", &c.LogMaxBackups, 0, 100)

	if c.DurationMs < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("duration_ms %d is negative, capturing until stopped", c.DurationMs))
		c.DurationMs = 0
	}
	if c.Format == "wav" && c.DurationMs == 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("format wav without duration_ms keeps the whole capture in memory"))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if strings.TrimSpace(c.MDNSServiceName) == "" {
		c.MDNSServiceName = "loopback"
		if c.MDNSEnabled {
			r.Warnings = append(r.Warnings, fmt.Errorf("mdns_service_name is empty, using %q", c.MDNSServiceName))
		}
	}

	return r
}

func clamp(r *ValidationResult, key string, v *int, lo, hi int) {
	switch {
	case *v < lo:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, *v, lo))
		*v = lo
	case *v > hi:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, *v, hi))
		*v = hi
	}
}
