// Package config loads the environment knobs from spec.md section 6
// (base URL, request timeout, max retries, backoff base, retention
// window, sweep age, sync-wait default timeout) the way the teacher's
// examples/mobile_flow/config package shapes a Config struct with a
// DefaultConfig constructor, generalized onto github.com/spf13/viper so
// every knob can be overridden by environment variable without touching
// code. Load reads no config file.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment knob the sync engine and its
// collaborators read.
type Config struct {
	// BaseURL is the remote API's base URL, e.g. "https://api.example.com".
	BaseURL string

	// RequestTimeout bounds a single remote HTTP call.
	RequestTimeout time.Duration

	// MaxRetries is the retry cap before an Outbox item is left FAILED.
	MaxRetries int

	// BackoffBase is the base of the exponential backoff delay
	// BASE * 2^(retryCount-1).
	BackoffBase time.Duration

	// RetentionWindow is the memo age past which a synced memo is
	// dropped from the local store immediately after a successful sync.
	RetentionWindow time.Duration

	// SweepAge is the memo age past which a synced-and-idle memo is
	// swept from the local store on a periodic pass.
	SweepAge time.Duration

	// SyncWaitDefaultTimeout is waitForComplete's default timeout.
	SyncWaitDefaultTimeout time.Duration

	// LocalHealthTimeout / ExternalHealthTimeout bound the two-stage
	// Network Probe checks.
	LocalHealthTimeout    time.Duration
	ExternalHealthTimeout time.Duration

	// ProbeStabilisationDelay is the 1s wait after regaining connectivity
	// before the probe runs its two-stage check.
	ProbeStabilisationDelay time.Duration

	// ProbeRetryDelay is the delay before retrying a failed local-health
	// check.
	ProbeRetryDelay time.Duration
}

// Default returns the teacher-style hardcoded defaults from spec.md
// section 6.
func Default() *Config {
	return &Config{
		BaseURL:                 "http://localhost:8080",
		RequestTimeout:          10 * time.Second,
		MaxRetries:              3,
		BackoffBase:             5 * time.Second,
		RetentionWindow:         7 * 24 * time.Hour,
		SweepAge:                30 * 24 * time.Hour,
		SyncWaitDefaultTimeout:  30 * time.Second,
		LocalHealthTimeout:      3 * time.Second,
		ExternalHealthTimeout:   5 * time.Second,
		ProbeStabilisationDelay: 1 * time.Second,
		ProbeRetryDelay:         5 * time.Second,
	}
}

// Load reads the environment knobs via viper, falling back to Default()
// for anything unset. Environment variables are prefixed SYNC_, e.g.
// SYNC_BASE_URL, SYNC_MAX_RETRIES.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("sync")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("base_url", def.BaseURL)
	v.SetDefault("request_timeout", def.RequestTimeout)
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("backoff_base", def.BackoffBase)
	v.SetDefault("retention_window", def.RetentionWindow)
	v.SetDefault("sweep_age", def.SweepAge)
	v.SetDefault("sync_wait_default_timeout", def.SyncWaitDefaultTimeout)
	v.SetDefault("local_health_timeout", def.LocalHealthTimeout)
	v.SetDefault("external_health_timeout", def.ExternalHealthTimeout)
	v.SetDefault("probe_stabilisation_delay", def.ProbeStabilisationDelay)
	v.SetDefault("probe_retry_delay", def.ProbeRetryDelay)

	cfg := &Config{
		BaseURL:                 v.GetString("base_url"),
		RequestTimeout:          v.GetDuration("request_timeout"),
		MaxRetries:              v.GetInt("max_retries"),
		BackoffBase:             v.GetDuration("backoff_base"),
		RetentionWindow:         v.GetDuration("retention_window"),
		SweepAge:                v.GetDuration("sweep_age"),
		SyncWaitDefaultTimeout:  v.GetDuration("sync_wait_default_timeout"),
		LocalHealthTimeout:      v.GetDuration("local_health_timeout"),
		ExternalHealthTimeout:   v.GetDuration("external_health_timeout"),
		ProbeStabilisationDelay: v.GetDuration("probe_stabilisation_delay"),
		ProbeRetryDelay:         v.GetDuration("probe_retry_delay"),
	}
	return cfg, nil
}
