// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (Twitch app + Bluesky account), use ValidateAnnounceReady.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// MinPollInterval is the lowest allowed stream-status poll interval. Polling
// faster than this gains nothing (Helix caches stream status) and burns rate limit.
const MinPollInterval = 30 * time.Second

// DefaultPostTemplate is used when POST_TEMPLATE is unset. The {username}
// placeholder is substituted with the monitored channel login.
const DefaultPostTemplate = "🔴 {username} is now live on Twitch!"

type Config struct {
	// Twitch
	TwitchChannel      string
	TwitchClientID     string
	TwitchClientSecret string

	// Bluesky
	BlueskyHandle      string
	BlueskyAppPassword string

	// Announcer
	PollInterval time.Duration
	PostTemplate string
	DryRun       bool

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It fails only on
// malformed values (e.g. an unparsable POLL_INTERVAL); missing credentials are
// caught later by ValidateAnnounceReady so auxiliary commands can still run.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannel = strings.ToLower(strings.TrimSpace(os.Getenv("TWITCH_CHANNEL")))
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.BlueskyHandle = os.Getenv("BLUESKY_HANDLE")
	cfg.BlueskyAppPassword = os.Getenv("BLUESKY_APP_PASSWORD")

	cfg.PollInterval = time.Minute
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL (e.g. 60s, 2m): %w", err)
		}
		if d < MinPollInterval {
			return nil, fmt.Errorf("POLL_INTERVAL must be >= %s, got %s", MinPollInterval, d)
		}
		cfg.PollInterval = d
	}

	cfg.PostTemplate = os.Getenv("POST_TEMPLATE")
	if cfg.PostTemplate == "" {
		cfg.PostTemplate = DefaultPostTemplate
	}
	if !strings.Contains(cfg.PostTemplate, "{username}") {
		return nil, fmt.Errorf("POST_TEMPLATE must contain the {username} placeholder")
	}

	cfg.DryRun = os.Getenv("DRY_RUN") == "1"

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// ValidateAnnounceReady checks required fields for the monitor/post pipeline.
func (c *Config) ValidateAnnounceReady() error {
	if c.TwitchChannel == "" || c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	if !c.DryRun && (c.BlueskyHandle == "" || c.BlueskyAppPassword == "") {
		return fmt.Errorf("missing bluesky env: require BLUESKY_HANDLE, BLUESKY_APP_PASSWORD (or set DRY_RUN=1)")
	}
	return nil
}

// RenderTemplate substitutes {username} in the post template with the
// configured channel login.
func (c *Config) RenderTemplate() string {
	return strings.ReplaceAll(c.PostTemplate, "{username}", c.TwitchChannel)
}
