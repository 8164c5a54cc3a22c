package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"reelmark/internal/domain"
)

// Config models reel.yml.
type Config struct {
	Preferences struct {
		AutoPause bool `yaml:"auto_pause"`
	} `yaml:"preferences"`
	Permissions struct {
		ElevatedRoles []string `yaml:"elevated_roles"`
	} `yaml:"permissions"`
	Playback struct {
		PollIntervalMS       int    `yaml:"poll_interval_ms"`
		TimeUpdateIntervalMS int    `yaml:"time_update_interval_ms"`
		FFprobePath          string `yaml:"ffprobe_path"`
	} `yaml:"playback"`
	Drawing struct {
		StrokeColor string  `yaml:"stroke_color"`
		StrokeWidth float64 `yaml:"stroke_width"`
		MaxHistory  int     `yaml:"max_history"`
	} `yaml:"drawing"`
	Timeline struct {
		TrackWidth float64 `yaml:"track_width"`
	} `yaml:"timeline"`
	Tags struct {
		Categories map[string]TagCategory `yaml:"categories"`
	} `yaml:"tags"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig forwards audit events to an HTTP endpoint. An empty Events
// list forwards everything.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

func (w WebhookConfig) Active() bool {
	return (w.Enabled == nil || *w.Enabled) && strings.TrimSpace(w.URL) != ""
}

type TagCategory struct {
	Color       string `yaml:"color"`
	Description string `yaml:"description"`
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with reel init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Permissions.ElevatedRoles) == 0 {
		return fmt.Errorf("config.permissions.elevated_roles is required")
	}
	for _, role := range c.Permissions.ElevatedRoles {
		if role == "" {
			return fmt.Errorf("config.permissions.elevated_roles contains empty role")
		}
	}
	if c.Playback.PollIntervalMS <= 0 {
		return fmt.Errorf("config.playback.poll_interval_ms must be positive")
	}
	if c.Playback.TimeUpdateIntervalMS <= 0 {
		return fmt.Errorf("config.playback.time_update_interval_ms must be positive")
	}
	if !hexColor.MatchString(c.Drawing.StrokeColor) {
		return fmt.Errorf("config.drawing.stroke_color %q must be #rrggbb", c.Drawing.StrokeColor)
	}
	if c.Drawing.StrokeWidth <= 0 {
		return fmt.Errorf("config.drawing.stroke_width must be positive")
	}
	if c.Drawing.MaxHistory < 0 {
		return fmt.Errorf("config.drawing.max_history must not be negative")
	}
	if c.Timeline.TrackWidth <= 0 {
		return fmt.Errorf("config.timeline.track_width must be positive")
	}
	for name, cat := range c.Tags.Categories {
		if !domain.TagCategory(name).Valid() {
			return fmt.Errorf("config.tags.categories has unknown category %s", name)
		}
		if !hexColor.MatchString(cat.Color) {
			return fmt.Errorf("tag category %s color %q must be #rrggbb", name, cat.Color)
		}
	}
	for i, hook := range c.Webhooks {
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url %q must be http(s)", i, hook.URL)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Playback.PollIntervalMS) * time.Millisecond
}

func (c *Config) TimeUpdateInterval() time.Duration {
	return time.Duration(c.Playback.TimeUpdateIntervalMS) * time.Millisecond
}

// CategoryColor returns the display color for a tag category, gray when unset.
func (c *Config) CategoryColor(cat domain.TagCategory) string {
	if tc, ok := c.Tags.Categories[string(cat)]; ok {
		return tc.Color
	}
	return "#6b7280"
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "reel.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `preferences:
  auto_pause: true

permissions:
  elevated_roles: [owner, admin, coach]

playback:
  poll_interval_ms: 100
  time_update_interval_ms: 250
  ffprobe_path: ffprobe

drawing:
  stroke_color: "#ff0000"
  stroke_width: 3
  max_history: 50

timeline:
  track_width: 1000

tags:
  categories:
    offensive:
      color: "#ef4444"
      description: "Attacking play"
    defensive:
      color: "#3b82f6"
      description: "Defensive structure and tackles"
    transition:
      color: "#f59e0b"
      description: "Turnovers and counter attacks"
    technical:
      color: "#8b5cf6"
      description: "Individual skill execution"
    situational:
      color: "#14b8a6"
      description: "Set pieces and restarts"
    outcome:
      color: "#22c55e"
      description: "Scores and results"
`
