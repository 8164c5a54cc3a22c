package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelmark/internal/domain"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Preferences.AutoPause {
		t.Fatalf("expected auto pause on by default")
	}
	if cfg.PollInterval() != 100*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.PollInterval())
	}
	if got := cfg.CategoryColor(domain.CategoryOffensive); got != "#ef4444" {
		t.Fatalf("offensive color = %s", got)
	}
	if got := cfg.CategoryColor("unknown"); got != "#6b7280" {
		t.Fatalf("fallback color = %s", got)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("preferences:\n  auto_pause: false\ndrawing:\n  max_history: 5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Preferences.AutoPause {
		t.Fatalf("auto pause should be overridden")
	}
	if cfg.Drawing.MaxHistory != 5 {
		t.Fatalf("max history = %d", cfg.Drawing.MaxHistory)
	}
	if cfg.Drawing.StrokeColor != "#ff0000" {
		t.Fatalf("stroke color should keep default, got %s", cfg.Drawing.StrokeColor)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad color":    "drawing:\n  stroke_color: red\n",
		"bad category": "tags:\n  categories:\n    flair:\n      color: \"#000000\"\n",
		"zero poll":    "playback:\n  poll_interval_ms: 0\n",
		"no roles":     "permissions:\n  elevated_roles: []\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "reel.yml"), []byte("timeline:\n  track_width: 640\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timeline.TrackWidth != 640 {
		t.Fatalf("track width = %v", cfg.Timeline.TrackWidth)
	}
	if _, err := Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestWebhooks(t *testing.T) {
	cfg, err := FromYAML([]byte(`webhooks:
  - url: https://hooks.example.com/reel
    events: [annotation.created]
  - url: http://localhost:9000
    enabled: false
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Webhooks) != 2 {
		t.Fatalf("webhooks = %d", len(cfg.Webhooks))
	}
	if !cfg.Webhooks[0].Active() || cfg.Webhooks[1].Active() {
		t.Fatalf("active flags wrong: %+v", cfg.Webhooks)
	}
	if _, err := FromYAML([]byte("webhooks:\n  - url: ftp://nope\n")); err == nil {
		t.Fatalf("expected non-http url to be rejected")
	}
}
