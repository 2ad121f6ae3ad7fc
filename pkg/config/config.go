package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all mealsync configuration. It is constructed once at startup
// and passed into each component; nothing reads ambient state after load.
type Config struct {
	Listen   string         `yaml:"listen"`
	DBPath   string         `yaml:"db_path"`
	Version  string         `yaml:"version"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Shell    ShellConfig    `yaml:"shell"`
	Bypass   []string       `yaml:"bypass"`
	Router   RouterConfig   `yaml:"router"`
	Queue    QueueConfig    `yaml:"queue"`
	Sync     SyncConfig     `yaml:"sync"`
	Journal  JournalConfig  `yaml:"journal"`
}

// UpstreamConfig describes the hosted MealMate API the gateway fronts.
type UpstreamConfig struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	APIPrefix   string        `yaml:"api_prefix"`
	EntryPath   string        `yaml:"entry_path"`
	SummaryPath string        `yaml:"summary_path"`
	DatesPath   string        `yaml:"dates_path"`
}

// ShellConfig lists the app-shell resources precached at install.
type ShellConfig struct {
	Root   string   `yaml:"root"`
	Assets []string `yaml:"assets"`
}

// RouterConfig holds the ordered strategy pattern groups. Groups are
// evaluated in the order cache_first, stale_while_revalidate, network_first;
// patterns within a group keep their listed order.
type RouterConfig struct {
	CacheFirst           []string `yaml:"cache_first"`
	StaleWhileRevalidate []string `yaml:"stale_while_revalidate"`
	NetworkFirst         []string `yaml:"network_first"`
}

// QueueConfig controls the durable pending-write queue.
type QueueConfig struct {
	MaxPending int `yaml:"max_pending"`
}

// SyncConfig controls background reconciliation. Tag names the sync trigger
// in logs; Interval is how often the gateway retries while entries are
// pending.
type SyncConfig struct {
	Tag      string        `yaml:"tag"`
	Interval time.Duration `yaml:"interval"`
}

// JournalConfig controls the sync attempt journal.
type JournalConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// Default returns a Config with sensible defaults, including the standard
// strategy rule groups and app-shell list.
func Default() *Config {
	return &Config{
		Listen:  ":8090",
		DBPath:  "mealsync.db",
		Version: "v1",
		Upstream: UpstreamConfig{
			URL:         "https://api.mealmate.app",
			Timeout:     15 * time.Second,
			APIPrefix:   "/api/",
			EntryPath:   "/api/meal-log",
			SummaryPath: "/api/summaries",
			DatesPath:   "/api/meal-log/dates",
		},
		Shell: ShellConfig{
			Root: "/",
			Assets: []string{
				"/",
				"/offline",
				"/manifest.json",
				"/icons/icon-192.png",
				"/icons/icon-512.png",
			},
		},
		Bypass: []string{
			"/_next/webpack-hmr",
			"/sockjs-node/",
			"/__nextjs",
		},
		Router: RouterConfig{
			CacheFirst: []string{
				`^/api/meals(\?|$)`,
				`^/api/friends(\?|$)`,
			},
			StaleWhileRevalidate: []string{
				`^/api/meal-log/dates(\?|$)`,
				`^/api/streak(\?|$)`,
			},
			NetworkFirst: []string{
				`^/api/`,
			},
		},
		Queue: QueueConfig{
			MaxPending: 500,
		},
		Sync: SyncConfig{
			Tag:      "meal-entry-sync",
			Interval: 5 * time.Minute,
		},
		Journal: JournalConfig{
			Enabled:       true,
			RetentionDays: 14,
		},
	}
}

// Load reads a YAML config file over the defaults and expands environment
// variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
