// Package config loads the YAML configuration for the agent loop and
// bridge: project roster, timeouts, run ceilings, and worker/chat CLI
// invocation templates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Project is one entry in the project roster: a name and its working
// directory, used for mission routing and round-robin selection.
type Project struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// WorkerConfig configures how the worker CLI is invoked for missions and
// autonomous iterations.
type WorkerConfig struct {
	Command        []string `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// ChatConfig configures the background chat worker invoked by the bridge.
type ChatConfig struct {
	Command             []string `yaml:"command"`
	TimeoutSeconds      int      `yaml:"timeout_seconds"`
	LiteFallbackCommand []string `yaml:"lite_fallback_command"`
}

// BridgeConfig configures the messaging bridge poller.
type BridgeConfig struct {
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	LongPollSeconds     int    `yaml:"long_poll_seconds"`
	RequestTimeoutSecs  int    `yaml:"request_timeout_seconds"`
	Provider            string `yaml:"provider"`
	BaseURL             string `yaml:"base_url"`
	ChatID              string `yaml:"chat_id"`
	Token               string `yaml:"token"`
}

// LoopConfig configures the agent loop's run ceilings and crash recovery.
type LoopConfig struct {
	MaxRunsPerIteration  int `yaml:"max_runs_per_iteration"`
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
	MaxMainCrashes       int `yaml:"max_main_crashes"`
	BackoffBaseSeconds   int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds    int `yaml:"backoff_cap_seconds"`
}

// GitSyncConfig controls periodic sync and auto-merge of mission branches.
type GitSyncConfig struct {
	Enabled          bool   `yaml:"enabled"`
	AutoMergePrefix  string `yaml:"auto_merge_prefix"`
	SyncIntervalRuns int    `yaml:"sync_interval_runs"`
	RemoteName       string `yaml:"remote_name"`
}

// Config is the root configuration document.
type Config struct {
	Root     string              `yaml:"root"`
	Instance string              `yaml:"instance"`
	Projects []Project           `yaml:"projects"`
	Worker   *WorkerConfig       `yaml:"worker"`
	Chat     *ChatConfig         `yaml:"chat"`
	Bridge   *BridgeConfig       `yaml:"bridge"`
	Loop     *LoopConfig         `yaml:"loop"`
	GitSync  *GitSyncConfig      `yaml:"git_sync"`
	Skills   map[string][]string `yaml:"skills"`
}

// Default returns a configuration with conservative defaults for every
// section; Load overlays the YAML document on top of this.
func Default() *Config {
	return &Config{
		Worker: &WorkerConfig{
			TimeoutSeconds: 3600,
		},
		Chat: &ChatConfig{
			TimeoutSeconds: 180,
		},
		Bridge: &BridgeConfig{
			PollIntervalSeconds: 3,
			LongPollSeconds:     30,
			RequestTimeoutSecs:  35,
			Provider:            "telegram",
			BaseURL:             "https://api.telegram.org",
		},
		Loop: &LoopConfig{
			MaxRunsPerIteration:  20,
			MaxConsecutiveErrors: 10,
			MaxMainCrashes:       5,
			BackoffBaseSeconds:   5,
			BackoffCapSeconds:    300,
		},
		GitSync: &GitSyncConfig{
			Enabled:          true,
			AutoMergePrefix:  "mission/",
			SyncIntervalRuns: 5,
			RemoteName:       "origin",
		},
	}
}

// Load reads and parses path on top of Default(), falling back to env vars
// for root, instance, chat id and token when the file doesn't set them —
// mirroring how the koan shell scripts layer a projects.yaml over KOAN_*
// env vars. Projects have no env fallback: at least one must be configured.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	expandEnv(cfg)

	if cfg.Root == "" {
		cfg.Root = os.Getenv("KOAN_ROOT")
	}
	if cfg.Instance == "" {
		cfg.Instance = os.Getenv("KOAN_INSTANCE")
	}
	if cfg.Bridge.ChatID == "" {
		cfg.Bridge.ChatID = os.Getenv("KOAN_CHAT_ID")
	}
	if cfg.Bridge.Token == "" {
		cfg.Bridge.Token = os.Getenv("KOAN_CHAT_TOKEN")
	}

	if len(cfg.Projects) == 0 {
		return nil, fmt.Errorf("config: no projects configured")
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("config: no root directory configured")
	}

	return cfg, nil
}

// expandEnv substitutes ${VAR} placeholders against the process environment
// in every string field that can plausibly carry one, mirroring the
// teacher's WorkerConfig.Env expansion in internal/policy.
func expandEnv(cfg *Config) {
	expand := func(s string) string { return os.Expand(s, os.Getenv) }
	expandAll := func(ss []string) {
		for i, s := range ss {
			ss[i] = expand(s)
		}
	}

	if cfg.Worker != nil {
		expandAll(cfg.Worker.Command)
	}
	if cfg.Chat != nil {
		expandAll(cfg.Chat.Command)
		expandAll(cfg.Chat.LiteFallbackCommand)
	}
	if cfg.Bridge != nil {
		cfg.Bridge.BaseURL = expand(cfg.Bridge.BaseURL)
		cfg.Bridge.ChatID = expand(cfg.Bridge.ChatID)
		cfg.Bridge.Token = expand(cfg.Bridge.Token)
	}
	if cfg.GitSync != nil {
		cfg.GitSync.RemoteName = expand(cfg.GitSync.RemoteName)
		cfg.GitSync.AutoMergePrefix = expand(cfg.GitSync.AutoMergePrefix)
	}
	for i := range cfg.Projects {
		cfg.Projects[i].Path = expand(cfg.Projects[i].Path)
	}
	for name, cmd := range cfg.Skills {
		expandAll(cmd)
		cfg.Skills[name] = cmd
	}
}

// WorkerTimeout returns the worker invocation timeout as a time.Duration.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Worker.TimeoutSeconds) * time.Second
}

// ChatTimeout returns the chat invocation timeout as a time.Duration.
func (c *Config) ChatTimeout() time.Duration {
	return time.Duration(c.Chat.TimeoutSeconds) * time.Second
}

// LongPoll returns the bridge's long-poll timeout as a time.Duration.
func (c *Config) LongPoll() time.Duration {
	return time.Duration(c.Bridge.LongPollSeconds) * time.Second
}

// RequestTimeout returns the bridge's HTTP request timeout as a
// time.Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Bridge.RequestTimeoutSecs) * time.Second
}

// PollInterval returns the bridge's poll loop interval as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Bridge.PollIntervalSeconds) * time.Second
}

// ProjectByName returns the project with the given name, or false if none
// matches.
func (c *Config) ProjectByName(name string) (Project, bool) {
	for _, p := range c.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return Project{}, false
}
