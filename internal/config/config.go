// Package config loads Forge's configuration from XDG user config,
// project-level overrides, and environment variables, the same
// layered precedence scheme the teacher's config package uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"golang.org/x/time/rate"

	"github.com/ultracode-dev/forge/internal/cmdrunner"
	"github.com/ultracode-dev/forge/internal/redflag"
	"github.com/ultracode-dev/forge/internal/voting"
)

// Config holds all configuration for a Forge installation.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	RedFlag   RedFlagConfig   `mapstructure:"red_flag"`
	Voting    VotingConfig    `mapstructure:"voting"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// AWSConfig holds AWS Bedrock settings, used when a project's model
// spec selects the "bedrock" provider type.
type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// DefaultsConfig holds default per-project settings applied to newly
// created Projects that don't override them.
type DefaultsConfig struct {
	PlannerModel  string `mapstructure:"planner_model"`
	ExecutorModel string `mapstructure:"executor_model"`
	Concurrency   int    `mapstructure:"concurrency"`
}

// SafetyConfig controls which shell commands ActionExecutor's
// CommandRunner may run without approval.
type SafetyConfig struct {
	Mode               string   `mapstructure:"mode"` // "auto" or "ask"
	AllowPatterns      []string `mapstructure:"allow_patterns"`
	DenyPatterns       []string `mapstructure:"deny_patterns"`
	RateLimitPerSecond float64  `mapstructure:"rate_limit_per_second"`
	Burst              int      `mapstructure:"burst"`
}

// Policy converts SafetyConfig into a cmdrunner.Policy.
func (s SafetyConfig) Policy() cmdrunner.Policy {
	mode := s.Mode
	if mode == "" {
		mode = "ask"
	}
	limit := s.RateLimitPerSecond
	if limit <= 0 {
		limit = 2
	}
	burst := s.Burst
	if burst <= 0 {
		burst = 5
	}
	return cmdrunner.Policy{
		Mode:          mode,
		AllowPatterns: s.AllowPatterns,
		DenyPatterns:  s.DenyPatterns,
		RateLimit:     rate.Limit(limit),
		Burst:         burst,
	}
}

// RedFlagConfig controls candidate pre-apply screening.
type RedFlagConfig struct {
	MaxChars         int    `mapstructure:"max_chars"`
	RequiredRegex    string `mapstructure:"required_regex"`
	RequireJSON      bool   `mapstructure:"require_json"`
	RequiredJSONPath string `mapstructure:"required_json_path"`
}

// Rules converts RedFlagConfig into redflag.Rules.
func (r RedFlagConfig) Rules() redflag.Rules {
	return redflag.Rules{
		MaxChars:         r.MaxChars,
		RequiredRegex:    r.RequiredRegex,
		RequireJSON:      r.RequireJSON,
		RequiredJSONPath: r.RequiredJSONPath,
	}
}

// VotingConfig controls the voting engine's sampling schedule.
type VotingConfig struct {
	K              int       `mapstructure:"k"`
	InitialSamples int       `mapstructure:"initial_samples"`
	MaxSamples     int       `mapstructure:"max_samples"`
	Temperatures   []float64 `mapstructure:"temperatures"`
}

// Engine converts VotingConfig into voting.Config.
func (v VotingConfig) Engine() voting.Config {
	return voting.Config{
		K:              v.K,
		InitialSamples: v.InitialSamples,
		MaxSamples:     v.MaxSamples,
		Temperatures:   v.Temperatures,
	}
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Verbosity string `mapstructure:"verbosity"` // "quiet", "normal", "full"
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (ANTHROPIC_API_KEY)
//  2. Project config (.forge.yaml in the current directory or a parent)
//  3. User config (~/.config/forge/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("config: merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("aws.region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file, bypassing
// XDG/project discovery. Used by tests and by callers that already
// know which file to read.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes cfg to the user config file, creating its directory if
// needed.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("config: creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("aws.region", cfg.AWS.Region)
	v.Set("defaults.planner_model", cfg.Defaults.PlannerModel)
	v.Set("defaults.executor_model", cfg.Defaults.ExecutorModel)
	v.Set("defaults.concurrency", cfg.Defaults.Concurrency)
	v.Set("safety.mode", cfg.Safety.Mode)
	v.Set("safety.allow_patterns", cfg.Safety.AllowPatterns)
	v.Set("safety.deny_patterns", cfg.Safety.DenyPatterns)
	v.Set("safety.rate_limit_per_second", cfg.Safety.RateLimitPerSecond)
	v.Set("safety.burst", cfg.Safety.Burst)
	v.Set("red_flag.max_chars", cfg.RedFlag.MaxChars)
	v.Set("red_flag.required_regex", cfg.RedFlag.RequiredRegex)
	v.Set("red_flag.require_json", cfg.RedFlag.RequireJSON)
	v.Set("red_flag.required_json_path", cfg.RedFlag.RequiredJSONPath)
	v.Set("voting.k", cfg.Voting.K)
	v.Set("voting.initial_samples", cfg.Voting.InitialSamples)
	v.Set("voting.max_samples", cfg.Voting.MaxSamples)
	v.Set("voting.temperatures", cfg.Voting.Temperatures)
	v.Set("logging.verbosity", cfg.Logging.Verbosity)

	return v.WriteConfig()
}

// ExportYAML renders cfg as a YAML document for display, independent
// of viper's own file-writing path used by Save. Useful for a "show
// effective config" command where nothing should touch disk.
func ExportYAML(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: rendering yaml: %w", err)
	}
	return out, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file,
// or "" if none is found from the current directory upward.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("defaults.planner_model", "anthropic:claude-sonnet-4-5-20250929")
	v.SetDefault("defaults.executor_model", "anthropic:claude-sonnet-4-5-20250929")
	v.SetDefault("defaults.concurrency", 4)

	v.SetDefault("safety.mode", "ask")
	v.SetDefault("safety.allow_patterns", []string{})
	v.SetDefault("safety.deny_patterns", []string{})
	v.SetDefault("safety.rate_limit_per_second", 2.0)
	v.SetDefault("safety.burst", 5)

	v.SetDefault("red_flag.max_chars", 4000)
	v.SetDefault("red_flag.require_json", false)

	v.SetDefault("voting.k", 2)
	v.SetDefault("voting.initial_samples", 1)
	v.SetDefault("voting.max_samples", 5)
	v.SetDefault("voting.temperatures", []float64{0.2, 0.5, 0.7, 0.9, 1.0})

	v.SetDefault("logging.verbosity", "normal")
}

func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "forge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "forge")
	}
	return filepath.Join(home, ".config", "forge")
}

func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".forge.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns a Config populated with built-in defaults, without
// touching the filesystem or environment.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			PlannerModel:  "anthropic:claude-sonnet-4-5-20250929",
			ExecutorModel: "anthropic:claude-sonnet-4-5-20250929",
			Concurrency:   4,
		},
		Safety: SafetyConfig{
			Mode:               "ask",
			RateLimitPerSecond: 2.0,
			Burst:              5,
		},
		RedFlag: RedFlagConfig{
			MaxChars: 4000,
		},
		Voting: VotingConfig{
			K:              2,
			InitialSamples: 1,
			MaxSamples:     5,
			Temperatures:   []float64{0.2, 0.5, 0.7, 0.9, 1.0},
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
	}
}

// ReloadInterval is how often a long-running `forge status --watch`
// sweep should re-check project state between cron ticks.
const ReloadInterval = 5 * time.Second
