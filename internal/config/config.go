// Package config loads the runtime configuration from klokpilot.toml, the
// environment (KLOKPILOT_ prefix), and built-in defaults, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "klokpilot"
	configType = "toml"
	envPrefix  = "KLOKPILOT"
	configDir  = ".klokpilot"
)

type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Files      FilesConfig      `mapstructure:"files"`
	Groq       GroqConfig       `mapstructure:"groq"`
	Automation AutomationConfig `mapstructure:"automation"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Log        LogConfig        `mapstructure:"log"`
}

type APIConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	Origin       string `mapstructure:"origin"`
	Referer      string `mapstructure:"referer"`
	ReferralCode string `mapstructure:"referral_code"`
}

type FilesConfig struct {
	SessionTokens string `mapstructure:"session_tokens"`
	Proxies       string `mapstructure:"proxies"`
	PrivateKeys   string `mapstructure:"private_keys"`
	GroqKey       string `mapstructure:"groq_key"`
}

type GroqConfig struct {
	Model string `mapstructure:"model"`
}

type AutomationConfig struct {
	VerifyThreads  int           `mapstructure:"verify_threads"`
	SwitchInterval time.Duration `mapstructure:"switch_interval"`
	MinTurnDelay   time.Duration `mapstructure:"min_turn_delay"`
	MaxTurnDelay   time.Duration `mapstructure:"max_turn_delay"`
}

type RetryConfig struct {
	MaxRetries   uint64        `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Debug bool   `mapstructure:"debug"`
}

// Load reads klokpilot.toml from the working directory or ~/.klokpilot. A
// missing file leaves the defaults in place.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(".")
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, configDir))
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.API.BaseURL == "" {
		return Config{}, errors.New("api.base_url is empty")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api1-pp.klokapp.ai/v1")
	v.SetDefault("api.origin", "https://klokapp.ai")
	v.SetDefault("api.referer", "https://klokapp.ai/")
	v.SetDefault("api.referral_code", "GVJRESB4")

	v.SetDefault("files.session_tokens", "session-token.key")
	v.SetDefault("files.proxies", "proxies.txt")
	v.SetDefault("files.private_keys", "priv.txt")
	v.SetDefault("files.groq_key", "groq-api.key")

	v.SetDefault("groq.model", "llama3-8b-8192")

	v.SetDefault("automation.verify_threads", 20)
	v.SetDefault("automation.switch_interval", "600s")
	v.SetDefault("automation.min_turn_delay", "3s")
	v.SetDefault("automation.max_turn_delay", "10s")

	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.initial_delay", "2s")
	v.SetDefault("retry.multiplier", 1.5)

	v.SetDefault("log.file", "klokpilot.log")
	v.SetDefault("log.debug", false)
}
