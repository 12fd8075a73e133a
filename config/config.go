package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/s0up4200/wxapi/wechat"
)

// EnvPrefix is prepended to every environment override, e.g. WXAPI_WECHAT_APP_ID
const EnvPrefix = "WXAPI"

// Load loads the configuration from file and environment. With an empty
// configPath a missing file is not an error; the environment may supply
// everything.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	// Set default values
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Check current directory first
		v.AddConfigPath(".")

		// Check home directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".wxapi"))
		}

		// Check /etc
		v.AddConfigPath("/etc/wxapi/")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Every key that may come
// from the environment needs an entry here so Unmarshal picks it up.
func setDefaults(v *viper.Viper) {
	// WeChat defaults
	v.SetDefault("wechat.app_id", "")
	v.SetDefault("wechat.app_secret", "")
	v.SetDefault("wechat.api_entry", wechat.DefaultAPIEntry)
	v.SetDefault("wechat.token_url", "")
	v.SetDefault("wechat.timeout", wechat.DefaultTimeout)
	v.SetDefault("wechat.user_agent", "wxapi")
	v.SetDefault("wechat.fail_fast_token", false)

	// OAuth defaults
	v.SetDefault("oauth.redirect_uri", "")
	v.SetDefault("oauth.scope", wechat.ScopeUserInfo)
	v.SetDefault("oauth.authorize_url", wechat.AuthorizeURL)
	v.SetDefault("oauth.token_url", wechat.TokenURL)
	v.SetDefault("oauth.userinfo_url", wechat.UserInfoURL)

	// Filter defaults
	v.SetDefault("filter.default_expression", "")
	v.SetDefault("filter.cache_size", 128)

	// Batch defaults
	v.SetDefault("batch.concurrency", wechat.DefaultBatchConcurrency)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if cfg.WeChat.AppID == "" {
		return fmt.Errorf("wechat.app_id is required")
	}

	if cfg.WeChat.AppSecret == "" || cfg.WeChat.AppSecret == "your-app-secret-here" {
		return fmt.Errorf("wechat.app_secret must be set to a valid secret")
	}

	if cfg.WeChat.Timeout < 0 {
		return fmt.Errorf("wechat.timeout must not be negative")
	}

	switch cfg.OAuth.Scope {
	case "", wechat.ScopeBase, wechat.ScopeUserInfo:
	default:
		return fmt.Errorf("invalid oauth.scope: %s (must be '%s' or '%s')", cfg.OAuth.Scope, wechat.ScopeBase, wechat.ScopeUserInfo)
	}

	for name, preset := range cfg.Filter.Presets {
		if strings.TrimSpace(preset.Expression) == "" {
			return fmt.Errorf("filter preset '%s' has no expression", name)
		}
	}

	if cfg.Filter.CacheSize < 0 {
		return fmt.Errorf("filter.cache_size must not be negative")
	}

	if cfg.Batch.Concurrency < 0 {
		return fmt.Errorf("batch.concurrency must not be negative")
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"console": true,
		"json":    true,
	}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}
