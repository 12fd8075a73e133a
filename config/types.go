package config

import "time"

// Config represents the complete configuration structure
type Config struct {
	WeChat  WeChatConfig  `mapstructure:"wechat"`
	OAuth   OAuthConfig   `mapstructure:"oauth"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// WeChatConfig holds the application credentials and API connection details
type WeChatConfig struct {
	AppID       string            `mapstructure:"app_id"`
	AppSecret   string            `mapstructure:"app_secret"`
	APIEntry    string            `mapstructure:"api_entry"`
	TokenURL    string            `mapstructure:"token_url"`
	TokenParams map[string]string `mapstructure:"token_params"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	UserAgent   string            `mapstructure:"user_agent"`

	// FailFastToken returns the credential-grant error instead of sending
	// requests without a token
	FailFastToken bool `mapstructure:"fail_fast_token"`
}

// OAuthConfig holds defaults for the user authorization flow
type OAuthConfig struct {
	RedirectURI  string `mapstructure:"redirect_uri"`
	Scope        string `mapstructure:"scope"`
	AuthorizeURL string `mapstructure:"authorize_url"`
	TokenURL     string `mapstructure:"token_url"`
	UserInfoURL  string `mapstructure:"userinfo_url"`
}

// FilterConfig contains payload filter definitions
type FilterConfig struct {
	DefaultExpression string                  `mapstructure:"default_expression"`
	Presets           map[string]PresetFilter `mapstructure:"presets"`
	CacheSize         int                     `mapstructure:"cache_size"`
}

// PresetFilter is a named expression
type PresetFilter struct {
	Description string `mapstructure:"description"`
	Expression  string `mapstructure:"expression"`
}

// BatchConfig controls the batch command
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}
