package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Leads      LeadsConfig      `yaml:"leads" mapstructure:"leads"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	SMTP       SMTPConfig       `yaml:"smtp" mapstructure:"smtp"`
	Bland      BlandConfig      `yaml:"bland" mapstructure:"bland"`
	LinkedIn   LinkedInConfig   `yaml:"linkedin" mapstructure:"linkedin"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LeadsConfig selects where the pipeline reads leads from.
type LeadsConfig struct {
	Source string `yaml:"source" mapstructure:"source"` // "store" or "salesforce"
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// Timeout returns the per-call generation timeout.
func (c AnthropicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SMTPConfig holds the mail transport settings.
type SMTPConfig struct {
	Host          string `yaml:"host" mapstructure:"host"`
	Port          int    `yaml:"port" mapstructure:"port"`
	Username      string `yaml:"username" mapstructure:"username"`
	Password      string `yaml:"password" mapstructure:"password"`
	From          string `yaml:"from" mapstructure:"from"`
	MessageDomain string `yaml:"message_domain" mapstructure:"message_domain"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// BlandConfig holds the voice-call dispatch provider settings.
type BlandConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	Voice           string `yaml:"voice" mapstructure:"voice"`
	Language        string `yaml:"language" mapstructure:"language"`
	MaxDurationSecs int    `yaml:"max_duration_secs" mapstructure:"max_duration_secs"`
}

// LinkedInConfig holds LinkedIn OAuth app settings plus an optional
// pre-acquired access token. Token expiry is carried as data so dispatch can
// refuse an expired credential instead of failing at the provider.
type LinkedInConfig struct {
	ClientID       string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret   string `yaml:"client_secret" mapstructure:"client_secret"`
	RedirectURI    string `yaml:"redirect_uri" mapstructure:"redirect_uri"`
	AccessToken    string `yaml:"access_token" mapstructure:"access_token"`
	PersonURN      string `yaml:"person_urn" mapstructure:"person_urn"`
	TokenExpiresAt string `yaml:"token_expires_at" mapstructure:"token_expires_at"` // RFC3339
}

// SalesforceConfig holds Salesforce JWT auth settings for the CRM lead source.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SenderConfig is the outbound identity interpolated into prompts.
type SenderConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Title   string `yaml:"title" mapstructure:"title"`
	Company string `yaml:"company" mapstructure:"company"`
}

// PipelineConfig configures coordinator behavior.
type PipelineConfig struct {
	AutoApprove           bool         `yaml:"auto_approve" mapstructure:"auto_approve"`
	DefaultClassification string       `yaml:"default_classification" mapstructure:"default_classification"`
	DefaultCampaign       string       `yaml:"default_campaign" mapstructure:"default_campaign"`
	Sender                SenderConfig `yaml:"sender" mapstructure:"sender"`
}

// SchedulerConfig configures the follow-up scheduler.
type SchedulerConfig struct {
	WakeSecs            int     `yaml:"wake_secs" mapstructure:"wake_secs"`
	FollowUpOffsetDays  []int   `yaml:"follow_up_offset_days" mapstructure:"follow_up_offset_days"`
	TemplatesPath       string  `yaml:"templates_path" mapstructure:"templates_path"`
	DispatchRatePerSec  float64 `yaml:"dispatch_rate_per_sec" mapstructure:"dispatch_rate_per_sec"`
	DispatchTimeoutSecs int     `yaml:"dispatch_timeout_secs" mapstructure:"dispatch_timeout_secs"`
}

// WakeInterval returns the scheduler poll interval.
func (c SchedulerConfig) WakeInterval() time.Duration {
	return time.Duration(c.WakeSecs) * time.Second
}

// DispatchTimeout bounds one follow-up's generation plus send.
func (c SchedulerConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSecs) * time.Second
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port          int      `yaml:"port" mapstructure:"port"`
	PublicBaseURL string   `yaml:"public_base_url" mapstructure:"public_base_url"`
	CORSOrigins   []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("leads.source", "store")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.timeout_secs", 30)
	v.SetDefault("bland.base_url", "https://api.bland.ai")
	v.SetDefault("bland.voice", "maya")
	v.SetDefault("bland.language", "en-US")
	v.SetDefault("bland.max_duration_secs", 120)
	v.SetDefault("linkedin.redirect_uri", "http://localhost:8080/auth/linkedin/callback")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5.0)
	v.SetDefault("pipeline.auto_approve", false)
	v.SetDefault("pipeline.default_classification", "Enterprise SaaS Outreach")
	v.SetDefault("pipeline.default_campaign", "general")
	v.SetDefault("pipeline.sender.name", "Outreach Bot")
	v.SetDefault("pipeline.sender.title", "Solutions Architect")
	v.SetDefault("pipeline.sender.company", "Sells Group")
	v.SetDefault("scheduler.wake_secs", 3600)
	v.SetDefault("scheduler.follow_up_offset_days", []int{3, 7, 14})
	v.SetDefault("scheduler.dispatch_rate_per_sec", 1.0)
	v.SetDefault("scheduler.dispatch_timeout_secs", 120)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
