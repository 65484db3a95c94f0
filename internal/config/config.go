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
	Artifact ArtifactConfig `yaml:"artifact" mapstructure:"artifact"`
	Vision   VisionConfig   `yaml:"vision" mapstructure:"vision"`
	Mailer   MailerConfig   `yaml:"mailer" mapstructure:"mailer"`
	Sheets   SheetsConfig   `yaml:"sheets" mapstructure:"sheets"`
	CRM      CRMConfig      `yaml:"crm" mapstructure:"crm"`
	Journal  JournalConfig  `yaml:"journal" mapstructure:"journal"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Delivery DeliveryConfig `yaml:"delivery" mapstructure:"delivery"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ArtifactConfig configures the session artifact store.
type ArtifactConfig struct {
	Backend   string `yaml:"backend" mapstructure:"backend"` // "s3" or "memory"
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// VisionConfig holds Anthropic API settings for analysis stages.
type VisionConfig struct {
	Key              string  `yaml:"key" mapstructure:"key"`
	Model            string  `yaml:"model" mapstructure:"model"`
	MaxTokens        int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMin   float64 `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	StageTimeoutSecs int     `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
}

// StageTimeout returns the per-stage analysis call timeout as a duration.
func (c VisionConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSecs) * time.Second
}

// MailerConfig holds transactional email API settings.
type MailerConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	FromName  string `yaml:"from_name" mapstructure:"from_name"`
	FromEmail string `yaml:"from_email" mapstructure:"from_email"`
}

// SheetsConfig holds the spreadsheet submission-log settings.
type SheetsConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SpreadsheetID string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	SheetName     string `yaml:"sheet_name" mapstructure:"sheet_name"`
}

// CRMConfig holds Notion CRM notification settings.
type CRMConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	DatabaseID string `yaml:"database_id" mapstructure:"database_id"`
}

// JournalConfig configures the local delivery journal.
type JournalConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PipelineConfig configures stage coordination.
type PipelineConfig struct {
	WaitMaxRetries int    `yaml:"wait_max_retries" mapstructure:"wait_max_retries"`
	WaitDelayMs    int    `yaml:"wait_delay_ms" mapstructure:"wait_delay_ms"`
	SelfBaseURL    string `yaml:"self_base_url" mapstructure:"self_base_url"`
}

// WaitDelay returns the waiter poll delay as a duration.
func (c PipelineConfig) WaitDelay() time.Duration {
	return time.Duration(c.WaitDelayMs) * time.Millisecond
}

// DeliveryConfig configures the background delivery pipeline.
type DeliveryConfig struct {
	OfferDelayMins    int `yaml:"offer_delay_mins" mapstructure:"offer_delay_mins"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// OfferDelay returns the personal-offer delay as a duration.
func (c DeliveryConfig) OfferDelay() time.Duration {
	return time.Duration(c.OfferDelayMins) * time.Minute
}

// SweepInterval returns the due-offer sweep interval as a duration.
func (c DeliveryConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("APPRAISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("artifact.backend", "s3")
	v.SetDefault("artifact.region", "us-east-1")
	v.SetDefault("artifact.bucket", "appraisal-sessions")
	v.SetDefault("artifact.use_ssl", true)
	v.SetDefault("vision.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("vision.max_tokens", 4096)
	v.SetDefault("vision.requests_per_min", 50)
	v.SetDefault("vision.stage_timeout_secs", 120)
	v.SetDefault("mailer.base_url", "https://api.mailer.example.com/v3")
	v.SetDefault("mailer.from_name", "Verity Appraisals")
	v.SetDefault("mailer.from_email", "reports@verityappraisals.com")
	v.SetDefault("sheets.base_url", "https://sheets.googleapis.com/v4")
	v.SetDefault("sheets.sheet_name", "Submissions")
	v.SetDefault("journal.path", "appraisal.db")
	v.SetDefault("pipeline.wait_max_retries", 5)
	v.SetDefault("pipeline.wait_delay_ms", 2000)
	v.SetDefault("pipeline.self_base_url", "http://localhost:8080")
	v.SetDefault("delivery.offer_delay_mins", 60)
	v.SetDefault("delivery.sweep_interval_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
