package models

import "time"

// Config is the full runtime configuration, loaded from config.yaml, .env and
// the environment.
type Config struct {
	Bot         BotConfig        `json:"bot" mapstructure:"bot"`
	Auth        AuthConfig       `json:"auth" mapstructure:"auth"`
	Database    DatabaseConfig   `json:"database" mapstructure:"database"`
	Archive     ArchiveConfig    `json:"archive" mapstructure:"archive"`
	Backfill    BackfillConfig   `json:"backfill" mapstructure:"backfill"`
	Attachments AttachmentConfig `json:"attachments" mapstructure:"attachments"`
	HTTP        HTTPConfig       `json:"http" mapstructure:"http"`
	GRPC        GRPCConfig       `json:"grpc" mapstructure:"grpc"`
	NATS        NATSConfig       `json:"nats" mapstructure:"nats"`
	Log         LogConfig        `json:"log" mapstructure:"log"`
}

type BotConfig struct {
	Token          string `json:"-" mapstructure:"token"`
	AdminChannelID string `json:"admin_channel_id" mapstructure:"admin_channel_id"`
}

// AuthConfig gates the slash commands.
type AuthConfig struct {
	Developers []string `json:"developers" mapstructure:"developers"`
	AdminRoles []string `json:"admin_roles" mapstructure:"admin_roles"`
}

type DatabaseConfig struct {
	DSN string `json:"dsn" mapstructure:"dsn"`
}

// ArchiveConfig filters live events before they reach the reconciler.
// An empty Guilds list accepts every guild.
type ArchiveConfig struct {
	Guilds  []string `json:"guilds" mapstructure:"guilds"`
	Exclude []string `json:"exclude" mapstructure:"exclude"`
}

type BackfillConfig struct {
	Interval  time.Duration `json:"interval" mapstructure:"interval"`
	PageSize  int           `json:"page_size" mapstructure:"page_size"`
	OnStartup bool          `json:"on_startup" mapstructure:"on_startup"`
}

type AttachmentConfig struct {
	Interval           time.Duration `json:"interval" mapstructure:"interval"`
	BatchSize          int           `json:"batch_size" mapstructure:"batch_size"`
	MaxBytes           int64         `json:"max_bytes" mapstructure:"max_bytes"`
	DownloadsPerSecond float64       `json:"downloads_per_second" mapstructure:"downloads_per_second"`
	Timeout            time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxAttempts        int           `json:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoff       time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
}

type HTTPConfig struct {
	Addr   string `json:"addr" mapstructure:"addr"`
	APIKey string `json:"-" mapstructure:"api_key"`
}

type GRPCConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

type NATSConfig struct {
	URL           string `json:"url" mapstructure:"url"`
	SubjectPrefix string `json:"subject_prefix" mapstructure:"subject_prefix"`
}

type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
}
