package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the base config file looked up in the config directory.
const FileName = "config.yaml"

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.admin_channel_id", "")
	v.SetDefault("auth.developers", []string{})
	v.SetDefault("auth.admin_roles", []string{})
	v.SetDefault("database.dsn", "sqlite://archive.db")
	v.SetDefault("archive.guilds", []string{})
	v.SetDefault("archive.exclude", []string{})
	v.SetDefault("backfill.interval", 30*time.Second)
	v.SetDefault("backfill.page_size", 50)
	v.SetDefault("backfill.on_startup", true)
	v.SetDefault("attachments.interval", 60*time.Second)
	v.SetDefault("attachments.batch_size", 50)
	v.SetDefault("attachments.max_bytes", 10*1024*1024)
	v.SetDefault("attachments.downloads_per_second", 2.0)
	v.SetDefault("attachments.timeout", 30*time.Second)
	v.SetDefault("attachments.max_attempts", 5)
	v.SetDefault("attachments.retry_backoff", 5*time.Minute)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.api_key", "")
	v.SetDefault("grpc.addr", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "archive")
	v.SetDefault("log.level", "info")
}

// Load reads configuration from, in increasing priority:
//  1. built-in defaults
//  2. config.yaml in dir
//  3. the environment, with .env in dir loaded first (bot.token is BOT_TOKEN)
//
// A missing config.yaml or .env is not an error.
func Load(dir string) (*models.Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil {
		log.Printf("No .env file found in %s, skipping.", dir)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
		log.Printf("No %s found in %s, using defaults and environment.", FileName, dir)
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Watch reloads the configuration whenever config.yaml in dir is written and
// passes the result to onChange. It returns when ctx is cancelled.
func Watch(ctx context.Context, dir string, logger *slog.Logger, onChange func(*models.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files, so watch the directory rather than the file.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger = logger.With("module", "config")
	target := filepath.Clean(filepath.Join(dir, FileName))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(dir)
			if err != nil {
				logger.Warn("config.reload_failed", "error", err)
				continue
			}
			logger.Info("config.reloaded", "file", event.Name)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config.watch_error", "error", err)
		}
	}
}
