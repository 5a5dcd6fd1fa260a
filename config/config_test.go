package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sqlite://archive.db", cfg.Database.DSN)
	assert.Equal(t, 30*time.Second, cfg.Backfill.Interval)
	assert.Equal(t, 50, cfg.Backfill.PageSize)
	assert.True(t, cfg.Backfill.OnStartup)
	assert.Equal(t, time.Minute, cfg.Attachments.Interval)
	assert.EqualValues(t, 10*1024*1024, cfg.Attachments.MaxBytes)
	assert.Equal(t, 5, cfg.Attachments.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Attachments.RetryBackoff)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Empty(t, cfg.GRPC.Addr)
	assert.Equal(t, "archive", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, `
bot:
  token: from-file
  admin_channel_id: "123"
auth:
  developers: ["1", "2"]
  admin_roles: ["9"]
database:
  dsn: postgres://archive@localhost/archive
archive:
  guilds: ["900"]
  exclude: ["501"]
backfill:
  interval: 5s
  page_size: 100
attachments:
  downloads_per_second: 0.5
log:
  level: debug
`)
	writeFile(t, dir, ".env", "HTTP_API_KEY=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("HTTP_API_KEY") })
	t.Setenv("BOT_TOKEN", "from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Bot.Token)
	assert.Equal(t, "123", cfg.Bot.AdminChannelID)
	assert.Equal(t, models.AuthConfig{Developers: []string{"1", "2"}, AdminRoles: []string{"9"}}, cfg.Auth)
	assert.Equal(t, "postgres://archive@localhost/archive", cfg.Database.DSN)
	assert.Equal(t, []string{"900"}, cfg.Archive.Guilds)
	assert.Equal(t, []string{"501"}, cfg.Archive.Exclude)
	assert.Equal(t, 5*time.Second, cfg.Backfill.Interval)
	assert.Equal(t, 100, cfg.Backfill.PageSize)
	assert.Equal(t, 0.5, cfg.Attachments.DownloadsPerSecond)
	assert.Equal(t, "from-dotenv", cfg.HTTP.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "bot: [unterminated\n")
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *models.Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, slog.Default(), func(cfg *models.Config) {
			select {
			case changes <- cfg:
			default:
			}
		})
	}()

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "unrelated.txt", "ignored")
	writeFile(t, dir, FileName, "log:\n  level: error\n")

	// A write may surface as several events, the first possibly on a truncated file.
	timeout := time.After(5 * time.Second)
	for level := ""; level != "error"; {
		select {
		case cfg := <-changes:
			level = cfg.Log.Level
		case <-timeout:
			t.Fatal("config change was not observed")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
