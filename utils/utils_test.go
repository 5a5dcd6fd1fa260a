package utils

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

type recordingSender struct {
	mu     sync.Mutex
	embeds []*discordgo.MessageEmbed
	sent   chan struct{}
}

func (s *recordingSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	s.embeds = append(s.embeds, embed)
	s.mu.Unlock()
	s.sent <- struct{}{}
	return &discordgo.Message{ChannelID: channelID}, nil
}

func TestDiscordHandlerMirrorsWarnings(t *testing.T) {
	var buf bytes.Buffer
	sender := &recordingSender{sent: make(chan struct{}, 4)}
	h := NewDiscordHandler(slog.NewJSONHandler(&buf, nil), sender, "42")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	logger := slog.New(h).With("module", "backfill")
	logger.Info("backfill.page", "channel_id", 1)
	logger.Error("backfill.channel_failed", "channel_id", 7)

	select {
	case <-sender.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("embed was not sent")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.embeds, 1)
	embed := sender.embeds[0]
	assert.Equal(t, ColorError, embed.Color)
	assert.Equal(t, "backfill", embed.Fields[0].Value)
	assert.Equal(t, "backfill.channel_failed", embed.Fields[1].Value)
	assert.Equal(t, "channel_id=7", embed.Fields[2].Value)

	assert.Contains(t, buf.String(), "backfill.page")
	assert.Contains(t, buf.String(), "backfill.channel_failed")
}

func TestDiscordHandlerDropsWhenFull(t *testing.T) {
	sender := &recordingSender{sent: make(chan struct{}, 1)}
	h := NewDiscordHandler(slog.NewJSONHandler(&bytes.Buffer{}, nil), sender, "42")
	logger := slog.New(h)

	for i := 0; i < cap(h.mirror.queue)+10; i++ {
		logger.Warn("attachments.fetch_status")
	}
	assert.Len(t, h.mirror.queue, cap(h.mirror.queue))
}

func TestDiscordHandlerWithoutChannel(t *testing.T) {
	h := NewDiscordHandler(slog.NewJSONHandler(&bytes.Buffer{}, nil), &recordingSender{}, "")
	slog.New(h).Error("archive.reconcile_failed")
	assert.Empty(t, h.mirror.queue)
}

func TestCheckPermission(t *testing.T) {
	auth := NewAuth(models.AuthConfig{Developers: []string{"dev"}, AdminRoles: []string{"admins"}})

	interaction := func(userID string, roles ...string) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles},
		}}
	}

	assert.True(t, auth.CheckPermission(interaction("dev"), LevelDeveloper))
	assert.True(t, auth.CheckPermission(interaction("dev"), LevelAdmin))
	assert.False(t, auth.CheckPermission(interaction("mod", "admins"), LevelDeveloper))
	assert.True(t, auth.CheckPermission(interaction("mod", "admins"), LevelAdmin))
	assert.False(t, auth.CheckPermission(interaction("guest", "members"), LevelAdmin))
	assert.True(t, auth.CheckPermission(interaction("guest"), LevelGuest))
	assert.False(t, auth.CheckPermission(interaction("dev"), "owner"))

	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: &discordgo.User{ID: "dev"}}}
	assert.True(t, auth.CheckPermission(dm, LevelDeveloper))
	assert.False(t, auth.IsAdmin(nil))
}
