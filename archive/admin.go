package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/bwmarrin/discordgo"
)

// AdminStore is the channel bookkeeping used by Admin.
type AdminStore interface {
	GetChannel(ctx context.Context, discordChannelID int64) (*models.Channel, error)
	EnableArchiving(ctx context.Context, refs []models.ChannelRef) error
	DisableArchiving(ctx context.Context, discordChannelIDs []int64) (int64, error)
}

// ThreadLister finds the threads under a channel.
type ThreadLister interface {
	ListThreads(ctx context.Context, guildID, channelID string) ([]*discordgo.Channel, error)
}

// Admin switches archiving on and off for a channel and the threads under it.
type Admin struct {
	store   AdminStore
	threads ThreadLister
	logger  *slog.Logger
}

// NewAdmin creates an Admin. threads may be nil, in which case only the
// channel itself is affected.
func NewAdmin(store AdminStore, threads ThreadLister, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{store: store, threads: threads, logger: logger.With("module", "archive")}
}

// Enable turns archiving on for the channel and its threads and returns how
// many threads were enabled. Failing to list threads does not fail the call.
func (a *Admin) Enable(ctx context.Context, ref models.ChannelRef) (int, error) {
	if ref.Name == "" {
		ref.Name = FormatID(ref.DiscordChannelID)
	}
	if err := a.store.EnableArchiving(ctx, []models.ChannelRef{ref}); err != nil {
		return 0, fmt.Errorf("failed to enable channel %d: %w", ref.DiscordChannelID, err)
	}
	a.logger.Info("archive.channel_enabled", "channel_id", ref.DiscordChannelID, "guild_id", ref.GuildID)

	threads := a.listThreads(ctx, ref.GuildID, ref.DiscordChannelID)
	if len(threads) == 0 {
		return 0, nil
	}
	refs := make([]models.ChannelRef, 0, len(threads))
	for _, t := range threads {
		id, err := ParseID(t.ID)
		if err != nil {
			a.logger.Warn("archive.bad_thread_id", "thread_id", t.ID, "error", err)
			continue
		}
		refs = append(refs, models.ChannelRef{DiscordChannelID: id, GuildID: ref.GuildID, Name: t.Name})
	}
	if err := a.store.EnableArchiving(ctx, refs); err != nil {
		a.logger.Error("archive.enable_threads_failed", "channel_id", ref.DiscordChannelID, "error", err)
		return 0, nil
	}
	return len(refs), nil
}

// Disable turns archiving off for the channel and its threads. History is kept.
func (a *Admin) Disable(ctx context.Context, discordChannelID int64) (int, error) {
	if _, err := a.store.DisableArchiving(ctx, []int64{discordChannelID}); err != nil {
		return 0, fmt.Errorf("failed to disable channel %d: %w", discordChannelID, err)
	}
	a.logger.Info("archive.channel_disabled", "channel_id", discordChannelID)

	ch, err := a.store.GetChannel(ctx, discordChannelID)
	if err != nil {
		a.logger.Error("archive.disable_threads_failed", "channel_id", discordChannelID, "error", err)
		return 0, nil
	}
	if ch == nil || ch.GuildID == 0 {
		return 0, nil
	}

	var ids []int64
	for _, t := range a.listThreads(ctx, ch.GuildID, discordChannelID) {
		id, err := ParseID(t.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	n, err := a.store.DisableArchiving(ctx, ids)
	if err != nil {
		a.logger.Error("archive.disable_threads_failed", "channel_id", discordChannelID, "error", err)
		return 0, nil
	}
	return int(n), nil
}

func (a *Admin) listThreads(ctx context.Context, guildID, channelID int64) []*discordgo.Channel {
	if a.threads == nil || guildID == 0 {
		return nil
	}
	threads, err := a.threads.ListThreads(ctx, FormatID(guildID), FormatID(channelID))
	if err != nil {
		a.logger.Error("archive.list_threads_failed", "channel_id", channelID, "error", err)
		return nil
	}
	return threads
}
