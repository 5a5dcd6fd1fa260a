// Package backfill walks channel history backward, one page per channel per run.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DarkMukke/backup-discord-bot/archive"
	"github.com/DarkMukke/backup-discord-bot/metrics"
	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/bwmarrin/discordgo"
)

// DefaultPageSize is the number of messages requested per channel per run.
const DefaultPageSize = 50

// MessageFetcher pages through a channel's history, newest first.
// *discordgo.Session satisfies it.
type MessageFetcher interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Store holds per-channel backfill progress.
type Store interface {
	ChannelsToBackfill(ctx context.Context) ([]models.Channel, error)
	SetBackfillCursor(ctx context.Context, discordChannelID, cursor int64) error
	MarkBackfillComplete(ctx context.Context, discordChannelID int64) error
}

// Reconciler receives the observations built from history pages.
type Reconciler interface {
	Reconcile(ctx context.Context, obs models.Observation) error
}

type Backfiller struct {
	fetcher    MessageFetcher
	store      Store
	reconciler Reconciler
	pageSize   int
	logger     *slog.Logger
}

func New(fetcher MessageFetcher, store Store, reconciler Reconciler, pageSize int, logger *slog.Logger) *Backfiller {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfiller{
		fetcher:    fetcher,
		store:      store,
		reconciler: reconciler,
		pageSize:   pageSize,
		logger:     logger.With("module", "backfill"),
	}
}

// RunOnce advances every channel that still has history to ingest by one
// page. A failing channel is logged and retried on the next run.
func (b *Backfiller) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.SweepDuration.WithLabelValues("backfill").Observe(time.Since(start).Seconds()) }()

	channels, err := b.store.ChannelsToBackfill(ctx)
	if err != nil {
		b.logger.Error("backfill.list_channels_failed", "error", err)
		return
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			return
		}
		if err := b.backfillChannel(ctx, ch); err != nil {
			metrics.BackfillErrors.Inc()
			b.logger.Error("backfill.channel_failed", "channel_id", ch.DiscordChannelID, "error", err)
		}
	}
}

func (b *Backfiller) backfillChannel(ctx context.Context, ch models.Channel) error {
	var before string
	if ch.LastBackfilledMessageID != nil {
		before = archive.FormatID(*ch.LastBackfilledMessageID)
	}

	page, err := b.fetcher.ChannelMessages(archive.FormatID(ch.DiscordChannelID), b.pageSize, before, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to fetch messages before %q: %w", before, err)
	}

	if len(page) == 0 {
		if err := b.store.MarkBackfillComplete(ctx, ch.DiscordChannelID); err != nil {
			return err
		}
		metrics.BackfillCompleted.Inc()
		b.logger.Info("backfill.channel_complete", "channel_id", ch.DiscordChannelID)
		return nil
	}

	ref := models.ChannelRef{DiscordChannelID: ch.DiscordChannelID, GuildID: ch.GuildID, Name: ch.Name}
	var oldest int64
	for _, m := range page {
		msg, err := archive.FromDiscord(m, ref)
		if err != nil {
			return err
		}
		// The cursor only moves once the whole page is stored.
		if err := b.reconciler.Reconcile(ctx, models.Observation{
			Kind:    models.ObservationCreated,
			Source:  models.SourceBackfill,
			Message: msg,
		}); err != nil {
			return err
		}
		if oldest == 0 || msg.ID < oldest {
			oldest = msg.ID
		}
	}

	if err := b.store.SetBackfillCursor(ctx, ch.DiscordChannelID, oldest); err != nil {
		return err
	}
	metrics.BackfillPages.Inc()
	b.logger.Debug("backfill.page", "channel_id", ch.DiscordChannelID, "messages", len(page), "cursor", oldest)
	return nil
}
