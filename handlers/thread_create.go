package handlers

import (
	"context"
	"log/slog"

	"github.com/DarkMukke/backup-discord-bot/archive"
	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/bwmarrin/discordgo"
)

// ThreadStore is the channel bookkeeping touched when a thread appears.
type ThreadStore interface {
	GetChannel(ctx context.Context, discordChannelID int64) (*models.Channel, error)
	EnableArchiving(ctx context.Context, refs []models.ChannelRef) error
}

// ThreadJoiner joins threads. *discordgo.Session satisfies it.
type ThreadJoiner interface {
	ThreadJoin(id string, options ...discordgo.RequestOption) error
}

// Threads joins new threads so their messages reach the bot, and archives
// them when their parent channel is archived.
type Threads struct {
	ctx    context.Context
	store  ThreadStore
	joiner ThreadJoiner
	filter Filter
	logger *slog.Logger
}

func NewThreads(ctx context.Context, store ThreadStore, joiner ThreadJoiner, filter Filter, logger *slog.Logger) *Threads {
	if logger == nil {
		logger = slog.Default()
	}
	return &Threads{ctx: ctx, store: store, joiner: joiner, filter: filter, logger: logger.With("module", "handlers")}
}

// ThreadCreateHandler handles the THREAD_CREATE event.
func (th *Threads) ThreadCreateHandler(_ *discordgo.Session, t *discordgo.ThreadCreate) {
	if t.Channel == nil || !th.filter.Allows(t.GuildID, t.ID, t.ParentID) {
		return
	}
	ctx, cancel := context.WithTimeout(th.ctx, eventTimeout)
	defer cancel()

	if t.Member == nil {
		if err := th.joiner.ThreadJoin(t.ID, discordgo.WithContext(ctx)); err != nil {
			th.logger.Error("handlers.thread_join_failed", "thread_id", t.ID, "error", err)
		} else {
			th.logger.Info("handlers.thread_joined", "thread_id", t.ID, "guild_id", t.GuildID)
		}
	}

	parentID, err := archive.ParseID(t.ParentID)
	if err != nil || parentID == 0 {
		return
	}
	parent, err := th.store.GetChannel(ctx, parentID)
	if err != nil {
		th.logger.Error("handlers.thread_parent_lookup_failed", "thread_id", t.ID, "error", err)
		return
	}
	if parent == nil || !parent.ArchivingEnabled {
		return
	}

	ref, _, err := channelRef(nil, t.GuildID, t.ID)
	if err != nil {
		th.logger.Warn("handlers.bad_event", "thread_id", t.ID, "error", err)
		return
	}
	ref.Name = t.Name
	if err := th.store.EnableArchiving(ctx, []models.ChannelRef{ref}); err != nil {
		th.logger.Error("handlers.thread_enable_failed", "thread_id", t.ID, "error", err)
		return
	}
	th.logger.Info("handlers.thread_enabled", "thread_id", t.ID, "parent_id", t.ParentID)
}
