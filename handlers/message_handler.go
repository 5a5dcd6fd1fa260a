package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/DarkMukke/backup-discord-bot/archive"
	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/bwmarrin/discordgo"
)

// eventTimeout bounds the store work done for one gateway event.
const eventTimeout = 15 * time.Second

// Reconciler applies observations to the archive.
type Reconciler interface {
	Reconcile(ctx context.Context, obs models.Observation) error
}

// MessageFetcher loads a full message over REST. *discordgo.Session satisfies it.
type MessageFetcher interface {
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Filter decides which guilds and channels live events are archived for.
type Filter struct {
	guilds  map[string]struct{}
	exclude map[string]struct{}
}

func NewFilter(cfg models.ArchiveConfig) Filter {
	f := Filter{guilds: map[string]struct{}{}, exclude: map[string]struct{}{}}
	for _, g := range cfg.Guilds {
		f.guilds[g] = struct{}{}
	}
	for _, c := range cfg.Exclude {
		f.exclude[c] = struct{}{}
	}
	return f
}

// Allows reports whether events of a channel should be archived. parentID is
// the parent of a thread and may be empty. No guild allowlist means every guild.
func (f Filter) Allows(guildID, channelID, parentID string) bool {
	if guildID == "" {
		return false
	}
	if len(f.guilds) > 0 {
		if _, ok := f.guilds[guildID]; !ok {
			return false
		}
	}
	if _, ok := f.exclude[channelID]; ok {
		return false
	}
	if parentID != "" {
		if _, ok := f.exclude[parentID]; ok {
			return false
		}
	}
	return true
}

// Ingest feeds live message events into the reconciler.
type Ingest struct {
	ctx        context.Context
	reconciler Reconciler
	fetcher    MessageFetcher
	filter     Filter
	logger     *slog.Logger
}

func NewIngest(ctx context.Context, reconciler Reconciler, fetcher MessageFetcher, filter Filter, logger *slog.Logger) *Ingest {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingest{
		ctx:        ctx,
		reconciler: reconciler,
		fetcher:    fetcher,
		filter:     filter,
		logger:     logger.With("module", "handlers"),
	}
}

// channelRef names a channel from the state cache when it is known.
func channelRef(state *discordgo.State, guildID, channelID string) (models.ChannelRef, string, error) {
	var ref models.ChannelRef
	var err error
	if ref.DiscordChannelID, err = archive.ParseID(channelID); err != nil {
		return ref, "", err
	}
	if ref.GuildID, err = archive.ParseID(guildID); err != nil {
		return ref, "", err
	}
	parentID := ""
	if state != nil {
		if ch, err := state.Channel(channelID); err == nil {
			ref.Name = ch.Name
			if ch.IsThread() {
				parentID = ch.ParentID
			}
		}
	}
	return ref, parentID, nil
}

func stateOf(s *discordgo.Session) *discordgo.State {
	if s == nil {
		return nil
	}
	return s.State
}

// MessageCreate archives a new message.
func (in *Ingest) MessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	in.observe(stateOf(s), models.ObservationCreated, m.Message, m.GuildID)
}

// MessageUpdate archives an edit. Updates without an author are partial
// and the full message is fetched first.
func (in *Ingest) MessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if m == nil || m.Message == nil {
		return
	}
	msg := m.Message
	if msg.Author == nil {
		if in.fetcher == nil {
			return
		}
		ctx, cancel := context.WithTimeout(in.ctx, eventTimeout)
		full, err := in.fetcher.ChannelMessage(m.ChannelID, m.ID, discordgo.WithContext(ctx))
		cancel()
		if err != nil {
			in.logger.Warn("handlers.fetch_partial_failed", "channel_id", m.ChannelID, "message_id", m.ID, "error", err)
			return
		}
		msg = full
	}
	in.observe(stateOf(s), models.ObservationEdited, msg, m.GuildID)
}

// MessageDelete flags a message as deleted.
func (in *Ingest) MessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	in.delete(stateOf(s), m.GuildID, m.ChannelID, m.ID)
}

// MessageDeleteBulk flags every message of a bulk delete.
func (in *Ingest) MessageDeleteBulk(s *discordgo.Session, m *discordgo.MessageDeleteBulk) {
	for _, id := range m.Messages {
		in.delete(stateOf(s), m.GuildID, m.ChannelID, id)
	}
}

func (in *Ingest) observe(state *discordgo.State, kind models.ObservationKind, msg *discordgo.Message, guildID string) {
	if msg == nil {
		return
	}
	if guildID == "" {
		guildID = msg.GuildID
	}
	ref, parentID, err := channelRef(state, guildID, msg.ChannelID)
	if err != nil {
		in.logger.Warn("handlers.bad_event", "message_id", msg.ID, "error", err)
		return
	}
	if !in.filter.Allows(guildID, msg.ChannelID, parentID) {
		return
	}

	observed, err := archive.FromDiscord(msg, ref)
	if err != nil {
		in.logger.Warn("handlers.bad_event", "message_id", msg.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(in.ctx, eventTimeout)
	defer cancel()
	// Failures are logged and counted by the reconciler.
	_ = in.reconciler.Reconcile(ctx, models.Observation{
		Kind:    kind,
		Source:  models.SourceLive,
		Message: observed,
	})
}

func (in *Ingest) delete(state *discordgo.State, guildID, channelID, messageID string) {
	_, parentID, err := channelRef(state, guildID, channelID)
	if err != nil || !in.filter.Allows(guildID, channelID, parentID) {
		return
	}
	id, err := archive.ParseID(messageID)
	if err != nil || id == 0 {
		in.logger.Warn("handlers.bad_event", "message_id", messageID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(in.ctx, eventTimeout)
	defer cancel()
	_ = in.reconciler.Reconcile(ctx, models.Observation{
		Kind:      models.ObservationDeleted,
		Source:    models.SourceLive,
		MessageID: id,
	})
}
