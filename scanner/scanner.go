package scanner

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/bwmarrin/discordgo"
)

// archivedThreadLimit bounds how many archived threads are listed per channel.
const archivedThreadLimit = 100

const noCategory = "No Category"

// ThreadSource is the part of the Discord REST API the scanner needs.
// *discordgo.Session satisfies it.
type ThreadSource interface {
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildThreadsActive(guildID string, options ...discordgo.RequestOption) (*discordgo.ThreadsList, error)
	ThreadsArchived(channelID string, before *time.Time, limit int, options ...discordgo.RequestOption) (*discordgo.ThreadsList, error)
}

// Scanner enumerates channels and threads of a guild.
type Scanner struct {
	src    ThreadSource
	logger *slog.Logger
}

func New(src ThreadSource, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{src: src, logger: logger.With("module", "scanner")}
}

// IsMissingAccess reports whether err is Discord refusing access to a
// resource. Such errors are expected for private channels.
func IsMissingAccess(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeMissingAccess {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
}

// Archivable reports whether messages of a channel type can be archived as a
// parent channel.
func Archivable(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews, discordgo.ChannelTypeGuildForum:
		return true
	}
	return false
}

// ListThreads returns the active and archived threads under a channel.
// Missing access to the archived listing is not an error.
func (sc *Scanner) ListThreads(ctx context.Context, guildID, channelID string) ([]*discordgo.Channel, error) {
	seen := make(map[string]bool)
	var threads []*discordgo.Channel

	active, err := sc.src.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		if !IsMissingAccess(err) {
			return nil, err
		}
	} else {
		for _, thread := range active.Threads {
			if thread.ParentID == channelID && !seen[thread.ID] {
				threads = append(threads, thread)
				seen[thread.ID] = true
			}
		}
	}

	archived, err := sc.src.ThreadsArchived(channelID, nil, archivedThreadLimit, discordgo.WithContext(ctx))
	if err != nil {
		if IsMissingAccess(err) {
			return threads, nil
		}
		return nil, err
	}
	for _, thread := range archived.Threads {
		if !seen[thread.ID] {
			threads = append(threads, thread)
			seen[thread.ID] = true
		}
	}
	return threads, nil
}

// ListGuildChannels lists the guild's text, announcement and forum channels,
// each followed by its threads, grouped under their category name.
func (sc *Scanner) ListGuildChannels(ctx context.Context, guildID string) ([]models.GuildChannel, error) {
	channels, err := sc.src.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	categories := make(map[string]string)
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			categories[ch.ID] = ch.Name
		}
	}

	activeByParent := make(map[string][]*discordgo.Channel)
	active, err := sc.src.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		sc.logger.Warn("scanner.active_threads_failed", "guild_id", guildID, "error", err)
	} else {
		for _, t := range active.Threads {
			activeByParent[t.ParentID] = append(activeByParent[t.ParentID], t)
		}
	}

	sort.SliceStable(channels, func(i, j int) bool { return channels[i].Position < channels[j].Position })

	rows := []models.GuildChannel{}
	for _, ch := range channels {
		if !Archivable(ch.Type) {
			continue
		}
		section, ok := categories[ch.ParentID]
		if !ok {
			section = noCategory
		}
		rows = append(rows, models.GuildChannel{
			ID:          ch.ID,
			Name:        ch.Name,
			Type:        int(ch.Type),
			SectionName: section,
		})

		seen := make(map[string]bool)
		addThread := func(t *discordgo.Channel) {
			if seen[t.ID] {
				return
			}
			seen[t.ID] = true
			rows = append(rows, models.GuildChannel{
				ID:          t.ID,
				Name:        t.Name,
				Type:        int(t.Type),
				ParentID:    ch.ID,
				IsThread:    true,
				SectionName: section,
			})
		}
		for _, t := range activeByParent[ch.ID] {
			addThread(t)
		}

		archived, err := sc.src.ThreadsArchived(ch.ID, nil, archivedThreadLimit, discordgo.WithContext(ctx))
		if err != nil {
			if !IsMissingAccess(err) {
				sc.logger.Error("scanner.archived_threads_failed", "channel_id", ch.ID, "error", err)
			}
			continue
		}
		for _, t := range archived.Threads {
			addThread(t)
		}
	}
	return rows, nil
}
