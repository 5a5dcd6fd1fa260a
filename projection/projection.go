// Package projection renders archived revisions for readers.
package projection

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/DarkMukke/backup-discord-bot/attachments"
	"github.com/DarkMukke/backup-discord-bot/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Store is the read side of the revision store.
type Store interface {
	GetChannel(ctx context.Context, discordChannelID int64) (*models.Channel, error)
	ListCurrentRevisions(ctx context.Context, channelID, before int64, limit int) ([]models.CurrentRevision, error)
	StoredAttachmentsFor(ctx context.Context, messageIDs []int64) (map[int64][]models.StoredAttachmentMeta, error)
	ListRevisions(ctx context.Context, discordMessageID int64) ([]models.MessageRevision, error)
}

// AttachmentView is an attachment with the location it is served from.
type AttachmentView struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Local       bool   `json:"local"`
	APIURL      string `json:"apiUrl"`
}

// MessageView is one current message of a channel page.
type MessageView struct {
	DiscordMessageID int64            `json:"discord_message_id,string"`
	AuthorID         int64            `json:"author_id,string"`
	AuthorUsername   string           `json:"author_username"`
	DisplayAuthor    string           `json:"display_author"`
	CreatedAt        time.Time        `json:"created_at"`
	ContentMarkdown  string           `json:"content_markdown"`
	ContentTokens    []Token          `json:"content_tokens"`
	IsDeleted        bool             `json:"is_deleted"`
	EditGroupID      int64            `json:"edit_group_id"`
	HasEdits         bool             `json:"has_edits"`
	Attachments      []AttachmentView `json:"attachments"`
}

// Page is a slice of a channel's history. NextCursor is nil when the page is empty.
type Page struct {
	Messages   []MessageView `json:"messages"`
	NextCursor *string       `json:"nextCursor"`
}

// RevisionView is one entry of a message's edit history.
type RevisionView struct {
	ID                int64     `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	RevisionCreatedAt time.Time `json:"revision_created_at"`
	ContentMarkdown   string    `json:"content_markdown"`
	IsDeleted         bool      `json:"is_deleted"`
	IsCurrentRevision bool      `json:"is_current_revision"`
}

type Projection struct {
	store    Store
	resolver Resolver
	logger   *slog.Logger
}

// New builds a Projection. A nil resolver renders mentions without names.
func New(store Store, resolver Resolver, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{store: store, resolver: resolver, logger: logger.With("module", "projection")}
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ListCurrentMessages returns current revisions of a channel newest first,
// strictly older than cursor when cursor is non-zero.
func (p *Projection) ListCurrentMessages(ctx context.Context, discordChannelID, cursor int64, limit int) (*Page, error) {
	page := &Page{Messages: []MessageView{}}

	channel, err := p.store.GetChannel(ctx, discordChannelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return page, nil
	}

	rows, err := p.store.ListCurrentRevisions(ctx, channel.ID, cursor, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return page, nil
	}

	ids := make([]int64, 0, len(rows))
	var users []string
	seen := make(map[string]bool)
	addUser := func(id string) {
		if id != "" && id != "0" && !seen[id] {
			seen[id] = true
			users = append(users, id)
		}
	}
	for _, r := range rows {
		ids = append(ids, r.ID)
		addUser(strconv.FormatInt(r.AuthorID, 10))
	}
	for _, r := range rows {
		for _, id := range MentionedUsers(r.ContentMarkdown) {
			addUser(id)
		}
	}

	stored, err := p.store.StoredAttachmentsFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	cache := NewEntityCache()
	if p.resolver != nil {
		cache = p.resolver.Prime(ctx, strconv.FormatInt(channel.GuildID, 10), users)
	}
	for _, r := range rows {
		id := strconv.FormatInt(r.AuthorID, 10)
		if _, ok := cache.Users[id]; !ok && r.AuthorUsername != "" {
			cache.Users[id] = r.AuthorUsername
		}
	}

	for _, r := range rows {
		display := r.AuthorUsername
		if name, ok := cache.member(strconv.FormatInt(r.AuthorID, 10)); ok {
			display = name
		}
		page.Messages = append(page.Messages, MessageView{
			DiscordMessageID: r.DiscordMessageID,
			AuthorID:         r.AuthorID,
			AuthorUsername:   r.AuthorUsername,
			DisplayAuthor:    display,
			CreatedAt:        r.CreatedAt,
			ContentMarkdown:  r.ContentMarkdown,
			ContentTokens:    Tokenize(r.ContentMarkdown, cache),
			IsDeleted:        r.IsDeleted,
			EditGroupID:      r.EditGroupID,
			HasEdits:         r.GroupSize > 1,
			Attachments:      p.resolveAttachments(r.MessageRevision, stored[r.ID]),
		})
	}

	next := strconv.FormatInt(rows[len(rows)-1].DiscordMessageID, 10)
	page.NextCursor = &next
	return page, nil
}

func (p *Projection) resolveAttachments(rev models.MessageRevision, stored []models.StoredAttachmentMeta) []AttachmentView {
	descriptors, err := attachments.DecodeSummary(rev.AttachmentSummary)
	if err != nil {
		p.logger.Warn("projection.bad_summary", "discord_message_id", rev.DiscordMessageID, "error", err)
		descriptors = nil
	}

	byKey := make(map[string]models.StoredAttachmentMeta, len(stored))
	for _, s := range stored {
		byKey[attachmentKey(s.Filename, s.SizeBytes)] = s
	}

	views := make([]AttachmentView, 0, len(descriptors))
	for _, att := range descriptors {
		view := AttachmentView{
			ID:          att.ID,
			Filename:    att.Filename,
			URL:         att.URL,
			Size:        att.Size,
			ContentType: att.ContentType,
			APIURL:      att.URL,
		}
		if s, ok := byKey[attachmentKey(att.Filename, att.Size)]; ok {
			view.Local = true
			view.APIURL = fmt.Sprintf("/api/attachments/%d", s.ID)
			view.Size = s.SizeBytes
			if s.ContentType != "" {
				view.ContentType = s.ContentType
			}
		}
		views = append(views, view)
	}
	return views
}

func attachmentKey(filename string, size int64) string {
	return filename + "|" + strconv.FormatInt(size, 10)
}

// ListRevisions returns the full history of a message, oldest first.
func (p *Projection) ListRevisions(ctx context.Context, discordMessageID int64) ([]RevisionView, error) {
	revs, err := p.store.ListRevisions(ctx, discordMessageID)
	if err != nil {
		return nil, err
	}
	views := make([]RevisionView, 0, len(revs))
	for _, r := range revs {
		views = append(views, RevisionView{
			ID:                r.ID,
			CreatedAt:         r.CreatedAt,
			RevisionCreatedAt: r.RevisionCreatedAt,
			ContentMarkdown:   r.ContentMarkdown,
			IsDeleted:         r.IsDeleted,
			IsCurrentRevision: r.IsCurrentRevision,
		})
	}
	return views, nil
}
