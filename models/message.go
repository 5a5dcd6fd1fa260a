package models

import "time"

// ObservationKind tells the reconciler what was seen.
type ObservationKind string

const (
	ObservationCreated ObservationKind = "created"
	ObservationEdited  ObservationKind = "edited"
	ObservationDeleted ObservationKind = "deleted"
)

// Observation sources, used as a metrics label.
const (
	SourceLive     = "live"
	SourceBackfill = "backfill"
)

// Observation is one event about a message. Message is set for created and
// edited observations, MessageID for deletions.
type Observation struct {
	Kind      ObservationKind
	Source    string
	Message   *ObservedMessage
	MessageID int64
}

// ObservedMessage is the content of a message at the time it was observed.
type ObservedMessage struct {
	ID          int64
	Channel     ChannelRef
	AuthorID    int64
	AuthorName  string
	CreatedAt   time.Time
	Content     string // rendered, embeds included
	RawContent  string
	Attachments []AttachmentDescriptor
}

// AttachmentDescriptor is one entry of a revision's attachment summary.
type AttachmentDescriptor struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// MessageRevision is a row of the messages table.
type MessageRevision struct {
	ID                int64     `json:"id"`
	DiscordMessageID  int64     `json:"discord_message_id,string"`
	ChannelID         int64     `json:"channel_id"`
	AuthorID          int64     `json:"author_id,string"`
	AuthorUsername    string    `json:"author_username"`
	CreatedAt         time.Time `json:"created_at"`
	RevisionCreatedAt time.Time `json:"revision_created_at"`
	IsCurrentRevision bool      `json:"is_current_revision"`
	IsDeleted         bool      `json:"is_deleted"`
	EditGroupID       int64     `json:"edit_group_id"`
	ContentMarkdown   string    `json:"content_markdown"`
	RawContent        *string   `json:"raw_content"`
	AttachmentSummary string    `json:"-"`
}

// CurrentRevision is a current revision together with the size of its edit group.
type CurrentRevision struct {
	MessageRevision
	GroupSize int
}

// PendingAttachments is a revision whose attachments are not all materialized.
type PendingAttachments struct {
	MessageID         int64
	AttachmentSummary string
}
