package models

import "time"

// StoredAttachmentMeta describes stored bytes without loading them.
type StoredAttachmentMeta struct {
	ID                  int64  `json:"id"`
	MessageID           int64  `json:"message_id"`
	DiscordAttachmentID string `json:"discord_attachment_id"`
	Filename            string `json:"filename"`
	SizeBytes           int64  `json:"size_bytes"`
	ContentType         string `json:"content_type"`
}

// StoredAttachment is a materialized attachment.
type StoredAttachment struct {
	StoredAttachmentMeta
	URL       string
	Data      []byte
	CreatedAt time.Time
}

// Reasons an attachment is permanently not materialized.
const (
	SkipDeclaredTooLarge   = "declared_too_large"
	SkipDownloadedTooLarge = "downloaded_too_large"
	SkipGone               = "gone"
	SkipRetriesExhausted   = "retries_exhausted"
)
