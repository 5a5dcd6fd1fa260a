package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DarkMukke/backup-discord-bot/models"
)

// PendingAttachmentRevisions returns revisions that reference attachments not
// yet stored or permanently skipped, oldest first. Revisions with a download
// failure after retryBefore are left out until their backoff has passed.
func (db *DB) PendingAttachmentRevisions(ctx context.Context, limit int, retryBefore time.Time) ([]models.PendingAttachments, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT m.id, m.attachment_summary
		FROM messages m
		WHERE m.attachment_count > 0
			AND m.attachment_count >
				(SELECT COUNT(*) FROM stored_attachments sa WHERE sa.message_id = m.id) +
				(SELECT COUNT(*) FROM attachment_skips sk WHERE sk.message_id = m.id)
			AND NOT EXISTS (SELECT 1 FROM attachment_failures f
				WHERE f.message_id = m.id AND f.last_failed_at > ?)
		ORDER BY m.id ASC
		LIMIT ?`), retryBefore.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending attachments: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingAttachments
	for rows.Next() {
		var p models.PendingAttachments
		if err := rows.Scan(&p.MessageID, &p.AttachmentSummary); err != nil {
			return nil, fmt.Errorf("failed to scan pending attachment row: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// HasStoredAttachment reports whether the attachment is already stored for the revision.
func (db *DB) HasStoredAttachment(ctx context.Context, discordAttachmentID string, messageID int64) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, db.rebind(`SELECT 1 FROM stored_attachments
		WHERE discord_attachment_id = ? AND message_id = ? LIMIT 1`), discordAttachmentID, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check stored attachment %s: %w", discordAttachmentID, err)
	}
	return true, nil
}

// InsertStoredAttachment stores the payload and returns its id. A duplicate
// insert returns 0 and no error.
func (db *DB) InsertStoredAttachment(ctx context.Context, a *models.StoredAttachment) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		INSERT INTO stored_attachments (
			discord_attachment_id, message_id, filename, size_bytes, content_type, url, blob_data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (discord_attachment_id, message_id) DO NOTHING
		RETURNING id`),
		a.DiscordAttachmentID, a.MessageID, a.Filename, a.SizeBytes, a.ContentType, a.URL, a.Data, time.Now().UTC(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert attachment %s: %w", a.DiscordAttachmentID, err)
	}
	return id, nil
}

// RecordAttachmentSkip remembers that an attachment will never be stored.
func (db *DB) RecordAttachmentSkip(ctx context.Context, discordAttachmentID string, messageID int64, reason string) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO attachment_skips (discord_attachment_id, message_id, reason, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (discord_attachment_id, message_id) DO NOTHING`),
		discordAttachmentID, messageID, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record skip for attachment %s: %w", discordAttachmentID, err)
	}
	return nil
}

// RecordAttachmentFailure counts a failed download and returns the number of
// failures so far for the attachment.
func (db *DB) RecordAttachmentFailure(ctx context.Context, discordAttachmentID string, messageID int64, at time.Time) (int, error) {
	var attempts int
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		INSERT INTO attachment_failures (discord_attachment_id, message_id, attempts, last_failed_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (discord_attachment_id, message_id) DO UPDATE
			SET attempts = attachment_failures.attempts + 1, last_failed_at = excluded.last_failed_at
		RETURNING attempts`),
		discordAttachmentID, messageID, at.UnixMilli(),
	).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to record failure for attachment %s: %w", discordAttachmentID, err)
	}
	return attempts, nil
}

// GetStoredAttachment loads a stored attachment with its payload, or nil.
func (db *DB) GetStoredAttachment(ctx context.Context, id int64) (*models.StoredAttachment, error) {
	var a models.StoredAttachment
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT id, message_id, discord_attachment_id, filename, size_bytes, content_type, url, blob_data, created_at
		FROM stored_attachments WHERE id = ?`), id,
	).Scan(&a.ID, &a.MessageID, &a.DiscordAttachmentID, &a.Filename, &a.SizeBytes, &a.ContentType, &a.URL, &a.Data, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %d: %w", id, err)
	}
	return &a, nil
}

// StoredAttachmentsFor returns stored attachment metadata keyed by revision id.
func (db *DB) StoredAttachmentsFor(ctx context.Context, messageIDs []int64) (map[int64][]models.StoredAttachmentMeta, error) {
	result := make(map[int64][]models.StoredAttachmentMeta, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}

	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT id, message_id, discord_attachment_id, filename, size_bytes, content_type
		FROM stored_attachments
		WHERE message_id IN (`+placeholders(len(messageIDs))+`)
		ORDER BY id ASC`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stored attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.StoredAttachmentMeta
		if err := rows.Scan(&m.ID, &m.MessageID, &m.DiscordAttachmentID, &m.Filename, &m.SizeBytes, &m.ContentType); err != nil {
			return nil, fmt.Errorf("failed to scan stored attachment: %w", err)
		}
		result[m.MessageID] = append(result[m.MessageID], m)
	}
	return result, rows.Err()
}
