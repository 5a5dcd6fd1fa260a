package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DarkMukke/backup-discord-bot/models"
)

const revisionColumns = `m.id, m.discord_message_id, m.channel_id, m.author_id, m.author_username,
	m.created_at, m.revision_created_at, m.is_current_revision, m.is_deleted,
	COALESCE(m.edit_group_id, m.id), m.content_markdown, m.raw_content, m.attachment_summary`

func scanRevision(row interface{ Scan(...any) error }, extra ...any) (*models.MessageRevision, error) {
	var (
		rev models.MessageRevision
		raw sql.NullString
	)
	dest := []any{
		&rev.ID, &rev.DiscordMessageID, &rev.ChannelID, &rev.AuthorID, &rev.AuthorUsername,
		&rev.CreatedAt, &rev.RevisionCreatedAt, &rev.IsCurrentRevision, &rev.IsDeleted,
		&rev.EditGroupID, &rev.ContentMarkdown, &raw, &rev.AttachmentSummary,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if raw.Valid {
		s := raw.String
		rev.RawContent = &s
	}
	return &rev, nil
}

// encodeSummary serializes the attachment list and counts the entries the
// materializer can act on.
func encodeSummary(attachments []models.AttachmentDescriptor) (string, int, error) {
	if attachments == nil {
		attachments = []models.AttachmentDescriptor{}
	}
	b, err := json.Marshal(attachments)
	if err != nil {
		return "", 0, err
	}
	seen := make(map[string]struct{}, len(attachments))
	for _, a := range attachments {
		if a.ID == "" || a.URL == "" {
			continue
		}
		seen[a.ID] = struct{}{}
	}
	return string(b), len(seen), nil
}

// lockMessage serializes writers of one message until tx ends. SQLite
// transactions are already exclusive.
func (db *DB) lockMessage(ctx context.Context, tx *sql.Tx, discordMessageID int64) error {
	if db.dialect != dialectPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, discordMessageID); err != nil {
		return fmt.Errorf("failed to lock message %d: %w", discordMessageID, err)
	}
	return nil
}

// AppendRevision records the observed content of a message as its new current
// revision. Lookup of the edit group, the insert and the demotion of older
// revisions happen in one transaction, serialized per message.
//
// A message that was already deleted stays deleted.
func (db *DB) AppendRevision(ctx context.Context, channelID int64, msg models.ObservedMessage) (*models.MessageRevision, error) {
	summary, attachmentCount, err := encodeSummary(msg.Attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachment summary for message %d: %w", msg.ID, err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := db.lockMessage(ctx, tx, msg.ID); err != nil {
		return nil, err
	}

	var (
		firstID     int64
		group       sql.NullInt64
		editGroupID int64
		exists      bool
		deleted     bool
	)
	err = tx.QueryRowContext(ctx, db.rebind(`SELECT id, edit_group_id FROM messages
		WHERE discord_message_id = ? ORDER BY id ASC LIMIT 1`), msg.ID).Scan(&firstID, &group)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to look up edit group for message %d: %w", msg.ID, err)
	default:
		exists = true
		editGroupID = firstID
		if group.Valid {
			editGroupID = group.Int64
		}
	}

	if exists {
		var n int
		if err := tx.QueryRowContext(ctx, db.rebind(`SELECT COUNT(*) FROM messages
			WHERE discord_message_id = ? AND is_deleted = TRUE`), msg.ID).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to read delete state for message %d: %w", msg.ID, err)
		}
		deleted = n > 0
	}

	createdAt := msg.CreatedAt.UTC()
	if msg.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	now := time.Now().UTC()

	var newID int64
	err = tx.QueryRowContext(ctx, db.rebind(`
		INSERT INTO messages (
			discord_message_id, channel_id, author_id, author_username, created_at,
			revision_created_at, is_current_revision, is_deleted, edit_group_id,
			content_markdown, raw_content, attachment_summary, attachment_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, TRUE, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		msg.ID, channelID, msg.AuthorID, msg.AuthorName, createdAt,
		now, deleted, sql.NullInt64{Int64: editGroupID, Valid: exists},
		msg.Content, msg.RawContent, summary, attachmentCount, now,
	).Scan(&newID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert revision for message %d: %w", msg.ID, err)
	}

	if !exists {
		editGroupID = newID
		if _, err := tx.ExecContext(ctx, db.rebind(`UPDATE messages SET edit_group_id = ? WHERE id = ?`), newID, newID); err != nil {
			return nil, fmt.Errorf("failed to link edit group for message %d: %w", msg.ID, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, db.rebind(`UPDATE messages
			SET is_current_revision = FALSE, updated_at = ?
			WHERE discord_message_id = ? AND id <> ? AND is_current_revision = TRUE`), now, msg.ID, newID); err != nil {
			return nil, fmt.Errorf("failed to supersede revisions of message %d: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit revision for message %d: %w", msg.ID, err)
	}

	raw := msg.RawContent
	return &models.MessageRevision{
		ID:                newID,
		DiscordMessageID:  msg.ID,
		ChannelID:         channelID,
		AuthorID:          msg.AuthorID,
		AuthorUsername:    msg.AuthorName,
		CreatedAt:         createdAt,
		RevisionCreatedAt: now,
		IsCurrentRevision: true,
		IsDeleted:         deleted,
		EditGroupID:       editGroupID,
		ContentMarkdown:   msg.Content,
		RawContent:        &raw,
		AttachmentSummary: summary,
	}, nil
}

// MarkDeleted flags every revision of the message as deleted and returns the
// number of rows that changed. It takes the same per-message lock as
// AppendRevision, so a revision appended concurrently still sees the delete.
func (db *DB) MarkDeleted(ctx context.Context, discordMessageID int64) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := db.lockMessage(ctx, tx, discordMessageID); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, db.rebind(`UPDATE messages
		SET is_deleted = TRUE, updated_at = ?
		WHERE discord_message_id = ? AND is_deleted = FALSE`), time.Now().UTC(), discordMessageID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark message %d deleted: %w", discordMessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete of message %d: %w", discordMessageID, err)
	}
	return n, nil
}

// ListCurrentRevisions returns up to limit current revisions of a channel,
// newest first, strictly older than before when before is non-zero.
func (db *DB) ListCurrentRevisions(ctx context.Context, channelID, before int64, limit int) ([]models.CurrentRevision, error) {
	query := `SELECT ` + revisionColumns + `,
			(SELECT COUNT(*) FROM messages g WHERE g.edit_group_id = m.edit_group_id)
		FROM messages m
		WHERE m.channel_id = ? AND m.is_current_revision = TRUE`
	args := []any{channelID}
	if before > 0 {
		query += ` AND m.discord_message_id < ?`
		args = append(args, before)
	}
	query += ` ORDER BY m.discord_message_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list current revisions for channel %d: %w", channelID, err)
	}
	defer rows.Close()

	var revisions []models.CurrentRevision
	for rows.Next() {
		var size int
		rev, err := scanRevision(rows, &size)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revisions = append(revisions, models.CurrentRevision{MessageRevision: *rev, GroupSize: size})
	}
	return revisions, rows.Err()
}

// ListRevisions returns every revision of a message, oldest first.
func (db *DB) ListRevisions(ctx context.Context, discordMessageID int64) ([]models.MessageRevision, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`SELECT `+revisionColumns+`
		FROM messages m WHERE m.discord_message_id = ? ORDER BY m.id ASC`), discordMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions for message %d: %w", discordMessageID, err)
	}
	defer rows.Close()

	revisions := []models.MessageRevision{}
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revisions = append(revisions, *rev)
	}
	return revisions, rows.Err()
}
