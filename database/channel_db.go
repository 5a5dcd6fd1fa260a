package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DarkMukke/backup-discord-bot/models"
)

const channelColumns = `id, discord_channel_id, guild_id, name, archiving_enabled, backfill_complete, last_backfilled_message_id`

func scanChannel(row interface{ Scan(...any) error }) (*models.Channel, error) {
	var (
		ch     models.Channel
		cursor sql.NullInt64
	)
	if err := row.Scan(&ch.ID, &ch.DiscordChannelID, &ch.GuildID, &ch.Name, &ch.ArchivingEnabled, &ch.BackfillComplete, &cursor); err != nil {
		return nil, err
	}
	if cursor.Valid {
		v := cursor.Int64
		ch.LastBackfilledMessageID = &v
	}
	return &ch, nil
}

// UpsertChannel makes sure a row exists for the channel and refreshes its name
// and guild. An empty name or a zero guild never overwrites a known value.
// It returns the channel's internal id.
func (db *DB) UpsertChannel(ctx context.Context, ref models.ChannelRef) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		INSERT INTO channels (discord_channel_id, name, guild_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (discord_channel_id) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE channels.name END,
			guild_id = CASE WHEN excluded.guild_id <> 0 THEN excluded.guild_id ELSE channels.guild_id END,
			updated_at = excluded.updated_at
		RETURNING id`),
		ref.DiscordChannelID, ref.Name, ref.GuildID, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert channel %d: %w", ref.DiscordChannelID, err)
	}
	return id, nil
}

// GetChannel returns the channel with the given Discord id, or nil if it has
// never been seen.
func (db *DB) GetChannel(ctx context.Context, discordChannelID int64) (*models.Channel, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`SELECT `+channelColumns+` FROM channels WHERE discord_channel_id = ?`), discordChannelID)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %d: %w", discordChannelID, err)
	}
	return ch, nil
}

// ChannelsToBackfill lists channels that archive and still have history to walk.
func (db *DB) ChannelsToBackfill(ctx context.Context) ([]models.Channel, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+channelColumns+` FROM channels
		WHERE archiving_enabled = TRUE AND backfill_complete = FALSE
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels to backfill: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// SetBackfillCursor records the oldest message id ingested so far.
func (db *DB) SetBackfillCursor(ctx context.Context, discordChannelID, cursor int64) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`UPDATE channels SET last_backfilled_message_id = ?, updated_at = ? WHERE discord_channel_id = ?`),
		cursor, time.Now().UTC(), discordChannelID)
	if err != nil {
		return fmt.Errorf("failed to set backfill cursor for channel %d: %w", discordChannelID, err)
	}
	return nil
}

// MarkBackfillComplete flags the channel's retrievable history as ingested.
func (db *DB) MarkBackfillComplete(ctx context.Context, discordChannelID int64) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`UPDATE channels SET backfill_complete = TRUE, updated_at = ? WHERE discord_channel_id = ?`),
		time.Now().UTC(), discordChannelID)
	if err != nil {
		return fmt.Errorf("failed to mark backfill complete for channel %d: %w", discordChannelID, err)
	}
	return nil
}

// EnableArchiving turns archiving on for every channel in refs, creating rows
// as needed. Backfill restarts from the stored cursor.
func (db *DB) EnableArchiving(ctx context.Context, refs []models.ChannelRef) error {
	if len(refs) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, db.rebind(`
		INSERT INTO channels (discord_channel_id, name, guild_id, archiving_enabled, backfill_complete, created_at, updated_at)
		VALUES (?, ?, ?, TRUE, FALSE, ?, ?)
		ON CONFLICT (discord_channel_id) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE channels.name END,
			guild_id = CASE WHEN excluded.guild_id <> 0 THEN excluded.guild_id ELSE channels.guild_id END,
			archiving_enabled = TRUE,
			backfill_complete = FALSE,
			updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("failed to prepare enable statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, ref := range refs {
		if _, err := stmt.ExecContext(ctx, ref.DiscordChannelID, ref.Name, ref.GuildID, now, now); err != nil {
			return fmt.Errorf("failed to enable channel %d: %w", ref.DiscordChannelID, err)
		}
	}
	return tx.Commit()
}

// DisableArchiving turns archiving off for the given channels. Unknown ids are
// ignored and history is kept.
func (db *DB) DisableArchiving(ctx context.Context, discordChannelIDs []int64) (int64, error) {
	if len(discordChannelIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(discordChannelIDs)+1)
	args = append(args, time.Now().UTC())
	for _, id := range discordChannelIDs {
		args = append(args, id)
	}
	res, err := db.conn.ExecContext(ctx, db.rebind(`UPDATE channels
		SET archiving_enabled = FALSE, backfill_complete = FALSE, updated_at = ?
		WHERE discord_channel_id IN (`+placeholders(len(discordChannelIDs))+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to disable channels: %w", err)
	}
	return res.RowsAffected()
}

// ListChannels returns the guild's known channels with the number of logical
// messages archived for each.
func (db *DB) ListChannels(ctx context.Context, guildID int64) ([]models.ChannelSummary, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT c.discord_channel_id, c.name, c.archiving_enabled, c.backfill_complete,
			COUNT(DISTINCT m.edit_group_id)
		FROM channels c
		LEFT JOIN messages m ON m.channel_id = c.id
		WHERE c.guild_id = ?
		GROUP BY c.id, c.discord_channel_id, c.name, c.archiving_enabled, c.backfill_complete
		ORDER BY c.name ASC`), guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels for guild %d: %w", guildID, err)
	}
	defer rows.Close()

	summaries := []models.ChannelSummary{}
	for rows.Next() {
		var s models.ChannelSummary
		if err := rows.Scan(&s.DiscordChannelID, &s.Name, &s.ArchivingEnabled, &s.BackfillComplete, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan channel summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
