package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/DarkMukke/backup-discord-bot/archive"
	"github.com/DarkMukke/backup-discord-bot/command"
	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/bwmarrin/discordgo"
)

// HandleArchive handles the logic for the /archive command. Enabling and
// disabling touch every thread of the channel, so the reply is deferred.
func (c *Commands) HandleArchive(r Responder, state *discordgo.State, i *discordgo.InteractionCreate) {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		c.reply(r, i, "🚫 Missing subcommand.")
		return
	}
	if i.GuildID == "" {
		c.reply(r, i, "🚫 Archiving only works in server channels.")
		return
	}
	ref, _, err := channelRef(state, i.GuildID, i.ChannelID)
	if err != nil {
		c.reply(r, i, "🚫 Could not read this channel.")
		return
	}

	sub := options[0].Name
	if sub == command.ArchiveStatus {
		c.reply(r, i, c.status(ref.DiscordChannelID))
		return
	}

	err = r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		c.logger.Warn("commands.defer_failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 2*eventTimeout)
	defer cancel()

	var content string
	switch sub {
	case command.ArchiveEnable:
		threads, err := c.admin.Enable(ctx, ref)
		if err != nil {
			c.logger.Error("commands.archive_enable_failed", "channel_id", ref.DiscordChannelID, "error", err)
			content = "❌ Failed to enable archiving."
		} else {
			content = fmt.Sprintf("✅ Archiving enabled for <#%d> and %d thread(s). History will be backfilled.", ref.DiscordChannelID, threads)
		}
	case command.ArchiveDisable:
		threads, err := c.admin.Disable(ctx, ref.DiscordChannelID)
		if err != nil {
			c.logger.Error("commands.archive_disable_failed", "channel_id", ref.DiscordChannelID, "error", err)
			content = "❌ Failed to disable archiving."
		} else {
			content = fmt.Sprintf("✅ Archiving disabled for <#%d> and %d thread(s). Archived history is kept.", ref.DiscordChannelID, threads)
		}
	default:
		content = "🚫 Unknown subcommand."
	}

	if _, err := r.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		c.logger.Warn("commands.edit_failed", "error", err)
	}
}

func (c *Commands) status(channelID int64) string {
	ctx, cancel := context.WithTimeout(c.ctx, eventTimeout)
	defer cancel()

	ch, err := c.store.GetChannel(ctx, channelID)
	if err != nil {
		c.logger.Error("commands.archive_status_failed", "channel_id", channelID, "error", err)
		return "❌ Failed to read the archive state."
	}
	return describeChannel(ch)
}

func describeChannel(ch *models.Channel) string {
	if ch == nil {
		return "This channel has never been archived."
	}
	var b strings.Builder
	if ch.ArchivingEnabled {
		b.WriteString("📦 Archiving is **enabled**.")
	} else {
		b.WriteString("📦 Archiving is **disabled**.")
	}
	switch {
	case ch.BackfillComplete:
		b.WriteString("\nHistory backfill is complete.")
	case ch.LastBackfilledMessageID != nil:
		b.WriteString("\nHistory backfill has reached message " + archive.FormatID(*ch.LastBackfilledMessageID) + ".")
	case ch.ArchivingEnabled:
		b.WriteString("\nHistory backfill has not started yet.")
	}
	return b.String()
}

// HandlePing handles the logic for the /ping command.
func (c *Commands) HandlePing(r Responder, i *discordgo.InteractionCreate) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Pong!",
		},
	})
	if err != nil {
		c.logger.Warn("commands.respond_failed", "command", "ping", "error", err)
	}
}
