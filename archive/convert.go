package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/bwmarrin/discordgo"
)

// ParseID converts a Discord snowflake to int64. An empty string is zero.
func ParseID(id string) (int64, error) {
	if id == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing snowflake %q: %w", id, err)
	}
	return v, nil
}

// FormatID is the inverse of ParseID.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ContentMarkdown renders a message's text together with the text of its
// embeds, so replies made of embeds only are not archived empty.
func ContentMarkdown(m *discordgo.Message) string {
	var b strings.Builder
	b.WriteString(m.Content)
	for _, embed := range m.Embeds {
		if embed == nil {
			continue
		}
		if embed.Title != "" {
			b.WriteString("\n**" + embed.Title + "**")
		}
		if embed.Description != "" {
			b.WriteString("\n" + embed.Description)
		}
		for _, field := range embed.Fields {
			if field == nil {
				continue
			}
			b.WriteString("\n" + field.Name + ": " + field.Value)
		}
	}
	return strings.TrimSpace(b.String())
}

// FromDiscord converts a Discord message into an observation payload. The
// channel reference is passed in because REST-fetched messages carry neither
// guild id nor channel name.
func FromDiscord(m *discordgo.Message, channel models.ChannelRef) (*models.ObservedMessage, error) {
	id, err := ParseID(m.ID)
	if err != nil {
		return nil, err
	}
	if channel.DiscordChannelID == 0 {
		if channel.DiscordChannelID, err = ParseID(m.ChannelID); err != nil {
			return nil, err
		}
	}

	obs := &models.ObservedMessage{
		ID:         id,
		Channel:    channel,
		AuthorName: "unknown",
		CreatedAt:  m.Timestamp,
		Content:    ContentMarkdown(m),
		RawContent: m.Content,
	}
	if obs.CreatedAt.IsZero() {
		if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
			obs.CreatedAt = ts
		} else {
			obs.CreatedAt = time.Now()
		}
	}
	if m.Author != nil {
		if obs.AuthorID, err = ParseID(m.Author.ID); err != nil {
			return nil, err
		}
		obs.AuthorName = authorTag(m.Author)
	}

	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		filename := a.Filename
		if filename == "" {
			filename = "file"
		}
		obs.Attachments = append(obs.Attachments, models.AttachmentDescriptor{
			ID:          a.ID,
			Filename:    filename,
			URL:         a.URL,
			Size:        int64(a.Size),
			ContentType: a.ContentType,
		})
	}
	return obs, nil
}

// authorTag is username#discriminator for legacy accounts, else the username.
func authorTag(u *discordgo.User) string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}
