package models

// Channel is a row of the channels table.
type Channel struct {
	ID                      int64  `json:"id"`
	DiscordChannelID        int64  `json:"discord_channel_id,string"`
	GuildID                 int64  `json:"guild_id,string"`
	Name                    string `json:"name"`
	ArchivingEnabled        bool   `json:"archiving_enabled"`
	BackfillComplete        bool   `json:"backfill_complete"`
	LastBackfilledMessageID *int64 `json:"last_backfilled_message_id,string"`
}

// ChannelRef identifies a channel as seen on Discord.
type ChannelRef struct {
	DiscordChannelID int64
	GuildID          int64
	Name             string
}

// ChannelSummary is one row of the per-guild channel listing.
type ChannelSummary struct {
	DiscordChannelID int64  `json:"discord_channel_id,string"`
	Name             string `json:"name"`
	ArchivingEnabled bool   `json:"archiving_enabled"`
	BackfillComplete bool   `json:"backfill_complete"`
	MessageCount     int64  `json:"message_count"`
}

// GuildChannel is a channel or thread the bot can see in a guild.
type GuildChannel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        int    `json:"type"`
	ParentID    string `json:"parentId,omitempty"`
	IsThread    bool   `json:"isThread"`
	SectionName string `json:"sectionName"`
}
