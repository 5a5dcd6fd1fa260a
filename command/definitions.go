package command

import "github.com/bwmarrin/discordgo"

// Subcommands of /archive.
const (
	ArchiveEnable  = "enable"
	ArchiveDisable = "disable"
	ArchiveStatus  = "status"
)

// ArchiveCommand defines the structure for the /archive command.
type ArchiveCommand struct{}

// Definition returns the application command definition.
func (c *ArchiveCommand) Definition() *discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionManageChannels)
	return &discordgo.ApplicationCommand{
		Name:                     "archive",
		Description:              "Manage archiving of this channel",
		DefaultMemberPermissions: &perms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        ArchiveEnable,
				Description: "Start archiving this channel and its threads",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        ArchiveDisable,
				Description: "Stop archiving this channel and its threads",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        ArchiveStatus,
				Description: "Show the archive state of this channel",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
		},
	}
}

// PingCommand defines the structure for the /ping command.
type PingCommand struct{}

// Definition returns the application command definition.
func (c *PingCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "ping",
		Description: "Responds with Pong!",
	}
}
