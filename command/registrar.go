package command

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Command is an interface for application commands.
type Command interface {
	Definition() *discordgo.ApplicationCommand
}

// AllCommands holds all the command instances.
var AllCommands = []Command{
	&ArchiveCommand{},
	&PingCommand{},
}

// Definitions returns the application command definitions of cmds.
func Definitions(cmds []Command) []*discordgo.ApplicationCommand {
	defs := make([]*discordgo.ApplicationCommand, len(cmds))
	for i, cmd := range cmds {
		defs[i] = cmd.Definition()
	}
	return defs
}

// Overwriter replaces an application's commands. *discordgo.Session satisfies it.
type Overwriter interface {
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Register replaces the global commands of appID with cmds, so commands
// removed from the binary disappear from Discord as well.
func Register(ctx context.Context, s Overwriter, appID string, cmds []Command) error {
	created, err := s.ApplicationCommandBulkOverwrite(appID, "", Definitions(cmds), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to register %d commands: %w", len(cmds), err)
	}
	if len(created) != len(cmds) {
		return fmt.Errorf("registered %d of %d commands", len(created), len(cmds))
	}
	return nil
}
