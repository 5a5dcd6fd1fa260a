package handlers

import (
	"github.com/bwmarrin/discordgo"
)

// InteractionCreate handles slash command interactions.
func (c *Commands) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	c.CommandDispatcher(s, s.State, i)
}
