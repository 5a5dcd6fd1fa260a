package handlers

import (
	"context"
	"log/slog"

	"github.com/DarkMukke/backup-discord-bot/models"
	"github.com/DarkMukke/backup-discord-bot/utils"

	"github.com/bwmarrin/discordgo"
)

// Responder answers interactions. *discordgo.Session satisfies it.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// ChannelAdmin switches archiving for a channel and its threads.
type ChannelAdmin interface {
	Enable(ctx context.Context, ref models.ChannelRef) (int, error)
	Disable(ctx context.Context, discordChannelID int64) (int, error)
}

// ChannelLookup reads a channel's archive state.
type ChannelLookup interface {
	GetChannel(ctx context.Context, discordChannelID int64) (*models.Channel, error)
}

var commandPermissions = map[string]string{
	"archive": utils.LevelAdmin,
	"ping":    utils.LevelGuest,
}

// Commands runs the slash commands.
type Commands struct {
	ctx    context.Context
	auth   *utils.Auth
	admin  ChannelAdmin
	store  ChannelLookup
	logger *slog.Logger
}

func NewCommands(ctx context.Context, auth *utils.Auth, admin ChannelAdmin, store ChannelLookup, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{ctx: ctx, auth: auth, admin: admin, store: store, logger: logger.With("module", "commands")}
}

// CommandDispatcher performs permission checks and then dispatches the
// interaction to the matching handler.
func (c *Commands) CommandDispatcher(r Responder, state *discordgo.State, i *discordgo.InteractionCreate) {
	commandName := i.ApplicationCommandData().Name
	requiredLevel, ok := commandPermissions[commandName]
	if !ok {
		c.reply(r, i, "🚫 Unknown command.")
		return
	}
	if !c.auth.CheckPermission(i, requiredLevel) {
		c.reply(r, i, "🚫 You do not have permission to run this command.")
		return
	}

	switch commandName {
	case "archive":
		c.HandleArchive(r, state, i)
	case "ping":
		c.HandlePing(r, i)
	}
}

func (c *Commands) reply(r Responder, i *discordgo.InteractionCreate, content string) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		c.logger.Warn("commands.respond_failed", "command", i.ApplicationCommandData().Name, "error", err)
	}
}
