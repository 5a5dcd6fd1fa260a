package handlers

import (
	"sync"

	"github.com/DarkMukke/backup-discord-bot/bot"

	"github.com/bwmarrin/discordgo"
)

// Register all handlers to the bot.
func Register(b *bot.Bot) {
	filter := NewFilter(b.Config.Archive)
	ingest := NewIngest(b.Context(), b.Reconciler, b.Session, filter, b.Logger)
	threads := NewThreads(b.Context(), b.Store, b.Session, filter, b.Logger)
	commands := NewCommands(b.Context(), b.Auth, b.Admin, b.Store, b.Logger)

	b.Session.AddHandler(ingest.MessageCreate)
	b.Session.AddHandler(ingest.MessageUpdate)
	b.Session.AddHandler(ingest.MessageDelete)
	b.Session.AddHandler(ingest.MessageDeleteBulk)
	b.Session.AddHandler(threads.ThreadCreateHandler)
	b.Session.AddHandler(commands.InteractionCreate)
	b.Session.AddHandler(ReadyHandler(b))
}

// ReadyHandler logs each gateway login. The first one also starts a
// backfill sweep when backfill.on_startup is set, since reconnects deliver
// Ready again.
func ReadyHandler(b *bot.Bot) func(*discordgo.Session, *discordgo.Ready) {
	var once sync.Once
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		b.Logger.Info("bot.ready", "user", r.User.Username, "guilds", len(r.Guilds))
		if !b.Config.Backfill.OnStartup {
			return
		}
		once.Do(func() {
			b.Scheduler.Trigger(bot.JobBackfill)
		})
	}
}
