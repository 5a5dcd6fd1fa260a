package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/DarkMukke/backup-discord-bot/bot"
	"github.com/DarkMukke/backup-discord-bot/command"
	"github.com/DarkMukke/backup-discord-bot/handlers"
)

func main() {
	configDir := flag.String("config", ".", "directory holding config.yaml and .env")
	flag.Parse()

	if err := bot.Run(*configDir, handlers.Register, command.AllCommands); err != nil {
		slog.Error("bot.exit", "error", err)
		os.Exit(1)
	}
}
