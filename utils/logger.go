package utils

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	ColorInfo  = 0x00ff00 // Green
	ColorWarn  = 0xffff00 // Yellow
	ColorError = 0xff0000 // Red
)

var logLevel = new(slog.LevelVar)

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger creates a JSON structured logger and makes it the default.
func NewLogger(level string) *slog.Logger {
	logLevel.Set(ParseLevel(level))

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: true,
	})

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of every logger built by NewLogger.
func SetLevel(level string) {
	logLevel.Set(ParseLevel(level))
}

// EmbedSender posts embeds to a channel. *discordgo.Session satisfies it.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type mirror struct {
	sender    EmbedSender
	channelID string
	queue     chan *discordgo.MessageEmbed
}

// DiscordHandler passes every record to the wrapped handler and mirrors
// warnings and errors to the admin channel as embeds. Embeds are queued and
// dropped when the queue is full; Run delivers them.
type DiscordHandler struct {
	inner  slog.Handler
	mirror *mirror
	attrs  []slog.Attr
}

func NewDiscordHandler(inner slog.Handler, sender EmbedSender, channelID string) *DiscordHandler {
	if channelID == "" {
		log.Println("Warning: bot.admin_channel_id is not set. Logging to channel will be disabled.")
	}
	return &DiscordHandler{
		inner: inner,
		mirror: &mirror{
			sender:    sender,
			channelID: channelID,
			queue:     make(chan *discordgo.MessageEmbed, 64),
		},
	}
}

func (h *DiscordHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *DiscordHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.inner.Handle(ctx, r)
	if r.Level >= slog.LevelWarn && h.mirror.channelID != "" && h.mirror.sender != nil {
		select {
		case h.mirror.queue <- h.embed(r):
		default:
		}
	}
	return err
}

func (h *DiscordHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DiscordHandler{
		inner:  h.inner.WithAttrs(attrs),
		mirror: h.mirror,
		attrs:  append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *DiscordHandler) WithGroup(name string) slog.Handler {
	return &DiscordHandler{inner: h.inner.WithGroup(name), mirror: h.mirror, attrs: h.attrs}
}

// Run sends queued embeds until ctx is cancelled.
func (h *DiscordHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case embed := <-h.mirror.queue:
			if _, err := h.mirror.sender.ChannelMessageSendEmbed(h.mirror.channelID, embed, discordgo.WithContext(ctx)); err != nil {
				log.Printf("Error sending log message to Discord: %v", err)
			}
		}
	}
}

func (h *DiscordHandler) embed(r slog.Record) *discordgo.MessageEmbed {
	level, color := "WARN", ColorWarn
	if r.Level >= slog.LevelError {
		level, color = "ERROR", ColorError
	}

	module := "-"
	var details []string
	add := func(a slog.Attr) bool {
		if a.Key == "module" {
			module = a.Value.String()
			return true
		}
		details = append(details, fmt.Sprintf("%s=%v", a.Key, a.Value.Any()))
		return true
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(add)

	detail := strings.Join(details, "\n")
	if detail == "" {
		detail = "-"
	}
	if len(detail) > 1024 {
		detail = detail[:1021] + "..."
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Log Level: %s", level),
		Color:     color,
		Timestamp: ts.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Module", Value: module, Inline: true},
			{Name: "Operation", Value: r.Message, Inline: true},
			{Name: "Details", Value: detail},
		},
	}
}
