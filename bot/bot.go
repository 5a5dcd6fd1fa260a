package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DarkMukke/backup-discord-bot/archive"
	"github.com/DarkMukke/backup-discord-bot/attachments"
	"github.com/DarkMukke/backup-discord-bot/backfill"
	"github.com/DarkMukke/backup-discord-bot/command"
	"github.com/DarkMukke/backup-discord-bot/config"
	"github.com/DarkMukke/backup-discord-bot/database"
	"github.com/DarkMukke/backup-discord-bot/events"
	rpc "github.com/DarkMukke/backup-discord-bot/grpc"
	"github.com/DarkMukke/backup-discord-bot/httpapi"
	"github.com/DarkMukke/backup-discord-bot/models"
	"github.com/DarkMukke/backup-discord-bot/projection"
	"github.com/DarkMukke/backup-discord-bot/scanner"
	"github.com/DarkMukke/backup-discord-bot/utils"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"
)

// Job names known to the scheduler.
const (
	JobBackfill    = "backfill"
	JobAttachments = "attachments"
)

// Bot encapsulates the bot's state.
type Bot struct {
	Session      *discordgo.Session
	Config       *models.Config
	Logger       *slog.Logger
	Store        *database.DB
	Publisher    events.Publisher
	Reconciler   *archive.Reconciler
	Admin        *archive.Admin
	Scanner      *scanner.Scanner
	Backfiller   *backfill.Backfiller
	Materializer *attachments.Materializer
	Projection   *projection.Projection
	Auth         *utils.Auth
	Scheduler    *Scheduler
	Commands     []command.Command

	logHandler *utils.DiscordHandler
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewBot creates and initializes a new Bot instance. ctx bounds the life of
// every background job the bot starts.
func NewBot(ctx context.Context, cfg *models.Config) (*Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, errors.New("no bot token provided")
	}

	dg, err := discordgo.New("Bot " + cfg.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuilds |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	base := utils.NewLogger(cfg.Log.Level)
	logHandler := utils.NewDiscordHandler(base.Handler(), dg, cfg.Bot.AdminChannelID)
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	store, err := database.Open(ctx, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		p, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			store.Close()
			return nil, err
		}
		publisher = p
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &Bot{
		Session:    dg,
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Publisher:  publisher,
		Auth:       utils.NewAuth(cfg.Auth),
		Scheduler:  NewScheduler(ctx, logger),
		logHandler: logHandler,
		ctx:        ctx,
		cancel:     cancel,
	}
	b.Reconciler = archive.NewReconciler(store, publisher, logger)
	b.Scanner = scanner.New(dg, logger)
	b.Admin = archive.NewAdmin(store, b.Scanner, logger)
	b.Backfiller = backfill.New(dg, store, b.Reconciler, cfg.Backfill.PageSize, logger)
	b.Materializer = attachments.New(store, attachments.Options{
		BatchSize:          cfg.Attachments.BatchSize,
		MaxBytes:           cfg.Attachments.MaxBytes,
		DownloadsPerSecond: cfg.Attachments.DownloadsPerSecond,
		Timeout:            cfg.Attachments.Timeout,
		MaxAttempts:        cfg.Attachments.MaxAttempts,
		RetryBackoff:       cfg.Attachments.RetryBackoff,
	}, logger)
	b.Projection = projection.New(store, projection.NewDirectory(dg.State, dg, logger), logger)

	if err := b.Scheduler.Every(JobBackfill, cfg.Backfill.Interval, b.Backfiller); err != nil {
		b.close()
		return nil, err
	}
	if err := b.Scheduler.Every(JobAttachments, cfg.Attachments.Interval, b.Materializer); err != nil {
		b.close()
		return nil, err
	}
	return b, nil
}

// Context is cancelled when the bot stops.
func (b *Bot) Context() context.Context {
	return b.ctx
}

// Start registers handlers, opens the gateway session and starts the sweeps.
func (b *Bot) Start(registerHandlers func(*Bot)) error {
	registerHandlers(b)

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	if err := command.Register(b.ctx, b.Session, b.Session.State.User.ID, b.Commands); err != nil {
		b.Logger.Error("bot.register_commands_failed", "error", err)
	}

	b.Scheduler.Start()
	b.Logger.Info("bot.started", "user", b.Session.State.User.Username)
	return nil
}

// Stop gracefully closes the bot's session and waits for the sweeps.
func (b *Bot) Stop() {
	b.cancel()
	b.Scheduler.Stop()
	if b.Session != nil {
		if err := b.Session.Close(); err != nil {
			b.Logger.Warn("bot.session_close_failed", "error", err)
		}
	}
	b.close()
	b.Logger.Info("bot.stopped")
}

func (b *Bot) close() {
	b.cancel()
	if err := b.Publisher.Close(); err != nil {
		b.Logger.Warn("bot.publisher_close_failed", "error", err)
	}
	if err := b.Store.Close(); err != nil {
		b.Logger.Warn("bot.store_close_failed", "error", err)
	}
}

// Run is the main entry point for the bot application. It serves until
// SIGINT or SIGTERM arrives, or until one of the servers fails.
func Run(configDir string, registerHandlers func(*Bot), commands []command.Command) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := NewBot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("error initializing bot: %w", err)
	}
	b.Commands = commands

	if err := b.Start(registerHandlers); err != nil {
		b.close()
		return fmt.Errorf("error starting bot: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.logHandler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return config.Watch(gctx, configDir, b.Logger, func(next *models.Config) {
			utils.SetLevel(next.Log.Level)
		})
	})
	if cfg.HTTP.Addr != "" {
		api := httpapi.New(cfg.HTTP, b.Store, b.Projection, b.Admin, b.Scanner, b.Logger)
		g.Go(func() error { return api.Start(gctx) })
	}
	if cfg.GRPC.Addr != "" {
		srv := rpc.NewServer(cfg.GRPC.Addr, b.Projection, b.Logger)
		g.Go(func() error { return srv.Start(gctx) })
	}

	err = g.Wait()
	b.Stop()
	return err
}
