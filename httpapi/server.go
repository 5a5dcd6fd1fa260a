// Package httpapi serves the archive over HTTP for the web UI.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/DarkMukke/backup-discord-bot/models"
	"github.com/DarkMukke/backup-discord-bot/projection"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the part of the revision store read directly by the API.
type Store interface {
	Ping(ctx context.Context) error
	ListChannels(ctx context.Context, guildID int64) ([]models.ChannelSummary, error)
	GetStoredAttachment(ctx context.Context, id int64) (*models.StoredAttachment, error)
}

// Reader renders archived messages.
type Reader interface {
	ListCurrentMessages(ctx context.Context, discordChannelID, cursor int64, limit int) (*projection.Page, error)
	ListRevisions(ctx context.Context, discordMessageID int64) ([]projection.RevisionView, error)
}

// ChannelAdmin switches archiving for a channel and its threads.
type ChannelAdmin interface {
	Enable(ctx context.Context, ref models.ChannelRef) (int, error)
	Disable(ctx context.Context, discordChannelID int64) (int, error)
}

// GuildScanner lists what the bot can see in a guild.
type GuildScanner interface {
	ListGuildChannels(ctx context.Context, guildID string) ([]models.GuildChannel, error)
}

type Server struct {
	echo   *echo.Echo
	addr   string
	store  Store
	reader Reader
	admin  ChannelAdmin
	guilds GuildScanner
	logger *slog.Logger
}

func New(cfg models.HTTPConfig, store Store, reader Reader, admin ChannelAdmin, guilds GuildScanner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		echo:   echo.New(),
		addr:   cfg.Addr,
		store:  store,
		reader: reader,
		admin:  admin,
		guilds: guilds,
		logger: logger.With("module", "http"),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = s.errorHandler

	e.Use(Metrics())
	e.Use(RequestID())
	e.Use(LogRequest(s.logger))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.logger.Error("http.panic", "error", err, "stack", string(stack))
			return nil
		},
	}))
	if cfg.APIKey != "" {
		e.Use(KeyAuth(cfg.APIKey))
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/guilds/:guildId/channels", s.guildChannels)
	api.GET("/channels", s.listChannels)
	api.POST("/channels", s.enableChannel)
	api.DELETE("/channels/:discordChannelId", s.disableChannel)
	api.GET("/channels/:discordChannelId/messages", s.channelMessages)
	api.GET("/channels/messages/:discordMessageId/revisions", s.messageRevisions)
	api.GET("/attachments/:id", s.attachment)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http.starting", "addr", s.addr)
		if err := s.echo.Start(s.addr); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else {
		s.logger.Error("http.handler_failed", "path", c.Path(), "request_id", c.Get(XRequestID), "error", err)
	}
	if err := c.JSON(code, map[string]string{"error": msg}); err != nil {
		s.logger.Warn("http.write_error_failed", "error", err)
	}
}
