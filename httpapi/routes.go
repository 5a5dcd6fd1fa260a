package httpapi

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/labstack/echo/v4"
)

type enableChannelRequest struct {
	DiscordChannelID string `json:"discord_channel_id" validate:"required,numeric"`
	Name             string `json:"name" validate:"max=100"`
	GuildID          string `json:"guild_id" validate:"required,numeric"`
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a snowflake")
	}
	return id, nil
}

func (s *Server) health(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		s.logger.Warn("http.health_failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) guildChannels(c echo.Context) error {
	guildID := c.Param("guildId")
	if _, err := parseID(guildID, "guildId"); err != nil {
		return err
	}
	channels, err := s.guilds.ListGuildChannels(c.Request().Context(), guildID)
	if err != nil {
		return fmt.Errorf("failed to list channels of guild %s: %w", guildID, err)
	}
	if channels == nil {
		channels = []models.GuildChannel{}
	}
	return c.JSON(http.StatusOK, channels)
}

func (s *Server) listChannels(c echo.Context) error {
	raw := c.QueryParam("guildId")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "guildId query param required")
	}
	guildID, err := parseID(raw, "guildId")
	if err != nil {
		return err
	}
	channels, err := s.store.ListChannels(c.Request().Context(), guildID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, channels)
}

func (s *Server) enableChannel(c echo.Context) error {
	var req enableChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "discord_channel_id and guild_id required")
	}
	channelID, err := parseID(req.DiscordChannelID, "discord_channel_id")
	if err != nil {
		return err
	}
	guildID, err := parseID(req.GuildID, "guild_id")
	if err != nil {
		return err
	}

	threads, err := s.admin.Enable(c.Request().Context(), models.ChannelRef{
		DiscordChannelID: channelID,
		GuildID:          guildID,
		Name:             req.Name,
	})
	if err != nil {
		return err
	}
	s.logger.Info("http.channel_enabled", "channel_id", channelID, "threads", threads)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) disableChannel(c echo.Context) error {
	channelID, err := parseID(c.Param("discordChannelId"), "discordChannelId")
	if err != nil {
		return err
	}
	threads, err := s.admin.Disable(c.Request().Context(), channelID)
	if err != nil {
		return err
	}
	s.logger.Info("http.channel_disabled", "channel_id", channelID, "threads", threads)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) channelMessages(c echo.Context) error {
	channelID, err := parseID(c.Param("discordChannelId"), "discordChannelId")
	if err != nil {
		return err
	}
	var cursor int64
	if raw := c.QueryParam("cursor"); raw != "" {
		if cursor, err = parseID(raw, "cursor"); err != nil {
			return err
		}
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	page, err := s.reader.ListCurrentMessages(c.Request().Context(), channelID, cursor, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) messageRevisions(c echo.Context) error {
	messageID, err := parseID(c.Param("discordMessageId"), "discordMessageId")
	if err != nil {
		return err
	}
	revisions, err := s.reader.ListRevisions(c.Request().Context(), messageID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, revisions)
}

func (s *Server) attachment(c echo.Context) error {
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	att, err := s.store.GetStoredAttachment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if att == nil {
		return echo.NewHTTPError(http.StatusNotFound, "attachment not found")
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	h := c.Response().Header()
	h.Set(echo.HeaderContentDisposition, mime.FormatMediaType("inline", map[string]string{"filename": att.Filename}))
	h.Set("Cache-Control", "private, max-age=86400, immutable")
	return c.Blob(http.StatusOK, contentType, att.Data)
}
