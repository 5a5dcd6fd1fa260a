package utils

import (
	"slices"

	"github.com/DarkMukke/backup-discord-bot/models"

	"github.com/bwmarrin/discordgo"
)

// Permission levels for slash commands.
const (
	LevelDeveloper = "developer"
	LevelAdmin     = "admin"
	LevelGuest     = "guest"
)

// Auth provides methods for authorization checks.
type Auth struct {
	config models.AuthConfig
}

func NewAuth(cfg models.AuthConfig) *Auth {
	return &Auth{config: cfg}
}

// IsDeveloper checks if a user is a developer.
func (a *Auth) IsDeveloper(userID string) bool {
	return slices.Contains(a.config.Developers, userID)
}

// IsAdmin checks if a member has an admin role.
func (a *Auth) IsAdmin(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, role := range member.Roles {
		if slices.Contains(a.config.AdminRoles, role) {
			return true
		}
	}
	return false
}

// CheckPermission checks if the user behind an interaction has the required level.
func (a *Auth) CheckPermission(i *discordgo.InteractionCreate, requiredLevel string) bool {
	var user *discordgo.User
	switch {
	case i.Member != nil && i.Member.User != nil:
		user = i.Member.User
	case i.User != nil:
		user = i.User
	default:
		return false
	}

	switch requiredLevel {
	case LevelDeveloper:
		return a.IsDeveloper(user.ID)
	case LevelAdmin:
		return a.IsDeveloper(user.ID) || a.IsAdmin(i.Member)
	case LevelGuest:
		return true
	default:
		return false
	}
}
