package projection

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// EntityCache holds the names used to label mentions while rendering one
// page. It is built per request and never shared.
type EntityCache struct {
	Members  map[string]string // user id to guild display name
	Users    map[string]string // user id to username
	Roles    map[string]string
	Channels map[string]string
}

func NewEntityCache() *EntityCache {
	return &EntityCache{
		Members:  map[string]string{},
		Users:    map[string]string{},
		Roles:    map[string]string{},
		Channels: map[string]string{},
	}
}

func (c *EntityCache) member(id string) (string, bool) {
	if c == nil {
		return "", false
	}
	name, ok := c.Members[id]
	return name, ok && name != ""
}

func (c *EntityCache) role(id string) (string, bool) {
	if c == nil {
		return "", false
	}
	name, ok := c.Roles[id]
	return name, ok
}

func (c *EntityCache) channel(id string) (string, bool) {
	if c == nil {
		return "", false
	}
	name, ok := c.Channels[id]
	return name, ok
}

func (c *EntityCache) userLabel(id string) string {
	if name, ok := c.member(id); ok {
		return "@" + name
	}
	if c != nil {
		if name, ok := c.Users[id]; ok && name != "" {
			return "@" + name
		}
	}
	return "@Unknown user(" + id + ")"
}

// Resolver fills an EntityCache for a guild and a set of users.
type Resolver interface {
	Prime(ctx context.Context, guildID string, userIDs []string) *EntityCache
}

// MemberSource fetches guild members over REST. *discordgo.Session satisfies it.
type MemberSource interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// maxMemberFetches bounds REST lookups per page.
const maxMemberFetches = 50

// Directory resolves names from the gateway state cache, falling back to
// REST for members the cache does not hold.
type Directory struct {
	state   *discordgo.State
	members MemberSource
	logger  *slog.Logger
}

func NewDirectory(state *discordgo.State, members MemberSource, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{state: state, members: members, logger: logger.With("module", "projection")}
}

// Prime loads role and channel names of the guild and display names of the
// given users.
func (d *Directory) Prime(ctx context.Context, guildID string, userIDs []string) *EntityCache {
	cache := NewEntityCache()

	if d.state != nil {
		if guild, err := d.state.Guild(guildID); err == nil {
			for _, r := range guild.Roles {
				cache.Roles[r.ID] = r.Name
			}
			for _, ch := range guild.Channels {
				cache.Channels[ch.ID] = ch.Name
			}
			for _, th := range guild.Threads {
				cache.Channels[th.ID] = th.Name
			}
		}
	}

	fetches := 0
	for _, id := range userIDs {
		if _, done := cache.Members[id]; done {
			continue
		}
		var member *discordgo.Member
		if d.state != nil {
			member, _ = d.state.Member(guildID, id)
		}
		if member == nil && d.members != nil && fetches < maxMemberFetches && ctx.Err() == nil {
			fetches++
			m, err := d.members.GuildMember(guildID, id, discordgo.WithContext(ctx))
			if err != nil {
				d.logger.Debug("projection.member_lookup_failed", "guild_id", guildID, "user_id", id, "error", err)
			} else {
				member = m
			}
		}
		if member == nil {
			continue
		}
		cache.Members[id] = DisplayName(member)
		if member.User != nil {
			cache.Users[id] = member.User.Username
		}
	}
	return cache
}

// DisplayName is the member's nickname, else global name, else username.
func DisplayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
