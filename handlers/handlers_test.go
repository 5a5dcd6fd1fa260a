package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DarkMukke/backup-discord-bot/models"
	"github.com/DarkMukke/backup-discord-bot/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReconciler struct {
	mu  sync.Mutex
	obs []models.Observation
}

func (f *fakeReconciler) Reconcile(_ context.Context, obs models.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obs = append(f.obs, obs)
	return nil
}

type fakeFetcher struct {
	msg   *discordgo.Message
	err   error
	calls int
}

func (f *fakeFetcher) ChannelMessage(_, _ string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls++
	return f.msg, f.err
}

func TestFilterAllows(t *testing.T) {
	open := NewFilter(models.ArchiveConfig{Exclude: []string{"99"}})
	assert.True(t, open.Allows("1", "10", ""))
	assert.False(t, open.Allows("", "10", ""), "direct messages are never archived")
	assert.False(t, open.Allows("1", "99", ""))
	assert.False(t, open.Allows("1", "11", "99"), "threads of excluded channels are excluded")

	scoped := NewFilter(models.ArchiveConfig{Guilds: []string{"1"}})
	assert.True(t, scoped.Allows("1", "10", ""))
	assert.False(t, scoped.Allows("2", "10", ""))
}

func newState(t *testing.T) *discordgo.State {
	t.Helper()
	state := discordgo.NewState()
	require.NoError(t, state.GuildAdd(&discordgo.Guild{ID: "1", Name: "guild"}))
	require.NoError(t, state.ChannelAdd(&discordgo.Channel{ID: "10", GuildID: "1", Name: "general", Type: discordgo.ChannelTypeGuildText}))
	require.NoError(t, state.ChannelAdd(&discordgo.Channel{ID: "11", GuildID: "1", Name: "side", ParentID: "99", Type: discordgo.ChannelTypeGuildPublicThread}))
	return state
}

func TestIngestMessageCreate(t *testing.T) {
	rec := &fakeReconciler{}
	in := NewIngest(context.Background(), rec, nil, NewFilter(models.ArchiveConfig{Exclude: []string{"99"}}), nil)
	session := &discordgo.Session{State: newState(t)}

	in.MessageCreate(session, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "500",
		ChannelID: "10",
		GuildID:   "1",
		Content:   "hello",
		Author:    &discordgo.User{ID: "7", Username: "alice"},
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	// Thread under an excluded parent.
	in.MessageCreate(session, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "501", ChannelID: "11", GuildID: "1", Author: &discordgo.User{ID: "7"},
	}})
	// Direct message.
	in.MessageCreate(session, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "502", ChannelID: "12", Author: &discordgo.User{ID: "7"},
	}})

	require.Len(t, rec.obs, 1)
	obs := rec.obs[0]
	assert.Equal(t, models.ObservationCreated, obs.Kind)
	assert.Equal(t, models.SourceLive, obs.Source)
	require.NotNil(t, obs.Message)
	assert.Equal(t, int64(500), obs.Message.ID)
	assert.Equal(t, int64(10), obs.Message.Channel.DiscordChannelID)
	assert.Equal(t, int64(1), obs.Message.Channel.GuildID)
	assert.Equal(t, "general", obs.Message.Channel.Name)
	assert.Equal(t, "hello", obs.Message.Content)
	assert.Equal(t, "alice", obs.Message.AuthorName)
}

func TestIngestMessageUpdateFetchesPartial(t *testing.T) {
	rec := &fakeReconciler{}
	fetcher := &fakeFetcher{msg: &discordgo.Message{
		ID: "500", ChannelID: "10", Content: "edited", Author: &discordgo.User{ID: "7", Username: "alice"},
	}}
	in := NewIngest(context.Background(), rec, fetcher, NewFilter(models.ArchiveConfig{}), nil)

	in.MessageUpdate(nil, &discordgo.MessageUpdate{Message: &discordgo.Message{ID: "500", ChannelID: "10", GuildID: "1"}})

	assert.Equal(t, 1, fetcher.calls)
	require.Len(t, rec.obs, 1)
	assert.Equal(t, models.ObservationEdited, rec.obs[0].Kind)
	assert.Equal(t, "edited", rec.obs[0].Message.Content)
	assert.Equal(t, int64(1), rec.obs[0].Message.Channel.GuildID)
}

func TestIngestMessageUpdateFetchFailure(t *testing.T) {
	rec := &fakeReconciler{}
	fetcher := &fakeFetcher{err: errors.New("unknown message")}
	in := NewIngest(context.Background(), rec, fetcher, NewFilter(models.ArchiveConfig{}), nil)

	in.MessageUpdate(nil, &discordgo.MessageUpdate{Message: &discordgo.Message{ID: "500", ChannelID: "10", GuildID: "1"}})

	assert.Equal(t, 1, fetcher.calls)
	assert.Empty(t, rec.obs)
}

func TestIngestMessageUpdateWithoutMessage(t *testing.T) {
	rec := &fakeReconciler{}
	fetcher := &fakeFetcher{}
	in := NewIngest(context.Background(), rec, fetcher, NewFilter(models.ArchiveConfig{}), nil)

	assert.NotPanics(t, func() { in.MessageUpdate(nil, &discordgo.MessageUpdate{}) })
	assert.Zero(t, fetcher.calls)
	assert.Empty(t, rec.obs)
}

func TestIngestDeletes(t *testing.T) {
	rec := &fakeReconciler{}
	in := NewIngest(context.Background(), rec, nil, NewFilter(models.ArchiveConfig{}), nil)

	in.MessageDelete(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "500", ChannelID: "10", GuildID: "1"}})
	in.MessageDeleteBulk(nil, &discordgo.MessageDeleteBulk{GuildID: "1", ChannelID: "10", Messages: []string{"501", "bogus", "502"}})

	require.Len(t, rec.obs, 3)
	for i, want := range []int64{500, 501, 502} {
		assert.Equal(t, models.ObservationDeleted, rec.obs[i].Kind)
		assert.Equal(t, want, rec.obs[i].MessageID)
		assert.Nil(t, rec.obs[i].Message)
	}
}

type fakeChannelStore struct {
	channels map[int64]*models.Channel
	enabled  []models.ChannelRef
}

func (f *fakeChannelStore) GetChannel(_ context.Context, id int64) (*models.Channel, error) {
	return f.channels[id], nil
}

func (f *fakeChannelStore) EnableArchiving(_ context.Context, refs []models.ChannelRef) error {
	f.enabled = append(f.enabled, refs...)
	return nil
}

type fakeJoiner struct {
	joined []string
}

func (f *fakeJoiner) ThreadJoin(id string, _ ...discordgo.RequestOption) error {
	f.joined = append(f.joined, id)
	return nil
}

func TestThreadCreateEnablesUnderArchivedParent(t *testing.T) {
	store := &fakeChannelStore{channels: map[int64]*models.Channel{
		10: {DiscordChannelID: 10, ArchivingEnabled: true},
		20: {DiscordChannelID: 20},
	}}
	joiner := &fakeJoiner{}
	th := NewThreads(context.Background(), store, joiner, NewFilter(models.ArchiveConfig{}), nil)

	th.ThreadCreateHandler(nil, &discordgo.ThreadCreate{Channel: &discordgo.Channel{
		ID: "30", GuildID: "1", ParentID: "10", Name: "topic",
	}})
	th.ThreadCreateHandler(nil, &discordgo.ThreadCreate{Channel: &discordgo.Channel{
		ID: "31", GuildID: "1", ParentID: "20", Name: "other",
		Member: &discordgo.ThreadMember{ID: "31"},
	}})

	assert.Equal(t, []string{"30"}, joiner.joined)
	require.Len(t, store.enabled, 1)
	assert.Equal(t, models.ChannelRef{DiscordChannelID: 30, GuildID: 1, Name: "topic"}, store.enabled[0])
}

type fakeResponder struct {
	responses []*discordgo.InteractionResponse
	edits     []string
}

func (f *fakeResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeResponder) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.edits = append(f.edits, *edit.Content)
	return &discordgo.Message{}, nil
}

type fakeAdmin struct {
	enabled  []models.ChannelRef
	disabled []int64
	err      error
}

func (f *fakeAdmin) Enable(_ context.Context, ref models.ChannelRef) (int, error) {
	f.enabled = append(f.enabled, ref)
	return 2, f.err
}

func (f *fakeAdmin) Disable(_ context.Context, id int64) (int, error) {
	f.disabled = append(f.disabled, id)
	return 1, f.err
}

func interaction(name, sub string, member *discordgo.Member) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{{Name: sub, Type: discordgo.ApplicationCommandOptionSubCommand}}
	}
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "1",
		ChannelID: "10",
		Member:    member,
		Data:      data,
	}}
}

var adminMember = &discordgo.Member{User: &discordgo.User{ID: "7"}, Roles: []string{"admins"}}

func newCommands(admin ChannelAdmin, store ChannelLookup) *Commands {
	auth := utils.NewAuth(models.AuthConfig{AdminRoles: []string{"admins"}})
	return NewCommands(context.Background(), auth, admin, store, nil)
}

func TestArchiveEnableCommand(t *testing.T) {
	admin := &fakeAdmin{}
	c := newCommands(admin, &fakeChannelStore{})
	r := &fakeResponder{}

	c.CommandDispatcher(r, newState(t), interaction("archive", "enable", adminMember))

	require.Len(t, admin.enabled, 1)
	assert.Equal(t, models.ChannelRef{DiscordChannelID: 10, GuildID: 1, Name: "general"}, admin.enabled[0])
	require.Len(t, r.responses, 1)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, r.responses[0].Type)
	require.Len(t, r.edits, 1)
	assert.Contains(t, r.edits[0], "enabled")
	assert.Contains(t, r.edits[0], "2 thread(s)")
}

func TestArchiveDisableCommandFailure(t *testing.T) {
	admin := &fakeAdmin{err: errors.New("db down")}
	c := newCommands(admin, &fakeChannelStore{})
	r := &fakeResponder{}

	c.CommandDispatcher(r, nil, interaction("archive", "disable", adminMember))

	assert.Equal(t, []int64{10}, admin.disabled)
	require.Len(t, r.edits, 1)
	assert.Contains(t, r.edits[0], "Failed")
}

func TestArchiveStatusCommand(t *testing.T) {
	cursor := int64(123)
	store := &fakeChannelStore{channels: map[int64]*models.Channel{
		10: {DiscordChannelID: 10, ArchivingEnabled: true, LastBackfilledMessageID: &cursor},
	}}
	c := newCommands(&fakeAdmin{}, store)
	r := &fakeResponder{}

	c.CommandDispatcher(r, nil, interaction("archive", "status", adminMember))

	require.Len(t, r.responses, 1)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, r.responses[0].Data.Flags)
	assert.Contains(t, r.responses[0].Data.Content, "**enabled**")
	assert.Contains(t, r.responses[0].Data.Content, "123")
	assert.Empty(t, r.edits)
}

func TestDescribeChannel(t *testing.T) {
	assert.Equal(t, "This channel has never been archived.", describeChannel(nil))
	assert.Contains(t, describeChannel(&models.Channel{ArchivingEnabled: true, BackfillComplete: true}), "complete")
	assert.Contains(t, describeChannel(&models.Channel{ArchivingEnabled: true}), "not started")
	assert.NotContains(t, describeChannel(&models.Channel{}), "backfill")
}

func TestCommandPermissionDenied(t *testing.T) {
	admin := &fakeAdmin{}
	c := newCommands(admin, &fakeChannelStore{})
	r := &fakeResponder{}
	guest := &discordgo.Member{User: &discordgo.User{ID: "8"}}

	c.CommandDispatcher(r, nil, interaction("archive", "enable", guest))

	assert.Empty(t, admin.enabled)
	require.Len(t, r.responses, 1)
	assert.Contains(t, r.responses[0].Data.Content, "permission")
	assert.Equal(t, discordgo.MessageFlagsEphemeral, r.responses[0].Data.Flags)
}

func TestPingCommand(t *testing.T) {
	c := newCommands(&fakeAdmin{}, &fakeChannelStore{})
	r := &fakeResponder{}

	c.CommandDispatcher(r, nil, interaction("ping", "", &discordgo.Member{User: &discordgo.User{ID: "8"}}))

	require.Len(t, r.responses, 1)
	assert.Equal(t, "Pong!", r.responses[0].Data.Content)
}
