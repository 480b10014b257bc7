package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/carmine/pkg/store"
)

type fakeSlack struct {
	channels map[string]*slack.Channel
	infoErr  error
	joinErr  error
	joined   []string
}

func (f *fakeSlack) GetConversationInfoContext(_ context.Context, in *slack.GetConversationInfoInput) (*slack.Channel, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	ch, ok := f.channels[in.ChannelID]
	if !ok {
		return nil, errors.New("channel_not_found")
	}
	return ch, nil
}

func (f *fakeSlack) JoinConversationContext(_ context.Context, channelID string) (*slack.Channel, string, []string, error) {
	if f.joinErr != nil {
		return nil, "", nil, f.joinErr
	}
	f.joined = append(f.joined, channelID)
	return f.channels[channelID], "", nil, nil
}

func slackChannel(name string, member bool) *slack.Channel {
	ch := &slack.Channel{}
	ch.Name = name
	ch.IsMember = member
	return ch
}

func newHandler(t *testing.T) (*Handler, *store.Store, *miniredis.Miniredis, *fakeSlack) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	fs := &fakeSlack{channels: map[string]*slack.Channel{
		"C1": slackChannel("general", true),
		"C2": slackChannel("random", false),
	}}
	return NewHandler(s, fs, ""), s, mr, fs
}

func TestLinkFromSlack(t *testing.T) {
	h, s, _, _ := newHandler(t)
	ctx := context.Background()

	reply := h.LinkFromSlack(ctx, "C1", " 100 ")
	assert.Equal(t, "Successfully linked Discord channel `100` to this Slack channel", reply)

	id, ok, err := s.SlackChannelFor(ctx, "100")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "C1", id)
}

func TestLinkFromSlack_InvalidID(t *testing.T) {
	h, _, mr, _ := newHandler(t)

	for _, arg := range []string{"", "abc", "-5", "#general"} {
		assert.Equal(t, "Please provide a valid Discord channel ID", h.LinkFromSlack(context.Background(), "C1", arg))
	}
	assert.Empty(t, mr.Keys())
}

func TestLinkFromSlack_StoreError(t *testing.T) {
	h, _, mr, _ := newHandler(t)
	mr.Close()

	reply := h.LinkFromSlack(context.Background(), "C1", "100")
	assert.Contains(t, reply, "Error linking Discord channel: ")
}

func TestUnlinkFromSlack(t *testing.T) {
	h, s, mr, _ := newHandler(t)
	ctx := context.Background()

	assert.Equal(t, "This Slack channel is not linked to any Discord channel", h.UnlinkFromSlack(ctx, "C1"))

	require.NoError(t, s.LinkChannels(ctx, "100", "C1"))
	assert.Equal(t, "Successfully unlinked Discord channel `100` from this Slack channel", h.UnlinkFromSlack(ctx, "C1"))
	assert.Empty(t, mr.Keys())
}

func TestLinkFromDiscord_AlreadyMember(t *testing.T) {
	h, s, _, fs := newHandler(t)
	ctx := context.Background()

	reply := h.LinkFromDiscord(ctx, "100", "C1")
	assert.Equal(t, "Successfully linked Slack channel **`general`** to this Discord channel", reply)
	assert.Empty(t, fs.joined)

	id, ok, err := s.DiscordChannelFor(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "100", id)
}

func TestLinkFromDiscord_JoinsFirst(t *testing.T) {
	h, _, _, fs := newHandler(t)

	reply := h.LinkFromDiscord(context.Background(), "100", "C2")
	assert.Equal(t, "Successfully linked Slack channel **`random`** to this Discord channel", reply)
	assert.Equal(t, []string{"C2"}, fs.joined)
}

func TestLinkFromDiscord_Failures(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		h, _, _, _ := newHandler(t)
		assert.Equal(t, "Please provide a valid Slack channel ID", h.LinkFromDiscord(context.Background(), "100", "general"))
	})

	t.Run("lookup", func(t *testing.T) {
		h, _, mr, fs := newHandler(t)
		fs.infoErr = errors.New("missing_scope")

		reply := h.LinkFromDiscord(context.Background(), "100", "C1")
		assert.Equal(t, "Error linking Slack channel: failed to get channel info: missing_scope", reply)
		assert.Empty(t, mr.Keys(), "no link on failure")
	})

	t.Run("join", func(t *testing.T) {
		h, _, mr, fs := newHandler(t)
		fs.joinErr = errors.New("is_archived")

		reply := h.LinkFromDiscord(context.Background(), "100", "C2")
		assert.Equal(t, "Error linking Slack channel: failed to join channel 'random': is_archived", reply)
		assert.Empty(t, mr.Keys(), "no link on failure")
	})
}

func TestUnlinkFromDiscord(t *testing.T) {
	h, s, _, _ := newHandler(t)
	ctx := context.Background()

	assert.Equal(t, "This Discord channel is not linked to any Slack channel", h.UnlinkFromDiscord(ctx, "100"))

	require.NoError(t, s.LinkChannels(ctx, "100", "C1"))
	assert.Equal(t, "Successfully unlinked Slack channel **`C1`** from this Discord channel", h.UnlinkFromDiscord(ctx, "100"))

	_, ok, err := s.DiscordChannelFor(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleSlash(t *testing.T) {
	h, _, _, _ := newHandler(t)
	ctx := context.Background()

	tests := []struct {
		command string
		text    string
		want    string
	}{
		{"/link-channel", "100", "Successfully linked Discord channel `100` to this Slack channel"},
		{"/help", "", SlackHelpText},
		{"/unlink-channel", "", "Successfully unlinked Discord channel `100` from this Slack channel"},
		{"/deploy", "", UnknownCommand},
	}
	for _, tt := range tests {
		got := h.HandleSlash(ctx, slack.SlashCommand{Command: tt.command, Text: tt.text, ChannelID: "C1"})
		assert.Equal(t, tt.want, got, tt.command)
	}
}

func TestHandleDiscord(t *testing.T) {
	h, _, _, _ := newHandler(t)
	ctx := context.Background()

	reply, ok := h.HandleDiscord(ctx, "100", "ping", "", 42*time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, "🏓 pong! (42ms)", reply)

	reply, ok = h.HandleDiscord(ctx, "100", "help", "", 0)
	assert.True(t, ok)
	assert.Contains(t, reply, "`/link-channel <slack_channel_id>` or `c?link-channel <slack_channel_id>`")

	_, ok = h.HandleDiscord(ctx, "100", "dance", "", 0)
	assert.False(t, ok)
}

func TestParsePrefixed(t *testing.T) {
	h := NewHandler(nil, nil, "")

	name, arg, ok := h.ParsePrefixed("c?link-channel  C123 ")
	assert.True(t, ok)
	assert.Equal(t, "link-channel", name)
	assert.Equal(t, "C123", arg)

	name, _, ok = h.ParsePrefixed("c?PING")
	assert.True(t, ok)
	assert.Equal(t, "ping", name)

	_, _, ok = h.ParsePrefixed("hello c?ping")
	assert.False(t, ok)
	_, _, ok = h.ParsePrefixed("c?")
	assert.False(t, ok)
}
