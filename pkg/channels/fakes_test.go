package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
)

type executed struct {
	webhookID string
	channelID string
	params    discordgo.WebhookParams
}

type fakeDiscord struct {
	mu         sync.Mutex
	hooks      map[string][]*discordgo.Webhook
	creates    int
	executed   []executed
	edits      map[string]string
	deletes    []string
	replies    []string
	members    map[string]*discordgo.Member
	nextID     int
	execErr    error
	registered []*discordgo.ApplicationCommand
	responses  []*discordgo.InteractionResponse
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{
		hooks:   make(map[string][]*discordgo.Webhook),
		edits:   make(map[string]string),
		members: make(map[string]*discordgo.Member),
	}
}

func (f *fakeDiscord) ChannelWebhooks(channelID string, _ ...discordgo.RequestOption) ([]*discordgo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.Webhook(nil), f.hooks[channelID]...), nil
}

func (f *fakeDiscord) WebhookCreate(channelID, name, _ string, _ ...discordgo.RequestOption) (*discordgo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	wh := &discordgo.Webhook{
		ID:        fmt.Sprintf("wh-%s-%d", channelID, f.creates),
		ChannelID: channelID,
		Name:      name,
		Token:     "token",
	}
	f.hooks[channelID] = append(f.hooks[channelID], wh)
	return wh, nil
}

func (f *fakeDiscord) channelOf(webhookID string) string {
	for ch, hooks := range f.hooks {
		for _, wh := range hooks {
			if wh.ID == webhookID {
				return ch
			}
		}
	}
	return ""
}

func (f *fakeDiscord) WebhookExecute(webhookID, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.nextID++
	f.executed = append(f.executed, executed{webhookID: webhookID, channelID: f.channelOf(webhookID), params: *data})
	return &discordgo.Message{ID: strconv.Itoa(900 + f.nextID)}, nil
}

func (f *fakeDiscord) WebhookMessageEdit(_, _, messageID string, data *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[messageID] = *data.Content
	return &discordgo.Message{ID: messageID}, nil
}

func (f *fakeDiscord) WebhookMessageDelete(_, _, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *fakeDiscord) ChannelMessageSendReply(_, content string, _ *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, content)
	return &discordgo.Message{}, nil
}

func (f *fakeDiscord) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeDiscord) ApplicationCommandBulkOverwrite(_, _ string, cmds []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = cmds
	return cmds, nil
}

func (f *fakeDiscord) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return nil, errors.New("unknown member")
	}
	return m, nil
}

func (f *fakeDiscord) HeartbeatLatency() time.Duration { return 25 * time.Millisecond }

type fakeSlack struct {
	mu       sync.Mutex
	users    map[string]*slack.User
	channels map[string]*slack.Channel
	joined   []string
	posts    []slackPost
	updates  map[string]string
	deletes  []string
	nextTS   int
	postErr  error
}

type slackPost struct {
	channelID string
	ts        string
}

func newFakeSlack() *fakeSlack {
	return &fakeSlack{
		users:    make(map[string]*slack.User),
		channels: make(map[string]*slack.Channel),
		updates:  make(map[string]string),
	}
}

func (f *fakeSlack) GetUserInfoContext(_ context.Context, user string) (*slack.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[user]
	if !ok {
		return nil, errors.New("user_not_found")
	}
	return u, nil
}

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.nextTS++
	ts := fmt.Sprintf("1700000000.%06d", f.nextTS)
	f.posts = append(f.posts, slackPost{channelID: channelID, ts: ts})
	return channelID, ts, nil
}

func (f *fakeSlack) UpdateMessageContext(_ context.Context, channelID, timestamp string, _ ...slack.MsgOption) (string, string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[timestamp] = channelID
	return channelID, timestamp, "", nil
}

func (f *fakeSlack) DeleteMessageContext(_ context.Context, channel, ts string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ts)
	return channel, ts, nil
}

func (f *fakeSlack) GetConversationInfoContext(_ context.Context, in *slack.GetConversationInfoInput) (*slack.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[in.ChannelID]
	if !ok {
		return nil, errors.New("channel_not_found")
	}
	return ch, nil
}

func (f *fakeSlack) JoinConversationContext(_ context.Context, channelID string) (*slack.Channel, string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channelID)
	if ch, ok := f.channels[channelID]; ok {
		ch.IsMember = true
	}
	return f.channels[channelID], "", nil, nil
}

func (f *fakeSlack) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "UBOT", Team: "test"}, nil
}

func slackUser(display, realName, avatar string) *slack.User {
	return &slack.User{Profile: slack.UserProfile{DisplayName: display, RealName: realName, ImageOriginal: avatar}}
}

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

// signedRequest builds a request carrying a valid Slack signature.
func signedRequest(t *testing.T, path, contentType, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}
