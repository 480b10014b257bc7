package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/carmine/pkg/bridge"
	"github.com/tinyland-inc/carmine/pkg/bus"
	"github.com/tinyland-inc/carmine/pkg/commands"
	"github.com/tinyland-inc/carmine/pkg/logger"
	"github.com/tinyland-inc/carmine/pkg/relay"
	"github.com/tinyland-inc/carmine/pkg/store"
)

const (
	discordMaxContent = 2000
	discordStateCache = 200
)

// discordAPI is the subset of *discordgo.Session the bridge uses.
type discordAPI interface {
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookMessageEdit(webhookID, token, messageID string, data *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookMessageDelete(webhookID, token, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	HeartbeatLatency() time.Duration
}

// DiscordChannel ingests guild messages from the Discord gateway and
// answers link commands.
type DiscordChannel struct {
	*BaseChannel
	session  *discordgo.Session
	api      discordAPI
	commands *commands.Handler
	guildID  string

	mu       sync.RWMutex
	botID    string
	removers []func()
}

// NewDiscordChannel creates a gateway session. Ingested events go to out
// (the queue toward Slack).
func NewDiscordChannel(token, guildID string, out *bus.Queue, cmds *commands.Handler) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	session.State.MaxMessageCount = discordStateCache

	c := newDiscordChannel(session, guildID, out, cmds)
	c.session = session
	return c, nil
}

func newDiscordChannel(api discordAPI, guildID string, out *bus.Queue, cmds *commands.Handler) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", out, WithWorkspaceID(guildID)),
		api:         api,
		commands:    cmds,
		guildID:     guildID,
	}
}

// API exposes the REST client for the Discord deliverer.
func (c *DiscordChannel) API() discordAPI { return c.api }

func (c *DiscordChannel) Start(ctx context.Context) error {
	if c.session == nil {
		return errors.New("discord session not initialized")
	}
	logger.InfoC("discord", "Starting Discord bot")

	c.mu.Lock()
	c.removers = append(c.removers,
		c.session.AddHandler(c.onReady),
		c.session.AddHandler(c.onMessageCreate),
		c.session.AddHandler(c.onMessageUpdate),
		c.session.AddHandler(c.onMessageDelete),
		c.session.AddHandler(c.onInteractionCreate),
	)
	c.mu.Unlock()

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.SetRunning(true)
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.SetRunning(false)

	c.mu.Lock()
	for _, remove := range c.removers {
		remove()
	}
	c.removers = nil
	c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) setBotID(id string) {
	c.mu.Lock()
	c.botID = id
	c.mu.Unlock()
}

func (c *DiscordChannel) getBotID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botID
}

func (c *DiscordChannel) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	c.setBotID(r.User.ID)
	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": r.User.Username,
		"user_id":  r.User.ID,
	})
	if _, err := c.api.ApplicationCommandBulkOverwrite(r.User.ID, c.guildID, slashCommands()); err != nil {
		logger.ErrorCF("discord", "Failed to register slash commands", map[string]any{
			"guild_id": c.guildID,
			"error":    err.Error(),
		})
	}
}

func slashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: "ping", Description: "Ping the bot."},
		{Name: "help", Description: "Show the available commands."},
		{
			Name:        "link-channel",
			Description: "Link a Slack channel to this Discord channel.",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "slack_channel_id",
				Description: "Slack channel ID (e.g., C1234567890)",
				Required:    true,
			}},
		},
		{Name: "unlink-channel", Description: "Unlink the Slack channel linked to this Discord channel."},
	}
}

// isEcho reports messages the bridge must not relay: webhook posts
// (including its own relayed copies), its own replies and other bots.
func (c *DiscordChannel) isEcho(m *discordgo.Message) bool {
	if m.WebhookID != "" {
		return true
	}
	if m.Author == nil {
		return false
	}
	return m.Author.Bot || m.Author.ID == c.getBotID()
}

func (c *DiscordChannel) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || c.isEcho(m.Message) {
		return
	}

	if name, arg, ok := c.commands.ParsePrefixed(m.Content); ok {
		c.runPrefixCommand(m.Message, name, arg)
		return
	}

	switch m.Type {
	case discordgo.MessageTypeDefault, discordgo.MessageTypeReply:
	default:
		logger.DebugCF("discord", "Ignoring message type", map[string]any{
			"message_id": m.ID,
			"type":       int(m.Type),
		})
		return
	}

	content := m.Content
	if content == "" {
		content = bridge.MissingContentPlaceholder
	}
	ctx := context.Background()
	ev := bridge.NewEvent(c.resolveAuthor(ctx, m.Message), m.ChannelID, c.workspaceFor(m.GuildID),
		bridge.MessageSent{MessageID: m.ID, Content: content})
	c.Publish(ctx, ev)
}

func (c *DiscordChannel) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m == nil || m.Message == nil || c.isEcho(m.Message) {
		return
	}
	// Embed unfurls and other partial updates carry neither an author nor
	// an edit timestamp. Only user edits set edited_timestamp.
	if m.EditedTimestamp == nil || m.Author == nil {
		logger.DebugCF("discord", "Ignoring partial message update", map[string]any{"message_id": m.ID})
		return
	}
	if m.BeforeUpdate != nil {
		if c.isEcho(m.BeforeUpdate) {
			return
		}
		if m.BeforeUpdate.Content == m.Content {
			logger.DebugCF("discord", "Ignoring update without content change", map[string]any{"message_id": m.ID})
			return
		}
	}
	if m.ID == "" {
		c.reportTranslation(&TranslationError{Platform: "discord", Field: "message id"}, nil)
		return
	}

	content := m.Content
	if content == "" {
		content = bridge.MissingContentPlaceholder
	}
	ctx := context.Background()
	ev := bridge.NewEvent(c.resolveAuthor(ctx, m.Message), m.ChannelID, c.workspaceFor(m.GuildID),
		bridge.MessageEdited{MessageID: m.ID, NewContent: content})
	c.Publish(ctx, ev)
}

func (c *DiscordChannel) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m == nil || m.Message == nil {
		return
	}
	if m.BeforeDelete != nil && c.isEcho(m.BeforeDelete) {
		return
	}
	if m.ID == "" {
		c.reportTranslation(&TranslationError{Platform: "discord", Field: "message id"}, map[string]any{
			"channel_id": m.ChannelID,
		})
		return
	}
	ev := bridge.NewEvent(bridge.UnknownAuthor(), m.ChannelID, c.workspaceFor(m.GuildID),
		bridge.MessageDeleted{MessageID: m.ID})
	c.Publish(context.Background(), ev)
}

func (c *DiscordChannel) runPrefixCommand(m *discordgo.Message, name, arg string) {
	reply, ok := c.commands.HandleDiscord(context.Background(), m.ChannelID, name, arg, c.api.HeartbeatLatency())
	if !ok {
		reply = commands.UnknownCommand
	}
	if _, err := c.api.ChannelMessageSendReply(m.ChannelID, reply, m.Reference()); err != nil {
		logger.ErrorCF("discord", "Failed to reply to command", map[string]any{
			"command":    name,
			"channel_id": m.ChannelID,
			"error":      err.Error(),
		})
	}
}

func (c *DiscordChannel) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	var arg string
	for _, opt := range data.Options {
		if opt.Name == "slack_channel_id" {
			arg = opt.StringValue()
		}
	}

	reply, ok := c.commands.HandleDiscord(context.Background(), i.ChannelID, data.Name, arg, c.api.HeartbeatLatency())
	if !ok {
		reply = commands.UnknownCommand
	}
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         reply,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	}
	if data.Name == "ping" {
		resp.Data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := c.api.InteractionRespond(i.Interaction, resp); err != nil {
		logger.ErrorCF("discord", "Failed to respond to interaction", map[string]any{
			"command": data.Name,
			"error":   err.Error(),
		})
	}
}

// resolveAuthor prefers the guild nickname, then the global display name,
// then the username. Lookup failures fall back to the unknown author.
func (c *DiscordChannel) resolveAuthor(ctx context.Context, m *discordgo.Message) bridge.Author {
	if m.Author == nil {
		return bridge.UnknownAuthor()
	}
	author := bridge.Author{AvatarURL: m.Author.AvatarURL("")}

	member := m.Member
	if member == nil && m.GuildID != "" {
		fetched, err := c.api.GuildMember(m.GuildID, m.Author.ID, discordgo.WithContext(ctx))
		if err != nil {
			logger.DebugCF("discord", "Guild member lookup failed", map[string]any{
				"user_id": m.Author.ID,
				"error":   err.Error(),
			})
		} else {
			member = fetched
		}
	}
	if member != nil {
		author.Name = member.Nick
		if member.Avatar != "" && m.GuildID != "" {
			author.AvatarURL = discordgo.EndpointGuildMemberAvatar(m.GuildID, m.Author.ID, member.Avatar)
		}
	}
	if author.Name == "" {
		author.Name = m.Author.GlobalName
	}
	if author.Name == "" {
		author.Name = m.Author.Username
	}
	if author.Name == "" {
		author.Name = bridge.UnknownAuthorName
	}
	return author
}

// discordWebhooks finds or creates the relay webhook of a channel.
type discordWebhooks struct {
	api discordAPI
}

func (b discordWebhooks) Find(ctx context.Context, channelID, name string) (*discordgo.Webhook, bool, error) {
	hooks, err := b.api.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, false, err
	}
	for _, wh := range hooks {
		// Webhooks owned by other applications carry no token.
		if wh.Name == name && wh.Token != "" {
			return wh, true, nil
		}
	}
	return nil, false, nil
}

func (b discordWebhooks) Create(ctx context.Context, channelID, name string) (*discordgo.Webhook, error) {
	return b.api.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
}

// DiscordDeliverer posts relayed messages through a per-channel webhook
// so each message shows its original author.
type DiscordDeliverer struct {
	api      discordAPI
	webhooks *relay.Manager[*discordgo.Webhook]
}

func NewDiscordDeliverer(api discordAPI) *DiscordDeliverer {
	return &DiscordDeliverer{
		api:      api,
		webhooks: relay.NewManager[*discordgo.Webhook](relay.DefaultName, discordWebhooks{api: api}),
	}
}

func (d *DiscordDeliverer) Send(ctx context.Context, channelID string, author bridge.Author, content string) (string, error) {
	wh, err := d.webhooks.Get(ctx, channelID)
	if err != nil {
		return "", err
	}
	msg, err := d.api.WebhookExecute(wh.ID, wh.Token, true, &discordgo.WebhookParams{
		Content:         clampRunes(content, discordMaxContent),
		Username:        author.Name,
		AvatarURL:       author.AvatarURL,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		d.evictIfGone(channelID, err)
		return "", fmt.Errorf("discord: execute webhook: %w", err)
	}
	if msg == nil {
		return "", errors.New("discord: execute webhook returned no message")
	}
	return msg.ID, nil
}

func (d *DiscordDeliverer) Edit(ctx context.Context, ref store.MessageRef, content string) error {
	wh, err := d.webhooks.Get(ctx, ref.ChannelID)
	if err != nil {
		return err
	}
	content = clampRunes(content, discordMaxContent)
	if _, err := d.api.WebhookMessageEdit(wh.ID, wh.Token, ref.MessageID, &discordgo.WebhookEdit{
		Content: &content,
	}, discordgo.WithContext(ctx)); err != nil {
		d.evictIfGone(ref.ChannelID, err)
		return fmt.Errorf("discord: edit webhook message: %w", err)
	}
	return nil
}

func (d *DiscordDeliverer) Delete(ctx context.Context, ref store.MessageRef) error {
	wh, err := d.webhooks.Get(ctx, ref.ChannelID)
	if err != nil {
		return err
	}
	if err := d.api.WebhookMessageDelete(wh.ID, wh.Token, ref.MessageID, discordgo.WithContext(ctx)); err != nil {
		d.evictIfGone(ref.ChannelID, err)
		return fmt.Errorf("discord: delete webhook message: %w", err)
	}
	return nil
}

func (d *DiscordDeliverer) evictIfGone(channelID string, err error) {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownWebhook {
		logger.WarnCF("discord", "Relay webhook was deleted, evicting", map[string]any{"channel_id": channelID})
		d.webhooks.Forget(channelID)
	}
}

func clampRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
