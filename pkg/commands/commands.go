// Package commands implements the channel-link commands offered on both
// platforms. Every command returns the reply text; callers decide how to
// deliver it.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/tinyland-inc/carmine/pkg/logger"
	"github.com/tinyland-inc/carmine/pkg/utils"
)

const (
	SlackHelpText   = "Available commands: /link-channel, /unlink-channel, /help"
	UnknownCommand  = "Unknown command"
	unknownChannel  = "Unknown"
	defaultPrefix   = "c?"
	slashLink       = "/link-channel"
	slashUnlink     = "/unlink-channel"
	slashHelp       = "/help"
	discordLink     = "link-channel"
	discordUnlink   = "unlink-channel"
	discordHelp     = "help"
	discordPing     = "ping"
	discordPingText = "🏓 pong!"
)

// Linker is the part of the correlation store commands need.
type Linker interface {
	LinkChannels(ctx context.Context, discordID, slackID string) error
	UnlinkChannels(ctx context.Context, discordID, slackID string) error
	SlackChannelFor(ctx context.Context, discordID string) (string, bool, error)
	DiscordChannelFor(ctx context.Context, slackID string) (string, bool, error)
}

// SlackChannels verifies and joins Slack channels before linking.
type SlackChannels interface {
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
}

type Handler struct {
	store  Linker
	slack  SlackChannels
	prefix string
}

func NewHandler(store Linker, slackAPI SlackChannels, prefix string) *Handler {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Handler{store: store, slack: slackAPI, prefix: prefix}
}

// HandleSlash answers a Slack slash command.
func (h *Handler) HandleSlash(ctx context.Context, cmd slack.SlashCommand) string {
	logger.InfoCF("commands", "Slack command", map[string]any{
		"command":    cmd.Command,
		"channel_id": cmd.ChannelID,
		"user_id":    cmd.UserID,
	})
	switch cmd.Command {
	case slashLink:
		return h.LinkFromSlack(ctx, cmd.ChannelID, cmd.Text)
	case slashUnlink:
		return h.UnlinkFromSlack(ctx, cmd.ChannelID)
	case slashHelp:
		return SlackHelpText
	default:
		return UnknownCommand
	}
}

// LinkFromSlack links slackChannelID to the Discord channel named in arg.
func (h *Handler) LinkFromSlack(ctx context.Context, slackChannelID, arg string) string {
	discordID, err := utils.ParseDiscordID(arg)
	if err != nil {
		return "Please provide a valid Discord channel ID"
	}
	if err := h.store.LinkChannels(ctx, discordID, slackChannelID); err != nil {
		logger.ErrorCF("commands", "Link failed", map[string]any{
			"discord_channel": discordID,
			"slack_channel":   slackChannelID,
			"error":           err.Error(),
		})
		return fmt.Sprintf("Error linking Discord channel: %v", err)
	}
	return fmt.Sprintf("Successfully linked Discord channel `%s` to this Slack channel", discordID)
}

func (h *Handler) UnlinkFromSlack(ctx context.Context, slackChannelID string) string {
	discordID, ok, err := h.store.DiscordChannelFor(ctx, slackChannelID)
	if err != nil {
		return fmt.Sprintf("Error unlinking Discord channel: %v", err)
	}
	if !ok {
		return "This Slack channel is not linked to any Discord channel"
	}
	if err := h.store.UnlinkChannels(ctx, discordID, slackChannelID); err != nil {
		return fmt.Sprintf("Error unlinking Discord channel: %v", err)
	}
	return fmt.Sprintf("Successfully unlinked Discord channel `%s` from this Slack channel", discordID)
}

// LinkFromDiscord verifies the Slack channel, joins it when the bot is not
// a member, and only then links it to discordChannelID.
func (h *Handler) LinkFromDiscord(ctx context.Context, discordChannelID, arg string) string {
	slackID, err := utils.ValidateSlackChannelID(arg)
	if err != nil {
		return "Please provide a valid Slack channel ID"
	}
	name, err := h.verifyAndJoin(ctx, slackID)
	if err != nil {
		return fmt.Sprintf("Error linking Slack channel: %v", err)
	}
	if err := h.store.LinkChannels(ctx, discordChannelID, slackID); err != nil {
		return fmt.Sprintf("Error linking Slack channel: %v", err)
	}
	return fmt.Sprintf("Successfully linked Slack channel **`%s`** to this Discord channel", name)
}

func (h *Handler) verifyAndJoin(ctx context.Context, channelID string) (string, error) {
	info, err := h.slack.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return "", fmt.Errorf("failed to get channel info: %w", err)
	}
	name := info.Name
	if name == "" {
		name = unknownChannel
	}
	if info.IsMember {
		return name, nil
	}
	if _, _, _, err := h.slack.JoinConversationContext(ctx, channelID); err != nil {
		return "", fmt.Errorf("failed to join channel '%s': %w", name, err)
	}
	logger.InfoCF("commands", "Joined Slack channel", map[string]any{
		"channel_id": channelID,
		"name":       name,
	})
	return name, nil
}

func (h *Handler) UnlinkFromDiscord(ctx context.Context, discordChannelID string) string {
	slackID, ok, err := h.store.SlackChannelFor(ctx, discordChannelID)
	if err != nil {
		return fmt.Sprintf("Error unlinking Slack channel: %v", err)
	}
	if !ok {
		return "This Discord channel is not linked to any Slack channel"
	}
	if err := h.store.UnlinkChannels(ctx, discordChannelID, slackID); err != nil {
		return fmt.Sprintf("Error unlinking Slack channel: %v", err)
	}
	return fmt.Sprintf("Successfully unlinked Slack channel **`%s`** from this Discord channel", slackID)
}

// DiscordHelp lists the Discord commands in both slash and prefix form.
func (h *Handler) DiscordHelp() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range []struct{ usage, desc string }{
		{discordPing, "Ping the bot."},
		{discordHelp, "Show this message."},
		{discordLink + " <slack_channel_id>", "Link a Slack channel to this Discord channel."},
		{discordUnlink, "Unlink the Slack channel linked to this Discord channel."},
	} {
		fmt.Fprintf(&b, "`/%s` or `%s%s`: %s\n", c.usage, h.prefix, c.usage, c.desc)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Ping reports the gateway heartbeat latency.
func (h *Handler) Ping(latency time.Duration) string {
	if latency <= 0 {
		return discordPingText
	}
	return fmt.Sprintf("%s (%dms)", discordPingText, latency.Milliseconds())
}

// HandleDiscord runs a Discord command by name. ok is false for names that
// are not commands, so plain messages can be relayed instead.
func (h *Handler) HandleDiscord(ctx context.Context, channelID, name, arg string, latency time.Duration) (reply string, ok bool) {
	switch name {
	case discordPing:
		return h.Ping(latency), true
	case discordHelp:
		return h.DiscordHelp(), true
	case discordLink:
		return h.LinkFromDiscord(ctx, channelID, arg), true
	case discordUnlink:
		return h.UnlinkFromDiscord(ctx, channelID), true
	}
	return "", false
}

// ParsePrefixed splits "c?link-channel C123" into name and argument. ok is
// false when content does not start with the prefix.
func (h *Handler) ParsePrefixed(content string) (name, arg string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(content), h.prefix)
	if !found {
		return "", "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", false
	}
	name = strings.ToLower(fields[0])
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}
	return name, arg, true
}
