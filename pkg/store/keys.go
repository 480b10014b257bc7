package store

import (
	"fmt"
	"strings"
)

// MessageRef locates a message on one platform. For Slack, MessageID is the
// message timestamp.
type MessageRef struct {
	ChannelID string
	MessageID string
}

func (r MessageRef) String() string {
	return r.ChannelID + ":" + r.MessageID
}

// ParseMessageRef splits a stored composite. Both fields must be non-empty
// and exactly one separator may appear.
func ParseMessageRef(s string) (MessageRef, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return MessageRef{}, fmt.Errorf("%w: %q", ErrCorruptMapping, s)
	}
	return MessageRef{ChannelID: parts[0], MessageID: parts[1]}, nil
}

type keyspace struct {
	prefix string
}

func (k keyspace) discordChannel(id string) string {
	return k.prefix + "discord_channel:" + id + ":slack"
}

func (k keyspace) slackChannel(id string) string {
	return k.prefix + "slack_channel:" + id + ":discord"
}

func (k keyspace) discordMessage(id string) string {
	return k.prefix + "discord_msg:" + id
}

func (k keyspace) slackMessage(ts string) string {
	return k.prefix + "slack_msg:" + ts
}

func (k keyspace) discordChannelPattern() string {
	return k.prefix + "discord_channel:*:slack"
}

// discordIDFromLinkKey extracts the channel id from a discord_channel key.
func (k keyspace) discordIDFromLinkKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, k.prefix+"discord_channel:")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, ":slack")
	return id, ok && id != ""
}
