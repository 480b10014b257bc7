package store

import "context"

// Direction is the store as seen by one dispatcher. Lookups are keyed by
// the source platform's ids; results are on the target platform.
type Direction interface {
	TargetChannel(ctx context.Context, sourceChannelID string) (string, bool, error)
	TargetMessage(ctx context.Context, sourceMessageID string) (MessageRef, bool, error)
	Record(ctx context.Context, source, delivered MessageRef) error
	Forget(ctx context.Context, sourceMessageID string) error
}

// TowardDiscord serves the dispatcher that relays Slack events to Discord.
func (s *Store) TowardDiscord() Direction { return towardDiscord{s} }

// TowardSlack serves the dispatcher that relays Discord events to Slack.
func (s *Store) TowardSlack() Direction { return towardSlack{s} }

type towardDiscord struct{ s *Store }

func (d towardDiscord) TargetChannel(ctx context.Context, slackChannel string) (string, bool, error) {
	return d.s.DiscordChannelFor(ctx, slackChannel)
}

func (d towardDiscord) TargetMessage(ctx context.Context, slackTs string) (MessageRef, bool, error) {
	return d.s.DiscordMessageFor(ctx, slackTs)
}

func (d towardDiscord) Record(ctx context.Context, source, delivered MessageRef) error {
	return d.s.StoreMessageMapping(ctx, delivered, source)
}

func (d towardDiscord) Forget(ctx context.Context, slackTs string) error {
	return d.s.DeleteMappingBySlack(ctx, slackTs)
}

type towardSlack struct{ s *Store }

func (d towardSlack) TargetChannel(ctx context.Context, discordChannel string) (string, bool, error) {
	return d.s.SlackChannelFor(ctx, discordChannel)
}

func (d towardSlack) TargetMessage(ctx context.Context, discordMsgID string) (MessageRef, bool, error) {
	return d.s.SlackMessageFor(ctx, discordMsgID)
}

func (d towardSlack) Record(ctx context.Context, source, delivered MessageRef) error {
	return d.s.StoreMessageMapping(ctx, source, delivered)
}

func (d towardSlack) Forget(ctx context.Context, discordMsgID string) error {
	return d.s.DeleteMappingByDiscord(ctx, discordMsgID)
}
