// Package store keeps channel links and message correlations in Redis.
//
// Every link and mapping is written under two keys, one per lookup
// direction. Both keys are written and deleted in a single MULTI/EXEC
// transaction so a reader never sees half of a pair created by this
// process. A missing reverse entry is still read as "not linked".
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinyland-inc/carmine/pkg/logger"
)

const maxWatchRetries = 3

// Store is the correlation store. It is safe for concurrent use.
type Store struct {
	rdb  redis.UniversalClient
	keys keyspace
	ttl  time.Duration
}

type Option func(*Store)

// WithKeyPrefix namespaces every key, e.g. "carmine:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keys.prefix = prefix }
}

// WithMappingTTL expires message mappings after d. Zero keeps them forever.
// Channel links never expire.
func WithMappingTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// Open connects to the Redis instance at url (redis:// or rediss://) and
// checks it answers.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, wrap("parse url", "", err)
	}
	s := New(redis.NewClient(ro), opts...)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = s.rdb.Close()
		return nil, err
	}
	logger.InfoCF("store", "Connected to Redis", map[string]any{
		"addr": ro.Addr,
		"db":   ro.DB,
	})
	return s, nil
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", "", s.rdb.Ping(ctx).Err())
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// LinkChannels links a Discord channel and a Slack channel in both
// directions. An existing link for either id is overwritten.
func (s *Store) LinkChannels(ctx context.Context, discordID, slackID string) error {
	dk, sk := s.keys.discordChannel(discordID), s.keys.slackChannel(slackID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, dk, slackID, 0)
		pipe.Set(ctx, sk, discordID, 0)
		return nil
	})
	return wrap("link", dk, err)
}

// UnlinkChannels removes both link entries. Missing entries are ignored.
func (s *Store) UnlinkChannels(ctx context.Context, discordID, slackID string) error {
	dk, sk := s.keys.discordChannel(discordID), s.keys.slackChannel(slackID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, dk, sk)
		return nil
	})
	return wrap("unlink", dk, err)
}

// SlackChannelFor returns the Slack channel linked to a Discord channel.
func (s *Store) SlackChannelFor(ctx context.Context, discordID string) (string, bool, error) {
	return s.get(ctx, "resolve slack channel", s.keys.discordChannel(discordID))
}

// DiscordChannelFor returns the Discord channel linked to a Slack channel.
func (s *Store) DiscordChannelFor(ctx context.Context, slackID string) (string, bool, error) {
	return s.get(ctx, "resolve discord channel", s.keys.slackChannel(slackID))
}

// StoreMessageMapping records that discord and slack are the same relayed
// message.
func (s *Store) StoreMessageMapping(ctx context.Context, discord, slack MessageRef) error {
	dk, sk := s.keys.discordMessage(discord.MessageID), s.keys.slackMessage(slack.MessageID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, dk, slack.String(), s.ttl)
		pipe.Set(ctx, sk, discord.String(), s.ttl)
		return nil
	})
	return wrap("store mapping", dk, err)
}

// SlackMessageFor returns the Slack message paired with a Discord message.
func (s *Store) SlackMessageFor(ctx context.Context, discordMsgID string) (MessageRef, bool, error) {
	return s.getRef(ctx, "resolve slack message", s.keys.discordMessage(discordMsgID))
}

// DiscordMessageFor returns the Discord message paired with a Slack ts.
func (s *Store) DiscordMessageFor(ctx context.Context, slackTs string) (MessageRef, bool, error) {
	return s.getRef(ctx, "resolve discord message", s.keys.slackMessage(slackTs))
}

// DeleteMappingByDiscord removes the pair starting from the Discord side.
func (s *Store) DeleteMappingByDiscord(ctx context.Context, discordMsgID string) error {
	return s.deletePair(ctx, s.keys.discordMessage(discordMsgID), func(peer MessageRef) string {
		return s.keys.slackMessage(peer.MessageID)
	})
}

// DeleteMappingBySlack removes the pair starting from the Slack side.
func (s *Store) DeleteMappingBySlack(ctx context.Context, slackTs string) error {
	return s.deletePair(ctx, s.keys.slackMessage(slackTs), func(peer MessageRef) string {
		return s.keys.discordMessage(peer.MessageID)
	})
}

// deletePair watches key so a concurrent rewrite of the pair aborts the
// transaction, which is then retried.
func (s *Store) deletePair(ctx context.Context, key string, peerKey func(MessageRef) string) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		peer, err := ParseMessageRef(raw)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, peerKey(peer))
			return nil
		})
		return err
	}

	var err error
	for range maxWatchRetries {
		err = s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		logger.DebugCF("store", "Mapping changed during delete, retrying", map[string]any{"key": key})
	}
	if errors.Is(err, ErrCorruptMapping) {
		return err
	}
	return wrap("delete mapping", key, err)
}

// Link is a channel pair as stored.
type Link struct {
	DiscordChannelID string
	SlackChannelID   string
}

// ListLinks returns every Discord-side link entry, ordered by Discord id.
func (s *Store) ListLinks(ctx context.Context) ([]Link, error) {
	var links []Link
	iter := s.rdb.Scan(ctx, 0, s.keys.discordChannelPattern(), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		discordID, ok := s.keys.discordIDFromLinkKey(key)
		if !ok {
			continue
		}
		slackID, found, err := s.get(ctx, "list links", key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		links = append(links, Link{DiscordChannelID: discordID, SlackChannelID: slackID})
	}
	if err := iter.Err(); err != nil {
		return nil, wrap("scan links", s.keys.discordChannelPattern(), err)
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].DiscordChannelID < links[j].DiscordChannelID
	})
	return links, nil
}

func (s *Store) get(ctx context.Context, op, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(op, key, err)
	}
	return v, true, nil
}

func (s *Store) getRef(ctx context.Context, op, key string) (MessageRef, bool, error) {
	raw, ok, err := s.get(ctx, op, key)
	if err != nil || !ok {
		return MessageRef{}, ok, err
	}
	ref, err := ParseMessageRef(raw)
	if err != nil {
		return MessageRef{}, false, err
	}
	return ref, true, nil
}
