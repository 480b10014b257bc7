// Package bridge defines the platform-agnostic events relayed between
// Discord and Slack.
//
// An Event is produced by one platform's ingest translator and consumed
// exactly once by the dispatcher of the other platform. EventType is a
// closed set: every variant is routed through Handler, so a dispatcher that
// misses a variant does not compile.
package bridge

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	// UnknownAuthorName is shown when the author cannot be resolved.
	UnknownAuthorName = "Unknown User"
	// MissingContentPlaceholder replaces an empty message body.
	MissingContentPlaceholder = "Failed to get message content"
)

// Author is the identity a relayed message is posted under.
type Author struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// UnknownAuthor is the fallback identity used when lookup fails.
func UnknownAuthor() Author {
	return Author{Name: UnknownAuthorName}
}

// Event is a relayable action. ChannelID and WorkspaceID are the ids known
// on the source platform.
type Event struct {
	ID          string
	Author      Author
	ChannelID   string
	WorkspaceID string
	Type        EventType
}

// NewEvent stamps a correlation id on a new event.
func NewEvent(author Author, channelID, workspaceID string, t EventType) Event {
	return Event{
		ID:          uuid.NewString(),
		Author:      author,
		ChannelID:   channelID,
		WorkspaceID: workspaceID,
		Type:        t,
	}
}

// ErrNoEventType is returned when dispatching an Event without a Type.
var ErrNoEventType = errors.New("event has no type")

// Dispatch routes the event to the handler method for its variant.
func (e Event) Dispatch(ctx context.Context, h Handler) error {
	if e.Type == nil {
		return ErrNoEventType
	}
	return e.Type.accept(ctx, e, h)
}

// Handler has one method per EventType variant.
type Handler interface {
	HandleMessageSent(ctx context.Context, e Event, m MessageSent) error
	HandleMessageEdited(ctx context.Context, e Event, m MessageEdited) error
	HandleMessageDeleted(ctx context.Context, e Event, m MessageDeleted) error
	HandleMessagePinned(ctx context.Context, e Event, m MessagePinned) error
	HandleMessageUnpinned(ctx context.Context, e Event, m MessageUnpinned) error
}

// EventType is implemented only by the variants in this package.
type EventType interface {
	// Kind is a stable name for logs.
	Kind() string
	// SourceMessageID is the native id of the message on the source platform.
	SourceMessageID() string

	accept(ctx context.Context, e Event, h Handler) error
}

type MessageSent struct {
	MessageID string
	Content   string
}

type MessageEdited struct {
	MessageID  string
	NewContent string
}

type MessageDeleted struct {
	MessageID string
}

type MessagePinned struct {
	MessageID string
	Content   string
}

type MessageUnpinned struct {
	MessageID string
	Content   string
}

func (MessageSent) Kind() string     { return "message_sent" }
func (MessageEdited) Kind() string   { return "message_edited" }
func (MessageDeleted) Kind() string  { return "message_deleted" }
func (MessagePinned) Kind() string   { return "message_pinned" }
func (MessageUnpinned) Kind() string { return "message_unpinned" }

func (m MessageSent) SourceMessageID() string     { return m.MessageID }
func (m MessageEdited) SourceMessageID() string   { return m.MessageID }
func (m MessageDeleted) SourceMessageID() string  { return m.MessageID }
func (m MessagePinned) SourceMessageID() string   { return m.MessageID }
func (m MessageUnpinned) SourceMessageID() string { return m.MessageID }

func (m MessageSent) accept(ctx context.Context, e Event, h Handler) error {
	return h.HandleMessageSent(ctx, e, m)
}

func (m MessageEdited) accept(ctx context.Context, e Event, h Handler) error {
	return h.HandleMessageEdited(ctx, e, m)
}

func (m MessageDeleted) accept(ctx context.Context, e Event, h Handler) error {
	return h.HandleMessageDeleted(ctx, e, m)
}

func (m MessagePinned) accept(ctx context.Context, e Event, h Handler) error {
	return h.HandleMessagePinned(ctx, e, m)
}

func (m MessageUnpinned) accept(ctx context.Context, e Event, h Handler) error {
	return h.HandleMessageUnpinned(ctx, e, m)
}

var (
	_ EventType = MessageSent{}
	_ EventType = MessageEdited{}
	_ EventType = MessageDeleted{}
	_ EventType = MessagePinned{}
	_ EventType = MessageUnpinned{}
)
