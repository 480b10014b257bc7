package bridge

import (
	"context"
	"testing"
)

type recordingHandler struct {
	calls []string
}

func (h *recordingHandler) HandleMessageSent(_ context.Context, _ Event, m MessageSent) error {
	h.calls = append(h.calls, "sent:"+m.MessageID)
	return nil
}

func (h *recordingHandler) HandleMessageEdited(_ context.Context, _ Event, m MessageEdited) error {
	h.calls = append(h.calls, "edited:"+m.MessageID)
	return nil
}

func (h *recordingHandler) HandleMessageDeleted(_ context.Context, _ Event, m MessageDeleted) error {
	h.calls = append(h.calls, "deleted:"+m.MessageID)
	return nil
}

func (h *recordingHandler) HandleMessagePinned(_ context.Context, _ Event, m MessagePinned) error {
	h.calls = append(h.calls, "pinned:"+m.MessageID)
	return nil
}

func (h *recordingHandler) HandleMessageUnpinned(_ context.Context, _ Event, m MessageUnpinned) error {
	h.calls = append(h.calls, "unpinned:"+m.MessageID)
	return nil
}

func TestDispatch_RoutesEveryVariant(t *testing.T) {
	types := []EventType{
		MessageSent{MessageID: "1", Content: "hi"},
		MessageEdited{MessageID: "2", NewContent: "hey"},
		MessageDeleted{MessageID: "3"},
		MessagePinned{MessageID: "4"},
		MessageUnpinned{MessageID: "5"},
	}
	want := []string{"sent:1", "edited:2", "deleted:3", "pinned:4", "unpinned:5"}

	h := &recordingHandler{}
	for _, typ := range types {
		ev := NewEvent(UnknownAuthor(), "C1", "T1", typ)
		if err := ev.Dispatch(context.Background(), h); err != nil {
			t.Fatalf("dispatch %s: %v", typ.Kind(), err)
		}
	}

	if len(h.calls) != len(want) {
		t.Fatalf("calls: got %v, want %v", h.calls, want)
	}
	for i := range want {
		if h.calls[i] != want[i] {
			t.Errorf("call %d: got %q, want %q", i, h.calls[i], want[i])
		}
	}
}

func TestNewEvent_AssignsDistinctIDs(t *testing.T) {
	a := NewEvent(UnknownAuthor(), "C1", "T1", MessageDeleted{MessageID: "1"})
	b := NewEvent(UnknownAuthor(), "C1", "T1", MessageDeleted{MessageID: "1"})
	if a.ID == "" || b.ID == "" {
		t.Fatal("expected correlation ids")
	}
	if a.ID == b.ID {
		t.Errorf("expected distinct ids, both %q", a.ID)
	}
}

func TestUnknownAuthor(t *testing.T) {
	a := UnknownAuthor()
	if a.Name != "Unknown User" || a.AvatarURL != "" {
		t.Errorf("unexpected fallback author %+v", a)
	}
	if got := (MessageEdited{MessageID: "9"}).SourceMessageID(); got != "9" {
		t.Errorf("SourceMessageID: got %q", got)
	}
}
