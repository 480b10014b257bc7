package channels

// slackMessageEvent is the inner "message" event of an Events API
// callback, with the fields used by the edit and delete subtypes.
type slackMessageEvent struct {
	Type            string              `json:"type"`
	SubType         string              `json:"subtype,omitempty"`
	Channel         string              `json:"channel"`
	User            string              `json:"user,omitempty"`
	Text            string              `json:"text,omitempty"`
	TS              string              `json:"ts"`
	BotID           string              `json:"bot_id,omitempty"`
	DeletedTS       string              `json:"deleted_ts,omitempty"`
	Message         *slackNestedMessage `json:"message,omitempty"`
	PreviousMessage *slackNestedMessage `json:"previous_message,omitempty"`
}

type slackNestedMessage struct {
	User  string `json:"user,omitempty"`
	Text  string `json:"text,omitempty"`
	TS    string `json:"ts"`
	BotID string `json:"bot_id,omitempty"`
}

type slackMessageKind int

const (
	slackMessageSent slackMessageKind = iota
	slackMessageChanged
	slackMessageDeleted
	slackMessagePin
	slackMessageEcho
	slackMessageUnchanged
	slackMessageOther
)

func (k slackMessageKind) String() string {
	switch k {
	case slackMessageSent:
		return "sent"
	case slackMessageChanged:
		return "changed"
	case slackMessageDeleted:
		return "deleted"
	case slackMessagePin:
		return "pin events are not relayed"
	case slackMessageEcho:
		return "posted by a bot"
	case slackMessageUnchanged:
		return "text unchanged"
	default:
		return "unsupported subtype"
	}
}

// classifySlackMessage decides what a message event means for the bridge.
// Bot-authored messages, including the relay's own posts, are echoes.
func classifySlackMessage(m slackMessageEvent) (slackMessageKind, error) {
	switch m.SubType {
	case "":
		if m.BotID != "" {
			return slackMessageEcho, nil
		}
		if m.TS == "" {
			return 0, &TranslationError{Platform: "slack", Field: "ts"}
		}
		return slackMessageSent, nil

	case "message_changed":
		if m.Message == nil || m.Message.TS == "" {
			return 0, &TranslationError{Platform: "slack", Field: "message"}
		}
		if m.Message.BotID != "" {
			return slackMessageEcho, nil
		}
		if m.PreviousMessage != nil && m.PreviousMessage.Text == m.Message.Text {
			return slackMessageUnchanged, nil
		}
		return slackMessageChanged, nil

	case "message_deleted":
		if m.DeletedTS == "" {
			return 0, &TranslationError{Platform: "slack", Field: "deleted_ts"}
		}
		if m.PreviousMessage != nil && m.PreviousMessage.BotID != "" {
			return slackMessageEcho, nil
		}
		return slackMessageDeleted, nil

	case "pinned_item", "unpinned_item":
		return slackMessagePin, nil

	case "bot_message":
		return slackMessageEcho, nil
	}
	return slackMessageOther, nil
}
