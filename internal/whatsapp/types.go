// Package whatsapp provides the Green API gateway client and the inbound
// webhook payload types.
package whatsapp

// Webhook type tags Green API sends. Everything else is ignored.
const (
	WebhookIncomingMessage = "incomingMessageReceived"
	WebhookPollUpdate      = "pollUpdateMessage"
)

// Message type tags inside incomingMessageReceived payloads.
const (
	TypeTextMessage         = "textMessage"
	TypeExtendedTextMessage = "extendedTextMessage"
	TypeImageMessage        = "imageMessage"
	TypeAudioMessage        = "audioMessage"
)

// Webhook is the wire shape of a Green API webhook notification.
type Webhook struct {
	TypeWebhook string      `json:"typeWebhook"`
	Timestamp   int64       `json:"timestamp"`
	IDMessage   string      `json:"idMessage"`
	SenderData  SenderData  `json:"senderData"`
	MessageData MessageData `json:"messageData"`
}

// SenderData identifies the chat and sender of an inbound notification.
type SenderData struct {
	ChatID     string `json:"chatId"`
	ChatName   string `json:"chatName"`
	Sender     string `json:"sender"` // phone-derived, e.g. "972501234567@c.us"
	SenderName string `json:"senderName"`
}

// MessageData carries the type tag and the type-specific payload. Only
// one of the optional sub-objects is populated per message.
type MessageData struct {
	TypeMessage             string                   `json:"typeMessage"`
	TextMessageData         *TextMessageData         `json:"textMessageData,omitempty"`
	ExtendedTextMessageData *ExtendedTextMessageData `json:"extendedTextMessageData,omitempty"`
	ImageMessageData        *MediaMessageData        `json:"imageMessageData,omitempty"`
	AudioMessageData        *MediaMessageData        `json:"audioMessageData,omitempty"`
	PollMessageData         *PollMessageData         `json:"pollMessageData,omitempty"`
}

// TextMessageData is the body of a plain text message.
type TextMessageData struct {
	TextMessage string `json:"textMessage"`
}

// ExtendedTextMessageData is the body of an extended text message. Only
// the text is consumed; the rest is link-preview metadata.
type ExtendedTextMessageData struct {
	Text        string `json:"text"`
	Description string `json:"description,omitempty"`
	Title       string `json:"title,omitempty"`
}

// MediaMessageData is the body of an image or audio message.
type MediaMessageData struct {
	DownloadURL string `json:"downloadUrl"`
	Caption     string `json:"caption,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PollMessageData is the body of a poll vote update. StanzaID is the
// idMessage of the originally sent poll and correlates the vote to it.
type PollMessageData struct {
	StanzaID string     `json:"stanzaId"`
	Name     string     `json:"name"`
	Votes    []PollVote `json:"votes"`
}

// PollVote lists the voters that currently selected one option.
type PollVote struct {
	OptionName   string   `json:"optionName"`
	OptionVoters []string `json:"optionVoters"`
}

// Event is the normalized inbound event handed to the orchestrator.
// Body is a tagged variant; unsupported notifications produce ok=false
// from ParseEvent instead of an Event.
type Event struct {
	ID         string
	ChatID     string
	Sender     string
	SenderName string
	Body       Body
}

// Body is the message-type-specific payload of an Event.
type Body interface {
	isBody()
}

// Text is a plain or extended text body.
type Text struct {
	Text string
}

// Image is an image body. Caption may be empty.
type Image struct {
	DownloadURL string
	Caption     string
}

// Audio is a voice-note body.
type Audio struct {
	DownloadURL string
}

// PollUpdate is a poll vote body. CorrelationID matches the idMessage
// returned when the poll was sent.
type PollUpdate struct {
	CorrelationID string
	Votes         []PollVote
}

func (Text) isBody()       {}
func (Image) isBody()      {}
func (Audio) isBody()      {}
func (PollUpdate) isBody() {}

// ParseEvent converts a webhook payload into a normalized Event.
// Returns ok=false for webhook or message types the pipeline does not
// handle; those are discarded by the caller.
func ParseEvent(w *Webhook) (Event, bool) {
	ev := Event{
		ID:         w.IDMessage,
		ChatID:     w.SenderData.ChatID,
		Sender:     w.SenderData.Sender,
		SenderName: w.SenderData.SenderName,
	}

	switch w.TypeWebhook {
	case WebhookPollUpdate:
		if w.MessageData.PollMessageData == nil {
			return Event{}, false
		}
		ev.Body = PollUpdate{
			CorrelationID: w.MessageData.PollMessageData.StanzaID,
			Votes:         w.MessageData.PollMessageData.Votes,
		}
		return ev, true

	case WebhookIncomingMessage:
		switch w.MessageData.TypeMessage {
		case TypeTextMessage:
			if w.MessageData.TextMessageData == nil {
				return Event{}, false
			}
			ev.Body = Text{Text: w.MessageData.TextMessageData.TextMessage}
		case TypeExtendedTextMessage:
			if w.MessageData.ExtendedTextMessageData == nil {
				return Event{}, false
			}
			ev.Body = Text{Text: w.MessageData.ExtendedTextMessageData.Text}
		case TypeImageMessage:
			if w.MessageData.ImageMessageData == nil {
				return Event{}, false
			}
			ev.Body = Image{
				DownloadURL: w.MessageData.ImageMessageData.DownloadURL,
				Caption:     w.MessageData.ImageMessageData.Caption,
			}
		case TypeAudioMessage:
			if w.MessageData.AudioMessageData == nil {
				return Event{}, false
			}
			ev.Body = Audio{DownloadURL: w.MessageData.AudioMessageData.DownloadURL}
		default:
			return Event{}, false
		}
		return ev, true

	default:
		return Event{}, false
	}
}
