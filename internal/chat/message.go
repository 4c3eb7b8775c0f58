package chat

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// TimeLayout is the created_at format stamped on messages without a client
// timestamp.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// SenderType tells which side of a conversation wrote a message.
type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderAgency SenderType = "agency"
)

// Valid reports whether s is one of the known sender types.
func (s SenderType) Valid() bool {
	return s == SenderUser || s == SenderAgency
}

// Message is the canonical record broadcast to a conversation room. It is
// built once per relay call and never mutated afterwards.
type Message struct {
	ID             *string    `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderType     SenderType `json:"sender_type"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"message"`
	CreatedAt      string     `json:"created_at"`
	IsRead         bool       `json:"is_read"`
}

// Frame is the envelope of every WebSocket frame in both directions.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// EncodeFrame marshals data under event.
func EncodeFrame(event string, data any) ([]byte, error) {
	b, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s frame", event)
	}
	return b, nil
}

// DecodeFrame parses an inbound frame. Data is left as generic JSON values
// for the per-event decoders.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, errors.Wrap(err, "decode frame")
	}
	if f.Event == "" {
		return Frame{}, errors.New("decode frame: missing event name")
	}
	return f, nil
}

// Normalize turns a message intent received on the channel for role into the
// canonical Message. Fields fall back in a fixed order: the structured payload
// first, then the top-level intent fields, then role and clock defaults.
func Normalize(role SenderType, in Intent, now time.Time) (Message, error) {
	if in.ConversationID == "" {
		return Message{}, ErrMissingConversation
	}
	if !in.Payload.Present() {
		return Message{}, ErrMissingPayload
	}

	msg := Message{
		ConversationID: in.ConversationID,
		SenderType:     role,
		SenderID:       in.SenderID,
		IsRead:         false,
	}

	var id, createdAt string
	if f := in.Payload.Fields; f != nil {
		id = firstNonEmpty(f.ID, in.MessageID)
		if st := SenderType(f.SenderType); st.Valid() {
			msg.SenderType = st
		}
		msg.SenderID = firstNonEmpty(f.SenderID, in.SenderID)
		msg.Body = f.Message
		createdAt = firstNonEmpty(f.CreatedAt, in.CreatedAt)
	} else {
		id = in.MessageID
		msg.Body = in.Payload.Text
		createdAt = in.CreatedAt
	}

	if id != "" {
		msg.ID = &id
	}
	if createdAt == "" {
		createdAt = now.UTC().Format(TimeLayout)
	}
	msg.CreatedAt = createdAt
	return msg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
