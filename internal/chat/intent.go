package chat

import (
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Event is the name of an inbound frame.
type Event string

const (
	EventJoinUserRoom      Event = "join_user_room"
	EventJoinAgencyRoom    Event = "join_agency_room"
	EventJoinConversation  Event = "join_conversation"
	EventLeaveConversation Event = "leave_conversation"
	EventSendMessage       Event = "send_message"
	EventAgencyMessage     Event = "agency_message"
)

// Role returns the sender role implied by a message event.
func (e Event) Role() (SenderType, bool) {
	switch e {
	case EventSendMessage:
		return SenderUser, true
	case EventAgencyMessage:
		return SenderAgency, true
	}
	return "", false
}

var (
	ErrMissingConversation = errors.New("missing conversation_id")
	ErrMissingUser         = errors.New("missing user_id")
	ErrMissingAgency       = errors.New("missing agency_id")
	ErrMissingPayload      = errors.New("missing message payload")
	ErrUnsupportedPayload  = errors.New("unsupported payload shape")
)

// PayloadFields is the structured form of a message payload.
type PayloadFields struct {
	ID         string `mapstructure:"id"`
	SenderType string `mapstructure:"sender_type"`
	SenderID   string `mapstructure:"sender_id"`
	Message    string `mapstructure:"message"`
	CreatedAt  string `mapstructure:"created_at"`
}

// Payload is either a plain text body or a structured object, never both.
type Payload struct {
	Text   string
	Fields *PayloadFields

	present bool
}

// TextPayload wraps a plain body.
func TextPayload(text string) Payload { return Payload{Text: text, present: true} }

// FieldsPayload wraps a structured body.
func FieldsPayload(f PayloadFields) Payload { return Payload{Fields: &f, present: true} }

// Present reports whether the intent carried a payload at all.
func (p Payload) Present() bool { return p.present }

// Intent is the decoded data of a send_message or agency_message frame.
type Intent struct {
	ConversationID string  `mapstructure:"conversation_id"`
	MessageID      string  `mapstructure:"message_id"`
	SenderID       string  `mapstructure:"sender_id"`
	CreatedAt      string  `mapstructure:"created_at"`
	Payload        Payload `mapstructure:"-"`
}

// DecodeIntent decodes the data of a message frame.
func DecodeIntent(data any) (Intent, error) {
	raw, ok := data.(map[string]any)
	if !ok {
		return Intent{}, errors.Wrapf(ErrUnsupportedPayload, "intent is %T", data)
	}

	var in Intent
	if err := weakDecode(raw, &in); err != nil {
		return Intent{}, errors.Wrap(err, "decode intent")
	}

	switch m := raw["message"].(type) {
	case nil:
	case string:
		in.Payload = TextPayload(m)
	case map[string]any:
		var f PayloadFields
		if err := weakDecode(m, &f); err != nil {
			return Intent{}, errors.Wrap(err, "decode message payload")
		}
		in.Payload = FieldsPayload(f)
	default:
		return Intent{}, errors.Wrapf(ErrUnsupportedPayload, "message is %T", m)
	}
	return in, nil
}

// UserRoomIntent is the data of join_user_room.
type UserRoomIntent struct {
	UserID string `mapstructure:"user_id"`
}

// DecodeUserRoom returns the user id of a join_user_room frame.
func DecodeUserRoom(data any) (string, error) {
	var in UserRoomIntent
	if err := weakDecode(data, &in); err != nil {
		return "", errors.Wrap(err, "decode join_user_room")
	}
	if in.UserID == "" {
		return "", ErrMissingUser
	}
	return in.UserID, nil
}

// DecodeAgencyRoom returns the agency id of a join_agency_room frame. Clients
// send the bare id; an object with agency_id is accepted too.
func DecodeAgencyRoom(data any) (string, error) {
	var id string
	switch v := data.(type) {
	case nil:
	case string:
		id = v
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		var in struct {
			AgencyID string `mapstructure:"agency_id"`
		}
		if err := weakDecode(v, &in); err != nil {
			return "", errors.Wrap(err, "decode join_agency_room")
		}
		id = in.AgencyID
	default:
		return "", errors.Wrapf(ErrUnsupportedPayload, "agency id is %T", data)
	}
	if id == "" {
		return "", ErrMissingAgency
	}
	return id, nil
}

// ConversationIntent is the data of join_conversation and leave_conversation.
type ConversationIntent struct {
	ConversationID string `mapstructure:"conversation_id"`
	UserID         string `mapstructure:"user_id"`
}

// DecodeConversation decodes a join or leave frame. A missing conversation id
// is reported as ErrMissingConversation.
func DecodeConversation(data any) (ConversationIntent, error) {
	var in ConversationIntent
	if err := weakDecode(data, &in); err != nil {
		return ConversationIntent{}, errors.Wrap(err, "decode conversation intent")
	}
	if in.ConversationID == "" {
		return ConversationIntent{}, ErrMissingConversation
	}
	return in, nil
}

// weakDecode decodes generic JSON values into out, turning numeric ids into
// their string form.
func weakDecode(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
