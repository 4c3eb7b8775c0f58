package chat

import (
	"time"

	"go.uber.org/zap"
)

// DefaultOutboundEvent is the event name relayed messages are delivered under.
const DefaultOutboundEvent = "new_message"

// Fanout forwards an encoded frame to relays running on other nodes.
type Fanout interface {
	Publish(conversationID string, frame []byte) error
}

// Relay normalizes message intents and broadcasts them to every current
// member of the conversation room, the sender included.
type Relay struct {
	rooms  *Rooms
	event  string
	fanout Fanout
	now    func() time.Time
	log    *zap.Logger
}

// RelayOption customizes a Relay.
type RelayOption func(*Relay)

// WithOutboundEvent sets the event name of delivered frames.
func WithOutboundEvent(event string) RelayOption {
	return func(r *Relay) {
		if event != "" {
			r.event = event
		}
	}
}

// WithFanout publishes every relayed frame to f after local delivery.
func WithFanout(f Fanout) RelayOption {
	return func(r *Relay) { r.fanout = f }
}

// WithClock replaces the wall clock used to stamp created_at.
func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRelay returns a relay broadcasting into rooms.
func NewRelay(rooms *Rooms, log *zap.Logger, opts ...RelayOption) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Relay{
		rooms: rooms,
		event: DefaultOutboundEvent,
		now:   time.Now,
		log:   log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OutboundEvent returns the event name delivered frames carry.
func (r *Relay) OutboundEvent() string { return r.event }

// Relay normalizes in as sent by role and delivers it to the conversation
// room. It returns the normalized message and the number of local members the
// frame was queued for. An empty room is not an error.
func (r *Relay) Relay(role SenderType, in Intent) (Message, int, error) {
	msg, err := Normalize(role, in, r.now())
	if err != nil {
		return Message{}, 0, err
	}

	frame, err := EncodeFrame(r.event, msg)
	if err != nil {
		return Message{}, 0, err
	}

	delivered := r.Deliver(msg.ConversationID, frame)

	if r.fanout != nil {
		if err := r.fanout.Publish(msg.ConversationID, frame); err != nil {
			r.log.Warn("fanout publish failed",
				zap.String("conversation_id", msg.ConversationID),
				zap.Error(err))
		}
	}
	return msg, delivered, nil
}

// Deliver queues an already encoded frame for every local member of the
// conversation. Members that cannot take the frame are closed.
func (r *Relay) Deliver(conversationID string, frame []byte) int {
	members := r.rooms.MembersOf(ConversationRoom(conversationID))
	delivered := 0
	for _, c := range members {
		if c.Send(frame) {
			delivered++
			continue
		}
		r.log.Warn("dropping slow connection",
			zap.String("conn_id", c.ID()),
			zap.String("conversation_id", conversationID))
		c.Close()
	}

	r.log.Debug("message relayed",
		zap.String("conversation_id", conversationID),
		zap.Int("members", len(members)),
		zap.Int("delivered", delivered))
	return delivered
}
