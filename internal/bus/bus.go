// Package bus carries relayed frames between nodes over NATS so members of a
// conversation connected to different nodes all receive each message.
package bus

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultSubject is the subject prefix frames are published under.
const DefaultSubject = "chat.conversation"

// Config configures the NATS connection.
type Config struct {
	URL     string
	Subject string
	NodeID  string
}

// envelope wraps a frame with the node that relayed it.
type envelope struct {
	Node           string          `json:"node"`
	ConversationID string          `json:"conversation_id"`
	Frame          json.RawMessage `json:"frame"`
}

// DeliverFunc hands a foreign frame to local conversation members.
type DeliverFunc func(conversationID string, frame []byte)

// Bus publishes local frames and delivers frames relayed by other nodes.
type Bus struct {
	nc      *nats.Conn
	subject string
	node    string
	sub     *nats.Subscription
	log     *zap.Logger
}

// Connect dials NATS.
func Connect(cfg Config, log *zap.Logger) (*Bus, error) {
	if cfg.URL == "" {
		return nil, errors.New("bus: nats url is empty")
	}
	if cfg.NodeID == "" {
		return nil, errors.New("bus: node id is empty")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name("chat-relay-" + cfg.NodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "bus: connect %s", cfg.URL)
	}

	return newBus(nc, cfg, log), nil
}

func newBus(nc *nats.Conn, cfg Config, log *zap.Logger) *Bus {
	return &Bus{
		nc:      nc,
		subject: cfg.Subject,
		node:    cfg.NodeID,
		log:     log,
	}
}

// Publish sends a locally relayed frame to the other nodes.
func (b *Bus) Publish(conversationID string, frame []byte) error {
	data, err := json.Marshal(envelope{Node: b.node, ConversationID: conversationID, Frame: frame})
	if err != nil {
		return errors.Wrap(err, "bus: encode envelope")
	}
	if err := b.nc.Publish(subjectFor(b.subject, conversationID), data); err != nil {
		return errors.Wrapf(err, "bus: publish %s", conversationID)
	}
	return nil
}

// Subscribe starts delivering frames published by other nodes.
func (b *Bus) Subscribe(deliver DeliverFunc) error {
	sub, err := b.nc.Subscribe(b.subject+".>", func(m *nats.Msg) {
		b.handle(m, deliver)
	})
	if err != nil {
		return errors.Wrapf(err, "bus: subscribe %s.>", b.subject)
	}
	b.sub = sub
	return nil
}

func (b *Bus) handle(m *nats.Msg, deliver DeliverFunc) {
	var env envelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		b.log.Warn("bus: dropping undecodable envelope", zap.String("subject", m.Subject), zap.Error(err))
		return
	}
	// Own frames were delivered locally before publishing.
	if env.Node == b.node {
		return
	}
	if env.ConversationID == "" || len(env.Frame) == 0 {
		b.log.Debug("bus: dropping incomplete envelope", zap.String("subject", m.Subject))
		return
	}
	deliver(env.ConversationID, env.Frame)
}

// Close drains the subscription and closes the connection.
func (b *Bus) Close() {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.log.Debug("bus: unsubscribe", zap.Error(err))
		}
	}
	if b.nc != nil {
		b.nc.Close()
	}
}

// subjectFor maps a conversation id onto a single NATS subject token.
func subjectFor(prefix, conversationID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, conversationID)
	return prefix + "." + token
}
