// Package server coordinates client registration, room events, and connection
// cleanup for the relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/presence"
)

const (
	presenceTimeout = 3 * time.Second
	presenceBacklog = 256
)

// presenceUpdate is one queued write to the presence store.
type presenceUpdate struct {
	userID string
	online bool
}

// Hub owns every live client and serializes their events on one goroutine,
// so each join, leave, send or disconnect is applied to the registry and room
// index as a single step.
type Hub struct {
	cfg      Config
	registry *chat.Registry
	rooms    *chat.Rooms
	relay    *chat.Relay
	presence presence.Store
	log      *zap.Logger

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	remote     chan remoteFrame
	presenceQ  chan presenceUpdate
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithPresence mirrors session binds into store.
func WithPresence(store presence.Store) HubOption {
	return func(h *Hub) {
		if store != nil {
			h.presence = store
		}
	}
}

// NewHub creates a hub over the given registry, room index and relay. The
// relay must broadcast into rooms.
func NewHub(cfg *Config, registry *chat.Registry, rooms *chat.Rooms, relay *chat.Relay, log *zap.Logger, opts ...HubOption) *Hub {
	if cfg == nil {
		cfg = NewConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg.Sanitize(),
		registry:   registry,
		rooms:      rooms,
		relay:      relay,
		presence:   presence.Nop{},
		log:        log,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent),
		remote:     make(chan remoteFrame, 64),
		presenceQ:  make(chan presenceUpdate, presenceBacklog),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	h.wg.Add(1)
	go h.runPresence()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			close(h.presenceQ)
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case ev := <-h.inbound:
			h.handleEvent(ev)

		case rf := <-h.remote:
			h.relay.Deliver(rf.conversationID, rf.frame)
		}
	}
}

// Register hands a freshly upgraded client to the hub, which starts its pumps.
// It reports false when the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) dispatch(ev inboundEvent) bool {
	select {
	case h.inbound <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// DeliverRemote queues a frame relayed by another node for local members of
// conversationID.
func (h *Hub) DeliverRemote(conversationID string, frame []byte) {
	select {
	case h.remote <- remoteFrame{conversationID: conversationID, frame: frame}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.log.Debug("received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()
	client.log.Info("client registered", zap.Int("clients", clientCount))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	userID, removed := h.registry.UnbindOnDisconnect(client.ID())
	left := h.rooms.Purge(client.ID())
	client.closeSend()

	if removed {
		h.markOffline(userID)
	}
	client.log.Info("client unregistered",
		zap.String("user_id", userID),
		zap.Int("rooms_left", left),
		zap.Int("clients", clientCount))
}

func (h *Hub) isRegistered(client *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[client]
	return ok
}

// handleEvent applies one inbound frame. Incomplete intents are dropped
// without telling the client.
func (h *Hub) handleEvent(ev inboundEvent) {
	c := ev.client
	if !h.isRegistered(c) {
		return
	}

	event := chat.Event(ev.frame.Event)
	data := ev.frame.Data

	switch event {
	case chat.EventJoinUserRoom:
		h.joinUserRoom(c, data)
	case chat.EventJoinAgencyRoom:
		h.joinAgencyRoom(c, data)
	case chat.EventJoinConversation:
		h.joinConversation(c, data)
	case chat.EventLeaveConversation:
		h.leaveConversation(c, data)
	case chat.EventSendMessage, chat.EventAgencyMessage:
		role, _ := event.Role()
		h.relayMessage(c, role, data)
	default:
		c.log.Debug("ignoring unknown event", zap.String("event", ev.frame.Event))
	}
}

func (h *Hub) joinUserRoom(c *Client, data any) {
	userID, err := chat.DecodeUserRoom(data)
	if err != nil {
		c.log.Debug("ignoring join_user_room", zap.Error(err))
		return
	}

	evicted, bound := h.registry.Bind(userID, c)
	if !bound {
		c.log.Debug("connection already belongs to another user", zap.String("user_id", userID))
		return
	}
	h.rooms.Join(chat.UserRoom(userID), c)

	if evicted != nil {
		c.log.Info("replaced stale session",
			zap.String("user_id", userID),
			zap.String("evicted_conn_id", evicted.ID()))
	}
	c.log.Info("user connected", zap.String("user_id", userID))
	h.markOnline(userID)
}

func (h *Hub) joinAgencyRoom(c *Client, data any) {
	agencyID, err := chat.DecodeAgencyRoom(data)
	if err != nil {
		c.log.Debug("ignoring join_agency_room", zap.Error(err))
		return
	}
	if !h.registry.TagAgency(c.ID(), agencyID) {
		c.log.Debug("connection already tagged with another agency", zap.String("agency_id", agencyID))
		return
	}
	h.rooms.Join(chat.AgencyRoom(agencyID), c)
	c.log.Info("agency connected", zap.String("agency_id", agencyID))
}

func (h *Hub) joinConversation(c *Client, data any) {
	in, err := chat.DecodeConversation(data)
	if err != nil {
		c.log.Debug("ignoring join_conversation", zap.Error(err))
		return
	}
	h.rooms.Join(chat.ConversationRoom(in.ConversationID), c)
	c.log.Info("joined conversation",
		zap.String("conversation_id", in.ConversationID),
		zap.String("user_id", in.UserID))
}

func (h *Hub) leaveConversation(c *Client, data any) {
	in, err := chat.DecodeConversation(data)
	if err != nil {
		c.log.Debug("ignoring leave_conversation", zap.Error(err))
		return
	}
	h.rooms.Leave(chat.ConversationRoom(in.ConversationID), c.ID())
	c.log.Debug("left conversation", zap.String("conversation_id", in.ConversationID))
}

func (h *Hub) relayMessage(c *Client, role chat.SenderType, data any) {
	in, err := chat.DecodeIntent(data)
	if err != nil {
		c.log.Debug("ignoring message intent", zap.String("role", string(role)), zap.Error(err))
		return
	}

	msg, delivered, err := h.relay.Relay(role, in)
	if err != nil {
		c.log.Debug("message not relayed", zap.String("role", string(role)), zap.Error(err))
		return
	}
	c.log.Info("message relayed",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("sender_type", string(msg.SenderType)),
		zap.Int("delivered", delivered))
}

func (h *Hub) markOnline(userID string) {
	h.queuePresence(presenceUpdate{userID: userID, online: true})
}

func (h *Hub) markOffline(userID string) {
	h.queuePresence(presenceUpdate{userID: userID, online: false})
}

// queuePresence is only called from the hub loop, so updates for a user reach
// the store in the order the registry changed.
func (h *Hub) queuePresence(u presenceUpdate) {
	select {
	case h.presenceQ <- u:
	case <-h.ctx.Done():
	}
}

// runPresence applies queued presence updates one at a time and renews the
// TTL of every bound user at half the TTL.
func (h *Hub) runPresence() {
	defer h.wg.Done()

	var refresh <-chan time.Time
	if _, nop := h.presence.(presence.Nop); !nop {
		ticker := time.NewTicker(max(h.cfg.Redis.PresenceTTL/2, time.Millisecond))
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		select {
		case u, ok := <-h.presenceQ:
			if !ok {
				return
			}
			h.applyPresence(u)
		case <-refresh:
			// Later unbinds are queued behind this snapshot, so a refresh
			// never outlives the session it renews.
			for _, userID := range h.registry.Users() {
				h.applyPresence(presenceUpdate{userID: userID, online: true})
			}
		}
	}
}

func (h *Hub) applyPresence(u presenceUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	fn, what := h.presence.Offline, "presence offline"
	if u.online {
		fn, what = h.presence.Online, "presence online"
	}
	if err := fn(ctx, u.userID); err != nil {
		h.log.Warn(what+" failed", zap.String("user_id", u.userID), zap.Error(err))
	}
}

// Stats returns process-wide counts for the status surface.
func (h *Hub) Stats() Stats {
	h.mutex.RLock()
	connections := len(h.clients)
	h.mutex.RUnlock()

	return Stats{
		Users:         h.registry.Count(),
		Conversations: h.rooms.Count(chat.KindConversation),
		Agencies:      h.rooms.Count(chat.KindAgency),
		Connections:   connections,
		NodeID:        h.cfg.NodeID,
	}
}

// shutdownClients closes every active client connection and stops its pumps.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mutex.Unlock()

	for _, client := range clients {
		client.Close()
		client.closeSend()
	}

	h.log.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
