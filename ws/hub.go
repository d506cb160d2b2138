package ws

import (
	"time"

	"go.uber.org/zap"

	"github.com/willpeters615/student-swap-sub000/metrics"
)

// Config carries the gateway timing knobs. Zero values fall back to the
// defaults below.
type Config struct {
	TypingTTL       time.Duration // typing indicator auto-expiry
	SweepInterval   time.Duration // how often stale registrations are checked
	LivenessTimeout time.Duration // inactivity threshold before a sweep removes a connection
	SendQueueSize   int
	EventsPerMinute int // per-connection inbound event budget
	EventBurst      int
}

func (c Config) withDefaults() Config {
	if c.TypingTTL <= 0 {
		c.TypingTTL = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 60 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.EventsPerMinute <= 0 {
		c.EventsPerMinute = 120
	}
	if c.EventBurst <= 0 {
		c.EventBurst = 20
	}
	return c
}

type directed struct {
	userID  uint
	payload []byte
}

type typingRelay struct {
	conversationID uint
	fromUserID     uint
	targets        []uint
	typing         bool
}

type typingKey struct {
	conversationID uint
	userID         uint
}

type typingState struct {
	timer   *time.Timer
	targets []uint
}

// Hub owns the single in-memory registry of active connections, keyed by
// user id with at most one registration per user. All registry mutations
// happen on the run loop, so the map never needs a lock. The hub is never
// the source of truth: anything it fails to deliver is already durable
// and reaches the recipient on their next fetch.
type Hub struct {
	cfg Config
	log *zap.SugaredLogger

	clients map[uint]*Client

	register      chan *Client
	unregister    chan *Client
	outbound      chan directed
	typing        chan typingRelay
	typingExpired chan typingKey
	typingStates  map[typingKey]*typingState

	stop chan struct{}
}

func NewHub(cfg Config, log *zap.SugaredLogger) *Hub {
	h := &Hub{
		cfg:           cfg.withDefaults(),
		log:           log,
		clients:       make(map[uint]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		outbound:      make(chan directed, 256),
		typing:        make(chan typingRelay, 64),
		typingExpired: make(chan typingKey, 64),
		typingStates:  make(map[typingKey]*typingState),
		stop:          make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	sweep := time.NewTicker(h.cfg.SweepInterval)
	defer sweep.Stop()
	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unregister:
			h.handleUnregister(c)
		case d := <-h.outbound:
			h.deliver(d.userID, d.payload)
		case t := <-h.typing:
			h.handleTyping(t)
		case k := <-h.typingExpired:
			h.expireTyping(k)
		case <-sweep.C:
			h.sweepStale()
		case <-h.stop:
			for _, c := range h.clients {
				c.shutdown()
			}
			h.clients = make(map[uint]*Client)
			metrics.WSConnectionsActive.Set(0)
			return
		}
	}
}

// handleRegister installs the connection as the user's single
// registration. A newer connection for the same user always wins; the
// old one is torn down without an offline broadcast, since the user
// never stopped being online.
func (h *Hub) handleRegister(c *Client) {
	if old, ok := h.clients[c.userID]; ok && old != c {
		old.shutdown()
	}
	h.clients[c.userID] = c
	metrics.WSConnectionsActive.Set(float64(len(h.clients)))

	ack := Event{Type: EventConnect, Payload: connectPayload{
		UserID:        c.userID,
		OnlineUserIDs: h.onlineUserIDs(c.userID),
	}}
	c.enqueue(ack.marshal())
	h.broadcast(c.userID, Event{Type: EventUserOnline, Payload: presencePayload{UserID: c.userID}}.marshal())
	h.log.Infow("ws: client registered", "user_id", c.userID, "conn_id", c.id)
}

func (h *Hub) handleUnregister(c *Client) {
	c.shutdown()
	if cur, ok := h.clients[c.userID]; !ok || cur != c {
		// already replaced by a newer connection; the user is still online
		return
	}
	h.remove(c)
}

// remove drops the registration and tells everyone else the user went
// offline. Must only be called from the run loop.
func (h *Hub) remove(c *Client) {
	delete(h.clients, c.userID)
	metrics.WSConnectionsActive.Set(float64(len(h.clients)))
	h.broadcast(c.userID, Event{Type: EventUserOffline, Payload: presencePayload{UserID: c.userID}}.marshal())
	h.log.Infow("ws: client unregistered", "user_id", c.userID, "conn_id", c.id)
}

func (h *Hub) deliver(userID uint, payload []byte) {
	c, ok := h.clients[userID]
	if !ok {
		// not connected; the data is persisted and will arrive via poll
		return
	}
	if c.enqueue(payload) {
		metrics.WSPushesDelivered.Inc()
		return
	}
	// send queue full: the client stopped draining, treat it as gone
	metrics.WSPushesDropped.Inc()
	c.shutdown()
	h.remove(c)
}

func (h *Hub) broadcast(exceptUserID uint, payload []byte) {
	for uid, c := range h.clients {
		if uid == exceptUserID {
			continue
		}
		if c.enqueue(payload) {
			metrics.WSPushesDelivered.Inc()
		} else {
			metrics.WSPushesDropped.Inc()
		}
	}
}

// handleTyping relays a typing transition and arms (or disarms) the
// auto-expiry that bounds the "is typing" state when a stop event never
// arrives.
func (h *Hub) handleTyping(t typingRelay) {
	key := typingKey{conversationID: t.conversationID, userID: t.fromUserID}
	kind := EventStoppedTyping
	if t.typing {
		kind = EventTyping
	}
	payload := Event{Type: kind, Payload: typingPayload{
		ConversationID: t.conversationID,
		UserID:         t.fromUserID,
	}}.marshal()
	for _, uid := range t.targets {
		h.deliver(uid, payload)
	}

	if st, ok := h.typingStates[key]; ok {
		st.timer.Stop()
		delete(h.typingStates, key)
	}
	if t.typing {
		targets := t.targets
		h.typingStates[key] = &typingState{
			targets: targets,
			timer: time.AfterFunc(h.cfg.TypingTTL, func() {
				select {
				case h.typingExpired <- key:
				case <-h.stop:
				}
			}),
		}
	}
}

func (h *Hub) expireTyping(k typingKey) {
	st, ok := h.typingStates[k]
	if !ok {
		return
	}
	delete(h.typingStates, k)
	payload := Event{Type: EventStoppedTyping, Payload: typingPayload{
		ConversationID: k.conversationID,
		UserID:         k.userID,
	}}.marshal()
	for _, uid := range st.targets {
		h.deliver(uid, payload)
	}
}

// sweepStale removes registrations whose connection has shown no
// activity past the liveness threshold, bounding ghost presence from
// clients that vanished without a clean close.
func (h *Hub) sweepStale() {
	cutoff := time.Now().Add(-h.cfg.LivenessTimeout)
	for _, c := range h.clients {
		if c.lastActive().Before(cutoff) {
			h.log.Infow("ws: sweeping stale connection", "user_id", c.userID, "conn_id", c.id)
			c.shutdown()
			h.remove(c)
		}
	}
}

func (h *Hub) onlineUserIDs(exceptUserID uint) []uint {
	ids := make([]uint, 0, len(h.clients))
	for uid := range h.clients {
		if uid != exceptUserID {
			ids = append(ids, uid)
		}
	}
	return ids
}

// RegisterClient hands a freshly upgraded connection to the run loop.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.stop:
		c.shutdown()
	}
}

func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

// PushToUser delivers an event to the user's active connection, if any.
// Safe to call from any goroutine; a miss is not an error.
func (h *Hub) PushToUser(userID uint, evt Event) {
	select {
	case h.outbound <- directed{userID: userID, payload: evt.marshal()}:
	case <-h.stop:
	}
}

// RelayTyping forwards a typing transition from one user to the given
// participants and manages the auto-expiry timer.
func (h *Hub) RelayTyping(conversationID, fromUserID uint, targets []uint, typing bool) {
	select {
	case h.typing <- typingRelay{
		conversationID: conversationID,
		fromUserID:     fromUserID,
		targets:        targets,
		typing:         typing,
	}:
	case <-h.stop:
	}
}

// Stop tears down every connection and halts the run loop.
func (h *Hub) Stop() {
	close(h.stop)
}
