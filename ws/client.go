package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/willpeters615/student-swap-sub000/metrics"
	"github.com/willpeters615/student-swap-sub000/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one user's registered connection. Inbound events are
// processed in arrival order by readPump; outbound frames go through the
// bounded send queue drained by writePump.
type Client struct {
	id      uuid.UUID
	hub     *Hub
	conn    *websocket.Conn
	svc     service.ConversationService
	log     *zap.SugaredLogger
	limiter *rate.Limiter

	userID uint

	send chan []byte
	done chan struct{}

	active    atomic.Int64 // unix nanos of last inbound activity
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID uint, svc service.ConversationService, log *zap.SugaredLogger) *Client {
	c := &Client{
		id:      uuid.New(),
		hub:     hub,
		conn:    conn,
		svc:     svc,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(hub.cfg.EventsPerMinute)), hub.cfg.EventBurst),
		userID:  userID,
		send:    make(chan []byte, hub.cfg.SendQueueSize),
		done:    make(chan struct{}),
	}
	c.touch()
	return c
}

func (c *Client) touch() { c.active.Store(time.Now().UnixNano()) }

func (c *Client) lastActive() time.Time { return time.Unix(0, c.active.Load()) }

// enqueue offers a frame to the send queue without blocking. The send
// channel is never closed; teardown goes through done instead, so a late
// enqueue is harmless.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// shutdown is idempotent and safe from any goroutine.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) sendEvent(evt Event) {
	c.enqueue(evt.marshal())
}

func (c *Client) sendError(code, message string) {
	c.sendEvent(Event{Type: EventError, Payload: errorPayload{Code: code, Message: message}})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.shutdown()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugw("ws: read error", "user_id", c.userID, "error", err)
			}
			return
		}
		c.touch()
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env inboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendError("invalid_json", "frame is not a valid envelope")
			continue
		}
		metrics.WSEventsIn.WithLabelValues(env.Type).Inc()
		if !c.limiter.Allow() {
			c.sendError("rate_limited", "slow down")
			continue
		}
		switch env.Type {
		case EventMessage:
			c.handleSend(env.Payload)
		case EventReadReceipt:
			c.handleReadReceipt(env.Payload)
		case EventTyping:
			c.handleTyping(env.Payload, true)
		case EventStoppedTyping:
			c.handleTyping(env.Payload, false)
		default:
			c.sendError("unsupported_type", env.Type)
		}
	}
}

// handleSend persists a chat message through the same repository path as
// the HTTP API and pushes it to every connected participant. The sender
// gets the persisted message back too; that echo is the only positive
// delivery signal, never sent before persistence succeeds.
func (c *Client) handleSend(raw json.RawMessage) {
	var p struct {
		ConversationID uint   `json:"conversation_id"`
		Content        string `json:"content"`
		HasAttachment  bool   `json:"has_attachment"`
		AttachmentURL  string `json:"attachment_url"`
		TempID         string `json:"temp_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == 0 {
		c.sendError("invalid_payload", "message payload malformed")
		return
	}
	ok, err := c.svc.IsParticipant(p.ConversationID, c.userID)
	if err != nil {
		c.sendError("dependency_unavailable", "could not verify membership")
		return
	}
	if !ok {
		c.sendError("not_participant", "not a participant of this conversation")
		return
	}
	msg, err := c.svc.CreateMessage(p.ConversationID, c.userID, p.Content, p.HasAttachment, p.AttachmentURL)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyContent):
			c.sendError("empty_content", "message content must not be empty")
		case errors.Is(err, service.ErrConversationNotFound):
			c.sendError("not_found", "conversation does not exist")
		default:
			c.log.Errorw("ws: persist failed", "user_id", c.userID, "error", err)
			c.sendError("send_failed", "message was not saved")
		}
		return
	}
	metrics.MessagesSent.Inc()

	participants, err := c.svc.GetParticipants(p.ConversationID)
	if err != nil {
		c.log.Errorw("ws: participant lookup failed", "conversation_id", p.ConversationID, "error", err)
		// message is durable; offline-style fallback covers delivery
		return
	}
	evt := Event{Type: EventNewMessage, Payload: NewMessagePayload{Message: msg, TempID: p.TempID}}
	for _, part := range participants {
		c.hub.PushToUser(part.UserID, evt)
	}
}

// handleReadReceipt converges on the same MarkAsRead as the HTTP path,
// then relays the receipt to the other participants. The mark is scoped
// to the conversation whose membership was just verified; a message id
// from some other conversation reads as not found. Receipts are
// idempotent; applying one twice changes nothing.
func (c *Client) handleReadReceipt(raw json.RawMessage) {
	var p struct {
		MessageID      uint `json:"message_id"`
		ConversationID uint `json:"conversation_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == 0 || p.ConversationID == 0 {
		c.sendError("invalid_payload", "read receipt payload malformed")
		return
	}
	ok, err := c.svc.IsParticipant(p.ConversationID, c.userID)
	if err != nil || !ok {
		c.sendError("not_participant", "not a participant of this conversation")
		return
	}
	msg, err := c.svc.MarkAsRead(p.ConversationID, p.MessageID)
	if err != nil {
		if errors.Is(err, service.ErrMessageNotFound) {
			c.sendError("not_found", "message does not exist in this conversation")
		} else {
			c.sendError("dependency_unavailable", "could not record read state")
		}
		return
	}
	participants, err := c.svc.GetParticipants(p.ConversationID)
	if err != nil {
		return
	}
	evt := Event{Type: EventReadReceipt, Payload: readReceiptPayload{
		MessageID:      msg.ID,
		ConversationID: p.ConversationID,
		ReaderID:       c.userID,
		ReadAt:         msg.ReadAt,
	}}
	for _, part := range participants {
		if part.UserID != c.userID {
			c.hub.PushToUser(part.UserID, evt)
		}
	}
}

// handleTyping relays transient typing state. Nothing here is persisted.
func (c *Client) handleTyping(raw json.RawMessage, typing bool) {
	var p struct {
		ConversationID uint `json:"conversation_id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == 0 {
		c.sendError("invalid_payload", "typing payload malformed")
		return
	}
	ok, err := c.svc.IsParticipant(p.ConversationID, c.userID)
	if err != nil || !ok {
		c.sendError("not_participant", "not a participant of this conversation")
		return
	}
	participants, err := c.svc.GetParticipants(p.ConversationID)
	if err != nil {
		return
	}
	targets := make([]uint, 0, len(participants))
	for _, part := range participants {
		if part.UserID != c.userID {
			targets = append(targets, part.UserID)
		}
	}
	c.hub.RelayTyping(p.ConversationID, c.userID, targets, typing)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Serve runs the pumps; it returns when the connection is gone.
func (c *Client) Serve() {
	go c.writePump()
	c.readPump()
}
