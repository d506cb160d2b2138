package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/willpeters615/student-swap-sub000/entity"
	"github.com/willpeters615/student-swap-sub000/events"
	"github.com/willpeters615/student-swap-sub000/metrics"
	"github.com/willpeters615/student-swap-sub000/middleware"
	"github.com/willpeters615/student-swap-sub000/service"
	"github.com/willpeters615/student-swap-sub000/ws"
)

// ConversationController is the HTTP surface of the messaging core. It
// never touches storage directly; everything goes through the services,
// the same path the realtime gateway uses.
type ConversationController struct {
	convSvc    service.ConversationService
	userSvc    service.UserService
	listingSvc service.ListingService
	hub        *ws.Hub
	publisher  *events.Publisher
	log        *zap.SugaredLogger
}

func NewConversationController(
	convSvc service.ConversationService,
	userSvc service.UserService,
	listingSvc service.ListingService,
	hub *ws.Hub,
	publisher *events.Publisher,
	log *zap.SugaredLogger,
) *ConversationController {
	return &ConversationController{
		convSvc:    convSvc,
		userSvc:    userSvc,
		listingSvc: listingSvc,
		hub:        hub,
		publisher:  publisher,
		log:        log,
	}
}

// RegisterRoutes mounts the conversation API plus the legacy
// receiver-addressed routes on an authenticated router group.
func (cc *ConversationController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/conversations", cc.List)
	rg.POST("/conversations", cc.CreateOrFind)
	rg.GET("/conversations/:id", cc.Get)
	rg.GET("/conversations/:id/messages", cc.Messages)
	rg.POST("/conversations/:id/messages", cc.Send)
	rg.DELETE("/conversations/:id/messages", cc.Clear)
	rg.GET("/messages/:otherUserId/:listingId", cc.LegacyMessages)
	rg.POST("/messages", cc.LegacySend)
}

// conversationView is the enriched row the conversation list returns:
// the other side of the thread, the listing (or its placeholder), the
// latest message, and a page-bounded unread count.
type conversationView struct {
	Conversation     entity.Conversation `json:"conversation"`
	OtherParticipant *entity.User        `json:"other_participant,omitempty"`
	Listing          *entity.Listing     `json:"listing,omitempty"`
	LastMessage      *entity.Message     `json:"last_message,omitempty"`
	UnreadCount      int                 `json:"unread_count"`
}

// List returns the caller's conversations, most recently active first.
func (cc *ConversationController) List(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	convs, err := cc.convSvc.GetConversationsForUser(uid)
	if err != nil {
		cc.internalError(c, "list conversations", err)
		return
	}
	views := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		view, err := cc.buildView(conv, uid)
		if err != nil {
			cc.internalError(c, "enrich conversation", err)
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

// Get returns one conversation with its enrichment and, as a side
// effect, marks it read for the caller.
func (cc *ConversationController) Get(c *gin.Context) {
	uid, convID, ok := cc.authedParticipant(c)
	if !ok {
		return
	}
	conv, err := cc.convSvc.GetConversation(convID)
	if err != nil {
		cc.internalError(c, "get conversation", err)
		return
	}
	if _, err := cc.convSvc.MarkConversationRead(convID, uid); err != nil {
		cc.internalError(c, "mark conversation read", err)
		return
	}
	view, err := cc.buildView(*conv, uid)
	if err != nil {
		cc.internalError(c, "enrich conversation", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type createConversationRequest struct {
	OtherUserID uint  `json:"otherUserId" binding:"required"`
	ListingID   *uint `json:"listingId"`
}

// CreateOrFind returns the existing conversation between the caller and
// the target user for the given listing context, creating it (with both
// participants, atomically) when none exists.
func (cc *ConversationController) CreateOrFind(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, created, err := cc.findOrCreate(uid, req.OtherUserID, req.ListingID)
	if err != nil {
		cc.mapFindOrCreateError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	view, err := cc.buildView(*conv, uid)
	if err != nil {
		cc.internalError(c, "enrich conversation", err)
		return
	}
	c.JSON(status, view)
}

// Messages returns one page of history and, as a side effect, marks the
// fetched unread messages as read and advances the caller's LastReadAt.
// This is the poll half of the at-least-once contract: anything the
// gateway could not push is picked up here.
func (cc *ConversationController) Messages(c *gin.Context) {
	uid, convID, ok := cc.authedParticipant(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	before64, _ := strconv.ParseUint(c.DefaultQuery("before", "0"), 10, 64)

	msgs, err := cc.convSvc.GetMessages(convID, limit, uint(before64))
	if err != nil {
		cc.internalError(c, "get messages", err)
		return
	}
	for i := range msgs {
		if msgs[i].SenderID != uid && msgs[i].ReadAt == nil {
			updated, err := cc.convSvc.MarkAsRead(convID, msgs[i].ID)
			if err != nil {
				cc.log.Warnw("mark fetched message read failed", "message_id", msgs[i].ID, "error", err)
				continue
			}
			msgs[i].ReadAt = updated.ReadAt
		}
	}
	if err := cc.convSvc.UpdateParticipantLastRead(convID, uid); err != nil {
		cc.log.Warnw("update last read failed", "conversation_id", convID, "user_id", uid, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendMessageRequest struct {
	Content       string `json:"content" binding:"required"`
	HasAttachment bool   `json:"hasAttachment"`
	AttachmentURL string `json:"attachmentUrl"`
}

// Send persists a message and pushes it to connected participants.
// Success is only returned after the message is durable.
func (cc *ConversationController) Send(c *gin.Context) {
	uid, convID, ok := cc.authedParticipant(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := cc.createAndPush(c.Request.Context(), convID, uid, req)
	if err != nil {
		cc.mapSendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// Clear bulk-deletes every message in the conversation. The conversation
// and its participant rows survive; other participants are notified.
func (cc *ConversationController) Clear(c *gin.Context) {
	uid, convID, ok := cc.authedParticipant(c)
	if !ok {
		return
	}
	if err := cc.convSvc.ClearConversation(convID); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		cc.internalError(c, "clear conversation", err)
		return
	}
	cc.pushToOthers(convID, uid, ws.Event{
		Type:    ws.EventMessagesCleared,
		Payload: ws.MessagesClearedPayload{ConversationID: convID, ClearedBy: uid},
	})
	cc.publisher.ConversationCleared(c.Request.Context(), convID, uid)
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// LegacyMessages serves old clients that address threads by
// (otherUserId, listingId). The pair is transparently resolved to a
// conversation, created if needed, then served through the normal
// messages path. A listing id of 0 means no listing context.
func (cc *ConversationController) LegacyMessages(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	otherID, ok1 := parseUintParam(c, "otherUserId")
	listingRaw, ok2 := parseUintParam(c, "listingId")
	if !ok1 || !ok2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path parameters"})
		return
	}
	conv, _, err := cc.findOrCreate(uid, otherID, optionalID(listingRaw))
	if err != nil {
		cc.mapFindOrCreateError(c, err)
		return
	}
	c.Params = append(c.Params, gin.Param{Key: "id", Value: strconv.FormatUint(uint64(conv.ID), 10)})
	cc.Messages(c)
}

type legacySendRequest struct {
	ReceiverID uint   `json:"receiverId" binding:"required"`
	ListingID  uint   `json:"listingId"`
	Content    string `json:"content" binding:"required"`
}

// LegacySend accepts the old receiver-addressed send body and routes it
// through the conversation path.
func (cc *ConversationController) LegacySend(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req legacySendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, _, err := cc.findOrCreate(uid, req.ReceiverID, optionalID(req.ListingID))
	if err != nil {
		cc.mapFindOrCreateError(c, err)
		return
	}
	msg, err := cc.createAndPush(c.Request.Context(), conv.ID, uid, sendMessageRequest{Content: req.Content})
	if err != nil {
		cc.mapSendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// --- helpers ---

// authedParticipant resolves the caller and the :id conversation and
// enforces membership: 401 without auth, 404 for a missing conversation,
// 403 for a non-participant.
func (cc *ConversationController) authedParticipant(c *gin.Context) (uid, convID uint, ok bool) {
	uid, authed := middleware.UserID(c)
	if !authed {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return 0, 0, false
	}
	convID, valid := parseUintParam(c, "id")
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, 0, false
	}
	if _, err := cc.convSvc.GetConversation(convID); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		} else {
			cc.internalError(c, "get conversation", err)
		}
		return 0, 0, false
	}
	member, err := cc.convSvc.IsParticipant(convID, uid)
	if err != nil {
		cc.internalError(c, "membership check", err)
		return 0, 0, false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this conversation"})
		return 0, 0, false
	}
	return uid, convID, true
}

func (cc *ConversationController) findOrCreate(callerID, otherID uint, listingID *uint) (*entity.Conversation, bool, error) {
	if callerID == otherID {
		return nil, false, service.ErrSelfConversation
	}
	if _, err := cc.userSvc.GetByID(otherID); err != nil {
		return nil, false, err
	}
	conv, err := cc.convSvc.FindConversation(listingID, callerID, otherID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, service.ErrConversationNotFound) {
		return nil, false, err
	}
	conv, err = cc.convSvc.CreateConversation(listingID, callerID, otherID)
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func (cc *ConversationController) createAndPush(ctx context.Context, convID, senderID uint, req sendMessageRequest) (*entity.Message, error) {
	msg, err := cc.convSvc.CreateMessage(convID, senderID, req.Content, req.HasAttachment, req.AttachmentURL)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()
	cc.pushToOthers(convID, senderID, ws.Event{
		Type:    ws.EventNewMessage,
		Payload: ws.NewMessagePayload{Message: msg},
	})
	cc.publisher.MessageCreated(ctx, msg)
	return msg, nil
}

func (cc *ConversationController) pushToOthers(convID, exceptUserID uint, evt ws.Event) {
	if cc.hub == nil {
		return
	}
	participants, err := cc.convSvc.GetParticipants(convID)
	if err != nil {
		cc.log.Warnw("participant lookup for push failed", "conversation_id", convID, "error", err)
		return
	}
	for _, p := range participants {
		if p.UserID != exceptUserID {
			cc.hub.PushToUser(p.UserID, evt)
		}
	}
}

func (cc *ConversationController) buildView(conv entity.Conversation, viewerID uint) (conversationView, error) {
	view := conversationView{Conversation: conv}

	participants, err := cc.convSvc.GetParticipants(conv.ID)
	if err != nil {
		return view, err
	}
	for _, p := range participants {
		if p.UserID == viewerID {
			continue
		}
		u, err := cc.userSvc.GetByID(p.UserID)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				continue
			}
			return view, err
		}
		view.OtherParticipant = u
		break
	}

	if conv.ListingID != nil {
		l, err := cc.listingSvc.GetByID(*conv.ListingID)
		if err != nil {
			return view, err
		}
		view.Listing = l
	}

	// last message and unread count come from the newest page; the count
	// is bounded by that page on purpose
	msgs, err := cc.convSvc.GetMessages(conv.ID, 0, 0)
	if err != nil {
		return view, err
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		view.LastMessage = &last
	}
	view.UnreadCount = service.CountUnread(msgs, viewerID)
	return view, nil
}

func (cc *ConversationController) mapFindOrCreateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSelfConversation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		cc.internalError(c, "find or create conversation", err)
	}
}

func (cc *ConversationController) mapSendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message content must not be empty"})
	case errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	default:
		cc.internalError(c, "send message", err)
	}
}

// internalError logs the detail and returns a generic message; internals
// never leak to callers.
func (cc *ConversationController) internalError(c *gin.Context, op string, err error) {
	cc.log.Errorw("internal error", "op", op, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}

func optionalID(v uint) *uint {
	if v == 0 {
		return nil
	}
	return &v
}
