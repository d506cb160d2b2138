package ws

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/willpeters615/student-swap-sub000/entity"
	"github.com/willpeters615/student-swap-sub000/service"
)

// fakeConvService backs client handler tests without a database.
type fakeConvService struct {
	participants map[uint][]uint // conversation id -> user ids
	nextID       uint
	messages     map[uint]*entity.Message
	createErr    error
}

func newFakeConvService() *fakeConvService {
	return &fakeConvService{
		participants: make(map[uint][]uint),
		messages:     make(map[uint]*entity.Message),
	}
}

func (f *fakeConvService) GetConversation(id uint) (*entity.Conversation, error) {
	if _, ok := f.participants[id]; !ok {
		return nil, service.ErrConversationNotFound
	}
	return &entity.Conversation{ID: id}, nil
}

func (f *fakeConvService) GetConversationsForUser(uint) ([]entity.Conversation, error) {
	return nil, nil
}

func (f *fakeConvService) FindConversation(*uint, uint, uint) (*entity.Conversation, error) {
	return nil, service.ErrConversationNotFound
}

func (f *fakeConvService) CreateConversation(listingID *uint, userIDs ...uint) (*entity.Conversation, error) {
	return nil, nil
}

func (f *fakeConvService) AddParticipant(convID, userID uint) (*entity.ConversationParticipant, error) {
	f.participants[convID] = append(f.participants[convID], userID)
	return &entity.ConversationParticipant{ConversationID: convID, UserID: userID}, nil
}

func (f *fakeConvService) GetParticipants(convID uint) ([]entity.ConversationParticipant, error) {
	var out []entity.ConversationParticipant
	for _, uid := range f.participants[convID] {
		out = append(out, entity.ConversationParticipant{ConversationID: convID, UserID: uid})
	}
	return out, nil
}

func (f *fakeConvService) IsParticipant(convID, userID uint) (bool, error) {
	for _, uid := range f.participants[convID] {
		if uid == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConvService) GetMessages(uint, int, uint) ([]entity.Message, error) {
	return nil, nil
}

func (f *fakeConvService) CreateMessage(convID, senderID uint, content string, hasAttachment bool, attachmentURL string) (*entity.Message, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if strings.TrimSpace(content) == "" {
		return nil, service.ErrEmptyContent
	}
	if _, ok := f.participants[convID]; !ok {
		return nil, service.ErrConversationNotFound
	}
	f.nextID++
	msg := &entity.Message{
		ID:             f.nextID,
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		HasAttachment:  hasAttachment,
		AttachmentURL:  attachmentURL,
		CreatedAt:      time.Now(),
	}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeConvService) MarkAsRead(conversationID, messageID uint) (*entity.Message, error) {
	msg, ok := f.messages[messageID]
	if !ok || msg.ConversationID != conversationID {
		return nil, service.ErrMessageNotFound
	}
	if msg.ReadAt == nil {
		now := time.Now()
		msg.ReadAt = &now
	}
	return msg, nil
}

func (f *fakeConvService) UpdateParticipantLastRead(uint, uint) error { return nil }

func (f *fakeConvService) MarkConversationRead(uint, uint) (int64, error) { return 0, nil }

func (f *fakeConvService) ClearConversation(uint) error { return nil }

var _ service.ConversationService = (*fakeConvService)(nil)

func registeredClient(t *testing.T, h *Hub, svc service.ConversationService, userID uint) *Client {
	t.Helper()
	c := testClient(h, userID)
	c.svc = svc
	h.RegisterClient(c)
	waitForEvent(t, c, EventConnect)
	return c
}

func TestHandleSendPushesToAllParticipants(t *testing.T) {
	h := testHub(t, Config{})
	svc := newFakeConvService()
	svc.participants[7] = []uint{1, 2}

	sender := registeredClient(t, h, svc, 1)
	recipient := registeredClient(t, h, svc, 2)

	sender.handleSend(json.RawMessage(`{"conversation_id":7,"content":"hi there","temp_id":"t-1"}`))

	var got struct {
		Message entity.Message `json:"message"`
		TempID  string         `json:"temp_id"`
	}
	if err := json.Unmarshal(waitForEvent(t, recipient, EventNewMessage), &got); err != nil {
		t.Fatalf("decoding recipient push: %v", err)
	}
	if got.Message.Content != "hi there" || got.Message.SenderID != 1 {
		t.Fatalf("unexpected message: %+v", got.Message)
	}

	// the sender's echo carries the temp id for optimistic reconciliation
	if err := json.Unmarshal(waitForEvent(t, sender, EventNewMessage), &got); err != nil {
		t.Fatalf("decoding sender echo: %v", err)
	}
	if got.TempID != "t-1" {
		t.Fatalf("temp id not echoed: %+v", got)
	}

	if len(svc.messages) != 1 {
		t.Fatalf("message not persisted exactly once: %d", len(svc.messages))
	}
}

func TestHandleSendRejectsNonParticipant(t *testing.T) {
	h := testHub(t, Config{})
	svc := newFakeConvService()
	svc.participants[7] = []uint{2, 3}

	outsider := registeredClient(t, h, svc, 1)
	outsider.handleSend(json.RawMessage(`{"conversation_id":7,"content":"let me in"}`))

	var errPayload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(waitForEvent(t, outsider, EventError), &errPayload); err != nil {
		t.Fatalf("decoding error event: %v", err)
	}
	if errPayload.Code != "not_participant" {
		t.Fatalf("expected not_participant, got %q", errPayload.Code)
	}
	if len(svc.messages) != 0 {
		t.Fatalf("message must not persist for non-participants")
	}
}

func TestHandleSendEmptyContent(t *testing.T) {
	h := testHub(t, Config{})
	svc := newFakeConvService()
	svc.participants[7] = []uint{1, 2}

	sender := registeredClient(t, h, svc, 1)
	sender.handleSend(json.RawMessage(`{"conversation_id":7,"content":"   "}`))

	var errPayload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(waitForEvent(t, sender, EventError), &errPayload); err != nil {
		t.Fatalf("decoding error event: %v", err)
	}
	if errPayload.Code != "empty_content" {
		t.Fatalf("expected empty_content, got %q", errPayload.Code)
	}
}

func TestHandleSendMalformedPayload(t *testing.T) {
	h := testHub(t, Config{})
	svc := newFakeConvService()
	sender := registeredClient(t, h, svc, 1)

	sender.handleSend(json.RawMessage(`{"conversation_id":"not a number"}`))

	var errPayload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(waitForEvent(t, sender, EventError), &errPayload); err != nil {
		t.Fatalf("decoding error event: %v", err)
	}
	if errPayload.Code != "invalid_payload" {
		t.Fatalf("expected invalid_payload, got %q", errPayload.Code)
	}
	select {
	case <-sender.done:
		t.Fatalf("malformed payload must not terminate the connection")
	default:
	}
}

func TestHandleReadReceiptRelaysToOthers(t *testing.T) {
	h := testHub(t, Config{})
	svc := newFakeConvService()
	svc.participants[7] = []uint{1, 2}

	sender := registeredClient(t, h, svc, 1)
	reader := registeredClient(t, h, svc, 2)

	sender.handleSend(json.RawMessage(`{"conversation_id":7,"content":"read me"}`))
	waitForEvent(t, sender, EventNewMessage)
	waitForEvent(t, reader, EventNewMessage)

	reader.handleReadReceipt(json.RawMessage(`{"message_id":1,"conversation_id":7}`))

	var receipt struct {
		MessageID uint       `json:"message_id"`
		ReaderID  uint       `json:"reader_id"`
		ReadAt    *time.Time `json:"read_at"`
	}
	if err := json.Unmarshal(waitForEvent(t, sender, EventReadReceipt), &receipt); err != nil {
		t.Fatalf("decoding receipt: %v", err)
	}
	if receipt.MessageID != 1 || receipt.ReaderID != 2 || receipt.ReadAt == nil {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	// receipts are idempotent; a second one carries the same read time
	first := *receipt.ReadAt
	reader.handleReadReceipt(json.RawMessage(`{"message_id":1,"conversation_id":7}`))
	if err := json.Unmarshal(waitForEvent(t, sender, EventReadReceipt), &receipt); err != nil {
		t.Fatalf("decoding second receipt: %v", err)
	}
	if !receipt.ReadAt.Equal(first) {
		t.Fatalf("read time changed on repeat receipt: %v vs %v", receipt.ReadAt, first)
	}
}

func TestHandleReadReceiptScopedToClaimedConversation(t *testing.T) {
	h := testHub(t, Config{})
	svc := newFakeConvService()
	svc.participants[7] = []uint{1, 2}
	svc.participants[8] = []uint{2, 3}

	outsider := registeredClient(t, h, svc, 1)
	bystander := registeredClient(t, h, svc, 2)
	author := registeredClient(t, h, svc, 3)

	// message 1 lives in conversation 8, which user 1 is not part of
	author.handleSend(json.RawMessage(`{"conversation_id":8,"content":"private"}`))
	waitForEvent(t, author, EventNewMessage)
	waitForEvent(t, bystander, EventNewMessage)

	// a receipt naming a conversation the caller does belong to must not
	// reach messages outside that conversation
	outsider.handleReadReceipt(json.RawMessage(`{"message_id":1,"conversation_id":7}`))

	var errPayload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(waitForEvent(t, outsider, EventError), &errPayload); err != nil {
		t.Fatalf("decoding error event: %v", err)
	}
	if errPayload.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", errPayload.Code)
	}
	if svc.messages[1].ReadAt != nil {
		t.Fatalf("message in another conversation was marked read")
	}
	assertNoEvent(t, bystander, EventReadReceipt, 100*time.Millisecond)
	assertNoEvent(t, author, EventReadReceipt, 100*time.Millisecond)

	// naming the message's real conversation fails earlier, on membership
	outsider.handleReadReceipt(json.RawMessage(`{"message_id":1,"conversation_id":8}`))
	if err := json.Unmarshal(waitForEvent(t, outsider, EventError), &errPayload); err != nil {
		t.Fatalf("decoding error event: %v", err)
	}
	if errPayload.Code != "not_participant" {
		t.Fatalf("expected not_participant, got %q", errPayload.Code)
	}
	if svc.messages[1].ReadAt != nil {
		t.Fatalf("non-participant receipt mutated read state")
	}
}

func TestHandleTypingRelaysAndExpires(t *testing.T) {
	h := testHub(t, Config{TypingTTL: 100 * time.Millisecond})
	svc := newFakeConvService()
	svc.participants[7] = []uint{1, 2}

	typer := registeredClient(t, h, svc, 1)
	watcher := registeredClient(t, h, svc, 2)

	typer.handleTyping(json.RawMessage(`{"conversation_id":7}`), true)

	var p struct {
		ConversationID uint `json:"conversation_id"`
		UserID         uint `json:"user_id"`
	}
	if err := json.Unmarshal(waitForEvent(t, watcher, EventTyping), &p); err != nil {
		t.Fatalf("decoding typing: %v", err)
	}
	if p.UserID != 1 || p.ConversationID != 7 {
		t.Fatalf("unexpected typing payload: %+v", p)
	}

	// never stopped explicitly; the auto-expiry bounds the UI state
	waitForEvent(t, watcher, EventStoppedTyping)
}
