package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/willpeters615/student-swap-sub000/entity"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyContent         = errors.New("message content must not be empty")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ConversationService is the sole interface to persisted messaging state.
// Controllers and the realtime gateway go through it; nothing else touches
// the conversation, participant or message tables.
type ConversationService interface {
	GetConversation(id uint) (*entity.Conversation, error)
	GetConversationsForUser(userID uint) ([]entity.Conversation, error)
	FindConversation(listingID *uint, userA, userB uint) (*entity.Conversation, error)
	CreateConversation(listingID *uint, participantIDs ...uint) (*entity.Conversation, error)
	AddParticipant(conversationID, userID uint) (*entity.ConversationParticipant, error)
	GetParticipants(conversationID uint) ([]entity.ConversationParticipant, error)
	IsParticipant(conversationID, userID uint) (bool, error)
	GetMessages(conversationID uint, limit int, beforeID uint) ([]entity.Message, error)
	CreateMessage(conversationID, senderID uint, content string, hasAttachment bool, attachmentURL string) (*entity.Message, error)
	MarkAsRead(conversationID, messageID uint) (*entity.Message, error)
	UpdateParticipantLastRead(conversationID, userID uint) error
	MarkConversationRead(conversationID, viewerID uint) (int64, error)
	ClearConversation(conversationID uint) error
}

type DBConversationService struct {
	db *gorm.DB
}

func NewConversationService(db *gorm.DB) *DBConversationService {
	return &DBConversationService{db: db}
}

func (s *DBConversationService) GetConversation(id uint) (*entity.Conversation, error) {
	var conv entity.Conversation
	if err := s.db.First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// GetConversationsForUser returns every conversation the user participates
// in, most recently active first.
func (s *DBConversationService) GetConversationsForUser(userID uint) ([]entity.Conversation, error) {
	var convs []entity.Conversation
	err := s.db.Model(&entity.Conversation{}).
		Joins("JOIN conversation_participants p ON p.conversation_id = conversations.id").
		Where("p.user_id = ?", userID).
		Order("conversations.updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// FindConversation locates the conversation containing both users,
// scoped to the given listing (or to conversations with no listing when
// listingID is nil). The lookup is symmetric: the order of userA and
// userB does not matter. When several match, the most recently updated
// wins.
func (s *DBConversationService) FindConversation(listingID *uint, userA, userB uint) (*entity.Conversation, error) {
	if userA == userB {
		return nil, ErrSelfConversation
	}
	q := s.db.Model(&entity.Conversation{}).
		Joins("JOIN conversation_participants pa ON pa.conversation_id = conversations.id AND pa.user_id = ?", userA).
		Joins("JOIN conversation_participants pb ON pb.conversation_id = conversations.id AND pb.user_id = ?", userB)
	if listingID != nil {
		q = q.Where("conversations.listing_id = ?", *listingID)
	} else {
		q = q.Where("conversations.listing_id IS NULL")
	}
	var conv entity.Conversation
	err := q.Order("conversations.updated_at DESC").First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// CreateConversation creates a conversation and its participant rows as
// one transaction. A conversation missing its participants must never be
// observable, so a failed participant insert rolls the whole thing back.
func (s *DBConversationService) CreateConversation(listingID *uint, participantIDs ...uint) (*entity.Conversation, error) {
	conv := &entity.Conversation{ListingID: listingID}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, uid := range participantIDs {
			p := &entity.ConversationParticipant{ConversationID: conv.ID, UserID: uid}
			if err := tx.Create(p).Error; err != nil {
				return fmt.Errorf("add participant %d: %w", uid, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// AddParticipant is idempotent: an existing (conversation, user) row is
// returned as-is, never duplicated.
func (s *DBConversationService) AddParticipant(conversationID, userID uint) (*entity.ConversationParticipant, error) {
	var p entity.ConversationParticipant
	err := s.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	p = entity.ConversationParticipant{ConversationID: conversationID, UserID: userID}
	if err := s.db.Create(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *DBConversationService) GetParticipants(conversationID uint) ([]entity.ConversationParticipant, error) {
	var parts []entity.ConversationParticipant
	if err := s.db.Where("conversation_id = ?", conversationID).Find(&parts).Error; err != nil {
		return nil, err
	}
	return parts, nil
}

func (s *DBConversationService) IsParticipant(conversationID, userID uint) (bool, error) {
	var count int64
	err := s.db.Model(&entity.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetMessages returns one page of a conversation's history. The page is
// the newest `limit` messages older than beforeID (all of them when
// beforeID is zero), returned in chronological order for direct display.
func (s *DBConversationService) GetMessages(conversationID uint, limit int, beforeID uint) ([]entity.Message, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	var msgs []entity.Message
	q := s.db.Model(&entity.Message{}).Where("conversation_id = ?", conversationID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CreateMessage persists a message and bumps the owning conversation's
// updated_at in the same transaction, so the conversation list order and
// the message are never observed out of step.
func (s *DBConversationService) CreateMessage(conversationID, senderID uint, content string, hasAttachment bool, attachmentURL string) (*entity.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	msg := &entity.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		HasAttachment:  hasAttachment,
		AttachmentURL:  attachmentURL,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		res := tx.Model(&entity.Conversation{}).
			Where("id = ?", conversationID).
			UpdateColumn("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConversationNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkAsRead sets the message's read time if it is still unread. Marking
// an already-read message is a no-op that returns the original ReadAt.
// The message must belong to the given conversation; callers verify
// membership against a conversation id, so the update is scoped to it and
// a message living elsewhere reads as not found.
func (s *DBConversationService) MarkAsRead(conversationID, messageID uint) (*entity.Message, error) {
	now := time.Now()
	res := s.db.Model(&entity.Message{}).
		Where("id = ? AND conversation_id = ? AND read_at IS NULL", messageID, conversationID).
		UpdateColumn("read_at", &now)
	if res.Error != nil {
		return nil, res.Error
	}
	var msg entity.Message
	err := s.db.Where("id = ? AND conversation_id = ?", messageID, conversationID).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// UpdateParticipantLastRead records that the user has seen the
// conversation as of now.
func (s *DBConversationService) UpdateParticipantLastRead(conversationID, userID uint) error {
	res := s.db.Model(&entity.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		UpdateColumn("last_read_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// MarkConversationRead marks every message in the conversation that the
// viewer has not sent as read, and advances the viewer's LastReadAt.
// Returns how many messages changed state.
func (s *DBConversationService) MarkConversationRead(conversationID, viewerID uint) (int64, error) {
	var updated int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&entity.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, viewerID).
			UpdateColumn("read_at", &now)
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected
		return tx.Model(&entity.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, viewerID).
			UpdateColumn("last_read_at", now).Error
	})
	return updated, err
}

// ClearConversation deletes every message in the conversation as one
// unit and bumps updated_at. The conversation and its participants stay.
func (s *DBConversationService) ClearConversation(conversationID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&entity.Message{}).Error; err != nil {
			return err
		}
		res := tx.Model(&entity.Conversation{}).
			Where("id = ?", conversationID).
			UpdateColumn("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConversationNotFound
		}
		return nil
	})
}

// CountUnread derives the viewer's unread count from an already-fetched
// page of messages. The count is bounded by the page: messages outside it
// are not considered. That approximation is deliberate; keep it in sync
// with how clients compute the badge, do not replace it with a stored
// counter.
func CountUnread(msgs []entity.Message, viewerID uint) int {
	n := 0
	for _, m := range msgs {
		if m.SenderID != viewerID && m.ReadAt == nil {
			n++
		}
	}
	return n
}
