package entity

import "time"

// Message is the conversation-shaped message. ConversationID and SenderID
// are required; ReadAt is null until the recipient reads the message and
// is set at most once.
type Message struct {
	ID             uint          `json:"id" gorm:"primaryKey"`
	ConversationID uint          `json:"conversation_id" gorm:"index;not null"`
	SenderID       uint          `json:"sender_id" gorm:"index;not null"`
	Content        string        `json:"content" gorm:"type:text;not null"`
	HasAttachment  bool          `json:"has_attachment"`
	AttachmentURL  string        `json:"attachment_url" gorm:"size:512"`
	CreatedAt      time.Time     `json:"created_at"`
	ReadAt         *time.Time    `json:"read_at"`
	Conversation   *Conversation `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Sender         *User         `json:"-" gorm:"foreignKey:SenderID;constraint:OnDelete:CASCADE"`
}

// LegacyMessage is the flat sender/receiver message shape that predates
// conversations. The receiver column is the structural marker that tells
// the two shapes apart. Only the migration reads this type; after a
// successful run the rows live under the archive table name below and no
// serving code path touches them.
type LegacyMessage struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	SenderID   uint      `json:"sender_id"`
	ReceiverID uint      `json:"receiver_id"`
	ListingID  *uint     `json:"listing_id"`
	Content    string    `json:"content" gorm:"type:text"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName points at the archive the migration renames the legacy
// messages table to.
func (LegacyMessage) TableName() string { return "legacy_messages" }

// ToMessage converts a legacy row into the conversation shape. The
// original creation time is preserved; the original read time is not
// recorded in the legacy shape, so a read row gets migratedAt as its
// ReadAt. That loss is accepted.
func (m LegacyMessage) ToMessage(conversationID uint, migratedAt time.Time) Message {
	msg := Message{
		ConversationID: conversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	if m.Read {
		at := migratedAt
		msg.ReadAt = &at
	}
	return msg
}
