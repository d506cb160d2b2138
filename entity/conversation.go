package entity

import "time"

// Conversation groups the messages two users exchange about a listing
// (or about nothing in particular when ListingID is null). Conversations
// are never deleted; clearing only removes their messages.
//
// UpdatedAt is bumped on every message insert and is therefore
// monotonically non-decreasing.
type Conversation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ListingID *uint     `json:"listing_id" gorm:"index"`
	Listing   *Listing  `json:"-" gorm:"constraint:OnDelete:SET NULL"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationParticipant is one user's membership row in a conversation.
// The composite primary key guarantees at most one row per (conversation,
// user) pair. LastReadAt is null until the user first reads messages.
type ConversationParticipant struct {
	ConversationID uint          `json:"conversation_id" gorm:"primaryKey;autoIncrement:false"`
	UserID         uint          `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	LastReadAt     *time.Time    `json:"last_read_at"`
	CreatedAt      time.Time     `json:"created_at"`
	Conversation   *Conversation `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	User           *User         `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}
