package entity

// User is owned by the accounts system; the messaging core only reads it
// for display enrichment and never mutates it.
type User struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	Username     string `json:"username" gorm:"uniqueIndex;size:64"`
	Email        string `json:"email" gorm:"uniqueIndex;size:191"`
	PasswordHash string `json:"-" gorm:"size:191"`
	DisplayName  string `json:"display_name" gorm:"size:191"`
}
