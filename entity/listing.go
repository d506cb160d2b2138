package entity

// DeletedListingTitle is substituted when a conversation references a
// listing that no longer exists. The id is preserved so old conversations
// keep their context instead of breaking.
const DeletedListingTitle = "Unknown Listing (Deleted)"

// Listing is owned by the marketplace system; the messaging core reads
// id/title/price for conversation display only.
type Listing struct {
	ID       uint    `json:"id" gorm:"primaryKey"`
	SellerID uint    `json:"seller_id" gorm:"index"`
	Title    string  `json:"title" gorm:"size:191"`
	Price    float64 `json:"price"`
	Active   bool    `json:"active"`
}

// DeletedListingPlaceholder stands in for a listing that was removed.
func DeletedListingPlaceholder(id uint) *Listing {
	return &Listing{ID: id, Title: DeletedListingTitle}
}
