package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/willpeters615/student-swap-sub000/entity"
)

// ListingService is the read-side view of the external marketplace
// system.
type ListingService interface {
	GetByID(id uint) (*entity.Listing, error)
}

type DBListingService struct {
	db *gorm.DB
}

func NewListingService(db *gorm.DB) *DBListingService {
	return &DBListingService{db: db}
}

// GetByID never fails on a missing listing: a conversation must outlive
// the listing it was about, so a deleted listing comes back as a
// placeholder with the id preserved.
func (s *DBListingService) GetByID(id uint) (*entity.Listing, error) {
	var l entity.Listing
	if err := s.db.First(&l, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entity.DeletedListingPlaceholder(id), nil
		}
		return nil, err
	}
	return &l, nil
}
