package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/willpeters615/student-swap-sub000/entity"
)

var ErrUserNotFound = errors.New("user not found")

// UserService is the read-side view of the external accounts system. The
// messaging core only ever looks users up for display.
type UserService interface {
	GetByID(id uint) (*entity.User, error)
}

type DBUserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *DBUserService {
	return &DBUserService{db: db}
}

func (s *DBUserService) GetByID(id uint) (*entity.User, error) {
	var u entity.User
	if err := s.db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
