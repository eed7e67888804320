package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Skotchmaster/blytz_client/internal/devserver/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUserAlreadyExist = errors.New("user already exist")
	ErrRefreshNotUsable = errors.New("refresh token expired or revoked")
)

type GormRepo struct {
	DB *gorm.DB
}

func (r *GormRepo) Migrate(ctx context.Context) error {
	return r.DB.WithContext(ctx).AutoMigrate(&models.User{}, &models.RefreshToken{})
}
