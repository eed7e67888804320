package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/blytz_client/internal/devserver/models"
)

func (r *GormRepo) AddRefresh(ctx context.Context, token models.RefreshToken) error {
	return r.DB.WithContext(ctx).Create(&token).Error
}

func (r *GormRepo) refreshUsable(db *gorm.DB, jti, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	var refresh models.RefreshToken
	if err := db.Where("jti = ?", jti).First(&refresh).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if refresh.Token != tokenHash || refresh.Revoked || refresh.ExpiresAt < now.Unix() {
		return nil, ErrRefreshNotUsable
	}
	return &refresh, nil
}

// RotateRefreshToken revokes the old token and stores the new one in one
// transaction, so a refresh token can be exchanged only once.
func (r *GormRepo) RotateRefreshToken(ctx context.Context, oldJTI, oldHash string, next models.RefreshToken, now time.Time) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.refreshUsable(tx, oldJTI, oldHash, now); err != nil {
			return err
		}

		res := tx.Model(&models.RefreshToken{}).
			Where("jti = ? AND revoked = ?", oldJTI, false).
			Update("revoked", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRefreshNotUsable
		}

		return tx.Create(&next).Error
	})
}

func (r *GormRepo) RevokeRefresh(ctx context.Context, tokenHash string) error {
	return r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ?", tokenHash).
		Update("revoked", true).Error
}
