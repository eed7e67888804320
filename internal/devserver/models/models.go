package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apimodels "github.com/Skotchmaster/blytz_client/pkg/models"
)

type User struct {
	ID            string     `gorm:"primaryKey;size:36"          json:"id"`
	Email         string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash  string     `gorm:"not null"                    json:"-"`
	FirstName     string     `gorm:"size:100"                    json:"first_name"`
	LastName      string     `gorm:"size:100"                    json:"last_name"`
	Role          string     `gorm:"size:16;not null"            json:"role"`
	Phone         string     `gorm:"size:32"                     json:"phone,omitempty"`
	AvatarURL     string     `gorm:"size:512"                    json:"avatar_url,omitempty"`
	EmailVerified bool       `gorm:"default:false"               json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// API is the shape sent over the wire.
func (u User) API() apimodels.User {
	return apimodels.User{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		AvatarURL:     u.AvatarURL,
		Phone:         u.Phone,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// RefreshToken stores the sha256 of an issued refresh token, never the token.
type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"                  json:"id"`
	Token     string `gorm:"uniqueIndex;size:64;not null" json:"token"`
	UserID    string `gorm:"index;size:36;not null"      json:"user_id"`
	JTI       string `gorm:"uniqueIndex;size:36;not null" json:"jti"`
	ExpiresAt int64  `gorm:"not null"                    json:"expires_at"`
	Revoked   bool   `gorm:"default:false"               json:"revoked"`
}
