package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Issuer struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Now           func() time.Time
}

type Pair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
	RefreshJTI   string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Issuer) CreateAccessToken(userID, role, email string, exp time.Time) (string, error) {
	claims := AccessClaims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(i.now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.AccessSecret)
}

func (i *Issuer) CreateRefreshToken(userID, jti string, exp time.Time) (string, error) {
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(i.now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.RefreshSecret)
}

func (i *Issuer) Issue(userID, role, email string) (Pair, error) {
	now := i.now()
	p := Pair{
		AccessExp:  now.Add(i.AccessTTL),
		RefreshExp: now.Add(i.RefreshTTL),
		RefreshJTI: uuid.NewString(),
		ExpiresIn:  int64(i.AccessTTL / time.Second),
	}

	var err error
	if p.AccessToken, err = i.CreateAccessToken(userID, role, email, p.AccessExp); err != nil {
		return Pair{}, err
	}
	if p.RefreshToken, err = i.CreateRefreshToken(userID, p.RefreshJTI, p.RefreshExp); err != nil {
		return Pair{}, err
	}
	return p, nil
}

func (i *Issuer) ParseAccess(tokenStr string) (*AccessClaims, error) {
	return AccessClaimsFromToken(tokenStr, i.AccessSecret)
}

func (i *Issuer) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	return RefreshClaimsFromToken(tokenStr, i.RefreshSecret)
}
