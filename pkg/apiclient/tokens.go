package apiclient

import (
	"context"
	"errors"

	"github.com/Skotchmaster/blytz_client/pkg/storage"
)

const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// TokenStore holds the access/refresh pair. Missing tokens read as "".
type TokenStore interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetTokens(ctx context.Context, access, refresh string) error
	Clear(ctx context.Context) error
}

type KVTokens struct {
	KV storage.KV
}

func NewKVTokens(kv storage.KV) *KVTokens {
	return &KVTokens{KV: kv}
}

func (t *KVTokens) AccessToken(ctx context.Context) (string, error) {
	return storage.GetString(ctx, t.KV, AccessTokenKey)
}

func (t *KVTokens) RefreshToken(ctx context.Context) (string, error) {
	return storage.GetString(ctx, t.KV, RefreshTokenKey)
}

func (t *KVTokens) SetTokens(ctx context.Context, access, refresh string) error {
	if err := t.KV.Set(ctx, AccessTokenKey, access); err != nil {
		return err
	}
	if refresh == "" {
		return t.KV.Delete(ctx, RefreshTokenKey)
	}
	return t.KV.Set(ctx, RefreshTokenKey, refresh)
}

func (t *KVTokens) Clear(ctx context.Context) error {
	return errors.Join(
		t.KV.Delete(ctx, AccessTokenKey),
		t.KV.Delete(ctx, RefreshTokenKey),
	)
}
