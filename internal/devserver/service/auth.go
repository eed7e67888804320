package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Skotchmaster/blytz_client/internal/devserver/models"
	"github.com/Skotchmaster/blytz_client/internal/devserver/repo"
	"github.com/Skotchmaster/blytz_client/internal/events"
	pkg_hash "github.com/Skotchmaster/blytz_client/pkg/hash"
	"github.com/Skotchmaster/blytz_client/pkg/logging"
	apimodels "github.com/Skotchmaster/blytz_client/pkg/models"
	"github.com/Skotchmaster/blytz_client/pkg/tokens"
)

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrConflict            = errors.New("email already registered")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrNotFound            = errors.New("user not found")
)

type AuthService struct {
	Repo   *repo.GormRepo
	Tokens *tokens.Issuer
	Events events.Publisher
	Now    func() time.Time
}

type RegisterInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"omitempty,e164"`
	Role      string `json:"role" validate:"omitempty,oneof=buyer seller"`
}

type ProfileInput struct {
	FirstName *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,e164"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url"`
}

// AuthResult is what login and register hand back to the HTTP layer.
type AuthResult struct {
	User   apimodels.User
	Tokens tokens.Pair
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	pwHash, err := pkg_hash.HashPassword(in.Password)
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := in.Role
	if role == "" {
		role = apimodels.RoleBuyer
	}
	user := models.User{
		Email:        normalizeEmail(in.Email),
		PasswordHash: pwHash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Role:         role,
	}

	if err := s.Repo.CreateUserIfNotExists(ctx, &user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			l.Warn("register_error", "status", 409, "reason", "user already exist")
			return nil, ErrConflict
		}
		l.Error("register_error", "status", 500, "error", err)
		return nil, fmt.Errorf("create user: %w", err)
	}

	res, err := s.issue(ctx, user)
	if err != nil {
		l.Error("register_error", "status", 500, "error", err)
		return nil, err
	}

	s.publish(ctx, events.UserRegistered, user)
	l.Info("register_successful", "user_id", user.ID)
	return res, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	user, err := s.Repo.UserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("login_failed", "status", 401, "reason", "unknown email")
			return nil, ErrInvalidCredentials
		}
		l.Error("login_failed", "status", 500, "error", err)
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !pkg_hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("login_failed", "status", 401, "reason", "wrong password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if err := s.Repo.TouchLogin(ctx, user.ID, now); err != nil {
		l.Error("login_failed", "status", 500, "error", err)
		return nil, fmt.Errorf("touch login: %w", err)
	}
	user.LastLoginAt = &now

	res, err := s.issue(ctx, *user)
	if err != nil {
		l.Error("login_failed", "status", 500, "error", err)
		return nil, err
	}

	s.publish(ctx, events.UserLoggedIn, *user)
	l.Info("login_successful", "user_id", user.ID)
	return res, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked, so replaying it fails.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (tokens.Pair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := s.Tokens.ParseRefresh(refreshToken)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "error", err)
		return tokens.Pair{}, ErrInvalidRefreshToken
	}

	user, err := s.Repo.UserByID(ctx, claims.Subject)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "reason", "unknown user", "error", err)
		return tokens.Pair{}, ErrInvalidRefreshToken
	}

	pair, err := s.Tokens.Issue(user.ID, user.Role, user.Email)
	if err != nil {
		return tokens.Pair{}, fmt.Errorf("issue tokens: %w", err)
	}

	next := refreshRow(user.ID, pair)
	err = s.Repo.RotateRefreshToken(ctx, claims.ID, tokens.Sha256Hex(refreshToken), next, s.now())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrRefreshNotUsable) {
			l.Warn("refresh_failed", "status", 401, "reason", "token expired or revoked", "user_id", user.ID)
			return tokens.Pair{}, ErrInvalidRefreshToken
		}
		l.Error("refresh_failed", "status", 500, "error", err)
		return tokens.Pair{}, fmt.Errorf("rotate refresh: %w", err)
	}

	s.publish(ctx, events.TokenRefreshed, *user)
	l.Info("refresh_successful", "user_id", user.ID)
	return pair, nil
}

// LogOut revokes the refresh token. An empty token is not an error.
func (s *AuthService) LogOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	l := logging.FromContext(ctx).With("svc", "auth.logout")

	if err := s.Repo.RevokeRefresh(ctx, tokens.Sha256Hex(refreshToken)); err != nil {
		l.Error("logout_failed", "status", 500, "reason", "cannot revoke refreshToken", "error", err)
		return fmt.Errorf("revoke refresh: %w", err)
	}

	if claims, err := s.Tokens.ParseRefresh(refreshToken); err == nil {
		s.publish(ctx, events.UserLoggedOut, models.User{ID: claims.Subject})
	}
	l.Info("logout_successful")
	return nil
}

func (s *AuthService) Me(ctx context.Context, userID string) (*apimodels.User, error) {
	user, err := s.Repo.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	u := user.API()
	return &u, nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*apimodels.User, error) {
	l := logging.FromContext(ctx).With("svc", "users.update")

	fields := map[string]any{}
	if in.FirstName != nil {
		fields["first_name"] = *in.FirstName
	}
	if in.LastName != nil {
		fields["last_name"] = *in.LastName
	}
	if in.Phone != nil {
		fields["phone"] = *in.Phone
	}
	if in.AvatarURL != nil {
		fields["avatar_url"] = *in.AvatarURL
	}
	if len(fields) == 0 {
		return s.Me(ctx, userID)
	}

	user, err := s.Repo.UpdateUser(ctx, userID, fields)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		l.Error("update_failed", "status", 500, "error", err)
		return nil, fmt.Errorf("update user: %w", err)
	}

	l.Info("profile_updated", "user_id", userID)
	u := user.API()
	return &u, nil
}

func (s *AuthService) issue(ctx context.Context, user models.User) (*AuthResult, error) {
	pair, err := s.Tokens.Issue(user.ID, user.Role, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.Repo.AddRefresh(ctx, refreshRow(user.ID, pair)); err != nil {
		return nil, fmt.Errorf("store refresh: %w", err)
	}
	return &AuthResult{User: user.API(), Tokens: pair}, nil
}

// publish never fails the request; a lost event is only logged.
func (s *AuthService) publish(ctx context.Context, kind string, user models.User) {
	if s.Events == nil {
		return
	}
	ev := events.UserEvent{
		Type:   kind,
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		At:     s.now(),
	}
	if err := s.Events.PublishEvent(ctx, events.UserTopic, user.ID, ev); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "type", kind, "error", err)
	}
}

func refreshRow(userID string, pair tokens.Pair) models.RefreshToken {
	return models.RefreshToken{
		Token:     tokens.Sha256Hex(pair.RefreshToken),
		UserID:    userID,
		JTI:       pair.RefreshJTI,
		ExpiresAt: pair.RefreshExp.Unix(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
