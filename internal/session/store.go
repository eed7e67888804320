package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Skotchmaster/blytz_client/pkg/apiclient"
	"github.com/Skotchmaster/blytz_client/pkg/models"
	"github.com/Skotchmaster/blytz_client/pkg/storage"
	"github.com/Skotchmaster/blytz_client/pkg/validator"
)

const StorageKey = "auth-storage"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrMissingTokens    = errors.New("auth response without access token")
	ErrEmptyPatch       = errors.New("nothing to update")
)

// API is the part of apiclient.Client the store talks to.
type API interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	PostPublic(ctx context.Context, path string, body, out any) error
	Tokens() apiclient.TokenStore
	OnSessionExpired(fn func())
}

type Store struct {
	api      API
	tokens   apiclient.TokenStore
	kv       storage.KV
	validate *validator.Validator
	log      *slog.Logger

	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	nextID int
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore loads the persisted session from kv and registers itself as the
// API's session-expired hook. A session persisted as authenticated comes back
// Anonymous when no access token is stored.
func NewStore(ctx context.Context, api API, kv storage.KV, opts ...Option) (*Store, error) {
	s := &Store{
		api:      api,
		tokens:   api.Tokens(),
		kv:       kv,
		validate: validator.New(),
		log:      slog.Default(),
		subs:     make(map[int]func(State)),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "session")

	if err := s.rehydrate(ctx); err != nil {
		return nil, err
	}
	api.OnSessionExpired(s.HandleSessionExpired)
	return s, nil
}

func (s *Store) rehydrate(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.log.Warn("session_entry_corrupt", "error", err)
		s.transition(ctx, func(State) State { return Reset() })
		return nil
	}

	if !p.IsAuthenticated || p.User == nil {
		return nil
	}

	access, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if access == "" {
		s.log.Info("session_dropped", "reason", "no access token")
		s.transition(ctx, func(State) State { return Reset() })
		return nil
	}

	u := *p.User
	s.transition(ctx, func(State) State { return Succeeded(u) })
	s.log.Debug("session_restored", "user_id", u.ID)
	return nil
}

func (s *Store) Login(ctx context.Context, email, password string) error {
	creds := Credentials{Email: email, Password: password}
	if err := s.validate.Validate(creds); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	s.transition(ctx, Begin)

	var resp models.AuthResponse
	if err := s.api.PostPublic(ctx, "/auth/login", creds, &resp); err != nil {
		s.transition(ctx, Failed)
		s.log.Warn("login_failed", "error", err)
		return fmt.Errorf("login: %w", err)
	}
	return s.establish(ctx, "login", resp)
}

func (s *Store) Register(ctx context.Context, in RegisterInput) error {
	if err := s.validate.Validate(in); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if in.Role == "" {
		in.Role = models.RoleBuyer
	}

	s.transition(ctx, Begin)

	var resp models.AuthResponse
	if err := s.api.PostPublic(ctx, "/auth/register", in, &resp); err != nil {
		s.transition(ctx, Failed)
		s.log.Warn("register_failed", "error", err)
		return fmt.Errorf("register: %w", err)
	}
	return s.establish(ctx, "register", resp)
}

func (s *Store) establish(ctx context.Context, op string, resp models.AuthResponse) error {
	if resp.Tokens.AccessToken == "" {
		s.transition(ctx, Failed)
		return fmt.Errorf("%s: %w", op, ErrMissingTokens)
	}
	if err := s.tokens.SetTokens(ctx, resp.Tokens.AccessToken, resp.Tokens.RefreshToken); err != nil {
		s.transition(ctx, Failed)
		return fmt.Errorf("%s: store tokens: %w", op, err)
	}

	s.transition(ctx, func(State) State { return Succeeded(resp.User) })
	s.log.Info(op+"_succeeded", "user_id", resp.User.ID, "role", resp.User.Role)
	return nil
}

// Logout always ends the local session. The backend call is best effort and
// its error is only logged.
func (s *Store) Logout(ctx context.Context) error {
	refresh, err := s.tokens.RefreshToken(ctx)
	if err != nil {
		s.log.Warn("logout_read_token_failed", "error", err)
	}
	if err := s.api.Post(ctx, "/auth/logout", models.RefreshRequest{RefreshToken: refresh}, nil); err != nil {
		s.log.Warn("logout_request_failed", "error", err)
	}

	// the local clear must land even when ctx expired during the backend call
	local := context.WithoutCancel(ctx)
	clearErr := s.tokens.Clear(local)
	s.transition(local, func(State) State { return Reset() })

	if clearErr != nil {
		s.log.Error("logout_clear_failed", "error", clearErr)
		return fmt.Errorf("logout: clear tokens: %w", clearErr)
	}
	s.log.Info("logout_succeeded")
	return nil
}

// FetchProfile reloads the current user. Only an auth failure ends the
// session; network and server errors keep it as it was.
func (s *Store) FetchProfile(ctx context.Context) (*models.User, error) {
	s.transition(ctx, Begin)

	var resp models.UserResponse
	if err := s.api.Get(ctx, "/auth/me", &resp); err != nil {
		if apiclient.IsAuthFailure(err) {
			local := context.WithoutCancel(ctx)
			if cerr := s.tokens.Clear(local); cerr != nil {
				s.log.Error("token_clear_failed", "error", cerr)
			}
			s.transition(local, func(State) State { return Reset() })
			s.log.Warn("fetch_profile_unauthorized", "error", err)
		} else {
			s.transition(ctx, Failed)
			s.log.Warn("fetch_profile_failed", "error", err)
		}
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	st := s.transition(ctx, func(cur State) State { return WithUser(cur, &resp.User) })
	return copyUser(st.User), nil
}

// UpdateProfile leaves the current user untouched when the call fails.
func (s *Store) UpdateProfile(ctx context.Context, patch ProfilePatch) (*models.User, error) {
	if !s.IsAuthenticated() {
		return nil, fmt.Errorf("update profile: %w", ErrNotAuthenticated)
	}
	if patch.Empty() {
		return nil, fmt.Errorf("update profile: %w", ErrEmptyPatch)
	}
	if err := s.validate.Validate(patch); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	var resp models.UserResponse
	if err := s.api.Put(ctx, "/users/me", patch, &resp); err != nil {
		s.log.Warn("update_profile_failed", "error", err)
		return nil, fmt.Errorf("update profile: %w", err)
	}

	st := s.transition(ctx, func(cur State) State { return WithUser(cur, &resp.User) })
	s.log.Info("profile_updated", "user_id", resp.User.ID)
	return copyUser(st.User), nil
}

func (s *Store) SetUser(ctx context.Context, u *models.User) {
	s.transition(ctx, func(cur State) State { return WithUser(cur, u) })
}

// HandleSessionExpired is registered as the API client's session-expired
// hook. The client has already cleared the tokens.
func (s *Store) HandleSessionExpired() {
	s.transition(context.Background(), func(State) State { return Reset() })
	s.log.Warn("session_expired")
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{User: copyUser(s.state.User), Status: s.state.Status}
}

func (s *Store) User() *models.User {
	return s.Snapshot().User
}

func (s *Store) IsAuthenticated() bool {
	return s.Snapshot().IsAuthenticated()
}

// Subscribe calls fn after every transition until the returned func is called.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) transition(ctx context.Context, fn func(State) State) State {
	s.mu.Lock()
	next := fn(s.state)
	s.state = next
	if next.Status != Authenticating {
		if err := storage.SetJSON(ctx, s.kv, StorageKey, toPersisted(next)); err != nil {
			s.log.Warn("session_persist_failed", "error", err)
		}
	}
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	snap := State{User: copyUser(next.User), Status: next.Status}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return snap
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
