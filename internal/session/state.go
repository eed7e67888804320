// Package session holds the authenticated-user state machine and keeps it in
// step with the stored tokens.
package session

import "github.com/Skotchmaster/blytz_client/pkg/models"

type Status int

const (
	Anonymous Status = iota
	Authenticating
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	}
	return "anonymous"
}

// State is a value; reducers return a new one and never mutate their input.
type State struct {
	User   *models.User
	Status Status
}

func (s State) IsAuthenticated() bool {
	return s.Status == Authenticated && s.User != nil
}

func (s State) IsLoading() bool {
	return s.Status == Authenticating
}

// Begin keeps the current user so a failed attempt can fall back to it.
func Begin(s State) State {
	return State{User: s.User, Status: Authenticating}
}

func Succeeded(u models.User) State {
	return State{User: &u, Status: Authenticated}
}

// Failed ends an attempt: back to Authenticated if a user was already held,
// otherwise Anonymous.
func Failed(s State) State {
	if s.User != nil {
		return State{User: s.User, Status: Authenticated}
	}
	return State{}
}

func Reset() State {
	return State{}
}

// WithUser replaces the user. A nil user logs out.
func WithUser(s State, u *models.User) State {
	if u == nil {
		return State{}
	}
	cp := *u
	return State{User: &cp, Status: Authenticated}
}

type persisted struct {
	User            *models.User `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
}

func toPersisted(s State) persisted {
	return persisted{User: s.User, IsAuthenticated: s.IsAuthenticated()}
}
