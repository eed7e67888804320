// Package checkout turns the current cart into an order summary for the
// signed-in user.
package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/Skotchmaster/blytz_client/internal/cart"
	"github.com/Skotchmaster/blytz_client/pkg/logging"
	"github.com/Skotchmaster/blytz_client/pkg/models"
)

var (
	ErrNotAuthenticated = errors.New("checkout: not authenticated")
	ErrEmptyCart        = errors.New("checkout: cart is empty")
)

type SessionReader interface {
	User() *models.User
}

type Summary struct {
	Lines       []cart.Line `json:"lines"`
	Subtotal    float64     `json:"subtotal"`
	ItemCount   int         `json:"item_count"`
	UserID      string      `json:"user_id"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Preview builds the summary without touching the cart.
func Preview(u *models.User, c cart.Cart) (*Summary, error) {
	if u == nil {
		return nil, ErrNotAuthenticated
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}
	return &Summary{
		Lines:     c.Lines(),
		Subtotal:  c.Total(),
		ItemCount: c.ItemCount(),
		UserID:    u.ID,
	}, nil
}

// Complete builds the summary and clears the cart in one step, so a rejected
// checkout leaves the cart as it was and a concurrent add is never lost.
func Complete(ctx context.Context, sess SessionReader, store *cart.Store) (*Summary, error) {
	l := logging.FromContext(ctx)
	u := sess.User()

	var sum *Summary
	err := store.Take(ctx, func(c cart.Cart) error {
		var err error
		sum, err = Preview(u, c)
		return err
	})
	if err != nil {
		l.Warn("checkout_rejected", "error", err)
		return nil, err
	}

	sum.CompletedAt = time.Now().UTC()

	l.Info("checkout_completed", "user_id", sum.UserID, "items", sum.ItemCount, "subtotal", sum.Subtotal)
	return sum, nil
}
