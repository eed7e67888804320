package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/blytz_client/internal/checkout"
	"github.com/Skotchmaster/blytz_client/internal/devserver/httpserver"
	"github.com/Skotchmaster/blytz_client/internal/devserver/repo"
	"github.com/Skotchmaster/blytz_client/internal/devserver/service"
	"github.com/Skotchmaster/blytz_client/internal/events"
	"github.com/Skotchmaster/blytz_client/pkg/db"
	"github.com/Skotchmaster/blytz_client/pkg/logging"
	"github.com/Skotchmaster/blytz_client/pkg/tokens"
)

func startDevserver(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	gdb, err := db.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	rp := &repo.GormRepo{DB: gdb}
	require.NoError(t, rp.Migrate(ctx))

	issuer := &tokens.Issuer{
		AccessSecret:  []byte("test-jwt-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
	}
	e := httpserver.New(logging.Discard(), &httpserver.Deps{
		AuthHandler: &httpserver.AuthHTTP{Svc: &service.AuthService{Repo: rp, Tokens: issuer, Events: events.Nop{}}},
		Tokens:      issuer,
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv.URL + httpserver.APIPrefix
}

type shopctl struct {
	t     *testing.T
	api   string
	store string
}

func (s shopctl) run(args ...string) ([]byte, error) {
	s.t.Helper()
	var out bytes.Buffer
	full := append([]string{"-api", s.api, "-store", s.store, "-log-level", "error"}, args...)
	err := run(context.Background(), full, &out, io.Discard)
	return out.Bytes(), err
}

func TestShopctl_SessionAndCartSurviveRuns(t *testing.T) {
	cli := shopctl{t: t, api: startDevserver(t), store: filepath.Join(t.TempDir(), "state.db")}

	_, err := cli.run("register", "-role", "seller", "ann@example.com", "password1", "Ann", "Lee")
	require.NoError(t, err)

	out, err := cli.run("status")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.Unmarshal(out, &status))
	assert.Equal(t, true, status["authenticated"])

	_, err = cli.run("cart", "add", "A", "Camera", "10", "2")
	require.NoError(t, err)
	out, err = cli.run("cart", "add", "B", "Film", "5")
	require.NoError(t, err)
	var listing struct {
		Total     float64 `json:"total"`
		ItemCount int     `json:"item_count"`
	}
	require.NoError(t, json.Unmarshal(out, &listing))
	assert.Equal(t, 25.0, listing.Total)
	assert.Equal(t, 3, listing.ItemCount)

	out, err = cli.run("me")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"role": "seller"`)

	out, err = cli.run("checkout")
	require.NoError(t, err)
	var sum checkout.Summary
	require.NoError(t, json.Unmarshal(out, &sum))
	assert.Equal(t, 25.0, sum.Subtotal)

	out, err = cli.run("cart", "list")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &listing))
	assert.Equal(t, 0, listing.ItemCount)

	_, err = cli.run("logout")
	require.NoError(t, err)
	_, err = cli.run("checkout")
	require.ErrorIs(t, err, checkout.ErrNotAuthenticated)
}

func TestShopctl_Usage(t *testing.T) {
	cli := shopctl{t: t, api: "http://127.0.0.1:1", store: "memory:"}

	_, err := cli.run()
	assert.ErrorIs(t, err, flag.ErrHelp)

	_, err = cli.run("dance")
	assert.ErrorIs(t, err, errUsage)

	for _, bad := range [][]string{
		{"A", "Camera", "ten"},
		{"A", "Camera", "NaN"},
		{"A", "Camera", "+Inf"},
		{"A", "Camera", "-1"},
		{"A", "Camera", "10", "0"},
		{"A", "Camera", "10", "99999999999999999999"},
	} {
		_, err = cli.run(append([]string{"cart", "add"}, bad...)...)
		assert.ErrorIs(t, err, errUsage, bad)
	}

	_, err = cli.run("login", "only-email")
	assert.ErrorIs(t, err, errUsage)
}

func TestShopctl_CartInMemory(t *testing.T) {
	cli := shopctl{t: t, api: "http://127.0.0.1:1", store: "memory:"}

	out, err := cli.run("cart", "add", "A", "Camera", "10", "2")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"item_count": 2`)
}
