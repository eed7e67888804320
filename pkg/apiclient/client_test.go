package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/blytz_client/pkg/logging"
	"github.com/Skotchmaster/blytz_client/pkg/models"
	"github.com/Skotchmaster/blytz_client/pkg/storage"
	"github.com/Skotchmaster/blytz_client/pkg/transport"
)

type fakeBackend struct {
	e            *echo.Echo
	srv          *httptest.Server
	refreshCalls atomic.Int32
	refreshAuth  atomic.Value
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{e: echo.New()}
	fb.srv = httptest.NewServer(fb.e)
	t.Cleanup(fb.srv.Close)
	return fb
}

// handleRefresh answers /auth/refresh with the given pair, or 401 when access is "".
func (fb *fakeBackend) handleRefresh(access, refresh string, delay time.Duration) {
	fb.e.POST(RefreshPath, func(c echo.Context) error {
		fb.refreshCalls.Add(1)
		fb.refreshAuth.Store(c.Request().Header.Get("Authorization"))
		if delay > 0 {
			time.Sleep(delay)
		}
		if access == "" {
			return c.JSON(http.StatusUnauthorized, transport.Fail(transport.CodeUnauthorized, "invalid refresh token", nil, time.Now()))
		}
		var req models.RefreshRequest
		if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
			return c.JSON(http.StatusBadRequest, transport.Fail(transport.CodeValidation, "refresh_token required", nil, time.Now()))
		}
		return okJSON(c, models.TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: 900})
	})
}

func okJSON(c echo.Context, data any) error {
	env, err := transport.OK(data, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, env)
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, transport.Fail(transport.CodeUnauthorized, "token expired", nil, time.Now()))
}

func newTestClient(t *testing.T, fb *fakeBackend, access, refresh string, opts ...Option) (*Client, *KVTokens) {
	t.Helper()
	tokens := NewKVTokens(storage.NewMemory())
	if access != "" || refresh != "" {
		require.NoError(t, tokens.SetTokens(context.Background(), access, refresh))
	}
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return New(fb.srv.URL, tokens, opts...), tokens
}

func TestDo_DecodesEnvelopeData(t *testing.T) {
	fb := newFakeBackend(t)
	var gotAuth, gotRequestID string
	fb.e.GET("/auth/me", func(c echo.Context) error {
		gotAuth = c.Request().Header.Get("Authorization")
		gotRequestID = c.Request().Header.Get("X-Request-ID")
		return okJSON(c, models.UserResponse{User: models.User{ID: "u1", Email: "a@b.c"}})
	})
	c, _ := newTestClient(t, fb, "acc", "ref")

	var out models.UserResponse
	require.NoError(t, c.Get(context.Background(), "/auth/me", &out))

	assert.Equal(t, "u1", out.User.ID)
	assert.Equal(t, "Bearer acc", gotAuth)
	assert.NotEmpty(t, gotRequestID)
}

func TestDo_NoTokenSendsNoAuthHeader(t *testing.T) {
	fb := newFakeBackend(t)
	var gotAuth = "unset"
	fb.e.GET("/products", func(c echo.Context) error {
		gotAuth = c.Request().Header.Get("Authorization")
		return okJSON(c, []models.Product{{ID: "p1", Price: 10}})
	})
	c, _ := newTestClient(t, fb, "", "")

	var out []models.Product
	require.NoError(t, c.Get(context.Background(), "/products", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "", gotAuth)
}

func TestDoWithMeta_ReturnsPagination(t *testing.T) {
	fb := newFakeBackend(t)
	fb.e.GET("/products", func(c echo.Context) error {
		env, err := transport.OK([]models.Product{}, time.Now())
		if err != nil {
			return err
		}
		env.Meta.Pagination = &transport.Pagination{Page: 2, PerPage: 20, Total: 41, TotalPages: 3}
		return c.JSON(http.StatusOK, env)
	})
	c, _ := newTestClient(t, fb, "", "")

	var out []models.Product
	meta, err := c.DoWithMeta(context.Background(), http.MethodGet, "/products?page=2", nil, &out)
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.NotNil(t, meta.Pagination)
	assert.Equal(t, 3, meta.Pagination.TotalPages)
}

func TestDo_PostSendsJSONBody(t *testing.T) {
	fb := newFakeBackend(t)
	fb.e.POST("/auth/login", func(c echo.Context) error {
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.Bind(&in); err != nil {
			return err
		}
		return okJSON(c, map[string]string{"echo": in.Email})
	})
	c, _ := newTestClient(t, fb, "", "")

	var out map[string]string
	require.NoError(t, c.Post(context.Background(), "/auth/login", map[string]string{"email": "x@y.z", "password": "p"}, &out))
	assert.Equal(t, "x@y.z", out["echo"])
}

func TestDo_RefreshesAndRetriesOnce(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handleRefresh("new-access", "new-refresh", 0)
	var calls atomic.Int32
	fb.e.GET("/auth/me", func(c echo.Context) error {
		calls.Add(1)
		if c.Request().Header.Get("Authorization") != "Bearer new-access" {
			return unauthorized(c)
		}
		return okJSON(c, models.UserResponse{User: models.User{ID: "u1"}})
	})
	c, tokens := newTestClient(t, fb, "old-access", "old-refresh")

	var out models.UserResponse
	require.NoError(t, c.Get(context.Background(), "/auth/me", &out))

	assert.Equal(t, "u1", out.User.ID)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), fb.refreshCalls.Load())
	assert.Equal(t, "", fb.refreshAuth.Load(), "refresh call must not carry a bearer token")

	access, err := tokens.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)
	refresh, err := tokens.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", refresh)
}

func TestDo_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handleRefresh("new-access", "", 0)
	fb.e.GET("/orders", func(c echo.Context) error {
		if c.Request().Header.Get("Authorization") != "Bearer new-access" {
			return unauthorized(c)
		}
		return okJSON(c, []string{})
	})
	c, tokens := newTestClient(t, fb, "old-access", "old-refresh")

	require.NoError(t, c.Get(context.Background(), "/orders", nil))

	refresh, err := tokens.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-refresh", refresh)
}

func TestDo_SecondUnauthorizedIsNotRefreshedAgain(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handleRefresh("new-access", "new-refresh", 0)
	var calls atomic.Int32
	fb.e.GET("/auth/me", func(c echo.Context) error {
		calls.Add(1)
		return unauthorized(c)
	})
	var expired atomic.Int32
	c, _ := newTestClient(t, fb, "old-access", "old-refresh", WithSessionExpired(func() { expired.Add(1) }))

	err := c.Get(context.Background(), "/auth/me", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.False(t, errors.Is(err, ErrSessionExpired))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), fb.refreshCalls.Load())
	assert.Equal(t, int32(0), expired.Load())
}

func TestDo_MissingRefreshTokenExpiresSession(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handleRefresh("new-access", "new-refresh", 0)
	fb.e.GET("/auth/me", unauthorized)

	var expired atomic.Int32
	c, tokens := newTestClient(t, fb, "old-access", "")
	c.OnSessionExpired(func() { expired.Add(1) })

	err := c.Get(context.Background(), "/auth/me", nil)
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.True(t, errors.Is(err, ErrUnauthorized))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.True(t, IsAuthFailure(err))

	assert.Equal(t, int32(0), fb.refreshCalls.Load())
	assert.Equal(t, int32(1), expired.Load())

	access, err := tokens.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, access)
}

func TestDo_RejectedRefreshExpiresSession(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handleRefresh("", "", 0)
	fb.e.GET("/auth/me", unauthorized)

	var expired atomic.Int32
	c, tokens := newTestClient(t, fb, "old-access", "old-refresh", WithSessionExpired(func() { expired.Add(1) }))

	err := c.Get(context.Background(), "/auth/me", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.Equal(t, int32(1), fb.refreshCalls.Load())
	assert.Equal(t, int32(1), expired.Load())

	access, err := tokens.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, access)
	refresh, err := tokens.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refresh)
}

func TestDo_RefreshTransportFailureExpiresSession(t *testing.T) {
	cases := []struct {
		name    string
		refresh echo.HandlerFunc
		opts    []Option
	}{
		{
			name: "connection dropped",
			refresh: func(c echo.Context) error {
				conn, _, err := c.Response().Hijack()
				if err != nil {
					return err
				}
				return conn.Close()
			},
		},
		{
			name: "timeout",
			refresh: func(c echo.Context) error {
				select {
				case <-c.Request().Context().Done():
				case <-time.After(2 * time.Second):
				}
				return okJSON(c, models.TokenPair{AccessToken: "late"})
			},
			opts: []Option{WithTimeout(100 * time.Millisecond)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fb := newFakeBackend(t)
			fb.e.POST(RefreshPath, tc.refresh)
			fb.e.GET("/auth/me", unauthorized)

			var expired atomic.Int32
			opts := append(tc.opts, WithSessionExpired(func() { expired.Add(1) }))
			c, tokens := newTestClient(t, fb, "old-access", "old-refresh", opts...)

			err := c.Get(context.Background(), "/auth/me", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSessionExpired))
			assert.False(t, IsNetwork(err))

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
			assert.Equal(t, int32(1), expired.Load())

			access, err := tokens.AccessToken(context.Background())
			require.NoError(t, err)
			assert.Empty(t, access)
			refresh, err := tokens.RefreshToken(context.Background())
			require.NoError(t, err)
			assert.Empty(t, refresh)
		})
	}
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handleRefresh("new-access", "new-refresh", 50*time.Millisecond)
	fb.e.GET("/orders", func(c echo.Context) error {
		if c.Request().Header.Get("Authorization") != "Bearer new-access" {
			return unauthorized(c)
		}
		return okJSON(c, []string{"o1"})
	})
	c, _ := newTestClient(t, fb, "old-access", "old-refresh")

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out []string
			errs <- c.Get(context.Background(), "/orders", &out)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fb.refreshCalls.Load())
}

func TestDo_PassesThroughOtherErrors(t *testing.T) {
	fb := newFakeBackend(t)
	fb.e.GET("/products/missing", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, transport.Fail(transport.CodeNotFound, "product not found", nil, time.Now()))
	})
	fb.e.POST("/auth/register", func(c echo.Context) error {
		return c.JSON(http.StatusBadRequest, transport.Fail(transport.CodeValidation, "invalid input",
			[]transport.ErrorDetail{{Field: "email", Message: "must be a valid email"}}, time.Now()))
	})
	fb.e.GET("/legacy", func(c echo.Context) error {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db down"})
	})
	fb.e.GET("/soft-fail", func(c echo.Context) error {
		return c.JSON(http.StatusOK, transport.Fail(transport.CodeConflict, "already exists", nil, time.Now()))
	})
	c, _ := newTestClient(t, fb, "acc", "ref")
	ctx := context.Background()

	err := c.Get(ctx, "/products/missing", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, transport.CodeNotFound, apiErr.Code)
	assert.Equal(t, "product not found", apiErr.Message)
	assert.NotEmpty(t, apiErr.RequestID)

	err = c.Post(ctx, "/auth/register", map[string]string{}, nil)
	assert.True(t, errors.Is(err, ErrValidation))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, map[string]string{"email": "must be a valid email"}, apiErr.FieldErrors())

	err = c.Get(ctx, "/legacy", nil)
	assert.True(t, errors.Is(err, ErrServer))
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "db down", apiErr.Message)
	assert.Equal(t, transport.CodeInternal, apiErr.Code)

	err = c.Get(ctx, "/soft-fail", nil)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, transport.CodeConflict, apiErr.Code)

	assert.Equal(t, int32(0), fb.refreshCalls.Load())
}

func TestDo_NetworkErrors(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		fb := newFakeBackend(t)
		c, _ := newTestClient(t, fb, "acc", "ref")
		fb.srv.Close()

		err := c.Get(context.Background(), "/auth/me", nil)
		require.Error(t, err)
		assert.True(t, IsNetwork(err))
		assert.False(t, IsAuthFailure(err))
	})

	t.Run("timeout", func(t *testing.T) {
		fb := newFakeBackend(t)
		fb.e.GET("/slow", func(c echo.Context) error {
			select {
			case <-c.Request().Context().Done():
			case <-time.After(2 * time.Second):
			}
			return okJSON(c, nil)
		})
		c, _ := newTestClient(t, fb, "", "", WithTimeout(50*time.Millisecond))

		err := c.Get(context.Background(), "/slow", nil)
		require.Error(t, err)
		var ne *NetworkError
		require.True(t, errors.As(err, &ne))
		assert.True(t, ne.Timeout())
	})
}

func TestDo_EmptyBodyIsSuccess(t *testing.T) {
	fb := newFakeBackend(t)
	fb.e.DELETE("/cart", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	c, _ := newTestClient(t, fb, "acc", "ref")

	var out map[string]any
	require.NoError(t, c.Delete(context.Background(), "/cart", &out))
	assert.Nil(t, out)
}

func TestBuildQuery(t *testing.T) {
	t.Parallel()
	var missing *string
	status := "active"

	cases := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"empty", nil, ""},
		{"skips nil", map[string]any{"page": 2, "q": nil}, "page=2"},
		{"derefs pointers", map[string]any{"status": &status, "cat": missing}, "status=active"},
		{"sorted and escaped", map[string]any{"q": "red shoes", "limit": 10}, "limit=10&q=red+shoes"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, BuildQuery(tc.params))
		})
	}
}

func TestPostPublic_NoBearerNoRefresh(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handleRefresh("new-access", "new-refresh", 0)
	gotAuth := "unset"
	fb.e.POST("/auth/login", func(c echo.Context) error {
		gotAuth = c.Request().Header.Get("Authorization")
		return c.JSON(http.StatusUnauthorized, transport.Fail(transport.CodeUnauthorized, "invalid credentials", nil, time.Now()))
	})
	c, tokens := newTestClient(t, fb, "acc", "ref")

	err := c.PostPublic(context.Background(), "/auth/login", map[string]string{"email": "a@b.c"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.False(t, errors.Is(err, ErrSessionExpired))
	assert.Equal(t, "", gotAuth)
	assert.Equal(t, int32(0), fb.refreshCalls.Load())

	access, err := tokens.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acc", access)
}
