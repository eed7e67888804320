package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	loggingmw "github.com/Skotchmaster/blytz_client/pkg/middleware/logging"
	"github.com/Skotchmaster/blytz_client/pkg/tokens"
	"github.com/Skotchmaster/blytz_client/pkg/transport"
	"github.com/Skotchmaster/blytz_client/pkg/validator"
)

const APIPrefix = "/api/v1"

type Deps struct {
	AuthHandler *AuthHTTP
	Tokens      *tokens.Issuer
	// Ready backs /health/ready; nil means always ready.
	Ready func(ctx context.Context) error
}

// New builds the echo instance with logging, recovery and envelope errors.
func New(l *slog.Logger, d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Validator = validator.New()
	e.HTTPErrorHandler = ErrorHandler
	e.Use(middleware.Recover())
	e.Use(loggingmw.RequestLogger(l))

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c.Request().Context()); err != nil {
				return fail(c, http.StatusServiceUnavailable, transport.CodeInternal, "not ready", nil)
			}
		}
		return c.NoContent(http.StatusOK)
	})

	authMw := &BearerAuth{Tokens: d.Tokens}
	api := e.Group(APIPrefix)

	api.POST("/auth/register", d.AuthHandler.Register)
	api.POST("/auth/login", d.AuthHandler.Login)
	api.POST("/auth/refresh", d.AuthHandler.Refresh)
	api.POST("/auth/logout", d.AuthHandler.LogOut)

	private := api.Group("")
	private.Use(authMw.RequireAuth)

	private.GET("/auth/me", d.AuthHandler.Me)
	private.PUT("/users/me", d.AuthHandler.UpdateMe)
}
