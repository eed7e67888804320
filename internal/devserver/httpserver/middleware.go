package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/blytz_client/pkg/logging"
	"github.com/Skotchmaster/blytz_client/pkg/tokens"
	"github.com/Skotchmaster/blytz_client/pkg/transport"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

type BearerAuth struct {
	Tokens *tokens.Issuer
}

func (m *BearerAuth) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get(echo.HeaderAuthorization)
		token, found := strings.CutPrefix(raw, "Bearer ")
		if !found || token == "" {
			return fail(c, http.StatusUnauthorized, transport.CodeUnauthorized, "missing access token", nil)
		}

		claims, err := m.Tokens.ParseAccess(token)
		if err != nil {
			logging.FromContext(c.Request().Context()).Warn("auth_rejected", "status", 401, "error", err)
			return fail(c, http.StatusUnauthorized, transport.CodeUnauthorized, "invalid or expired token", nil)
		}

		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxRole, claims.Role)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(ctxUserID).(string)
	return id
}
