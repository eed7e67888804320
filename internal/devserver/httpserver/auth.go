package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/blytz_client/internal/devserver/service"
	"github.com/Skotchmaster/blytz_client/pkg/logging"
	"github.com/Skotchmaster/blytz_client/pkg/models"
	"github.com/Skotchmaster/blytz_client/pkg/tokens"
	"github.com/Skotchmaster/blytz_client/pkg/transport"
)

type AuthHTTP struct {
	Svc *service.AuthService
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *AuthHTTP) Register(c echo.Context) error {
	var req service.RegisterInput
	if proceed, err := bindAndValidate(c, &req); !proceed {
		return err
	}

	res, err := h.Svc.Register(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrConflict) {
			return fail(c, http.StatusConflict, transport.CodeConflict, "email already registered", nil)
		}
		return fail(c, http.StatusInternalServerError, transport.CodeInternal, "register failed", nil)
	}
	return ok(c, http.StatusCreated, authResponse(res))
}

func (h *AuthHTTP) Login(c echo.Context) error {
	var req loginRequest
	if proceed, err := bindAndValidate(c, &req); !proceed {
		return err
	}

	res, err := h.Svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return fail(c, http.StatusUnauthorized, transport.CodeUnauthorized, "invalid email or password", nil)
		}
		return fail(c, http.StatusInternalServerError, transport.CodeInternal, "login failed", nil)
	}
	return ok(c, http.StatusOK, authResponse(res))
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	var req refreshRequest
	if proceed, err := bindAndValidate(c, &req); !proceed {
		return err
	}

	pair, err := h.Svc.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			return fail(c, http.StatusUnauthorized, transport.CodeUnauthorized, "invalid refresh token", nil)
		}
		return fail(c, http.StatusInternalServerError, transport.CodeInternal, "refresh failed", nil)
	}
	return ok(c, http.StatusOK, tokenPair(pair))
}

// LogOut accepts an empty body; it only revokes what it is given.
func (h *AuthHTTP) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("logout_error", "status", 400, "error", err)
		return fail(c, http.StatusBadRequest, transport.CodeValidation, "invalid body", nil)
	}

	if err := h.Svc.LogOut(ctx, req.RefreshToken); err != nil {
		return fail(c, http.StatusInternalServerError, transport.CodeInternal, "logout failed", nil)
	}
	return ok(c, http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *AuthHTTP) Me(c echo.Context) error {
	u, err := h.Svc.Me(c.Request().Context(), userID(c))
	if err != nil {
		return h.userError(c, err)
	}
	return ok(c, http.StatusOK, models.UserResponse{User: *u})
}

func (h *AuthHTTP) UpdateMe(c echo.Context) error {
	var req service.ProfileInput
	if proceed, err := bindAndValidate(c, &req); !proceed {
		return err
	}

	u, err := h.Svc.UpdateProfile(c.Request().Context(), userID(c), req)
	if err != nil {
		return h.userError(c, err)
	}
	return ok(c, http.StatusOK, models.UserResponse{User: *u})
}

func (h *AuthHTTP) userError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrNotFound) {
		return fail(c, http.StatusNotFound, transport.CodeNotFound, "user not found", nil)
	}
	return fail(c, http.StatusInternalServerError, transport.CodeInternal, "internal error", nil)
}

func authResponse(res *service.AuthResult) models.AuthResponse {
	return models.AuthResponse{User: res.User, Tokens: tokenPair(res.Tokens)}
}

func tokenPair(p tokens.Pair) models.TokenPair {
	return models.TokenPair{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    p.ExpiresIn,
	}
}
