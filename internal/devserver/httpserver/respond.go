package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/blytz_client/pkg/logging"
	"github.com/Skotchmaster/blytz_client/pkg/transport"
	"github.com/Skotchmaster/blytz_client/pkg/validator"
)

func ok(c echo.Context, status int, data any) error {
	env, err := transport.OK(data, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(status, env)
}

func fail(c echo.Context, status int, code, message string, details []transport.ErrorDetail) error {
	return c.JSON(status, transport.Fail(code, message, details, time.Now()))
}

// bindAndValidate reports a VALIDATION_ERROR response itself and returns
// false when the request must stop.
func bindAndValidate(c echo.Context, dst any) (bool, error) {
	if err := c.Bind(dst); err != nil {
		return false, fail(c, http.StatusBadRequest, transport.CodeValidation, "invalid body", nil)
	}
	if err := c.Validate(dst); err != nil {
		var verr *validator.Error
		if errors.As(err, &verr) {
			return false, fail(c, http.StatusBadRequest, transport.CodeValidation, "validation failed", verr.Details)
		}
		return false, fail(c, http.StatusBadRequest, transport.CodeValidation, err.Error(), nil)
	}
	return true, nil
}

// ErrorHandler renders every unhandled error as an error envelope.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, isStr := he.Message.(string); isStr {
			message = m
		} else {
			message = http.StatusText(status)
		}
	} else {
		logging.FromContext(c.Request().Context()).Error("unhandled_error", "error", err)
	}

	if werr := fail(c, status, codeFor(status), message, nil); werr != nil {
		logging.FromContext(c.Request().Context()).Error("error_response_failed", "error", werr)
	}
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return transport.CodeValidation
	case http.StatusUnauthorized:
		return transport.CodeUnauthorized
	case http.StatusForbidden:
		return transport.CodeForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return transport.CodeNotFound
	case http.StatusConflict:
		return transport.CodeConflict
	}
	return transport.CodeInternal
}
