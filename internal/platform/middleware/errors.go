package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/ips-exporter/internal/platform/fhir"
)

// ErrorHandler renders every error as a FHIR OperationOutcome.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprintf("%v", he.Message)
		}

		oo := fhir.NewOperationOutcome(severityFor(code), issueTypeFor(code), msg)
		if code >= 500 {
			rid, _ := c.Get(RequestIDKey).(string)
			logger.Debug().Err(err).Str("request_id", rid).Int("status", code).Msg("rendering error outcome")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, oo)
		}
		if err != nil {
			logger.Error().Err(err).Msg("writing error response")
		}
	}
}

func severityFor(code int) string {
	if code >= 500 {
		return fhir.IssueSeverityFatal
	}
	return fhir.IssueSeverityError
}

func issueTypeFor(code int) string {
	switch code {
	case http.StatusBadRequest:
		return fhir.IssueTypeInvalid
	case http.StatusUnauthorized:
		return fhir.IssueTypeLogin
	case http.StatusForbidden:
		return fhir.IssueTypeSecurity
	case http.StatusNotFound:
		return fhir.IssueTypeNotFound
	case http.StatusRequestEntityTooLarge:
		return fhir.IssueTypeTooCostly
	case http.StatusTooManyRequests:
		return fhir.IssueTypeThrottled
	case http.StatusFailedDependency:
		return fhir.IssueTypeIncomplete
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return fhir.IssueTypeTransient
	case http.StatusGatewayTimeout:
		return fhir.IssueTypeTimeout
	default:
		if code >= 500 {
			return fhir.IssueTypeException
		}
		return fhir.IssueTypeProcessing
	}
}
