package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// SessionConfig configures SessionMiddleware.
type SessionConfig struct {
	Codec *SessionCodec
	// Defaults, when complete, is used for requests that carry no session.
	// Development only.
	Defaults LaunchContext
	// DefaultFHIRBaseURL fills in sessions that do not name a FHIR server.
	DefaultFHIRBaseURL string
	Skipper            func(c echo.Context) bool
}

// SessionMiddleware resolves the launch context from the session cookie or an
// Authorization bearer token and stores it on the request context.
func SessionMiddleware(cfg SessionConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = AuthSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}

			token, err := sessionToken(c)
			if err != nil {
				return err
			}

			var lc LaunchContext
			switch {
			case token != "":
				if cfg.Codec == nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "sessions are not enabled")
				}
				lc, err = cfg.Codec.Parse(token)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
				}
			case cfg.Defaults.Complete():
				lc = cfg.Defaults
			default:
				return echo.NewHTTPError(http.StatusUnauthorized, "no launch session")
			}

			if lc.FHIRBaseURL == "" {
				lc.FHIRBaseURL = cfg.DefaultFHIRBaseURL
			}

			ctx := WithLaunchContext(c.Request().Context(), lc)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// sessionToken returns the bearer token, falling back to the session cookie.
// A malformed Authorization header is rejected rather than ignored.
func sessionToken(c echo.Context) (string, error) {
	if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", nil
}
