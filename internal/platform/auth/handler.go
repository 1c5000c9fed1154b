package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// SessionHandler mints and clears launch sessions. It is the hand-off point
// for an external SMART launcher and is only mounted in development.
type SessionHandler struct {
	codec  *SessionCodec
	secure bool
}

func NewSessionHandler(codec *SessionCodec, secure bool) *SessionHandler {
	return &SessionHandler{codec: codec, secure: secure}
}

func (h *SessionHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/session", h.Create)
	e.DELETE("/session", h.Delete)
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *SessionHandler) Create(c echo.Context) error {
	var lc LaunchContext
	if err := c.Bind(&lc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !lc.Complete() {
		return echo.NewHTTPError(http.StatusBadRequest, "patient and practitioner are required")
	}

	token, err := h.codec.Issue(lc)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	expires := h.codec.now().Add(h.codec.TTL()).UTC()

	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusCreated, sessionResponse{Token: token, ExpiresAt: expires})
}

func (h *SessionHandler) Delete(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.NoContent(http.StatusNoContent)
}
