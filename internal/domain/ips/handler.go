package ips

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ips-exporter/internal/domain/submission"
	"github.com/ehr/ips-exporter/internal/platform/auth"
	"github.com/ehr/ips-exporter/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the export routes. /app is kept as an alias of /ips
// for launchers that redirect there.
func (h *Handler) RegisterRoutes(e *echo.Echo) *echo.Group {
	e.GET("/app", h.Export)

	g := e.Group("/ips")
	g.GET("", h.Export)
	g.GET("/$document", h.Document)
	g.GET("/submissions", h.ListSubmissions)
	g.GET("/submissions/:id", h.GetSubmission)
	return g
}

// Export assembles and validates the session patient's summary.
func (h *Handler) Export(c echo.Context) error {
	lc, err := launchContext(c)
	if err != nil {
		return err
	}
	result, err := h.svc.Export(c.Request().Context(), lc)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// Document returns the assembled bundle without validating it.
func (h *Handler) Document(c echo.Context) error {
	lc, err := launchContext(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.Assemble(c.Request().Context(), lc)
	if err != nil {
		return httpError(err)
	}
	if placeholders := doc.Placeholders(); len(placeholders) > 0 {
		c.Response().Header().Set("X-IPS-Placeholders", strings.Join(placeholders, ","))
	}
	return c.JSON(http.StatusOK, doc.Bundle)
}

func (h *Handler) ListSubmissions(c echo.Context) error {
	lc, err := launchContext(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Submissions(c.Request().Context(), lc.PatientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "listing submissions").SetInternal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Request().URL.Path))
}

// GetSubmission returns one submission of the session patient.
func (h *Handler) GetSubmission(c echo.Context) error {
	lc, err := launchContext(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Submission(c.Request().Context(), lc.PatientID, c.Param("id"))
	if errors.Is(err, submission.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Submission/"+c.Param("id")+" not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "reading submission").SetInternal(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func launchContext(c echo.Context) (auth.LaunchContext, error) {
	lc, ok := auth.LaunchContextFromContext(c.Request().Context())
	if !ok || !lc.Complete() {
		return auth.LaunchContext{}, echo.NewHTTPError(http.StatusUnauthorized, ErrMissingIdentityContext.Error())
	}
	return lc, nil
}

// httpError maps service errors onto HTTP statuses.
func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrMissingIdentityContext):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrIdentityUnresolved):
		return echo.NewHTTPError(http.StatusFailedDependency, err.Error()).SetInternal(err)
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadGateway, ve.Error()).SetInternal(err)
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "export timed out").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
