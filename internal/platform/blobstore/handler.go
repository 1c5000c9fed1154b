package blobstore

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ips-exporter/internal/platform/auth"
)

// listResponse is the JSON envelope returned by the list endpoint.
type listResponse struct {
	Items []*Object `json:"items"`
	Total int       `json:"total"`
}

// ArchiveHandler serves archived documents of the session's patient.
type ArchiveHandler struct {
	store Store
}

func NewArchiveHandler(store Store) *ArchiveHandler {
	return &ArchiveHandler{store: store}
}

// RegisterRoutes mounts the archive routes on g.
func (h *ArchiveHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/archive", h.handleList)
	g.GET("/archive/:id", h.handleGet)
}

func (h *ArchiveHandler) handleList(c echo.Context) error {
	lc, ok := auth.LaunchContextFromContext(c.Request().Context())
	if !ok || lc.PatientID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no launch session")
	}

	items, err := h.store.List(c.Request().Context(), PatientPrefix(lc.PatientID))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "listing archive").SetInternal(err)
	}
	return c.JSON(http.StatusOK, listResponse{Items: items, Total: len(items)})
}

func (h *ArchiveHandler) handleGet(c echo.Context) error {
	lc, ok := auth.LaunchContextFromContext(c.Request().Context())
	if !ok || lc.PatientID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no launch session")
	}

	id := strings.TrimSuffix(c.Param("id"), ".json")
	if id == "" || id != path.Base(id) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}

	obj, data, err := h.store.Get(c.Request().Context(), DocumentKey(lc.PatientID, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Bundle/"+id+" not archived")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "reading archive").SetInternal(err)
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/fhir+json"
	}
	return c.Blob(http.StatusOK, contentType, data)
}
