package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/libris/libris/internal/middleware"
	"github.com/libris/libris/internal/service"
	"github.com/sirupsen/logrus"
)

// CatalogHandlers serves the cross-entity views: per-library listings and stats.
type CatalogHandlers struct {
	catalog *service.Catalog
	stats   *service.StatsService
	logger  *logrus.Logger
}

func NewCatalogHandlers(catalog *service.Catalog, stats *service.StatsService, logger *logrus.Logger) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog, stats: stats, logger: logger}
}

func (h *CatalogHandlers) LibraryMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.catalog.LibraryMembers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, members)
}

func (h *CatalogHandlers) LibraryBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.LibraryBooks(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, books)
}

func (h *CatalogHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.Compute(r.Context())
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}
