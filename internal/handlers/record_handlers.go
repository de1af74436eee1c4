package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/libris/libris/internal/middleware"
	"github.com/libris/libris/internal/models"
	"github.com/libris/libris/internal/service"
	"github.com/sirupsen/logrus"
)

// RecordHandlers exposes CRUD and CSV export for one entity type.
type RecordHandlers[T any, P models.RecordPtr[T]] struct {
	service *service.RecordService[T, P]
	logger  *logrus.Logger
}

func NewRecordHandlers[T any, P models.RecordPtr[T]](svc *service.RecordService[T, P], logger *logrus.Logger) *RecordHandlers[T, P] {
	return &RecordHandlers[T, P]{service: svc, logger: logger}
}

// Mount registers the collection and item routes of the entity under r.
// gate wraps the mutating routes and the export.
func (h *RecordHandlers[T, P]) Mount(r *mux.Router, gate func(http.Handler) http.Handler) {
	r.HandleFunc("", h.List).Methods("GET")
	r.Handle("", gate(http.HandlerFunc(h.Create))).Methods("POST")
	r.Handle("/export", gate(http.HandlerFunc(h.Export))).Methods("GET")
	r.HandleFunc("/{id}", h.Get).Methods("GET")
	r.Handle("/{id}", gate(http.HandlerFunc(h.Update))).Methods("PUT")
	r.Handle("/{id}", gate(http.HandlerFunc(h.Delete))).Methods("DELETE")
}

func (h *RecordHandlers[T, P]) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.List(r.Context())
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, records)
}

func (h *RecordHandlers[T, P]) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

func (h *RecordHandlers[T, P]) Create(w http.ResponseWriter, r *http.Request) {
	rec := P(new(T))
	if err := decodeJSON(r, rec); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if err := h.service.Create(r.Context(), rec); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, rec)
}

func (h *RecordHandlers[T, P]) Update(w http.ResponseWriter, r *http.Request) {
	rec := P(new(T))
	if err := decodeJSON(r, rec); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if err := h.service.Update(r.Context(), mux.Vars(r)["id"], rec); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

func (h *RecordHandlers[T, P]) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RecordHandlers[T, P]) Export(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("%s-%s.csv", strings.ToLower(h.service.EntityType()), time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	n, err := h.service.Export(r.Context(), w)
	if err != nil {
		// Headers may already be sent; the truncated body is all we can do.
		h.logger.WithError(err).WithField("entity", h.service.EntityType()).Error("CSV export failed")
		return
	}
	h.logger.WithFields(logrus.Fields{"entity": h.service.EntityType(), "rows": n}).Info("CSV exported")
}
