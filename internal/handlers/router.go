package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/libris/libris/internal/middleware"
	"github.com/libris/libris/internal/models"
	"github.com/libris/libris/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RouterDeps carries everything NewRouter wires into the HTTP surface.
type RouterDeps struct {
	Auth        *AuthHandlers
	Catalog     *service.Catalog
	Stats       *service.StatsService
	Middleware  *middleware.AuthMiddleware
	HTTPMetrics *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Logger      *logrus.Logger
}

func NewRouter(d RouterDeps) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(d.Logger))
	if d.HTTPMetrics != nil {
		router.Use(d.HTTPMetrics.Middleware)
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	if d.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	mw := d.Middleware

	profile := api.PathPrefix("/userprofile").Subrouter()
	profile.HandleFunc("/login", d.Auth.Login).Methods("POST", "OPTIONS")
	profile.HandleFunc("/otp-login", d.Auth.OTPLogin).Methods("POST", "OPTIONS")
	profile.HandleFunc("/refresh", d.Auth.RefreshToken).Methods("POST", "OPTIONS")
	profile.Handle("/check-login", mw.OptionalAuth(http.HandlerFunc(d.Auth.CheckLogin))).Methods("GET")
	profile.Handle("/otp-status", mw.RequireAuth(http.HandlerFunc(d.Auth.OTPStatus))).Methods("GET")
	profile.Handle("/info", mw.RequireAuth(http.HandlerFunc(d.Auth.Info))).Methods("GET")
	profile.Handle("/logout", mw.RequireAuth(http.HandlerFunc(d.Auth.Logout))).Methods("POST", "OPTIONS")
	profile.Handle("/register", mw.RequireAuth(mw.RequireSuperuser(mw.RequireOTP(http.HandlerFunc(d.Auth.Register))))).Methods("POST", "OPTIONS")

	protected := api.NewRoute().Subrouter()
	protected.Use(mw.RequireAuth)

	catalog := NewCatalogHandlers(d.Catalog, d.Stats, d.Logger)
	protected.HandleFunc("/stats", catalog.Stats).Methods("GET")
	protected.HandleFunc("/libraries/{id}/members", catalog.LibraryMembers).Methods("GET")
	protected.HandleFunc("/libraries/{id}/books", catalog.LibraryBooks).Methods("GET")

	NewRecordHandlers[models.Library](d.Catalog.Libraries, d.Logger).Mount(protected.PathPrefix("/libraries").Subrouter(), mw.RequireOTP)
	NewRecordHandlers[models.Genre](d.Catalog.Genres, d.Logger).Mount(protected.PathPrefix("/genres").Subrouter(), mw.RequireOTP)
	NewRecordHandlers[models.Book](d.Catalog.Books, d.Logger).Mount(protected.PathPrefix("/books").Subrouter(), mw.RequireOTP)
	NewRecordHandlers[models.Member](d.Catalog.Members, d.Logger).Mount(protected.PathPrefix("/members").Subrouter(), mw.RequireOTP)
	NewRecordHandlers[models.Loan](d.Catalog.Loans, d.Logger).Mount(protected.PathPrefix("/loans").Subrouter(), mw.RequireOTP)

	return router
}
