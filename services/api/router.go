package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"luadrop/pkg/db"
)

const uploadURLExpiry = 15 * time.Minute

// Config controls runtime behaviour for the API handlers.
type Config struct {
	JWTSigningKey  string
	AllowedOrigins []string
}

// API wires dependencies and configuration for HTTP handlers.
type API struct {
	store     *Store
	config    Config
	log       zerolog.Logger
	quota     *QuotaGate
	lifecycle *Lifecycle
}

// New initialises the API layer.
func New(store *Store, cfg Config, log zerolog.Logger) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if store.Blob == nil {
		return nil, errors.New("store blob client is required")
	}
	if cfg.JWTSigningKey == "" {
		return nil, errors.New("JWT signing key is required")
	}

	repo := newGormRepo(store.ORM)
	quota := NewQuotaGate(repo, newGormPlans(store.ORM), log)

	return &API{
		store:     store,
		config:    cfg,
		log:       log,
		quota:     quota,
		lifecycle: NewLifecycle(repo, store.Blob, quota, store.Cache, log),
	}, nil
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))
	r.Use(httprate.Limit(300, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if a.store.Pool != nil {
			if err := db.Ping(req.Context(), a.store.Pool); err != nil {
				a.log.Error().Err(err).Msg("readiness ping failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireAuth([]byte(a.config.JWTSigningKey)))

		r.Post("/uploads", a.handleCreateUpload)
		r.Get("/stats", a.handleStats)

		r.Route("/deployments", func(r chi.Router) {
			r.Get("/", a.handleListDeployments)
			r.Post("/", a.handleCreateDeployment)
			r.Get("/{id}", a.handleGetDeployment)
			r.Put("/{id}", a.handleUpdateDeployment)
			r.Delete("/{id}", a.handleDeleteDeployment)
		})
	})

	return r, nil
}
