// Package distributor is the public delivery surface. It resolves a deploy
// key to an active deployment and splits on the caller: browsers get a
// landing page, everything else is redirected to the object store and
// counted.
package distributor

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"luadrop/pkg/db"
	"luadrop/pkg/deploykey"
	"luadrop/pkg/render"
	"luadrop/pkg/useragent"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "luadrop_distributor_requests_total",
	Help: "Distribution requests by outcome.",
}, []string{"outcome"})

// PublicURLer derives the externally reachable URL for a storage path.
// *blob.Client satisfies it.
type PublicURLer interface {
	PublicURL(key string) string
}

// Proxy handles public deploy-key requests.
type Proxy struct {
	resolver Resolver
	usage    UsageRecorder
	blob     PublicURLer
	pages    *render.Engine
	pool     *pgxpool.Pool
	baseURL  string
	log      zerolog.Logger
}

// New wires a Proxy. pool backs the readiness check and may be nil in tests.
// baseURL overrides the script URL shown on the landing page; when empty it
// is derived from the incoming request.
func New(resolver Resolver, usage UsageRecorder, blob PublicURLer, pages *render.Engine, pool *pgxpool.Pool, baseURL string, log zerolog.Logger) (*Proxy, error) {
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if usage == nil {
		return nil, errors.New("usage recorder is required")
	}
	if blob == nil {
		return nil, errors.New("blob client is required")
	}
	if pages == nil {
		return nil, errors.New("render engine is required")
	}
	return &Proxy{
		resolver: resolver,
		usage:    usage,
		blob:     blob,
		pages:    pages,
		pool:     pool,
		baseURL:  baseURL,
		log:      log,
	}, nil
}

// Routes constructs the public router.
func (p *Proxy) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if p.pool != nil {
			if err := db.Ping(req.Context(), p.pool); err != nil {
				p.log.Error().Err(err).Msg("readiness ping failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Get("/{deployKey}", p.handleServe)
	return r
}

func (p *Proxy) handleServe(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "deployKey")
	if !deploykey.Valid(key) {
		requestsTotal.WithLabelValues("not_found").Inc()
		p.notFound(w)
		return
	}

	entry, err := p.resolver.Resolve(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			requestsTotal.WithLabelValues("not_found").Inc()
			p.notFound(w)
			return
		}
		p.log.Error().Err(err).Str("deploy_key", key).Msg("resolve failed")
		requestsTotal.WithLabelValues("error").Inc()
		http.Error(w, "temporarily unavailable", http.StatusBadGateway)
		return
	}

	if useragent.IsBrowser(r.UserAgent()) {
		page, err := p.pages.Render("landing.tmpl", map[string]string{
			"Title":     entry.Title,
			"ScriptURL": p.scriptURL(r, key),
		})
		if err != nil {
			p.log.Error().Err(err).Msg("render landing page")
			requestsTotal.WithLabelValues("error").Inc()
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		requestsTotal.WithLabelValues("landing").Inc()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = io.WriteString(w, page)
		return
	}

	// Only executor fetches count toward usage.
	p.usage.Record(entry.DeploymentID, key)
	requestsTotal.WithLabelValues("redirect").Inc()
	http.Redirect(w, r, p.blob.PublicURL(entry.StoragePath), http.StatusFound)
}

// notFound answers identically for malformed, unknown, and inactive keys so
// the public surface never confirms that a key exists.
func (p *Proxy) notFound(w http.ResponseWriter) {
	http.Error(w, "not found", http.StatusNotFound)
}

func (p *Proxy) scriptURL(r *http.Request, key string) string {
	if p.baseURL != "" {
		return p.baseURL + "/" + key
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	// Forwarded proto is attacker-controlled on the public surface; accept
	// only the two values a proxy legitimately sets.
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host + "/" + key
}
