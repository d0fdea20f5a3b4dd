package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gitea.jw6.us/james/dialer/internal/calllog"
	"gitea.jw6.us/james/dialer/internal/calls"
	"gitea.jw6.us/james/dialer/internal/contacts"
	"gitea.jw6.us/james/dialer/internal/http/ratelimit"
	"gitea.jw6.us/james/dialer/internal/metrics"
	"gitea.jw6.us/james/dialer/internal/store"
)

// CallController is the aggregated call state plus the user actions on it.
type CallController interface {
	State() calls.State
	Subscribe() (<-chan calls.State, func())
	Answer()
	Hangup(id string)
	ToggleMute()
	ToggleSpeaker()
	ToggleHold()
	SetAudioRoute(route calls.AudioRoute)
	Dial(number string, simSlot int)
}

// CallLog lists grouped call history.
type CallLog interface {
	List(ctx context.Context, filter string, limit int) ([]calllog.Row, error)
}

// Directory is the address book and blocked number list.
type Directory interface {
	List(ctx context.Context, filter string) ([]contacts.Contact, error)
	Import(ctx context.Context, vcf string) (int, error)
	VCard(ctx context.Context, id int64) (string, error)
	SetStarred(ctx context.Context, id int64, starred bool) error
	Delete(ctx context.Context, id int64) error
	Lookup(ctx context.Context, number string) (contacts.Match, error)
	Block(ctx context.Context, number string) (string, error)
	Unblock(ctx context.Context, number string) error
	Blocked(ctx context.Context) ([]store.BlockedNumber, error)
}

// Authenticator guards the API and mints device tokens.
type Authenticator interface {
	RequireToken(next http.Handler) http.Handler
	HandleToken(w http.ResponseWriter, r *http.Request)
}

// HealthChecker reports database readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options are the router's tunables.
type Options struct {
	PrometheusEnabled bool
	TrustedProxies    []string
	// Heartbeat is the interval of keep-alive comments on event streams.
	Heartbeat time.Duration
}

// Deps are the services the routes delegate to.
type Deps struct {
	Health    HealthChecker
	Auth      Authenticator
	Calls     CallController
	CallLog   CallLog
	Directory Directory
	Logger    *zap.Logger
}

// Server is the HTTP API. Close releases the rate limiters.
type Server struct {
	http.Handler
	limiters []*ratelimit.IPRateLimiter
}

func (s *Server) Close() {
	for _, l := range s.limiters {
		l.Close()
	}
}

type api struct {
	Deps
	heartbeat time.Duration
	names     callerNames
}

// NewRouter wires all HTTP routes.
func NewRouter(opts Options, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 25 * time.Second
	}
	a := &api{Deps: deps, heartbeat: opts.Heartbeat}

	// Token endpoint: 5 requests per second, burst of 10
	authRateLimiter := ratelimit.NewIPRateLimiter("auth", rate.Limit(5), 10, 5*time.Minute, opts.TrustedProxies)
	// API: 20 requests per second, burst of 50
	apiRateLimiter := ratelimit.NewIPRateLimiter("api", rate.Limit(20), 50, 5*time.Minute, opts.TrustedProxies)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Health.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if opts.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.With(authRateLimiter.Middleware()).Post("/auth/token", deps.Auth.HandleToken)

	r.Route("/api", func(r chi.Router) {
		r.Use(apiRateLimiter.Middleware())
		r.Use(deps.Auth.RequireToken)

		r.Get("/call", a.getCall)
		r.Get("/call/events", a.callEvents)
		r.Post("/call/answer", a.action(func(c CallController, _ *http.Request) { c.Answer() }))
		r.Post("/call/mute", a.action(func(c CallController, _ *http.Request) { c.ToggleMute() }))
		r.Post("/call/speaker", a.action(func(c CallController, _ *http.Request) { c.ToggleSpeaker() }))
		r.Post("/call/hold", a.action(func(c CallController, _ *http.Request) { c.ToggleHold() }))
		r.Post("/call/hangup/{id}", a.action(func(c CallController, r *http.Request) { c.Hangup(chi.URLParam(r, "id")) }))
		r.Post("/call/dial", a.dial)
		r.Put("/call/route", a.setRoute)

		r.Get("/calllog", a.listCallLog)

		r.Get("/contacts", a.listContacts)
		r.Post("/contacts/import", a.importContacts)
		r.Get("/contacts/lookup", a.lookup)
		r.Get("/contacts/{id}/vcard", a.contactVCard)
		r.Put("/contacts/{id}/starred", a.setStarred)
		r.Delete("/contacts/{id}", a.deleteContact)

		r.Get("/blocked", a.listBlocked)
		r.Post("/blocked", a.block)
		r.Delete("/blocked/{number}", a.unblock)
	})

	return &Server{Handler: r, limiters: []*ratelimit.IPRateLimiter{authRateLimiter, apiRateLimiter}}
}
