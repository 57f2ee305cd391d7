package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gamerent/pkg/idempotency"
	"gamerent/pkg/render"
	"gamerent/services/ledger"
	"gamerent/services/notifier"
	"gamerent/services/rentals"
)

// Analytics serves the reporting endpoints. *rentals.Analytics satisfies it.
type Analytics interface {
	GameSessionStats(ctx context.Context) ([]rentals.GameStats, error)
	Totals(ctx context.Context) (rentals.Totals, error)
}

// Exporter uploads the payment ledger. *ledger.Exporter satisfies it.
type Exporter interface {
	Export(ctx context.Context) (ledger.Result, error)
}

// Notifications serves a user's notifications. *notifier.Notifier satisfies it.
type Notifications interface {
	List(ctx context.Context, userID string, unreadOnly bool) ([]notifier.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// Options wires the API. Rentals and Renderer are required; the rest switch features on.
type Options struct {
	Rentals        *rentals.Service
	Renderer       *render.Engine
	Notifications  Notifications
	Analytics      Analytics
	Exporter       Exporter
	Idempotency    idempotency.Store
	Metrics        *Metrics
	Logger         zerolog.Logger
	Ready          func(ctx context.Context) error
	AllowedOrigins []string
	RateLimit      int
	Currency       string
}

// API holds the dependencies of the HTTP handlers.
type API struct {
	svc       *rentals.Service
	renderer  *render.Engine
	notes     Notifications
	analytics Analytics
	exporter  Exporter
	idem      idempotency.Store
	metrics   *Metrics
	logger    zerolog.Logger
	ready     func(ctx context.Context) error
	validate  *validator.Validate
	origins   []string
	rateLimit int
	currency  string
}

// New validates opts and builds the API.
func New(opts Options) (*API, error) {
	if opts.Rentals == nil {
		return nil, errors.New("rentals service is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 300
	}
	if strings.TrimSpace(opts.Currency) == "" {
		opts.Currency = "LKR"
	}

	return &API{
		svc:       opts.Rentals,
		renderer:  opts.Renderer,
		notes:     opts.Notifications,
		analytics: opts.Analytics,
		exporter:  opts.Exporter,
		idem:      opts.Idempotency,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		ready:     opts.Ready,
		validate:  newValidator(),
		origins:   opts.AllowedOrigins,
		rateLimit: opts.RateLimit,
		currency:  opts.Currency,
	}, nil
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	allowed := a.origins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.withLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(a.rateLimit, time.Minute))

		r.Route("/Rentals", func(r chi.Router) {
			r.Post("/createRental", a.handleCreateRental)
			r.With(a.idempotent).Post("/purchase", a.handlePurchase)
			r.Get("/getAllRentals", a.handleListRentals)
			r.Get("/getRental/{id}", a.handleGetRental)
			r.Get("/getRentalsByUser/{userId}", a.handleRentalsByUser)
			r.Get("/getRentalsByGame/{gameId}", a.handleRentalsByGame)
			r.Get("/getLatestRental/{userId}/{gameId}", a.handleLatestRental)
			r.Get("/checkExistingRental/{userId}/{gameId}", a.handleCheckExisting)
			r.Put("/updateRental/{id}", a.handleUpdateRental)
			r.Put("/updateRentalTime/{id}", a.handleUpdateRentalTime)
			r.With(a.idempotent).Put("/extendRentalTime/{userId}/{gameId}", a.handleExtend)
			r.Put("/closeRental/{id}", a.handleCloseRental)
			r.Delete("/deleteRentalByID/{id}", a.handleDeleteRental)

			r.Get("/session/{id}", a.handleSessionState)
			r.Post("/session/{id}/start", a.handleSessionStart)
			r.Post("/session/{id}/stop", a.handleSessionStop)
		})

		r.Route("/rentalPayments", func(r chi.Router) {
			r.Get("/", a.handleListPayments)
			r.With(a.idempotent).Post("/create", a.handleCreatePayment)
			r.Get("/export", a.handleExportPayments)
			r.Get("/{paymentId}", a.handleGetPayment)
			r.Get("/{paymentId}/receipt", a.handleReceipt)
			r.Delete("/{paymentId}", a.handleDeletePayment)
		})

		r.Route("/rentalDurations", func(r chi.Router) {
			r.Get("/game/{gameId}", a.handleListDurations)
			r.Put("/game/{gameId}", a.handleUpsertDuration)
			r.Delete("/{id}", a.handleDeleteDuration)
		})

		r.Get("/analytics/sessions", a.handleSessionAnalytics)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/user/{userId}", a.handleListNotifications)
			r.Put("/user/{userId}/read", a.handleMarkAllRead)
			r.Put("/{id}/read", a.handleMarkRead)
		})
	})

	return r, nil
}

// withLogger puts the API logger, tagged with the request id, on the request context so that
// log.Ctx works in handlers and the service layer.
func (a *API) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := a.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		if err := a.ready(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("readiness check failed")
			respondError(w, http.StatusServiceUnavailable, codeServer, "not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
