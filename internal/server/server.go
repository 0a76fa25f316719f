package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/trailhead-tours/apiserver/config"
	"github.com/trailhead-tours/apiserver/internal/db"
	"github.com/trailhead-tours/apiserver/internal/events"
	"github.com/trailhead-tours/apiserver/internal/handlers"
	"github.com/trailhead-tours/apiserver/internal/mail"
	"github.com/trailhead-tours/apiserver/internal/middleware"
	"github.com/trailhead-tours/apiserver/internal/payment"
	"github.com/trailhead-tours/apiserver/internal/ratelimit"
	"github.com/trailhead-tours/apiserver/internal/services"
	"github.com/trailhead-tours/apiserver/internal/storage"
	"github.com/trailhead-tours/apiserver/internal/store"
	"github.com/trailhead-tours/apiserver/internal/token"
	"go.uber.org/zap"
)

const maxBodyBytes = 10 << 10 // 10kb JSON body cap

// Query keys that legitimately repeat as tour filter fields. Everything
// else is deduplicated to its last value.
var filterWhitelist = []string{
	"duration",
	"ratingsQuantity",
	"ratingsAverage",
	"maxGroupSize",
	"difficulty",
	"price",
}

// Server wraps the HTTP server, router and owned resources.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	bus        *events.Bus
	logger     *zap.SugaredLogger
}

// New constructs a Server with the full middleware pipeline and all
// routes. Construction fails on misconfiguration (missing JWT secret,
// unreachable database), never per request.
func New(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("JWT_SECRET is required: %w", err)
	}

	bus, err := events.FromConfig(ctx, cfg.Events, logger)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	media, err := storage.FromConfig(ctx, cfg.Media)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if media != nil {
		if err := media.EnsureBucket(ctx); err != nil {
			_ = dbConn.Close()
			return nil, err
		}
	}

	var mailer mail.Mailer
	if cfg.Env == "production" {
		mailer, err = mail.NewSMTPMailer(cfg.SMTP)
		if err != nil {
			_ = dbConn.Close()
			return nil, err
		}
	} else {
		mailer = mail.NewLogMailer(logger)
	}

	var checkout payment.CheckoutProvider
	if cfg.Stripe.SecretKey != "" {
		checkout, err = payment.NewStripeProvider(cfg.Stripe)
		if err != nil {
			_ = dbConn.Close()
			return nil, err
		}
	}

	userRepo := store.NewUserRepository(dbConn)
	tourRepo := store.NewTourRepository(dbConn)
	reviewRepo := store.NewReviewRepository(dbConn)
	bookingRepo := store.NewBookingRepository(dbConn)

	userService := services.NewUserService(userRepo, bus)
	tourService := services.NewTourService(tourRepo)
	reviewService := services.NewReviewService(reviewRepo)
	bookingService := services.NewBookingService(bookingRepo, bus)

	authHandler := handlers.NewAuthHandler(userService, issuer, mailer, cfg.JWT.CookieTTL, cfg.Env == "production")
	userHandler := handlers.NewUserHandler(userService, media)
	tourHandler := handlers.NewTourHandler(tourService, media)
	reviewHandler := handlers.NewReviewHandler(reviewService, tourService)
	bookingHandler := handlers.NewBookingHandler(bookingService, tourService, checkout)

	authMiddleware := handlers.RequireAuth(userService, issuer)
	limiter := ratelimit.New(cfg.RateLimit)

	router := chi.NewRouter()

	// Pipeline order is load-bearing: the limiter runs before any
	// expensive work, the body cap and sanitizer before handlers parse
	// the body, and the catch-all last.
	router.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.SecurityHeaders(),
	)
	if cfg.Env == "development" || cfg.Env == "dev" {
		router.Use(middleware.RequestLogger(logger))
	}
	router.Use(
		middleware.DedupeQueryParams(filterWhitelist...),
		middleware.RequestTime(),
		chimw.Timeout(60*time.Second),
	)

	router.Get("/healthz", handlers.Healthz)
	router.Handle("/public/*", http.StripPrefix("/public/", http.FileServer(http.Dir(cfg.StaticDir))))
	if media != nil {
		router.Get("/media/*", handlers.ServeMedia(media))
		logger.Infow("media storage ready", "backend", cfg.Media.Backend, "bucket", media.Bucket())
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(
			limiter.Middleware(),
			middleware.LimitJSONBody(maxBodyBytes),
			middleware.SanitizeJSON(),
		)
		r.Route("/v1/users", func(r chi.Router) {
			handlers.AuthRouter(r, authHandler)
			handlers.UserRouter(r, userHandler, authMiddleware)
		})
		r.Route("/v1/tours", func(r chi.Router) {
			handlers.TourRouter(r, tourHandler, authMiddleware)
		})
		r.Route("/v1/reviews", func(r chi.Router) {
			handlers.ReviewRouter(r, reviewHandler, authMiddleware)
		})
		r.Route("/v1/bookings", func(r chi.Router) {
			handlers.BookingRouter(r, bookingHandler, authMiddleware)
		})
	})

	router.NotFound(handlers.NotFoundHandler)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		bus:        bus,
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new connections, lets in-flight requests
// finish within the context deadline, then releases owned resources.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
