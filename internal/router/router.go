package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	accthandler "github.com/barberhub/totem-api/internal/accounting/handler"
	"github.com/barberhub/totem-api/internal/auth"
	"github.com/barberhub/totem-api/internal/config"
	"github.com/barberhub/totem-api/internal/handler"
	mw "github.com/barberhub/totem-api/internal/middleware"
	"github.com/barberhub/totem-api/internal/metrics"
	"github.com/barberhub/totem-api/internal/ws"
)

// Services bundles what the HTTP layer calls into.
type Services struct {
	Checkout handler.CheckoutServicer
	Terminal handler.TerminalServicer
	Ledger   accthandler.LedgerServicer
	Hub      *ws.Hub
}

// New creates a Chi router with all application routes wired up.
// Kiosk and terminal routes are open to the totem; bridge callbacks carry a
// signed token; ledger routes require a dashboard manager.
func New(cfg *config.Config, svc Services, logger logrus.FieldLogger) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-Info", "apikey", mw.BridgeTokenHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/dashboard", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(svc.Hub, cfg.DashboardJWTSecret, w, r)
	})

	// Kiosk checkout
	checkoutHandler := handler.NewCheckoutHandler(svc.Checkout, logger)
	checkoutHandler.RegisterRoutes(r)

	// Payment terminal
	terminalHandler := handler.NewTerminalHandler(svc.Terminal, cfg.BridgeJWTSecret, logger)
	r.Route("/terminal", terminalHandler.RegisterRoutes)

	// Ledger routes (dashboard managers)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.DashboardJWTSecret))
		r.Use(mw.RequireRole(auth.RoleAdmin, auth.RoleManager))

		ledgerHandler := accthandler.NewLedgerHandler(svc.Ledger, logger)
		ledgerHandler.RegisterRoutes(r)
	})

	logger.WithField("module", "router").Info("router initialized with all handlers")
	return r
}
