package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pizzacraft/api/internal/config"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/enum"
	"github.com/pizzacraft/api/internal/handler"
	mw "github.com/pizzacraft/api/internal/middleware"
	"github.com/pizzacraft/api/internal/ws"
	log "github.com/sirupsen/logrus"
)

// Credential endpoints allow this many attempts per client per window.
const (
	authBurst  = 10
	authWindow = 15 * time.Minute
)

// Deps are the services the HTTP layer is built on.
type Deps struct {
	Queries  *database.Queries
	Orders   handler.OrderServicer
	Payments handler.PaymentServicer
	Stock    handler.StockChecker
	Mail     handler.AccountMailer
	Hub      *ws.Hub
}

// New creates a Chi router with all application routes wired up.
// Applies authentication, rate limiting and role-based middleware as needed.
func New(cfg *config.Config, deps Deps) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(mw.Recoverer(!cfg.IsProduction()))
	handler.ExposeErrors(!cfg.IsProduction())

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	r.NotFound(mw.NotFound)
	r.MethodNotAllowed(mw.MethodNotAllowed)

	authenticate := mw.Authenticate(cfg.JWTSecret)
	admin := func(next http.Handler) http.Handler {
		return authenticate(mw.RequireRole(enum.UserRoleAdmin)(next))
	}

	// WebSocket routes (handle auth internally via query param)
	r.Get("/ws/admin", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeAdminWS(deps.Hub, cfg.JWTSecret, w, r)
	})
	r.Get("/ws/orders/{orderNumber}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeOrderWS(deps.Hub, w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":true,"message":"pong"}`)) //nolint:errcheck
		})

		authHandler := handler.NewAuthHandler(deps.Queries, deps.Mail, cfg.JWTSecret, cfg.JWTTTL)
		r.Route("/auth", func(r chi.Router) {
			authHandler.RegisterRoutes(r, mw.RateLimit(authBurst, authWindow), authenticate)
		})

		inventoryHandler := handler.NewInventoryHandler(deps.Queries, deps.Stock)
		r.Route("/inventory", func(r chi.Router) {
			inventoryHandler.RegisterRoutes(r, admin)
		})

		paymentHandler := handler.NewPaymentHandler(deps.Payments)
		r.Route("/payment", func(r chi.Router) {
			paymentHandler.RegisterRoutes(r, authenticate, mw.RequireRole(enum.UserRoleAdmin))
		})

		orderHandler := handler.NewOrderHandler(deps.Orders)
		r.Route("/orders", func(r chi.Router) {
			orderHandler.RegisterRoutes(r, authenticate)
		})
		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(admin)
			orderHandler.RegisterAdminRoutes(r)
		})
	})

	log.Info("router initialized")
	return r
}
