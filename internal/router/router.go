package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/velora-atelier/api/internal/enum"
	"github.com/velora-atelier/api/internal/handler"
	"github.com/velora-atelier/api/internal/middleware"
	"github.com/velora-atelier/api/internal/ws"
)

// Deps carries everything the router wires together.
type Deps struct {
	JWTSecret    string
	CORSOrigins  []string
	Auth         *handler.AuthHandler
	Products     *handler.ProductHandler
	CustomOrders *handler.CustomOrderHandler
	Orders       *handler.OrderHandler
	Hub          *ws.Hub
}

// New builds the HTTP routing tree. Staff routes sit behind a role check;
// catalog reads and auth are public.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.Hub != nil {
		r.Get("/ws/orders", func(w http.ResponseWriter, req *http.Request) {
			ws.ServeWS(deps.Hub, deps.JWTSecret, w, req)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", deps.Auth.RegisterRoutes)

		// Catalog reads are public.
		r.Route("/products", func(r chi.Router) {
			deps.Products.RegisterRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(deps.JWTSecret))
				r.Use(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleDesigner))
				deps.Products.RegisterStaffRoutes(r)
			})
		})

		r.Route("/custom-orders", func(r chi.Router) {
			r.Use(middleware.Authenticate(deps.JWTSecret))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleDesigner))
				deps.CustomOrders.RegisterStaffRoutes(r)
			})
			deps.CustomOrders.RegisterRoutes(r)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(middleware.Authenticate(deps.JWTSecret))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleDesigner))
				deps.Orders.RegisterStaffRoutes(r)
			})
			deps.Orders.RegisterRoutes(r)
		})
	})

	return r
}
