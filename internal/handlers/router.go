package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ruralpay/wallet-ledger/internal/logger"
	mW "github.com/ruralpay/wallet-ledger/internal/middleware"
	"github.com/ruralpay/wallet-ledger/internal/services"
)

// RouterConfig wires the services into the HTTP surface.
type RouterConfig struct {
	Accounts       *services.AccountService
	Ledger         *services.LedgerService
	Query          *services.QueryService
	Tokens         *services.TokenService
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter builds the /api/v1 router.
func NewRouter(cfg RouterConfig) http.Handler {
	authHandler := NewAuthHandler(cfg.Accounts, cfg.Tokens)
	walletHandler := NewWalletHandler(cfg.Ledger, cfg.Query)
	adminHandler := NewAdminHandler(cfg.Accounts, cfg.Ledger, cfg.Query)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{Logger: logger.Logger(), NoColor: true}))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	health := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
	r.Get("/health", health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health)

		// Public endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		// Authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.Authenticate(cfg.Tokens))

			r.Get("/accounts/me", authHandler.Me)

			r.Route("/wallet", func(r chi.Router) {
				r.Get("/balance", walletHandler.Balance)
				r.Post("/credit", walletHandler.Credit)
				r.Post("/debit", walletHandler.Debit)
				r.Post("/wager", walletHandler.Wager)
				r.Post("/payout", walletHandler.Payout)
				r.Get("/transactions", walletHandler.Transactions)
				r.Get("/transactions/{id}", walletHandler.Transaction)
				r.Get("/stats", walletHandler.Stats)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Get("/accounts/{id}", adminHandler.GetAccount)
				r.Put("/accounts/{id}/status", adminHandler.SetStatus)
				r.Get("/accounts/{id}/balance", adminHandler.Balance)
				r.Post("/accounts/{id}/credit", adminHandler.Credit)
				r.Post("/accounts/{id}/debit", adminHandler.Debit)
				r.Post("/accounts/{id}/bonus", adminHandler.Bonus)
				r.Post("/accounts/{id}/refund", adminHandler.Refund)
				r.Get("/transactions", adminHandler.Transactions)
				r.Get("/stats", adminHandler.Stats)
			})
		})
	})

	return r
}
