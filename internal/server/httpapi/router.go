// Package httpapi exposes the vaultsync server over JSON/HTTP: the SRP
// authentication rounds, token lifecycle, and the vault revision protocol.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/okulov/vaultsync/internal/logging"
	sc "github.com/okulov/vaultsync/internal/server/config"
	"github.com/okulov/vaultsync/internal/server/services"
)

type Server struct {
	users  *services.UserService
	vaults *services.VaultService
	config *sc.Config
	logger logging.Logger
}

func NewServer(users *services.UserService, vaults *services.VaultService, cfg *sc.Config, logger logging.Logger) *Server {
	return &Server{users: users, vaults: vaults, config: cfg, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// password guessing is already bounded by the account lockout; this
	// bounds handshake churn from a single address
	authLimiter := newMultiLimiter(rate.Every(time.Second), 10, 10*time.Minute)

	r.Route("/auth", func(r chi.Router) {
		r.Use(authLimiter.handler)

		r.Post("/register", s.handleRegister)
		r.Post("/login/initiate", s.handleLoginInitiate)
		r.Post("/login/finish", s.handleLoginFinish)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/revoke", s.handleRevoke)
		r.Post("/change-password/initiate", s.handleLoginInitiate)
		r.Post("/change-password", s.handleChangePassword)

		r.Group(func(r chi.Router) {
			r.Use(s.withBearerAuth)
			r.Post("/2fa/enable", s.handleEnableTwoFactor)
			r.Post("/2fa/disable", s.handleDisableTwoFactor)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.withBearerAuth)

		r.Get("/status", s.handleStatus)
		r.Get("/vault", s.handleGetVault)
		r.Post("/vault", s.handleUploadVault)
		// alias of /auth/change-password for clients that treat the
		// password change as a vault operation
		r.Post("/vault/change-password", s.handleChangePassword)
	})

	return r
}
