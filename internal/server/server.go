package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"shoutmap/internal/config"
	"shoutmap/internal/domain/chat"
	"shoutmap/internal/domain/geo"
	"shoutmap/internal/domain/megaphone"
	"shoutmap/internal/domain/profile"
	"shoutmap/internal/domain/shout"
	"shoutmap/internal/domain/social"
	"shoutmap/internal/realtime"
	"shoutmap/internal/server/handlers"
	geoservice "shoutmap/internal/service/geo"
	"shoutmap/internal/service/ratelimit"
	"shoutmap/internal/service/session"
)

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Profiles   profile.Store
	Social     social.Store
	Megaphones megaphone.Store
	Shouts     shout.Store
	Chat       chat.Store

	Geo      *geoservice.Service
	Geocoder geo.Geocoder

	Sessions    *session.Manager
	Registry    *realtime.Registry
	Broadcaster *realtime.Broadcaster
	Bus         realtime.Bus

	ShoutLimiter     *ratelimit.Limiter
	MegaphoneLimiter *ratelimit.Limiter
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	profileHandler := handlers.NewProfileHandler(deps.Profiles, deps.Geo)
	socialHandler := handlers.NewSocialHandler(deps.Social)
	megaphoneHandler := handlers.NewMegaphoneHandler(deps.Megaphones, deps.Profiles, deps.Geo, deps.MegaphoneLimiter)
	shoutHandler := handlers.NewShoutHandler(deps.Shouts, deps.Geo, deps.ShoutLimiter, cfg.Chat.MaxMessageLength)
	chatHandler := handlers.NewChatHandler(deps.Chat, deps.Social, deps.Megaphones, cfg.Chat.MaxMessageLength, cfg.Chat.PageSize)
	inboxHandler := handlers.NewInboxHandler(deps.Sessions)
	geoHandler := handlers.NewGeoHandler(deps.Geocoder)
	previewHandler := handlers.NewPreviewHandler(deps.Megaphones, deps.Shouts, cfg.Server.AppBaseURL)
	gateway := handlers.NewGatewayHandler(deps.Sessions, deps.Registry, deps.Broadcaster, deps.Bus, deps.Chat, deps.Social, deps.Megaphones, deps.Geo, cfg.Chat.MaxMessageLength, handlers.DefaultWebSocketConfig())

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			// Profiles API
			r.Route("/profiles", func(r chi.Router) {
				r.Get("/nearby", profileHandler.GetNearbyProfiles)
				r.Get("/{id}", profileHandler.GetProfile)
				r.Put("/me", profileHandler.SaveProfile)
				r.Put("/me/location", profileHandler.SetLocation)
				r.Put("/me/active", profileHandler.SetActive)

				// Pairwise relationship actions
				r.Post("/{id}/ban", socialHandler.Ban)
				r.Delete("/{id}/ban", socialHandler.Unban)
				r.Post("/{id}/mute", socialHandler.Mute)
				r.Delete("/{id}/mute", socialHandler.Unmute)
				r.Post("/{id}/follow", socialHandler.Follow)
				r.Delete("/{id}/follow", socialHandler.Unfollow)
			})

			// Invitations API
			r.Route("/invitations", func(r chi.Router) {
				r.Get("/", socialHandler.PendingInvitations)
				r.Post("/", socialHandler.CreateInvitation)
				r.Put("/{id}", socialHandler.RespondToInvitation)
			})

			r.Get("/connections", socialHandler.Connections)

			// Megaphones API
			r.Route("/megaphones", func(r chi.Router) {
				r.Get("/nearby", megaphoneHandler.GetNearbyMegaphones)
				r.Get("/active", megaphoneHandler.ActiveMegaphones)
				r.Post("/", megaphoneHandler.CreateMegaphone)
				r.Get("/{id}", megaphoneHandler.GetMegaphone)
				r.Post("/{id}/join", megaphoneHandler.JoinMegaphone)
			})

			// Shouts API
			r.Route("/shouts", func(r chi.Router) {
				r.Get("/nearby", shoutHandler.GetNearbyShouts)
				r.Post("/", shoutHandler.CreateShout)
				r.Delete("/{id}", shoutHandler.DeleteShout)
			})

			// Conversations API
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/{id}/messages", chatHandler.Messages)
				r.Post("/{id}/messages", chatHandler.SendMessage)
				r.Post("/{id}/read", chatHandler.MarkRead)
			})
			r.Post("/messages/{messageID}/reactions", chatHandler.ToggleReaction)

			// Inbox API
			r.Route("/inbox", func(r chi.Router) {
				r.Get("/", inboxHandler.Feed)
				r.Put("/active", inboxHandler.SetActive)
			})

			// Geo API
			r.Route("/geo", func(r chi.Router) {
				r.Get("/search", geoHandler.Search)
				r.Get("/reverse", geoHandler.Reverse)
			})
		})
	})

	// Shareable edge endpoints, outside the versioned API
	router.Get("/preview/megaphones/{id}.svg", previewHandler.MegaphonePin)
	router.Get("/preview/shouts/{id}.svg", previewHandler.ShoutPin)
	router.Get("/share/megaphones/{id}", previewHandler.ShareMegaphone)

	// WebSocket endpoint for real-time communications
	router.Get("/ws", gateway.Serve)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
