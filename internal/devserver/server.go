// Package devserver is an in-memory chat backend speaking the same REST and
// realtime contracts as the production server. It backs local development
// and end to end tests of the client packages.
package devserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/adi-253/dmsync/internal/devserver/handlers"
	"github.com/adi-253/dmsync/internal/devserver/services"
	"github.com/adi-253/dmsync/internal/devserver/websocket"
)

// Options configures a Server.
type Options struct {
	CORSOrigins      []string
	TokenIdleTimeout time.Duration
	CleanupInterval  time.Duration

	// RequestLog enables chi's request logger
	RequestLog bool
}

// Server wires the services, the websocket hub and the HTTP routes.
type Server struct {
	Users    *services.UserService
	Chats    *services.ChatService
	Messages *services.MessageService
	Hub      *websocket.Hub
	Cleanup  *services.CleanupService

	chatHandler *handlers.ChatHandler
	router      chi.Router
}

func New(opts Options) *Server {
	if opts.TokenIdleTimeout <= 0 {
		opts.TokenIdleTimeout = 24 * time.Hour
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}

	users := services.NewUserService()
	messages := services.NewMessageService()
	chats := services.NewChatService(users, messages)
	hub := websocket.NewHub(chats, messages)

	s := &Server{
		Users:    users,
		Chats:    chats,
		Messages: messages,
		Hub:      hub,
		Cleanup:  services.NewCleanupService(users, opts.CleanupInterval, opts.TokenIdleTimeout),
	}

	authHandler := handlers.NewAuthHandler(users)
	s.chatHandler = handlers.NewChatHandler(chats, messages, users)
	wsHandler := websocket.NewHandler(hub, users)

	r := chi.NewRouter()

	// Middleware stack
	if opts.RequestLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", handlers.HealthCheck)
	r.Get("/ws", wsHandler.ServeWS)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(authHandler.RequireUser)
		r.Get("/users", s.chatHandler.ListUsers)
		r.Route("/chats", func(r chi.Router) {
			r.Get("/", s.chatHandler.ListChats)
			r.Post("/start", s.chatHandler.StartChat)
			r.Get("/{id}/messages", s.chatHandler.GetMessages)
			r.Post("/{id}/passkey", s.chatHandler.SetPassKey)
			r.Post("/{id}/notify", s.chatHandler.Notify)
		})
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Notifications returns the notify requests received so far.
func (s *Server) Notifications() []handlers.Notification {
	return s.chatHandler.Notifications()
}

// Run runs the hub and the token cleanup until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Hub.Run(ctx) })
	g.Go(func() error { return s.Cleanup.Run(ctx) })
	return g.Wait()
}
