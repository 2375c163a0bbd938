package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/avolkov/chatka/internal/config"
	"github.com/avolkov/chatka/internal/database"
	"github.com/avolkov/chatka/internal/server"
	"github.com/avolkov/chatka/internal/upload"
	"github.com/gorilla/handlers"
)

type ChatkaApp struct {
	log            *log.Logger
	db             database.ChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	uploads        *upload.Store
	signingKey     []byte
	allowedOrigins []string
}

func NewChatkaApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, uploads *upload.Store, cfg *config.Config) *ChatkaApp {
	s := &ChatkaApp{
		log:            logger,
		db:             db,
		cs:             cs,
		uploads:        uploads,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /ping", s.ping)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/chats", s.authMiddleware(s.createGroupChat))
	mux.Handle("POST /api/chats/direct", s.authMiddleware(s.directChat))
	mux.Handle("GET /api/chats", s.authMiddleware(s.listChats))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/unread", s.authMiddleware(s.unreadCount))
	mux.Handle("PUT /api/account/push-token", s.authMiddleware(s.updatePushToken))
	mux.Handle("POST /api/upload", s.authMiddleware(s.uploadFile))
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploads.Dir()))))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ChatkaApp) Start() error {
	s.log.Printf("Starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatkaApp) Shutdown(ctx context.Context) error {
	s.log.Println("Shutting down server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.log.Println("Server shutdown complete")
	return nil
}

func (s *ChatkaApp) ping(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("Server working"))
}
