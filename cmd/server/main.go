package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/thaingo/dre/internal/logger"
	"github.com/thaingo/dre/rulebook"
)

// Server is the rule and rulebook management API. It owns no entity
// state itself; all state lives behind the Store and every request is
// one unit of work against it.
type Server struct {
	store  rulebook.Store
	router *chi.Mux
}

// NewServer creates a server over the given store.
func NewServer(store rulebook.Store) *Server {
	s := &Server{store: store}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Post("/validate-when", s.handleValidateWhen)

	r.Route("/rules", func(r chi.Router) {
		r.Post("/", s.handleCreateRule)
		r.Get("/", s.handleListRules)
		r.Get("/{rule-id}", s.handleRetrieveRule)
		r.Put("/{rule-id}", s.handleUpdateRule)
		r.Delete("/{rule-id}", s.handleDeleteRule)
	})

	r.Route("/rulebooks", func(r chi.Router) {
		r.Post("/", s.handleCreateRulebook)
		r.Get("/", s.handleListRulebooks)
		r.Get("/{rulebook-id}", s.handleRetrieveRulebook)
		r.Put("/{rulebook-id}", s.handleUpdateRulebook)
		r.Delete("/{rulebook-id}", s.handleDeleteRulebook)
		r.Get("/{rulebook-id}/rules", s.handleRulebookRules)
		r.Put("/{rulebook-id}/rules/{rule-id}", s.handleAddRuleToRulebook)
		r.Delete("/{rulebook-id}/rules/{rule-id}", s.handleRemoveRuleFromRulebook)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := openDatabase(databaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	server := NewServer(rulebook.NewPostgresStore(db))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
