package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/docuflow-ai/docuflow/internal/api/handlers"
	appMiddleware "github.com/docuflow-ai/docuflow/internal/api/middlewares"
	"github.com/docuflow-ai/docuflow/internal/config"
	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/logging"
	"github.com/docuflow-ai/docuflow/internal/pipeline"
	"github.com/docuflow-ai/docuflow/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, db core.DbClient, obj core.ObjectClient, queue *pipeline.Queue, chat *services.ChatService, ring *logging.Ring, log *slog.Logger) *Server {
	authHandler := handlers.NewAuthHandler(db)
	docHandler := handlers.NewDocumentHandler(db, obj, queue, log)
	chatHandler := handlers.NewChatHandler(chat, log)
	opsHandler := handlers.NewOpsHandler(queue.Tracker(), ring)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware)

			protected.Post("/documents/upload", docHandler.UploadDocument)
			protected.Get("/documents", docHandler.ListDocuments)
			protected.Get("/documents/{id}", docHandler.GetDocument)
			protected.Delete("/documents/{id}", docHandler.DeleteDocument)
			protected.Post("/documents/{id}/reprocess", docHandler.Reprocess)
			protected.Post("/documents/{id}/embeddings", docHandler.Reembed)
			protected.Get("/documents/{id}/embeddings/stats", docHandler.EmbeddingStats)

			protected.Post("/chat", chatHandler.SendMessage)
			protected.Get("/chat", chatHandler.ListChats)
			protected.Get("/chat/{id}", chatHandler.GetChat)
			protected.Delete("/chat/{id}", chatHandler.DeleteChat)

			protected.Get("/jobs/{id}", opsHandler.GetJob)
			protected.Get("/logs/recent", opsHandler.RecentLogs)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Start serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info("shutting down http server")
	return s.httpServer.Shutdown(shutdownCtx)
}
