// Package api exposes the transcription queue, model management and
// diagnostics over HTTP, plus a websocket stream of job events.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/chaz8081/meetscribe/internal/diagnostics"
	"github.com/chaz8081/meetscribe/internal/jobs"
	"github.com/chaz8081/meetscribe/internal/transcribe"
)

// Deps are the components the handlers drive.
type Deps struct {
	Queue      *jobs.Queue
	Events     *jobs.EventBus
	Manager    *transcribe.Manager
	Bench      *diagnostics.Bench
	Stats      diagnostics.StatsSource
	UploadsDir string
	Language   string
}

// Server routes API requests.
type Server struct {
	deps     Deps
	router   *mux.Router
	upgrader websocket.Upgrader

	// background downloads outlive the request that started them
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	downloading map[string]bool
}

// New builds a Server and registers its routes.
func New(deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:        deps,
		router:      mux.NewRouter(),
		ctx:         ctx,
		cancel:      cancel,
		downloading: make(map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/transcriptions", s.handleCreateTranscription).Methods(http.MethodPost)
	api.HandleFunc("/transcriptions", s.handleListTranscriptions).Methods(http.MethodGet)
	api.HandleFunc("/transcriptions/{id}", s.handleGetTranscription).Methods(http.MethodGet)
	api.HandleFunc("/uploads", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/models", s.handleListModels).Methods(http.MethodGet)
	api.HandleFunc("/models/active", s.handleSwitchModel).Methods(http.MethodPut)
	api.HandleFunc("/models/load", s.handleLoadModel).Methods(http.MethodPost)
	api.HandleFunc("/models/{id}/download", s.handleDownloadModel).Methods(http.MethodPost)
	api.HandleFunc("/models/{id}", s.handleDeleteModel).Methods(http.MethodDelete)
	api.HandleFunc("/device", s.handleDevice).Methods(http.MethodGet)
	api.HandleFunc("/benchmark", s.handleBenchmark).Methods(http.MethodPost)
	s.router.HandleFunc("/ws/jobs", s.handleJobEvents)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and waits for background downloads to stop.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close cancels background downloads and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}
