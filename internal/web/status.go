package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Phan-Trung-Thuan/esm/internal/config"
	"github.com/Phan-Trung-Thuan/esm/internal/extract"
)

// ProgressSource exposes a snapshot of the running extraction.
type ProgressSource interface {
	Stats() extract.Stats
}

// StatusServer serves run progress over HTTP so long extractions can be
// polled without tailing logs.
type StatusServer struct {
	logger *zap.Logger
	source ProgressSource
	model  string
	server *http.Server
}

// NewStatusServer builds the server; it does not start listening.
func NewStatusServer(cfg *config.StatusConfig, source ProgressSource, modelName string, logger *zap.Logger) *StatusServer {
	s := &StatusServer{
		logger: logger,
		source: source,
		model:  modelName,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/progress", s.handleProgress).Methods("GET")

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start begins serving in the calling goroutine.
func (s *StatusServer) Start() error {
	s.logger.Info("Starting status server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *StatusServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping status server")
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

func (s *StatusServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	stats := s.source.Stats()
	doc := struct {
		Model   string        `json:"model"`
		Stats   extract.Stats `json:"stats"`
		Elapsed string        `json:"elapsed"`
	}{
		Model: s.model,
		Stats: stats,
	}
	if !stats.StartTime.IsZero() {
		doc.Elapsed = time.Since(stats.StartTime).Round(time.Second).String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Warn("Failed to encode progress response", zap.Error(err))
	}
}
