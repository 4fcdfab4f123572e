package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fieldsync/internal/api"
	"fieldsync/internal/collector"
	"fieldsync/internal/config"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/submit"
)

const maxReportBytes = 1 << 20

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}
	if _, _, err := net.SplitHostPort(bind); err != nil {
		return nil, fmt.Errorf("paths.api_bind %q: %w", bind, err)
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/reports", srv.handleReports)
	mux.HandleFunc("/api/reports/", srv.handleReportItem)
	mux.HandleFunc("/api/sync", srv.handleSync)
	mux.HandleFunc("/api/dead-letters", srv.handleDeadLetters)
	mux.HandleFunc("/api/dead-letters/", srv.handleDeadLetterItem)
	if reg := d.Metrics(); reg != nil {
		mux.Handle("/metrics", reg.Handler())
	}

	srv.handler = otelhttp.NewHandler(
		correlationMiddleware(authMiddleware(cfg.Paths.APIToken, mux)),
		"fieldsync-api",
	)
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// POST /api/sync holds the response until the pass settles.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening",
		logging.Event("api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleReports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		reports, err := s.daemon.ListReports(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		withPayload := r.URL.Query().Get("payload") == "1" || strings.EqualFold(r.URL.Query().Get("payload"), "true")
		s.writeJSON(w, http.StatusOK, api.ReportListResponse{Reports: api.FromReports(reports, withPayload)})
	case http.MethodPost:
		s.handleSubmit(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "report exceeds 1 MiB")
		return
	}
	receipt, err := s.daemon.Submit(r.Context(), json.RawMessage(body))
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrInvalidPayload):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case collector.IsPermanent(err):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, queue.ErrStorageUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if receipt.Outcome == submit.OutcomeQueued {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, api.FromReceipt(receipt))
}

func (s *apiServer) handleReportItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := s.parseID(w, strings.TrimPrefix(r.URL.Path, "/api/reports/"), "report")
	if !ok {
		return
	}
	if err := s.daemon.RemoveReport(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "report not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSync acknowledges only after the pass has settled.
func (s *apiServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	// The pass settles even if the caller hangs up before the acknowledgement.
	result, err := s.daemon.BackgroundSync(context.WithoutCancel(r.Context()))
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, api.FromResult(result, err))
}

func (s *apiServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	letters, err := s.daemon.ListDeadLetters(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	withPayload := r.URL.Query().Get("payload") == "1" || strings.EqualFold(r.URL.Query().Get("payload"), "true")
	s.writeJSON(w, http.StatusOK, api.DeadLetterListResponse{DeadLetters: api.FromDeadLetters(letters, withPayload)})
}

func (s *apiServer) handleDeadLetterItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/dead-letters/")
	idStr, action, _ := strings.Cut(rest, "/")
	if action != "requeue" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := s.parseID(w, idStr, "dead letter")
	if !ok {
		return
	}
	report, err := s.daemon.RequeueDeadLetter(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "dead letter not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.RequeueResponse{Report: api.FromReport(report, false)})
}

func (s *apiServer) parseID(w http.ResponseWriter, raw, what string) (int64, bool) {
	if raw == "" || strings.Contains(raw, "/") {
		s.writeError(w, http.StatusNotFound, what+" not found")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid "+what+" id")
		return 0, false
	}
	return id, true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
