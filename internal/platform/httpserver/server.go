package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	deadletterservice "centsible/contexts/deletion-consensus/dead-letter-service"
	dlqerrors "centsible/contexts/deletion-consensus/dead-letter-service/domain/errors"
	dlqhttp "centsible/contexts/deletion-consensus/dead-letter-service/transport/http"
	workflowtracker "centsible/contexts/deletion-consensus/workflow-tracker"
	trackererrors "centsible/contexts/deletion-consensus/workflow-tracker/domain/errors"
	trackerhttp "centsible/contexts/deletion-consensus/workflow-tracker/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "centsible/internal/platform/httpserver/docs"
)

type Server struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	addr        string
	tracker     workflowtracker.Module
	deadLetters deadletterservice.Module
}

func New(
	tracker workflowtracker.Module,
	deadLetters deadletterservice.Module,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:         http.NewServeMux(),
		logger:      logger,
		addr:        addr,
		tracker:     tracker,
		deadLetters: deadLetters,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("GET /workflows/{correlation_id}", s.handleGetWorkflowProgress)

	s.mux.HandleFunc("GET /ops/dead-letters", s.handleListDeadLetters)
	s.mux.HandleFunc("POST /ops/dead-letters/{entry_id}/reprocess", s.handleReprocessDeadLetter)
}

func (s *Server) handleGetWorkflowProgress(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlation_id")
	resp, err := s.tracker.Handler.GetProgressHandler(r.Context(), correlationID)
	if err != nil {
		writeTrackerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitRaw := r.URL.Query().Get("limit"); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil {
			writeDeadLetterError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = parsed
	}

	resp, err := s.deadLetters.Handler.ListEntriesHandler(r.Context(), limit)
	if err != nil {
		writeDeadLetterDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReprocessDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req dlqhttp.ReprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeDeadLetterError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	entryID := r.PathValue("entry_id")
	resp, err := s.deadLetters.Handler.ReprocessHandler(r.Context(), entryID, req)
	if err != nil {
		writeDeadLetterDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeTrackerDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trackererrors.ErrWorkflowNotFound):
		writeTrackerError(w, http.StatusNotFound, "workflow_not_found", err.Error())
	default:
		writeTrackerError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeDeadLetterDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dlqerrors.ErrEntryNotFound):
		writeDeadLetterError(w, http.StatusNotFound, "entry_not_found", err.Error())
	case errors.Is(err, dlqerrors.ErrAlreadyReprocessed):
		writeDeadLetterError(w, http.StatusConflict, "already_reprocessed", err.Error())
	case errors.Is(err, dlqerrors.ErrInvalidEntryInput):
		writeDeadLetterError(w, http.StatusBadRequest, "invalid_entry", err.Error())
	default:
		writeDeadLetterError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeTrackerError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, trackerhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeDeadLetterError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, dlqhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
