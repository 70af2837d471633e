// package http implements the HTTP transport layer for the service.
// It handles incoming requests, decodes them, calls the appropriate service methods,
// and encodes the responses.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prmetrics/pr-history-service/internal/apperrors"
	"github.com/prmetrics/pr-history-service/internal/service"
	"github.com/prmetrics/pr-history-service/internal/validation"
	"github.com/prmetrics/pr-history-service/pkg/logger/sl"
)

// Server holds the dependencies for the HTTP server, including the logger and service interfaces.
type Server struct {
	log     *slog.Logger
	history service.HistoryService
}

// NewServer creates a new instance of the HTTP server.
func NewServer(log *slog.Logger, history service.HistoryService) *Server {
	return &Server{
		log:     log,
		history: history,
	}
}

// Routes sets up the router with all middleware and API endpoints.
func (s *Server) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(s.requestID)
	mux.Use(s.logRequest)
	mux.Use(s.metricsMiddleware)

	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/health", s.GetHealth)
	mux.Post("/api/v1/facts/filter", s.PostFilterFacts)

	return mux
}

// PostFilterFacts reconstructs the lifecycle facts of the work items
// matching the request's window and filters.
func (s *Server) PostFilterFacts(w http.ResponseWriter, r *http.Request) {
	const op = "internal.transport.http.PostFilterFacts"

	var req filterFactsRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	serviceReq, err := req.toServiceRequest()
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	result, err := s.history.FilterFacts(r.Context(), serviceReq)
	if err != nil {
		s.handleServiceError(w, r, op, err)
		return
	}

	s.respond(w, http.StatusOK, newFilterFactsResponse(result))
}

func (s *Server) GetHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respond is a helper function to encode data to JSON and write it to the response.
// It centralizes setting the Content-Type header and writing the status code.
func (s *Server) respond(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.log.Error("failed to encode response", sl.Err(err))
		}
	}
}

// respondError is a convenience wrapper around respond for sending simple error messages.
func (s *Server) respondError(w http.ResponseWriter, code int, message string) {
	s.respond(w, code, map[string]string{"error": message})
}

// decodeAndValidate is a helper that deserializes a JSON request body into a struct
// and then runs validation checks on it.
func (s *Server) decodeAndValidate(r *http.Request, v interface{}) error {
	if err := s.decode(r.Body, v); err != nil {
		return err
	}

	if err := validation.ValidateStruct(v); err != nil {
		return err
	}

	return nil
}

// decode is a helper function to decode a JSON request body.
func (s *Server) decode(body io.ReadCloser, v interface{}) error {
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidRequest, err)
	}

	return nil
}

// handleServiceError provides centralized error handling for all HTTP handlers.
// It logs the internal error and maps it to a user-friendly HTTP response.
// An upstream fetch failure must stay distinguishable from an empty result,
// so it surfaces as 502 with the failing entity named.
func (s *Server) handleServiceError(w http.ResponseWriter, _ *http.Request, op string, err error) {
	log := s.log.With(slog.String("op", op))
	log.Error("service error occurred", sl.Err(err))

	var (
		validationErr *validation.ValidationError
		fetchErr      *apperrors.FetchFailedError
	)

	switch {
	case errors.As(err, &validationErr):
		wrappedErr := fmt.Errorf("%w: %s", apperrors.ErrValidation, validationErr.Error())
		s.respondError(w, http.StatusBadRequest, wrappedErr.Error())
	case errors.Is(err, apperrors.ErrInvalidRequest):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "resource not found")
	case errors.As(err, &fetchErr):
		s.respondError(w, http.StatusBadGateway,
			fmt.Sprintf("upstream fetch failed: %s", fetchErr.Entity))
	case errors.Is(err, apperrors.ErrFetchFailed):
		s.respondError(w, http.StatusBadGateway, "upstream fetch failed")
	case errors.Is(err, apperrors.ErrCacheRequired):
		s.respondError(w, http.StatusInternalServerError, "cache is not configured")
	default:
		s.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
