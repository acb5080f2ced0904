// Package api exposes the governor over HTTP for out-of-process
// collectors and the status TUI. The daemon owns the ledger; every
// collector that cannot link the governor in-process goes through these
// endpoints instead.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/reports"
	"github.com/ilg-ai/warden/pkg/store"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// GovernorInterface is the admission surface the server depends on,
// narrowed for mocking.
type GovernorInterface interface {
	Admit(ctx context.Context, provider string) (governor.Decision, error)
	Record(ctx context.Context, provider string, res governor.CallResult) error
	Status(ctx context.Context) ([]governor.ProviderStatus, error)
}

// Server encapsulates the HTTP API.
type Server struct {
	gov    GovernorInterface
	ledger store.Ledger
	log    zerolog.Logger
	server *http.Server
}

// NewServer builds the server and registers all routes.
func NewServer(gov GovernorInterface, ledger store.Ledger, addr string, log zerolog.Logger) *Server {
	s := &Server{
		gov:    gov,
		ledger: ledger,
		log:    log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/admit", s.handleAdmit)
	mux.HandleFunc("/v1/record", s.handleRecord)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/usage", s.handleUsage)
	mux.HandleFunc("/v1/reports", s.handleReports)

	handler := s.withLogging(withRecovery(mux, log))

	if addr == "" {
		addr = ":8090"
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

// Start runs the HTTP server (blocking).
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("api server starting")
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("api server stopping")
	return s.server.Shutdown(ctx)
}

// Handler exposes the configured handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleAdmit runs one admission check. Denials are HTTP 200 with
// allowed=false; only transport, storage and unknown-provider problems
// are HTTP errors.
func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req AdmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		http.Error(w, `{"error":"missing_provider"}`, http.StatusBadRequest)
		return
	}

	dec, err := s.gov.Admit(r.Context(), req.Provider)
	if err != nil {
		if errors.Is(err, governor.ErrStorageFailure) {
			s.log.Error().Str("trace_id", getTraceID(r.Context())).Err(err).Msg("admit failed on storage")
			http.Error(w, `{"error":"storage_failure"}`, http.StatusServiceUnavailable)
			return
		}
		http.Error(w, fmt.Sprintf(`{"error":"unknown_provider","provider":%q}`, req.Provider), http.StatusNotFound)
		return
	}

	writeJSON(w, s.log, dec)
}

// handleRecord appends a completed call to the ledger.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}
	if req.Provider == "" || req.Outcome == "" {
		http.Error(w, `{"error":"missing_required_fields"}`, http.StatusBadRequest)
		return
	}
	outcome := store.Outcome(req.Outcome)
	if outcome != store.OutcomeSuccess && outcome != store.OutcomeFailure {
		http.Error(w, `{"error":"invalid_outcome","valid":["success","failure"]}`, http.StatusBadRequest)
		return
	}

	err := s.gov.Record(r.Context(), req.Provider, governor.CallResult{
		Outcome:       outcome,
		AuthSource:    req.AuthSource,
		QuotaRejected: req.QuotaRejected,
	})
	if err != nil {
		if errors.Is(err, governor.ErrStorageFailure) {
			s.log.Error().Str("trace_id", getTraceID(r.Context())).Err(err).Msg("record failed on storage")
			http.Error(w, `{"error":"storage_failure"}`, http.StatusServiceUnavailable)
			return
		}
		http.Error(w, fmt.Sprintf(`{"error":"unknown_provider","provider":%q}`, req.Provider), http.StatusNotFound)
		return
	}

	writeJSON(w, s.log, RecordResponse{
		Status:   "recorded",
		Provider: req.Provider,
		At:       time.Now().UTC(),
	})
}

// handleStatus returns the full provider table state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	statuses, err := s.gov.Status(r.Context())
	if err != nil {
		s.log.Error().Str("trace_id", getTraceID(r.Context())).Err(err).Msg("status computation failed")
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.log, statuses)
}

// handleUsage returns raw ledger records for diagnostics.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := store.UsageFilter{Provider: q.Get("provider")}

	if l := q.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			filter.Limit = val
		}
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			http.Error(w, `{"error":"invalid_from","format":"RFC3339"}`, http.StatusBadRequest)
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			http.Error(w, `{"error":"invalid_to","format":"RFC3339"}`, http.StatusBadRequest)
			return
		}
		filter.To = t
	}

	records, err := s.ledger.QueryUsage(r.Context(), filter)
	if err != nil {
		s.log.Error().Str("trace_id", getTraceID(r.Context())).Err(err).Msg("usage query failed")
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*store.UsageRecord{}
	}
	writeJSON(w, s.log, records)
}

// handleReports generates and streams CSV exports of the ledger.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	reportType := reports.ReportType(q.Get("type"))
	if reportType == "" {
		http.Error(w, `{"error":"missing_type","valid":["usage","call_log"]}`, http.StatusBadRequest)
		return
	}

	params := reports.ReportParams{Provider: q.Get("provider")}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			http.Error(w, `{"error":"invalid_from","format":"RFC3339"}`, http.StatusBadRequest)
			return
		}
		params.Start = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			http.Error(w, `{"error":"invalid_to","format":"RFC3339"}`, http.StatusBadRequest)
			return
		}
		params.End = t
	}

	gen, err := reports.NewReportGenerator(reportType, s.ledger)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid_report_type","details":"%v"}`, err), http.StatusBadRequest)
		return
	}

	reader, err := gen.Generate(r.Context(), params)
	if err != nil {
		s.log.Error().Str("trace_id", getTraceID(r.Context())).Err(err).Msg("report generation failed")
		http.Error(w, `{"error":"report_generation_failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	filename := fmt.Sprintf("report_%s_%d.csv", reportType, time.Now().Unix())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if _, err := io.Copy(w, reader); err != nil {
		s.log.Error().Str("trace_id", getTraceID(r.Context())).Err(err).Msg("failed to stream report")
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// withRecovery converts panics into 500s instead of dropped connections.
func withRecovery(next http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Str("path", r.URL.Path).Msg("panic recovered")
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withLogging assigns a trace ID and logs one line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		r = r.WithContext(ctx)

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("trace_id", traceID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// statusWriter captures the HTTP status code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
