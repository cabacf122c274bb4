// Package api exposes the redaction engine over HTTP.
//
// Endpoints:
//
//	POST /redact    - redact one document {"text":"...","documentId":"..."}
//	GET  /status    - engine health, policy and detector availability
//	GET  /metrics   - metrics snapshot
//	GET  /entities  - enabled entity types and their token labels
//
// The server speaks HTTP/1.1 and cleartext HTTP/2 (h2c).
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"transcript-pii-redactor/internal/audit"
	"transcript-pii-redactor/internal/logger"
	"transcript-pii-redactor/internal/metrics"
	"transcript-pii-redactor/internal/pii"
)

const defaultMaxBody = 10 << 20

// Options configures a Server. Zero values disable the optional parts.
type Options struct {
	BindAddress  string
	Port         int
	MaxBodyBytes int64

	// Token enables bearer authentication when non-empty.
	Token string

	// Residual recognizers re-scan redacted output; nil disables the scan.
	Residual []pii.Recognizer

	Audit   *audit.Log
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// Server is the redaction API server.
type Server struct {
	engine    *pii.Engine
	opts      Options
	runID     string
	startTime time.Time
	log       *logger.Logger
}

// New creates an API server around engine.
func New(engine *pii.Engine, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("API", "info")
	}
	s := &Server{
		engine:    engine,
		opts:      opts,
		runID:     audit.NewRunID(),
		startTime: time.Now(),
		log:       opts.Logger,
	}
	if opts.Token != "" {
		s.log.Info("api_init", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/redact", s.handleRedact)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/entities", s.handleEntities)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.opts.Token)) != 1 {
			s.log.Warnf("auth", "unauthorized request from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type redactRequest struct {
	Text       string `json:"text"`
	DocumentID string `json:"documentId,omitempty"`

	// Redactions asks for the per-entity offsets in the response.
	Redactions bool `json:"redactions,omitempty"`
}

type redactResponse struct {
	DocumentID  string          `json:"documentId"`
	Text        string          `json:"text"`
	Status      pii.Status      `json:"status"`
	EntityCount int             `json:"entityCount"`
	Persons     int             `json:"persons"`
	Labels      map[string]int  `json:"labels"`
	Redactions  []pii.Redaction `json:"redactions,omitempty"`
	Residual    int             `json:"residual"`
	Reason      string          `json:"reason,omitempty"`
	DurationMs  float64         `json:"durationMs"`
}

type errorResponse struct {
	Error  string     `json:"error"`
	Status pii.Status `json:"status,omitempty"`
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	var req redactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid request: need {\"text\":\"...\"}", http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" {
		req.DocumentID = audit.NewRunID()
	}

	ctx := pii.WithDocumentID(r.Context(), req.DocumentID)
	res, err := s.engine.Redact(ctx, req.Text)
	if err != nil {
		s.log.With("doc", req.DocumentID).Errorf("redact", "refused: %v", err)
		s.appendAudit(ctx, req.DocumentID, res, 0)
		writeJSON(w, s.log, statusFor(err), errorResponse{Error: err.Error(), Status: res.Status})
		return
	}

	residual := 0
	if res.Redacted() && len(s.opts.Residual) > 0 {
		hits, rerr := pii.ResidualScan(ctx, res.Text, s.engine.Language(), s.opts.Residual)
		if rerr != nil {
			s.log.With("doc", req.DocumentID).Warnf("residual", "scan failed: %v", rerr)
		}
		residual = len(hits)
		s.opts.Metrics.RecordResidual(residual)
		if residual > 0 {
			s.log.With("doc", req.DocumentID).Warnf("residual", "%d possible entities remain after redaction", residual)
		}
	}
	s.appendAudit(ctx, req.DocumentID, res, residual)

	resp := redactResponse{
		DocumentID:  req.DocumentID,
		Text:        res.Text,
		Status:      res.Status,
		EntityCount: res.Count,
		Persons:     res.Persons,
		Labels:      res.Labels,
		Residual:    residual,
		Reason:      res.Reason,
		DurationMs:  float64(res.Duration.Microseconds()) / 1000,
	}
	if req.Redactions {
		resp.Redactions = res.Redactions
	}
	writeJSON(w, s.log, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pii.ErrDetectionUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) appendAudit(ctx context.Context, docID string, res pii.Result, residual int) {
	if s.opts.Audit == nil {
		return
	}
	// Detached from the request so a disconnecting client still leaves a record.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	rec := audit.NewRecord(s.runID, docID, s.engine.Policy(), res, residual)
	if err := s.opts.Audit.Append(ctx, rec); err != nil {
		s.log.Errorf("audit", "append failed: %v", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status    string `json:"status"`
		Uptime    string `json:"uptime"`
		Detection bool   `json:"detection"`
		Policy    string `json:"policy"`
		Language  string `json:"language"`
		Entities  int    `json:"entities"`
		Residual  bool   `json:"residualScan"`
		Audit     bool   `json:"audit"`
	}
	resp := response{
		Status:    "running",
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Detection: s.engine.Available(),
		Policy:    s.engine.Policy().String(),
		Language:  s.engine.Language(),
		Entities:  len(s.engine.Entities()),
		Residual:  len(s.opts.Residual) > 0,
		Audit:     s.opts.Audit != nil,
	}
	if !resp.Detection {
		resp.Status = "degraded"
	}
	writeJSON(w, s.log, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.log, http.StatusOK, s.opts.Metrics.Snapshot())
}

// EntityInfo is one row of the /entities listing.
type EntityInfo struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

// Entities lists the enabled entity types with their token labels.
func Entities(engine *pii.Engine) []EntityInfo {
	table := engine.Placeholders()
	out := make([]EntityInfo, 0, len(engine.Entities()))
	for _, e := range engine.Entities() {
		out = append(out, EntityInfo{Type: e, Label: table.Label(e)})
	}
	return out
}

func (s *Server) handleEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, Entities(s.engine))
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write_json", "encode error: %v", err)
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.BindAddress, strconv.Itoa(s.opts.Port))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Infof("listen", "listening on %s", ln.Addr())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-errc
		return nil
	}
}
