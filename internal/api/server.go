// Package api exposes the registry over HTTP: the client endpoints under the
// secret key path, the dashboard page and its data feed, health and metrics.
package api

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/ktboard/internal/fleet"
	"github.com/dreamware/ktboard/internal/registry"
	"github.com/dreamware/ktboard/internal/telemetry"
)

const maxBodyBytes = 1 << 20

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Metrics is the subset of telemetry the handlers record into.
type Metrics interface {
	ObserveRegistration(group string)
	ObserveHeartbeat(result string)
	ObserveClear()
	ObserveRequest(route string, code int, duration time.Duration)
}

// Options configures a Server.
type Options struct {
	Logger  *zap.Logger
	Metrics Metrics
	KeyPath string

	// Gatherer enables GET /metrics when non-nil.
	Gatherer prometheus.Gatherer
}

// Server handles HTTP requests on behalf of one registry.
type Server struct {
	reg      *registry.Registry
	logger   *zap.Logger
	metrics  Metrics
	gatherer prometheus.Gatherer
	keyPath  string
}

// NewServer wires reg into a request handler.
func NewServer(reg *registry.Registry, opts Options) *Server {
	s := &Server{
		reg:      reg,
		logger:   zap.NewNop(),
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		keyPath:  opts.KeyPath,
	}
	if opts.Logger != nil {
		s.logger = opts.Logger.Named("api")
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	prefix := "/" + s.keyPath

	mux.HandleFunc("GET "+prefix+"/clear-client", s.instrument("clear", s.handleClear))
	mux.HandleFunc("POST "+prefix+"/register-client", s.instrument("register", s.handleRegister))
	mux.HandleFunc("POST "+prefix+"/heart-beat", s.instrument("heartbeat", s.handleHeartbeat))
	mux.HandleFunc("GET /dashboard-data", s.instrument("dashboard_data", s.handleDashboardData))
	mux.HandleFunc("GET /{$}", s.instrument("index", s.handleIndex))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.reg.Clear()
	s.metrics.ObserveClear()
	writeJSON(w, http.StatusOK, fleet.Response{Status: fleet.StatusOK, Message: "All clients cleared."})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	fields := readFields(r)

	group, err := stringField(fields, "client_group")
	if err != nil {
		s.reject(w, err)
		return
	}
	name, err := stringField(fields, "client_name")
	if err != nil {
		s.reject(w, err)
		return
	}
	switch {
	case group == "":
		s.reject(w, &registry.ValidationError{Field: "client_group", Reason: "is required"})
		return
	case name == "":
		s.reject(w, &registry.ValidationError{Field: "client_name", Reason: "is required"})
		return
	}
	config, err := registry.DecodeObject("client_config", fields["client_config"])
	if err != nil {
		s.reject(w, err)
		return
	}

	token, err := s.reg.Register(group, name, config)
	if err != nil {
		s.reject(w, err)
		return
	}
	s.metrics.ObserveRegistration(group)
	s.logger.Info("client registered",
		zap.String("group", group),
		zap.String("name", name),
		zap.String("remote", r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, fleet.Response{Status: fleet.StatusOK, Token: token.String()})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	fields := readFields(r)

	token, err := registry.DecodeToken(fields["client_token"])
	if err != nil {
		s.rejectHeartbeat(w, err)
		return
	}
	if _, err := s.reg.Lookup(token); err != nil {
		s.rejectHeartbeat(w, fmt.Errorf("client_token is invalid: %w", registry.ErrUnknownToken))
		return
	}
	metrics, err := registry.DecodeObject("client_info", fields["client_info"])
	if err != nil {
		s.rejectHeartbeat(w, err)
		return
	}

	// A clear may land between Lookup and here; the registry re-checks.
	if err := s.reg.RecordHeartbeat(token, metrics); err != nil {
		s.rejectHeartbeat(w, fmt.Errorf("client_token is invalid: %w", err))
		return
	}
	s.metrics.ObserveHeartbeat(telemetry.HeartbeatOK)
	writeJSON(w, http.StatusOK, fleet.Response{
		Status:  fleet.StatusOK,
		Token:   token.String(),
		Message: "Heartbeat received from " + token.String(),
	})
}

func (s *Server) handleDashboardData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Snapshot())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, struct{ SiteName string }{s.reg.SiteName()}); err != nil {
		s.logger.Error("render index", zap.Error(err))
	}
}

func (s *Server) rejectHeartbeat(w http.ResponseWriter, err error) {
	result := telemetry.HeartbeatInvalid
	if errors.Is(err, registry.ErrUnknownToken) {
		result = telemetry.HeartbeatUnknownToken
	}
	s.metrics.ObserveHeartbeat(result)
	s.reject(w, err)
}

// reject answers a client error. Both ErrValidation and ErrUnknownToken are
// the caller's fault; anything else is reported as a server error.
func (s *Server) reject(w http.ResponseWriter, err error) {
	code := http.StatusBadRequest
	msg := err.Error()
	switch {
	case errors.Is(err, registry.ErrUnknownToken):
		msg = "client_token is invalid"
	case errors.Is(err, registry.ErrValidation):
	default:
		code = http.StatusInternalServerError
		s.logger.Error("request failed", zap.Error(err))
	}
	s.logger.Debug("request rejected", zap.Int("code", code), zap.Error(err))
	writeJSON(w, code, fleet.Response{Status: fleet.StatusError, Message: msg})
}

// readFields decodes the request body as a JSON object. A missing or
// unparsable body yields no fields, so the caller reports the first required
// field as missing.
func readFields(r *http.Request) map[string]json.RawMessage {
	fields := map[string]json.RawMessage{}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fields
	}
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return map[string]json.RawMessage{}
	}
	return fields
}

// stringField returns a string field, "" when absent or null.
func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", &registry.ValidationError{Field: name, Reason: "must be a string"}
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		elapsed := time.Since(start)
		s.metrics.ObserveRequest(route, rec.code, elapsed)
		s.logger.Debug("request",
			zap.String("route", route),
			zap.String("method", r.Method),
			zap.Int("code", rec.code),
			zap.Duration("elapsed", elapsed),
		)
	}
}

type nopMetrics struct{}

func (nopMetrics) ObserveRegistration(string)                {}
func (nopMetrics) ObserveHeartbeat(string)                   {}
func (nopMetrics) ObserveClear()                             {}
func (nopMetrics) ObserveRequest(string, int, time.Duration) {}

var _ Metrics = (*telemetry.PrometheusMetrics)(nil)
