// Package server exposes chart definitions and assembled chart series over a
// JSON HTTP API, plus Prometheus metrics.
//
//	GET    /health
//	GET    /bounds?period=&ref=
//	POST   /expressions/validate
//	GET    /charts
//	POST   /charts
//	GET    /charts/{id}
//	DELETE /charts/{id}
//	GET    /charts/{id}/series?period=&ref=&interval=
//	GET    /metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/derickschaefer/kwchart/internal/assemble"
	"github.com/derickschaefer/kwchart/internal/chartdef"
	"github.com/derickschaefer/kwchart/internal/controller"
	"github.com/derickschaefer/kwchart/internal/expr"
	"github.com/derickschaefer/kwchart/internal/measure"
	"github.com/derickschaefer/kwchart/internal/metrics"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/period"
	"github.com/derickschaefer/kwchart/internal/store"
	"github.com/derickschaefer/kwchart/internal/util"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Definitions is the slice of the local store the server needs.
type Definitions interface {
	PutDefinition(d *chartdef.Definition) (string, error)
	FindDefinition(ref string) (*chartdef.Definition, error)
	ListDefinitions() ([]*chartdef.Definition, error)
	DeleteDefinition(id string) error
}

// Config holds the server's collaborators. Source and Definitions are
// required.
type Config struct {
	Source      assemble.Source
	Definitions Definitions
	Location    *time.Location
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	// AccessLog receives Apache-style access lines. Nil disables them.
	AccessLog io.Writer
	// Now replaces the wall clock in tests.
	Now func() time.Time
}

// Server serves the API. Each series request builds a fresh chart, so
// requests never share a fetch cache.
type Server struct {
	cfg Config
	log *slog.Logger
}

// New returns a Server for cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Source == nil || cfg.Definitions == nil {
		return nil, errors.New("server: a measurement source and a definition store are required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, log: log}, nil
}

// Handler returns the routed API with panic recovery, CORS and, when
// configured, access logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	route := func(path, name string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, s.cfg.Metrics.WrapHandler(name, h)).Methods(methods...)
	}

	route("/health", "health", s.health, http.MethodGet)
	route("/bounds", "bounds", s.bounds, http.MethodGet)
	route("/expressions/validate", "validate", s.validate, http.MethodPost)
	route("/charts", "charts_list", s.listCharts, http.MethodGet)
	route("/charts", "charts_create", s.createChart, http.MethodPost)
	route("/charts/{id}", "charts_get", s.getChart, http.MethodGet)
	route("/charts/{id}", "charts_delete", s.deleteChart, http.MethodDelete)
	route("/charts/{id}/series", "series", s.series, http.MethodGet)
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
	if s.cfg.AccessLog != nil {
		h = handlers.LoggingHandler(s.cfg.AccessLog, h)
	}
	return h
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) bounds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	m, err := period.ParseMode(q.Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ref, err := util.ParseInstant(q.Get("ref"), s.cfg.Location, s.cfg.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	calc := &period.Calculator{Location: s.cfg.Location, Now: s.cfg.Now}
	writeJSON(w, http.StatusOK, calc.Describe(m, ref))
}

type validateRequest struct {
	Expression   string   `json:"expression"`
	Aggregations []string `json:"aggregations,omitempty"`
}

type validateResponse struct {
	Valid     bool     `json:"valid"`
	Variables []string `json:"variables,omitempty"`
	Annotated string   `json:"annotated,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// maxBody caps request bodies.
const maxBody = 1 << 20

// bodyError maps a request body read error to a status code.
func bodyError(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, bodyError(err), fmt.Errorf("decoding request: %w", err))
		return
	}
	prog, err := expr.Compile(req.Expression)
	if err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Error: err.Error()})
		return
	}
	resp := validateResponse{Valid: true, Variables: prog.Vars()}
	if len(req.Aggregations) > 0 {
		ann, err := prog.Annotate(req.Aggregations)
		if err != nil {
			resp.Valid = false
			resp.Error = err.Error()
		}
		resp.Annotated = ann
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listCharts(w http.ResponseWriter, _ *http.Request) {
	defs, err := s.cfg.Definitions.ListDefinitions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if defs == nil {
		defs = []*chartdef.Definition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) createChart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, bodyError(err), err)
		return
	}
	def, err := chartdef.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := def.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	id, err := s.cfg.Definitions.PutDefinition(def)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	def.ID = id
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) getChart(w http.ResponseWriter, r *http.Request) {
	def, ok := s.find(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) deleteChart(w http.ResponseWriter, r *http.Request) {
	def, ok := s.find(w, r)
	if !ok {
		return
	}
	if err := s.cfg.Definitions.DeleteDefinition(def.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// series assembles one chart load and returns the Result envelope.
func (s *Server) series(w http.ResponseWriter, r *http.Request) {
	def, ok := s.find(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	var res *model.Result
	sink := controller.SinkFunc(func(out model.Result) error {
		res = &out
		return nil
	})
	c, err := controller.New(def, controller.Options{
		Source:   s.cfg.Source,
		Sink:     sink,
		Location: s.cfg.Location,
		Metrics:  s.cfg.Metrics,
		Logger:   s.log,
		Now:      s.cfg.Now,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	defer c.Destroy()

	if p := q.Get("period"); p != "" {
		m, err := period.ParseMode(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ref, err := util.ParseInstant(q.Get("ref"), s.cfg.Location, s.cfg.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := c.SwitchPeriod(m, ref); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if iv := q.Get("interval"); iv != "" {
		if err := c.SwitchInterval(period.Interval(iv)); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if err := c.Load(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("load was superseded"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) find(w http.ResponseWriter, r *http.Request) (*chartdef.Definition, bool) {
	id := mux.Vars(r)["id"]
	def, err := s.cfg.Definitions.FindDefinition(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return def, true
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// statusFor maps an upstream measurement API failure to 502 and anything
// else to 500.
func statusFor(err error) int {
	var se *measure.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
