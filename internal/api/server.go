// Package api exposes stored factors, tracked runs and the live store feed
// over HTTP.
package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"factor-lab/internal/domain"
	"factor-lab/internal/observability"
	"factor-lab/internal/storage"
)

// StatusFunc reports service state for /status.
type StatusFunc func() any

// Options configures the HTTP handler.
type Options struct {
	Store      storage.FactorStore
	RunStore   storage.RunStore // optional; enables /runs
	Experiment string           // default experiment for /runs
	Feed       http.Handler     // optional; mounted at /feed
	Status     StatusFunc       // optional
	Logger     *log.Logger
}

// Server routes API requests.
type Server struct {
	opts   Options
	router chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	s := &Server{opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Websocket upgrades need the raw ResponseWriter
	if opts.Feed != nil {
		r.Handle("/feed", opts.Feed)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		r.Handle("/metrics", observability.Handler())

		r.Group(func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Get("/status", s.handleStatus)
			r.Get("/factors", s.handleListFactors)
			r.Get("/factors/{name}", s.handleGetFactor)
			if opts.RunStore != nil {
				r.Get("/runs", s.handleListRuns)
				r.Get("/runs/{id}", s.handleGetRun)
			}
		})
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// FactorSummary is one entry of GET /factors.
type FactorSummary struct {
	Name  string     `json:"name"`
	Rows  int        `json:"rows"`
	First *time.Time `json:"first_date,omitempty"`
	Last  *time.Time `json:"last_date,omitempty"`
}

// FactorRow is one (date, symbol, value) row in JSON form.
type FactorRow struct {
	Date   time.Time `json:"date"`
	Symbol string    `json:"symbol"`
	Value  float64   `json:"value"`
}

// FactorResponse is the body of GET /factors/{name}.
type FactorResponse struct {
	Name string      `json:"name"`
	Rows []FactorRow `json:"rows"`
}

// RunResponse is one tracked run in JSON form. Non-finite metrics are null.
type RunResponse struct {
	RunID      string              `json:"run_id"`
	Experiment string              `json:"experiment"`
	RunName    string              `json:"run_name"`
	Params     map[string]string   `json:"params"`
	Metrics    map[string]*float64 `json:"metrics"`
	Artifacts  []string            `json:"artifacts"`
	StartedAt  time.Time           `json:"started_at"`
	EndedAt    *time.Time          `json:"ended_at,omitempty"`
}

func newRunResponse(run *domain.ExperimentRun) RunResponse {
	resp := RunResponse{
		RunID:      run.RunID,
		Experiment: run.Experiment,
		RunName:    run.RunName,
		Params:     run.Params,
		Metrics:    make(map[string]*float64, len(run.Metrics)),
		Artifacts:  make([]string, 0, len(run.Artifacts)),
		StartedAt:  run.StartedAt,
		EndedAt:    run.EndedAt,
	}
	for k, v := range run.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			resp.Metrics[k] = nil
			continue
		}
		v := v
		resp.Metrics[k] = &v
	}
	for name := range run.Artifacts {
		resp.Artifacts = append(resp.Artifacts, name)
	}
	sort.Strings(resp.Artifacts)
	return resp
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		render.JSON(w, r, map[string]string{"status": "running"})
		return
	}
	render.JSON(w, r, s.opts.Status())
}

func (s *Server) handleListFactors(w http.ResponseWriter, r *http.Request) {
	names, err := s.opts.Store.Names(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}

	out := make([]FactorSummary, 0, len(names))
	for _, name := range names {
		points, err := s.opts.Store.Read(r.Context(), name, nil, nil)
		if err != nil {
			s.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		sum := FactorSummary{Name: name, Rows: len(points)}
		if len(points) > 0 {
			first, last := points[0].Date, points[len(points)-1].Date
			sum.First, sum.Last = &first, &last
		}
		out = append(out, sum)
	}
	render.JSON(w, r, out)
}

func (s *Server) handleGetFactor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	start, err := parseDateParam(r, "start")
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	end, err := parseDateParam(r, "end")
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}

	known, err := s.known(r, name)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if !known {
		s.fail(w, r, http.StatusNotFound, storage.ErrNotFound)
		return
	}

	points, err := s.opts.Store.Read(r.Context(), name, start, end)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}

	resp := FactorResponse{Name: name, Rows: make([]FactorRow, len(points))}
	for i, p := range points {
		resp.Rows[i] = FactorRow{Date: p.Date, Symbol: p.Symbol, Value: p.Value}
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	experiment := r.URL.Query().Get("experiment")
	if experiment == "" {
		experiment = s.opts.Experiment
	}
	runs, err := s.opts.RunStore.GetByExperiment(r.Context(), experiment)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	out := make([]RunResponse, len(runs))
	for i, run := range runs {
		out[i] = newRunResponse(run)
	}
	render.JSON(w, r, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.opts.RunStore.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.fail(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, newRunResponse(run))
}

func (s *Server) known(r *http.Request, name string) (bool, error) {
	names, err := s.opts.Store.Names(r.Context())
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.opts.Logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}

// parseDateParam accepts YYYY-MM-DD or RFC3339. An absent parameter yields nil.
func parseDateParam(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, v); err != nil {
			return nil, fmt.Errorf("invalid %s %q: want YYYY-MM-DD or RFC3339", key, v)
		}
	}
	t = t.UTC()
	return &t, nil
}
