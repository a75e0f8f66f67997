package control

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-json-experiment/json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jgoulah/bwusage/internal/breaker"
	"github.com/jgoulah/bwusage/internal/scheduler"
	"github.com/jgoulah/bwusage/pkg/models"
)

type response struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type jobResponse struct {
	Name      string    `json:"name"`
	Breaker   string    `json:"breaker"`
	State     string    `json:"state"`
	Failures  int       `json:"failures"`
	NextRunIn string    `json:"next_run_in,omitempty"`
	LastRun   time.Time `json:"last_run,omitzero"`
}

// NewAPI returns the HTTP control API. gatherer serves /metrics when non-nil.
func NewAPI(ctrl *Controller, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	a := &api{ctrl: ctrl, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/gather", a.gather)
	r.Get("/reports/{kind}", a.listReport)
	r.Post("/reports/{kind}", a.triggerReport)
	r.Get("/jobs", a.jobs)
	r.Post("/shutdown", a.shutdown)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type api struct {
	ctrl   *Controller
	logger *slog.Logger
}

func (a *api) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.MarshalWrite(w, v); err != nil {
		a.logger.Warn("writing response failed", "err", err)
	}
}

func (a *api) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, breaker.ErrTripped):
		status = http.StatusConflict
	case errors.Is(err, scheduler.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, scheduler.ErrUnknownJob):
		status = http.StatusNotFound
	}
	a.write(w, status, response{Error: err.Error()})
}

func (a *api) kind(w http.ResponseWriter, r *http.Request) (models.ReportKind, bool) {
	kind, err := models.ParseReportKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.write(w, http.StatusNotFound, response{Error: err.Error()})
		return "", false
	}
	return kind, true
}

func (a *api) gather(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.TriggerGather(r.Context()); err != nil {
		a.writeErr(w, err)
		return
	}
	a.write(w, http.StatusOK, response{Message: "gather complete"})
}

func (a *api) triggerReport(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.kind(w, r)
	if !ok {
		return
	}
	if err := a.ctrl.TriggerReport(r.Context(), kind); err != nil {
		a.writeErr(w, err)
		return
	}
	a.write(w, http.StatusOK, response{Message: "report " + string(kind) + " written"})
}

func (a *api) listReport(w http.ResponseWriter, r *http.Request) {
	kind, ok := a.kind(w, r)
	if !ok {
		return
	}
	data, err := a.ctrl.Render(a.ctrl.List(r.Context(), kind))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (a *api) jobs(w http.ResponseWriter, _ *http.Request) {
	statuses := a.ctrl.Jobs()
	out := make([]jobResponse, 0, len(statuses))
	for _, s := range statuses {
		j := jobResponse{
			Name:     s.Name,
			Breaker:  s.Breaker,
			State:    s.State,
			Failures: s.Failures,
			LastRun:  s.LastRun,
		}
		if s.NextRunIn >= 0 {
			j.NextRunIn = s.NextRunIn.String()
		}
		out = append(out, j)
	}
	a.write(w, http.StatusOK, out)
}

func (a *api) shutdown(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.Shutdown(r.Context()); err != nil {
		a.writeErr(w, err)
		return
	}
	a.write(w, http.StatusAccepted, response{Message: "shutting down"})
}
