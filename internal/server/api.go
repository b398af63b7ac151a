package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/repositories"
	"github.com/desertthunder/vidport/internal/shared"
	"github.com/desertthunder/vidport/internal/tasks"
	"github.com/desertthunder/vidport/internal/telemetry"
)

const maxBodyBytes = 1 << 20

// Controller is the operator surface the API drives. [tasks.Orchestrator]
// implements it.
type Controller interface {
	Start(ctx context.Context, concurrency int) error
	Stop()
	Status() tasks.Status
	StatsSnapshot(ctx context.Context) (models.Stats, error)
	Items(ctx context.Context, criteria map[string]any) ([]*models.MigrationItem, error)
	Item(ctx context.Context, id string) (*models.MigrationItem, error)
	RetrySingle(ctx context.Context, id string) error
	RetryAllFailed(ctx context.Context) (int64, error)
	Purge(ctx context.Context, ids []string) (*repositories.PurgeResult, error)
	Reclaim(ctx context.Context) (tasks.ReclaimReport, error)
	Handoff() *tasks.Handoff
}

var _ Controller = (*tasks.Orchestrator)(nil)

// API serves the JSON control endpoints.
//
// Runs started over HTTP are bound to runCtx rather than the request, so they
// outlive the request that started them.
type API struct {
	ctrl   Controller
	runCtx context.Context
	logger *log.Logger
}

// NewAPI creates an API over ctrl.
func NewAPI(runCtx context.Context, ctrl Controller, logger *log.Logger) *API {
	return &API{ctrl: ctrl, runCtx: runCtx, logger: logger}
}

// Register adds every API route to r.
func (a *API) Register(r Router) {
	r.Handle(http.MethodGet, "/api/stats", http.HandlerFunc(a.stats))
	r.Handle(http.MethodGet, "/api/status", http.HandlerFunc(a.status))
	r.Handle(http.MethodGet, "/api/items", http.HandlerFunc(a.items))
	r.Handle(http.MethodGet, "/api/items/{id}", http.HandlerFunc(a.item))
	r.Handle(http.MethodPost, "/api/items/{id}/retry", http.HandlerFunc(a.retry))
	r.Handle(http.MethodPost, "/api/start", http.HandlerFunc(a.start))
	r.Handle(http.MethodPost, "/api/stop", http.HandlerFunc(a.stop))
	r.Handle(http.MethodPost, "/api/retry-failed", http.HandlerFunc(a.retryFailed))
	r.Handle(http.MethodPost, "/api/purge", http.HandlerFunc(a.purge))
	r.Handle(http.MethodPost, "/api/reclaim", http.HandlerFunc(a.reclaim))
	r.Handle(http.MethodPost, "/api/handoff/claim", http.HandlerFunc(a.handoffClaim))
	r.Handle(http.MethodPost, "/api/handoff/complete", http.HandlerFunc(a.handoffComplete))
	r.Handle(http.MethodGet, "/metrics", telemetry.Handler())
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.ctrl.StatsSnapshot(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Status())
}

func (a *API) items(w http.ResponseWriter, r *http.Request) {
	criteria := map[string]any{}
	q := r.URL.Query()
	if s := q.Get("state"); s != "" {
		state, err := models.ParseState(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		criteria["state"] = state
	}
	if s := q.Get("source"); s != "" {
		criteria["source"] = s
	}

	items, err := a.ctrl.Items(r.Context(), criteria)
	if err != nil {
		a.fail(w, err)
		return
	}
	if items == nil {
		items = []*models.MigrationItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) item(w http.ResponseWriter, r *http.Request) {
	item, err := a.ctrl.Item(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type startRequest struct {
	Concurrency int `json:"concurrency"`
}

func (a *API) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		a.fail(w, err)
		return
	}
	if err := a.ctrl.Start(a.runCtx, req.Concurrency); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.ctrl.Status())
}

func (a *API) stop(w http.ResponseWriter, r *http.Request) {
	a.ctrl.Stop()
	writeJSON(w, http.StatusAccepted, a.ctrl.Status())
}

func (a *API) retry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.ctrl.RetrySingle(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "queued"})
}

func (a *API) retryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := a.ctrl.RetryAllFailed(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"retried": n})
}

type purgeRequest struct {
	IDs     []string `json:"ids"`
	Confirm bool     `json:"confirm"`
}

type purgeResponse struct {
	Removed []string `json:"removed"`
	Skipped []string `json:"skipped"`
	Missing []string `json:"missing"`
}

func (a *API) purge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := decodeBody(r, &req); err != nil {
		a.fail(w, err)
		return
	}
	if !req.Confirm {
		a.fail(w, shared.ErrConfirmationRequired)
		return
	}

	res, err := a.ctrl.Purge(r.Context(), req.IDs)
	if err != nil {
		a.fail(w, err)
		return
	}

	out := purgeResponse{Removed: []string{}, Skipped: res.Skipped, Missing: res.Missing}
	for _, item := range res.Removed {
		out.Removed = append(out.Removed, item.ID())
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) reclaim(w http.ResponseWriter, r *http.Request) {
	report, err := a.ctrl.Reclaim(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type claimRequest struct {
	Worker string `json:"worker"`
}

func (a *API) handoffClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		a.fail(w, err)
		return
	}

	item, err := a.ctrl.Handoff().Claim(r.Context(), req.Worker)
	if errors.Is(err, shared.ErrNoEligibleItems) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type completeRequest struct {
	ID     string `json:"id"`
	Worker string `json:"worker"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

func (a *API) handoffComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		a.fail(w, err)
		return
	}

	if err := a.ctrl.Handoff().Complete(r.Context(), req.ID, req.Worker, req.OK, req.Reason); err != nil {
		a.fail(w, err)
		return
	}

	item, err := a.ctrl.Item(r.Context(), req.ID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// fail writes err with the status its sentinel maps to.
func (a *API) fail(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrStateConflict),
		errors.Is(err, shared.ErrNotClaimable),
		errors.Is(err, shared.ErrAlreadyRunning),
		errors.Is(err, shared.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrConfirmationRequired):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body into v. An empty body leaves v zero.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read body: %v", shared.ErrInvalidInput, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	data, _ := json.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	w.Write([]byte("\n"))
}
