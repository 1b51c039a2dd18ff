package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"groupsync/internal/outcomes"
	"groupsync/internal/reconcile/adapter"
	"groupsync/internal/reconcile/models"
	"groupsync/internal/resync"
	"groupsync/pkg/platform/sentinel"
)

// outcomeView is the wire shape of one reconciliation outcome.
type outcomeView struct {
	EventID      string       `json:"event_id"`
	Kind         string       `json:"kind"`
	ProjectID    string       `json:"project_id"`
	AllocationID string       `json:"allocation_id,omitempty"`
	UserID       string       `json:"user_id"`
	Failed       bool         `json:"failed"`
	Results      []resultView `json:"results"`
}

type resultView struct {
	Group     string `json:"group"`
	Direction string `json:"direction"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

func toOutcomeView(o *models.Outcome) outcomeView {
	view := outcomeView{
		EventID:      o.EventID.String(),
		Kind:         string(o.Kind),
		ProjectID:    o.Key.Project,
		AllocationID: o.Key.Allocation,
		UserID:       o.Key.User,
		Failed:       o.Failed(),
	}
	for _, r := range o.Results {
		view.Results = append(view.Results, resultView{
			Group:     string(r.Intent.Group),
			Direction: string(r.Intent.Direction),
			Status:    string(r.Status),
			Reason:    r.Reason,
			Attempts:  r.Attempts,
		})
	}
	return view
}

// handleEvents ingests one host notification, the HTTP twin of the Kafka
// path. Reconciliation runs synchronously; the response carries the
// outcomes, including any per-intent failures.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	var n adapter.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcomes, err := h.dispatcher.Dispatch(r.Context(), n)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	views := make([]outcomeView, 0, len(outcomes))
	for _, o := range outcomes {
		views = append(views, toOutcomeView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": views})
}

type resyncRequest struct {
	DryRun bool   `json:"dry_run"`
	User   string `json:"user,omitempty"`
	Group  string `json:"group,omitempty"`
}

// handleResync triggers a sweep and returns its report. Sweeps can take a
// while on large directories; the route timeout bounds them.
func (h *Handler) handleResync(w http.ResponseWriter, r *http.Request) {
	var req resyncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	report, err := h.resyncer.Run(r.Context(), resync.Options{
		DryRun: req.DryRun,
		User:   req.User,
		Group:  req.Group,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "resync sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "resync failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// recordView is the wire shape of one persisted outcome record.
type recordView struct {
	EventID      string `json:"event_id"`
	Kind         string `json:"kind"`
	ProjectID    string `json:"project_id"`
	AllocationID string `json:"allocation_id,omitempty"`
	UserID       string `json:"user_id"`
	Group        string `json:"group"`
	Direction    string `json:"direction"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
	CompletedAt  string `json:"completed_at"`
}

// handleOutcomes lists recent outcome records filtered by project or user.
// Exactly one filter is required; unbounded listing is not offered.
func (h *Handler) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	user := r.URL.Query().Get("user")
	if (project == "") == (user == "") {
		writeError(w, http.StatusBadRequest, "exactly one of project or user is required")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		records []outcomes.Record
		err     error
	)
	if project != "" {
		records, err = h.outcomeStore.ListByProject(r.Context(), project, limit)
	} else {
		records, err = h.outcomeStore.ListByUser(r.Context(), user, limit)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list outcome records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			EventID:      rec.EventID.String(),
			Kind:         string(rec.Kind),
			ProjectID:    rec.ProjectID,
			AllocationID: rec.AllocationID,
			UserID:       rec.UserID,
			Group:        rec.Group,
			Direction:    string(rec.Direction),
			Status:       string(rec.Status),
			Reason:       rec.Reason,
			Attempts:     rec.Attempts,
			CompletedAt:  rec.CompletedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": views})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings every configured dependency checker.
func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for _, c := range h.checkers {
		if err := c.Check(r.Context()); err != nil {
			failures[c.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
