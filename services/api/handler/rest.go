package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/carryover"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/linkage"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/mongo"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/progress"
	"github.com/sol-namoo/monthlyGrow-sub000/pkg/telemetry"
	"github.com/sol-namoo/monthlyGrow-sub000/services/api/middleware"
)

// REST handles HTTP requests for the period and work-item surface.
type REST struct {
	periods mongo.PeriodStore
	items   mongo.WorkItemStore
	sync    *linkage.Synchronizer
	tracker *progress.Tracker
	runner  *carryover.Runner
	logger  *slog.Logger
	now     func() time.Time
}

// NewREST creates a new REST handler.
func NewREST(
	periods mongo.PeriodStore,
	items mongo.WorkItemStore,
	sync *linkage.Synchronizer,
	tracker *progress.Tracker,
	runner *carryover.Runner,
	logger *slog.Logger,
) *REST {
	return &REST{
		periods: periods,
		items:   items,
		sync:    sync,
		tracker: tracker,
		runner:  runner,
		logger:  logger,
		now:     time.Now,
	}
}

// Routes mounts all API routes on the given router.
func (h *REST) Routes(r chi.Router) {
	r.Route("/periods", func(r chi.Router) {
		r.Post("/", h.CreatePeriod)
		r.Get("/", h.ListPeriods)
		r.Get("/{id}", h.GetPeriod)
		r.Delete("/{id}", h.DeletePeriod)
		r.Put("/{id}/links", h.SetPeriodLinks)
		r.Patch("/{id}/key-results/{krID}", h.ToggleKeyResult)
		r.Post("/{id}/recount", h.RecountPeriod)
	})
	r.Route("/work-items", func(r chi.Router) {
		r.Post("/", h.CreateWorkItem)
		r.Get("/", h.ListWorkItems)
		r.Get("/{id}", h.GetWorkItem)
		r.Patch("/{id}", h.UpdateWorkItem)
		r.Delete("/{id}", h.DeleteWorkItem)
		r.Get("/{id}/status", h.GetWorkItemStatus)
	})
	r.Get("/status", h.GetWindowStatus)
	r.Post("/carryover/run", h.RunCarryover)
}

// ── request / response bodies ────────────────────────────────────────────────

// LinkInput is one requested period↔work-item link. TargetCount 0 means
// "allocate for me".
type LinkInput struct {
	WorkItemID  string `json:"work_item_id"`
	TargetCount int    `json:"target_count"`
}

// CreatePeriodRequest is the JSON body for POST /periods.
type CreatePeriodRequest struct {
	OwnerID    string      `json:"owner_id"`
	Objective  string      `json:"objective"`
	KeyResults []string    `json:"key_results,omitempty"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	Reward     string      `json:"reward,omitempty"`
	Links      []LinkInput `json:"links,omitempty"`
}

// LinkProgress is one link with its completion rate, as returned to clients.
type LinkProgress struct {
	WorkItemID  string  `json:"work_item_id"`
	TargetCount int     `json:"target_count"`
	DoneCount   int     `json:"done_count"`
	Rate        float64 `json:"rate"`
}

// PeriodResponse is a period plus its derived lifecycle status.
type PeriodResponse struct {
	ID         string                 `json:"id"`
	OwnerID    string                 `json:"owner_id"`
	Objective  string                 `json:"objective"`
	KeyResults []domain.KeyResult     `json:"key_results,omitempty"`
	Start      time.Time              `json:"start"`
	End        time.Time              `json:"end"`
	Reward     string                 `json:"reward,omitempty"`
	Status     domain.LifecycleStatus `json:"status"`
	Links      []LinkProgress         `json:"links"`
	Attached   int                    `json:"attached_carryovers,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func (h *REST) periodResponse(p *domain.Period) PeriodResponse {
	links := make([]LinkProgress, len(p.ProjectLinks))
	for i, l := range p.ProjectLinks {
		rate := 0.0
		if l.TargetCount > 0 {
			rate = float64(l.DoneCount) / float64(l.TargetCount)
		}
		links[i] = LinkProgress{
			WorkItemID:  l.WorkItemID,
			TargetCount: l.TargetCount,
			DoneCount:   l.DoneCount,
			Rate:        rate,
		}
	}
	return PeriodResponse{
		ID:         p.ID,
		OwnerID:    p.OwnerID,
		Objective:  p.Objective,
		KeyResults: p.KeyResults,
		Start:      p.Start,
		End:        p.End,
		Reward:     p.Reward,
		Status:     domain.StatusAt(p.Window(), h.now()),
		Links:      links,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// ── periods ──────────────────────────────────────────────────────────────────

// CreatePeriod handles POST /api/v1/periods. Creating a period also
// attaches any work items the carry-over job parked for this owner.
func (h *REST) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.create_period")
	defer span.End()

	var req CreatePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		writeError(w, http.StatusBadRequest, "field 'owner_id' is required")
		return
	}
	if req.Start.IsZero() || req.End.IsZero() {
		writeError(w, http.StatusBadRequest, "fields 'start' and 'end' are required")
		return
	}
	if req.End.Before(req.Start) {
		writeError(w, http.StatusBadRequest, "'end' must not precede 'start'")
		return
	}

	now := h.now().UTC()
	period := &domain.Period{
		ID:        uuid.New().String(),
		OwnerID:   req.OwnerID,
		Objective: req.Objective,
		Start:     req.Start,
		End:       req.End,
		Reward:    req.Reward,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, title := range req.KeyResults {
		period.KeyResults = append(period.KeyResults, domain.KeyResult{
			ID:    uuid.New().String(),
			Title: title,
		})
	}
	span.SetAttributes(
		attribute.String("period.id", period.ID),
		attribute.String("owner.id", period.OwnerID),
	)

	links := make([]domain.ProjectLink, len(req.Links))
	for i, l := range req.Links {
		links[i] = domain.ProjectLink{WorkItemID: l.WorkItemID, TargetCount: l.TargetCount}
	}
	if err := h.sync.SetPeriodLinks(ctx, period, links); err != nil {
		h.logger.Error("create period", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create period")
		return
	}

	attached, err := h.runner.AttachPending(ctx, period.OwnerID, period)
	if err != nil {
		// The period exists; attach gaps are retried on the next pass.
		h.logger.Error("attach pending carry-overs",
			slog.String("period_id", period.ID),
			slog.String("error", err.Error()),
		)
	}

	telemetry.APIMutationsTotal.WithLabelValues("period").Inc()
	h.logger.Info("period created",
		slog.String("period_id", period.ID),
		slog.String("owner_id", period.OwnerID),
		slog.Int("attached", attached),
	)

	resp := h.periodResponse(period)
	resp.Attached = attached
	writeJSON(w, http.StatusCreated, resp)
}

// GetPeriod handles GET /api/v1/periods/{id}. Reads repair one-sided
// links as a side effect.
func (h *REST) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	period, err := h.periods.GetByID(ctx, id)
	if err != nil {
		h.respondStoreError(w, err, "failed to load period")
		return
	}
	h.sync.RepairPeriod(ctx, period)
	writeJSON(w, http.StatusOK, h.periodResponse(period))
}

// ListPeriods handles GET /api/v1/periods?owner_id=...
func (h *REST) ListPeriods(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerID(r)
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	periods, err := h.periods.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.respondStoreError(w, err, "failed to list periods")
		return
	}
	out := make([]PeriodResponse, len(periods))
	for i, p := range periods {
		out[i] = h.periodResponse(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// SetPeriodLinksRequest is the JSON body for PUT /periods/{id}/links.
type SetPeriodLinksRequest struct {
	Links []LinkInput `json:"links"`
}

// SetPeriodLinks handles PUT /api/v1/periods/{id}/links: it replaces the
// period's link list wholesale.
func (h *REST) SetPeriodLinks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var req SetPeriodLinksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	period, err := h.periods.GetByID(ctx, id)
	if err != nil {
		h.respondStoreError(w, err, "failed to load period")
		return
	}

	links := make([]domain.ProjectLink, len(req.Links))
	for i, l := range req.Links {
		links[i] = domain.ProjectLink{WorkItemID: l.WorkItemID, TargetCount: l.TargetCount}
	}
	if err := h.sync.SetPeriodLinks(ctx, period, links); err != nil {
		h.logger.Error("set period links", slog.String("period_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to update links")
		return
	}

	telemetry.APIMutationsTotal.WithLabelValues("period").Inc()
	writeJSON(w, http.StatusOK, h.periodResponse(period))
}

// ToggleKeyResultRequest is the JSON body for PATCH key-results.
type ToggleKeyResultRequest struct {
	Done bool `json:"done"`
}

// ToggleKeyResult handles PATCH /api/v1/periods/{id}/key-results/{krID}.
func (h *REST) ToggleKeyResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	krID := chi.URLParam(r, "krID")
	ctx := r.Context()

	var req ToggleKeyResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	period, err := h.periods.GetByID(ctx, id)
	if err != nil {
		h.respondStoreError(w, err, "failed to load period")
		return
	}

	found := false
	for i := range period.KeyResults {
		if period.KeyResults[i].ID == krID {
			period.KeyResults[i].Done = req.Done
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "key result not found")
		return
	}

	period.UpdatedAt = h.now().UTC()
	if err := h.periods.Upsert(ctx, period); err != nil {
		h.respondStoreError(w, err, "failed to update key result")
		return
	}
	telemetry.APIMutationsTotal.WithLabelValues("period").Inc()
	writeJSON(w, http.StatusOK, h.periodResponse(period))
}

// DeletePeriod handles DELETE /api/v1/periods/{id}. The period document
// goes first, then the back-references are stripped from every linked
// work item.
func (h *REST) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	period, err := h.periods.GetByID(ctx, id)
	if err != nil {
		h.respondStoreError(w, err, "failed to load period")
		return
	}
	if err := h.periods.Delete(ctx, id); err != nil {
		h.respondStoreError(w, err, "failed to delete period")
		return
	}
	h.sync.UnlinkEverywhere(ctx, id, period.LinkedWorkItemIDs())

	telemetry.APIMutationsTotal.WithLabelValues("period").Inc()
	h.logger.Info("period deleted",
		slog.String("period_id", id),
		slog.Int("unlinked", len(period.ProjectLinks)),
	)
	w.WriteHeader(http.StatusNoContent)
}

// RecountPeriod handles POST /api/v1/periods/{id}/recount: it rebuilds
// the period's done counters from the task collection.
func (h *REST) RecountPeriod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.tracker.Recount(r.Context(), id); err != nil {
		h.respondStoreError(w, err, "failed to recount period")
		return
	}
	period, err := h.periods.GetByID(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, "failed to load period")
		return
	}
	writeJSON(w, http.StatusOK, h.periodResponse(period))
}

// ── work items ───────────────────────────────────────────────────────────────

// CreateWorkItemRequest is the JSON body for POST /work-items.
type CreateWorkItemRequest struct {
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	Category        string    `json:"category"`
	AreaID          string    `json:"area_id,omitempty"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	AggregateTarget int       `json:"aggregate_target"`
}

// WorkItemResponse is a work item plus derived fields.
type WorkItemResponse struct {
	domain.WorkItem
	Incomplete bool `json:"incomplete"`
}

// CreateWorkItem handles POST /api/v1/work-items.
func (h *REST) CreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		writeError(w, http.StatusBadRequest, "field 'owner_id' is required")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "field 'title' is required")
		return
	}
	category := domain.Category(req.Category)
	if category != domain.CategoryRepetitive && category != domain.CategoryTaskBased {
		writeError(w, http.StatusBadRequest, "field 'category' must be REPETITIVE or TASK_BASED")
		return
	}
	if req.End.Before(req.Start) {
		writeError(w, http.StatusBadRequest, "'end' must not precede 'start'")
		return
	}

	now := h.now().UTC()
	item := &domain.WorkItem{
		ID:              uuid.New().String(),
		OwnerID:         req.OwnerID,
		Title:           req.Title,
		Category:        category,
		AreaID:          req.AreaID,
		Start:           req.Start,
		End:             req.End,
		AggregateTarget: req.AggregateTarget,
		MigrationState:  domain.MigrationNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.items.Upsert(r.Context(), item); err != nil {
		h.respondStoreError(w, err, "failed to create work item")
		return
	}

	telemetry.APIMutationsTotal.WithLabelValues("work_item").Inc()
	h.logger.Info("work item created",
		slog.String("work_item_id", item.ID),
		slog.String("owner_id", item.OwnerID),
	)
	writeJSON(w, http.StatusCreated, WorkItemResponse{WorkItem: *item, Incomplete: item.Incomplete()})
}

// GetWorkItem handles GET /api/v1/work-items/{id}. Reads repair one-sided
// links and refresh the progress cache before responding.
func (h *REST) GetWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	item, err := h.items.GetByID(ctx, id)
	if err != nil {
		h.respondStoreError(w, err, "failed to load work item")
		return
	}
	h.sync.RepairWorkItem(ctx, item)
	if err := h.sync.RefreshProgressCache(ctx, item); err != nil {
		h.logger.Error("refresh progress cache on read",
			slog.String("work_item_id", id),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, WorkItemResponse{WorkItem: *item, Incomplete: item.Incomplete()})
}

// ListWorkItems handles GET /api/v1/work-items?owner_id=...
func (h *REST) ListWorkItems(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerID(r)
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	items, err := h.items.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.respondStoreError(w, err, "failed to list work items")
		return
	}
	out := make([]WorkItemResponse, len(items))
	for i, it := range items {
		out[i] = WorkItemResponse{WorkItem: *it, Incomplete: it.Incomplete()}
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateWorkItemRequest is the JSON body for PATCH /work-items/{id}.
// Absent fields are left untouched.
type UpdateWorkItemRequest struct {
	Title           *string    `json:"title,omitempty"`
	AreaID          *string    `json:"area_id,omitempty"`
	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	AggregateTarget *int       `json:"aggregate_target,omitempty"`
}

// UpdateWorkItem handles PATCH /api/v1/work-items/{id}. Window or target
// changes invalidate the progress cache, so it is recomputed after the
// write.
func (h *REST) UpdateWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var req UpdateWorkItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.items.GetByID(ctx, id)
	if err != nil {
		h.respondStoreError(w, err, "failed to load work item")
		return
	}

	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			writeError(w, http.StatusBadRequest, "field 'title' must not be empty")
			return
		}
		item.Title = *req.Title
	}
	if req.AreaID != nil {
		item.AreaID = *req.AreaID
	}
	if req.Start != nil {
		item.Start = *req.Start
	}
	if req.End != nil {
		item.End = *req.End
	}
	if item.End.Before(item.Start) {
		writeError(w, http.StatusBadRequest, "'end' must not precede 'start'")
		return
	}
	if req.AggregateTarget != nil {
		if *req.AggregateTarget < 0 {
			writeError(w, http.StatusBadRequest, "field 'aggregate_target' must not be negative")
			return
		}
		item.AggregateTarget = *req.AggregateTarget
	}

	item.UpdatedAt = h.now().UTC()
	if err := h.items.Upsert(ctx, item); err != nil {
		h.respondStoreError(w, err, "failed to update work item")
		return
	}
	if err := h.sync.RefreshProgressCache(ctx, item); err != nil {
		h.logger.Error("refresh progress cache after update",
			slog.String("work_item_id", id),
			slog.String("error", err.Error()),
		)
	}

	telemetry.APIMutationsTotal.WithLabelValues("work_item").Inc()
	writeJSON(w, http.StatusOK, WorkItemResponse{WorkItem: *item, Incomplete: item.Incomplete()})
}

// DeleteWorkItem handles DELETE /api/v1/work-items/{id}: the item's link
// is removed from every period it appears in, then the document goes.
func (h *REST) DeleteWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	item, err := h.items.GetByID(ctx, id)
	if err != nil {
		h.respondStoreError(w, err, "failed to load work item")
		return
	}

	for _, pid := range item.LinkedPeriods {
		period, err := h.periods.GetByID(ctx, pid)
		if err != nil {
			var notFound *domain.PeriodNotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			h.respondStoreError(w, err, "failed to unlink work item")
			return
		}
		kept := period.ProjectLinks[:0]
		for _, l := range period.ProjectLinks {
			if l.WorkItemID != id {
				kept = append(kept, l)
			}
		}
		period.ProjectLinks = kept
		period.UpdatedAt = h.now().UTC()
		if err := h.periods.Upsert(ctx, period); err != nil {
			h.respondStoreError(w, err, "failed to unlink work item")
			return
		}
	}

	if err := h.items.Delete(ctx, id); err != nil {
		h.respondStoreError(w, err, "failed to delete work item")
		return
	}

	telemetry.APIMutationsTotal.WithLabelValues("work_item").Inc()
	h.logger.Info("work item deleted",
		slog.String("work_item_id", id),
		slog.Int("unlinked", len(item.LinkedPeriods)),
	)
	w.WriteHeader(http.StatusNoContent)
}

// WorkItemStatusResponse is the GET /work-items/{id}/status body.
type WorkItemStatusResponse struct {
	WorkItemID      string                 `json:"work_item_id"`
	MigrationState  domain.MigrationState  `json:"migration_state"`
	Incomplete      bool                   `json:"incomplete"`
	CurrentProgress *domain.PeriodProgress `json:"current_progress,omitempty"`
}

// GetWorkItemStatus handles GET /api/v1/work-items/{id}/status: a slim
// view for dashboards polling progress.
func (h *REST) GetWorkItemStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	item, err := h.items.GetByID(ctx, id)
	if err != nil {
		h.respondStoreError(w, err, "failed to load work item")
		return
	}
	if err := h.sync.RefreshProgressCache(ctx, item); err != nil {
		h.logger.Error("refresh progress cache on read",
			slog.String("work_item_id", id),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, WorkItemStatusResponse{
		WorkItemID:      item.ID,
		MigrationState:  item.MigrationState,
		Incomplete:      item.Incomplete(),
		CurrentProgress: item.CurrentProgress,
	})
}

// WindowStatusResponse is the GET /status body.
type WindowStatusResponse struct {
	Start  time.Time              `json:"start"`
	End    time.Time              `json:"end"`
	Status domain.LifecycleStatus `json:"status"`
}

// GetWindowStatus handles GET /api/v1/status?start=&end=: it derives the
// lifecycle status of an arbitrary window without touching the store, so
// clients can preview what a period with those dates would report.
func (h *REST) GetWindowStatus(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "query parameter 'start' must be RFC 3339")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "query parameter 'end' must be RFC 3339")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "'end' must not precede 'start'")
		return
	}
	writeJSON(w, http.StatusOK, WindowStatusResponse{
		Start:  start,
		End:    end,
		Status: domain.StatusAt(domain.Window{Start: start, End: end}, h.now()),
	})
}

// ── carry-over ───────────────────────────────────────────────────────────────

// RunCarryoverRequest is the JSON body for POST /carryover/run. A zero
// Until defaults to now; a zero Since defaults to one full period plus
// slack before Until.
type RunCarryoverRequest struct {
	Since time.Time `json:"since,omitempty"`
	Until time.Time `json:"until,omitempty"`
}

// RunCarryover handles POST /api/v1/carryover/run: an operator-triggered
// pass over the given cutoff window.
func (h *REST) RunCarryover(w http.ResponseWriter, r *http.Request) {
	var req RunCarryoverRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Until.IsZero() {
		req.Until = h.now()
	}
	if req.Since.IsZero() {
		req.Since = req.Until.Add(-35 * 24 * time.Hour)
	}
	if !req.Since.Before(req.Until) {
		writeError(w, http.StatusBadRequest, "'since' must precede 'until'")
		return
	}

	summary, err := h.runner.RunPass(r.Context(), req.Since, req.Until)
	if err != nil {
		h.logger.Error("manual carry-over pass", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "carry-over pass failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ── health ───────────────────────────────────────────────────────────────────

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz — checks store connectivity with a probe
// read that is expected to miss.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.periods.GetByID(ctx, "__readyz__"); err != nil {
		var notFound *domain.PeriodNotFoundError
		if !errors.As(err, &notFound) {
			writeError(w, http.StatusServiceUnavailable, "store not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (h *REST) respondStoreError(w http.ResponseWriter, err error, msg string) {
	var periodNotFound *domain.PeriodNotFoundError
	var itemNotFound *domain.WorkItemNotFoundError
	if errors.As(err, &periodNotFound) || errors.As(err, &itemNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error(msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
