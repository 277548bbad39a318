package progress

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
	"github.com/sol-namoo/monthlyGrow-sub000/pkg/telemetry"
)

// Handler adapts the Tracker to the completion feed's handler interface.
type Handler struct {
	tracker *Tracker
	logger  *slog.Logger
}

// NewHandler creates a Handler for task.completed events.
func NewHandler(tracker *Tracker, logger *slog.Logger) *Handler {
	return &Handler{tracker: tracker, logger: logger}
}

func (h *Handler) EventType() string { return domain.EventTypeTaskCompleted }

// Handle decodes and applies one completion event. Malformed payloads are
// discarded (returning an error would only redeliver the same bad bytes).
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var ev domain.CompletionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.logger.Error("malformed completion event, discarding",
			slog.String("error", err.Error()),
			slog.String("raw", string(payload)),
		)
		telemetry.ProgressEventsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if ev.TaskID == "" || ev.WorkItemID == "" {
		h.logger.Error("completion event missing ids, discarding", slog.String("raw", string(payload)))
		telemetry.ProgressEventsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	return h.tracker.Apply(ctx, ev)
}
