// Package engine drives the chat workflows of a workspace: it records
// state in the store and hands the heavy work to out-of-process workers
// through the work queue.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/metrics"
	"github.com/esnunes/helmforge/internal/queue"
	"github.com/esnunes/helmforge/internal/realtime"
)

// ErrInvalidInput reports a request the engine refuses before touching
// any state.
var ErrInvalidInput = errors.New("invalid input")

// EventPublisher delivers realtime updates to a user viewing a workspace.
type EventPublisher interface {
	Publish(ctx context.Context, workspaceID, userID string, ev realtime.Event) error
}

// Event types published to clients.
const (
	EventChatMessageCreated = "chat-message-created"
	EventPlanCreated        = "plan-created"
	EventConversionCreated  = "conversion-created"
	EventRenderCreated      = "render-created"
	EventRevisionCreated    = "revision-created"
	EventRolledBack         = "rolled-back"
)

type Engine struct {
	queries   *db.Queries
	publisher *queue.Publisher
	events    EventPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New returns an Engine. events may be nil, in which case no realtime
// updates are sent.
func New(queries *db.Queries, publisher *queue.Publisher, events EventPublisher, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		queries:   queries,
		publisher: publisher,
		events:    events,
		logger:    logger,
		metrics:   m,
	}
}

// notify sends a realtime event. The state change it describes is already
// committed, so failures are only logged.
func (e *Engine) notify(ctx context.Context, workspaceID, userID, eventType string, data any) {
	if e.events == nil || userID == "" {
		return
	}
	ev := realtime.Event{Type: eventType, Data: data}
	if err := e.events.Publish(ctx, workspaceID, userID, ev); err != nil {
		e.logger.Warn("publishing realtime event", "type", eventType, "workspace", workspaceID, "error", err)
	}
}
