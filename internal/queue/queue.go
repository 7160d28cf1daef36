// Package queue hands work to out-of-process workers. A work item is a
// durable row; the broker notification that follows it only wakes a worker
// up and may be lost without losing the work.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/metrics"
)

// Channels consumed by the workers.
const (
	ChannelNewIntent             = "new_intent"
	ChannelNewPlan               = "new_plan"
	ChannelNewConversion         = "new_conversion"
	ChannelRenderWorkspace       = "render_workspace"
	ChannelExecutePlan           = "execute_plan"
	ChannelNewSummarize          = "new_summarize"
	ChannelNewNonPlanChatMessage = "new_nonplan_chat_message"
)

// Notification is the broker message sent after a work item is stored.
type Notification struct {
	ID string `json:"id"`
}

type Publisher struct {
	broker  Broker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewPublisher(broker Broker, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{broker: broker, logger: logger, metrics: m}
}

// Notify wakes workers for jobs whose work items the store has committed.
// It never fails: a lost notification leaves the item for the next poll.
func (p *Publisher) Notify(ctx context.Context, jobs ...db.Job) {
	for _, job := range jobs {
		p.metrics.WorkItemEnqueued(job.Channel)
		p.Signal(ctx, job.Channel, Notification{ID: job.ID})
	}
}

// Signal publishes payload on channel without storing anything. Failures
// are logged and counted.
func (p *Publisher) Signal(ctx context.Context, channel string, payload any) {
	b, err := json.Marshal(payload)
	if err == nil {
		err = p.broker.Publish(ctx, channel, b)
	}
	if err != nil {
		p.metrics.NotifyFailed(channel)
		p.logger.Warn("broker notify failed", "channel", channel, "error", err)
	}
}
