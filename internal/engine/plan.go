package engine

import (
	"context"
	"errors"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/models"
	"github.com/esnunes/helmforge/internal/queue"
)

// maxSupersedeAttempts bounds how often createPlan looks up the open plan
// again after a concurrent turn superseded it first.
const maxSupersedeAttempts = 3

type planPayload struct {
	PlanID        string `json:"planId"`
	WorkspaceID   string `json:"workspaceId"`
	ChatMessageID string `json:"chatMessageId"`
}

// createPlan starts a plan for chat, revising supersedingPlanID or, when
// empty, the newest plan of the workspace that has not proceeded. An
// explicitly named plan that is no longer open fails with
// db.ErrPrecondition; a defaulted one that closed in the meantime is
// looked up again.
func (e *Engine) createPlan(ctx context.Context, chat *models.ChatMessage, supersedingPlanID string) error {
	job := db.NewJob(queue.ChannelNewPlan, func(a db.Artifact) any {
		return planPayload{PlanID: a.ID, WorkspaceID: a.WorkspaceID, ChatMessageID: chat.ID}
	})

	var (
		plan *models.Plan
		err  error
	)
	for attempt := 1; attempt <= maxSupersedeAttempts; attempt++ {
		superseded := supersedingPlanID
		if superseded == "" {
			if superseded, err = e.queries.LatestOpenPlanID(ctx, chat.WorkspaceID); err != nil {
				return err
			}
		}
		plan, err = e.queries.CreatePlan(ctx, chat.WorkspaceID, chat.ID, superseded, job)
		if supersedingPlanID != "" || superseded == "" || !errors.Is(err, db.ErrPrecondition) {
			break
		}
		e.logger.Debug("open plan closed concurrently, retrying", "chat", chat.ID, "plan", superseded, "attempt", attempt)
	}
	if err != nil {
		return err
	}
	e.publisher.Notify(ctx, job)
	e.notify(ctx, chat.WorkspaceID, chat.UserID, EventPlanCreated, map[string]string{"planId": plan.ID})
	return nil
}

// ProceedPlan commits a plan. It is CreateRevision under the name the
// chat flow uses.
func (e *Engine) ProceedPlan(ctx context.Context, planID, userID string) (int, error) {
	return e.CreateRevision(ctx, planID, userID)
}
