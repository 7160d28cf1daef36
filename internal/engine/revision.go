package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/queue"
)

// maxRevisionAttempts bounds how often CreateRevision retries after losing
// the race for a revision number to a concurrent writer.
const maxRevisionAttempts = 3

type executePlanPayload struct {
	PlanID         string `json:"planId"`
	WorkspaceID    string `json:"workspaceId"`
	RevisionNumber int    `json:"revisionNumber"`
}

// CreateRevision commits planID as the next revision of its workspace
// together with the work item that materializes it. A lost race is
// retried as a fresh revision.
func (e *Engine) CreateRevision(ctx context.Context, planID, userID string) (int, error) {
	job := db.NewJob(queue.ChannelExecutePlan, func(a db.Artifact) any {
		return executePlanPayload{PlanID: a.ID, WorkspaceID: a.WorkspaceID, RevisionNumber: a.RevisionNumber}
	})

	var (
		rev int
		err error
	)
	for attempt := 1; attempt <= maxRevisionAttempts; attempt++ {
		rev, err = e.queries.CreateRevision(ctx, planID, userID, job)
		if !errors.Is(err, db.ErrRevisionConflict) {
			break
		}
		e.metrics.RevisionConflict()
		e.logger.Debug("revision number taken, retrying", "plan", planID, "attempt", attempt)
	}
	if err != nil {
		return 0, err
	}
	e.metrics.RevisionCreated()
	e.publisher.Notify(ctx, job)

	plan, err := e.queries.GetPlan(ctx, planID)
	if err != nil {
		return 0, err
	}
	e.logger.Info("revision created", "workspace", plan.WorkspaceID, "revision", rev, "plan", planID)
	e.notify(ctx, plan.WorkspaceID, userID, EventRevisionCreated, map[string]any{
		"planId":         planID,
		"revisionNumber": rev,
	})
	return rev, nil
}

// RollbackToRevision makes target the current revision of the workspace,
// deleting everything created after it, and enqueues a render of the
// restored revision tagged with chatMessageID. It reports false, and
// enqueues nothing, when the workspace was already at target.
func (e *Engine) RollbackToRevision(ctx context.Context, workspaceID string, target int, chatMessageID, userID string) (bool, error) {
	if target < 0 {
		return false, fmt.Errorf("revision %d: %w", target, ErrInvalidInput)
	}
	changed, err := e.queries.RollbackToRevision(ctx, workspaceID, target)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	e.metrics.RolledBack()
	e.logger.Info("workspace rolled back", "workspace", workspaceID, "revision", target)

	if _, err := e.render(ctx, RenderRequest{
		WorkspaceID:    workspaceID,
		ChatMessageID:  chatMessageID,
		RevisionNumber: &target,
		UserID:         userID,
	}, false); err != nil {
		return true, fmt.Errorf("rendering restored revision: %w", err)
	}
	e.notify(ctx, workspaceID, userID, EventRolledBack, map[string]int{"revisionNumber": target})
	return true, nil
}

type summarizePayload struct {
	FileID         string `json:"fileId"`
	WorkspaceID    string `json:"workspaceId"`
	RevisionNumber int    `json:"revisionNumber"`
}

// SetFileContent replaces the content of a file in an open revision and
// enqueues a fresh summary of it.
func (e *Engine) SetFileContent(ctx context.Context, workspaceID string, revisionNumber int, fileID, content string) error {
	job := summarizeJob()
	if err := e.queries.SetFileContent(ctx, workspaceID, revisionNumber, fileID, content, job); err != nil {
		return err
	}
	e.publisher.Notify(ctx, job)
	return nil
}

// AcceptPendingContent promotes the pending content of a file and
// enqueues a summary of the result. Accepting a file with nothing
// pending is an ErrPrecondition.
func (e *Engine) AcceptPendingContent(ctx context.Context, workspaceID string, revisionNumber int, fileID string) error {
	f, err := e.queries.GetFile(ctx, workspaceID, revisionNumber, fileID)
	if err != nil {
		return err
	}
	if f.ContentPending == nil {
		return fmt.Errorf("file %s has no pending content: %w", fileID, db.ErrPrecondition)
	}
	job := summarizeJob()
	if err := e.queries.AcceptPendingContent(ctx, workspaceID, revisionNumber, fileID, job); err != nil {
		return err
	}
	e.publisher.Notify(ctx, job)
	return nil
}

func summarizeJob() db.Job {
	return db.NewJob(queue.ChannelNewSummarize, func(a db.Artifact) any {
		return summarizePayload{FileID: a.ID, WorkspaceID: a.WorkspaceID, RevisionNumber: a.RevisionNumber}
	})
}
