package engine

import (
	"context"
	"fmt"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/models"
	"github.com/esnunes/helmforge/internal/queue"
)

// RenderRequest selects what to render. Zero values mean "use the
// default": the current revision and its first chart. UserID receives the
// realtime update, if set.
type RenderRequest struct {
	WorkspaceID    string
	ChatMessageID  string
	RevisionNumber *int
	ChartID        string
	IsAutorender   bool
	UserID         string
}

type renderPayload struct {
	RenderedWorkspaceID string `json:"renderedWorkspaceId"`
	WorkspaceID         string `json:"workspaceId"`
	RevisionNumber      int    `json:"revisionNumber"`
	ChartID             string `json:"chartId"`
	ChatMessageID       string `json:"chatMessageId,omitempty"`
}

// RenderWorkspace snapshots a render of the workspace and enqueues it. A
// workspace without charts has nothing to render: the call returns nil
// and enqueues nothing.
func (e *Engine) RenderWorkspace(ctx context.Context, req RenderRequest) (*models.RenderedWorkspace, error) {
	return e.render(ctx, req, true)
}

// render links the render to the requesting chat message only when link
// is set; rollback renders are tagged with the message but not linked.
func (e *Engine) render(ctx context.Context, req RenderRequest, link bool) (*models.RenderedWorkspace, error) {
	w, err := e.queries.GetWorkspace(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	rev := w.CurrentRevisionNumber
	if req.RevisionNumber != nil {
		rev = *req.RevisionNumber
		if _, err := e.queries.GetRevision(ctx, w.ID, rev); err != nil {
			return nil, err
		}
	}

	charts, err := e.queries.ListCharts(ctx, w.ID, rev)
	if err != nil {
		return nil, err
	}
	if len(charts) == 0 {
		e.logger.Debug("nothing to render", "workspace", w.ID, "revision", rev)
		return nil, nil
	}

	chartID := req.ChartID
	if chartID == "" {
		chartID = charts[0].ID
	}
	chartIDs := make([]string, len(charts))
	found := false
	for i, c := range charts {
		chartIDs[i] = c.ID
		found = found || c.ID == chartID
	}
	if !found {
		return nil, fmt.Errorf("chart %s in revision %d: %w", chartID, rev, db.ErrNotFound)
	}

	job := db.NewJob(queue.ChannelRenderWorkspace, func(a db.Artifact) any {
		return renderPayload{
			RenderedWorkspaceID: a.ID,
			WorkspaceID:         a.WorkspaceID,
			RevisionNumber:      a.RevisionNumber,
			ChartID:             chartID,
			ChatMessageID:       req.ChatMessageID,
		}
	})
	linkChatID := ""
	if link {
		linkChatID = req.ChatMessageID
	}
	rendered, err := e.queries.CreateRenderedWorkspace(ctx, w.ID, rev, req.IsAutorender, chartIDs, linkChatID, job)
	if err != nil {
		return nil, err
	}
	e.publisher.Notify(ctx, job)
	e.notify(ctx, w.ID, req.UserID, EventRenderCreated, map[string]any{
		"renderedWorkspaceId": rendered.ID,
		"revisionNumber":      rev,
	})
	return rendered, nil
}
