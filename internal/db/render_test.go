package db

import (
	"context"
	"testing"

	"github.com/esnunes/helmforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderLifecycle(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	w, err := q.CreateWorkspace(ctx, "ws", "user-1", "manual")
	require.NoError(t, err)
	rev, _ := proceed(t, q, w.ID)
	web, err := q.AddChart(ctx, w.ID, rev, "web")
	require.NoError(t, err)
	api, err := q.AddChart(ctx, w.ID, rev, "api")
	require.NoError(t, err)
	require.NoError(t, q.MarkRevisionComplete(ctx, w.ID, rev))

	r, err := q.CreateRenderedWorkspace(ctx, w.ID, rev, false, []string{web.ID, api.ID}, "")
	require.NoError(t, err)
	require.Len(t, r.Charts, 2)
	assert.Equal(t, "api", r.Charts[0].ChartName)
	assert.Nil(t, r.CompletedAt)

	// The next revision copies the charts with the same ids; the older
	// render must still list each chart once.
	proceed(t, q, w.ID)
	r, err = q.GetRenderedWorkspace(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, r.Charts, 2)

	result := r.Charts[1]
	result.IsSuccess = true
	result.HelmTemplateCommand = "helm template web ."
	result.Files = []models.RenderedFile{{FilePath: "templates/deployment.yaml", RenderedContent: "kind: Deployment\n"}}
	require.NoError(t, q.CompleteRenderedChart(ctx, result))
	require.NoError(t, q.CompleteRenderedWorkspace(ctx, r.ID))

	r, err = q.GetRenderedWorkspace(ctx, r.ID)
	require.NoError(t, err)
	assert.NotNil(t, r.CompletedAt)
	assert.True(t, r.Charts[1].IsSuccess)
	require.Len(t, r.Charts[1].Files, 1)
	assert.Equal(t, "templates/deployment.yaml", r.Charts[1].Files[0].FilePath)
	assert.False(t, r.Charts[0].IsSuccess)

	got, err := q.GetRevision(ctx, w.ID, rev)
	require.NoError(t, err)
	assert.True(t, got.IsRendered)

	renders, err := q.ListWorkspaceRenders(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, renders, 1)
	assert.Equal(t, r.ID, renders[0].ID)
}

func TestRenderMissing(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	_, err := q.GetRenderedWorkspace(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, q.CompleteRenderedWorkspace(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, q.CompleteRenderedChart(ctx, models.RenderedChart{ID: "missing"}), ErrNotFound)
}

func TestRenderLinksChatAndStoresJob(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()

	w, err := q.CreateWorkspace(ctx, "ws", "user-1", "manual")
	require.NoError(t, err)
	rev, _ := proceed(t, q, w.ID)
	web, err := q.AddChart(ctx, w.ID, rev, "web")
	require.NoError(t, err)
	chat, err := q.CreateChatMessage(ctx, w.ID, "user-1", "render it")
	require.NoError(t, err)

	job := NewJob("render_workspace", func(a Artifact) any {
		return map[string]any{"renderedWorkspaceId": a.ID, "revisionNumber": a.RevisionNumber}
	})
	r, err := q.CreateRenderedWorkspace(ctx, w.ID, rev, false, []string{web.ID}, chat.ID, job)
	require.NoError(t, err)

	got, err := q.GetChatMessage(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ResponseRenderID)
	assert.Equal(t, r.ID, *got.ResponseRenderID)

	item, err := q.GetWorkItem(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"renderedWorkspaceId":"`+r.ID+`","revisionNumber":1}`, item.Payload)

	// Linking a message that already has an artifact rolls the render back.
	_, err = q.CreateRenderedWorkspace(ctx, w.ID, rev, false, []string{web.ID}, chat.ID, NewJob("render_workspace", func(a Artifact) any { return a }))
	require.Error(t, err)
	renders, err := q.ListWorkspaceRenders(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, renders, 1)
}
