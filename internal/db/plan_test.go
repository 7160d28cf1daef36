package db

import (
	"context"
	"sync"
	"testing"

	"github.com/esnunes/helmforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupersedingPlanCarriesChatHistory(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()
	w, err := q.CreateWorkspace(ctx, "ws", "user-1", "manual")
	require.NoError(t, err)

	var chats []string
	for _, prompt := range []string{"one", "two", "three"} {
		c, err := q.CreateChatMessage(ctx, w.ID, "user-1", prompt)
		require.NoError(t, err)
		chats = append(chats, c.ID)
	}

	a, err := q.CreatePlan(ctx, w.ID, chats[0], "")
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusPending, a.Status)
	assert.Nil(t, a.ProceedAt)

	a2, err := q.CreatePlan(ctx, w.ID, chats[1], a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{chats[0], chats[1]}, a2.ChatMessageIDs)

	b, err := q.CreatePlan(ctx, w.ID, chats[2], a2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{chats[0], chats[1], chats[2]}, b.ChatMessageIDs)

	old, err := q.GetPlan(ctx, a2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusIgnored, old.Status)

	open, err := q.LatestOpenPlanID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, open)
}

func TestSupersedingProceededPlanFails(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()
	w, err := q.CreateWorkspace(ctx, "ws", "user-1", "manual")
	require.NoError(t, err)
	c1, err := q.CreateChatMessage(ctx, w.ID, "user-1", "one")
	require.NoError(t, err)
	p, err := q.CreatePlan(ctx, w.ID, c1.ID, "")
	require.NoError(t, err)
	_, err = q.CreateRevision(ctx, p.ID, "user-1")
	require.NoError(t, err)

	c2, err := q.CreateChatMessage(ctx, w.ID, "user-1", "two")
	require.NoError(t, err)
	_, err = q.CreatePlan(ctx, w.ID, c2.ID, p.ID)
	assert.ErrorIs(t, err, ErrPrecondition)

	// The failed supersession must not have linked anything.
	got, err := q.GetChatMessage(ctx, c2.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ResponsePlanID)

	open, err := q.LatestOpenPlanID(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPlanActionFilesKeepOrder(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()
	w, err := q.CreateWorkspace(ctx, "ws", "user-1", "manual")
	require.NoError(t, err)
	c, err := q.CreateChatMessage(ctx, w.ID, "user-1", "one")
	require.NoError(t, err)
	p, err := q.CreatePlan(ctx, w.ID, c.ID, "")
	require.NoError(t, err)

	require.NoError(t, q.UpsertPlanActionFile(ctx, p.ID, models.ActionFile{Action: "create", Path: "values.yaml", Status: "pending"}))
	require.NoError(t, q.UpsertPlanActionFile(ctx, p.ID, models.ActionFile{Action: "update", Path: "Chart.yaml", Status: "pending"}))
	require.NoError(t, q.UpsertPlanActionFile(ctx, p.ID, models.ActionFile{Action: "create", Path: "values.yaml", Status: "created"}))
	require.NoError(t, q.SetPlanDescription(ctx, p.ID, "add values"))
	require.NoError(t, q.UpdatePlanStatus(ctx, p.ID, models.PlanStatusReview))

	got, err := q.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusReview, got.Status)
	assert.Equal(t, "add values", got.Description)
	assert.Equal(t, []models.ActionFile{
		{Action: "create", Path: "values.yaml", Status: "created"},
		{Action: "update", Path: "Chart.yaml", Status: "pending"},
	}, got.ActionFiles)

	_, err = q.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupersedingIgnoredPlanFails(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()
	w, err := q.CreateWorkspace(ctx, "ws", "user-1", "manual")
	require.NoError(t, err)
	var chats []string
	for _, prompt := range []string{"one", "two", "three"} {
		c, err := q.CreateChatMessage(ctx, w.ID, "user-1", prompt)
		require.NoError(t, err)
		chats = append(chats, c.ID)
	}

	a, err := q.CreatePlan(ctx, w.ID, chats[0], "")
	require.NoError(t, err)
	b, err := q.CreatePlan(ctx, w.ID, chats[1], a.ID)
	require.NoError(t, err)

	_, err = q.CreatePlan(ctx, w.ID, chats[2], a.ID)
	assert.ErrorIs(t, err, ErrPrecondition)

	got, err := q.GetChatMessage(ctx, chats[2])
	require.NoError(t, err)
	assert.Nil(t, got.ResponsePlanID)

	open, err := q.LatestOpenPlanID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, open, "the lineage must not fork")

	// The survivor can still proceed; the ignored plan cannot.
	_, err = q.CreateRevision(ctx, b.ID, "user-1")
	require.NoError(t, err)
	_, err = q.CreateRevision(ctx, a.ID, "user-1")
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestConcurrentSupersessionsHaveOneWinner(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()
	w, err := q.CreateWorkspace(ctx, "ws", "user-1", "manual")
	require.NoError(t, err)
	first, err := q.CreateChatMessage(ctx, w.ID, "user-1", "first")
	require.NoError(t, err)
	a, err := q.CreatePlan(ctx, w.ID, first.ID, "")
	require.NoError(t, err)

	const n = 4
	chats := make([]string, n)
	for i := range chats {
		c, err := q.CreateChatMessage(ctx, w.ID, "user-1", "revise")
		require.NoError(t, err)
		chats[i] = c.ID
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = q.CreatePlan(ctx, w.ID, chats[i], a.ID)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrPrecondition)
	}
	assert.Equal(t, 1, wins)
}

func TestUpdatePlanStatusFollowsTransitions(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()
	w, err := q.CreateWorkspace(ctx, "ws", "user-1", "manual")
	require.NoError(t, err)
	c, err := q.CreateChatMessage(ctx, w.ID, "user-1", "one")
	require.NoError(t, err)
	p, err := q.CreatePlan(ctx, w.ID, c.ID, "")
	require.NoError(t, err)

	assert.ErrorIs(t, q.UpdatePlanStatus(ctx, p.ID, models.PlanStatusApplied), ErrPrecondition)
	assert.ErrorIs(t, q.UpdatePlanStatus(ctx, p.ID, models.PlanStatusApplying), ErrPrecondition)
	assert.ErrorIs(t, q.UpdatePlanStatus(ctx, p.ID, models.PlanStatusPending), ErrPrecondition)
	require.NoError(t, q.UpdatePlanStatus(ctx, p.ID, models.PlanStatusReview))
	assert.ErrorIs(t, q.UpdatePlanStatus(ctx, p.ID, models.PlanStatusReview), ErrPrecondition)

	_, err = q.CreateRevision(ctx, p.ID, "user-1")
	require.NoError(t, err)
	require.NoError(t, q.UpdatePlanStatus(ctx, p.ID, models.PlanStatusApplied))

	got, err := q.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusApplied, got.Status)

	assert.ErrorIs(t, q.UpdatePlanStatus(ctx, "missing", models.PlanStatusReview), ErrNotFound)
}

func TestCreatePlanStoresJobs(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()
	w, err := q.CreateWorkspace(ctx, "ws", "user-1", "manual")
	require.NoError(t, err)
	c, err := q.CreateChatMessage(ctx, w.ID, "user-1", "one")
	require.NoError(t, err)

	job := NewJob("new_plan", func(a Artifact) any { return map[string]string{"planId": a.ID} })
	p, err := q.CreatePlan(ctx, w.ID, c.ID, "", job)
	require.NoError(t, err)

	item, err := q.GetWorkItem(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"planId":"`+p.ID+`"}`, item.Payload)

	// A duplicate work item id fails the insert and takes the plan with it.
	c2, err := q.CreateChatMessage(ctx, w.ID, "user-1", "two")
	require.NoError(t, err)
	_, err = q.CreatePlan(ctx, w.ID, c2.ID, "", job)
	require.Error(t, err)

	got, err := q.GetChatMessage(ctx, c2.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ResponsePlanID)
	open, err := q.LatestOpenPlanID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, open)
}
