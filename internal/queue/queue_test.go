package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueries(t *testing.T) *db.Queries {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return db.NewQueries(database)
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestNotifySendsCommittedItemID(t *testing.T) {
	ctx := context.Background()
	q := newTestQueries(t)
	broker := NewLocalBroker()
	defer broker.Close()
	p := NewPublisher(broker, slog.New(slog.DiscardHandler), nil)

	sub, cancel, err := broker.Subscribe(ChannelNewIntent)
	require.NoError(t, err)
	defer cancel()

	w, err := q.CreateWorkspace(ctx, "ws", "user-1", "manual")
	require.NoError(t, err)
	job := db.NewJob(ChannelNewIntent, func(a db.Artifact) any { return map[string]string{"chatMessageId": a.ID} })
	chat, err := q.CreateChatMessage(ctx, w.ID, "user-1", "hello", job)
	require.NoError(t, err)
	p.Notify(ctx, job)

	var n Notification
	require.NoError(t, json.Unmarshal(receive(t, sub), &n))
	assert.Equal(t, job.ID, n.ID)

	stored, err := q.GetWorkItem(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, ChannelNewIntent, stored.Channel)
	assert.JSONEq(t, `{"chatMessageId":"`+chat.ID+`"}`, stored.Payload)
}

func TestNotifyFailureIsCounted(t *testing.T) {
	broker := NewLocalBroker()
	require.NoError(t, broker.Close())
	m := metrics.New(prometheus.NewRegistry())
	p := NewPublisher(broker, slog.New(slog.DiscardHandler), m)

	job := db.NewJob(ChannelExecutePlan, func(db.Artifact) any { return nil })
	p.Notify(context.Background(), job)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailures.WithLabelValues(ChannelExecutePlan)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkItemsEnqueued.WithLabelValues(ChannelExecutePlan)))
}

func TestSignalDoesNotStore(t *testing.T) {
	ctx := context.Background()
	q := newTestQueries(t)
	broker := NewLocalBroker()
	defer broker.Close()
	p := NewPublisher(broker, slog.New(slog.DiscardHandler), nil)

	sub, cancel, err := broker.Subscribe(ChannelNewNonPlanChatMessage)
	require.NoError(t, err)
	defer cancel()

	p.Signal(ctx, ChannelNewNonPlanChatMessage, map[string]string{"chatMessageId": "c1"})
	assert.JSONEq(t, `{"chatMessageId":"c1"}`, string(receive(t, sub)))

	items, err := q.ListWorkItems(ctx, ChannelNewNonPlanChatMessage)
	require.NoError(t, err)
	assert.Empty(t, items)
}
