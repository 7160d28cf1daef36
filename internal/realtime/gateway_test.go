package realtime

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/queue"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) (*Gateway, *db.Queries) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	q := db.NewQueries(database)

	broker := queue.NewLocalBroker()
	t.Cleanup(func() { broker.Close() })

	public, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	logger := slog.New(slog.DiscardHandler)
	return NewGateway(q, broker, NewSigner(public, private, 0), logger, nil), q
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "ws-1#user-1", ChannelName("ws-1", "user-1"))

	ws, user, ok := ParseChannelName("ws-1#user-1")
	require.True(t, ok)
	assert.Equal(t, "ws-1", ws)
	assert.Equal(t, "user-1", user)

	for _, bad := range []string{"", "ws-1", "#user-1", "ws-1#", "ws-1#a#b"} {
		_, _, ok := ParseChannelName(bad)
		assert.False(t, ok, bad)
	}
}

func TestChannelTokenRejectsBadUser(t *testing.T) {
	g, _ := newTestGateway(t)
	_, _, err := g.ChannelToken("")
	assert.Error(t, err)
	_, _, err = g.ChannelToken("a#b")
	assert.Error(t, err)

	token, expiresAt, err := g.ChannelToken("user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)
	tok, err := g.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", tok.Subject)
}

func TestPublishPersistsForReplay(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(t)

	msgs, cancel, err := g.Subscribe(ChannelName("ws-1", "user-1"))
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, g.Publish(ctx, "ws-1", "user-1", Event{Type: "plan-updated", Data: map[string]string{"planId": "p1"}}))
	require.NoError(t, g.Publish(ctx, "ws-2", "user-1", Event{Type: "render-updated"}))
	require.NoError(t, g.Publish(ctx, "ws-1", "user-2", Event{Type: "plan-updated"}))

	select {
	case msg := <-msgs:
		assert.JSONEq(t, `{"type":"plan-updated","workspaceId":"ws-1","data":{"planId":"p1"}}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	events, err := g.ListReplayableEvents(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ws-1#user-1", events[0].Channel)
	assert.Equal(t, "ws-2#user-1", events[1].Channel)
	assert.Less(t, events[0].ID, events[1].ID)
}

func TestPruneReplayEvents(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(t)
	require.NoError(t, g.Publish(ctx, "ws-1", "user-1", Event{Type: "a"}))

	n, err := g.PruneReplayEvents(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = g.PruneReplayEvents(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := g.ListReplayableEvents(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func dialURL(srv *httptest.Server, token, channel string) string {
	v := url.Values{"token": {token}, "channel": {channel}}
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "?" + v.Encode()
}

func TestHubStreamsOwnChannel(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(NewHub(g, slog.New(slog.DiscardHandler)).ServeWS))
	defer srv.Close()

	token, _, err := g.ChannelToken("user-1")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(dialURL(srv, token, "ws-1#user-1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, g.Publish(ctx, "ws-1", "user-1", Event{Type: "revision-created", Data: map[string]int{"revisionNumber": 1}}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev struct {
		Type        string `json:"type"`
		WorkspaceID string `json:"workspaceId"`
	}
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "revision-created", ev.Type)
	assert.Equal(t, "ws-1", ev.WorkspaceID)
}

func TestHubRejectsForeignChannel(t *testing.T) {
	g, _ := newTestGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(NewHub(g, slog.New(slog.DiscardHandler)).ServeWS))
	defer srv.Close()

	token, _, err := g.ChannelToken("user-1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		channel string
		status  int
	}{
		{"other user", token, "ws-1#user-2", http.StatusForbidden},
		{"bad token", "garbage", "ws-1#user-1", http.StatusUnauthorized},
		{"bad channel", token, "ws-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(dialURL(srv, tt.token, tt.channel), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
