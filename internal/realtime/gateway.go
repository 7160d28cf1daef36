// Package realtime pushes workspace updates to connected users. Each
// (workspace, user) pair has its own channel; every event is also kept in
// a replay log so a client that reconnects can catch up.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/esnunes/helmforge/internal/metrics"
	"github.com/esnunes/helmforge/internal/models"
	"github.com/esnunes/helmforge/internal/queue"
)

// ChannelName returns the channel scoped to one user viewing one workspace.
func ChannelName(workspaceID, userID string) string {
	return workspaceID + "#" + userID
}

// ParseChannelName splits a channel into workspace and user. User ids may
// not contain '#', workspace ids are uuids.
func ParseChannelName(channel string) (workspaceID, userID string, ok bool) {
	workspaceID, userID, ok = strings.Cut(channel, "#")
	if !ok || workspaceID == "" || userID == "" || strings.Contains(userID, "#") {
		return "", "", false
	}
	return workspaceID, userID, true
}

// Event is the message delivered on a channel.
type Event struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
	Data        any    `json:"data,omitempty"`
}

// ReplayStore persists events for later replay.
type ReplayStore interface {
	InsertReplayEvent(ctx context.Context, userID, channel, messageData string) (*models.ReplayEvent, error)
	ListReplayEvents(ctx context.Context, userID string) ([]models.ReplayEvent, error)
	DeleteReplayEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Gateway struct {
	store   ReplayStore
	broker  queue.Broker
	signer  *Signer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewGateway(store ReplayStore, broker queue.Broker, signer *Signer, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{store: store, broker: broker, signer: signer, logger: logger, metrics: m}
}

// ChannelToken issues a token that lets userID open their channels.
func (g *Gateway) ChannelToken(userID string) (token string, expiresAt time.Time, err error) {
	if userID == "" || strings.Contains(userID, "#") {
		return "", time.Time{}, fmt.Errorf("invalid user id %q", userID)
	}
	token, tok, err := g.signer.Mint(userID)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, tok.Expiry(), nil
}

// VerifyToken returns the decoded token when it is authentic and unexpired.
func (g *Gateway) VerifyToken(token string) (*Token, error) {
	return g.signer.Verify(token)
}

// Publish records ev in the replay log of userID and then delivers it on
// the (workspace, user) channel. Delivery is best effort once the event is
// stored.
func (g *Gateway) Publish(ctx context.Context, workspaceID, userID string, ev Event) error {
	ev.WorkspaceID = workspaceID
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	channel := ChannelName(workspaceID, userID)
	if _, err := g.store.InsertReplayEvent(ctx, userID, channel, string(data)); err != nil {
		return err
	}
	if err := g.broker.Publish(ctx, channel, data); err != nil {
		g.metrics.EventPublished("dropped")
		g.logger.Warn("realtime publish failed", "channel", channel, "type", ev.Type, "error", err)
		return nil
	}
	g.metrics.EventPublished("delivered")
	return nil
}

// ListReplayableEvents returns the stored events of userID, oldest first.
func (g *Gateway) ListReplayableEvents(ctx context.Context, userID string) ([]models.ReplayEvent, error) {
	return g.store.ListReplayEvents(ctx, userID)
}

// PruneReplayEvents deletes events stored before cutoff.
func (g *Gateway) PruneReplayEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	return g.store.DeleteReplayEventsBefore(ctx, cutoff)
}

// Subscribe opens the broker stream of channel.
func (g *Gateway) Subscribe(channel string) (<-chan []byte, func(), error) {
	return g.broker.Subscribe(channel)
}
