package engine

import (
	"context"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/models"
	"github.com/esnunes/helmforge/internal/queue"
)

const sourceTypeK8s = "k8s"

type conversionPayload struct {
	ConversionID string `json:"conversionId"`
	WorkspaceID  string `json:"workspaceId"`
}

func (e *Engine) createConversion(ctx context.Context, chat *models.ChatMessage, files []db.SourceFile) error {
	job := db.NewJob(queue.ChannelNewConversion, func(a db.Artifact) any {
		return conversionPayload{ConversionID: a.ID, WorkspaceID: a.WorkspaceID}
	})
	conv, err := e.queries.CreateConversion(ctx, chat.WorkspaceID, chat.ID, sourceTypeK8s, files, job)
	if err != nil {
		return err
	}
	e.publisher.Notify(ctx, job)
	e.notify(ctx, chat.WorkspaceID, chat.UserID, EventConversionCreated, map[string]string{"conversionId": conv.ID})
	return nil
}
