package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/models"
	"github.com/esnunes/helmforge/internal/queue"
)

// SendRequest is a new chat turn. KnownIntent skips classification when
// the caller already knows what the user wants. SourceFiles are the raw
// manifests of a convert_k8s_to_helm turn. SupersedingPlanID is the plan a
// plan turn revises; when empty the newest open plan of the workspace is
// revised, if any.
type SendRequest struct {
	WorkspaceID       string
	UserID            string
	Prompt            string
	KnownIntent       models.Intent
	SourceFiles       []db.SourceFile
	SupersedingPlanID string
}

func (r SendRequest) validate() error {
	switch {
	case r.WorkspaceID == "":
		return fmt.Errorf("workspace id is required: %w", ErrInvalidInput)
	case r.UserID == "":
		return fmt.Errorf("user id is required: %w", ErrInvalidInput)
	case strings.TrimSpace(r.Prompt) == "":
		return fmt.Errorf("prompt is required: %w", ErrInvalidInput)
	case !r.KnownIntent.Valid():
		return fmt.Errorf("unknown intent %q: %w", r.KnownIntent, ErrInvalidInput)
	case r.KnownIntent == models.IntentConvertK8sToHelm && len(r.SourceFiles) == 0:
		return fmt.Errorf("conversion needs source files: %w", ErrInvalidInput)
	}
	return nil
}

type chatPayload struct {
	ChatMessageID string `json:"chatMessageId"`
	WorkspaceID   string `json:"workspaceId"`
}

// SendChatMessage records a chat turn at the workspace's current revision.
// Without a known intent the message is queued for classification and
// ApplyIntent dispatches it later; otherwise it is dispatched right away.
func (e *Engine) SendChatMessage(ctx context.Context, req SendRequest) (*models.ChatMessage, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var jobs []db.Job
	if req.KnownIntent == models.IntentUnknown {
		jobs = append(jobs, db.NewJob(queue.ChannelNewIntent, func(a db.Artifact) any {
			return chatPayload{ChatMessageID: a.ID, WorkspaceID: a.WorkspaceID}
		}))
	}
	chat, err := e.queries.CreateChatMessage(ctx, req.WorkspaceID, req.UserID, req.Prompt, jobs...)
	if err != nil {
		return nil, err
	}
	e.publisher.Notify(ctx, jobs...)
	e.notify(ctx, chat.WorkspaceID, chat.UserID, EventChatMessageCreated, map[string]string{"chatMessageId": chat.ID})
	if req.KnownIntent == models.IntentUnknown {
		return chat, nil
	}

	opts := dispatchOptions{sourceFiles: req.SourceFiles, supersedingPlanID: req.SupersedingPlanID}
	if err := e.dispatch(ctx, chat, req.KnownIntent, intentFlags(req.KnownIntent), opts); err != nil {
		return nil, err
	}
	return e.queries.GetChatMessage(ctx, chat.ID)
}

// ApplyIntent records the classifier's verdict for a chat message and
// dispatches it: plan wins over render, anything else is conversational.
func (e *Engine) ApplyIntent(ctx context.Context, chatID string, flags models.IntentFlags) (*models.ChatMessage, error) {
	chat, err := e.queries.GetChatMessage(ctx, chatID)
	if err != nil {
		return nil, err
	}
	intent := models.IntentNonPlan
	switch {
	case flags.IsPlan:
		intent = models.IntentPlan
	case flags.IsRender:
		intent = models.IntentRender
	}
	if err := e.dispatch(ctx, chat, intent, flags, dispatchOptions{}); err != nil {
		return nil, err
	}
	return e.queries.GetChatMessage(ctx, chat.ID)
}

func intentFlags(intent models.Intent) models.IntentFlags {
	switch intent {
	case models.IntentPlan:
		return models.IntentFlags{IsPlan: true}
	case models.IntentRender:
		return models.IntentFlags{IsRender: true}
	case models.IntentNonPlan:
		return models.IntentFlags{IsConversational: true}
	}
	return models.IntentFlags{}
}

type dispatchOptions struct {
	sourceFiles       []db.SourceFile
	supersedingPlanID string
}

// dispatch runs exactly one workflow for chat. The message is claimed
// first, so a second dispatch of the same message fails with
// db.ErrAlreadyDispatched. A workflow stores its artifact and work item in
// one transaction, so a failed one leaves nothing attached and gives the
// claim back.
func (e *Engine) dispatch(ctx context.Context, chat *models.ChatMessage, intent models.Intent, flags models.IntentFlags, opts dispatchOptions) error {
	if err := e.queries.ClaimDispatch(ctx, chat.ID, flags); err != nil {
		return err
	}

	var err error
	switch intent {
	case models.IntentPlan:
		err = e.createPlan(ctx, chat, opts.supersedingPlanID)
	case models.IntentRender:
		_, err = e.render(ctx, RenderRequest{
			WorkspaceID:   chat.WorkspaceID,
			ChatMessageID: chat.ID,
			UserID:        chat.UserID,
		}, true)
	case models.IntentConvertK8sToHelm:
		err = e.createConversion(ctx, chat, opts.sourceFiles)
	case models.IntentNonPlan:
		e.publisher.Signal(ctx, queue.ChannelNewNonPlanChatMessage, chatPayload{
			ChatMessageID: chat.ID,
			WorkspaceID:   chat.WorkspaceID,
		})
	default:
		err = fmt.Errorf("unknown intent %q: %w", intent, ErrInvalidInput)
	}
	if err != nil {
		if rerr := e.queries.ReleaseDispatch(ctx, chat.ID); rerr != nil {
			e.logger.Error("releasing dispatch", "chat", chat.ID, "error", rerr)
		}
		return err
	}

	e.metrics.Dispatched(string(intent))
	e.logger.Info("chat message dispatched", "chat", chat.ID, "workspace", chat.WorkspaceID, "intent", intent)
	return nil
}
