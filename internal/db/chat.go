package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/esnunes/helmforge/internal/models"

	"github.com/google/uuid"
)

const chatColumns = `id, workspace_id, revision_number, user_id, prompt, response, created_at,
	is_canceled, is_intent_complete, is_dispatched,
	is_intent_conversational, is_intent_plan, is_intent_render, is_intent_off_topic,
	is_intent_chart_developer, is_intent_chart_operator, is_intent_proceed,
	response_plan_id, response_render_id, response_conversion_id,
	response_rollback_to_revision_number, followup_actions`

func scanChatMessage(s rowScanner) (*models.ChatMessage, error) {
	var m models.ChatMessage
	var response, planID, renderID, conversionID, followups sql.NullString
	var rollback sql.NullInt64
	var createdAt string
	err := s.Scan(&m.ID, &m.WorkspaceID, &m.RevisionNumber, &m.UserID, &m.Prompt, &response, &createdAt,
		&m.IsCanceled, &m.IsIntentComplete, &m.IsDispatched,
		&m.Intent.IsConversational, &m.Intent.IsPlan, &m.Intent.IsRender, &m.Intent.IsOffTopic,
		&m.Intent.IsChartDeveloper, &m.Intent.IsChartOperator, &m.Intent.IsProceed,
		&planID, &renderID, &conversionID, &rollback, &followups)
	if err != nil {
		return nil, err
	}
	m.Response = nullString(response)
	m.CreatedAt = parseTime(createdAt)
	m.ResponsePlanID = nullString(planID)
	m.ResponseRenderID = nullString(renderID)
	m.ResponseConversionID = nullString(conversionID)
	m.ResponseRollbackToRevisionNumber = nullInt(rollback)
	if followups.Valid && followups.String != "" {
		if err := json.Unmarshal([]byte(followups.String), &m.FollowupActions); err != nil {
			return nil, fmt.Errorf("decoding followup actions: %w", err)
		}
	}
	return &m, nil
}

// CreateChatMessage records a chat turn against the workspace's current
// revision, together with the work items of jobs. All intent flags start
// false.
func (q *Queries) CreateChatMessage(ctx context.Context, workspaceID, userID, prompt string, jobs ...Job) (*models.ChatMessage, error) {
	id := uuid.NewString()
	var m *models.ChatMessage
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_chat (id, workspace_id, revision_number, user_id, prompt)
			 SELECT ?, id, current_revision_number, ?, ? FROM workspace WHERE id = ?`,
			id, userID, prompt, workspaceID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("workspace %s: %w", workspaceID, ErrNotFound)
		}
		if m, err = getChatMessage(ctx, tx, id); err != nil {
			return err
		}
		return insertJobs(ctx, tx, Artifact{ID: id, WorkspaceID: workspaceID, RevisionNumber: m.RevisionNumber}, jobs)
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat message: %w", err)
	}
	return m, nil
}

func (q *Queries) GetChatMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	return getChatMessage(ctx, q.db, id)
}

func getChatMessage(ctx context.Context, db querier, id string) (*models.ChatMessage, error) {
	m, err := scanChatMessage(db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM workspace_chat WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "chat message")
	}
	return m, nil
}

func (q *Queries) ListChatMessages(ctx context.Context, workspaceID string) ([]models.ChatMessage, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM workspace_chat WHERE workspace_id = ? ORDER BY created_at ASC, rowid ASC`, workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chat messages: %w", err)
	}
	defer rows.Close()

	var results []models.ChatMessage
	for rows.Next() {
		m, err := scanChatMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		results = append(results, *m)
	}
	return results, rows.Err()
}

// explainChatMiss turns a conditional update that touched no rows into the
// reason it did not apply.
func explainChatMiss(ctx context.Context, db querier, id string, stale error) error {
	if _, err := getChatMessage(ctx, db, id); err != nil {
		return err
	}
	return stale
}

// ClaimDispatch records the chosen intent and marks the message
// dispatched. The update only applies while the message is undispatched
// and not canceled, so a second dispatch is rejected here rather than by
// caller discipline. A canceled message fails with ErrPrecondition, a
// dispatched one with ErrAlreadyDispatched.
func (q *Queries) ClaimDispatch(ctx context.Context, id string, intent models.IntentFlags) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE workspace_chat SET
		    is_dispatched = 1, is_intent_complete = 1,
		    is_intent_conversational = ?, is_intent_plan = ?, is_intent_render = ?, is_intent_off_topic = ?,
		    is_intent_chart_developer = ?, is_intent_chart_operator = ?, is_intent_proceed = ?
		 WHERE id = ? AND is_dispatched = 0 AND is_canceled = 0`,
		intent.IsConversational, intent.IsPlan, intent.IsRender, intent.IsOffTopic,
		intent.IsChartDeveloper, intent.IsChartOperator, intent.IsProceed, id,
	)
	if err != nil {
		return fmt.Errorf("claiming dispatch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		m, err := getChatMessage(ctx, q.db, id)
		if err != nil {
			return err
		}
		if m.IsCanceled {
			return fmt.Errorf("chat message %s is canceled: %w", id, ErrPrecondition)
		}
		return fmt.Errorf("chat message %s: %w", id, ErrAlreadyDispatched)
	}
	return nil
}

// ReleaseDispatch undoes a claim whose workflow failed before attaching
// an artifact.
func (q *Queries) ReleaseDispatch(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE workspace_chat SET is_dispatched = 0, is_intent_complete = 0
		 WHERE id = ? AND response_plan_id IS NULL AND response_render_id IS NULL AND response_conversion_id IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("releasing dispatch: %w", err)
	}
	return nil
}

// CancelChatMessage cancels a message that has not been answered yet.
func (q *Queries) CancelChatMessage(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE workspace_chat SET is_canceled = 1 WHERE id = ? AND response IS NULL AND is_canceled = 0`, id,
	)
	if err != nil {
		return fmt.Errorf("canceling chat message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return explainChatMiss(ctx, q.db, id, fmt.Errorf("chat message %s already answered or canceled: %w", id, ErrPrecondition))
	}
	return nil
}

func (q *Queries) SetChatResponse(ctx context.Context, id, response string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE workspace_chat SET response = ? WHERE id = ? AND is_canceled = 0`, response, id,
	)
	if err != nil {
		return fmt.Errorf("setting chat response: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return explainChatMiss(ctx, q.db, id, fmt.Errorf("chat message %s is canceled: %w", id, ErrPrecondition))
	}
	return nil
}

func (q *Queries) SetFollowupActions(ctx context.Context, id string, actions []models.FollowupAction) error {
	b, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encoding followup actions: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `UPDATE workspace_chat SET followup_actions = ? WHERE id = ?`, string(b), id)
	if err != nil {
		return fmt.Errorf("setting followup actions: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chat message %s: %w", id, ErrNotFound)
	}
	return nil
}

// linkChatResponse attaches a workflow artifact to a chat message. The
// table's CHECK constraint keeps at most one artifact per message.
func linkChatResponse(ctx context.Context, db querier, column, chatID, artifactID string) error {
	res, err := db.ExecContext(ctx, `UPDATE workspace_chat SET `+column+` = ? WHERE id = ?`, artifactID, chatID)
	if err != nil {
		return fmt.Errorf("linking %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chat message %s: %w", chatID, ErrNotFound)
	}
	return nil
}
