package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/esnunes/helmforge/internal/models"

	"github.com/google/uuid"
)

// CreatePlan inserts a pending plan for chatID, links it on the message
// and stores the work items of jobs. When supersedingPlanID is set, that
// plan is marked ignored and its chat history is carried forward ahead of
// chatID. Only an open plan can be superseded, and only once: a plan that
// already proceeded or was superseded fails with ErrPrecondition.
func (q *Queries) CreatePlan(ctx context.Context, workspaceID, chatID, supersedingPlanID string, jobs ...Job) (*models.Plan, error) {
	id := uuid.NewString()
	var plan *models.Plan
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		var chatIDs []string
		if supersedingPlanID != "" {
			var oldWorkspace, oldIDs string
			var proceedAt sql.NullString
			err := tx.QueryRowContext(ctx,
				`SELECT workspace_id, chat_message_ids, proceed_at FROM workspace_plan WHERE id = ?`, supersedingPlanID,
			).Scan(&oldWorkspace, &oldIDs, &proceedAt)
			if err != nil {
				return notFound(err, "superseded plan")
			}
			if oldWorkspace != workspaceID {
				return fmt.Errorf("plan %s belongs to another workspace: %w", supersedingPlanID, ErrPrecondition)
			}
			if proceedAt.Valid {
				return fmt.Errorf("plan %s already proceeded: %w", supersedingPlanID, ErrPrecondition)
			}
			if chatIDs, err = decodeIDs(oldIDs); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE workspace_plan SET status = 'ignored', updated_at = datetime('now')
				 WHERE id = ? AND status IN ('pending', 'review') AND proceed_at IS NULL`, supersedingPlanID,
			)
			if err != nil {
				return fmt.Errorf("ignoring superseded plan: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("plan %s is no longer open: %w", supersedingPlanID, ErrPrecondition)
			}
		}
		if !slices.Contains(chatIDs, chatID) {
			chatIDs = append(chatIDs, chatID)
		}
		encoded, err := encodeIDs(chatIDs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_plan (id, workspace_id, chat_message_ids, status) VALUES (?, ?, ?, 'pending')`,
			id, workspaceID, encoded,
		); err != nil {
			return fmt.Errorf("inserting plan: %w", err)
		}
		if err := linkChatResponse(ctx, tx, "response_plan_id", chatID, id); err != nil {
			return err
		}
		if err := insertJobs(ctx, tx, Artifact{ID: id, WorkspaceID: workspaceID}, jobs); err != nil {
			return err
		}
		plan, err = getPlan(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating plan: %w", err)
	}
	return plan, nil
}

// LatestOpenPlanID returns the newest plan of the workspace that can still
// be superseded, or "" when there is none.
func (q *Queries) LatestOpenPlanID(ctx context.Context, workspaceID string) (string, error) {
	var id string
	err := q.db.QueryRowContext(ctx,
		`SELECT id FROM workspace_plan
		 WHERE workspace_id = ? AND status IN ('pending', 'review') AND proceed_at IS NULL
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, workspaceID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting open plan: %w", err)
	}
	return id, nil
}

func (q *Queries) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	return getPlan(ctx, q.db, id)
}

func getPlan(ctx context.Context, db querier, id string) (*models.Plan, error) {
	p := &models.Plan{}
	var chatIDs, status, createdAt string
	var proceedAt sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, workspace_id, chat_message_ids, description, status, proceed_at, created_at
		 FROM workspace_plan WHERE id = ?`, id,
	).Scan(&p.ID, &p.WorkspaceID, &chatIDs, &p.Description, &status, &proceedAt, &createdAt)
	if err != nil {
		return nil, notFound(err, "plan")
	}
	p.Status = models.PlanStatus(status)
	p.ProceedAt = parseNullTime(proceedAt)
	p.CreatedAt = parseTime(createdAt)
	if p.ChatMessageIDs, err = decodeIDs(chatIDs); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT action, path, status FROM workspace_plan_action_file
		 WHERE plan_id = ? ORDER BY created_at ASC, rowid ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("listing action files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var af models.ActionFile
		if err := rows.Scan(&af.Action, &af.Path, &af.Status); err != nil {
			return nil, fmt.Errorf("scanning action file: %w", err)
		}
		p.ActionFiles = append(p.ActionFiles, af)
	}
	return p, rows.Err()
}

// UpdatePlanStatus records a status reported by a worker. The plan must be
// in the state that precedes status; anything else is ErrPrecondition.
func (q *Queries) UpdatePlanStatus(ctx context.Context, id string, status models.PlanStatus) error {
	from, ok := status.Previous()
	if !ok {
		return fmt.Errorf("plan status %q cannot be reported: %w", status, ErrPrecondition)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE workspace_plan SET status = ?, updated_at = datetime('now') WHERE id = ? AND status = ?`,
		string(status), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating plan status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := getPlan(ctx, q.db, id); err != nil {
			return err
		}
		return fmt.Errorf("plan %s is not %s: %w", id, from, ErrPrecondition)
	}
	return nil
}

func (q *Queries) SetPlanDescription(ctx context.Context, id, description string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE workspace_plan SET description = ?, updated_at = datetime('now') WHERE id = ?`, description, id,
	)
	if err != nil {
		return fmt.Errorf("setting plan description: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	return nil
}

func (q *Queries) UpsertPlanActionFile(ctx context.Context, planID string, af models.ActionFile) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO workspace_plan_action_file (plan_id, path, action, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT(plan_id, path) DO UPDATE SET action = excluded.action, status = excluded.status`,
		planID, af.Path, af.Action, af.Status,
	)
	if err != nil {
		return fmt.Errorf("upserting action file: %w", err)
	}
	return nil
}
