package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/esnunes/helmforge/internal/models"

	"github.com/google/uuid"
)

// Workspaces

// CreateWorkspace inserts a workspace together with its complete bootstrap
// revision 0.
func (q *Queries) CreateWorkspace(ctx context.Context, name, userID, createdType string) (*models.Workspace, error) {
	id := uuid.NewString()
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace (id, name, created_by_user_id, created_type) VALUES (?, ?, ?, ?)`,
			id, name, userID, createdType,
		); err != nil {
			return fmt.Errorf("inserting workspace: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_revision (workspace_id, revision_number, created_type, created_by_user_id, is_complete)
			 VALUES (?, 0, 'bootstrap', ?, 1)`,
			id, userID,
		); err != nil {
			return fmt.Errorf("inserting bootstrap revision: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return q.GetWorkspace(ctx, id)
}

// GetWorkspace assembles the workspace at its current revision. Charts and
// files are only loaded past revision 0, which has nothing materialized.
func (q *Queries) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	w := &models.Workspace{}
	var createdAt, updatedAt string
	err := q.db.QueryRowContext(ctx,
		`SELECT id, name, created_by_user_id, created_type, current_revision_number, created_at, last_updated_at
		 FROM workspace WHERE id = ?`, id,
	).Scan(&w.ID, &w.Name, &w.CreatedByUserID, &w.CreatedType, &w.CurrentRevisionNumber, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFound(err, "workspace")
	}
	w.CreatedAt = parseTime(createdAt)
	w.LastUpdatedAt = parseTime(updatedAt)

	err = q.db.QueryRowContext(ctx,
		`SELECT is_complete FROM workspace_revision WHERE workspace_id = ? AND revision_number = ?`,
		id, w.CurrentRevisionNumber,
	).Scan(&w.IsCurrentRevisionComplete)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting current revision: %w", err)
	}

	var incomplete sql.NullInt64
	err = q.db.QueryRowContext(ctx,
		`SELECT MIN(revision_number) FROM workspace_revision
		 WHERE workspace_id = ? AND revision_number > ? AND is_complete = 0`,
		id, w.CurrentRevisionNumber,
	).Scan(&incomplete)
	if err != nil {
		return nil, fmt.Errorf("getting incomplete revision: %w", err)
	}
	w.IncompleteRevisionNumber = nullInt(incomplete)

	if w.CurrentRevisionNumber == 0 {
		return w, nil
	}

	charts, err := q.ListCharts(ctx, id, w.CurrentRevisionNumber)
	if err != nil {
		return nil, err
	}
	files, err := q.ListFiles(ctx, id, w.CurrentRevisionNumber)
	if err != nil {
		return nil, err
	}
	byChart := make(map[string][]models.WorkspaceFile)
	for _, f := range files {
		if f.ChartID == nil {
			w.Files = append(w.Files, f)
			continue
		}
		byChart[*f.ChartID] = append(byChart[*f.ChartID], f)
	}
	for i := range charts {
		charts[i].Files = byChart[charts[i].ID]
	}
	w.Charts = charts
	return w, nil
}

// Revisions

func (q *Queries) GetRevision(ctx context.Context, workspaceID string, revisionNumber int) (*models.Revision, error) {
	r := &models.Revision{}
	var planID sql.NullString
	var createdAt string
	err := q.db.QueryRowContext(ctx,
		`SELECT workspace_id, revision_number, created_type, created_by_user_id, plan_id, is_complete, is_rendered, created_at
		 FROM workspace_revision WHERE workspace_id = ? AND revision_number = ?`,
		workspaceID, revisionNumber,
	).Scan(&r.WorkspaceID, &r.RevisionNumber, &r.CreatedType, &r.CreatedByUserID, &planID, &r.IsComplete, &r.IsRendered, &createdAt)
	if err != nil {
		return nil, notFound(err, "revision")
	}
	r.PlanID = nullString(planID)
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (q *Queries) ListRevisions(ctx context.Context, workspaceID string) ([]models.Revision, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT workspace_id, revision_number, created_type, created_by_user_id, plan_id, is_complete, is_rendered, created_at
		 FROM workspace_revision WHERE workspace_id = ? ORDER BY revision_number ASC`, workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing revisions: %w", err)
	}
	defer rows.Close()

	var results []models.Revision
	for rows.Next() {
		var r models.Revision
		var planID sql.NullString
		var createdAt string
		if err := rows.Scan(&r.WorkspaceID, &r.RevisionNumber, &r.CreatedType, &r.CreatedByUserID, &planID, &r.IsComplete, &r.IsRendered, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning revision: %w", err)
		}
		r.PlanID = nullString(planID)
		r.CreatedAt = parseTime(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

// CreateRevision materializes planID as the next revision of its workspace.
// Chart and file rows of the previous revision are copied under the new
// number with the same ids, the workspace pointer moves forward and the
// plan is stamped as proceeded, all in one transaction with the work items
// of jobs. A concurrent writer that took the same number yields
// ErrRevisionConflict.
func (q *Queries) CreateRevision(ctx context.Context, planID, userID string, jobs ...Job) (int, error) {
	var next int
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		var workspaceID, status string
		var proceedAt sql.NullString
		var chatIDs string
		err := tx.QueryRowContext(ctx,
			`SELECT workspace_id, status, proceed_at, chat_message_ids FROM workspace_plan WHERE id = ?`, planID,
		).Scan(&workspaceID, &status, &proceedAt, &chatIDs)
		if err != nil {
			return notFound(err, "plan")
		}
		if proceedAt.Valid {
			return fmt.Errorf("plan %s already proceeded: %w", planID, ErrPrecondition)
		}
		if models.PlanStatus(status) == models.PlanStatusIgnored {
			return fmt.Errorf("plan %s was superseded: %w", planID, ErrPrecondition)
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(revision_number), -1) + 1 FROM workspace_revision WHERE workspace_id = ?`, workspaceID,
		).Scan(&next); err != nil {
			return fmt.Errorf("computing next revision: %w", err)
		}
		prev := next - 1

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_revision (workspace_id, revision_number, created_type, created_by_user_id, plan_id, is_complete)
			 VALUES (?, ?, 'plan', ?, ?, 0)`,
			workspaceID, next, userID, planID,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("revision %d: %w", next, ErrRevisionConflict)
			}
			return fmt.Errorf("inserting revision: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_chart (id, workspace_id, revision_number, name)
			 SELECT id, workspace_id, ?, name FROM workspace_chart WHERE workspace_id = ? AND revision_number = ?`,
			next, workspaceID, prev,
		); err != nil {
			return fmt.Errorf("copying charts: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_file (id, workspace_id, revision_number, chart_id, file_path, content, content_pending)
			 SELECT id, workspace_id, ?, chart_id, file_path, content, content_pending
			 FROM workspace_file WHERE workspace_id = ? AND revision_number = ?`,
			next, workspaceID, prev,
		); err != nil {
			return fmt.Errorf("copying files: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE workspace SET current_revision_number = ?, last_updated_at = datetime('now') WHERE id = ?`,
			next, workspaceID,
		); err != nil {
			return fmt.Errorf("updating current revision: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE workspace_plan SET proceed_at = ?, status = 'applying', updated_at = datetime('now') WHERE id = ?`,
			formatTime(time.Now()), planID,
		); err != nil {
			return fmt.Errorf("stamping plan: %w", err)
		}

		// The last chat turn of the plan offers an undo back to prev.
		ids, err := decodeIDs(chatIDs)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE workspace_chat SET response_rollback_to_revision_number = ? WHERE id = ?`,
				prev, ids[len(ids)-1],
			); err != nil {
				return fmt.Errorf("setting rollback revision: %w", err)
			}
		}
		return insertJobs(ctx, tx, Artifact{ID: planID, WorkspaceID: workspaceID, RevisionNumber: next}, jobs)
	})
	if err != nil {
		return 0, fmt.Errorf("creating revision: %w", err)
	}
	return next, nil
}

func (q *Queries) MarkRevisionComplete(ctx context.Context, workspaceID string, revisionNumber int) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE workspace_revision SET is_complete = 1 WHERE workspace_id = ? AND revision_number = ?`,
		workspaceID, revisionNumber,
	)
	if err != nil {
		return fmt.Errorf("marking revision complete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("revision %d: %w", revisionNumber, ErrNotFound)
	}
	return nil
}

// rollbackSteps deletes everything created strictly after a target
// revision, children before parents. ?1 is the workspace id and ?2 the
// target revision number. Keep in sync with the schema: every
// revision-scoped table must appear here.
var rollbackSteps = []struct {
	name  string
	query string
}{
	{"plan action files", `DELETE FROM workspace_plan_action_file WHERE plan_id IN (
		SELECT p.id FROM workspace_plan p WHERE p.workspace_id = ?1 AND EXISTS (
			SELECT 1 FROM json_each(p.chat_message_ids) j
			JOIN workspace_chat c ON c.id = j.value
			WHERE c.workspace_id = ?1 AND c.revision_number > ?2))`},
	{"plans", `DELETE FROM workspace_plan WHERE workspace_id = ?1 AND EXISTS (
		SELECT 1 FROM json_each(workspace_plan.chat_message_ids) j
		JOIN workspace_chat c ON c.id = j.value
		WHERE c.workspace_id = ?1 AND c.revision_number > ?2)`},
	{"conversion files", `DELETE FROM workspace_conversion_file WHERE conversion_id IN (
		SELECT v.id FROM workspace_conversion v WHERE v.workspace_id = ?1 AND EXISTS (
			SELECT 1 FROM json_each(v.chat_message_ids) j
			JOIN workspace_chat c ON c.id = j.value
			WHERE c.workspace_id = ?1 AND c.revision_number > ?2))`},
	{"conversions", `DELETE FROM workspace_conversion WHERE workspace_id = ?1 AND EXISTS (
		SELECT 1 FROM json_each(workspace_conversion.chat_message_ids) j
		JOIN workspace_chat c ON c.id = j.value
		WHERE c.workspace_id = ?1 AND c.revision_number > ?2)`},
	{"rendered files", `DELETE FROM workspace_rendered_file WHERE rendered_chart_id IN (
		SELECT rc.id FROM workspace_rendered_chart rc
		JOIN workspace_rendered r ON r.id = rc.workspace_render_id
		WHERE r.workspace_id = ?1 AND r.revision_number > ?2)`},
	{"rendered charts", `DELETE FROM workspace_rendered_chart WHERE workspace_render_id IN (
		SELECT id FROM workspace_rendered WHERE workspace_id = ?1 AND revision_number > ?2)`},
	{"renders", `DELETE FROM workspace_rendered WHERE workspace_id = ?1 AND revision_number > ?2`},
	{"chat messages", `DELETE FROM workspace_chat WHERE workspace_id = ?1 AND revision_number > ?2`},
	{"files", `DELETE FROM workspace_file WHERE workspace_id = ?1 AND revision_number > ?2`},
	{"charts", `DELETE FROM workspace_chart WHERE workspace_id = ?1 AND revision_number > ?2`},
	{"revisions", `DELETE FROM workspace_revision WHERE workspace_id = ?1 AND revision_number > ?2`},
}

// RollbackToRevision makes target the current revision and deletes all
// state created after it. It reports false when there was nothing to undo.
func (q *Queries) RollbackToRevision(ctx context.Context, workspaceID string, target int) (bool, error) {
	changed := false
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		var current int
		if err := tx.QueryRowContext(ctx,
			`SELECT current_revision_number FROM workspace WHERE id = ?`, workspaceID,
		).Scan(&current); err != nil {
			return notFound(err, "workspace")
		}
		if target > current {
			return fmt.Errorf("target revision %d is ahead of current %d: %w", target, current, ErrPrecondition)
		}

		var complete bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_complete FROM workspace_revision WHERE workspace_id = ? AND revision_number = ?`,
			workspaceID, target,
		).Scan(&complete)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("target revision %d does not exist: %w", target, ErrPrecondition)
		}
		if err != nil {
			return fmt.Errorf("getting target revision: %w", err)
		}
		if !complete {
			return fmt.Errorf("target revision %d is not complete: %w", target, ErrPrecondition)
		}

		var later int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM workspace_revision WHERE workspace_id = ? AND revision_number > ?`,
			workspaceID, target,
		).Scan(&later); err != nil {
			return fmt.Errorf("counting later revisions: %w", err)
		}
		if later == 0 && current == target {
			return nil
		}

		for _, step := range rollbackSteps {
			if _, err := tx.ExecContext(ctx, step.query, workspaceID, target); err != nil {
				return fmt.Errorf("deleting %s: %w", step.name, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE workspace SET current_revision_number = ?, last_updated_at = datetime('now') WHERE id = ?`,
			target, workspaceID,
		); err != nil {
			return fmt.Errorf("updating current revision: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rolling back workspace: %w", err)
	}
	return changed, nil
}

// Charts and files

func (q *Queries) ListCharts(ctx context.Context, workspaceID string, revisionNumber int) ([]models.Chart, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, workspace_id, revision_number, name FROM workspace_chart
		 WHERE workspace_id = ? AND revision_number = ? ORDER BY name ASC, id ASC`,
		workspaceID, revisionNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("listing charts: %w", err)
	}
	defer rows.Close()

	var results []models.Chart
	for rows.Next() {
		var c models.Chart
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.RevisionNumber, &c.Name); err != nil {
			return nil, fmt.Errorf("scanning chart: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (q *Queries) ListFiles(ctx context.Context, workspaceID string, revisionNumber int) ([]models.WorkspaceFile, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, workspace_id, revision_number, chart_id, file_path, content, content_pending FROM workspace_file
		 WHERE workspace_id = ? AND revision_number = ? ORDER BY file_path ASC, id ASC`,
		workspaceID, revisionNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var results []models.WorkspaceFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *f)
	}
	return results, rows.Err()
}

func (q *Queries) GetFile(ctx context.Context, workspaceID string, revisionNumber int, fileID string) (*models.WorkspaceFile, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, revision_number, chart_id, file_path, content, content_pending FROM workspace_file
		 WHERE workspace_id = ? AND revision_number = ? AND id = ?`,
		workspaceID, revisionNumber, fileID,
	)
	f, err := scanFile(row)
	if err != nil {
		return nil, notFound(errors.Unwrap(err), "file")
	}
	return f, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(s rowScanner) (*models.WorkspaceFile, error) {
	var f models.WorkspaceFile
	var chartID, pending sql.NullString
	if err := s.Scan(&f.ID, &f.WorkspaceID, &f.RevisionNumber, &chartID, &f.FilePath, &f.Content, &pending); err != nil {
		return nil, fmt.Errorf("scanning file: %w", err)
	}
	f.ChartID = nullString(chartID)
	f.ContentPending = nullString(pending)
	return &f, nil
}

// requireOpenRevision fails unless the revision exists and is not yet
// complete; complete revisions are immutable.
func requireOpenRevision(ctx context.Context, tx querier, workspaceID string, revisionNumber int) error {
	var complete bool
	err := tx.QueryRowContext(ctx,
		`SELECT is_complete FROM workspace_revision WHERE workspace_id = ? AND revision_number = ?`,
		workspaceID, revisionNumber,
	).Scan(&complete)
	if err != nil {
		return notFound(err, "revision")
	}
	if complete {
		return fmt.Errorf("revision %d is complete: %w", revisionNumber, ErrPrecondition)
	}
	return nil
}

func (q *Queries) AddChart(ctx context.Context, workspaceID string, revisionNumber int, name string) (*models.Chart, error) {
	c := &models.Chart{ID: uuid.NewString(), WorkspaceID: workspaceID, RevisionNumber: revisionNumber, Name: name}
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireOpenRevision(ctx, tx, workspaceID, revisionNumber); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_chart (id, workspace_id, revision_number, name) VALUES (?, ?, ?, ?)`,
			c.ID, workspaceID, revisionNumber, name,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("adding chart: %w", err)
	}
	return c, nil
}

func (q *Queries) AddFile(ctx context.Context, workspaceID string, revisionNumber int, chartID *string, filePath, content string) (*models.WorkspaceFile, error) {
	f := &models.WorkspaceFile{
		ID:             uuid.NewString(),
		WorkspaceID:    workspaceID,
		RevisionNumber: revisionNumber,
		ChartID:        chartID,
		FilePath:       filePath,
		Content:        content,
	}
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireOpenRevision(ctx, tx, workspaceID, revisionNumber); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_file (id, workspace_id, revision_number, chart_id, file_path, content) VALUES (?, ?, ?, ?, ?, ?)`,
			f.ID, workspaceID, revisionNumber, chartID, filePath, content,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("adding file: %w", err)
	}
	return f, nil
}

// updateOpenFile runs a single-row update against a file of an open
// revision and stores the work items of jobs alongside it. The statement's
// last three placeholders must be the file id, workspace id and revision
// number.
func (q *Queries) updateOpenFile(ctx context.Context, workspaceID string, revisionNumber int, fileID string, jobs []Job, query string, args ...any) error {
	return q.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireOpenRevision(ctx, tx, workspaceID, revisionNumber); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, append(args, fileID, workspaceID, revisionNumber)...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("file %s: %w", fileID, ErrNotFound)
		}
		return insertJobs(ctx, tx, Artifact{ID: fileID, WorkspaceID: workspaceID, RevisionNumber: revisionNumber}, jobs)
	})
}

func (q *Queries) SetFileContent(ctx context.Context, workspaceID string, revisionNumber int, fileID, content string, jobs ...Job) error {
	err := q.updateOpenFile(ctx, workspaceID, revisionNumber, fileID, jobs,
		`UPDATE workspace_file SET content = ? WHERE id = ? AND workspace_id = ? AND revision_number = ?`, content)
	if err != nil {
		return fmt.Errorf("setting file content: %w", err)
	}
	return nil
}

func (q *Queries) SetFilePendingContent(ctx context.Context, workspaceID string, revisionNumber int, fileID, pending string) error {
	err := q.updateOpenFile(ctx, workspaceID, revisionNumber, fileID, nil,
		`UPDATE workspace_file SET content_pending = ? WHERE id = ? AND workspace_id = ? AND revision_number = ?`, pending)
	if err != nil {
		return fmt.Errorf("setting pending content: %w", err)
	}
	return nil
}

// AcceptPendingContent promotes content_pending into content. Files with
// nothing pending are left alone.
func (q *Queries) AcceptPendingContent(ctx context.Context, workspaceID string, revisionNumber int, fileID string, jobs ...Job) error {
	err := q.updateOpenFile(ctx, workspaceID, revisionNumber, fileID, jobs,
		`UPDATE workspace_file SET content = COALESCE(content_pending, content), content_pending = NULL
		 WHERE id = ? AND workspace_id = ? AND revision_number = ?`)
	if err != nil {
		return fmt.Errorf("accepting pending content: %w", err)
	}
	return nil
}
