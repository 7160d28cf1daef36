package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/esnunes/helmforge/internal/models"

	"github.com/google/uuid"
)

// CreateRenderedWorkspace snapshots a render of revisionNumber with one
// unsuccessful chart row per chart id; the worker fills in results later.
// A non-empty chatID gets the render linked as its response. The work
// items of jobs are stored in the same transaction.
func (q *Queries) CreateRenderedWorkspace(ctx context.Context, workspaceID string, revisionNumber int, isAutorender bool, chartIDs []string, chatID string, jobs ...Job) (*models.RenderedWorkspace, error) {
	id := uuid.NewString()
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_rendered (id, workspace_id, revision_number, is_autorender) VALUES (?, ?, ?, ?)`,
			id, workspaceID, revisionNumber, isAutorender,
		); err != nil {
			return fmt.Errorf("inserting render: %w", err)
		}
		for _, chartID := range chartIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO workspace_rendered_chart (id, workspace_render_id, chart_id, is_success) VALUES (?, ?, ?, 0)`,
				uuid.NewString(), id, chartID,
			); err != nil {
				return fmt.Errorf("inserting rendered chart: %w", err)
			}
		}
		if chatID != "" {
			if err := linkChatResponse(ctx, tx, "response_render_id", chatID, id); err != nil {
				return err
			}
		}
		return insertJobs(ctx, tx, Artifact{ID: id, WorkspaceID: workspaceID, RevisionNumber: revisionNumber}, jobs)
	})
	if err != nil {
		return nil, fmt.Errorf("creating rendered workspace: %w", err)
	}
	return q.GetRenderedWorkspace(ctx, id)
}

func (q *Queries) GetRenderedWorkspace(ctx context.Context, id string) (*models.RenderedWorkspace, error) {
	r := &models.RenderedWorkspace{}
	var createdAt string
	var completedAt sql.NullString
	err := q.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, revision_number, is_autorender, created_at, completed_at FROM workspace_rendered WHERE id = ?`, id,
	).Scan(&r.ID, &r.WorkspaceID, &r.RevisionNumber, &r.IsAutorender, &createdAt, &completedAt)
	if err != nil {
		return nil, notFound(err, "rendered workspace")
	}
	r.CreatedAt = parseTime(createdAt)
	r.CompletedAt = parseNullTime(completedAt)
	if r.Charts, err = q.listRenderedCharts(ctx, r.ID, r.RevisionNumber); err != nil {
		return nil, err
	}
	return r, nil
}

func (q *Queries) ListWorkspaceRenders(ctx context.Context, workspaceID string) ([]models.RenderedWorkspace, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, workspace_id, revision_number, is_autorender, created_at, completed_at
		 FROM workspace_rendered WHERE workspace_id = ? ORDER BY created_at ASC, rowid ASC`, workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing renders: %w", err)
	}
	var results []models.RenderedWorkspace
	for rows.Next() {
		var r models.RenderedWorkspace
		var createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.RevisionNumber, &r.IsAutorender, &createdAt, &completedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning render: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		r.CompletedAt = parseNullTime(completedAt)
		results = append(results, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing renders: %w", err)
	}

	for i := range results {
		if results[i].Charts, err = q.listRenderedCharts(ctx, results[i].ID, results[i].RevisionNumber); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// listRenderedCharts joins on the chart row of the render's own revision,
// so a chart renamed or recreated later never leaks into an older render.
func (q *Queries) listRenderedCharts(ctx context.Context, renderID string, revisionNumber int) ([]models.RenderedChart, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT rc.id, rc.workspace_render_id, rc.chart_id, c.name, rc.is_success,
		        rc.dep_update_command, rc.dep_update_stdout, rc.dep_update_stderr,
		        rc.helm_template_command, rc.helm_template_stdout, rc.helm_template_stderr,
		        rc.created_at, rc.completed_at
		 FROM workspace_rendered_chart rc
		 JOIN workspace_chart c ON c.id = rc.chart_id AND c.revision_number = ?
		 WHERE rc.workspace_render_id = ?
		 ORDER BY c.name ASC, rc.id ASC`, revisionNumber, renderID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing rendered charts: %w", err)
	}
	var charts []models.RenderedChart
	for rows.Next() {
		var rc models.RenderedChart
		var createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&rc.ID, &rc.RenderedWorkspaceID, &rc.ChartID, &rc.ChartName, &rc.IsSuccess,
			&rc.DepUpdateCommand, &rc.DepUpdateStdout, &rc.DepUpdateStderr,
			&rc.HelmTemplateCommand, &rc.HelmTemplateStdout, &rc.HelmTemplateStderr,
			&createdAt, &completedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning rendered chart: %w", err)
		}
		rc.CreatedAt = parseTime(createdAt)
		rc.CompletedAt = parseNullTime(completedAt)
		charts = append(charts, rc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing rendered charts: %w", err)
	}

	for i := range charts {
		files, err := q.db.QueryContext(ctx,
			`SELECT id, rendered_chart_id, file_path, rendered_content FROM workspace_rendered_file
			 WHERE rendered_chart_id = ? ORDER BY file_path ASC`, charts[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("listing rendered files: %w", err)
		}
		for files.Next() {
			var f models.RenderedFile
			if err := files.Scan(&f.ID, &f.RenderedChartID, &f.FilePath, &f.RenderedContent); err != nil {
				files.Close()
				return nil, fmt.Errorf("scanning rendered file: %w", err)
			}
			charts[i].Files = append(charts[i].Files, f)
		}
		files.Close()
		if err := files.Err(); err != nil {
			return nil, fmt.Errorf("listing rendered files: %w", err)
		}
	}
	return charts, nil
}

// CompleteRenderedChart stores the worker's results for one chart.
func (q *Queries) CompleteRenderedChart(ctx context.Context, result models.RenderedChart) error {
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE workspace_rendered_chart SET is_success = ?,
			    dep_update_command = ?, dep_update_stdout = ?, dep_update_stderr = ?,
			    helm_template_command = ?, helm_template_stdout = ?, helm_template_stderr = ?,
			    completed_at = ?
			 WHERE id = ?`,
			result.IsSuccess,
			result.DepUpdateCommand, result.DepUpdateStdout, result.DepUpdateStderr,
			result.HelmTemplateCommand, result.HelmTemplateStdout, result.HelmTemplateStderr,
			formatTime(time.Now()), result.ID,
		)
		if err != nil {
			return fmt.Errorf("updating rendered chart: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("rendered chart %s: %w", result.ID, ErrNotFound)
		}
		for _, f := range result.Files {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO workspace_rendered_file (id, rendered_chart_id, file_path, rendered_content) VALUES (?, ?, ?, ?)`,
				uuid.NewString(), result.ID, f.FilePath, f.RenderedContent,
			); err != nil {
				return fmt.Errorf("inserting rendered file: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("completing rendered chart: %w", err)
	}
	return nil
}

// CompleteRenderedWorkspace stamps the render done and flags its revision
// as rendered.
func (q *Queries) CompleteRenderedWorkspace(ctx context.Context, id string) error {
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		var workspaceID string
		var revisionNumber int
		if err := tx.QueryRowContext(ctx,
			`SELECT workspace_id, revision_number FROM workspace_rendered WHERE id = ?`, id,
		).Scan(&workspaceID, &revisionNumber); err != nil {
			return notFound(err, "rendered workspace")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE workspace_rendered SET completed_at = ? WHERE id = ?`, formatTime(time.Now()), id,
		); err != nil {
			return fmt.Errorf("updating render: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE workspace_revision SET is_rendered = 1 WHERE workspace_id = ? AND revision_number = ?`,
			workspaceID, revisionNumber,
		); err != nil {
			return fmt.Errorf("flagging revision rendered: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("completing rendered workspace: %w", err)
	}
	return nil
}
