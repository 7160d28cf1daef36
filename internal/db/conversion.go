package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/esnunes/helmforge/internal/manifest"
	"github.com/esnunes/helmforge/internal/models"

	"github.com/google/uuid"
)

// SourceFile is a raw manifest handed to a conversion.
type SourceFile struct {
	FilePath string
	Content  string
}

// CreateConversion inserts a pending conversion with one pending row per
// source file, links it on the chat message and stores the work items of
// jobs, in one transaction.
func (q *Queries) CreateConversion(ctx context.Context, workspaceID, chatID, sourceType string, files []SourceFile, jobs ...Job) (*models.Conversion, error) {
	id := uuid.NewString()
	var conv *models.Conversion
	err := q.withTx(ctx, func(tx *sql.Tx) error {
		chatIDs, err := encodeIDs([]string{chatID})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workspace_conversion (id, workspace_id, chat_message_ids, source_type, status) VALUES (?, ?, ?, ?, ?)`,
			id, workspaceID, chatIDs, sourceType, string(models.ConversionStatusPending),
		); err != nil {
			return fmt.Errorf("inserting conversion: %w", err)
		}
		for _, f := range files {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO workspace_conversion_file (id, conversion_id, file_path, file_content, file_status) VALUES (?, ?, ?, ?, ?)`,
				uuid.NewString(), id, f.FilePath, f.Content, string(models.ConversionFileStatusPending),
			); err != nil {
				return fmt.Errorf("inserting conversion file %s: %w", f.FilePath, err)
			}
		}
		if err := linkChatResponse(ctx, tx, "response_conversion_id", chatID, id); err != nil {
			return err
		}
		if err := insertJobs(ctx, tx, Artifact{ID: id, WorkspaceID: workspaceID}, jobs); err != nil {
			return err
		}
		conv, err = getConversion(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversion: %w", err)
	}
	return conv, nil
}

// GetConversion returns the conversion with its files in processing order:
// dependencies such as config, secrets and RBAC before the workloads and
// services that use them.
func (q *Queries) GetConversion(ctx context.Context, id string) (*models.Conversion, error) {
	return getConversion(ctx, q.db, id)
}

func getConversion(ctx context.Context, db querier, id string) (*models.Conversion, error) {
	c := &models.Conversion{}
	var chatIDs, status, createdAt string
	err := db.QueryRowContext(ctx,
		`SELECT id, workspace_id, chat_message_ids, source_type, status, created_at FROM workspace_conversion WHERE id = ?`, id,
	).Scan(&c.ID, &c.WorkspaceID, &chatIDs, &c.SourceType, &status, &createdAt)
	if err != nil {
		return nil, notFound(err, "conversion")
	}
	c.Status = models.ConversionStatus(status)
	c.CreatedAt = parseTime(createdAt)
	if c.ChatMessageIDs, err = decodeIDs(chatIDs); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, conversion_id, file_path, file_content, file_status, converted_files
		 FROM workspace_conversion_file WHERE conversion_id = ? ORDER BY rowid ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversion files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f models.ConversionFile
		var fileStatus, converted string
		if err := rows.Scan(&f.ID, &f.ConversionID, &f.FilePath, &f.FileContent, &fileStatus, &converted); err != nil {
			return nil, fmt.Errorf("scanning conversion file: %w", err)
		}
		f.FileStatus = models.ConversionFileStatus(fileStatus)
		if err := json.Unmarshal([]byte(converted), &f.ConvertedFiles); err != nil {
			return nil, fmt.Errorf("decoding converted files: %w", err)
		}
		c.SourceFiles = append(c.SourceFiles, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	manifest.SortBy(c.SourceFiles, func(f models.ConversionFile) string { return f.FileContent })
	return c, nil
}

// AdvanceConversionStatus moves a conversion exactly one stage forward to
// `to`. Skipping a stage, going backwards or re-entering a stage fails with
// ErrPrecondition.
func (q *Queries) AdvanceConversionStatus(ctx context.Context, id string, to models.ConversionStatus) error {
	from, ok := to.Previous()
	if !ok {
		return fmt.Errorf("no conversion stage leads to %q: %w", to, ErrPrecondition)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE workspace_conversion SET status = ? WHERE id = ? AND status = ?`, string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("advancing conversion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := getConversion(ctx, q.db, id); err != nil {
			return err
		}
		return fmt.Errorf("conversion %s is not %s: %w", id, from, ErrPrecondition)
	}
	return nil
}

// AdvanceConversionFileStatus is AdvanceConversionStatus for one file.
func (q *Queries) AdvanceConversionFileStatus(ctx context.Context, fileID string, to models.ConversionFileStatus) error {
	from, ok := to.Previous()
	if !ok {
		return fmt.Errorf("no file stage leads to %q: %w", to, ErrPrecondition)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE workspace_conversion_file SET file_status = ? WHERE id = ? AND file_status = ?`, string(to), fileID, string(from),
	)
	if err != nil {
		return fmt.Errorf("advancing conversion file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := q.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM workspace_conversion_file WHERE id = ?)`, fileID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking conversion file: %w", err)
		}
		if !exists {
			return fmt.Errorf("conversion file %s: %w", fileID, ErrNotFound)
		}
		return fmt.Errorf("conversion file %s is not %s: %w", fileID, from, ErrPrecondition)
	}
	return nil
}

func (q *Queries) SetConvertedFiles(ctx context.Context, fileID string, converted map[string]string) error {
	b, err := json.Marshal(converted)
	if err != nil {
		return fmt.Errorf("encoding converted files: %w", err)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE workspace_conversion_file SET converted_files = ? WHERE id = ?`, string(b), fileID,
	)
	if err != nil {
		return fmt.Errorf("setting converted files: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversion file %s: %w", fileID, ErrNotFound)
	}
	return nil
}
