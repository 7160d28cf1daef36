package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/esnunes/helmforge/internal/models"

	"github.com/google/uuid"
)

// Work queue

// Artifact identifies the row a write created, for building the payload of
// the work item that follows it.
type Artifact struct {
	ID             string
	WorkspaceID    string
	RevisionNumber int
}

// Job is a work item stored in the same transaction as the artifact it
// refers to, so the artifact never exists without its work item. ID is
// fixed up front and reused if the write is retried.
type Job struct {
	ID      string
	Channel string
	Payload func(a Artifact) any
}

func NewJob(channel string, payload func(a Artifact) any) Job {
	return Job{ID: uuid.NewString(), Channel: channel, Payload: payload}
}

// insertJobs appends the work items of jobs. Workers own consumption; the
// engine never updates or deletes these rows.
func insertJobs(ctx context.Context, db querier, a Artifact, jobs []Job) error {
	now := formatTime(time.Now())
	for _, job := range jobs {
		b, err := json.Marshal(job.Payload(a))
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", job.Channel, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO work_queue (id, channel, payload, created_at) VALUES (?, ?, ?, ?)`,
			job.ID, job.Channel, string(b), now,
		); err != nil {
			return fmt.Errorf("inserting %s work item: %w", job.Channel, err)
		}
	}
	return nil
}

func (q *Queries) GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error) {
	item := &models.WorkItem{}
	var createdAt string
	err := q.db.QueryRowContext(ctx,
		`SELECT id, channel, payload, created_at FROM work_queue WHERE id = ?`, id,
	).Scan(&item.ID, &item.Channel, &item.Payload, &createdAt)
	if err != nil {
		return nil, notFound(err, "work item")
	}
	item.CreatedAt = parseTime(createdAt)
	return item, nil
}

func (q *Queries) ListWorkItems(ctx context.Context, channel string) ([]models.WorkItem, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, channel, payload, created_at FROM work_queue WHERE channel = ? ORDER BY created_at ASC, rowid ASC`, channel,
	)
	if err != nil {
		return nil, fmt.Errorf("listing work items: %w", err)
	}
	defer rows.Close()

	var results []models.WorkItem
	for rows.Next() {
		var item models.WorkItem
		var createdAt string
		if err := rows.Scan(&item.ID, &item.Channel, &item.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning work item: %w", err)
		}
		item.CreatedAt = parseTime(createdAt)
		results = append(results, item)
	}
	return results, rows.Err()
}

// Realtime replay

func (q *Queries) InsertReplayEvent(ctx context.Context, userID, channel, messageData string) (*models.ReplayEvent, error) {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO realtime_replay (user_id, channel, message_data, created_at) VALUES (?, ?, ?, ?)`,
		userID, channel, messageData, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting replay event: %w", err)
	}
	id, _ := res.LastInsertId()
	return &models.ReplayEvent{ID: id, UserID: userID, Channel: channel, MessageData: messageData, CreatedAt: now}, nil
}

func (q *Queries) ListReplayEvents(ctx context.Context, userID string) ([]models.ReplayEvent, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, user_id, channel, message_data, created_at FROM realtime_replay WHERE user_id = ? ORDER BY id ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing replay events: %w", err)
	}
	defer rows.Close()

	var results []models.ReplayEvent
	for rows.Next() {
		var e models.ReplayEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Channel, &e.MessageData, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning replay event: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		results = append(results, e)
	}
	return results, rows.Err()
}

func (q *Queries) DeleteReplayEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM realtime_replay WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning replay events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
