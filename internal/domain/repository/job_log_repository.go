package repository

import (
	"context"
	"database/sql"
	"fmt"

	"propleads/internal/domain/model"
)

type JobLogRepository interface {
	Append(ctx context.Context, entry *model.JobLog) error
	ListByJob(ctx context.Context, jobID int64, limit, offset int) ([]*model.JobLog, error)
}

type pgJobLogRepository struct {
	db *sql.DB
}

func NewPgJobLogRepository(db *sql.DB) JobLogRepository {
	return &pgJobLogRepository{db: db}
}

func (r *pgJobLogRepository) Append(ctx context.Context, entry *model.JobLog) error {
	if entry.Level == "" {
		entry.Level = model.LogLevelInfo
	}
	query := `INSERT INTO job_logs (job_id, level, message)
		VALUES ($1, $2, $3) RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, entry.JobID, entry.Level, entry.Message).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgJobLogRepository.Append: %w", err)
	}
	return nil
}

func (r *pgJobLogRepository) ListByJob(ctx context.Context, jobID int64, limit, offset int) ([]*model.JobLog, error) {
	query := `SELECT id, job_id, level, message, created_at FROM job_logs
		WHERE job_id = $1 ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pgJobLogRepository.ListByJob: %w", err)
	}
	defer rows.Close()

	logs := []*model.JobLog{}
	for rows.Next() {
		entry := &model.JobLog{}
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Level, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgJobLogRepository.ListByJob: %w", err)
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
