package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// mysqlErrDuplicateEntry is ER_DUP_ENTRY.
const mysqlErrDuplicateEntry = 1062

func (s *Store) CreateJob(ctx context.Context, job *types.ArchiveJob) error {
	now := time.Now().UTC()
	created := job.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.execContext(ctx, `INSERT INTO archive_jobs
		(job_id, project_id, version, target, target_kind, uid, status, result_url, file_name, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ProjectID, job.Version, job.Target, string(job.TargetKind), job.UID, string(job.Status),
		job.ResultURL, job.FileName, job.Error, created, now)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
		return fmt.Errorf("job %s: %w", job.ID, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*types.ArchiveJob, error) {
	var (
		j            types.ArchiveJob
		kind, status string
		errText      sql.NullString
	)
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&j.ID, &j.ProjectID, &j.Version, &j.Target, &kind, &j.UID, &status,
			&j.ResultURL, &j.FileName, &errText, &j.CreatedAt, &j.UpdatedAt)
	}, `SELECT job_id, project_id, version, target, target_kind, uid, status, result_url, file_name, error, created_at, updated_at
		FROM archive_jobs WHERE job_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	j.TargetKind = types.TargetKind(kind)
	j.Status = types.JobStatus(status)
	j.Error = errText.String
	return &j, nil
}

// TransitionJob is a single conditional UPDATE, so two workers racing to
// start the same job cannot both win.
func (s *Store) TransitionJob(ctx context.Context, id string, from, to types.JobStatus, updates map[string]any) error {
	if err := storage.ValidateJobTransition(from, to); err != nil {
		return err
	}

	set := "status = ?, updated_at = ?"
	args := []any{string(to), time.Now().UTC()}
	if len(updates) > 0 {
		extra, extraArgs, err := buildSet("job", updates, jobColumns)
		if err != nil {
			return err
		}
		set += ", " + extra
		args = append(args, extraArgs...)
	}
	args = append(args, id, string(from))

	res, err := s.execContext(ctx, "UPDATE archive_jobs SET "+set+" WHERE job_id = ? AND status = ?", args...)
	if err != nil {
		return fmt.Errorf("transition job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	current, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s, not %s: %w", id, current.Status, from, storage.ErrConflict)
}
