package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrJobNotFound is returned when no row matches the job id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobConflict is returned when a conditional update finds the job in
	// a different status than expected.
	ErrJobConflict = errors.New("job status changed concurrently")
)

// JobRow is the persisted shape of a job. ResultJSON holds the encoded
// aggregate once the job completes.
type JobRow struct {
	ID         string
	Identity   string
	Status     string
	Style      string
	Segments   int
	ResultJSON string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InsertJob stores a new job row.
func (s *Store) InsertJob(ctx context.Context, row JobRow) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(row.ID) == "" {
		return errors.New("job id is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO jobs (id, identity, status, style, segments, result_json, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.Identity, row.Status, row.Style, row.Segments,
		nullString(row.ResultJSON), nullString(row.Error),
		row.CreatedAt.UTC().UnixMilli(), row.UpdatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads a job row by id.
func (s *Store) GetJob(ctx context.Context, id string) (JobRow, error) {
	if s == nil || s.DB == nil {
		return JobRow{}, errNotInitialized
	}

	var (
		row        JobRow
		resultJSON sql.NullString
		errText    sql.NullString
		createdAt  int64
		updatedAt  int64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, identity, status, style, segments, result_json, error, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id).Scan(&row.ID, &row.Identity, &row.Status, &row.Style, &row.Segments,
		&resultJSON, &errText, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JobRow{}, ErrJobNotFound
		}
		return JobRow{}, fmt.Errorf("fetch job: %w", err)
	}

	row.ResultJSON = resultJSON.String
	row.Error = errText.String
	row.CreatedAt = time.UnixMilli(createdAt).UTC()
	row.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return row, nil
}

// TransitionJob moves a job from status from to row.Status in one
// conditional update, writing the result and error columns alongside.
func (s *Store) TransitionJob(ctx context.Context, from string, row JobRow) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}

	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result_json = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, row.Status, nullString(row.ResultJSON), nullString(row.Error),
		row.UpdatedAt.UTC().UnixMilli(), row.ID, from)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := s.GetJob(ctx, row.ID); err != nil {
		return err
	}
	return ErrJobConflict
}

// DeleteJobsBefore removes jobs in any of statuses last updated before cutoff.
func (s *Store) DeleteJobsBefore(ctx context.Context, cutoff time.Time, statuses ...string) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}
	if len(statuses) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses)+1)
	args = append(args, cutoff.UTC().UnixMilli())
	for _, status := range statuses {
		args = append(args, status)
	}

	// #nosec G201 -- placeholders are generated, values are bound
	res, err := s.DB.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM jobs WHERE updated_at < ? AND status IN (%s)`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return int(affected), nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
