package storage

import (
	"database/sql"
	"time"

	apperr "karaoke/internal/errors"
	"karaoke/internal/events"
	"karaoke/internal/model"
)

// jobColumns is the standard SELECT column list using COALESCE to avoid
// sql.NullString overhead per row.
const jobColumns = `id, COALESCE(filename,''), status, progress, COALESCE(status_message,''),
	COALESCE(task_id,''), COALESCE(song_id,''), COALESCE(title,''), COALESCE(artist,''),
	created_at, started_at, completed_at, COALESCE(error,''), COALESCE(notes,''), dismissed`

// JobFilter narrows List results.
type JobFilter struct {
	Status           model.JobStatus
	IncludeDismissed bool
	Since            *time.Time
}

// JobStore handles job CRUD and publishes a JobEvent after each
// committed state change.
type JobStore struct {
	db  *DB
	bus *events.Bus
}

// NewJobStore creates a job store publishing to bus.
func NewJobStore(db *DB, bus *events.Bus) *JobStore {
	return &JobStore{db: db, bus: bus}
}

// Create inserts a new job row. Duplicate ids fail with ErrConflict.
// The JobCreated event is emitted only after the transaction commits.
func (s *JobStore) Create(job *model.Job) error {
	if err := s.db.conn.Ping(); err != nil {
		return apperr.Wrap("JobStore.Create", err)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = model.StatusPending
	}

	tx, err := s.db.conn.Begin()
	if err != nil {
		return apperr.Wrap("JobStore.Create", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM jobs WHERE id = ?`, job.ID).Scan(&exists); err != nil {
		return apperr.Wrap("JobStore.Create", err)
	}
	if exists > 0 {
		return apperr.NewWithMessage("JobStore.Create", apperr.ErrConflict,
			"job "+job.ID+" already exists")
	}

	_, err = tx.Exec(`
		INSERT INTO jobs (id, filename, status, progress, status_message, task_id,
			song_id, title, artist, created_at, started_at, completed_at, error, notes, dismissed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, job.Status, job.Progress, job.StatusMessage, job.TaskID,
		job.SongID, job.Title, job.Artist, job.CreatedAt, job.StartedAt, job.CompletedAt,
		job.Error, job.Notes, job.Dismissed,
	)
	if err != nil {
		return apperr.Wrap("JobStore.Create", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap("JobStore.Create", err)
	}
	s.db.checkpoint()

	s.bus.PublishJob(events.JobEvent{JobID: job.ID, Job: *job, WasCreated: true})
	return nil
}

// Get returns the job or ErrNotFound.
func (s *JobStore) Get(id string) (*model.Job, error) {
	row := s.db.conn.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NewWithMessage("JobStore.Get", apperr.ErrNotFound, "job "+id+" not found")
	}
	if err != nil {
		return nil, apperr.Wrap("JobStore.Get", err)
	}
	return job, nil
}

// Update persists a full job snapshot. The row must still exist, and
// the status change must be legal under the job state machine. The
// matching JobEvent is emitted after commit, so subscribers can read
// their own writes.
func (s *JobStore) Update(job *model.Job) error {
	if err := s.db.conn.Ping(); err != nil {
		return apperr.Wrap("JobStore.Update", err)
	}

	tx, err := s.db.conn.Begin()
	if err != nil {
		return apperr.Wrap("JobStore.Update", err)
	}
	defer tx.Rollback()

	var current model.JobStatus
	err = tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, job.ID).Scan(&current)
	if err == sql.ErrNoRows {
		return apperr.NewWithMessage("JobStore.Update", apperr.ErrNotFound, "job "+job.ID+" not found")
	}
	if err != nil {
		return apperr.Wrap("JobStore.Update", err)
	}
	if current != job.Status && !current.CanTransitionTo(job.Status) {
		return apperr.NewWithMessage("JobStore.Update", apperr.ErrInvalidState,
			"illegal status transition "+string(current)+" -> "+string(job.Status))
	}

	res, err := tx.Exec(`
		UPDATE jobs SET
			filename = ?, status = ?, progress = ?, status_message = ?, task_id = ?,
			song_id = ?, title = ?, artist = ?, started_at = ?, completed_at = ?,
			error = ?, notes = ?, dismissed = ?
		WHERE id = ?`,
		job.Filename, job.Status, job.Progress, job.StatusMessage, job.TaskID,
		job.SongID, job.Title, job.Artist, job.StartedAt, job.CompletedAt,
		job.Error, job.Notes, job.Dismissed, job.ID,
	)
	if err != nil {
		return apperr.Wrap("JobStore.Update", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return apperr.Wrap("JobStore.Update", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap("JobStore.Update", err)
	}
	s.db.checkpoint()

	s.bus.PublishJob(events.JobEvent{JobID: job.ID, Job: *job})
	return nil
}

// List returns jobs matching the filter, newest first. Dismissed jobs
// are excluded unless the filter asks for them.
func (s *JobStore) List(filter JobFilter) ([]*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if !filter.IncludeDismissed {
		query += ` AND dismissed = FALSE`
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, apperr.Wrap("JobStore.List", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap("JobStore.List", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Dismiss hides a terminal job from the UI without deleting it.
func (s *JobStore) Dismiss(id string) error {
	job, err := s.Get(id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return apperr.NewWithMessage("JobStore.Dismiss", apperr.ErrInvalidState,
			"only completed, failed or cancelled jobs can be dismissed")
	}

	job.Dismissed = true
	return s.Update(job)
}

// Stats returns the number of jobs per status.
func (s *JobStore) Stats() (map[model.JobStatus]int, error) {
	rows, err := s.db.conn.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, apperr.Wrap("JobStore.Stats", err)
	}
	defer rows.Close()

	stats := make(map[model.JobStatus]int)
	for rows.Next() {
		var status model.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperr.Wrap("JobStore.Stats", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// MarkStaleFailed sweeps jobs stuck in non-terminal states older than
// cutoff and marks them failed. Used by the scheduler at startup.
func (s *JobStore) MarkStaleFailed(cutoff time.Time, note string) (int, error) {
	stale, err := s.List(JobFilter{IncludeDismissed: true})
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, job := range stale {
		if job.Status.Terminal() || !job.CreatedAt.Before(cutoff) {
			continue
		}
		now := time.Now().UTC()
		job.Status = model.StatusFailed
		job.Error = "resumed after restart"
		job.Notes = note
		job.CompletedAt = &now
		if err := s.Update(job); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

// scanner lets scanJob work over both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	job := &model.Job{}
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.Filename, &job.Status, &job.Progress, &job.StatusMessage,
		&job.TaskID, &job.SongID, &job.Title, &job.Artist,
		&job.CreatedAt, &startedAt, &completedAt, &job.Error, &job.Notes, &job.Dismissed,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}
