// Package jobs persists snipe jobs and their attempt audit trails.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/recgov-sniper/internal/db"
	"github.com/example/recgov-sniper/internal/snipe"
)

// Job statuses. A job moves pending -> running -> booked|failed|aborted;
// cancelled is operator-initiated and reachable only from pending.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusBooked    = "booked"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
	StatusCancelled = "cancelled"
)

type Job struct {
	ID            int64
	Name          string
	CampgroundID  string
	CampsiteIDs   []string
	ArrivalDate   time.Time
	DepartureDate time.Time
	WindowOpensAt time.Time

	Status       string
	WinnerSiteID *string
	LastError    *string
	StartedAt    *time.Time
	FinishedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("name required")
	}
	if j.CampgroundID == "" {
		return fmt.Errorf("campground_id required")
	}
	if j.ArrivalDate.IsZero() {
		return fmt.Errorf("arrival_date required")
	}
	if !j.DepartureDate.After(j.ArrivalDate) {
		return fmt.Errorf("departure_date must be after arrival_date")
	}
	if j.WindowOpensAt.IsZero() {
		return fmt.Errorf("window_opens_at required")
	}
	return nil
}

func joinIDs(ids []string) string {
	var cleaned []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

const jobColumns = `id,name,campground_id,campsite_ids,arrival_date,departure_date,window_opens_at,status,winner_site_id,last_error,started_at,finished_at,created_at,updated_at`

func scanJob(row db.Row) (Job, error) {
	var j Job
	var ids string
	if err := row.Scan(
		&j.ID, &j.Name, &j.CampgroundID, &ids, &j.ArrivalDate, &j.DepartureDate, &j.WindowOpensAt,
		&j.Status, &j.WinnerSiteID, &j.LastError, &j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return Job{}, err
	}
	j.CampsiteIDs = splitIDs(ids)
	return j, nil
}

func (r *Repo) Create(ctx context.Context, j Job) (int64, error) {
	if err := j.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.db.QueryRow(ctx, `
INSERT INTO snipe_jobs(name,campground_id,campsite_ids,arrival_date,departure_date,window_opens_at,status)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id`,
		j.Name, j.CampgroundID, joinIDs(j.CampsiteIDs), j.ArrivalDate, j.DepartureDate, j.WindowOpensAt, StatusPending,
	).Scan(&id)
	return id, db.WrapNotFound(err)
}

func (r *Repo) Get(ctx context.Context, id int64) (Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM snipe_jobs WHERE id=$1`, id))
	if err != nil {
		return Job{}, db.WrapNotFound(err)
	}
	return j, nil
}

func (r *Repo) List(ctx context.Context) ([]Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM snipe_jobs ORDER BY window_opens_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Claim atomically flips due pending jobs to running and returns them, so
// concurrent daemons never double-run a job. lead is how far before the
// window a job becomes due (login and session warmup happen in that lead).
func (r *Repo) Claim(ctx context.Context, lead time.Duration, limit int) ([]Job, error) {
	rows, err := r.db.Query(ctx, `
UPDATE snipe_jobs
SET status=$1, started_at=now(), updated_at=now()
WHERE id IN (
  SELECT id FROM snipe_jobs
  WHERE status=$2 AND window_opens_at <= now() + $3::interval
  ORDER BY window_opens_at ASC
  LIMIT $4
  FOR UPDATE SKIP LOCKED
)
RETURNING `+jobColumns,
		StatusRunning, StatusPending, fmt.Sprintf("%f seconds", lead.Seconds()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Cancel marks a pending job cancelled. Running jobs must be stopped through
// the daemon, not the database.
func (r *Repo) Cancel(ctx context.Context, id int64) error {
	var got int64
	err := r.db.QueryRow(ctx, `
UPDATE snipe_jobs SET status=$2, updated_at=now()
WHERE id=$1 AND status=$3
RETURNING id`, id, StatusCancelled, StatusPending).Scan(&got)
	return db.WrapNotFound(err)
}

// Finish records a run's terminal disposition and its full audit trail.
func (r *Repo) Finish(ctx context.Context, jobID int64, res snipe.Result) error {
	status := StatusFailed
	var winner *string
	switch res.Phase {
	case snipe.PhaseSucceeded:
		status = StatusBooked
		winner = &res.Winner.ID
	case snipe.PhaseAborted:
		status = StatusAborted
	}
	var lastErr *string
	if res.Err != nil {
		msg := res.Err.Error()
		lastErr = &msg
	}

	if err := r.db.Exec(ctx, `
UPDATE snipe_jobs
SET status=$2, winner_site_id=$3, last_error=$4, finished_at=now(), updated_at=now()
WHERE id=$1`, jobID, status, winner, lastErr); err != nil {
		return err
	}
	return r.recordAttempts(ctx, jobID, res.Attempts)
}

func (r *Repo) recordAttempts(ctx context.Context, jobID int64, recs []snipe.AttemptRecord) error {
	for _, rec := range recs {
		var attemptErr *string
		if rec.Err != nil {
			msg := rec.Err.Error()
			attemptErr = &msg
		}
		if err := r.db.Exec(ctx, `
INSERT INTO snipe_attempts(job_id,seq,candidate_id,candidate_rank,started_at,ended_at,outcome,error)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (job_id, seq) DO NOTHING`,
			jobID, rec.Seq, rec.Candidate.ID, rec.Candidate.Rank, rec.StartedAt, rec.EndedAt, rec.Outcome.String(), attemptErr,
		); err != nil {
			return fmt.Errorf("record attempt %d: %w", rec.Seq, err)
		}
	}
	return nil
}

// Attempt is one persisted audit-trail row.
type Attempt struct {
	JobID       int64
	Seq         int
	CandidateID string
	Rank        int
	StartedAt   time.Time
	EndedAt     time.Time
	Outcome     string
	Error       *string
}

func (r *Repo) Attempts(ctx context.Context, jobID int64) ([]Attempt, error) {
	rows, err := r.db.Query(ctx, `
SELECT job_id,seq,candidate_id,candidate_rank,started_at,ended_at,outcome,error
FROM snipe_attempts
WHERE job_id=$1
ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.JobID, &a.Seq, &a.CandidateID, &a.Rank, &a.StartedAt, &a.EndedAt, &a.Outcome, &a.Error); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
