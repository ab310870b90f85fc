// Service wiring for the hiring workflow. The state machine itself lives in
// transitions.go; this file owns persistence and event publication.
// It has no dependency on net/http — it can be used by any transport layer.
package hiring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ─── Service ─────────────────────────────────────────────────────────────────

// Service encapsulates the hiring workflow around the state machine.
type Service struct {
	pool *pgxpool.Pool
	rdb  *redis.Client

	// now is swapped out in tests; the two interview-gated guards and
	// the deadline math must never read the wall clock directly.
	now func() time.Time
}

// NewService returns a configured Service.
func NewService(pool *pgxpool.Pool, rdb *redis.Client) *Service {
	return &Service{pool: pool, rdb: rdb, now: time.Now}
}

const appColumns = `id, applicant_id, job_posting_id, status, accepted, applied_date, updated_at`

func scanApplication(row pgx.Row) (*Application, error) {
	var a Application
	var rawStatus string
	if err := row.Scan(
		&a.ID, &a.ApplicantID, &a.JobPostingID, &rawStatus, &a.Accepted,
		&a.AppliedDate, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return nil, fmt.Errorf("stored application %s: %w", a.ID, err)
	}
	a.Status = status
	return &a, nil
}

// ─── Business logic ───────────────────────────────────────────────────────────

// ListApplications returns all applications for the employer's postings,
// newest first. If statusFilter is non-empty, only matching rows are returned.
func (s *Service) ListApplications(ctx context.Context, employerID, statusFilter string) ([]Application, error) {
	base := `
		SELECT ` + appColumns + `
		FROM applications
		WHERE employer_id = $1`

	var (
		rows pgx.Rows
		err  error
	)
	if statusFilter != "" {
		status, perr := ParseStatus(statusFilter)
		if perr != nil {
			return nil, &ValidationError{Msg: perr.Error()}
		}
		rows, err = s.pool.Query(ctx, base+` AND status = $2::application_status ORDER BY updated_at DESC`, employerID, string(status))
	} else {
		rows, err = s.pool.Query(ctx, base+` ORDER BY updated_at DESC`, employerID)
	}
	if err != nil {
		return nil, fmt.Errorf("listApplications query: %w", err)
	}
	defer rows.Close()

	apps := make([]Application, 0)
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("listApplications scan: %w", err)
		}
		apps = append(apps, *a)
	}
	return apps, nil
}

// GetApplication returns a single application by ID, validating ownership.
func (s *Service) GetApplication(ctx context.Context, employerID, appID string) (*Application, error) {
	a, err := scanApplication(s.pool.QueryRow(ctx,
		`SELECT `+appColumns+` FROM applications WHERE id = $1 AND employer_id = $2`,
		appID, employerID,
	))
	if err != nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// CreateApplication inserts a new application at pending/unaccepted for the
// given applicant and posting. Re-applying to the same posting is a no-op at
// the database level (unique on applicant_id, job_posting_id).
func (s *Service) CreateApplication(ctx context.Context, employerID, applicantID, postingID string) (*Application, error) {
	if applicantID == "" || postingID == "" {
		return nil, &ValidationError{Msg: "applicantId and jobPostingId are required"}
	}

	a, err := scanApplication(s.pool.QueryRow(ctx,
		`INSERT INTO applications (id, employer_id, applicant_id, job_posting_id, status, accepted, applied_date)
		 VALUES ($1, $2, $3, $4, 'pending', false, NOW())
		 ON CONFLICT (applicant_id, job_posting_id) DO NOTHING
		 RETURNING `+appColumns,
		uuid.NewString(), employerID, applicantID, postingID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ValidationError{Msg: "applicant already applied to this posting"}
		}
		return nil, fmt.Errorf("createApplication: %w", err)
	}
	return a, nil
}

// activeInterview loads the application's scheduled interview, or nil when
// none exists. At most one scheduled interview exists per application.
func activeInterview(ctx context.Context, q querier, appID string) (*Interview, error) {
	var iv Interview
	err := q.QueryRow(ctx,
		`SELECT id, application_id, interview_datetime, interview_status
		 FROM interviews
		 WHERE application_id = $1 AND interview_status = 'scheduled'`,
		appID,
	).Scan(&iv.ID, &iv.ApplicationID, &iv.InterviewDateTime, &iv.InterviewStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activeInterview: %w", err)
	}
	return &iv, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LegalActions returns the actions currently permitted on an application,
// re-derived from the live snapshot on every call.
func (s *Service) LegalActions(ctx context.Context, employerID, appID string) ([]Action, error) {
	app, err := s.GetApplication(ctx, employerID, appID)
	if err != nil {
		return nil, err
	}
	iv, err := activeInterview(ctx, s.pool, appID)
	if err != nil {
		return nil, err
	}
	return EvaluateActions(app, iv, s.now()), nil
}

// ApplyAction performs one employer action on an application.
//
// The guard is validated against the freshly loaded snapshot, and the update
// is committed compare-and-swap style on the pre-transition (status, accepted)
// pair, so two racing calls cannot both succeed from the same state: the
// loser's UPDATE matches no row and is reported as a TransitionError.
//
// interviewAt is required for schedule_interview and ignored otherwise.
func (s *Service) ApplyAction(ctx context.Context, employerID, appID, actionStr string, interviewAt *time.Time) (*Application, error) {
	action, err := ParseAction(actionStr)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	if action == ActionScheduleInterview && interviewAt == nil {
		return nil, &ValidationError{Msg: "schedule_interview requires interviewAt"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("applyAction begin: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := scanApplication(tx.QueryRow(ctx,
		`SELECT `+appColumns+` FROM applications WHERE id = $1 AND employer_id = $2`,
		appID, employerID,
	))
	if err != nil {
		return nil, ErrNotFound
	}
	iv, err := activeInterview(ctx, tx, appID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	next, err := Apply(app, iv, action, now)
	if err != nil {
		return nil, err
	}

	historyEntry, _ := json.Marshal(map[string]string{
		"action": string(action),
		"from":   string(app.Status),
		"to":     string(next.Status),
		"at":     now.UTC().Format(time.RFC3339),
	})

	committed, err := scanApplication(tx.QueryRow(ctx,
		`UPDATE applications
		 SET status      = $1::application_status,
		     accepted    = $2,
		     history_log = history_log || $3::jsonb,
		     updated_at  = NOW()
		 WHERE id = $4 AND employer_id = $5
		   AND status = $6::application_status AND accepted = $7
		 RETURNING `+appColumns,
		string(next.Status), next.Accepted,
		fmt.Sprintf("[%s]", historyEntry),
		appID, employerID,
		string(app.Status), app.Accepted,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race: someone moved the application between our
			// SELECT and UPDATE. Same answer as a stale guard.
			return nil, &TransitionError{From: app.Status, Accepted: app.Accepted, Action: action}
		}
		return nil, fmt.Errorf("applyAction update: %w", err)
	}

	if action == ActionScheduleInterview {
		if err := s.replaceInterview(ctx, tx, appID, *interviewAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("applyAction commit: %w", err)
	}

	// On hired: mark the posting filled (non-fatal)
	if committed.Status == StatusHired {
		if err := s.closeJobPosting(ctx, committed.JobPostingID); err != nil {
			slog.Warn("closeJobPosting failed", "jobPostingId", committed.JobPostingID, "err", err)
		}
	}

	// Publish event for downstream notification (non-fatal)
	event, _ := json.Marshal(map[string]string{
		"type":          "EVENT_APPLICATION_MOVED",
		"applicationId": appID,
		"employerId":    employerID,
		"action":        string(action),
		"from":          string(app.Status),
		"to":            string(committed.Status),
	})
	if err := s.rdb.Publish(ctx, "EVENT_APPLICATION_MOVED", event).Err(); err != nil {
		slog.Warn("publish EVENT_APPLICATION_MOVED failed", "err", err)
	}

	return committed, nil
}

// replaceInterview cancels any currently scheduled interview and inserts the
// new one, preserving the at-most-one-scheduled invariant.
func (s *Service) replaceInterview(ctx context.Context, tx pgx.Tx, appID string, at time.Time) error {
	if _, err := tx.Exec(ctx,
		`UPDATE interviews SET interview_status = 'cancelled'
		 WHERE application_id = $1 AND interview_status = 'scheduled'`,
		appID,
	); err != nil {
		return fmt.Errorf("cancel prior interview: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO interviews (id, application_id, interview_datetime, interview_status)
		 VALUES ($1, $2, $3, 'scheduled')`,
		uuid.NewString(), appID, at,
	); err != nil {
		return fmt.Errorf("insert interview: %w", err)
	}
	return nil
}

// closeJobPosting marks a posting filled once a candidate is hired, so it
// drops out of the public board.
func (s *Service) closeJobPosting(ctx context.Context, postingID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE job_postings
		 SET status = 'filled', updated_at = NOW()
		 WHERE id = $1 AND status = 'open'`,
		postingID,
	)
	return err
}

// ─── Sentinel errors ─────────────────────────────────────────────────────────

// ErrNotFound is returned when an application is missing or does not belong
// to the employer.
var ErrNotFound = fmt.Errorf("application not found")

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// TransitionError reports a guard failure at apply time. It is always
// recoverable: the caller should re-fetch the snapshot and re-offer the
// currently legal actions.
type TransitionError struct {
	From     Status
	Accepted bool
	Action   Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("action %s is not allowed from status %s (accepted=%t)", e.Action, e.From, e.Accepted)
}
