// Service wiring for the compliance engine: persistence, the distribution
// transaction, and event publication. The decision logic lives in engine.go.
package compliance

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

// Service encapsulates compliance persistence and distribution.
type Service struct {
	pool *pgxpool.Pool
	rdb  *redis.Client

	// requirementHours is the annual CEU requirement applied when an
	// employee row carries no per-employee override.
	requirementHours float64

	now func() time.Time
}

// NewService returns a configured Service.
func NewService(pool *pgxpool.Pool, rdb *redis.Client, requirementHours float64) *Service {
	return &Service{pool: pool, rdb: rdb, requirementHours: requirementHours, now: time.Now}
}

// ErrNotFound is returned when a referenced record is missing.
var ErrNotFound = fmt.Errorf("record not found")

// ─── Distribution ────────────────────────────────────────────────────────────

// DistributionResult is what a completed distribution reports back:
// the stored assignment plus the assignable/blocked partition.
type DistributionResult struct {
	Assignment Assignment      `json:"assignment"`
	Assigned   []string        `json:"assigned"`
	Blocked    []BlockedTarget `json:"blocked"`
}

// DistributeAssignment expands the request's cohort, filters out employees
// who already hold the training, and creates the assignment plus one
// progress record per assignable employee in a single transaction.
//
// The insert carries ON CONFLICT DO NOTHING on (employee_id, training_id):
// if another distribution slips in between our consistent read and the
// commit, the duplicate row is silently skipped and the employee is simply
// not listed as assigned.
func (s *Service) DistributeAssignment(ctx context.Context, req AssignmentRequest) (*DistributionResult, error) {
	catalog, err := s.loadCatalog(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}
	employees, err := s.loadActiveEmployees(ctx)
	if err != nil {
		return nil, err
	}
	index, err := s.loadProgressIndex(ctx, req.TrainingID)
	if err != nil {
		return nil, err
	}

	resolution, err := ResolveTargets(req, employees, index, catalog)
	if err != nil {
		return nil, err
	}

	now := s.now()
	assignment := Assignment{
		ID:           uuid.NewString(),
		TrainingID:   req.TrainingID,
		TargetType:   req.TargetType,
		TargetRole:   req.TargetRole,
		DueDate:      req.DueDate,
		Priority:     req.Priority,
		AssignedDate: now,
		Status:       AssignmentActive,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("distribute begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO assignments (id, training_id, target_type, target_role, due_date, priority, assigned_date, status)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, 'active')`,
		assignment.ID, assignment.TrainingID, string(assignment.TargetType), assignment.TargetRole,
		assignment.DueDate, string(assignment.Priority), assignment.AssignedDate,
	); err != nil {
		return nil, fmt.Errorf("distribute insert assignment: %w", err)
	}

	assigned := make([]string, 0, len(resolution.Assignable))
	for _, employeeID := range resolution.Assignable {
		tag, err := tx.Exec(ctx,
			`INSERT INTO progress_records (employee_id, training_id, assignment_id, state, progress_percent, ceu_hours_earned)
			 VALUES ($1, $2, $3, 'assigned', 0, 0)
			 ON CONFLICT (employee_id, training_id) DO NOTHING`,
			employeeID, req.TrainingID, assignment.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("distribute insert progress: %w", err)
		}
		if tag.RowsAffected() == 1 {
			assigned = append(assigned, employeeID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("distribute commit: %w", err)
	}

	// Publish event for downstream notification (non-fatal)
	event, _ := json.Marshal(map[string]any{
		"type":         "EVENT_TRAINING_ASSIGNED",
		"assignmentId": assignment.ID,
		"trainingId":   req.TrainingID,
		"assigned":     assigned,
		"dueDate":      req.DueDate.UTC().Format(time.RFC3339),
	})
	if err := s.rdb.Publish(ctx, "EVENT_TRAINING_ASSIGNED", event).Err(); err != nil {
		slog.Warn("publish EVENT_TRAINING_ASSIGNED failed", "err", err)
	}

	return &DistributionResult{
		Assignment: assignment,
		Assigned:   assigned,
		Blocked:    resolution.Blocked,
	}, nil
}

// CancelAssignment marks an assignment cancelled. Assignments are never
// deleted; progress records already created remain.
func (s *Service) CancelAssignment(ctx context.Context, assignmentID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assignments SET status = 'cancelled' WHERE id = $1 AND status = 'active'`,
		assignmentID,
	)
	if err != nil {
		return fmt.Errorf("cancelAssignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Progress updates ────────────────────────────────────────────────────────

// RecordProgress advances an employee's record for one training. Starting
// sets the start date; completing fixes progress at 100 and credits the
// training's catalog CEU hours.
func (s *Service) RecordProgress(ctx context.Context, employeeID, trainingID, stateStr string, progressPercent float64, score *float64) (*ProgressRecord, error) {
	state, err := ParseProgressState(stateStr)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	if progressPercent < 0 || progressPercent > 100 {
		return nil, &ValidationError{Msg: "progressPercent must be between 0 and 100"}
	}

	var rec ProgressRecord
	var rawState string
	switch state {
	case ProgressCompleted:
		err = s.pool.QueryRow(ctx,
			`UPDATE progress_records pr
			 SET state            = 'completed',
			     progress_percent = 100,
			     completion_date  = NOW(),
			     score            = $3,
			     ceu_hours_earned = t.ceu_hours
			 FROM trainings t
			 WHERE pr.employee_id = $1 AND pr.training_id = $2 AND t.id = pr.training_id
			 RETURNING pr.employee_id, pr.training_id, pr.assignment_id, pr.state,
			           pr.progress_percent, pr.start_date, pr.completion_date, pr.score, pr.ceu_hours_earned`,
			employeeID, trainingID, score,
		).Scan(&rec.EmployeeID, &rec.TrainingID, &rec.AssignmentID, &rawState,
			&rec.ProgressPercent, &rec.StartDate, &rec.CompletionDate, &rec.Score, &rec.CEUHoursEarned)
	default:
		err = s.pool.QueryRow(ctx,
			`UPDATE progress_records
			 SET state            = $3::progress_state,
			     progress_percent = $4,
			     start_date       = COALESCE(start_date, NOW())
			 WHERE employee_id = $1 AND training_id = $2
			 RETURNING employee_id, training_id, assignment_id, state,
			           progress_percent, start_date, completion_date, score, ceu_hours_earned`,
			employeeID, trainingID, string(state), progressPercent,
		).Scan(&rec.EmployeeID, &rec.TrainingID, &rec.AssignmentID, &rawState,
			&rec.ProgressPercent, &rec.StartDate, &rec.CompletionDate, &rec.Score, &rec.CEUHoursEarned)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("recordProgress: %w", err)
	}
	rec.State = ProgressState(rawState)
	return &rec, nil
}

// ─── Snapshots ───────────────────────────────────────────────────────────────

// EmployeeSnapshot loads everything targeting one employee and recomputes
// the derived compliance picture.
func (s *Service) EmployeeSnapshot(ctx context.Context, employeeID string) (*ComplianceSnapshot, error) {
	requirement, err := s.employeeRequirement(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT pr.employee_id, pr.training_id, pr.assignment_id, pr.state,
		        pr.progress_percent, pr.start_date, pr.completion_date, pr.score, pr.ceu_hours_earned,
		        t.title, t.ceu_hours, t.duration_minutes, t.mandatory, t.status,
		        a.target_type, COALESCE(a.target_role, ''), a.due_date, a.priority, a.assigned_date, a.status
		 FROM progress_records pr
		 JOIN trainings   t ON t.id = pr.training_id
		 JOIN assignments a ON a.id = pr.assignment_id
		 WHERE pr.employee_id = $1`,
		employeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("employeeSnapshot query: %w", err)
	}
	defer rows.Close()

	var (
		records     []ProgressRecord
		assignments []Assignment
		catalog     = make(Catalog)
	)
	for rows.Next() {
		var (
			rec ProgressRecord
			t   TrainingDefinition
			a   Assignment
		)
		if err := rows.Scan(
			&rec.EmployeeID, &rec.TrainingID, &rec.AssignmentID, &rec.State,
			&rec.ProgressPercent, &rec.StartDate, &rec.CompletionDate, &rec.Score, &rec.CEUHoursEarned,
			&t.Title, &t.CEUHours, &t.DurationMinutes, &t.Mandatory, &t.Status,
			&a.TargetType, &a.TargetRole, &a.DueDate, &a.Priority, &a.AssignedDate, &a.Status,
		); err != nil {
			return nil, fmt.Errorf("employeeSnapshot scan: %w", err)
		}
		t.ID = rec.TrainingID
		a.ID = rec.AssignmentID
		a.TrainingID = rec.TrainingID
		records = append(records, rec)
		assignments = append(assignments, a)
		catalog[t.ID] = t
	}

	return RecomputeProgress(employeeID, records, assignments, catalog, requirement, s.now())
}

// employeeRequirement returns the employee's annual CEU requirement,
// falling back to the service-wide default when the row has no override.
func (s *Service) employeeRequirement(ctx context.Context, employeeID string) (float64, error) {
	var requirement float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(ce_requirement_hours, $2) FROM employees WHERE id = $1`,
		employeeID, s.requirementHours,
	).Scan(&requirement)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("employeeRequirement: %w", err)
	}
	return requirement, nil
}

// ─── Loaders ─────────────────────────────────────────────────────────────────

// loadCatalog fetches the one training the request references. ResolveTargets
// reports the unknown-training case itself when the map comes back empty.
func (s *Service) loadCatalog(ctx context.Context, trainingID string) (Catalog, error) {
	catalog := make(Catalog, 1)
	var t TrainingDefinition
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, ceu_hours, duration_minutes, target_roles, mandatory, status
		 FROM trainings WHERE id = $1`,
		trainingID,
	).Scan(&t.ID, &t.Title, &t.CEUHours, &t.DurationMinutes, &t.TargetRoles, &t.Mandatory, &t.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loadCatalog: %w", err)
	}
	catalog[t.ID] = t
	return catalog, nil
}

func (s *Service) loadActiveEmployees(ctx context.Context) ([]Employee, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role FROM employees WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loadActiveEmployees: %w", err)
	}
	defer rows.Close()

	employees := make([]Employee, 0)
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.Role); err != nil {
			return nil, fmt.Errorf("loadActiveEmployees scan: %w", err)
		}
		employees = append(employees, e)
	}
	return employees, nil
}

// loadProgressIndex reads every existing record for one training, the
// consistent read ResolveTargets dedupes against.
func (s *Service) loadProgressIndex(ctx context.Context, trainingID string) (ProgressIndex, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT employee_id, training_id, assignment_id, state, progress_percent, ceu_hours_earned
		 FROM progress_records WHERE training_id = $1`,
		trainingID,
	)
	if err != nil {
		return nil, fmt.Errorf("loadProgressIndex: %w", err)
	}
	defer rows.Close()

	index := make(ProgressIndex)
	for rows.Next() {
		var rec ProgressRecord
		if err := rows.Scan(&rec.EmployeeID, &rec.TrainingID, &rec.AssignmentID,
			&rec.State, &rec.ProgressPercent, &rec.CEUHoursEarned); err != nil {
			return nil, fmt.Errorf("loadProgressIndex scan: %w", err)
		}
		index[ProgressKey{EmployeeID: rec.EmployeeID, TrainingID: rec.TrainingID}] = rec
	}
	return index, nil
}

// ActiveEmployeeIDs lists employees the compliance sweep should visit.
func (s *Service) ActiveEmployeeIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM employees WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("activeEmployeeIDs: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("activeEmployeeIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PublishAlert pushes one employee's compliance alert for the notification
// forwarder (non-fatal at call sites).
func (s *Service) PublishAlert(ctx context.Context, snap *ComplianceSnapshot) error {
	event, _ := json.Marshal(map[string]any{
		"type":           "EVENT_COMPLIANCE_ALERT",
		"employeeId":     snap.EmployeeID,
		"classification": snap.Classification,
		"remainingHours": snap.RemainingHours,
		"deadlines":      snap.UpcomingDeadlines,
	})
	return s.rdb.Publish(ctx, "EVENT_COMPLIANCE_ALERT", event).Err()
}
