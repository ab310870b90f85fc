// Package compliance implements the continuing-education compliance engine:
// cohort resolution with duplicate-assignment protection, CEU hour
// aggregation, risk classification and deadline windowing.
//
// All functions in this file are pure: they read only their arguments, never
// the wall clock or the database, so every decision is deterministic and
// replayable from a snapshot.
package compliance

import (
	"fmt"
	"math"
	"time"
)

// ─── Enums ───────────────────────────────────────────────────────────────────

// TrainingStatus values mirror the training_status enum in PostgreSQL.
type TrainingStatus string

const (
	TrainingActive   TrainingStatus = "active"
	TrainingArchived TrainingStatus = "archived"
)

// TargetType says how an assignment picks its cohort.
type TargetType string

const (
	TargetAll        TargetType = "all"
	TargetRole       TargetType = "role"
	TargetIndividual TargetType = "individual"
)

// Priority of an assignment.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// AssignmentStatus — assignments are cancelled, never deleted.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCancelled AssignmentStatus = "cancelled"
)

// ProgressState is the state of one (employee, training) pair.
type ProgressState string

const (
	ProgressAssigned   ProgressState = "assigned"
	ProgressInProgress ProgressState = "in_progress"
	ProgressCompleted  ProgressState = "completed"
)

// ParseProgressState converts a raw string to a ProgressState, returning an
// error for unknown values.
func ParseProgressState(s string) (ProgressState, error) {
	st := ProgressState(s)
	switch st {
	case ProgressAssigned, ProgressInProgress, ProgressCompleted:
		return st, nil
	}
	return "", fmt.Errorf("unknown progress state %q", s)
}

// Classification is the derived compliance risk bucket.
type Classification string

const (
	OnTrack      Classification = "on_track"
	Behind       Classification = "behind"
	AtRisk       Classification = "at_risk"
	NonCompliant Classification = "non_compliant"
)

// ─── Records ─────────────────────────────────────────────────────────────────

// Employee carries the fields cohort expansion needs.
type Employee struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// TrainingDefinition is a catalog entry.
type TrainingDefinition struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	CEUHours        float64        `json:"ceuHours"`
	DurationMinutes int            `json:"durationMinutes"`
	TargetRoles     []string       `json:"targetRoles"`
	Mandatory       bool           `json:"mandatory"`
	Status          TrainingStatus `json:"status"`
}

// Assignment is one distribution event of a training to a cohort.
type Assignment struct {
	ID           string           `json:"id"`
	TrainingID   string           `json:"trainingId"`
	TargetType   TargetType       `json:"targetType"`
	TargetRole   string           `json:"targetRole,omitempty"`
	DueDate      time.Time        `json:"dueDate"`
	Priority     Priority         `json:"priority"`
	AssignedDate time.Time        `json:"assignedDate"`
	Status       AssignmentStatus `json:"status"`
}

// ProgressRecord is the state of one (employee, training) pair. At most one
// record exists per pair; the database enforces this with a unique index.
type ProgressRecord struct {
	EmployeeID      string        `json:"employeeId"`
	TrainingID      string        `json:"trainingId"`
	AssignmentID    string        `json:"assignmentId"`
	State           ProgressState `json:"state"`
	ProgressPercent float64       `json:"progressPercent"`
	StartDate       *time.Time    `json:"startDate"`
	CompletionDate  *time.Time    `json:"completionDate"`
	Score           *float64      `json:"score"`
	CEUHoursEarned  float64       `json:"ceuHoursEarned"`
}

// ProgressKey indexes progress records by their natural key.
type ProgressKey struct {
	EmployeeID string
	TrainingID string
}

// ProgressIndex is a consistent read of existing records, keyed by pair.
type ProgressIndex map[ProgressKey]ProgressRecord

// Catalog maps training id to its definition.
type Catalog map[string]TrainingDefinition

// AssignmentRequest asks to distribute one training to a cohort.
type AssignmentRequest struct {
	TrainingID  string     `json:"trainingId"`
	TargetType  TargetType `json:"targetType"`
	TargetRole  string     `json:"targetRole,omitempty"`
	EmployeeIDs []string   `json:"employeeIds,omitempty"`
	DueDate     time.Time  `json:"dueDate"`
	Priority    Priority   `json:"priority"`
}

// BlockedTarget reports an employee excluded from an assignment because a
// progress record already exists. It is an expected outcome, not an error.
type BlockedTarget struct {
	EmployeeID string        `json:"employeeId"`
	Reason     ProgressState `json:"reason"`
}

// TargetResolution partitions the expanded cohort: every employee appears in
// exactly one of the two lists.
type TargetResolution struct {
	Assignable []string        `json:"assignable"`
	Blocked    []BlockedTarget `json:"blocked"`
}

// Deadline is one upcoming due date in a ComplianceSnapshot.
type Deadline struct {
	AssignmentID string    `json:"assignmentId"`
	TrainingID   string    `json:"trainingId"`
	Title        string    `json:"title"`
	DueDate      time.Time `json:"dueDate"`
	Priority     Priority  `json:"priority"`
	DaysUntilDue int       `json:"daysUntilDue"`
}

// ComplianceSnapshot is the derived compliance picture for one employee.
// It is computed on demand and never stored.
type ComplianceSnapshot struct {
	EmployeeID             string         `json:"employeeId"`
	AnnualRequirementHours float64        `json:"annualRequirementHours"`
	CompletedHours         float64        `json:"completedHours"`
	InProgressHours        float64        `json:"inProgressHours"`
	RemainingHours         float64        `json:"remainingHours"`
	Classification         Classification `json:"classification"`
	UpcomingDeadlines      []Deadline     `json:"upcomingDeadlines"`
}

// ─── Errors ──────────────────────────────────────────────────────────────────

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// ─── Cohort resolution ───────────────────────────────────────────────────────

// ResolveTargets expands the request's cohort, removes employees who already
// hold the training in any state (the duplicate-assignment invariant) and
// returns the assignable/blocked partition.
//
// The engine's check is a consistent-read guard; the unique index on
// (employee_id, training_id) remains the final enforcement point when two
// distributions race.
func ResolveTargets(req AssignmentRequest, employees []Employee, index ProgressIndex, catalog Catalog) (*TargetResolution, error) {
	training, ok := catalog[req.TrainingID]
	if !ok {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown training %q", req.TrainingID)}
	}
	if training.Status == TrainingArchived {
		return nil, &ValidationError{Msg: fmt.Sprintf("training %q is archived", req.TrainingID)}
	}

	cohort, err := expandCohort(req, employees)
	if err != nil {
		return nil, err
	}

	res := &TargetResolution{
		Assignable: make([]string, 0, len(cohort)),
		Blocked:    make([]BlockedTarget, 0),
	}
	for _, id := range cohort {
		if rec, exists := index[ProgressKey{EmployeeID: id, TrainingID: req.TrainingID}]; exists {
			res.Blocked = append(res.Blocked, BlockedTarget{EmployeeID: id, Reason: rec.State})
			continue
		}
		res.Assignable = append(res.Assignable, id)
	}
	return res, nil
}

// expandCohort turns the request's targeting into a deduplicated employee id
// list, preserving first-seen order.
func expandCohort(req AssignmentRequest, employees []Employee) ([]string, error) {
	byID := make(map[string]Employee, len(employees))
	for _, e := range employees {
		byID[e.ID] = e
	}

	var raw []string
	switch req.TargetType {
	case TargetAll:
		for _, e := range employees {
			raw = append(raw, e.ID)
		}
	case TargetRole:
		if req.TargetRole == "" {
			return nil, &ValidationError{Msg: "role target requires targetRole"}
		}
		for _, e := range employees {
			if e.Role == req.TargetRole {
				raw = append(raw, e.ID)
			}
		}
	case TargetIndividual:
		if len(req.EmployeeIDs) == 0 {
			return nil, &ValidationError{Msg: "individual target requires employeeIds"}
		}
		for _, id := range req.EmployeeIDs {
			if _, ok := byID[id]; !ok {
				return nil, &ValidationError{Msg: fmt.Sprintf("unknown employee %q", id)}
			}
			raw = append(raw, id)
		}
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown target type %q", req.TargetType)}
	}

	seen := make(map[string]bool, len(raw))
	cohort := make([]string, 0, len(raw))
	for _, id := range raw {
		if seen[id] {
			continue
		}
		seen[id] = true
		cohort = append(cohort, id)
	}
	return cohort, nil
}

// ─── Aggregation and classification ──────────────────────────────────────────

// deadlineWindow is how far ahead upcoming deadlines are reported.
const deadlineWindow = 7 * 24 * time.Hour

// RecomputeProgress aggregates one employee's records into a
// ComplianceSnapshot.
//
// assignments must be the assignments targeting this employee (each record's
// originating assignment); a training counts as satisfied for the overdue
// override and the deadline window once a completed record exists for it.
func RecomputeProgress(employeeID string, records []ProgressRecord, assignments []Assignment, catalog Catalog, requirementHours float64, now time.Time) (*ComplianceSnapshot, error) {
	if requirementHours < 0 {
		return nil, &ValidationError{Msg: fmt.Sprintf("requirement hours must be non-negative, got %v", requirementHours)}
	}

	var completed, inProgress float64
	completedByTraining := make(map[string]bool, len(records))
	for _, rec := range records {
		training, ok := catalog[rec.TrainingID]
		if !ok {
			return nil, &ValidationError{Msg: fmt.Sprintf("unknown training %q", rec.TrainingID)}
		}
		switch rec.State {
		case ProgressCompleted:
			completed += rec.CEUHoursEarned
			completedByTraining[rec.TrainingID] = true
		case ProgressInProgress:
			// Partial credit, proportional to reported progress.
			inProgress += training.CEUHours * rec.ProgressPercent / 100
		}
	}

	snap := &ComplianceSnapshot{
		EmployeeID:             employeeID,
		AnnualRequirementHours: requirementHours,
		CompletedHours:         completed,
		InProgressHours:        inProgress,
		RemainingHours:         math.Max(0, requirementHours-completed),
		Classification:         classify(completed, requirementHours),
		UpcomingDeadlines:      make([]Deadline, 0),
	}

	for _, a := range assignments {
		if a.Status != AssignmentActive {
			continue
		}
		training, ok := catalog[a.TrainingID]
		if !ok {
			return nil, &ValidationError{Msg: fmt.Sprintf("unknown training %q", a.TrainingID)}
		}
		if completedByTraining[a.TrainingID] {
			continue
		}

		// A mandatory training past its due date without completion forces
		// the worst bucket regardless of the hour ratio.
		if training.Mandatory && a.DueDate.Before(now) {
			snap.Classification = NonCompliant
		}

		if due := a.DueDate.Sub(now); due >= 0 && due <= deadlineWindow {
			snap.UpcomingDeadlines = append(snap.UpcomingDeadlines, Deadline{
				AssignmentID: a.ID,
				TrainingID:   a.TrainingID,
				Title:        training.Title,
				DueDate:      a.DueDate,
				Priority:     a.Priority,
				DaysUntilDue: int(math.Ceil(due.Hours() / 24)),
			})
		}
	}

	return snap, nil
}

// classify buckets the completed-to-required ratio. A zero requirement is
// vacuously on track.
func classify(completedHours, requirementHours float64) Classification {
	ratio := 1.0
	if requirementHours > 0 {
		ratio = completedHours / requirementHours
	}
	switch {
	case ratio >= 0.75:
		return OnTrack
	case ratio >= 0.50:
		return Behind
	case ratio >= 0.25:
		return AtRisk
	default:
		return NonCompliant
	}
}
