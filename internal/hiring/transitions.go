// Package hiring defines the application lifecycle state machine for
// candidate applications.
//
// Status graph (employer actions; applicant-side moves arrive from the
// portal and are accepted as input states):
//
//	pending(unaccepted) ──accept──► pending(accepted) ──► interview_scheduled ──► hired
//	        │                              │                      │
//	        └──reject──► rejected          └──send_offer──► offer_received ──► offer_accepted ──► hired
//
// rejected and hired are terminal states.
package hiring

import (
	"fmt"
	"time"
)

// Status values mirror the application_status enum in PostgreSQL.
type Status string

const (
	StatusPending            Status = "pending"
	StatusInterviewScheduled Status = "interview_scheduled"
	StatusOfferReceived      Status = "offer_received"
	StatusOfferAccepted      Status = "offer_accepted"
	StatusOfferDeclined      Status = "offer_declined"
	StatusRejected           Status = "rejected"
	StatusHired              Status = "hired"
)

// statusAliases maps legacy status strings still present in old rows to
// their canonical value. The old portal wrote "accepted" and "hired"
// interchangeably for a hired candidate.
var statusAliases = map[string]Status{
	"accepted": StatusHired,
}

// ParseStatus converts a raw string to a canonical Status, collapsing
// legacy aliases and returning an error for unknown values.
func ParseStatus(s string) (Status, error) {
	if canonical, ok := statusAliases[s]; ok {
		return canonical, nil
	}
	st := Status(s)
	switch st {
	case StatusPending, StatusInterviewScheduled, StatusOfferReceived,
		StatusOfferAccepted, StatusOfferDeclined, StatusRejected, StatusHired:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IsTerminal returns true when no further transition is defined for s.
func IsTerminal(s Status) bool {
	return s == StatusRejected || s == StatusHired
}

// Action is one of the employer-triggered moves on an application.
type Action string

const (
	ActionAccept              Action = "accept"
	ActionReject              Action = "reject"
	ActionScheduleInterview   Action = "schedule_interview"
	ActionSendOffer           Action = "send_offer"
	ActionHireNow             Action = "hire_now"
	ActionRejectPostInterview Action = "reject_post_interview"
	ActionMarkHired           Action = "mark_hired"
)

// allActions fixes the evaluation order so EvaluateActions is deterministic.
var allActions = []Action{
	ActionAccept,
	ActionReject,
	ActionScheduleInterview,
	ActionSendOffer,
	ActionHireNow,
	ActionRejectPostInterview,
	ActionMarkHired,
}

// ParseAction converts a raw string to an Action, returning an error for
// unknown values.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	for _, known := range allActions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown application action %q", s)
}

// InterviewStatus values mirror the interview_status enum in PostgreSQL.
type InterviewStatus string

const (
	InterviewScheduled InterviewStatus = "scheduled"
	InterviewCancelled InterviewStatus = "cancelled"
	InterviewCompleted InterviewStatus = "completed"
)

// Application is one candidate's pursuit of one job posting.
//
// Accepted is an employer-approval gate distinct from Status: it is set by
// the accept action while Status still reads pending, and it is what unlocks
// schedule_interview and send_offer.
type Application struct {
	ID           string    `json:"id"`
	ApplicantID  string    `json:"applicantId"`
	JobPostingID string    `json:"jobPostingId"`
	Status       Status    `json:"status"`
	Accepted     bool      `json:"accepted"`
	AppliedDate  time.Time `json:"appliedDate"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Interview is the zero-or-one active interview attached to an application.
type Interview struct {
	ID                string          `json:"id"`
	ApplicationID     string          `json:"applicationId"`
	InterviewDateTime time.Time       `json:"interviewDateTime"`
	InterviewStatus   InterviewStatus `json:"interviewStatus"`
}

// guardFn reports whether an action is legal for the given snapshot.
// iv may be nil when the application has no active interview.
type guardFn func(app *Application, iv *Interview, now time.Time) bool

// interviewHeld reports whether the active interview's scheduled time has
// passed. hire_now and reject_post_interview are the only time-gated actions.
func interviewHeld(iv *Interview, now time.Time) bool {
	if iv == nil || iv.InterviewStatus == InterviewCancelled {
		return false
	}
	return iv.InterviewDateTime.Before(now)
}

// guards is the single source of truth for action legality. Both
// EvaluateActions (what may the employer see) and Apply (perform the move)
// consult it, so the two can never drift apart. Terminal states are handled
// once, up front, rather than inside every predicate.
var guards = map[Action]guardFn{
	ActionAccept: func(app *Application, _ *Interview, _ time.Time) bool {
		return app.Status == StatusPending && !app.Accepted
	},
	// General rejection is only open before approval; once accepted, the
	// only rejection path is reject_post_interview.
	ActionReject: func(app *Application, _ *Interview, _ time.Time) bool {
		return !app.Accepted
	},
	ActionScheduleInterview: func(app *Application, _ *Interview, _ time.Time) bool {
		if app.Status == StatusPending && !app.Accepted {
			return false
		}
		switch app.Status {
		case StatusInterviewScheduled, StatusOfferReceived, StatusOfferAccepted:
			return false
		}
		return true
	},
	// An offer may go out while an interview is still pending.
	ActionSendOffer: func(app *Application, _ *Interview, _ time.Time) bool {
		if app.Status == StatusPending && !app.Accepted {
			return false
		}
		switch app.Status {
		case StatusOfferReceived, StatusOfferAccepted, StatusOfferDeclined:
			return false
		}
		return true
	},
	ActionHireNow: func(app *Application, iv *Interview, now time.Time) bool {
		return app.Status == StatusInterviewScheduled && interviewHeld(iv, now)
	},
	ActionRejectPostInterview: func(app *Application, iv *Interview, now time.Time) bool {
		return app.Status == StatusInterviewScheduled && interviewHeld(iv, now)
	},
	ActionMarkHired: func(app *Application, _ *Interview, _ time.Time) bool {
		return app.Status == StatusOfferAccepted
	},
}

// effects maps each action to the status it produces. accept is absent: it
// flips the Accepted flag and leaves the status untouched.
var effects = map[Action]Status{
	ActionReject:              StatusRejected,
	ActionScheduleInterview:   StatusInterviewScheduled,
	ActionSendOffer:           StatusOfferReceived,
	ActionHireNow:             StatusHired,
	ActionRejectPostInterview: StatusRejected,
	ActionMarkHired:           StatusHired,
}

// IsActionAllowed returns true when action is legal for the given snapshot.
func IsActionAllowed(app *Application, iv *Interview, action Action, now time.Time) bool {
	if IsTerminal(app.Status) {
		return false // terminal state — no outgoing transitions
	}
	guard, ok := guards[action]
	if !ok {
		return false
	}
	return guard(app, iv, now)
}

// EvaluateActions returns every action currently legal for the snapshot,
// in a stable order. For terminal statuses the result is empty.
func EvaluateActions(app *Application, iv *Interview, now time.Time) []Action {
	legal := make([]Action, 0, len(allActions))
	for _, a := range allActions {
		if IsActionAllowed(app, iv, a, now) {
			legal = append(legal, a)
		}
	}
	return legal
}

// Apply computes the application state after action. The guard is
// re-checked here — not only at EvaluateActions time — so a stale caller
// racing another employer gets a TransitionError instead of a bad write.
// The input snapshot is never mutated.
func Apply(app *Application, iv *Interview, action Action, now time.Time) (*Application, error) {
	if !IsActionAllowed(app, iv, action, now) {
		return nil, &TransitionError{From: app.Status, Accepted: app.Accepted, Action: action}
	}

	next := *app
	next.UpdatedAt = now
	if action == ActionAccept {
		next.Accepted = true
		return &next, nil
	}
	next.Status = effects[action]
	return &next, nil
}
