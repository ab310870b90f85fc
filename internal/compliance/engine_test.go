package compliance_test

import (
	"errors"
	"testing"
	"time"

	"medstaff/workforce-service/internal/compliance"
)

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

var testEmployees = []compliance.Employee{
	{ID: "emp-a", Role: "RN"},
	{ID: "emp-b", Role: "RN"},
	{ID: "emp-c", Role: "RN"},
	{ID: "emp-d", Role: "LPN"},
}

func testCatalog() compliance.Catalog {
	return compliance.Catalog{
		"tr-bbp": {
			ID: "tr-bbp", Title: "Bloodborne Pathogens", CEUHours: 2,
			DurationMinutes: 90, TargetRoles: []string{"all"}, Mandatory: true,
			Status: compliance.TrainingActive,
		},
		"tr-acls": {
			ID: "tr-acls", Title: "ACLS Recertification", CEUHours: 8,
			DurationMinutes: 480, TargetRoles: []string{"RN"}, Mandatory: false,
			Status: compliance.TrainingActive,
		},
		"tr-old": {
			ID: "tr-old", Title: "Retired HIPAA Module", CEUHours: 1,
			DurationMinutes: 45, TargetRoles: []string{"all"}, Mandatory: false,
			Status: compliance.TrainingArchived,
		},
	}
}

func roleRequest(trainingID, role string) compliance.AssignmentRequest {
	return compliance.AssignmentRequest{
		TrainingID: trainingID,
		TargetType: compliance.TargetRole,
		TargetRole: role,
		DueDate:    testNow.AddDate(0, 0, 30),
		Priority:   compliance.PriorityHigh,
	}
}

func record(employeeID, trainingID string, state compliance.ProgressState) compliance.ProgressRecord {
	return compliance.ProgressRecord{
		EmployeeID:   employeeID,
		TrainingID:   trainingID,
		AssignmentID: "as-" + trainingID + "-" + employeeID,
		State:        state,
	}
}

func index(records ...compliance.ProgressRecord) compliance.ProgressIndex {
	idx := make(compliance.ProgressIndex, len(records))
	for _, rec := range records {
		idx[compliance.ProgressKey{EmployeeID: rec.EmployeeID, TrainingID: rec.TrainingID}] = rec
	}
	return idx
}

// ── ResolveTargets ─────────────────────────────────────────────────────────

// Assigning to role=RN where one nurse already completed the training:
// the completed nurse is blocked with reason "completed", the rest assignable.
func TestResolveTargets_RoleCohortWithCompletedRecord(t *testing.T) {
	rec := record("emp-a", "tr-acls", compliance.ProgressCompleted)
	res, err := compliance.ResolveTargets(roleRequest("tr-acls", "RN"), testEmployees, index(rec), testCatalog())
	if err != nil {
		t.Fatalf("ResolveTargets unexpected error: %v", err)
	}

	if len(res.Assignable) != 2 || res.Assignable[0] != "emp-b" || res.Assignable[1] != "emp-c" {
		t.Errorf("assignable = %v, want [emp-b emp-c]", res.Assignable)
	}
	if len(res.Blocked) != 1 || res.Blocked[0].EmployeeID != "emp-a" || res.Blocked[0].Reason != compliance.ProgressCompleted {
		t.Errorf("blocked = %v, want emp-a blocked as completed", res.Blocked)
	}
}

// Any non-terminal-negative state blocks re-assignment, and the record's
// state is reported as the reason.
func TestResolveTargets_DedupInvariantAllStates(t *testing.T) {
	for _, state := range []compliance.ProgressState{
		compliance.ProgressAssigned,
		compliance.ProgressInProgress,
		compliance.ProgressCompleted,
	} {
		rec := record("emp-b", "tr-acls", state)
		res, err := compliance.ResolveTargets(roleRequest("tr-acls", "RN"), testEmployees, index(rec), testCatalog())
		if err != nil {
			t.Fatalf("state %s: unexpected error: %v", state, err)
		}
		for _, id := range res.Assignable {
			if id == "emp-b" {
				t.Errorf("state %s: emp-b must never be assignable", state)
			}
		}
		if len(res.Blocked) != 1 || res.Blocked[0].Reason != state {
			t.Errorf("state %s: blocked = %v, want emp-b with reason %s", state, res.Blocked, state)
		}
	}
}

func TestResolveTargets_AllCohort(t *testing.T) {
	req := roleRequest("tr-bbp", "")
	req.TargetType = compliance.TargetAll

	res, err := compliance.ResolveTargets(req, testEmployees, compliance.ProgressIndex{}, testCatalog())
	if err != nil {
		t.Fatalf("ResolveTargets unexpected error: %v", err)
	}
	if len(res.Assignable) != len(testEmployees) {
		t.Errorf("assignable = %v, want all %d employees", res.Assignable, len(testEmployees))
	}
	if len(res.Blocked) != 0 {
		t.Errorf("blocked = %v, want empty", res.Blocked)
	}
}

// A duplicated id in an individual list must appear exactly once in the
// partition.
func TestResolveTargets_IndividualListDeduped(t *testing.T) {
	req := compliance.AssignmentRequest{
		TrainingID:  "tr-bbp",
		TargetType:  compliance.TargetIndividual,
		EmployeeIDs: []string{"emp-a", "emp-d", "emp-a"},
		DueDate:     testNow.AddDate(0, 0, 14),
		Priority:    compliance.PriorityUrgent,
	}
	res, err := compliance.ResolveTargets(req, testEmployees, compliance.ProgressIndex{}, testCatalog())
	if err != nil {
		t.Fatalf("ResolveTargets unexpected error: %v", err)
	}
	if len(res.Assignable) != 2 || res.Assignable[0] != "emp-a" || res.Assignable[1] != "emp-d" {
		t.Errorf("assignable = %v, want [emp-a emp-d]", res.Assignable)
	}
}

// The partition must cover the cohort exactly once: assignable + blocked is
// a disjoint union of the expanded cohort.
func TestResolveTargets_ExactPartition(t *testing.T) {
	recs := index(
		record("emp-a", "tr-bbp", compliance.ProgressAssigned),
		record("emp-c", "tr-bbp", compliance.ProgressInProgress),
	)
	req := roleRequest("tr-bbp", "RN")
	res, err := compliance.ResolveTargets(req, testEmployees, recs, testCatalog())
	if err != nil {
		t.Fatalf("ResolveTargets unexpected error: %v", err)
	}

	seen := make(map[string]int)
	for _, id := range res.Assignable {
		seen[id]++
	}
	for _, b := range res.Blocked {
		seen[b.EmployeeID]++
	}
	if len(seen) != 3 {
		t.Fatalf("partition covers %d employees, want 3 (RN cohort)", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("employee %s appears %d times in the partition, want exactly once", id, n)
		}
	}
}

func TestResolveTargets_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		req  compliance.AssignmentRequest
	}{
		{"unknown training", roleRequest("tr-missing", "RN")},
		{"archived training", roleRequest("tr-old", "RN")},
		{"role without value", compliance.AssignmentRequest{TrainingID: "tr-bbp", TargetType: compliance.TargetRole}},
		{"individual without ids", compliance.AssignmentRequest{TrainingID: "tr-bbp", TargetType: compliance.TargetIndividual}},
		{"unknown employee id", compliance.AssignmentRequest{TrainingID: "tr-bbp", TargetType: compliance.TargetIndividual, EmployeeIDs: []string{"emp-zz"}}},
		{"unknown target type", compliance.AssignmentRequest{TrainingID: "tr-bbp", TargetType: "team"}},
	}
	for _, c := range cases {
		_, err := compliance.ResolveTargets(c.req, testEmployees, compliance.ProgressIndex{}, testCatalog())
		var verr *compliance.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected *ValidationError, got %v", c.name, err)
		}
	}
}

// ── RecomputeProgress ──────────────────────────────────────────────────────

func completedRecord(trainingID string, earned float64) compliance.ProgressRecord {
	done := testNow.AddDate(0, 0, -10)
	rec := record("emp-a", trainingID, compliance.ProgressCompleted)
	rec.ProgressPercent = 100
	rec.CompletionDate = &done
	rec.CEUHoursEarned = earned
	return rec
}

func inProgressRecord(trainingID string, percent float64) compliance.ProgressRecord {
	started := testNow.AddDate(0, 0, -5)
	rec := record("emp-a", trainingID, compliance.ProgressInProgress)
	rec.ProgressPercent = percent
	rec.StartDate = &started
	return rec
}

func activeAssignment(trainingID string, due time.Time) compliance.Assignment {
	return compliance.Assignment{
		ID:           "as-" + trainingID + "-emp-a",
		TrainingID:   trainingID,
		TargetType:   compliance.TargetIndividual,
		DueDate:      due,
		Priority:     compliance.PriorityMedium,
		AssignedDate: testNow.AddDate(0, 0, -20),
		Status:       compliance.AssignmentActive,
	}
}

func TestRecomputeProgress_HourAggregation(t *testing.T) {
	records := []compliance.ProgressRecord{
		completedRecord("tr-acls", 8),
		inProgressRecord("tr-bbp", 50), // 2 CEU × 50% = 1 hour partial credit
	}
	snap, err := compliance.RecomputeProgress("emp-a", records, nil, testCatalog(), 20, testNow)
	if err != nil {
		t.Fatalf("RecomputeProgress unexpected error: %v", err)
	}

	if snap.CompletedHours != 8 {
		t.Errorf("CompletedHours = %v, want 8", snap.CompletedHours)
	}
	if snap.InProgressHours != 1 {
		t.Errorf("InProgressHours = %v, want 1", snap.InProgressHours)
	}
	if snap.RemainingHours != 12 {
		t.Errorf("RemainingHours = %v, want 12", snap.RemainingHours)
	}
}

func TestRecomputeProgress_RemainingNeverNegative(t *testing.T) {
	records := []compliance.ProgressRecord{completedRecord("tr-acls", 8)}
	snap, err := compliance.RecomputeProgress("emp-a", records, nil, testCatalog(), 5, testNow)
	if err != nil {
		t.Fatalf("RecomputeProgress unexpected error: %v", err)
	}
	if snap.RemainingHours != 0 {
		t.Errorf("over-completion: RemainingHours = %v, want 0", snap.RemainingHours)
	}
}

func TestRecomputeProgress_ClassificationBuckets(t *testing.T) {
	cases := []struct {
		completed float64
		want      compliance.Classification
	}{
		{20, compliance.OnTrack},   // ratio 1.0
		{16, compliance.OnTrack},   // 0.8
		{15, compliance.OnTrack},   // 0.75 boundary
		{14, compliance.Behind},    // 0.7
		{10, compliance.Behind},    // 0.5 boundary
		{9, compliance.AtRisk},     // 0.45
		{5, compliance.AtRisk},     // 0.25 boundary
		{4, compliance.NonCompliant},
		{0, compliance.NonCompliant},
	}
	for _, c := range cases {
		records := []compliance.ProgressRecord{completedRecord("tr-acls", c.completed)}
		snap, err := compliance.RecomputeProgress("emp-a", records, nil, testCatalog(), 20, testNow)
		if err != nil {
			t.Fatalf("completed=%v: unexpected error: %v", c.completed, err)
		}
		if snap.Classification != c.want {
			t.Errorf("completed=%v/20: classification = %s, want %s", c.completed, snap.Classification, c.want)
		}
	}
}

// A zero requirement is vacuously on track, not a division by zero.
func TestRecomputeProgress_ZeroRequirement(t *testing.T) {
	snap, err := compliance.RecomputeProgress("emp-a", nil, nil, testCatalog(), 0, testNow)
	if err != nil {
		t.Fatalf("RecomputeProgress unexpected error: %v", err)
	}
	if snap.Classification != compliance.OnTrack {
		t.Errorf("classification = %s, want on_track", snap.Classification)
	}
	if snap.RemainingHours != 0 {
		t.Errorf("RemainingHours = %v, want 0", snap.RemainingHours)
	}
}

// Adding completed hours can never move the classification to a worse bucket.
func TestRecomputeProgress_ClassificationMonotonic(t *testing.T) {
	rank := map[compliance.Classification]int{
		compliance.NonCompliant: 0,
		compliance.AtRisk:       1,
		compliance.Behind:       2,
		compliance.OnTrack:      3,
	}
	prev := -1
	for completed := 0.0; completed <= 25; completed += 0.5 {
		records := []compliance.ProgressRecord{completedRecord("tr-acls", completed)}
		snap, err := compliance.RecomputeProgress("emp-a", records, nil, testCatalog(), 20, testNow)
		if err != nil {
			t.Fatalf("completed=%v: unexpected error: %v", completed, err)
		}
		if rank[snap.Classification] < prev {
			t.Fatalf("completed=%v: classification worsened to %s", completed, snap.Classification)
		}
		prev = rank[snap.Classification]
	}
}

// An overdue mandatory assignment forces non_compliant even at a healthy
// hour ratio.
func TestRecomputeProgress_MandatoryOverdueOverride(t *testing.T) {
	records := []compliance.ProgressRecord{
		completedRecord("tr-acls", 16), // ratio 0.8 → on_track
		inProgressRecord("tr-bbp", 40),
	}
	overdue := activeAssignment("tr-bbp", testNow.AddDate(0, 0, -3)) // mandatory

	snap, err := compliance.RecomputeProgress("emp-a", records, []compliance.Assignment{overdue}, testCatalog(), 20, testNow)
	if err != nil {
		t.Fatalf("RecomputeProgress unexpected error: %v", err)
	}
	if snap.Classification != compliance.NonCompliant {
		t.Errorf("classification = %s, want non_compliant (mandatory overdue)", snap.Classification)
	}
}

// Completing the mandatory training lifts the override; a cancelled or
// non-mandatory overdue assignment never triggers it.
func TestRecomputeProgress_OverrideBoundaries(t *testing.T) {
	catalog := testCatalog()
	base := []compliance.ProgressRecord{completedRecord("tr-acls", 16)}

	// Completed mandatory training, even past due: no override.
	records := append(base, completedRecord("tr-bbp", 2))
	records[1].EmployeeID = "emp-a"
	overdue := activeAssignment("tr-bbp", testNow.AddDate(0, 0, -3))
	snap, err := compliance.RecomputeProgress("emp-a", records, []compliance.Assignment{overdue}, catalog, 20, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Classification != compliance.OnTrack {
		t.Errorf("completed mandatory: classification = %s, want on_track", snap.Classification)
	}

	// Cancelled assignment: no override.
	cancelled := overdue
	cancelled.Status = compliance.AssignmentCancelled
	snap, err = compliance.RecomputeProgress("emp-a",
		append(base, inProgressRecord("tr-bbp", 10)),
		[]compliance.Assignment{cancelled}, catalog, 20, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Classification != compliance.OnTrack {
		t.Errorf("cancelled assignment: classification = %s, want on_track", snap.Classification)
	}

	// Overdue but non-mandatory: no override.
	nonMandatory := activeAssignment("tr-acls", testNow.AddDate(0, 0, -3))
	snap, err = compliance.RecomputeProgress("emp-a",
		[]compliance.ProgressRecord{inProgressRecord("tr-acls", 10), completedRecord("tr-bbp", 16)},
		[]compliance.Assignment{nonMandatory}, catalog, 20, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Classification == compliance.NonCompliant {
		t.Error("non-mandatory overdue must not force non_compliant")
	}
}

func TestRecomputeProgress_DeadlineWindow(t *testing.T) {
	records := []compliance.ProgressRecord{
		inProgressRecord("tr-bbp", 25),
		record("emp-a", "tr-acls", compliance.ProgressAssigned),
	}
	assignments := []compliance.Assignment{
		activeAssignment("tr-bbp", testNow.Add(3*24*time.Hour)),  // inside window
		activeAssignment("tr-acls", testNow.Add(9*24*time.Hour)), // outside window
	}
	snap, err := compliance.RecomputeProgress("emp-a", records, assignments, testCatalog(), 20, testNow)
	if err != nil {
		t.Fatalf("RecomputeProgress unexpected error: %v", err)
	}

	if len(snap.UpcomingDeadlines) != 1 {
		t.Fatalf("UpcomingDeadlines = %v, want exactly the 3-day deadline", snap.UpcomingDeadlines)
	}
	d := snap.UpcomingDeadlines[0]
	if d.TrainingID != "tr-bbp" || d.DaysUntilDue != 3 {
		t.Errorf("deadline = %+v, want tr-bbp in 3 days", d)
	}
	if d.Title != "Bloodborne Pathogens" {
		t.Errorf("deadline title = %q, want catalog title", d.Title)
	}
}

func TestRecomputeProgress_DeadlineWindowEdges(t *testing.T) {
	cases := []struct {
		name   string
		due    time.Time
		inside bool
		days   int
	}{
		{"due this instant", testNow, true, 0},
		{"due in six hours", testNow.Add(6 * time.Hour), true, 1},
		{"due in exactly seven days", testNow.Add(7 * 24 * time.Hour), true, 7},
		{"due just past seven days", testNow.Add(7*24*time.Hour + time.Minute), false, 0},
		{"already overdue", testNow.Add(-time.Hour), false, 0},
	}
	for _, c := range cases {
		records := []compliance.ProgressRecord{record("emp-a", "tr-acls", compliance.ProgressAssigned)}
		assignments := []compliance.Assignment{activeAssignment("tr-acls", c.due)}
		snap, err := compliance.RecomputeProgress("emp-a", records, assignments, testCatalog(), 20, testNow)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.name, err)
		}
		if c.inside {
			if len(snap.UpcomingDeadlines) != 1 {
				t.Errorf("%s: expected one deadline, got %v", c.name, snap.UpcomingDeadlines)
				continue
			}
			if snap.UpcomingDeadlines[0].DaysUntilDue != c.days {
				t.Errorf("%s: DaysUntilDue = %d, want %d", c.name, snap.UpcomingDeadlines[0].DaysUntilDue, c.days)
			}
		} else if len(snap.UpcomingDeadlines) != 0 {
			t.Errorf("%s: expected no deadlines, got %v", c.name, snap.UpcomingDeadlines)
		}
	}
}

func TestRecomputeProgress_ValidationErrors(t *testing.T) {
	if _, err := compliance.RecomputeProgress("emp-a", nil, nil, testCatalog(), -1, testNow); err == nil {
		t.Error("negative requirement should fail")
	}

	records := []compliance.ProgressRecord{record("emp-a", "tr-missing", compliance.ProgressAssigned)}
	_, err := compliance.RecomputeProgress("emp-a", records, nil, testCatalog(), 20, testNow)
	var verr *compliance.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("unknown training in records: expected *ValidationError, got %v", err)
	}

	assignments := []compliance.Assignment{activeAssignment("tr-missing", testNow.AddDate(0, 0, 3))}
	_, err = compliance.RecomputeProgress("emp-a", nil, assignments, testCatalog(), 20, testNow)
	if !errors.As(err, &verr) {
		t.Errorf("unknown training in assignments: expected *ValidationError, got %v", err)
	}
}

// ── ParseProgressState ─────────────────────────────────────────────────────

func TestParseProgressState(t *testing.T) {
	for _, s := range []string{"assigned", "in_progress", "completed"} {
		got, err := compliance.ParseProgressState(s)
		if err != nil {
			t.Errorf("ParseProgressState(%q) unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseProgressState(%q) = %q, want %q", s, got, s)
		}
	}
	for _, s := range []string{"", "done", "ASSIGNED"} {
		if _, err := compliance.ParseProgressState(s); err == nil {
			t.Errorf("ParseProgressState(%q) expected error, got nil", s)
		}
	}
}
