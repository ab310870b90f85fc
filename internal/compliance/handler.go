// HTTP handlers for the compliance engine.
//
// Routes:
//
//	POST /assignments                      → distribute a training to a cohort
//	POST /assignments/{id}/cancel          → cancel an assignment
//	GET  /employees/{id}/compliance        → derived compliance snapshot
//	POST /employees/{id}/progress          → record training progress
package compliance

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"
)

// Handler holds shared dependencies.
type Handler struct {
	svc *Service
}

// NewHandler returns a configured Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts all compliance routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/assignments", h.handleAssignments)
	mux.HandleFunc("/assignments/", h.handleAssignmentAction)
	mux.HandleFunc("/employees/", h.handleEmployeeAction)
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

// handleAssignments handles POST /assignments
func (h *Handler) handleAssignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.distribute(w, r)
}

// handleAssignmentAction handles POST /assignments/{id}/cancel
func (h *Handler) handleAssignmentAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[2] != "cancel" {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	h.cancelAssignment(w, r, parts[1])
}

// handleEmployeeAction handles GET /employees/{id}/compliance and
// POST /employees/{id}/progress
func (h *Handler) handleEmployeeAction(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	employeeID := parts[1]

	switch {
	case parts[2] == "compliance" && r.Method == http.MethodGet:
		h.employeeCompliance(w, r, employeeID)
	case parts[2] == "progress" && r.Method == http.MethodPost:
		h.recordProgress(w, r, employeeID)
	default:
		jsonError(w, "invalid path", http.StatusNotFound)
	}
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) distribute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TrainingID  string   `json:"trainingId"`
		TargetType  string   `json:"targetType"`
		TargetRole  string   `json:"targetRole"`
		EmployeeIDs []string `json:"employeeIds"`
		DueDate     string   `json:"dueDate"`
		Priority    string   `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TrainingID == "" {
		jsonError(w, "body must contain trainingId", http.StatusBadRequest)
		return
	}

	dueDate, err := time.Parse(time.RFC3339, body.DueDate)
	if err != nil {
		jsonError(w, "dueDate must be RFC 3339", http.StatusBadRequest)
		return
	}
	priority := Priority(body.Priority)
	if priority == "" {
		priority = PriorityMedium
	}

	result, err := h.svc.DistributeAssignment(r.Context(), AssignmentRequest{
		TrainingID:  body.TrainingID,
		TargetType:  TargetType(body.TargetType),
		TargetRole:  body.TargetRole,
		EmployeeIDs: body.EmployeeIDs,
		DueDate:     dueDate,
		Priority:    priority,
	})
	if err != nil {
		writeServiceError(w, "distribute", err)
		return
	}
	jsonOK(w, result)
}

func (h *Handler) cancelAssignment(w http.ResponseWriter, r *http.Request, assignmentID string) {
	if err := h.svc.CancelAssignment(r.Context(), assignmentID); err != nil {
		writeServiceError(w, "cancelAssignment", err)
		return
	}
	jsonOK(w, map[string]string{"assignmentId": assignmentID, "status": string(AssignmentCancelled)})
}

func (h *Handler) employeeCompliance(w http.ResponseWriter, r *http.Request, employeeID string) {
	snap, err := h.svc.EmployeeSnapshot(r.Context(), employeeID)
	if err != nil {
		writeServiceError(w, "employeeCompliance", err)
		return
	}
	jsonOK(w, snap)
}

func (h *Handler) recordProgress(w http.ResponseWriter, r *http.Request, employeeID string) {
	var body struct {
		TrainingID      string   `json:"trainingId"`
		State           string   `json:"state"`
		ProgressPercent float64  `json:"progressPercent"`
		Score           *float64 `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TrainingID == "" || body.State == "" {
		jsonError(w, "body must contain trainingId and state", http.StatusBadRequest)
		return
	}

	rec, err := h.svc.RecordProgress(r.Context(), employeeID, body.TrainingID, body.State, body.ProgressPercent, body.Score)
	if err != nil {
		writeServiceError(w, "recordProgress", err)
		return
	}
	jsonOK(w, rec)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeServiceError(w http.ResponseWriter, op string, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		jsonError(w, verr.Msg, http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	default:
		log.Printf("[compliance] %s error: %v", op, err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
