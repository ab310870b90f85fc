// HTTP handlers for the hiring workflow.
//
// All routes expect an x-user-id header (the employer id) forwarded by the
// Gateway.
//
// Routes:
//
//	GET  /applications                     → list employer's applications
//	POST /applications                     → record a new application
//	GET  /applications/{id}/actions        → actions currently legal
//	POST /applications/{id}/actions        → apply one action
package hiring

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

// RegisterRoutes mounts all hiring routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/applications", h.handleApplications)
	mux.HandleFunc("/applications/", h.handleApplicationActions)
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

// handleApplications handles GET and POST /applications
func (h *Handler) handleApplications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listApplications(w, r)
	case http.MethodPost:
		h.createApplication(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleApplicationActions handles /applications/{id}/actions
func (h *Handler) handleApplicationActions(w http.ResponseWriter, r *http.Request) {
	// Parse /applications/{id}/actions
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[2] != "actions" {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	appID := parts[1]

	switch r.Method {
	case http.MethodGet:
		h.legalActions(w, r, appID)
	case http.MethodPost:
		h.applyAction(w, r, appID)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	employerID := r.Header.Get("x-user-id")
	if employerID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	apps, err := h.svc.ListApplications(r.Context(), employerID, r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, "listApplications", err)
		return
	}
	jsonOK(w, apps)
}

func (h *Handler) createApplication(w http.ResponseWriter, r *http.Request) {
	employerID := r.Header.Get("x-user-id")
	if employerID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	var body struct {
		ApplicantID  string `json:"applicantId"`
		JobPostingID string `json:"jobPostingId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	app, err := h.svc.CreateApplication(r.Context(), employerID, body.ApplicantID, body.JobPostingID)
	if err != nil {
		writeServiceError(w, "createApplication", err)
		return
	}
	jsonOK(w, app)
}

func (h *Handler) legalActions(w http.ResponseWriter, r *http.Request, appID string) {
	employerID := r.Header.Get("x-user-id")
	if employerID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	actions, err := h.svc.LegalActions(r.Context(), employerID, appID)
	if err != nil {
		writeServiceError(w, "legalActions", err)
		return
	}
	jsonOK(w, map[string]any{"applicationId": appID, "actions": actions})
}

func (h *Handler) applyAction(w http.ResponseWriter, r *http.Request, appID string) {
	employerID := r.Header.Get("x-user-id")
	if employerID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	var body struct {
		Action      string     `json:"action"`
		InterviewAt *time.Time `json:"interviewAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action == "" {
		jsonError(w, "body must contain action", http.StatusBadRequest)
		return
	}

	app, err := h.svc.ApplyAction(r.Context(), employerID, appID, body.Action, body.InterviewAt)
	if err != nil {
		writeServiceError(w, "applyAction", err)
		return
	}
	jsonOK(w, app)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// writeServiceError maps domain errors to status codes:
// validation → 400, guard failure → 409, missing → 404, anything else → 500.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var verr *ValidationError
	var terr *TransitionError
	switch {
	case errors.As(err, &verr):
		jsonError(w, verr.Msg, http.StatusBadRequest)
	case errors.As(err, &terr):
		jsonError(w, terr.Error(), http.StatusConflict)
	case errors.Is(err, ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	default:
		log.Printf("[hiring] %s error: %v", op, err)
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
