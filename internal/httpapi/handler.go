package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"servicelane/queue-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.QueueStore
}

func NewHandler(store store.QueueStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tokens", h.handleIssueToken)
	mux.HandleFunc("/api/entries", h.handleSubmitEntry)
	mux.HandleFunc("/api/entries/", h.handleEntry)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/branches/", h.handleBranch)
	return mux
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type issueTokenRequest struct {
	BranchID string `json:"branch_id"`
	Note     string `json:"note"`
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req issueTokenRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.BranchID = strings.TrimSpace(req.BranchID)
	if req.BranchID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch_id is required")
		return
	}
	if !isValidUUID(req.BranchID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}

	token, err := h.store.IssueToken(r.Context(), store.IssueTokenInput{
		BranchID: req.BranchID,
		IssuedBy: actorFromContext(r.Context()),
		Note:     strings.TrimSpace(req.Note),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

type submitEntryRequest struct {
	Token        string `json:"token"`
	CustomerName string `json:"customer_name"`
	Phone        string `json:"phone"`
	PlateNumber  string `json:"plate_number"`
	VehicleModel string `json:"vehicle_model"`
	Notes        string `json:"notes"`
}

func (h *Handler) handleSubmitEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req submitEntryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.PlateNumber = strings.TrimSpace(req.PlateNumber)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	if req.CustomerName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer_name is required")
		return
	}

	entry, err := h.store.Admit(r.Context(), store.AdmitInput{
		Token:        req.Token,
		CustomerName: req.CustomerName,
		Phone:        strings.TrimSpace(req.Phone),
		PlateNumber:  req.PlateNumber,
		VehicleModel: strings.TrimSpace(req.VehicleModel),
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleEntry(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/entries/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	entryID := parts[0]
	if !isValidUUID(entryID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "entry_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleEntryStatus(w, r, entryID)
	case len(parts) == 2 && parts[1] == "events":
		h.handleEntryEvents(w, r, entryID)
	case len(parts) == 3 && parts[1] == "actions":
		h.handleEntryAction(w, r, entryID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleEntryStatus(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status, err := h.store.GetEntryStatus(r.Context(), entryID)
	if err != nil {
		statusCode, code, msg := mapError(err)
		writeError(w, statusCode, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleEntryEvents(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	events, err := h.store.ListEntryEvents(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type entryActionRequest struct {
	BranchID string `json:"branch_id"`
	Position int    `json:"position"`
	Reason   string `json:"reason"`
}

func (h *Handler) handleEntryAction(w http.ResponseWriter, r *http.Request, entryID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req entryActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BranchID != "" && !isValidUUID(req.BranchID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}

	actor := actorFromContext(r.Context())
	now := time.Now().UTC()

	var entry interface{}
	var err error
	switch action {
	case "start":
		entry, err = h.store.StartService(r.Context(), store.EntryActionInput{
			EntryID:    entryID,
			BranchID:   req.BranchID,
			Actor:      actor,
			OccurredAt: now,
		})
	case "complete":
		entry, err = h.store.CompleteEntry(r.Context(), store.EntryActionInput{
			EntryID:    entryID,
			BranchID:   req.BranchID,
			Actor:      actor,
			OccurredAt: now,
		})
	case "cancel":
		if req.Reason == "" {
			writeError(w, http.StatusBadRequest, "missing_cancel_reason", "reason is required to cancel an entry")
			return
		}
		entry, err = h.store.CancelEntry(r.Context(), store.CancelInput{
			EntryID:    entryID,
			BranchID:   req.BranchID,
			Reason:     req.Reason,
			Actor:      actor,
			OccurredAt: now,
		})
	case "move":
		if req.Position < 1 {
			writeError(w, http.StatusBadRequest, "invalid_position", "position must be a positive integer")
			return
		}
		entry, err = h.store.Reposition(r.Context(), store.RepositionInput{
			EntryID:     entryID,
			BranchID:    req.BranchID,
			NewPosition: req.Position,
			Actor:       actor,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	if branchID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch_id is required")
		return
	}
	if !isValidUUID(branchID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}

	entries, err := h.store.ListQueue(r.Context(), branchID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type acceptingRequest struct {
	Accepting bool `json:"accepting"`
}

func (h *Handler) handleBranch(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/branches/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "accepting" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	branchID := parts[0]
	if !isValidUUID(branchID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}

	var req acceptingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if err := h.store.SetBranchAccepting(r.Context(), branchID, req.Accepting); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"branch_id": branchID,
		"accepting": req.Accepting,
	})
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrTokenExpired):
		return http.StatusGone, "token_expired", "token has expired"
	case errors.Is(err, store.ErrTokenConsumed):
		return http.StatusConflict, "token_consumed", "token was already used"
	case errors.Is(err, store.ErrBranchClosed):
		return http.StatusConflict, "branch_closed", "branch is not accepting new entries"
	case errors.Is(err, store.ErrBranchNotFound):
		return http.StatusNotFound, "branch_not_found", "branch not found"
	case errors.Is(err, store.ErrBranchMismatch):
		return http.StatusForbidden, "branch_mismatch", "entry belongs to a different branch"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "entry not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "entry status does not allow this action"
	case errors.Is(err, store.ErrMissingCancelReason):
		return http.StatusBadRequest, "missing_cancel_reason", "reason is required to cancel an entry"
	case errors.Is(err, store.ErrInvalidPosition):
		return http.StatusBadRequest, "invalid_position", "position is outside the queue"
	case errors.Is(err, store.ErrContended):
		return http.StatusServiceUnavailable, "contended", "queue is busy, retry shortly"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
