package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"omnidesk/room-service/internal/events"
	"omnidesk/room-service/internal/store"
)

type Handler struct {
	rooms     store.Rooms
	reports   store.Reports
	publisher events.Publisher
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(rooms store.Rooms, reports store.Reports, publisher events.Publisher) *Handler {
	return &Handler{rooms: rooms, reports: reports, publisher: publisher}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/rooms/", h.handleRoomActions)
	mux.HandleFunc("/api/slas/", h.handleSLARooms)
	mux.HandleFunc("/api/units/", h.handleUnits)
	mux.HandleFunc("/api/abandonment", h.handleAbandonmentSweep)
	mux.HandleFunc("/api/reports/conversations-by-source", h.reportHandler("source"))
	mux.HandleFunc("/api/reports/conversations-by-status", h.reportHandler("status"))
	mux.HandleFunc("/api/reports/conversations-by-department", h.reportHandler("department"))
	mux.HandleFunc("/api/reports/conversations-by-tags", h.reportHandler("tags"))
	mux.HandleFunc("/api/reports/conversations-by-agents", h.reportHandler("agents"))
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type slaRequest struct {
	SLAID          string `json:"sla_id"`
	DueTimeMinutes int    `json:"due_time_minutes"`
}

type priorityRequest struct {
	PriorityID string `json:"priority_id"`
	Weight     int    `json:"weight"`
}

type abandonmentRequest struct {
	PredictedAt string `json:"predicted_at"`
}

type ancestorsRequest struct {
	Ancestors []string `json:"ancestors"`
}

func (h *Handler) handleRoomActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	roomID := parts[0]
	action := parts[2]
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "room id is required")
		return
	}

	switch action {
	case "hold":
		h.handleSetOnHold(w, r, roomID)
	case "unhold":
		h.handleUnsetOnHold(w, r, roomID)
	case "resume":
		h.handleResume(w, r, roomID)
	case "set-sla":
		h.handleSetSLA(w, r, roomID)
	case "remove-sla":
		h.handleRemoveSLA(w, r, roomID)
	case "set-priority":
		h.handleSetPriority(w, r, roomID)
	case "unset-priority":
		h.handleUnsetPriority(w, r, roomID)
	case "predict-abandonment":
		h.handlePredictAbandonment(w, r, roomID)
	case "unset-abandonment":
		h.handleUnsetAbandonment(w, r, roomID)
	case "ancestors":
		h.handleAncestors(w, r, roomID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleSetOnHold(w http.ResponseWriter, r *http.Request, roomID string) {
	result, err := h.rooms.SetOnHold(r.Context(), roomID)
	h.finishRoomAction(w, r, roomID, result, err, events.RoomOnHoldSet, events.RoomEvent{RoomID: roomID})
}

func (h *Handler) handleUnsetOnHold(w http.ResponseWriter, r *http.Request, roomID string) {
	result, err := h.rooms.UnsetOnHold(r.Context(), roomID)
	h.finishRoomAction(w, r, roomID, result, err, events.RoomOnHoldUnset, events.RoomEvent{RoomID: roomID})
}

// resume clears on-hold and any pending abandonment prediction in one
// store call; the two must never be observable apart.
func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request, roomID string) {
	result, err := h.rooms.UnsetOnHoldAndPredictedVisitorAbandonment(r.Context(), roomID)
	h.finishRoomAction(w, r, roomID, result, err, events.RoomOnHoldUnset, events.RoomEvent{RoomID: roomID})
}

func (h *Handler) handleSetSLA(w http.ResponseWriter, r *http.Request, roomID string) {
	var req slaRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.SLAID = strings.TrimSpace(req.SLAID)
	if req.SLAID == "" || req.DueTimeMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "sla_id and a positive due_time_minutes are required")
		return
	}
	result, err := h.rooms.SetSLA(r.Context(), roomID, store.SLARef{ID: req.SLAID, DueTimeInMinutes: req.DueTimeMinutes})
	h.finishRoomAction(w, r, roomID, result, err, events.RoomSLASet, events.RoomEvent{RoomID: roomID, SLAID: req.SLAID})
}

func (h *Handler) handleRemoveSLA(w http.ResponseWriter, r *http.Request, roomID string) {
	result, err := h.rooms.RemoveSLA(r.Context(), roomID)
	h.finishRoomAction(w, r, roomID, result, err, events.RoomSLARemoved, events.RoomEvent{RoomID: roomID})
}

func (h *Handler) handleSetPriority(w http.ResponseWriter, r *http.Request, roomID string) {
	var req priorityRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.PriorityID = strings.TrimSpace(req.PriorityID)
	if req.PriorityID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "priority_id is required")
		return
	}
	result, err := h.rooms.SetPriority(r.Context(), roomID, store.PriorityRef{ID: req.PriorityID, Weight: req.Weight})
	h.finishRoomAction(w, r, roomID, result, err, events.RoomPrioritySet, events.RoomEvent{RoomID: roomID, PriorityID: req.PriorityID})
}

func (h *Handler) handleUnsetPriority(w http.ResponseWriter, r *http.Request, roomID string) {
	result, err := h.rooms.UnsetPriority(r.Context(), roomID)
	h.finishRoomAction(w, r, roomID, result, err, events.RoomPriorityUnset, events.RoomEvent{RoomID: roomID})
}

func (h *Handler) handlePredictAbandonment(w http.ResponseWriter, r *http.Request, roomID string) {
	var req abandonmentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	at, err := time.Parse(time.RFC3339, req.PredictedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "predicted_at must be RFC3339")
		return
	}
	result, err := h.rooms.SetPredictedVisitorAbandonment(r.Context(), roomID, at)
	h.finishRoomAction(w, r, roomID, result, err, "", nil)
}

func (h *Handler) handleUnsetAbandonment(w http.ResponseWriter, r *http.Request, roomID string) {
	result, err := h.rooms.UnsetPredictedVisitorAbandonment(r.Context(), roomID)
	h.finishRoomAction(w, r, roomID, result, err, "", nil)
}

func (h *Handler) handleAncestors(w http.ResponseWriter, r *http.Request, roomID string) {
	var req ancestorsRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.rooms.UpdateDepartmentAncestors(r.Context(), roomID, req.Ancestors)
	h.finishRoomAction(w, r, roomID, result, err, "", nil)
}

func (h *Handler) finishRoomAction(w http.ResponseWriter, r *http.Request, roomID string, result store.UpdateResult, err error, eventKey string, payload any) {
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if eventKey != "" && h.publisher != nil {
		// Best effort: the mutation already committed, a lost event must not
		// fail the request.
		_ = h.publisher.Publish(r.Context(), eventKey, events.Envelope{
			Meta: events.Meta{CorrelationID: strings.TrimSpace(r.Header.Get("X-Request-ID"))},
			Data: payload,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSLARooms serves GET /api/slas/{id}/rooms (open rooms bound to the
// SLA) and DELETE /api/slas/{id}/rooms (bulk detach after SLA deletion).
func (h *Handler) handleSLARooms(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/slas/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "rooms" || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	slaID := parts[0]

	switch r.Method {
	case http.MethodGet:
		rooms, err := h.rooms.FindOpenBySLA(r.Context(), slaID, departmentExtraFilter(r))
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, rooms)
	case http.MethodDelete:
		result, err := h.rooms.BulkRemoveSLA(r.Context(), slaID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if h.publisher != nil {
			_ = h.publisher.Publish(r.Context(), events.RoomSLARemoved, events.Envelope{
				Meta: events.Meta{CorrelationID: strings.TrimSpace(r.Header.Get("X-Request-ID"))},
				Data: events.RoomEvent{SLAID: slaID},
			})
		}
		writeJSON(w, http.StatusOK, result)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type associateRequest struct {
	Departments []string `json:"departments"`
}

// handleUnits serves POST /api/units/{id}/departments (reconcile the unit's
// department set onto rooms) and DELETE /api/units/{id}/rooms (strip the
// unit from all rooms on unit deletion).
func (h *Handler) handleUnits(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/units/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	unitID := parts[0]

	switch {
	case r.Method == http.MethodPost && parts[1] == "departments":
		var req associateRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if len(req.Departments) == 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "departments is required")
			return
		}
		if err := h.rooms.AssociateRoomsWithDepartmentToUnit(r.Context(), req.Departments, unitID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if h.publisher != nil {
			_ = h.publisher.Publish(r.Context(), events.RoomUnitsReconciled, events.Envelope{
				Meta: events.Meta{CorrelationID: strings.TrimSpace(r.Header.Get("X-Request-ID"))},
				Data: events.UnitEvent{UnitID: unitID, Departments: req.Departments},
			})
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete && parts[1] == "rooms":
		result, err := h.rooms.RemoveUnitAssociationFromRooms(r.Context(), unitID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if h.publisher != nil {
			_ = h.publisher.Publish(r.Context(), events.RoomUnitsDissociated, events.Envelope{
				Meta: events.Meta{CorrelationID: strings.TrimSpace(r.Header.Get("X-Request-ID"))},
				Data: events.UnitEvent{UnitID: unitID},
			})
		}
		writeJSON(w, http.StatusOK, result)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAbandonmentSweep is the global reset: DELETE clears the prediction
// from every open livechat room carrying one.
func (h *Handler) handleAbandonmentSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := h.rooms.UnsetAllPredictedVisitorAbandonment(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) reportHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		start, end, ok := parseWindow(w, r)
		if !ok {
			return
		}

		var result store.ReportResult
		var err error
		switch kind {
		case "source":
			result, err = h.reports.ConversationsBySource(r.Context(), start, end)
		case "status":
			result, err = h.reports.ConversationsByStatus(r.Context(), start, end)
		case "department":
			result, err = h.reports.ConversationsByDepartment(r.Context(), start, end)
		case "tags":
			result, err = h.reports.ConversationsByTags(r.Context(), start, end)
		case "agents":
			result, err = h.reports.ConversationsByAgents(r.Context(), start, end)
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// departmentExtraFilter lets callers narrow SLA room lookups to one
// department, the only extra criterion the REST surface exposes.
func departmentExtraFilter(r *http.Request) bson.M {
	departmentID := strings.TrimSpace(r.URL.Query().Get("department_id"))
	if departmentID == "" {
		return nil
	}
	return bson.M{"departmentId": departmentID}
}

func parseWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	startRaw := strings.TrimSpace(r.URL.Query().Get("start"))
	endRaw := strings.TrimSpace(r.URL.Query().Get("end"))

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if startRaw != "" {
		parsed, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "start must be RFC3339")
			return time.Time{}, time.Time{}, false
		}
		start = parsed
	}
	if endRaw != "" {
		parsed, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "end must be RFC3339")
			return time.Time{}, time.Time{}, false
		}
		end = parsed
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "invalid_request", "end must be after start")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		return http.StatusNotFound, "room_not_found", "room not found"
	case errors.Is(err, store.ErrInvalidWindow):
		return http.StatusBadRequest, "invalid_request", "invalid report window"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
