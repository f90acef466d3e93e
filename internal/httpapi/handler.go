package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"myqueue/checkin-service/internal/checkin"
	"myqueue/checkin-service/internal/models"
	"myqueue/checkin-service/internal/store"
	"myqueue/checkin-service/internal/tracker"

	"github.com/google/uuid"
)

type CheckInService interface {
	CheckIn(ctx context.Context, patientUID, token, today string) (checkin.Result, error)
}

type Handler struct {
	service CheckInService
	store   store.Store

	avgServiceMinutes int
	upcomingCount     int
	now               func() time.Time
}

type Options struct {
	AvgServiceMinutes int
	UpcomingCount     int
	Now               func() time.Time
}

func NewHandler(service CheckInService, st store.Store, options Options) *Handler {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		service:           service,
		store:             st,
		avgServiceMinutes: options.AvgServiceMinutes,
		upcomingCount:     options.UpcomingCount,
		now:               now,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/checkin", h.handleCheckIn)
	mux.HandleFunc("/api/queue/status", h.handleQueueStatus)
	mux.HandleFunc("/api/queue/snapshot", h.handleQueueSnapshot)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type checkInRequest struct {
	RequestID string `json:"request_id"`
	PatientID string `json:"patient_id"`
	Token     string `json:"token"`
}

type checkInResponse struct {
	Ticket  ticketView      `json:"ticket"`
	Session tracker.Session `json:"session"`
	Resumed bool            `json:"resumed"`
}

type ticketView struct {
	Key         int       `json:"key"`
	DisplayText string    `json:"displayText"`
	Status      string    `json:"status"`
	CheckInAt   time.Time `json:"checkInAt"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkInRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.Token = strings.TrimSpace(req.Token)

	if req.PatientID == "" || req.Token == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "patient_id and token are required")
		return
	}
	if !isValidUUID(req.PatientID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID")
		return
	}

	today := h.now().Format("2006-01-02")
	result, err := h.service.CheckIn(r.Context(), req.PatientID, req.Token, today)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, checkInResponse{
		Ticket: ticketView{
			Key:         result.Ticket.Key,
			DisplayText: result.Ticket.DisplayText,
			Status:      result.Ticket.Status,
			CheckInAt:   result.Ticket.CheckInAt,
		},
		Session: tracker.Session{
			Date:        result.Date,
			ServiceType: result.ServiceType,
			TicketKey:   result.Ticket.Key,
			DisplayText: result.Ticket.DisplayText,
		},
		Resumed: result.Resumed,
	})
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	session, ok := sessionFromQuery(w, r)
	if !ok {
		return
	}

	tickets, servingKey, err := h.loadQueue(r.Context(), session.Date, session.ServiceType)
	if err != nil {
		writeError(w, "", http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if _, exists := tickets[session.TicketKey]; !exists {
		writeError(w, "", http.StatusNotFound, "session_not_found", "no ticket for this session")
		return
	}

	state := tracker.Derive(tickets, servingKey, session, h.avgServiceMinutes, h.upcomingCount)
	writeJSON(w, http.StatusOK, state)
}

type snapshotResponse struct {
	CurrentNumber int          `json:"currentNumber"`
	Tickets       []ticketView `json:"tickets"`
}

func (h *Handler) handleQueueSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	serviceType, ok := parseQueueParams(w, date, r.URL.Query().Get("service_type"))
	if !ok {
		return
	}

	tickets, servingKey, err := h.loadQueue(r.Context(), date, serviceType)
	if err != nil {
		writeError(w, "", http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	views := make([]ticketView, 0, len(tickets))
	for _, ticket := range tickets {
		views = append(views, ticketView{
			Key:         ticket.Key,
			DisplayText: ticket.DisplayText,
			Status:      ticket.Status,
			CheckInAt:   ticket.CheckInAt,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	writeJSON(w, http.StatusOK, snapshotResponse{CurrentNumber: servingKey, Tickets: views})
}

func (h *Handler) loadQueue(ctx context.Context, date string, serviceType models.ServiceType) (map[int]models.Ticket, int, error) {
	children, err := h.store.List(ctx, store.QueuePath(date, serviceType))
	if err != nil {
		return nil, 0, err
	}
	tickets := map[int]models.Ticket{}
	for name, raw := range children {
		key, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		var ticket models.Ticket
		if err := json.Unmarshal(raw, &ticket); err != nil {
			continue
		}
		ticket.Key = key
		tickets[key] = ticket
	}

	servingKey := 0
	raw, err := h.store.Get(ctx, store.CurrentServingPath(date, serviceType))
	if err != nil {
		return nil, 0, err
	}
	if raw != nil {
		var pointer models.CurrentServing
		if err := json.Unmarshal(raw, &pointer); err == nil && pointer.CurrentNumber > 0 {
			servingKey = pointer.CurrentNumber
		}
	}
	return tickets, servingKey, nil
}

func sessionFromQuery(w http.ResponseWriter, r *http.Request) (tracker.Session, bool) {
	query := r.URL.Query()
	date := strings.TrimSpace(query.Get("date"))
	serviceType, ok := parseQueueParams(w, date, query.Get("service_type"))
	if !ok {
		return tracker.Session{}, false
	}

	keyRaw := strings.TrimSpace(query.Get("ticket_key"))
	key, err := strconv.Atoi(keyRaw)
	if err != nil || key <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket_key must be a positive integer")
		return tracker.Session{}, false
	}
	return tracker.Session{Date: date, ServiceType: serviceType, TicketKey: key}, true
}

func parseQueueParams(w http.ResponseWriter, date, serviceTypeRaw string) (models.ServiceType, bool) {
	if date == "" || strings.TrimSpace(serviceTypeRaw) == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date and service_type are required")
		return "", false
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return "", false
	}
	serviceType, ok := models.ParseServiceType(serviceTypeRaw)
	if !ok {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "unknown service_type")
		return "", false
	}
	return serviceType, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, checkin.ErrNoEligibleAppointment):
		return http.StatusNotFound, "no_eligible_appointment", "no confirmed appointment for today"
	case errors.Is(err, checkin.ErrInvalidCheckInToken):
		return http.StatusBadRequest, "invalid_token", "scanned code does not match an eligible appointment"
	case errors.Is(err, checkin.ErrAllocationFailed):
		return http.StatusServiceUnavailable, "allocation_failed", "could not issue a ticket, please retry"
	case errors.Is(err, tracker.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found", "no ticket for this session"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
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
