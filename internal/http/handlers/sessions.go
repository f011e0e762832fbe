package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/events"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/internal/scheduling"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// SessionHandler serves booking and session lifecycle endpoints.
type SessionHandler struct {
	scheduler *scheduling.Orchestrator
	streamer  *events.Streamer
	logger    *logging.Logger
}

// NewSessionHandler creates a session handler. streamer may be nil, which
// disables the live event stream.
func NewSessionHandler(scheduler *scheduling.Orchestrator, streamer *events.Streamer, logger *logging.Logger) *SessionHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionHandler{scheduler: scheduler, streamer: streamer, logger: logger}
}

type bookingRequest struct {
	ClientID        string        `json:"client_id"`
	TherapistID     string        `json:"therapist_id"`
	Date            string        `json:"date"`
	StartTime       string        `json:"start_time"`
	DurationMinutes int           `json:"duration_minutes"`
	SessionType     sessions.Type `json:"session_type"`
	PaymentRef      string        `json:"payment_reference"`
	Timezone        string        `json:"timezone"`
	Title           string        `json:"title"`
	Notes           string        `json:"notes"`
}

func (r bookingRequest) toDomain() (scheduling.BookingRequest, error) {
	var out scheduling.BookingRequest
	var err error
	if r.ClientID != "" {
		if out.ClientID, err = parseUUID("client_id", r.ClientID); err != nil {
			return out, err
		}
	}
	if out.TherapistID, err = parseUUID("therapist_id", r.TherapistID); err != nil {
		return out, err
	}
	if out.Date, err = parseDate("date", r.Date); err != nil {
		return out, err
	}
	if out.StartTime, err = parseClock("start_time", r.StartTime); err != nil {
		return out, err
	}
	out.DurationMinutes = r.DurationMinutes
	out.Type = r.SessionType
	out.PaymentRef = r.PaymentRef
	out.Timezone = r.Timezone
	out.Title = r.Title
	out.Notes = r.Notes
	return out, nil
}

// Book handles POST /api/v1/bookings.
func (h *SessionHandler) Book(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var body bookingRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sess, err := h.scheduler.BookSession(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// Get handles GET /api/v1/sessions/{sessionID}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id uuid.UUID, actor identity.Actor) (int, any, error) {
		detail, err := h.scheduler.GetSession(r.Context(), id, actor)
		return http.StatusOK, detail, err
	})
}

// Confirm handles POST /api/v1/sessions/{sessionID}/confirm.
func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id uuid.UUID, actor identity.Actor) (int, any, error) {
		sess, err := h.scheduler.ConfirmSession(r.Context(), id, actor)
		return http.StatusOK, sess, err
	})
}

// Join handles POST /api/v1/sessions/{sessionID}/join.
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id uuid.UUID, actor identity.Actor) (int, any, error) {
		result, err := h.scheduler.JoinSession(r.Context(), id, actor)
		return http.StatusOK, result, err
	})
}

type extendRequest struct {
	Reason string `json:"reason"`
}

// Extend handles POST /api/v1/sessions/{sessionID}/extend.
func (h *SessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id uuid.UUID, actor identity.Actor) (int, any, error) {
		var body extendRequest
		if err := decodeOptionalJSON(r, &body); err != nil {
			return 0, nil, err
		}
		result, err := h.scheduler.ExtendSession(r.Context(), id, actor, strings.TrimSpace(body.Reason))
		return http.StatusOK, result, err
	})
}

// End handles POST /api/v1/sessions/{sessionID}/end.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id uuid.UUID, actor identity.Actor) (int, any, error) {
		summary, err := h.scheduler.EndSession(r.Context(), id, actor)
		return http.StatusOK, summary, err
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

// Cancel handles POST /api/v1/sessions/{sessionID}/cancel.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id uuid.UUID, actor identity.Actor) (int, any, error) {
		var body cancelRequest
		if err := decodeOptionalJSON(r, &body); err != nil {
			return 0, nil, err
		}
		sess, err := h.scheduler.CancelSession(r.Context(), id, actor, strings.TrimSpace(body.Reason), body.Notes)
		return http.StatusOK, sess, err
	})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// Notes handles POST /api/v1/sessions/{sessionID}/notes.
func (h *SessionHandler) Notes(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id uuid.UUID, actor identity.Actor) (int, any, error) {
		var body notesRequest
		if err := decodeJSON(r, &body); err != nil {
			return 0, nil, err
		}
		sess, err := h.scheduler.UpdateNotes(r.Context(), id, actor, body.Notes)
		return http.StatusOK, sess, err
	})
}

type rescheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
}

// Reschedule handles POST /api/v1/sessions/{sessionID}/reschedule.
func (h *SessionHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(id uuid.UUID, actor identity.Actor) (int, any, error) {
		var body rescheduleRequest
		if err := decodeJSON(r, &body); err != nil {
			return 0, nil, err
		}
		date, err := parseDate("date", body.Date)
		if err != nil {
			return 0, nil, err
		}
		start, err := parseClock("start_time", body.StartTime)
		if err != nil {
			return 0, nil, err
		}
		sess, err := h.scheduler.RescheduleSession(r.Context(), id, actor, date, start)
		return http.StatusCreated, sess, err
	})
}

// Events handles GET /api/v1/sessions/{sessionID}/events as a websocket.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.streamer == nil {
		http.NotFound(w, r)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "sessionID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.scheduler.Authorize(r.Context(), id, actor); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.streamer.Stream(w, r, id)
}

// ListForTherapist handles GET /api/v1/therapists/{therapistID}/sessions.
func (h *SessionHandler) ListForTherapist(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	therapistID, from, to, err := therapistRange(r, h.scheduler.Policy().Location)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var statuses []sessions.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, sessions.Status(strings.TrimSpace(part)))
		}
	}
	list, err := h.scheduler.ListSessions(r.Context(), actor, therapistID, from, to, statuses)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list, "count": len(list)})
}

// Statistics handles GET /api/v1/therapists/{therapistID}/statistics.
func (h *SessionHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	therapistID, from, to, err := therapistRange(r, h.scheduler.Policy().Location)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	stats, err := h.scheduler.Statistics(r.Context(), actor, therapistID, from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// therapistRange reads the therapist path param and an optional from/to date
// range in loc. The range end is made exclusive by moving it to the
// following midnight.
func therapistRange(r *http.Request, loc *time.Location) (uuid.UUID, time.Time, time.Time, error) {
	therapistID, err := uuidParam(r, "therapistID")
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, err
	}
	from, err := optionalDate(r, "from")
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, err
	}
	to, err := optionalDate(r, "to")
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, err
	}
	if !from.IsZero() {
		from = timewindow.Combine(from, 0, loc)
	}
	if !to.IsZero() {
		to = timewindow.AddDays(timewindow.Combine(to, 0, loc), 1)
	}
	return therapistID, from, to, nil
}

func (h *SessionHandler) withSession(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID, identity.Actor) (int, any, error)) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "sessionID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status, payload, err := fn(id, actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, status, payload)
}
