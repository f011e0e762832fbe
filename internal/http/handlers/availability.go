package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/apperr"
	"github.com/wolfman30/teletherapy-scheduler/internal/availability"
	"github.com/wolfman30/teletherapy-scheduler/internal/scheduling"
	"github.com/wolfman30/teletherapy-scheduler/internal/timewindow"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// AvailabilityHandler serves slot management and search endpoints.
type AvailabilityHandler struct {
	scheduler *scheduling.Orchestrator
	logger    *logging.Logger
}

func NewAvailabilityHandler(scheduler *scheduling.Orchestrator, logger *logging.Logger) *AvailabilityHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityHandler{scheduler: scheduler, logger: logger}
}

type recurrenceRequest struct {
	Type    availability.RecurrenceType `json:"type"`
	EndDate string                      `json:"end_date"`
}

type slotRequest struct {
	TherapistID string              `json:"therapist_id"`
	Date        string              `json:"date"`
	StartTime   string              `json:"start_time"`
	EndTime     string              `json:"end_time"`
	Status      availability.Status `json:"status"`
	Recurrence  *recurrenceRequest  `json:"recurrence"`
	Notes       string              `json:"notes"`
}

// createSlotsRequest accepts either one slot inline or a batch under "slots".
type createSlotsRequest struct {
	slotRequest
	Slots []slotRequest `json:"slots"`
}

func (s slotRequest) toDomain() (availability.CreateSlotInput, error) {
	var in availability.CreateSlotInput
	var err error
	if s.TherapistID != "" {
		if in.TherapistID, err = parseUUID("therapist_id", s.TherapistID); err != nil {
			return in, err
		}
	}
	if in.Date, err = parseDate("date", s.Date); err != nil {
		return in, err
	}
	if in.StartTime, err = parseClock("start_time", s.StartTime); err != nil {
		return in, err
	}
	if in.EndTime, err = parseClock("end_time", s.EndTime); err != nil {
		return in, err
	}
	in.Status = s.Status
	in.Notes = s.Notes
	if s.Recurrence != nil {
		in.Recurrence.Type = s.Recurrence.Type
		if s.Recurrence.EndDate != "" {
			end, err := parseDate("recurrence.end_date", s.Recurrence.EndDate)
			if err != nil {
				return in, err
			}
			in.Recurrence.EndDate = &end
		}
	}
	return in, nil
}

// Create handles POST /api/v1/availability.
func (h *AvailabilityHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var body createSlotsRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	reqs := body.Slots
	if len(reqs) == 0 {
		reqs = []slotRequest{body.slotRequest}
	}
	inputs := make([]availability.CreateSlotInput, 0, len(reqs))
	for _, req := range reqs {
		in, err := req.toDomain()
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		inputs = append(inputs, in)
	}

	slots, err := h.scheduler.CreateSlots(r.Context(), actor, inputs)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"slots": slots, "count": len(slots)})
}

type patchSlotRequest struct {
	Action    availability.PatchAction `json:"action"`
	StartTime *string                  `json:"start_time"`
	EndTime   *string                  `json:"end_time"`
	Notes     *string                  `json:"notes"`
	Reason    string                   `json:"reason"`
}

func (p patchSlotRequest) toDomain() (availability.SlotPatch, error) {
	patch := availability.SlotPatch{Action: p.Action, Notes: p.Notes, Reason: p.Reason}
	if p.StartTime != nil {
		start, err := parseClock("start_time", *p.StartTime)
		if err != nil {
			return patch, err
		}
		patch.StartTime = &start
	}
	if p.EndTime != nil {
		end, err := parseClock("end_time", *p.EndTime)
		if err != nil {
			return patch, err
		}
		patch.EndTime = &end
	}
	return patch, nil
}

// Update handles PUT /api/v1/availability/{slotID}.
func (h *AvailabilityHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	slotID, err := uuidParam(r, "slotID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var body patchSlotRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	patch, err := body.toDomain()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	slot, err := h.scheduler.ModifySlot(r.Context(), actor, slotID, patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// Delete handles DELETE /api/v1/availability/{slotID}.
func (h *AvailabilityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	slotID, err := uuidParam(r, "slotID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.scheduler.DeleteSlot(r.Context(), actor, slotID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type availabilityResponse struct {
	TherapistID     uuid.UUID `json:"therapist_id"`
	Date            string    `json:"date"`
	DurationMinutes int       `json:"duration_minutes"`
	StartTimes      []string  `json:"start_times"`
	Starts          []string  `json:"starts"`
}

// Search handles GET /api/v1/availability?therapist_id&date&duration.
func (h *AvailabilityHandler) Search(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	q := r.URL.Query()
	therapistID, err := parseUUID("therapist_id", q.Get("therapist_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	date, err := parseDate("date", q.Get("date"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	duration := 60
	if raw := q.Get("duration"); raw != "" {
		if duration, err = strconv.Atoi(raw); err != nil {
			writeError(w, r, h.logger, apperr.Validation("duration must be a number of minutes"))
			return
		}
	}

	starts, err := h.scheduler.Availability(r.Context(), therapistID, date, duration)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	loc := h.scheduler.Policy().Location
	resp := availabilityResponse{
		TherapistID:     therapistID,
		Date:            date.Format(timewindow.DateLayout),
		DurationMinutes: duration,
		StartTimes:      make([]string, 0, len(starts)),
		Starts:          make([]string, 0, len(starts)),
	}
	for _, s := range starts {
		resp.StartTimes = append(resp.StartTimes, s.In(loc).Format(timewindow.ClockLayout))
		resp.Starts = append(resp.Starts, s.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSlots handles GET /api/v1/therapists/{therapistID}/slots?from&to.
func (h *AvailabilityHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	therapistID, err := uuidParam(r, "therapistID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	from, err := optionalDate(r, "from")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to, err := optionalDate(r, "to")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	views, err := h.scheduler.ListSlots(r.Context(), actor, therapistID, from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": views, "count": len(views)})
}
