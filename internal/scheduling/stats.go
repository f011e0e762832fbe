package scheduling

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/internal/sessions"
)

// TherapistStatistics summarizes a therapist's sessions over a date range.
type TherapistStatistics struct {
	TherapistID            uuid.UUID               `json:"therapist_id"`
	From                   *time.Time              `json:"from,omitempty"`
	To                     *time.Time              `json:"to,omitempty"`
	TotalSessions          int                     `json:"total_sessions"`
	ByStatus               map[sessions.Status]int `json:"by_status"`
	CompletionRate         float64                 `json:"completion_rate"`
	UniqueClients          int                     `json:"unique_clients"`
	AverageDurationMinutes float64                 `json:"average_duration_minutes"`
	Lifetime               TherapistCounters       `json:"lifetime"`
}

// Statistics computes per-status totals, completion rate and average actual
// duration for sessions scheduled in [from, to). Zero bounds are open.
func (o *Orchestrator) Statistics(ctx context.Context, actor identity.Actor, therapistID uuid.UUID, from, to time.Time) (*TherapistStatistics, error) {
	if err := authorizeCalendar(actor, therapistID); err != nil {
		return nil, err
	}
	list, err := o.sessions.List(ctx, sessions.Filter{TherapistID: therapistID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	stats := summarize(therapistID, list)
	if !from.IsZero() {
		stats.From = &from
	}
	if !to.IsZero() {
		stats.To = &to
	}

	counters, err := o.stats.Counters(ctx, therapistID)
	if err != nil {
		o.logger.Warn("therapist counters unavailable", "therapist_id", therapistID, "error", err)
	} else {
		stats.Lifetime = counters
	}
	return stats, nil
}

func summarize(therapistID uuid.UUID, list []sessions.Session) *TherapistStatistics {
	stats := &TherapistStatistics{
		TherapistID:   therapistID,
		TotalSessions: len(list),
		ByStatus:      make(map[sessions.Status]int, len(sessions.AllStatuses)),
	}
	for _, st := range sessions.AllStatuses {
		stats.ByStatus[st] = 0
	}

	clients := map[uuid.UUID]struct{}{}
	var minutes, measured int
	for _, s := range list {
		stats.ByStatus[s.Status]++
		clients[s.ClientID] = struct{}{}
		if s.Status == sessions.StatusCompleted && s.ActualDurationMinutes != nil {
			minutes += *s.ActualDurationMinutes
			measured++
		}
	}
	stats.UniqueClients = len(clients)
	if stats.TotalSessions > 0 {
		stats.CompletionRate = round2(float64(stats.ByStatus[sessions.StatusCompleted]) / float64(stats.TotalSessions) * 100)
	}
	if measured > 0 {
		stats.AverageDurationMinutes = round2(float64(minutes) / float64(measured))
	}
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
