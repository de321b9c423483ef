package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventpulse/internal/model"
	"eventpulse/internal/repo"
)

// Aggregator recomputes the per-event analytics projection. Recalculate is
// a full pass over current rows, never incremental, so running it twice in
// a row converges on the same result and concurrent registrations only make
// the snapshot slightly stale, never wrong.
type Aggregator struct {
	store repo.Store
	clock func() time.Time
	log   *zerolog.Logger
}

func NewAggregator(store repo.Store, log *zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, clock: time.Now, log: log}
}

func (a *Aggregator) Recalculate(ctx context.Context, eventID uuid.UUID) (*model.EventAnalytics, error) {
	if _, err := a.store.GetEvent(ctx, eventID); err != nil {
		return nil, fmt.Errorf("recalculate: %w", err)
	}
	participants, err := a.store.ListParticipants(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("recalculate: %w", err)
	}
	sessions, err := a.store.ListSessions(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("recalculate: %w", err)
	}
	exhibitors, err := a.store.CountExhibitors(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("recalculate: %w", err)
	}
	products, err := a.store.CountProducts(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("recalculate: %w", err)
	}

	out := &model.EventAnalytics{
		EventID:         eventID,
		TotalSessions:   len(sessions),
		TotalExhibitors: exhibitors,
		TotalProducts:   products,
		LastCalculated:  a.clock(),
	}
	for _, p := range participants {
		out.TotalRegistrations++
		switch p.RegistrationStatus {
		case model.RegistrationConfirmed:
			out.ConfirmedRegistrations++
		case model.RegistrationCancelled:
			out.CancelledRegistrations++
		case model.RegistrationWaitlist:
			out.WaitlistRegistrations++
		}
		switch p.AttendanceStatus {
		case model.AttendanceCheckedIn, model.AttendanceAttended:
			out.TotalAttendance++
		}
	}
	if out.ConfirmedRegistrations > 0 {
		out.AttendanceRate = float64(out.TotalAttendance) / float64(out.ConfirmedRegistrations) * 100
	}
	if len(sessions) > 0 {
		sum := 0.0
		for _, s := range sessions {
			sum += s.RatingAvg
		}
		out.AvgSessionRating = sum / float64(len(sessions))
	}

	if err := a.store.SaveAnalytics(ctx, out); err != nil {
		return nil, fmt.Errorf("recalculate: %w", err)
	}
	a.log.Info().
		Str("event_id", eventID.String()).
		Int("registrations", out.TotalRegistrations).
		Float64("attendance_rate", out.AttendanceRate).
		Msg("analytics recalculated")
	return out, nil
}
