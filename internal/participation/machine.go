package participation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventpulse/internal/event"
	"eventpulse/internal/model"
	"eventpulse/internal/repo"
)

var (
	ErrRegistrationClosed = errors.New("registration is closed")
	ErrSessionNotInEvent  = errors.New("session does not belong to participant's event")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
)

// Machine owns every registration and attendance transition. Each mutating
// operation commits through a single store transaction and returns the domain
// events the commit produced; the caller hands them to the dispatcher.
type Machine struct {
	store repo.Store
	clock func() time.Time
	log   *zerolog.Logger
}

func NewMachine(store repo.Store, log *zerolog.Logger) *Machine {
	return &Machine{store: store, clock: time.Now, log: log}
}

// Register creates the participant row for (user, event). The registration
// lands pending when the event requires approval, confirmed otherwise; the
// capacity check and the insert run as one transaction in the store.
func (m *Machine) Register(ctx context.Context, userID, eventID uuid.UUID, role model.Role, email string) (*model.Participant, []event.Event, error) {
	e, err := m.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, fmt.Errorf("register: %w", err)
	}
	now := m.clock()
	if !e.RegistrationOpen(now) {
		return nil, nil, ErrRegistrationClosed
	}

	status := model.RegistrationConfirmed
	if e.ApprovalRequired {
		status = model.RegistrationPending
	}
	if role == "" {
		role = model.RoleAttendee
	}
	p := &model.Participant{
		ID:                 uuid.New(),
		UserID:             userID,
		EventID:            eventID,
		Role:               role,
		RegistrationStatus: status,
		AttendanceStatus:   model.AttendanceNotAttended,
		TicketCode:         ticketCode(e.Slug),
		Email:              email,
		Level:              1,
	}
	if err := m.store.RegisterTx(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("register: %w", err)
	}
	m.log.Info().
		Str("participant_id", p.ID.String()).
		Str("event_id", eventID.String()).
		Str("status", string(p.RegistrationStatus)).
		Msg("participant registered")

	events := []event.Event{event.ParticipantChanged{Participant: p, Action: event.ActionRegistered}}
	if updated, err := m.store.GetEvent(ctx, eventID); err == nil {
		events = append(events, event.EventChanged{Event: updated})
	}
	return p, events, nil
}

// Cancel moves a registration to cancelled. The confirmed-count decrement
// happens in the store transaction only when the prior status was confirmed.
func (m *Machine) Cancel(ctx context.Context, participantID uuid.UUID) (*model.Participant, []event.Event, error) {
	p, err := m.store.CancelTx(ctx, participantID)
	if err != nil {
		return nil, nil, fmt.Errorf("cancel: %w", err)
	}
	m.log.Info().Str("participant_id", p.ID.String()).Msg("registration cancelled")

	events := []event.Event{event.ParticipantChanged{Participant: p, Action: event.ActionCancelled}}
	if updated, err := m.store.GetEvent(ctx, p.EventID); err == nil {
		events = append(events, event.EventChanged{Event: updated})
	}
	return p, events, nil
}

// CheckIn marks arrival. Calling it on an already checked-in participant is
// a no-op that returns current state and produces no events.
func (m *Machine) CheckIn(ctx context.Context, participantID uuid.UUID) (*model.Participant, []event.Event, error) {
	p, changed, err := m.store.CheckInTx(ctx, participantID, m.clock())
	if err != nil {
		return nil, nil, fmt.Errorf("check-in: %w", err)
	}
	if !changed {
		return p, nil, nil
	}
	m.log.Info().Str("participant_id", p.ID.String()).Msg("participant checked in")

	events := []event.Event{
		event.PointsAwarded{Participant: p, Amount: 10, Reason: "check-in"},
		event.ParticipantChanged{Participant: p, Action: event.ActionCheckedIn},
	}
	if updated, err := m.store.GetEvent(ctx, p.EventID); err == nil {
		events = append(events, event.EventChanged{Event: updated})
	}
	return p, events, nil
}

// CheckInByTicket resolves a participant by ticket code and checks them in.
func (m *Machine) CheckInByTicket(ctx context.Context, code string) (*model.Participant, []event.Event, error) {
	p, err := m.store.GetParticipantByTicket(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("check-in by ticket: %w", err)
	}
	return m.CheckIn(ctx, p.ID)
}

// CheckOut records departure; a checked-in participant becomes attended.
func (m *Machine) CheckOut(ctx context.Context, participantID uuid.UUID) (*model.Participant, []event.Event, error) {
	p, err := m.store.CheckOutTx(ctx, participantID, m.clock())
	if err != nil {
		return nil, nil, fmt.Errorf("check-out: %w", err)
	}
	m.log.Info().Str("participant_id", p.ID.String()).Msg("participant checked out")
	return p, []event.Event{event.ParticipantChanged{Participant: p, Action: event.ActionCheckedOut}}, nil
}

// MarkSessionAttended adds the session to the participant's attended set.
// Re-adding is a no-op and produces no events; the attendee counter moves
// only on first addition.
func (m *Machine) MarkSessionAttended(ctx context.Context, participantID, sessionID uuid.UUID) (*model.Participant, []event.Event, error) {
	p, err := m.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, nil, fmt.Errorf("attend session: %w", err)
	}
	if p.RegistrationStatus != model.RegistrationConfirmed {
		return nil, nil, repo.ErrNotConfirmed
	}
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("attend session: %w", err)
	}
	if s.EventID != p.EventID {
		return nil, nil, ErrSessionNotInEvent
	}

	first, err := m.store.AttendSessionTx(ctx, participantID, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("attend session: %w", err)
	}
	if !first {
		return p, nil, nil
	}
	m.log.Info().
		Str("participant_id", p.ID.String()).
		Str("session_id", sessionID.String()).
		Msg("session attendance recorded")

	events := []event.Event{
		event.PointsAwarded{Participant: p, Amount: 5, Reason: "session attendance"},
		event.ParticipantChanged{Participant: p, Action: event.ActionSessionJoined},
	}
	if updated, err := m.store.GetSession(ctx, sessionID); err == nil {
		events = append(events, event.SessionChanged{Session: updated})
	}
	return p, events, nil
}

// RateSession records a 1..5 rating. One rating per (participant, session);
// re-rating replaces the previous value and moves the average without
// awarding points again.
func (m *Machine) RateSession(ctx context.Context, participantID, sessionID uuid.UUID, rating int, review string) (*model.Session, []event.Event, error) {
	if rating < 1 || rating > 5 {
		return nil, nil, ErrInvalidRating
	}
	p, err := m.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, nil, fmt.Errorf("rate session: %w", err)
	}
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("rate session: %w", err)
	}
	if s.EventID != p.EventID {
		return nil, nil, ErrSessionNotInEvent
	}

	created, updated, err := m.store.RateSessionTx(ctx, &model.SessionRating{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Rating:        rating,
		Review:        review,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("rate session: %w", err)
	}
	m.log.Info().
		Str("participant_id", p.ID.String()).
		Str("session_id", sessionID.String()).
		Int("rating", rating).
		Msg("session rated")

	if !created {
		return updated, []event.Event{event.SessionChanged{Session: updated}}, nil
	}
	count, err := m.store.CountRatingsByParticipant(ctx, participantID)
	if err != nil {
		return nil, nil, fmt.Errorf("rate session: %w", err)
	}
	events := []event.Event{
		event.PointsAwarded{Participant: p, Amount: 2, Reason: "session rating"},
		event.RatingAdded{Participant: p, Session: updated, Rating: rating, Count: count},
		event.SessionChanged{Session: updated},
	}
	return updated, events, nil
}

// MarkNoShows runs the post-event terminal pass: checked-in participants
// become attended, confirmed never-checked-in become no_show.
func (m *Machine) MarkNoShows(ctx context.Context, eventID uuid.UUID) (attended, noShows int, err error) {
	attended, noShows, err = m.store.MarkNoShowsTx(ctx, eventID)
	if err != nil {
		return 0, 0, fmt.Errorf("mark no-shows: %w", err)
	}
	m.log.Info().
		Str("event_id", eventID.String()).
		Int("attended", attended).
		Int("no_shows", noShows).
		Msg("terminal attendance pass finished")
	return attended, noShows, nil
}

// ArchiveStale moves non-terminal registrations of events that ended before
// the cutoff to archived. Rows are never deleted.
func (m *Machine) ArchiveStale(ctx context.Context, cutoff time.Time) (int, error) {
	archived, err := m.store.ArchiveStaleTx(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive stale: %w", err)
	}
	if archived > 0 {
		m.log.Info().Int("archived", archived).Time("cutoff", cutoff).Msg("stale registrations archived")
	}
	return archived, nil
}

func ticketCode(slug string) string {
	return fmt.Sprintf("%s-%s", slug, uuid.NewString()[:8])
}
