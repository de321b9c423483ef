package participation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventpulse/internal/event"
	"eventpulse/internal/model"
	"eventpulse/internal/repo"
)

func newMachine(t *testing.T) (*Machine, *repo.MemStore) {
	t.Helper()
	store := repo.NewMemStore()
	log := zerolog.Nop()
	return NewMachine(store, &log), store
}

func createEvent(t *testing.T, store *repo.MemStore, mutate func(*model.Event)) *model.Event {
	t.Helper()
	e := &model.Event{
		ID:         uuid.New(),
		Name:       "DevDays",
		Slug:       "devdays",
		Status:     model.EventPublished,
		Visibility: model.VisibilityPublic,
		StartTime:  time.Now().Add(time.Hour),
		EndTime:    time.Now().Add(9 * time.Hour),
	}
	if mutate != nil {
		mutate(e)
	}
	if err := store.CreateEvent(context.Background(), e); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return e
}

func createSession(t *testing.T, store *repo.MemStore, eventID uuid.UUID) *model.Session {
	t.Helper()
	s := &model.Session{ID: uuid.New(), EventID: eventID, Title: "Profiling Go services"}
	if err := store.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func kinds(events []event.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

func TestRegisterConfirmedByDefault(t *testing.T) {
	m, store := newMachine(t)
	e := createEvent(t, store, nil)

	p, events, err := m.Register(context.Background(), uuid.New(), e.ID, "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.RegistrationStatus != model.RegistrationConfirmed {
		t.Fatalf("status = %q, want confirmed", p.RegistrationStatus)
	}
	if p.Role != model.RoleAttendee {
		t.Fatalf("role = %q, want attendee", p.Role)
	}
	if !strings.HasPrefix(p.TicketCode, "devdays-") || len(p.TicketCode) != len("devdays-")+8 {
		t.Fatalf("ticket code %q not in <slug>-<8 hex> form", p.TicketCode)
	}
	got := kinds(events)
	if len(got) != 2 || got[0] != "participant_changed" || got[1] != "event_changed" {
		t.Fatalf("events = %v, want [participant_changed event_changed]", got)
	}
}

func TestRegisterPendingWhenApprovalRequired(t *testing.T) {
	m, store := newMachine(t)
	e := createEvent(t, store, func(e *model.Event) { e.ApprovalRequired = true })

	p, _, err := m.Register(context.Background(), uuid.New(), e.ID, model.RoleSpeaker, "speaker@example.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.RegistrationStatus != model.RegistrationPending {
		t.Fatalf("status = %q, want pending", p.RegistrationStatus)
	}
	got, err := store.GetEvent(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.RegistrationCount != 0 {
		t.Fatalf("registration_count = %d, want 0 for pending", got.RegistrationCount)
	}
}

func TestRegisterClosedWindow(t *testing.T) {
	m, store := newMachine(t)
	past := time.Now().Add(-time.Hour)
	e := createEvent(t, store, func(e *model.Event) { e.RegistrationEnd = &past })

	if _, _, err := m.Register(context.Background(), uuid.New(), e.ID, "", ""); !errors.Is(err, ErrRegistrationClosed) {
		t.Fatalf("got %v, want ErrRegistrationClosed", err)
	}

	draft := createEvent(t, store, func(e *model.Event) { e.Status = model.EventDraft })
	if _, _, err := m.Register(context.Background(), uuid.New(), draft.ID, "", ""); !errors.Is(err, ErrRegistrationClosed) {
		t.Fatalf("draft event: got %v, want ErrRegistrationClosed", err)
	}
}

func TestCancelDecrementsOnlyConfirmed(t *testing.T) {
	m, store := newMachine(t)
	e := createEvent(t, store, nil)
	p, _, err := m.Register(context.Background(), uuid.New(), e.ID, "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cancelled, events, err := m.Cancel(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.RegistrationStatus != model.RegistrationCancelled {
		t.Fatalf("status = %q, want cancelled", cancelled.RegistrationStatus)
	}
	if len(events) == 0 {
		t.Fatalf("cancel produced no events")
	}
	got, err := store.GetEvent(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.RegistrationCount != 0 {
		t.Fatalf("registration_count = %d, want 0 after cancel", got.RegistrationCount)
	}

	if _, _, err := m.Cancel(context.Background(), p.ID); !errors.Is(err, repo.ErrInvalidTransition) {
		t.Fatalf("double cancel: got %v, want ErrInvalidTransition", err)
	}
}

func TestCheckInAwardsOncePerTransition(t *testing.T) {
	m, store := newMachine(t)
	e := createEvent(t, store, nil)
	p, _, err := m.Register(context.Background(), uuid.New(), e.ID, "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, events, err := m.CheckIn(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	got := kinds(events)
	if len(got) != 3 || got[0] != "points_awarded" || got[1] != "participant_changed" || got[2] != "event_changed" {
		t.Fatalf("events = %v, want [points_awarded participant_changed event_changed]", got)
	}
	award := events[0].(event.PointsAwarded)
	if award.Amount != 10 || award.Reason != "check-in" {
		t.Fatalf("award = %+v, want 10 points for check-in", award)
	}

	again, events, err := m.CheckIn(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("repeat check-in: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("repeat check-in produced events: %v", kinds(events))
	}
	if again.AttendanceStatus != model.AttendanceCheckedIn {
		t.Fatalf("status = %q, want checked_in", again.AttendanceStatus)
	}
}

func TestCheckInByTicket(t *testing.T) {
	m, store := newMachine(t)
	e := createEvent(t, store, nil)
	p, _, err := m.Register(context.Background(), uuid.New(), e.ID, "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	checked, events, err := m.CheckInByTicket(context.Background(), p.TicketCode)
	if err != nil {
		t.Fatalf("check-in by ticket: %v", err)
	}
	if checked.ID != p.ID {
		t.Fatalf("resolved participant %s, want %s", checked.ID, p.ID)
	}
	if len(events) == 0 {
		t.Fatalf("ticket check-in produced no events")
	}

	if _, _, err := m.CheckInByTicket(context.Background(), "devdays-ffffffff"); !errors.Is(err, repo.ErrParticipantNotFound) {
		t.Fatalf("unknown ticket: got %v, want ErrParticipantNotFound", err)
	}
}

func TestCheckOutMarksAttended(t *testing.T) {
	m, store := newMachine(t)
	e := createEvent(t, store, nil)
	p, _, err := m.Register(context.Background(), uuid.New(), e.ID, "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := m.CheckIn(context.Background(), p.ID); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	out, _, err := m.CheckOut(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("check-out: %v", err)
	}
	if out.AttendanceStatus != model.AttendanceAttended {
		t.Fatalf("status = %q, want attended", out.AttendanceStatus)
	}
	if out.CheckOutTime == nil {
		t.Fatalf("check_out_time not set")
	}
}

func TestMarkSessionAttended(t *testing.T) {
	m, store := newMachine(t)
	e := createEvent(t, store, nil)
	s := createSession(t, store, e.ID)
	p, _, err := m.Register(context.Background(), uuid.New(), e.ID, "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, events, err := m.MarkSessionAttended(context.Background(), p.ID, s.ID)
	if err != nil {
		t.Fatalf("attend: %v", err)
	}
	got := kinds(events)
	if len(got) != 3 || got[0] != "points_awarded" || got[2] != "session_changed" {
		t.Fatalf("events = %v, want points first and session_changed last", got)
	}

	_, events, err = m.MarkSessionAttended(context.Background(), p.ID, s.ID)
	if err != nil {
		t.Fatalf("re-attend: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("re-attend produced events: %v", kinds(events))
	}

	other := createEvent(t, store, func(e *model.Event) { e.Slug = "other" })
	foreign := createSession(t, store, other.ID)
	if _, _, err := m.MarkSessionAttended(context.Background(), p.ID, foreign.ID); !errors.Is(err, ErrSessionNotInEvent) {
		t.Fatalf("foreign session: got %v, want ErrSessionNotInEvent", err)
	}
}

func TestMarkSessionAttendedRequiresConfirmed(t *testing.T) {
	m, store := newMachine(t)
	e := createEvent(t, store, func(e *model.Event) { e.ApprovalRequired = true })
	s := createSession(t, store, e.ID)
	p, _, err := m.Register(context.Background(), uuid.New(), e.ID, "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := m.MarkSessionAttended(context.Background(), p.ID, s.ID); !errors.Is(err, repo.ErrNotConfirmed) {
		t.Fatalf("pending attend: got %v, want ErrNotConfirmed", err)
	}
}

func TestRateSessionReplaceDoesNotReaward(t *testing.T) {
	m, store := newMachine(t)
	e := createEvent(t, store, nil)
	s := createSession(t, store, e.ID)
	p, _, err := m.Register(context.Background(), uuid.New(), e.ID, "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := m.RateSession(context.Background(), p.ID, s.ID, 0, ""); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("rating 0: got %v, want ErrInvalidRating", err)
	}

	_, events, err := m.RateSession(context.Background(), p.ID, s.ID, 4, "solid talk")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	got := kinds(events)
	if len(got) != 3 || got[0] != "points_awarded" || got[1] != "rating_added" {
		t.Fatalf("events = %v, want [points_awarded rating_added session_changed]", got)
	}

	updated, events, err := m.RateSession(context.Background(), p.ID, s.ID, 2, "")
	if err != nil {
		t.Fatalf("re-rate: %v", err)
	}
	got = kinds(events)
	if len(got) != 1 || got[0] != "session_changed" {
		t.Fatalf("re-rate events = %v, want [session_changed]", got)
	}
	if updated.RatingAvg != 2 || updated.RatingCount != 1 {
		t.Fatalf("avg=%v count=%d, want 2 and 1", updated.RatingAvg, updated.RatingCount)
	}
}

func TestArchiveStale(t *testing.T) {
	m, store := newMachine(t)
	e := createEvent(t, store, func(e *model.Event) {
		e.StartTime = time.Now().Add(-48 * time.Hour)
		e.EndTime = time.Now().Add(-40 * time.Hour)
		start := time.Now().Add(-72 * time.Hour)
		e.RegistrationStart = &start
	})
	p, _, err := m.Register(context.Background(), uuid.New(), e.ID, "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	archived, err := m.ArchiveStale(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want 1", archived)
	}
	got, err := store.GetParticipant(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if got.RegistrationStatus != model.RegistrationArchived {
		t.Fatalf("status = %q, want archived", got.RegistrationStatus)
	}
}
