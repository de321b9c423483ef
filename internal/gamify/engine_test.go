package gamify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventpulse/internal/event"
	"eventpulse/internal/model"
	"eventpulse/internal/repo"
)

func newEngine(t *testing.T) (*Engine, *repo.MemStore, *model.Participant) {
	t.Helper()
	store := repo.NewMemStore()
	e := &model.Event{
		ID:        uuid.New(),
		Name:      "CloudSummit",
		Slug:      "cloudsummit",
		Status:    model.EventPublished,
		StartTime: time.Now().Add(time.Hour),
		EndTime:   time.Now().Add(6 * time.Hour),
	}
	if err := store.CreateEvent(context.Background(), e); err != nil {
		t.Fatalf("create event: %v", err)
	}
	p := &model.Participant{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		EventID:            e.ID,
		RegistrationStatus: model.RegistrationConfirmed,
		AttendanceStatus:   model.AttendanceNotAttended,
		Level:              1,
	}
	if err := store.RegisterTx(context.Background(), p); err != nil {
		t.Fatalf("register: %v", err)
	}
	log := zerolog.Nop()
	return NewEngine(store, &log), store, p
}

func seedBadge(t *testing.T, store *repo.MemStore, name string) *model.Badge {
	t.Helper()
	b := &model.Badge{ID: uuid.New(), Name: name, Active: true}
	if err := store.CreateBadge(context.Background(), b); err != nil {
		t.Fatalf("create badge: %v", err)
	}
	return b
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		points int
		want   int
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{105, 2},
		{450, 5},
		{900, 10},
		{5000, 10},
	}
	for _, c := range cases {
		if got := levelFor(c.points); got != c.want {
			t.Errorf("levelFor(%d) = %d, want %d", c.points, got, c.want)
		}
	}
}

func TestAwardPointsLevelUpOnce(t *testing.T) {
	g, store, p := newEngine(t)

	events, err := g.AwardPoints(context.Background(), p.ID, 95, "seed")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("95 points produced events: %v", events)
	}

	events, err = g.AwardPoints(context.Background(), p.ID, 10, "check-in")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("crossing 100 produced %d events, want 1 LevelUp", len(events))
	}
	up, ok := events[0].(event.LevelUp)
	if !ok || up.Level != 2 {
		t.Fatalf("event = %+v, want LevelUp to 2", events[0])
	}

	got, err := store.GetParticipant(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if got.Points != 105 || got.Level != 2 {
		t.Fatalf("points=%d level=%d, want 105 and 2", got.Points, got.Level)
	}

	events, err = g.AwardPoints(context.Background(), p.ID, 5, "session attendance")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("same-level award re-emitted LevelUp")
	}
}

func TestAwardPointsIgnoresNonPositive(t *testing.T) {
	g, store, p := newEngine(t)
	if _, err := g.AwardPoints(context.Background(), p.ID, 0, "noop"); err != nil {
		t.Fatalf("zero award: %v", err)
	}
	if _, err := g.AwardPoints(context.Background(), p.ID, -10, "refund"); err != nil {
		t.Fatalf("negative award: %v", err)
	}
	got, err := store.GetParticipant(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if got.Points != 0 {
		t.Fatalf("points = %d, want 0", got.Points)
	}
}

func TestBadgeIdempotent(t *testing.T) {
	g, store, p := newEngine(t)
	seedBadge(t, store, "Early Bird")

	events, err := g.CheckBadgeRules(context.Background(), p, TriggerRegistered, 1)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("first trigger produced %d events, want 1", len(events))
	}
	if b := events[0].(event.BadgeAwarded); b.Badge.Name != "Early Bird" {
		t.Fatalf("badge = %q, want Early Bird", b.Badge.Name)
	}

	events, err = g.CheckBadgeRules(context.Background(), p, TriggerRegistered, 1)
	if err != nil {
		t.Fatalf("repeat rules: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("repeat trigger re-awarded badge")
	}

	badges, err := store.ListParticipantBadges(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("list badges: %v", err)
	}
	if len(badges) != 1 {
		t.Fatalf("badge rows = %d, want 1", len(badges))
	}
}

func TestMissingBadgeSkippedSilently(t *testing.T) {
	g, _, p := newEngine(t)

	events, err := g.CheckBadgeRules(context.Background(), p, TriggerRegistered, 1)
	if err != nil {
		t.Fatalf("missing badge treated as error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("missing badge produced events: %v", events)
	}
}

func TestRuleTableThresholds(t *testing.T) {
	g, store, p := newEngine(t)
	seedBadge(t, store, "Active Attendee")
	seedBadge(t, store, "Super Networker")

	for count := 1; count <= 4; count++ {
		events, err := g.CheckBadgeRules(context.Background(), p, TriggerSessionAttended, count)
		if err != nil {
			t.Fatalf("rules at %d: %v", count, err)
		}
		if len(events) != 0 {
			t.Fatalf("count %d awarded prematurely", count)
		}
	}
	events, err := g.CheckBadgeRules(context.Background(), p, TriggerSessionAttended, 5)
	if err != nil {
		t.Fatalf("rules at 5: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("fifth session produced %d events, want 1", len(events))
	}

	events, err = g.CheckBadgeRules(context.Background(), p, TriggerConnectionMade, 10)
	if err != nil {
		t.Fatalf("connection rules: %v", err)
	}
	if len(events) != 1 || events[0].(event.BadgeAwarded).Badge.Name != "Super Networker" {
		t.Fatalf("tenth connection events = %v, want Super Networker", events)
	}
}

func TestHandleEventConnectionBadge(t *testing.T) {
	g, store, p := newEngine(t)
	seedBadge(t, store, "First Connection")

	events, err := g.HandleEvent(context.Background(), event.ConnectionMade{Participant: p, Count: 1})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(events) != 1 || events[0].(event.BadgeAwarded).Badge.Name != "First Connection" {
		t.Fatalf("events = %v, want First Connection badge", events)
	}

	events, err = g.HandleEvent(context.Background(), event.ConnectionMade{Participant: p, Count: 2})
	if err != nil {
		t.Fatalf("handle second connection: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("second connection produced events: %v", events)
	}
}

func TestHandleEventLevelBadge(t *testing.T) {
	g, store, p := newEngine(t)
	seedBadge(t, store, "Level 2")

	events, err := g.HandleEvent(context.Background(), event.PointsAwarded{Participant: p, Amount: 150, Reason: "seed"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %v, want one LevelUp", events)
	}

	events, err = g.HandleEvent(context.Background(), events[0])
	if err != nil {
		t.Fatalf("handle level up: %v", err)
	}
	if len(events) != 1 || events[0].(event.BadgeAwarded).Badge.Name != "Level 2" {
		t.Fatalf("events = %v, want Level 2 badge", events)
	}
}
