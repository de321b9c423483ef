package model

import (
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Tech Summit 2026", "tech-summit-2026"},
		{"  GopherCon!!  EU  ", "gophercon-eu"},
		{"already-slugged", "already-slugged"},
		{"---", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := Slugify(c.in); got != c.want {
			t.Errorf("Slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRegistrationOpen(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	cases := []struct {
		name  string
		event Event
		want  bool
	}{
		{"published no window", Event{Status: EventPublished}, true},
		{"live no window", Event{Status: EventLive}, true},
		{"draft", Event{Status: EventDraft}, false},
		{"completed", Event{Status: EventCompleted}, false},
		{"window open", Event{Status: EventPublished, RegistrationStart: &before, RegistrationEnd: &after}, true},
		{"window not started", Event{Status: EventPublished, RegistrationStart: &after}, false},
		{"window closed", Event{Status: EventPublished, RegistrationEnd: &before}, false},
	}
	for _, c := range cases {
		if got := c.event.RegistrationOpen(now); got != c.want {
			t.Errorf("%s: RegistrationOpen = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestIsLive(t *testing.T) {
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)
	e := Event{Status: EventLive, StartTime: start, EndTime: end}

	if !e.IsLive(start.Add(time.Hour)) {
		t.Fatal("expected live inside the window")
	}
	if e.IsLive(start.Add(-time.Minute)) {
		t.Fatal("expected not live before start")
	}
	if e.IsLive(end.Add(time.Minute)) {
		t.Fatal("expected not live after end")
	}
	e.Status = EventPublished
	if e.IsLive(start.Add(time.Hour)) {
		t.Fatal("expected not live when status is not live")
	}
}
