package event

import (
	"eventpulse/internal/model"
)

// Action names carried by ParticipantChanged events.
const (
	ActionRegistered    = "registered"
	ActionCancelled     = "cancelled"
	ActionCheckedIn     = "checked_in"
	ActionCheckedOut    = "checked_out"
	ActionSessionJoined = "session_joined"
	ActionSessionLeft   = "session_left"
)

// Event is a domain event produced by a state-mutating operation. Mutating
// operations return their events instead of triggering side effects
// directly; the Dispatcher feeds them to downstream consumers in a fixed
// order.
type Event interface {
	Kind() string
}

// PointsAwarded instructs the gamification engine to credit points. It is
// emitted by the participation state machine and consumed exactly once per
// genuine transition.
type PointsAwarded struct {
	Participant *model.Participant
	Amount      int
	Reason      string
}

func (PointsAwarded) Kind() string { return "points_awarded" }

// LevelUp is emitted by the gamification engine after a level recompute
// raised the participant's level.
type LevelUp struct {
	Participant *model.Participant
	Level       int
}

func (LevelUp) Kind() string { return "level_up" }

// BadgeAwarded is emitted by the gamification engine when a badge rule
// fires for the first time for a (participant, badge) pair.
type BadgeAwarded struct {
	Participant *model.Participant
	Badge       *model.Badge
	Reason      string
}

func (BadgeAwarded) Kind() string { return "badge_awarded" }

// ParticipantChanged reports a committed transition on a participant.
type ParticipantChanged struct {
	Participant *model.Participant
	Action      string
}

func (ParticipantChanged) Kind() string { return "participant_changed" }

// SessionChanged reports a committed change to a session's derived fields
// (attendee count, rating).
type SessionChanged struct {
	Session *model.Session
}

func (SessionChanged) Kind() string { return "session_changed" }

// EventChanged reports a committed change to an event record.
type EventChanged struct {
	Event *model.Event
}

func (EventChanged) Kind() string { return "event_changed" }

// RatingAdded reports a new session rating by a participant. Count is the
// participant's total distinct rated sessions after the commit.
type RatingAdded struct {
	Participant *model.Participant
	Session     *model.Session
	Rating      int
	Count       int
}

func (RatingAdded) Kind() string { return "rating_added" }

// ConnectionMade reports a newly recorded networking connection. One is
// emitted per side of the pair; Count is that participant's total
// connections after the commit.
type ConnectionMade struct {
	Participant *model.Participant
	Count       int
}

func (ConnectionMade) Kind() string { return "connection_made" }
