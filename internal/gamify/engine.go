package gamify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventpulse/internal/event"
	"eventpulse/internal/model"
	"eventpulse/internal/repo"
)

// Trigger kinds the badge rule table is keyed by.
const (
	TriggerRegistered      = "registered"
	TriggerSessionAttended = "session_attended"
	TriggerRatingGiven     = "rating_given"
	TriggerLevelReached    = "level_reached"
	TriggerConnectionMade  = "connection_made"
)

const maxLevel = 10

// Engine is the reactive gamification component. It consumes domain events
// from the dispatcher, applies point awards transactionally, and evaluates
// a fixed badge rule table. Badges missing from the catalog are skipped
// silently; the catalog is allowed to be incomplete.
type Engine struct {
	store repo.Store
	log   *zerolog.Logger
}

func NewEngine(store repo.Store, log *zerolog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// AwardPoints credits points and recomputes the level. A LevelUp event is
// produced only when the recompute raises the level; points never decrease
// through this path.
func (g *Engine) AwardPoints(ctx context.Context, participantID uuid.UUID, amount int, reason string) ([]event.Event, error) {
	if amount <= 0 {
		return nil, nil
	}
	p, err := g.store.AddPointsTx(ctx, participantID, amount)
	if err != nil {
		return nil, fmt.Errorf("award points: %w", err)
	}
	g.log.Info().
		Str("participant_id", p.ID.String()).
		Int("amount", amount).
		Str("reason", reason).
		Int("total", p.Points).
		Msg("points awarded")

	newLevel := levelFor(p.Points)
	if newLevel <= p.Level {
		return nil, nil
	}
	if err := g.store.SetLevel(ctx, participantID, newLevel); err != nil {
		return nil, fmt.Errorf("award points: %w", err)
	}
	p.Level = newLevel
	g.log.Info().Str("participant_id", p.ID.String()).Int("level", newLevel).Msg("level up")
	return []event.Event{event.LevelUp{Participant: p, Level: newLevel}}, nil
}

// CheckBadgeRules evaluates the rule table for one trigger occurrence.
// count carries the trigger's running total where the rule depends on it
// (sessions attended, ratings given, connections made, level reached).
func (g *Engine) CheckBadgeRules(ctx context.Context, p *model.Participant, trigger string, count int) ([]event.Event, error) {
	switch trigger {
	case TriggerRegistered:
		return g.award(ctx, p, "Early Bird", "first registration")
	case TriggerSessionAttended:
		switch count {
		case 1:
			return g.award(ctx, p, "First Session", "first session attended")
		case 5:
			return g.award(ctx, p, "Active Attendee", "five sessions attended")
		}
	case TriggerRatingGiven:
		switch count {
		case 1:
			return g.award(ctx, p, "First Reviewer", "first session rating")
		case 5:
			return g.award(ctx, p, "Active Reviewer", "five session ratings")
		}
	case TriggerLevelReached:
		return g.award(ctx, p, fmt.Sprintf("Level %d", count), fmt.Sprintf("reached level %d", count))
	case TriggerConnectionMade:
		switch count {
		case 1:
			return g.award(ctx, p, "First Connection", "first networking connection")
		case 10:
			return g.award(ctx, p, "Super Networker", "ten networking connections")
		}
	}
	return nil, nil
}

func (g *Engine) award(ctx context.Context, p *model.Participant, badgeName, reason string) ([]event.Event, error) {
	b, err := g.store.GetBadgeByName(ctx, badgeName)
	if errors.Is(err, repo.ErrBadgeNotFound) {
		g.log.Debug().Str("badge", badgeName).Msg("badge not in catalog, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("award badge: %w", err)
	}
	created, err := g.store.AwardBadgeTx(ctx, p.ID, b.ID, reason)
	if err != nil {
		return nil, fmt.Errorf("award badge: %w", err)
	}
	if !created {
		return nil, nil
	}
	g.log.Info().
		Str("participant_id", p.ID.String()).
		Str("badge", b.Name).
		Msg("badge awarded")
	return []event.Event{event.BadgeAwarded{Participant: p, Badge: b, Reason: reason}}, nil
}

// HandleEvent wires the engine into the dispatcher.
func (g *Engine) HandleEvent(ctx context.Context, ev event.Event) ([]event.Event, error) {
	switch e := ev.(type) {
	case event.PointsAwarded:
		return g.AwardPoints(ctx, e.Participant.ID, e.Amount, e.Reason)
	case event.ParticipantChanged:
		switch e.Action {
		case event.ActionRegistered:
			return g.CheckBadgeRules(ctx, e.Participant, TriggerRegistered, 1)
		case event.ActionSessionJoined:
			count, err := g.store.CountSessionsAttended(ctx, e.Participant.ID)
			if err != nil {
				return nil, fmt.Errorf("badge rules: %w", err)
			}
			return g.CheckBadgeRules(ctx, e.Participant, TriggerSessionAttended, count)
		}
	case event.RatingAdded:
		return g.CheckBadgeRules(ctx, e.Participant, TriggerRatingGiven, e.Count)
	case event.ConnectionMade:
		return g.CheckBadgeRules(ctx, e.Participant, TriggerConnectionMade, e.Count)
	case event.LevelUp:
		return g.CheckBadgeRules(ctx, e.Participant, TriggerLevelReached, e.Level)
	}
	return nil, nil
}

func levelFor(points int) int {
	level := points/100 + 1
	if level < 1 {
		return 1
	}
	if level > maxLevel {
		return maxLevel
	}
	return level
}
