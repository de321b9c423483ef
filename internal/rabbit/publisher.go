package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"eventpulse/internal/dto"
	"eventpulse/internal/event"
	"eventpulse/internal/model"
)

// EngagementPublisher turns committed domain events into pipeline messages:
// analytics refresh requests whenever an event's derived counts moved, and
// email notifications for registrations and level-ups. It runs last in the
// dispatcher chain and never produces follow-up events.
type EngagementPublisher struct {
	queue Queue
	log   *zerolog.Logger
}

func NewEngagementPublisher(queue Queue, log *zerolog.Logger) *EngagementPublisher {
	return &EngagementPublisher{queue: queue, log: log}
}

func (p *EngagementPublisher) HandleEvent(_ context.Context, ev event.Event) ([]event.Event, error) {
	switch e := ev.(type) {
	case event.ParticipantChanged:
		if e.Action == event.ActionRegistered && e.Participant.Email != "" {
			template := dto.MailRegistrationConfirmed
			if e.Participant.RegistrationStatus == model.RegistrationPending {
				template = dto.MailRegistrationPending
			}
			if err := p.publish(dto.EngagementMessage{
				Kind:          dto.PipelineNotifyEmail,
				EventID:       e.Participant.EventID,
				ParticipantID: e.Participant.ID,
				Email:         e.Participant.Email,
				Template:      template,
			}, 0); err != nil {
				return nil, err
			}
		}
		return nil, p.publish(dto.EngagementMessage{
			Kind:    dto.PipelineAnalyticsRefresh,
			EventID: e.Participant.EventID,
		}, 0)
	case event.SessionChanged:
		return nil, p.publish(dto.EngagementMessage{
			Kind:    dto.PipelineAnalyticsRefresh,
			EventID: e.Session.EventID,
		}, 0)
	case event.LevelUp:
		if e.Participant.Email == "" {
			return nil, nil
		}
		return nil, p.publish(dto.EngagementMessage{
			Kind:          dto.PipelineNotifyEmail,
			EventID:       e.Participant.EventID,
			ParticipantID: e.Participant.ID,
			Email:         e.Participant.Email,
			Template:      dto.MailLevelUp,
			Level:         e.Level,
		}, 0)
	}
	return nil, nil
}

// PublishSweep schedules a maintenance sweep after the given delay. The
// cutoff is carried in the message so the worker archives against the
// moment the sweep was scheduled, not the moment it ran.
func (p *EngagementPublisher) PublishSweep(cutoff time.Time, delaySeconds int) error {
	return p.publish(dto.EngagementMessage{Kind: dto.PipelineMaintenanceSweep, Cutoff: cutoff}, delaySeconds)
}

func (p *EngagementPublisher) publish(msg dto.EngagementMessage, delaySeconds int) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal pipeline message: %w", err)
	}
	if err := p.queue.Publish(payload, delaySeconds); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Kind, err)
	}
	p.log.Debug().Str("kind", msg.Kind).Msg("pipeline message published")
	return nil
}
