package event

import (
	"context"

	"github.com/rs/zerolog"
)

// Consumer reacts to one domain event and may emit follow-up events (a
// points award producing a level-up, a level-up producing a badge).
type Consumer interface {
	HandleEvent(ctx context.Context, ev Event) ([]Event, error)
}

// Dispatcher delivers domain events to its consumers in registration
// order. Follow-up events are queued and delivered after the events of the
// current wave, so a transition's own events always reach every consumer
// before anything they caused.
//
// A consumer error is logged and skipped: a failed badge check or a broken
// pipeline publish must never abort the broadcast of a committed mutation.
type Dispatcher struct {
	consumers []Consumer
	log       *zerolog.Logger
}

func NewDispatcher(log *zerolog.Logger, consumers ...Consumer) *Dispatcher {
	return &Dispatcher{consumers: consumers, log: log}
}

// Dispatch fans the given events (and any follow-ups) out to all
// consumers. It never returns an error; failures are logged per consumer.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) {
	queue := append([]Event(nil), events...)
	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]
		for _, c := range d.consumers {
			followups, err := c.HandleEvent(ctx, ev)
			if err != nil {
				d.log.Error().Err(err).Str("event", ev.Kind()).Msg("event consumer failed")
				continue
			}
			queue = append(queue, followups...)
		}
	}
}
