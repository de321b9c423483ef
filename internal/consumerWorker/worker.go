package consumerWorker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wb-go/wbf/zlog"

	"eventpulse/internal/analytics"
	"eventpulse/internal/dto"
	"eventpulse/internal/mailer"
	"eventpulse/internal/model"
	"eventpulse/internal/participation"
	"eventpulse/internal/rabbit"
	"eventpulse/internal/repo"
)

// Reader drains the engagement pipeline: analytics refreshes, email
// notifications and maintenance sweeps. Processing errors are returned to
// the client so the message gets nacked and redelivered.
type Reader struct {
	RMQ       *rabbit.Client
	store     repo.Store
	agg       *analytics.Aggregator
	machine   *participation.Machine
	mail      mailer.Config
	retention time.Duration
	done      chan struct{}
	cancel    context.CancelFunc
}

func NewReader(rmq *rabbit.Client, store repo.Store, agg *analytics.Aggregator, machine *participation.Machine, mail mailer.Config, retention time.Duration) *Reader {
	return &Reader{
		RMQ:       rmq,
		store:     store,
		agg:       agg,
		machine:   machine,
		mail:      mail,
		retention: retention,
		done:      make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("engagement pipeline reader started")

	go func() {
		defer close(r.done)

		if err := r.RMQ.Consume(func(body []byte) error {
			return r.handle(cctx, body)
		}); err != nil {
			zlog.Logger.Error().Err(err).Msg("Failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("engagement pipeline reader stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Reader) handle(ctx context.Context, body []byte) error {
	var msg dto.EngagementMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		zlog.Logger.Error().Err(err).Msgf("Failed to unmarshal message: %s", string(body))
		// Not retryable, drop it.
		return nil
	}

	zlog.Logger.Info().Str("kind", msg.Kind).Msg("received pipeline message")

	switch msg.Kind {
	case dto.PipelineAnalyticsRefresh:
		if _, err := r.agg.Recalculate(ctx, msg.EventID); err != nil {
			zlog.Logger.Error().Err(err).Str("event_id", msg.EventID.String()).Msg("analytics refresh failed")
			return err
		}
		return nil

	case dto.PipelineNotifyEmail:
		e, err := r.store.GetEvent(ctx, msg.EventID)
		if err != nil {
			zlog.Logger.Error().Err(err).Str("event_id", msg.EventID.String()).Msg("event lookup failed for notification")
			return nil
		}
		if err := mailer.SendEngagementEmail(&zlog.Logger, r.mail, e.Name, msg.Template, msg.Email, msg.Level); err != nil {
			zlog.Logger.Warn().Err(err).Msg("failed to send notification email")
		}
		return nil

	case dto.PipelineMaintenanceSweep:
		return r.sweep(ctx, msg.Cutoff)

	default:
		zlog.Logger.Warn().Str("kind", msg.Kind).Msg("unknown pipeline message kind, dropping")
		return nil
	}
}

// sweep runs the time-based maintenance pass: terminal attendance states
// for events whose window closed, then archival of registrations past the
// cutoff. A zero cutoff falls back to the configured retention window,
// covering messages from older publishers.
func (r *Reader) sweep(ctx context.Context, cutoff time.Time) error {
	now := time.Now()
	if cutoff.IsZero() {
		cutoff = now.Add(-r.retention)
	}
	events, err := r.store.ListEvents(ctx)
	if err != nil {
		return err
	}
	for _, e := range events {
		if e.EndTime.After(now) {
			continue
		}
		if _, _, err := r.machine.MarkNoShows(ctx, e.ID); err != nil {
			zlog.Logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("no-show pass failed")
			return err
		}
		switch e.Status {
		case model.EventPublished, model.EventScheduled, model.EventLive:
			if _, err := r.store.SetEventStatus(ctx, e.ID, e.Status, model.EventCompleted); err != nil {
				zlog.Logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("event status update failed")
			}
		}
		if _, err := r.agg.Recalculate(ctx, e.ID); err != nil {
			zlog.Logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("post-sweep analytics failed")
		}
	}
	if _, err := r.machine.ArchiveStale(ctx, cutoff); err != nil {
		return err
	}
	return nil
}
