package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"eventpulse/internal/analytics"
	"eventpulse/internal/dto"
	"eventpulse/internal/event"
	"eventpulse/internal/hub"
	"eventpulse/internal/model"
	"eventpulse/internal/participation"
	"eventpulse/internal/repo"
	"eventpulse/pkg/validator"
)

type Service interface {
	CreateEvent(ctx *ginext.Context)
	GetAllEvents(ctx *ginext.Context)
	GetInfo(ctx *ginext.Context)
	CreateSession(ctx *ginext.Context)
	Register(ctx *ginext.Context)
	Cancel(ctx *ginext.Context)
	CheckIn(ctx *ginext.Context)
	CheckInByTicket(ctx *ginext.Context)
	CheckOut(ctx *ginext.Context)
	RateSession(ctx *ginext.Context)
	GetAnalytics(ctx *ginext.Context)
	WSEvent(ctx *ginext.Context)
	WSSession(ctx *ginext.Context)
	WSNetworking(ctx *ginext.Context)
}

type service struct {
	store      repo.Store
	machine    *participation.Machine
	agg        *analytics.Aggregator
	hub        *hub.Hub
	dispatcher *event.Dispatcher
	log        *zerolog.Logger
}

func NewService(store repo.Store, machine *participation.Machine, agg *analytics.Aggregator, h *hub.Hub, d *event.Dispatcher, logger *zerolog.Logger) Service {
	return &service{
		store:      store,
		machine:    machine,
		agg:        agg,
		hub:        h,
		dispatcher: d,
		log:        logger,
	}
}

// callerID extracts the user identity supplied by the gateway, either the
// X-User-ID header or the user_id query parameter.
func callerID(ctx *ginext.Context) (uuid.UUID, bool) {
	raw := ctx.GetHeader("X-User-ID")
	if raw == "" {
		raw = ctx.Query("user_id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func pathID(ctx *ginext.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (s *service) CreateEvent(ctx *ginext.Context) {
	userID, ok := callerID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.Unauthorized, "Missing or invalid X-User-ID")
		return
	}

	var req dto.CreateEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse create event request")
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}
	if !req.EndTime.After(req.StartTime) {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "end_time must be after start_time")
		return
	}

	visibility := model.Visibility(req.Visibility)
	switch visibility {
	case model.VisibilityPublic, model.VisibilityPrivate, model.VisibilityInviteOnly, model.VisibilityMembersOnly:
	case "":
		visibility = model.VisibilityPublic
	default:
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Unknown visibility")
		return
	}

	e := &model.Event{
		ID:                uuid.New(),
		Name:              req.Name,
		Slug:              model.Slugify(req.Name),
		Status:            model.EventPublished,
		Visibility:        visibility,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		RegistrationStart: req.RegistrationStart,
		RegistrationEnd:   req.RegistrationEnd,
		Capacity:          req.Capacity,
		ApprovalRequired:  req.ApprovalRequired,
		WaitlistEnabled:   req.WaitlistEnabled,
		OrganizerID:       userID,
	}
	if err := s.store.CreateEvent(ctx.Request.Context(), e); err != nil {
		s.log.Error().Err(err).Msg("failed to create event in DB")
		dto.InternalServerError(ctx)
		return
	}

	organizer := &model.Participant{
		ID:                 uuid.New(),
		UserID:             userID,
		EventID:            e.ID,
		Role:               model.RoleOrganizer,
		RegistrationStatus: model.RegistrationConfirmed,
		AttendanceStatus:   model.AttendanceNotAttended,
		Level:              1,
	}
	if err := s.store.RegisterTx(ctx.Request.Context(), organizer); err != nil {
		s.log.Error().Err(err).Msg("failed to create organizer participant")
		dto.InternalServerError(ctx)
		return
	}
	if _, err := s.agg.Recalculate(ctx.Request.Context(), e.ID); err != nil {
		s.log.Error().Err(err).Msg("failed to seed analytics row")
	}

	s.log.Info().Str("event_id", e.ID.String()).Msg("event created successfully")
	dto.SuccessCreatedResponse(ctx, e)
}

func (s *service) GetAllEvents(ctx *ginext.Context) {
	events, err := s.store.ListEvents(ctx.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list events")
		dto.InternalServerError(ctx)
		return
	}
	dto.SuccessResponse(ctx, events)
}

func (s *service) GetInfo(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid event ID")
		return
	}
	e, err := s.store.GetEvent(ctx.Request.Context(), eventID)
	if err != nil {
		if errors.Is(err, repo.ErrEventNotFound) {
			dto.EventNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to get event")
		dto.InternalServerError(ctx)
		return
	}
	sessions, err := s.store.ListSessions(ctx.Request.Context(), eventID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list sessions")
		dto.InternalServerError(ctx)
		return
	}
	dto.SuccessResponse(ctx, dto.EventInfoResponse{
		Event:    e,
		Sessions: sessions,
		IsLive:   e.IsLive(time.Now()),
	})
}

func (s *service) CreateSession(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid event ID")
		return
	}
	var req dto.CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}
	if _, err := s.store.GetEvent(ctx.Request.Context(), eventID); err != nil {
		if errors.Is(err, repo.ErrEventNotFound) {
			dto.EventNotFoundError(ctx)
			return
		}
		dto.InternalServerError(ctx)
		return
	}

	sess := &model.Session{
		ID:        uuid.New(),
		EventID:   eventID,
		Title:     req.Title,
		Status:    model.SessionScheduled,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	if err := s.store.CreateSession(ctx.Request.Context(), sess); err != nil {
		s.log.Error().Err(err).Msg("failed to create session in DB")
		dto.InternalServerError(ctx)
		return
	}
	s.log.Info().Str("session_id", sess.ID.String()).Msg("session created successfully")
	dto.SuccessCreatedResponse(ctx, sess)
}

func (s *service) Register(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid event ID")
		return
	}
	userID, ok := callerID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.Unauthorized, "Missing or invalid X-User-ID")
		return
	}
	var req dto.RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	p, events, err := s.machine.Register(ctx.Request.Context(), userID, eventID, model.Role(req.Role), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrEventNotFound):
			dto.EventNotFoundError(ctx)
		case errors.Is(err, repo.ErrAlreadyRegistered):
			dto.RegistrationDuplicateError(ctx)
		case errors.Is(err, repo.ErrCapacityExceeded):
			dto.BadResponseError(ctx, dto.CapacityExceeded, "Event is full")
		case errors.Is(err, participation.ErrRegistrationClosed):
			dto.BadResponseError(ctx, dto.RegistrationClosed, "Registration is closed")
		default:
			s.log.Error().Err(err).Msg("failed to register participant")
			dto.InternalServerError(ctx)
		}
		return
	}
	s.dispatcher.Dispatch(ctx.Request.Context(), events)

	dto.SuccessCreatedResponse(ctx, p)
}

func (s *service) Cancel(ctx *ginext.Context) {
	participantID, ok := pathID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid participant ID")
		return
	}
	p, events, err := s.machine.Cancel(ctx.Request.Context(), participantID)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrParticipantNotFound):
			dto.ParticipantNotFoundError(ctx)
		case errors.Is(err, repo.ErrInvalidTransition):
			dto.BadResponseError(ctx, dto.InvalidTransition, "Registration is already in a terminal state")
		default:
			s.log.Error().Err(err).Msg("failed to cancel registration")
			dto.InternalServerError(ctx)
		}
		return
	}
	s.dispatcher.Dispatch(ctx.Request.Context(), events)
	dto.SuccessResponse(ctx, p)
}

func (s *service) CheckIn(ctx *ginext.Context) {
	participantID, ok := pathID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid participant ID")
		return
	}
	p, events, err := s.machine.CheckIn(ctx.Request.Context(), participantID)
	if err != nil {
		s.checkInError(ctx, err)
		return
	}
	s.dispatcher.Dispatch(ctx.Request.Context(), events)
	dto.SuccessResponse(ctx, dto.CheckInResponse{Participant: p, Changed: len(events) > 0})
}

func (s *service) CheckInByTicket(ctx *ginext.Context) {
	var req dto.CheckInTicketRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}
	p, events, err := s.machine.CheckInByTicket(ctx.Request.Context(), req.TicketCode)
	if err != nil {
		s.checkInError(ctx, err)
		return
	}
	s.dispatcher.Dispatch(ctx.Request.Context(), events)
	dto.SuccessResponse(ctx, dto.CheckInResponse{Participant: p, Changed: len(events) > 0})
}

func (s *service) checkInError(ctx *ginext.Context, err error) {
	switch {
	case errors.Is(err, repo.ErrParticipantNotFound):
		dto.ParticipantNotFoundError(ctx)
	case errors.Is(err, repo.ErrNotConfirmed):
		dto.BadResponseError(ctx, dto.NotConfirmed, "Registration is not confirmed")
	case errors.Is(err, repo.ErrInvalidTransition):
		dto.BadResponseError(ctx, dto.InvalidTransition, "Participant cannot check in from the current state")
	default:
		s.log.Error().Err(err).Msg("failed to check in participant")
		dto.InternalServerError(ctx)
	}
}

func (s *service) CheckOut(ctx *ginext.Context) {
	participantID, ok := pathID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid participant ID")
		return
	}
	p, events, err := s.machine.CheckOut(ctx.Request.Context(), participantID)
	if err != nil {
		if errors.Is(err, repo.ErrParticipantNotFound) {
			dto.ParticipantNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to check out participant")
		dto.InternalServerError(ctx)
		return
	}
	s.dispatcher.Dispatch(ctx.Request.Context(), events)
	dto.SuccessResponse(ctx, p)
}

func (s *service) RateSession(ctx *ginext.Context) {
	sessionID, ok := pathID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid session ID")
		return
	}
	userID, ok := callerID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.Unauthorized, "Missing or invalid X-User-ID")
		return
	}
	var req dto.RateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	sess, err := s.store.GetSession(ctx.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrSessionNotFound) {
			dto.SessionNotFoundError(ctx)
			return
		}
		dto.InternalServerError(ctx)
		return
	}
	p, err := s.store.GetParticipantByUser(ctx.Request.Context(), sess.EventID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrParticipantNotFound) {
			dto.ParticipantNotFoundError(ctx)
			return
		}
		dto.InternalServerError(ctx)
		return
	}

	updated, events, err := s.machine.RateSession(ctx.Request.Context(), p.ID, sessionID, req.Rating, req.Review)
	if err != nil {
		switch {
		case errors.Is(err, participation.ErrInvalidRating):
			dto.BadResponseError(ctx, dto.FieldIncorrect, "Rating must be between 1 and 5")
		case errors.Is(err, participation.ErrSessionNotInEvent):
			dto.SessionNotFoundError(ctx)
		default:
			s.log.Error().Err(err).Msg("failed to rate session")
			dto.InternalServerError(ctx)
		}
		return
	}
	s.dispatcher.Dispatch(ctx.Request.Context(), events)
	dto.SuccessResponse(ctx, updated)
}

func (s *service) GetAnalytics(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid event ID")
		return
	}
	a, err := s.store.GetAnalytics(ctx.Request.Context(), eventID)
	if errors.Is(err, repo.ErrAnalyticsNotFound) {
		// No stored projection yet, compute one on demand.
		a, err = s.agg.Recalculate(ctx.Request.Context(), eventID)
	}
	if err != nil {
		if errors.Is(err, repo.ErrEventNotFound) {
			dto.EventNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to load analytics")
		dto.InternalServerError(ctx)
		return
	}
	dto.SuccessResponse(ctx, a)
}

func (s *service) WSEvent(ctx *ginext.Context) {
	s.serveWS(ctx, hub.GroupEvent)
}

func (s *service) WSSession(ctx *ginext.Context) {
	s.serveWS(ctx, hub.GroupSession)
}

func (s *service) WSNetworking(ctx *ginext.Context) {
	s.serveWS(ctx, hub.GroupNetworking)
}

func (s *service) serveWS(ctx *ginext.Context, kind hub.GroupKind) {
	id, ok := pathID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid channel ID")
		return
	}
	userID, ok := callerID(ctx)
	if !ok {
		dto.BadResponseError(ctx, dto.Unauthorized, "Missing or invalid user identity")
		return
	}
	if err := s.hub.Serve(ctx.Writer, ctx.Request, kind, id, userID); err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Msg("websocket serve failed")
	}
}
