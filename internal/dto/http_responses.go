package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"

	"eventpulse/internal/model"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound         = "EVENT_NOT_FOUND"
	SessionNotFound       = "SESSION_NOT_FOUND"
	ParticipantNotFound   = "PARTICIPANT_NOT_FOUND"
	RegistrationDuplicate = "REGISTRATION_DUPLICATE"
	RegistrationClosed    = "REGISTRATION_CLOSED"
	CapacityExceeded      = "CAPACITY_EXCEEDED"
	NotConfirmed          = "REGISTRATION_NOT_CONFIRMED"
	InvalidTransition     = "INVALID_TRANSITION"
	Unauthorized          = "UNAUTHORIZED"
)

// Pipeline message kinds carried over RabbitMQ.
const (
	PipelineAnalyticsRefresh = "analytics.refresh"
	PipelineNotifyEmail      = "notify.email"
	PipelineMaintenanceSweep = "maintenance.sweep"
)

// Email templates the mailer knows how to render.
const (
	MailRegistrationConfirmed = "registration_confirmed"
	MailRegistrationPending   = "registration_pending"
	MailLevelUp               = "level_up"
)

// EngagementMessage is the envelope published to the engagement pipeline.
// Fields beyond Kind are set per message kind.
type EngagementMessage struct {
	Kind          string    `json:"kind"`
	EventID       uuid.UUID `json:"event_id,omitempty"`
	ParticipantID uuid.UUID `json:"participant_id,omitempty"`
	Email         string    `json:"email,omitempty"`
	Template      string    `json:"template,omitempty"`
	Level         int       `json:"level,omitempty"`
	Cutoff        time.Time `json:"cutoff,omitempty"`
}

type CreateEventRequest struct {
	Name              string     `json:"name" validate:"required,min=3,max=255"`
	Visibility        string     `json:"visibility"`
	StartTime         time.Time  `json:"start_time" validate:"required"`
	EndTime           time.Time  `json:"end_time" validate:"required,future"`
	RegistrationStart *time.Time `json:"registration_start"`
	RegistrationEnd   *time.Time `json:"registration_end"`
	Capacity          int        `json:"capacity" validate:"gte=0"`
	ApprovalRequired  bool       `json:"approval_required"`
	WaitlistEnabled   bool       `json:"waitlist_enabled"`
}

type CreateSessionRequest struct {
	Title     string    `json:"title" validate:"required,min=3,max=255"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
}

type RegisterRequest struct {
	Role  string `json:"role"`
	Email string `json:"email" validate:"omitempty,email"`
}

type CheckInTicketRequest struct {
	TicketCode string `json:"ticket_code" validate:"required,ticket"`
}

type RateSessionRequest struct {
	Rating int    `json:"rating" validate:"required,gte=1,lte=5"`
	Review string `json:"review" validate:"max=2000"`
}

type CheckInResponse struct {
	Participant *model.Participant `json:"participant"`
	Changed     bool               `json:"changed"`
}

type EventInfoResponse struct {
	Event    *model.Event    `json:"event"`
	Sessions []model.Session `json:"sessions,omitempty"`
	IsLive   bool            `json:"is_live"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func NotFoundError(c *ginext.Context, code, desc string) {
	c.JSON(404, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error: &Error{
			Code: ServiceUnavailable,
			Desc: InternalError,
		},
	})
}

func EventNotFoundError(c *ginext.Context) {
	NotFoundError(c, EventNotFound, "Event not found")
}

func SessionNotFoundError(c *ginext.Context) {
	NotFoundError(c, SessionNotFound, "Session not found")
}

func ParticipantNotFoundError(c *ginext.Context) {
	NotFoundError(c, ParticipantNotFound, "Participant not found")
}

func RegistrationDuplicateError(c *ginext.Context) {
	BadResponseError(c, RegistrationDuplicate, "You have already registered for this event")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}
