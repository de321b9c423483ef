package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventScheduled EventStatus = "scheduled"
	EventLive      EventStatus = "live"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
	EventPostponed EventStatus = "postponed"
	EventArchived  EventStatus = "archived"
)

type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityPrivate     Visibility = "private"
	VisibilityInviteOnly  Visibility = "invite_only"
	VisibilityMembersOnly Visibility = "members_only"
)

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionPostponed SessionStatus = "postponed"
)

type Role string

const (
	RoleAttendee    Role = "attendee"
	RoleSpeaker     Role = "speaker"
	RoleModerator   Role = "moderator"
	RoleOrganizer   Role = "organizer"
	RoleCoOrganizer Role = "co_organizer"
	RoleSponsor     Role = "sponsor"
	RoleExhibitor   Role = "exhibitor"
	RoleVolunteer   Role = "volunteer"
	RoleMedia       Role = "media"
	RoleVIP         Role = "vip"
)

// IsStaff reports whether the role grants access to private event channels.
func (r Role) IsStaff() bool {
	switch r {
	case RoleOrganizer, RoleCoOrganizer, RoleModerator:
		return true
	}
	return false
}

type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationCancelled RegistrationStatus = "cancelled"
	RegistrationWaitlist  RegistrationStatus = "waitlist"
	RegistrationRejected  RegistrationStatus = "rejected"
	RegistrationNoShow    RegistrationStatus = "no_show"
	RegistrationAttended  RegistrationStatus = "attended"
	RegistrationArchived  RegistrationStatus = "archived"
)

// IsTerminal reports whether no further user-triggered transition is legal.
func (s RegistrationStatus) IsTerminal() bool {
	switch s {
	case RegistrationCancelled, RegistrationRejected, RegistrationArchived:
		return true
	}
	return false
}

type AttendanceStatus string

const (
	AttendanceNotAttended AttendanceStatus = "not_attended"
	AttendanceCheckedIn   AttendanceStatus = "checked_in"
	AttendanceAttended    AttendanceStatus = "attended"
	AttendanceLeftEarly   AttendanceStatus = "left_early"
)

type Event struct {
	ID                uuid.UUID   `db:"id" json:"id"`
	Name              string      `db:"name" json:"name"`
	Slug              string      `db:"slug" json:"slug"`
	Status            EventStatus `db:"status" json:"status"`
	Visibility        Visibility  `db:"visibility" json:"visibility"`
	StartTime         time.Time   `db:"start_time" json:"start_time"`
	EndTime           time.Time   `db:"end_time" json:"end_time"`
	RegistrationStart *time.Time  `db:"registration_start" json:"registration_start,omitempty"`
	RegistrationEnd   *time.Time  `db:"registration_end" json:"registration_end,omitempty"`
	Capacity          int         `db:"capacity" json:"capacity"`
	ApprovalRequired  bool        `db:"approval_required" json:"approval_required"`
	WaitlistEnabled   bool        `db:"waitlist_enabled" json:"waitlist_enabled"`
	OrganizerID       uuid.UUID   `db:"organizer_id" json:"organizer_id"`
	ViewCount         int         `db:"view_count" json:"view_count"`
	RegistrationCount int         `db:"registration_count" json:"registration_count"`
	AttendanceCount   int         `db:"attendance_count" json:"attendance_count"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

// IsLive reports whether the event is live at the given instant.
func (e *Event) IsLive(now time.Time) bool {
	return e.Status == EventLive && !now.Before(e.StartTime) && !now.After(e.EndTime)
}

// RegistrationOpen reports whether new registrations are accepted at the
// given instant: status must allow it and now must fall inside the
// registration window when one is set.
func (e *Event) RegistrationOpen(now time.Time) bool {
	switch e.Status {
	case EventPublished, EventScheduled, EventLive:
	default:
		return false
	}
	if e.RegistrationStart != nil && now.Before(*e.RegistrationStart) {
		return false
	}
	if e.RegistrationEnd != nil && now.After(*e.RegistrationEnd) {
		return false
	}
	return true
}

type Session struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	EventID       uuid.UUID     `db:"event_id" json:"event_id"`
	Title         string        `db:"title" json:"title"`
	Status        SessionStatus `db:"status" json:"status"`
	StartTime     time.Time     `db:"start_time" json:"start_time"`
	EndTime       time.Time     `db:"end_time" json:"end_time"`
	AttendeeCount int           `db:"attendee_count" json:"attendee_count"`
	RatingAvg     float64       `db:"rating_avg" json:"rating_avg"`
	RatingCount   int           `db:"rating_count" json:"rating_count"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// IsLive reports whether the session is live at the given instant.
func (s *Session) IsLive(now time.Time) bool {
	return s.Status == SessionLive && !now.Before(s.StartTime) && !now.After(s.EndTime)
}

type Participant struct {
	ID                 uuid.UUID          `db:"id" json:"id"`
	UserID             uuid.UUID          `db:"user_id" json:"user_id"`
	EventID            uuid.UUID          `db:"event_id" json:"event_id"`
	Role               Role               `db:"role" json:"role"`
	RegistrationStatus RegistrationStatus `db:"registration_status" json:"registration_status"`
	AttendanceStatus   AttendanceStatus   `db:"attendance_status" json:"attendance_status"`
	TicketCode         string             `db:"ticket_code" json:"ticket_code"`
	Email              string             `db:"email" json:"email,omitempty"`
	Points             int                `db:"points" json:"points"`
	Level              int                `db:"level" json:"level"`
	CheckInTime        *time.Time         `db:"check_in_time" json:"check_in_time,omitempty"`
	CheckOutTime       *time.Time         `db:"check_out_time" json:"check_out_time,omitempty"`
	RegisteredAt       time.Time          `db:"registered_at" json:"registered_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

type Badge struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Description    string    `db:"description" json:"description,omitempty"`
	PointsRequired int       `db:"points_required" json:"points_required"`
	Criteria       string    `db:"criteria" json:"criteria,omitempty"`
	Active         bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type ParticipantBadge struct {
	ParticipantID uuid.UUID `db:"participant_id" json:"participant_id"`
	BadgeID       uuid.UUID `db:"badge_id" json:"badge_id"`
	BadgeName     string    `db:"badge_name" json:"badge_name"`
	Reason        string    `db:"reason" json:"reason,omitempty"`
	EarnedAt      time.Time `db:"earned_at" json:"earned_at"`
}

type SessionRating struct {
	SessionID     uuid.UUID `db:"session_id" json:"session_id"`
	ParticipantID uuid.UUID `db:"participant_id" json:"participant_id"`
	Rating        int       `db:"rating" json:"rating"`
	Review        string    `db:"review" json:"review,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type EventAnalytics struct {
	EventID                uuid.UUID `db:"event_id" json:"event_id"`
	TotalRegistrations     int       `db:"total_registrations" json:"total_registrations"`
	ConfirmedRegistrations int       `db:"confirmed_registrations" json:"confirmed_registrations"`
	CancelledRegistrations int       `db:"cancelled_registrations" json:"cancelled_registrations"`
	WaitlistRegistrations  int       `db:"waitlist_registrations" json:"waitlist_registrations"`
	TotalAttendance        int       `db:"total_attendance" json:"total_attendance"`
	AttendanceRate         float64   `db:"attendance_rate" json:"attendance_rate"`
	TotalSessions          int       `db:"total_sessions" json:"total_sessions"`
	AvgSessionRating       float64   `db:"avg_session_rating" json:"avg_session_rating"`
	TotalExhibitors        int       `db:"total_exhibitors" json:"total_exhibitors"`
	TotalProducts          int       `db:"total_products" json:"total_products"`
	LastCalculated         time.Time `db:"last_calculated" json:"last_calculated"`
}

type EventView struct {
	ID        int64     `db:"id" json:"id"`
	EventID   uuid.UUID `db:"event_id" json:"event_id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Duration  int       `db:"duration" json:"duration"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Slugify lowercases a name and replaces runs of non-alphanumeric
// characters with single hyphens. Used for event slugs and ticket codes.
func Slugify(name string) string {
	var b strings.Builder
	prevHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
