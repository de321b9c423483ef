package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"eventpulse/internal/model"
)

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrBadgeNotFound       = errors.New("badge not found")
	ErrAnalyticsNotFound   = errors.New("analytics not found")
	ErrAlreadyRegistered   = errors.New("already registered")
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrNotConfirmed        = errors.New("registration not confirmed")
	ErrInvalidTransition   = errors.New("invalid transition")
)

// Store is the state-store contract the engine runs against. Capacity
// checks, counter updates and status swaps are atomic at this boundary;
// callers never read-modify-write persisted counters.
type Store interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	SetEventStatus(ctx context.Context, id uuid.UUID, from, to model.EventStatus) (bool, error)

	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	ListSessions(ctx context.Context, eventID uuid.UUID) ([]model.Session, error)

	// RegisterTx inserts a participant after the capacity and uniqueness
	// checks, all inside one transaction holding the event row lock.
	RegisterTx(ctx context.Context, p *model.Participant) error
	GetParticipant(ctx context.Context, id uuid.UUID) (*model.Participant, error)
	GetParticipantByUser(ctx context.Context, eventID, userID uuid.UUID) (*model.Participant, error)
	GetParticipantByTicket(ctx context.Context, code string) (*model.Participant, error)
	ListParticipants(ctx context.Context, eventID uuid.UUID) ([]model.Participant, error)

	CancelTx(ctx context.Context, id uuid.UUID) (*model.Participant, error)
	// CheckInTx flips not_attended to checked_in. The bool is false when the
	// participant was already checked in (idempotent no-op).
	CheckInTx(ctx context.Context, id uuid.UUID, now time.Time) (*model.Participant, bool, error)
	CheckOutTx(ctx context.Context, id uuid.UUID, now time.Time) (*model.Participant, error)

	// AttendSessionTx adds the session to the participant's attended set.
	// The bool is true only on first addition, which also increments the
	// session's attendee count.
	AttendSessionTx(ctx context.Context, participantID, sessionID uuid.UUID) (bool, error)
	CountSessionsAttended(ctx context.Context, participantID uuid.UUID) (int, error)

	// RateSessionTx upserts the rating and recomputes the session average
	// in the same transaction. The bool is true when this participant rated
	// the session for the first time.
	RateSessionTx(ctx context.Context, r *model.SessionRating) (bool, *model.Session, error)
	CountRatingsByParticipant(ctx context.Context, participantID uuid.UUID) (int, error)

	AddPointsTx(ctx context.Context, participantID uuid.UUID, delta int) (*model.Participant, error)
	SetLevel(ctx context.Context, participantID uuid.UUID, level int) error

	CreateBadge(ctx context.Context, b *model.Badge) error
	GetBadgeByName(ctx context.Context, name string) (*model.Badge, error)
	// AwardBadgeTx records the award once; the bool is false when the
	// (participant, badge) pair already exists.
	AwardBadgeTx(ctx context.Context, participantID, badgeID uuid.UUID, reason string) (bool, error)
	ListParticipantBadges(ctx context.Context, participantID uuid.UUID) ([]model.ParticipantBadge, error)

	// AddConnectionTx records a networking connection between two
	// participants of the same event, stored in normalized pair order.
	// The bool is false when the pair is already connected.
	AddConnectionTx(ctx context.Context, eventID, a, b uuid.UUID) (bool, error)
	CountConnections(ctx context.Context, participantID uuid.UUID) (int, error)

	AddEventViewTx(ctx context.Context, v *model.EventView) error
	FinalizeEventView(ctx context.Context, eventID, userID uuid.UUID, duration int) error

	SaveAnalytics(ctx context.Context, a *model.EventAnalytics) error
	GetAnalytics(ctx context.Context, eventID uuid.UUID) (*model.EventAnalytics, error)
	CountExhibitors(ctx context.Context, eventID uuid.UUID) (int, error)
	CountProducts(ctx context.Context, eventID uuid.UUID) (int, error)

	MarkNoShowsTx(ctx context.Context, eventID uuid.UUID) (attended, noShows int, err error)
	ArchiveStaleTx(ctx context.Context, cutoff time.Time) (int, error)
}

type Postgres struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewPostgres(db *dbpg.DB, log *zerolog.Logger) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &Postgres{db: db, log: log}, nil
}

func (r *Postgres) MigrateUp(migrationsDir string) error {
	return r.runMigrations(migrationsDir, "*.up.sql")
}

func (r *Postgres) MigrateDown(migrationsDir string) error {
	return r.runMigrations(migrationsDir, "*.down.sql")
}

func (r *Postgres) runMigrations(migrationsDir, pattern string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied from %s (%s)", migrationsDir, pattern)
	return nil
}

const eventColumns = `id, name, slug, status, visibility, start_time, end_time,
       registration_start, registration_end, capacity, approval_required,
       waitlist_enabled, organizer_id, view_count, registration_count,
       attendance_count, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.Name, &e.Slug, &e.Status, &e.Visibility, &e.StartTime, &e.EndTime,
		&e.RegistrationStart, &e.RegistrationEnd, &e.Capacity, &e.ApprovalRequired,
		&e.WaitlistEnabled, &e.OrganizerID, &e.ViewCount, &e.RegistrationCount,
		&e.AttendanceCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Postgres) CreateEvent(ctx context.Context, e *model.Event) error {
	query := `
		INSERT INTO events (id, name, slug, status, visibility, start_time, end_time,
		                    registration_start, registration_end, capacity,
		                    approval_required, waitlist_enabled, organizer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	row := r.db.QueryRowContext(ctx, query,
		e.ID, e.Name, e.Slug, e.Status, e.Visibility, e.StartTime, e.EndTime,
		e.RegistrationStart, e.RegistrationEnd, e.Capacity,
		e.ApprovalRequired, e.WaitlistEnabled, e.OrganizerID,
	)
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (r *Postgres) GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

func (r *Postgres) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (r *Postgres) SetEventStatus(ctx context.Context, id uuid.UUID, from, to model.EventStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to swap event status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

const sessionColumns = `id, event_id, title, status, start_time, end_time,
       attendee_count, rating_avg, rating_count, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID, &s.EventID, &s.Title, &s.Status, &s.StartTime, &s.EndTime,
		&s.AttendeeCount, &s.RatingAvg, &s.RatingCount, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Postgres) CreateSession(ctx context.Context, s *model.Session) error {
	query := `
		INSERT INTO sessions (id, event_id, title, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	row := r.db.QueryRowContext(ctx, query, s.ID, s.EventID, s.Title, s.Status, s.StartTime, s.EndTime)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *Postgres) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *Postgres) ListSessions(ctx context.Context, eventID uuid.UUID) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE event_id = $1 ORDER BY start_time ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

const participantColumns = `id, user_id, event_id, role, registration_status,
       attendance_status, ticket_code, email, points, level,
       check_in_time, check_out_time, registered_at, updated_at`

func scanParticipant(row interface{ Scan(...any) error }) (*model.Participant, error) {
	var p model.Participant
	err := row.Scan(
		&p.ID, &p.UserID, &p.EventID, &p.Role, &p.RegistrationStatus,
		&p.AttendanceStatus, &p.TicketCode, &p.Email, &p.Points, &p.Level,
		&p.CheckInTime, &p.CheckOutTime, &p.RegisteredAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RegisterTx locks the event row, verifies uniqueness and capacity, inserts
// the participant and bumps the registration counter when the registration
// lands as confirmed. The event row lock is what makes concurrent
// registrations on the same event serialize.
func (r *Postgres) RegisterTx(ctx context.Context, p *model.Participant) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if pr := recover(); pr != nil {
			_ = tx.Rollback()
			panic(pr)
		}
	}()

	var capacity int
	err = tx.QueryRowContext(ctx, `
		SELECT capacity FROM events WHERE id = $1 FOR UPDATE
	`, p.EventID).Scan(&capacity)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEventNotFound
		}
		return fmt.Errorf("failed to lock event: %w", err)
	}

	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participants WHERE event_id = $1 AND user_id = $2
	`, p.EventID, p.UserID).Scan(&existing)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to check existing registration: %w", err)
	}
	if existing > 0 {
		_ = tx.Rollback()
		return ErrAlreadyRegistered
	}

	if capacity > 0 {
		var confirmed int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM participants
			WHERE event_id = $1 AND registration_status = 'confirmed'
		`, p.EventID).Scan(&confirmed)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to count confirmed registrations: %w", err)
		}
		if confirmed >= capacity {
			_ = tx.Rollback()
			return ErrCapacityExceeded
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO participants (id, user_id, event_id, role, registration_status,
		                          attendance_status, ticket_code, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING registered_at, updated_at
	`, p.ID, p.UserID, p.EventID, p.Role, p.RegistrationStatus,
		p.AttendanceStatus, p.TicketCode, p.Email,
	).Scan(&p.RegisteredAt, &p.UpdatedAt)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert participant: %w", err)
	}

	if p.RegistrationStatus == model.RegistrationConfirmed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE events SET registration_count = registration_count + 1, updated_at = NOW()
			WHERE id = $1
		`, p.EventID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to increment registration count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registration: %w", err)
	}
	return nil
}

func (r *Postgres) getParticipantWhere(ctx context.Context, where string, args ...any) (*model.Participant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE `+where, args...)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (r *Postgres) GetParticipant(ctx context.Context, id uuid.UUID) (*model.Participant, error) {
	return r.getParticipantWhere(ctx, `id = $1`, id)
}

func (r *Postgres) GetParticipantByUser(ctx context.Context, eventID, userID uuid.UUID) (*model.Participant, error) {
	return r.getParticipantWhere(ctx, `event_id = $1 AND user_id = $2`, eventID, userID)
}

func (r *Postgres) GetParticipantByTicket(ctx context.Context, code string) (*model.Participant, error) {
	return r.getParticipantWhere(ctx, `ticket_code = $1`, code)
}

func (r *Postgres) ListParticipants(ctx context.Context, eventID uuid.UUID) ([]model.Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE event_id = $1 ORDER BY registered_at ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

func (r *Postgres) CancelTx(ctx context.Context, id uuid.UUID) (*model.Participant, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if pr := recover(); pr != nil {
			_ = tx.Rollback()
			panic(pr)
		}
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = $1 FOR UPDATE`, id)
	p, err := scanParticipant(row)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to lock participant: %w", err)
	}

	if p.RegistrationStatus.IsTerminal() {
		_ = tx.Rollback()
		return nil, ErrInvalidTransition
	}

	wasConfirmed := p.RegistrationStatus == model.RegistrationConfirmed

	if _, err := tx.ExecContext(ctx, `
		UPDATE participants SET registration_status = 'cancelled', updated_at = NOW()
		WHERE id = $1
	`, id); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to cancel participant: %w", err)
	}

	if wasConfirmed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE events SET registration_count = registration_count - 1, updated_at = NOW()
			WHERE id = $1
		`, p.EventID); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to decrement registration count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	p.RegistrationStatus = model.RegistrationCancelled
	return p, nil
}

func (r *Postgres) CheckInTx(ctx context.Context, id uuid.UUID, now time.Time) (*model.Participant, bool, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if pr := recover(); pr != nil {
			_ = tx.Rollback()
			panic(pr)
		}
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = $1 FOR UPDATE`, id)
	p, err := scanParticipant(row)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrParticipantNotFound
		}
		return nil, false, fmt.Errorf("failed to lock participant: %w", err)
	}

	if p.RegistrationStatus != model.RegistrationConfirmed {
		_ = tx.Rollback()
		return nil, false, ErrNotConfirmed
	}

	switch p.AttendanceStatus {
	case model.AttendanceCheckedIn:
		// Idempotent: report current state, no mutation, no points.
		_ = tx.Rollback()
		return p, false, nil
	case model.AttendanceNotAttended:
	default:
		_ = tx.Rollback()
		return nil, false, ErrInvalidTransition
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE participants
		SET attendance_status = 'checked_in', check_in_time = $2, updated_at = NOW()
		WHERE id = $1
	`, id, now); err != nil {
		_ = tx.Rollback()
		return nil, false, fmt.Errorf("failed to check in participant: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE events SET attendance_count = attendance_count + 1, updated_at = NOW()
		WHERE id = $1
	`, p.EventID); err != nil {
		_ = tx.Rollback()
		return nil, false, fmt.Errorf("failed to increment attendance count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit check-in: %w", err)
	}

	p.AttendanceStatus = model.AttendanceCheckedIn
	p.CheckInTime = &now
	return p, true, nil
}

func (r *Postgres) CheckOutTx(ctx context.Context, id uuid.UUID, now time.Time) (*model.Participant, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if pr := recover(); pr != nil {
			_ = tx.Rollback()
			panic(pr)
		}
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = $1 FOR UPDATE`, id)
	p, err := scanParticipant(row)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to lock participant: %w", err)
	}

	newStatus := p.AttendanceStatus
	if p.AttendanceStatus == model.AttendanceCheckedIn {
		newStatus = model.AttendanceAttended
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE participants
		SET attendance_status = $2, check_out_time = $3, updated_at = NOW()
		WHERE id = $1
	`, id, newStatus, now); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to check out participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit check-out: %w", err)
	}

	p.AttendanceStatus = newStatus
	p.CheckOutTime = &now
	return p, nil
}

func (r *Postgres) AttendSessionTx(ctx context.Context, participantID, sessionID uuid.UUID) (bool, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if pr := recover(); pr != nil {
			_ = tx.Rollback()
			panic(pr)
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO participant_sessions (participant_id, session_id)
		VALUES ($1, $2)
		ON CONFLICT (participant_id, session_id) DO NOTHING
	`, participantID, sessionID)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("failed to record session attendance: %w", err)
	}
	inserted, _ := res.RowsAffected()
	if inserted == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET attendee_count = attendee_count + 1, updated_at = NOW()
		WHERE id = $1
	`, sessionID); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("failed to increment attendee count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit session attendance: %w", err)
	}
	return true, nil
}

func (r *Postgres) CountSessionsAttended(ctx context.Context, participantID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participant_sessions WHERE participant_id = $1
	`, participantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attended sessions: %w", err)
	}
	return count, nil
}

func (r *Postgres) RateSessionTx(ctx context.Context, rating *model.SessionRating) (bool, *model.Session, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if pr := recover(); pr != nil {
			_ = tx.Rollback()
			panic(pr)
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE session_ratings SET rating = $3, review = $4
		WHERE session_id = $1 AND participant_id = $2
	`, rating.SessionID, rating.ParticipantID, rating.Rating, rating.Review)
	if err != nil {
		_ = tx.Rollback()
		return false, nil, fmt.Errorf("failed to update rating: %w", err)
	}
	updated, _ := res.RowsAffected()
	created := updated == 0
	if created {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_ratings (session_id, participant_id, rating, review)
			VALUES ($1, $2, $3, $4)
		`, rating.SessionID, rating.ParticipantID, rating.Rating, rating.Review); err != nil {
			_ = tx.Rollback()
			return false, nil, fmt.Errorf("failed to insert rating: %w", err)
		}
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE sessions s
		SET rating_avg   = agg.avg_rating,
		    rating_count = agg.n,
		    updated_at   = NOW()
		FROM (
			SELECT COALESCE(AVG(rating), 0) AS avg_rating, COUNT(*) AS n
			FROM session_ratings WHERE session_id = $1
		) agg
		WHERE s.id = $1
		RETURNING `+prefixed("s", sessionColumns),
		rating.SessionID)
	s, err := scanSession(row)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil, ErrSessionNotFound
		}
		return false, nil, fmt.Errorf("failed to recompute session rating: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("failed to commit rating: %w", err)
	}
	return created, s, nil
}

func (r *Postgres) CountRatingsByParticipant(ctx context.Context, participantID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM session_ratings WHERE participant_id = $1
	`, participantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ratings: %w", err)
	}
	return count, nil
}

func (r *Postgres) AddPointsTx(ctx context.Context, participantID uuid.UUID, delta int) (*model.Participant, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE participants SET points = points + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+participantColumns, participantID, delta)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to add points: %w", err)
	}
	return p, nil
}

func (r *Postgres) SetLevel(ctx context.Context, participantID uuid.UUID, level int) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE participants SET level = $2, updated_at = NOW() WHERE id = $1
	`, participantID, level); err != nil {
		return fmt.Errorf("failed to set level: %w", err)
	}
	return nil
}

func (r *Postgres) CreateBadge(ctx context.Context, b *model.Badge) error {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO event_badges (id, name, description, points_required, criteria, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, b.ID, b.Name, b.Description, b.PointsRequired, b.Criteria, b.Active)
	if err := row.Scan(&b.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert badge: %w", err)
	}
	return nil
}

func (r *Postgres) GetBadgeByName(ctx context.Context, name string) (*model.Badge, error) {
	var b model.Badge
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, points_required, criteria, is_active, created_at
		FROM event_badges WHERE name = $1 AND is_active = TRUE
	`, name).Scan(&b.ID, &b.Name, &b.Description, &b.PointsRequired, &b.Criteria, &b.Active, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadgeNotFound
		}
		return nil, fmt.Errorf("failed to get badge: %w", err)
	}
	return &b, nil
}

func (r *Postgres) AwardBadgeTx(ctx context.Context, participantID, badgeID uuid.UUID, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO participant_badges (participant_id, badge_id, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_id, badge_id) DO NOTHING
	`, participantID, badgeID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to award badge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *Postgres) ListParticipantBadges(ctx context.Context, participantID uuid.UUID) ([]model.ParticipantBadge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pb.participant_id, pb.badge_id, b.name, pb.reason, pb.earned_at
		FROM participant_badges pb
		JOIN event_badges b ON b.id = pb.badge_id
		WHERE pb.participant_id = $1
		ORDER BY pb.earned_at DESC
	`, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	defer rows.Close()

	var badges []model.ParticipantBadge
	for rows.Next() {
		var pb model.ParticipantBadge
		if err := rows.Scan(&pb.ParticipantID, &pb.BadgeID, &pb.BadgeName, &pb.Reason, &pb.EarnedAt); err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		badges = append(badges, pb)
	}
	return badges, rows.Err()
}

// orderedPair normalizes a connection pair so (a,b) and (b,a) collide on
// the same row.
func orderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

func (r *Postgres) AddConnectionTx(ctx context.Context, eventID, a, b uuid.UUID) (bool, error) {
	a, b = orderedPair(a, b)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO connections (event_id, participant_a, participant_b)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_a, participant_b) DO NOTHING
	`, eventID, a, b)
	if err != nil {
		return false, fmt.Errorf("failed to add connection: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *Postgres) CountConnections(ctx context.Context, participantID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM connections WHERE participant_a = $1 OR participant_b = $1
	`, participantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count connections: %w", err)
	}
	return count, nil
}

func (r *Postgres) AddEventViewTx(ctx context.Context, v *model.EventView) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if pr := recover(); pr != nil {
			_ = tx.Rollback()
			panic(pr)
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO event_views (event_id, user_id)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, v.EventID, v.UserID).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert view: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE events SET view_count = view_count + 1, updated_at = NOW() WHERE id = $1
	`, v.EventID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to increment view count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit view: %w", err)
	}
	return nil
}

func (r *Postgres) FinalizeEventView(ctx context.Context, eventID, userID uuid.UUID, duration int) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE event_views SET duration = $3
		WHERE id = (
			SELECT id FROM event_views
			WHERE event_id = $1 AND user_id = $2
			ORDER BY created_at DESC LIMIT 1
		)
	`, eventID, userID, duration); err != nil {
		return fmt.Errorf("failed to finalize view: %w", err)
	}
	return nil
}

// SaveAnalytics overwrites the whole projection in one statement so
// concurrent readers never observe a partial recompute.
func (r *Postgres) SaveAnalytics(ctx context.Context, a *model.EventAnalytics) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO event_analytics (event_id, total_registrations, confirmed_registrations,
		    cancelled_registrations, waitlist_registrations, total_attendance, attendance_rate,
		    total_sessions, avg_session_rating, total_exhibitors, total_products, last_calculated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO UPDATE SET
		    total_registrations     = EXCLUDED.total_registrations,
		    confirmed_registrations = EXCLUDED.confirmed_registrations,
		    cancelled_registrations = EXCLUDED.cancelled_registrations,
		    waitlist_registrations  = EXCLUDED.waitlist_registrations,
		    total_attendance        = EXCLUDED.total_attendance,
		    attendance_rate         = EXCLUDED.attendance_rate,
		    total_sessions          = EXCLUDED.total_sessions,
		    avg_session_rating      = EXCLUDED.avg_session_rating,
		    total_exhibitors        = EXCLUDED.total_exhibitors,
		    total_products          = EXCLUDED.total_products,
		    last_calculated         = EXCLUDED.last_calculated
	`, a.EventID, a.TotalRegistrations, a.ConfirmedRegistrations,
		a.CancelledRegistrations, a.WaitlistRegistrations, a.TotalAttendance, a.AttendanceRate,
		a.TotalSessions, a.AvgSessionRating, a.TotalExhibitors, a.TotalProducts, a.LastCalculated,
	); err != nil {
		return fmt.Errorf("failed to save analytics: %w", err)
	}
	return nil
}

func (r *Postgres) GetAnalytics(ctx context.Context, eventID uuid.UUID) (*model.EventAnalytics, error) {
	var a model.EventAnalytics
	err := r.db.QueryRowContext(ctx, `
		SELECT event_id, total_registrations, confirmed_registrations, cancelled_registrations,
		       waitlist_registrations, total_attendance, attendance_rate, total_sessions,
		       avg_session_rating, total_exhibitors, total_products, last_calculated
		FROM event_analytics WHERE event_id = $1
	`, eventID).Scan(
		&a.EventID, &a.TotalRegistrations, &a.ConfirmedRegistrations, &a.CancelledRegistrations,
		&a.WaitlistRegistrations, &a.TotalAttendance, &a.AttendanceRate, &a.TotalSessions,
		&a.AvgSessionRating, &a.TotalExhibitors, &a.TotalProducts, &a.LastCalculated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAnalyticsNotFound
		}
		return nil, fmt.Errorf("failed to get analytics: %w", err)
	}
	return &a, nil
}

func (r *Postgres) CountExhibitors(ctx context.Context, eventID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exhibitors WHERE event_id = $1 AND status = 'approved'`, eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count exhibitors: %w", err)
	}
	return count, nil
}

func (r *Postgres) CountProducts(ctx context.Context, eventID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE event_id = $1`, eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

func (r *Postgres) MarkNoShowsTx(ctx context.Context, eventID uuid.UUID) (int, int, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if pr := recover(); pr != nil {
			_ = tx.Rollback()
			panic(pr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `
		UPDATE participants SET attendance_status = 'attended', updated_at = NOW()
		WHERE event_id = $1 AND attendance_status = 'checked_in'
	`, eventID); err != nil {
		_ = tx.Rollback()
		return 0, 0, fmt.Errorf("failed to settle checked-in participants: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE participants SET registration_status = 'attended', updated_at = NOW()
		WHERE event_id = $1 AND registration_status = 'confirmed'
		  AND attendance_status IN ('attended', 'left_early')
	`, eventID)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, fmt.Errorf("failed to mark attended: %w", err)
	}
	attended, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
		UPDATE participants SET registration_status = 'no_show', updated_at = NOW()
		WHERE event_id = $1 AND registration_status = 'confirmed'
		  AND attendance_status = 'not_attended'
	`, eventID)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, fmt.Errorf("failed to mark no-shows: %w", err)
	}
	noShows, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit no-show sweep: %w", err)
	}
	return int(attended), int(noShows), nil
}

func (r *Postgres) ArchiveStaleTx(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE participants p SET registration_status = 'archived', updated_at = NOW()
		FROM events e
		WHERE p.event_id = e.id AND e.end_time < $1
		  AND p.registration_status NOT IN ('cancelled', 'rejected', 'archived')
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive stale participants: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// prefixed qualifies every column in a comma-separated list with a table
// alias, for RETURNING clauses on aliased updates.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
