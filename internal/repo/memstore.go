package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventpulse/internal/model"
)

// MemStore is an in-memory Store used by tests and local runs without a
// database. A single mutex stands in for the row-level locks of the
// Postgres implementation; every method that the SQL side runs as one
// transaction holds the mutex for its whole body, so the atomicity
// contract is the same.
type MemStore struct {
	mu sync.Mutex

	events       map[uuid.UUID]*model.Event
	sessions     map[uuid.UUID]*model.Session
	participants map[uuid.UUID]*model.Participant
	attended     map[uuid.UUID]map[uuid.UUID]bool // participant -> session set
	ratings      map[uuid.UUID]map[uuid.UUID]*model.SessionRating
	badges       map[uuid.UUID]*model.Badge
	awarded      map[uuid.UUID]map[uuid.UUID]*model.ParticipantBadge
	analytics    map[uuid.UUID]*model.EventAnalytics
	views        []*model.EventView
	nextViewID   int64
	connections  map[[2]uuid.UUID]bool
	exhibitors   map[uuid.UUID]int
	products     map[uuid.UUID]int
}

func NewMemStore() *MemStore {
	return &MemStore{
		events:       make(map[uuid.UUID]*model.Event),
		sessions:     make(map[uuid.UUID]*model.Session),
		participants: make(map[uuid.UUID]*model.Participant),
		attended:     make(map[uuid.UUID]map[uuid.UUID]bool),
		ratings:      make(map[uuid.UUID]map[uuid.UUID]*model.SessionRating),
		badges:       make(map[uuid.UUID]*model.Badge),
		awarded:      make(map[uuid.UUID]map[uuid.UUID]*model.ParticipantBadge),
		analytics:    make(map[uuid.UUID]*model.EventAnalytics),
		connections:  make(map[[2]uuid.UUID]bool),
		exhibitors:   make(map[uuid.UUID]int),
		products:     make(map[uuid.UUID]int),
	}
}

// SetCounts sets the exhibitor and product counts reported for an event.
func (m *MemStore) SetCounts(eventID uuid.UUID, exhibitors, products int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhibitors[eventID] = exhibitors
	m.products[eventID] = products
}

func (m *MemStore) CreateEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	m.events[e.ID] = &cp
	return nil
}

func (m *MemStore) GetEvent(_ context.Context, id uuid.UUID) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemStore) ListEvents(_ context.Context) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) SetEventStatus(_ context.Context, id uuid.UUID, from, to model.EventStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	return true, nil
}

func (m *MemStore) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemStore) GetSession(_ context.Context, id uuid.UUID) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemStore) ListSessions(_ context.Context, eventID uuid.UUID) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.sessions {
		if s.EventID == eventID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemStore) RegisterTx(_ context.Context, p *model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[p.EventID]
	if !ok {
		return ErrEventNotFound
	}
	for _, other := range m.participants {
		if other.EventID == p.EventID && other.UserID == p.UserID {
			return ErrAlreadyRegistered
		}
	}
	if e.Capacity > 0 {
		confirmed := 0
		for _, other := range m.participants {
			if other.EventID == p.EventID && other.RegistrationStatus == model.RegistrationConfirmed {
				confirmed++
			}
		}
		if confirmed >= e.Capacity {
			return ErrCapacityExceeded
		}
	}

	now := time.Now()
	p.RegisteredAt, p.UpdatedAt = now, now
	cp := *p
	m.participants[p.ID] = &cp
	if p.RegistrationStatus == model.RegistrationConfirmed {
		e.RegistrationCount++
	}
	return nil
}

func (m *MemStore) GetParticipant(_ context.Context, id uuid.UUID) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) GetParticipantByUser(_ context.Context, eventID, userID uuid.UUID) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.EventID == eventID && p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrParticipantNotFound
}

func (m *MemStore) GetParticipantByTicket(_ context.Context, code string) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.TicketCode == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrParticipantNotFound
}

func (m *MemStore) ListParticipants(_ context.Context, eventID uuid.UUID) ([]model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Participant
	for _, p := range m.participants {
		if p.EventID == eventID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (m *MemStore) CancelTx(_ context.Context, id uuid.UUID) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	if p.RegistrationStatus.IsTerminal() {
		return nil, ErrInvalidTransition
	}
	if p.RegistrationStatus == model.RegistrationConfirmed {
		if e, ok := m.events[p.EventID]; ok {
			e.RegistrationCount--
		}
	}
	p.RegistrationStatus = model.RegistrationCancelled
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (m *MemStore) CheckInTx(_ context.Context, id uuid.UUID, now time.Time) (*model.Participant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, false, ErrParticipantNotFound
	}
	if p.RegistrationStatus != model.RegistrationConfirmed {
		return nil, false, ErrNotConfirmed
	}
	switch p.AttendanceStatus {
	case model.AttendanceCheckedIn:
		cp := *p
		return &cp, false, nil
	case model.AttendanceNotAttended:
	default:
		return nil, false, ErrInvalidTransition
	}
	p.AttendanceStatus = model.AttendanceCheckedIn
	t := now
	p.CheckInTime = &t
	p.UpdatedAt = now
	if e, ok := m.events[p.EventID]; ok {
		e.AttendanceCount++
	}
	cp := *p
	return &cp, true, nil
}

func (m *MemStore) CheckOutTx(_ context.Context, id uuid.UUID, now time.Time) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	if p.AttendanceStatus == model.AttendanceCheckedIn {
		p.AttendanceStatus = model.AttendanceAttended
	}
	t := now
	p.CheckOutTime = &t
	p.UpdatedAt = now
	cp := *p
	return &cp, nil
}

func (m *MemStore) AttendSessionTx(_ context.Context, participantID, sessionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false, ErrSessionNotFound
	}
	set := m.attended[participantID]
	if set == nil {
		set = make(map[uuid.UUID]bool)
		m.attended[participantID] = set
	}
	if set[sessionID] {
		return false, nil
	}
	set[sessionID] = true
	m.sessions[sessionID].AttendeeCount++
	return true, nil
}

func (m *MemStore) CountSessionsAttended(_ context.Context, participantID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attended[participantID]), nil
}

func (m *MemStore) RateSessionTx(_ context.Context, r *model.SessionRating) (bool, *model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[r.SessionID]
	if !ok {
		return false, nil, ErrSessionNotFound
	}
	byParticipant := m.ratings[r.SessionID]
	if byParticipant == nil {
		byParticipant = make(map[uuid.UUID]*model.SessionRating)
		m.ratings[r.SessionID] = byParticipant
	}
	_, existed := byParticipant[r.ParticipantID]
	cp := *r
	cp.CreatedAt = time.Now()
	byParticipant[r.ParticipantID] = &cp

	sum := 0
	for _, rating := range byParticipant {
		sum += rating.Rating
	}
	s.RatingCount = len(byParticipant)
	s.RatingAvg = float64(sum) / float64(s.RatingCount)
	out := *s
	return !existed, &out, nil
}

func (m *MemStore) CountRatingsByParticipant(_ context.Context, participantID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, byParticipant := range m.ratings {
		if _, ok := byParticipant[participantID]; ok {
			count++
		}
	}
	return count, nil
}

func (m *MemStore) AddPointsTx(_ context.Context, participantID uuid.UUID, delta int) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantID]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	p.Points += delta
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (m *MemStore) SetLevel(_ context.Context, participantID uuid.UUID, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantID]
	if !ok {
		return ErrParticipantNotFound
	}
	p.Level = level
	return nil
}

func (m *MemStore) CreateBadge(_ context.Context, b *model.Badge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.CreatedAt = time.Now()
	cp := *b
	m.badges[b.ID] = &cp
	return nil
}

func (m *MemStore) GetBadgeByName(_ context.Context, name string) (*model.Badge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.badges {
		if b.Name == name && b.Active {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrBadgeNotFound
}

func (m *MemStore) AwardBadgeTx(_ context.Context, participantID, badgeID uuid.UUID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byBadge := m.awarded[participantID]
	if byBadge == nil {
		byBadge = make(map[uuid.UUID]*model.ParticipantBadge)
		m.awarded[participantID] = byBadge
	}
	if _, ok := byBadge[badgeID]; ok {
		return false, nil
	}
	name := ""
	if b, ok := m.badges[badgeID]; ok {
		name = b.Name
	}
	byBadge[badgeID] = &model.ParticipantBadge{
		ParticipantID: participantID,
		BadgeID:       badgeID,
		BadgeName:     name,
		Reason:        reason,
		EarnedAt:      time.Now(),
	}
	return true, nil
}

func (m *MemStore) ListParticipantBadges(_ context.Context, participantID uuid.UUID) ([]model.ParticipantBadge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ParticipantBadge
	for _, pb := range m.awarded[participantID] {
		out = append(out, *pb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.After(out[j].EarnedAt) })
	return out, nil
}

func (m *MemStore) AddConnectionTx(_ context.Context, _ uuid.UUID, a, b uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, b = orderedPair(a, b)
	key := [2]uuid.UUID{a, b}
	if m.connections[key] {
		return false, nil
	}
	m.connections[key] = true
	return true, nil
}

func (m *MemStore) CountConnections(_ context.Context, participantID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for key := range m.connections {
		if key[0] == participantID || key[1] == participantID {
			count++
		}
	}
	return count, nil
}

func (m *MemStore) AddEventViewTx(_ context.Context, v *model.EventView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextViewID++
	v.ID = m.nextViewID
	v.CreatedAt = time.Now()
	cp := *v
	m.views = append(m.views, &cp)
	if e, ok := m.events[v.EventID]; ok {
		e.ViewCount++
	}
	return nil
}

func (m *MemStore) FinalizeEventView(_ context.Context, eventID, userID uuid.UUID, duration int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.views) - 1; i >= 0; i-- {
		v := m.views[i]
		if v.EventID == eventID && v.UserID == userID {
			v.Duration = duration
			return nil
		}
	}
	return nil
}

// Views returns a copy of all recorded views, newest last.
func (m *MemStore) Views() []model.EventView {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.EventView, 0, len(m.views))
	for _, v := range m.views {
		out = append(out, *v)
	}
	return out
}

func (m *MemStore) SaveAnalytics(_ context.Context, a *model.EventAnalytics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.analytics[a.EventID] = &cp
	return nil
}

func (m *MemStore) GetAnalytics(_ context.Context, eventID uuid.UUID) (*model.EventAnalytics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analytics[eventID]
	if !ok {
		return nil, ErrAnalyticsNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemStore) CountExhibitors(_ context.Context, eventID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhibitors[eventID], nil
}

func (m *MemStore) CountProducts(_ context.Context, eventID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[eventID], nil
}

func (m *MemStore) MarkNoShowsTx(_ context.Context, eventID uuid.UUID) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attended, noShows := 0, 0
	for _, p := range m.participants {
		if p.EventID != eventID {
			continue
		}
		if p.AttendanceStatus == model.AttendanceCheckedIn {
			p.AttendanceStatus = model.AttendanceAttended
		}
		if p.RegistrationStatus != model.RegistrationConfirmed {
			continue
		}
		switch p.AttendanceStatus {
		case model.AttendanceAttended, model.AttendanceLeftEarly:
			p.RegistrationStatus = model.RegistrationAttended
			attended++
		case model.AttendanceNotAttended:
			p.RegistrationStatus = model.RegistrationNoShow
			noShows++
		}
	}
	return attended, noShows, nil
}

func (m *MemStore) ArchiveStaleTx(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	archived := 0
	for _, p := range m.participants {
		e, ok := m.events[p.EventID]
		if !ok || !e.EndTime.Before(cutoff) {
			continue
		}
		if p.RegistrationStatus.IsTerminal() {
			continue
		}
		p.RegistrationStatus = model.RegistrationArchived
		archived++
	}
	return archived, nil
}
