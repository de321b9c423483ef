package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"eventpulse/internal/event"
	"eventpulse/internal/model"
	"eventpulse/internal/participation"
	"eventpulse/internal/repo"
)

// GroupKind selects which entity a websocket connection attaches to.
type GroupKind string

const (
	GroupEvent      GroupKind = "event"
	GroupSession    GroupKind = "session"
	GroupNetworking GroupKind = "networking"
)

var ErrUnauthorized = errors.New("not authorized for this channel")

type groupKey struct {
	Kind GroupKind
	ID   uuid.UUID
}

// Hub owns live websocket groups. It relays client messages inside a group,
// pushes state-change frames produced by the dispatcher, and records event
// views for the analytics side. It never persists relayed payloads.
type Hub struct {
	store    repo.Store
	machine  *participation.Machine
	dispatch func(ctx context.Context, events []event.Event)
	log      *zerolog.Logger
	clock    func() time.Time
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	groups map[groupKey]map[*Conn]bool
}

func NewHub(store repo.Store, machine *participation.Machine, log *zerolog.Logger) *Hub {
	return &Hub{
		store:   store,
		machine: machine,
		log:     log,
		clock:   time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		groups: make(map[groupKey]map[*Conn]bool),
	}
}

// Bind wires the dispatcher in after construction; the dispatcher itself
// holds the hub as a consumer, so the two reference each other.
func (h *Hub) Bind(d *event.Dispatcher) {
	h.dispatch = d.Dispatch
}

// Serve upgrades the request and runs the connection until the client goes
// away. Unauthorized clients get a policy-violation close frame; the close
// reason never reveals whether the target exists.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, kind GroupKind, id, userID uuid.UUID) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	ctx := r.Context()
	c, err := h.connect(ctx, ws, kind, id, userID)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "access denied")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = ws.Close()
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, repo.ErrEventNotFound) || errors.Is(err, repo.ErrSessionNotFound) {
			h.log.Warn().
				Str("kind", string(kind)).
				Str("id", id.String()).
				Str("user_id", userID.String()).
				Msg("websocket join rejected")
			return nil
		}
		return err
	}

	go c.writePump()
	c.readPump(context.WithoutCancel(ctx))
	return nil
}

// connect authorizes, registers the connection in its group and queues the
// initial snapshot frame.
func (h *Hub) connect(ctx context.Context, ws *websocket.Conn, kind GroupKind, id, userID uuid.UUID) (*Conn, error) {
	e, s, err := h.resolve(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	p, err := h.store.GetParticipantByUser(ctx, e.ID, userID)
	if err != nil && !errors.Is(err, repo.ErrParticipantNotFound) {
		return nil, err
	}
	if !authorized(e, p) {
		return nil, ErrUnauthorized
	}

	c := newConn(h, ws, groupKey{Kind: kind, ID: id}, userID, p)
	h.mu.Lock()
	members := h.groups[c.key]
	if members == nil {
		members = make(map[*Conn]bool)
		h.groups[c.key] = members
	}
	members[c] = true
	h.mu.Unlock()

	if kind == GroupEvent {
		view := &model.EventView{EventID: e.ID, UserID: userID}
		if err := h.store.AddEventViewTx(ctx, view); err != nil {
			h.log.Error().Err(err).Str("event_id", e.ID.String()).Msg("record event view")
		}
	}

	switch kind {
	case GroupSession:
		c.enqueue(encodeFrame(frameSessionData, sessionSnapshot(s, h.clock())))
	default:
		c.enqueue(encodeFrame(frameEventData, eventSnapshot(e, h.clock())))
	}
	h.log.Info().
		Str("kind", string(kind)).
		Str("id", id.String()).
		Str("user_id", userID.String()).
		Msg("websocket joined")
	return c, nil
}

func (h *Hub) leave(ctx context.Context, c *Conn) {
	h.mu.Lock()
	if members, ok := h.groups[c.key]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, c.key)
		}
	}
	h.mu.Unlock()
	c.close()

	if c.key.Kind == GroupEvent {
		duration := int(h.clock().Sub(c.joinedAt).Seconds())
		if err := h.store.FinalizeEventView(ctx, c.key.ID, c.userID, duration); err != nil {
			h.log.Error().Err(err).Str("event_id", c.key.ID.String()).Msg("finalize event view")
		}
	}
}

// resolve loads the event behind a group target. Session groups resolve the
// session first and authorize against its event; networking pools are keyed
// by event id.
func (h *Hub) resolve(ctx context.Context, kind GroupKind, id uuid.UUID) (*model.Event, *model.Session, error) {
	if kind == GroupSession {
		s, err := h.store.GetSession(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		e, err := h.store.GetEvent(ctx, s.EventID)
		if err != nil {
			return nil, nil, err
		}
		return e, s, nil
	}
	e, err := h.store.GetEvent(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return e, nil, nil
}

// authorized applies the event's visibility policy. p is nil when the user
// has no participant row.
func authorized(e *model.Event, p *model.Participant) bool {
	switch e.Visibility {
	case model.VisibilityPublic:
		return true
	case model.VisibilityPrivate:
		return p != nil && p.Role.IsStaff()
	case model.VisibilityInviteOnly:
		return p != nil
	default:
		return false
	}
}

type eventSnapshotData struct {
	Event  *model.Event `json:"event"`
	IsLive bool         `json:"is_live"`
}

type sessionSnapshotData struct {
	Session *model.Session `json:"session"`
	IsLive  bool           `json:"is_live"`
}

func eventSnapshot(e *model.Event, now time.Time) eventSnapshotData {
	return eventSnapshotData{Event: e, IsLive: e.IsLive(now)}
}

func sessionSnapshot(s *model.Session, now time.Time) sessionSnapshotData {
	return sessionSnapshotData{Session: s, IsLive: s.IsLive(now)}
}

// handleInbound dispatches one client message. Malformed JSON answers the
// sender only; relay types are validated then fanned out to the group with
// the sender identity attached.
func (h *Hub) handleInbound(ctx context.Context, c *Conn, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.enqueue(encodeError("invalid message format"))
		return
	}

	switch msg.Type {
	case msgPing:
		c.enqueue(encodeFrame(framePong, nil))
	case msgJoinSession:
		h.joinSession(ctx, c, msg.SessionID)
	case msgLeaveSession:
		// Leaving a session removes nothing from the attended set; the
		// group just hears about it.
		h.broadcast(c.key, encodeFrame(frameAttendanceUpdate, map[string]any{
			"action":     event.ActionSessionLeft,
			"session_id": msg.SessionID,
			"user_id":    c.userID.String(),
		}))
	case msgUpdateLocation:
		// Accepted and intentionally not stored.
	case msgPollResponse:
		if msg.PollID == "" || len(msg.Response) == 0 {
			c.enqueue(encodeError("poll_id and response are required"))
			return
		}
		h.relay(c, msg.Type, map[string]any{
			"poll_id":  msg.PollID,
			"response": msg.Response,
		})
	case msgQAQuestion:
		if msg.Question == "" {
			c.enqueue(encodeError("question is required"))
			return
		}
		h.relay(c, msg.Type, map[string]any{
			"question":   msg.Question,
			"session_id": msg.SessionID,
		})
	case msgNetworkingRequest:
		if msg.TargetUserID == "" {
			c.enqueue(encodeError("target_user_id is required"))
			return
		}
		h.relay(c, msg.Type, map[string]any{
			"target_user_id": msg.TargetUserID,
			"message":        msg.Message,
		})
	case msgNetworkingAccept:
		h.acceptConnection(ctx, c, msg.TargetID)
	case msgChatMessage:
		if msg.Message == "" {
			c.enqueue(encodeError("message is required"))
			return
		}
		h.relay(c, msg.Type, map[string]any{
			"message":   msg.Message,
			"chat_type": msg.ChatType,
			"target_id": msg.TargetID,
		})
	default:
		h.log.Debug().Str("type", msg.Type).Msg("ignoring unknown message type")
	}
}

func (h *Hub) joinSession(ctx context.Context, c *Conn, rawID string) {
	sessionID, err := uuid.Parse(rawID)
	if err != nil {
		c.enqueue(encodeError("invalid session_id"))
		return
	}
	if c.participant == nil {
		c.enqueue(encodeError("registration required"))
		return
	}
	_, events, err := h.machine.MarkSessionAttended(ctx, c.participant.ID, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotConfirmed):
			c.enqueue(encodeError("registration not confirmed"))
		case errors.Is(err, participation.ErrSessionNotInEvent), errors.Is(err, repo.ErrSessionNotFound):
			c.enqueue(encodeError("unknown session"))
		default:
			h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("join session failed")
			c.enqueue(encodeError("could not join session"))
		}
		return
	}
	if h.dispatch != nil {
		h.dispatch(ctx, events)
	}
}

// acceptConnection records a networking connection between the accepting
// participant and the requester. First acceptance of a pair persists the
// connection and feeds a ConnectionMade event per side into the dispatcher;
// repeats are acknowledged without re-recording.
func (h *Hub) acceptConnection(ctx context.Context, c *Conn, rawTarget string) {
	targetID, err := uuid.Parse(rawTarget)
	if err != nil {
		c.enqueue(encodeError("invalid target_id"))
		return
	}
	if c.participant == nil {
		c.enqueue(encodeError("registration required"))
		return
	}
	target, err := h.store.GetParticipant(ctx, targetID)
	if err != nil || target.EventID != c.participant.EventID {
		c.enqueue(encodeError("unknown participant"))
		return
	}
	if target.ID == c.participant.ID {
		c.enqueue(encodeError("cannot connect to yourself"))
		return
	}

	created, err := h.store.AddConnectionTx(ctx, c.participant.EventID, c.participant.ID, target.ID)
	if err != nil {
		h.log.Error().Err(err).Str("target_id", targetID.String()).Msg("record connection failed")
		c.enqueue(encodeError("could not record connection"))
		return
	}
	if !created {
		return
	}

	events := make([]event.Event, 0, 2)
	for _, p := range []*model.Participant{c.participant, target} {
		count, err := h.store.CountConnections(ctx, p.ID)
		if err != nil {
			h.log.Error().Err(err).Str("participant_id", p.ID.String()).Msg("count connections failed")
			continue
		}
		events = append(events, event.ConnectionMade{Participant: p, Count: count})
	}
	if h.dispatch != nil {
		h.dispatch(ctx, events)
	}
}

// relay fans a client message out to the sender's group verbatim, with the
// sender identity attached. Nothing is persisted.
func (h *Hub) relay(c *Conn, typ string, data map[string]any) {
	data["sender_id"] = c.userID.String()
	h.broadcast(c.key, encodeFrame(typ, data))
}

// broadcast delivers a frame to the members of one group as of this moment;
// connections joining afterwards do not receive it.
func (h *Hub) broadcast(key groupKey, b []byte) {
	if b == nil {
		return
	}
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.groups[key]))
	for c := range h.groups[key] {
		members = append(members, c)
	}
	h.mu.RUnlock()
	for _, c := range members {
		c.enqueue(b)
	}
}

// HandleEvent maps committed domain events to group frames. The hub never
// produces follow-up events.
func (h *Hub) HandleEvent(_ context.Context, ev event.Event) ([]event.Event, error) {
	switch e := ev.(type) {
	case event.ParticipantChanged:
		h.broadcast(groupKey{Kind: GroupEvent, ID: e.Participant.EventID}, encodeFrame(frameAttendanceUpdate, map[string]any{
			"action":         e.Action,
			"participant_id": e.Participant.ID.String(),
			"user_id":        e.Participant.UserID.String(),
			"status":         e.Participant.RegistrationStatus,
		}))
	case event.SessionChanged:
		b := encodeFrame(frameSessionUpdate, e.Session)
		h.broadcast(groupKey{Kind: GroupSession, ID: e.Session.ID}, b)
		h.broadcast(groupKey{Kind: GroupEvent, ID: e.Session.EventID}, b)
	case event.EventChanged:
		h.broadcast(groupKey{Kind: GroupEvent, ID: e.Event.ID}, encodeFrame(frameEventUpdate, eventSnapshot(e.Event, h.clock())))
	case event.LevelUp:
		h.broadcast(groupKey{Kind: GroupEvent, ID: e.Participant.EventID}, encodeFrame(frameNotification, map[string]any{
			"kind":    "level_up",
			"user_id": e.Participant.UserID.String(),
			"level":   e.Level,
		}))
	case event.ConnectionMade:
		h.broadcast(groupKey{Kind: GroupNetworking, ID: e.Participant.EventID}, encodeFrame(frameNotification, map[string]any{
			"kind":    "connection_made",
			"user_id": e.Participant.UserID.String(),
		}))
	case event.BadgeAwarded:
		h.broadcast(groupKey{Kind: GroupEvent, ID: e.Participant.EventID}, encodeFrame(frameNotification, map[string]any{
			"kind":    "badge_awarded",
			"user_id": e.Participant.UserID.String(),
			"badge":   e.Badge.Name,
		}))
	}
	return nil, nil
}
