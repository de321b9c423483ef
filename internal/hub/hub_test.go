package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventpulse/internal/event"
	"eventpulse/internal/model"
	"eventpulse/internal/participation"
	"eventpulse/internal/repo"
)

func newHub(t *testing.T) (*Hub, *repo.MemStore) {
	t.Helper()
	store := repo.NewMemStore()
	log := zerolog.Nop()
	machine := participation.NewMachine(store, &log)
	h := NewHub(store, machine, &log)
	h.Bind(event.NewDispatcher(&log, h))
	return h, store
}

func seedEvent(t *testing.T, store *repo.MemStore, visibility model.Visibility) *model.Event {
	t.Helper()
	e := &model.Event{
		ID:         uuid.New(),
		Name:       "TechFest",
		Slug:       "techfest",
		Status:     model.EventLive,
		Visibility: visibility,
		StartTime:  time.Now().Add(-time.Hour),
		EndTime:    time.Now().Add(5 * time.Hour),
	}
	if err := store.CreateEvent(context.Background(), e); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return e
}

func seedParticipant(t *testing.T, store *repo.MemStore, eventID uuid.UUID, role model.Role) *model.Participant {
	t.Helper()
	p := &model.Participant{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		EventID:            eventID,
		Role:               role,
		RegistrationStatus: model.RegistrationConfirmed,
		AttendanceStatus:   model.AttendanceNotAttended,
		Level:              1,
	}
	if err := store.RegisterTx(context.Background(), p); err != nil {
		t.Fatalf("register: %v", err)
	}
	return p
}

func mustConnect(t *testing.T, h *Hub, kind GroupKind, id, userID uuid.UUID) *Conn {
	t.Helper()
	c, err := h.connect(context.Background(), nil, kind, id, userID)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func nextFrame(t *testing.T, c *Conn) (string, json.RawMessage) {
	t.Helper()
	select {
	case b := <-c.send:
		var f struct {
			Type    string          `json:"type"`
			Data    json.RawMessage `json:"data"`
			Message string          `json:"message"`
		}
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode frame %q: %v", b, err)
		}
		if f.Type == frameError {
			return f.Type, json.RawMessage(`"` + f.Message + `"`)
		}
		return f.Type, f.Data
	default:
		t.Fatalf("no frame queued")
		return "", nil
	}
}

func assertEmpty(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("unexpected frame: %s", b)
	default:
	}
}

func TestAuthorized(t *testing.T) {
	staff := &model.Participant{Role: model.RoleModerator}
	attendee := &model.Participant{Role: model.RoleAttendee}
	cases := []struct {
		name       string
		visibility model.Visibility
		p          *model.Participant
		want       bool
	}{
		{"public anonymous", model.VisibilityPublic, nil, true},
		{"private attendee", model.VisibilityPrivate, attendee, false},
		{"private staff", model.VisibilityPrivate, staff, true},
		{"private anonymous", model.VisibilityPrivate, nil, false},
		{"invite only registered", model.VisibilityInviteOnly, attendee, true},
		{"invite only anonymous", model.VisibilityInviteOnly, nil, false},
		{"members only staff", model.VisibilityMembersOnly, staff, false},
	}
	for _, c := range cases {
		e := &model.Event{Visibility: c.visibility}
		if got := authorized(e, c.p); got != c.want {
			t.Errorf("%s: authorized = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestConnectSendsSnapshot(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)

	c := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	typ, data := nextFrame(t, c)
	if typ != frameEventData {
		t.Fatalf("first frame = %q, want event_data", typ)
	}
	var snap struct {
		Event  *model.Event `json:"event"`
		IsLive bool         `json:"is_live"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Event.ID != e.ID || !snap.IsLive {
		t.Fatalf("snapshot = %+v, want live event %s", snap, e.ID)
	}
}

func TestConnectUnauthorized(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityInviteOnly)

	if _, err := h.connect(context.Background(), nil, GroupEvent, e.ID, uuid.New()); err != ErrUnauthorized {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestBroadcastSnapshotMembership(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)

	member := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	nextFrame(t, member) // drain snapshot

	h.broadcast(groupKey{Kind: GroupEvent, ID: e.ID}, encodeFrame(frameEventUpdate, nil))
	if typ, _ := nextFrame(t, member); typ != frameEventUpdate {
		t.Fatalf("member missed broadcast")
	}

	late := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	nextFrame(t, late)
	assertEmpty(t, late)
}

func TestLeaveFinalizesView(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)
	userID := uuid.New()

	c := mustConnect(t, h, GroupEvent, e.ID, userID)
	views := store.Views()
	if len(views) != 1 || views[0].EventID != e.ID || views[0].UserID != userID {
		t.Fatalf("views after connect = %+v", views)
	}
	got, err := store.GetEvent(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.ViewCount != 1 {
		t.Fatalf("view_count = %d, want 1", got.ViewCount)
	}

	c.joinedAt = h.clock().Add(-90 * time.Second)
	h.leave(context.Background(), c)
	views = store.Views()
	if views[0].Duration < 90 {
		t.Fatalf("duration = %d, want >= 90", views[0].Duration)
	}

	h.broadcast(groupKey{Kind: GroupEvent, ID: e.ID}, encodeFrame(frameEventUpdate, nil))
}

// A broadcaster snapshots the membership before writing, so it can still
// hold a connection whose reader has already torn it down. Writes to a
// departed connection must be dropped, not panic.
func TestEnqueueAfterLeaveIsDropped(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)

	c := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	nextFrame(t, c) // drain snapshot

	h.leave(context.Background(), c)
	c.enqueue(encodeFrame(frameEventUpdate, nil))
	assertEmpty(t, c)
}

func TestSlowConsumerClosedOnce(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)

	c := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	frame := encodeFrame(frameEventUpdate, nil)
	for i := 0; i < sendQueueSize+5; i++ {
		c.enqueue(frame)
	}
	if !c.closed {
		t.Fatal("expected overflowing connection to be closed")
	}
	// Closing stops accepting frames but never closes the send channel.
	c.enqueue(frame)
	select {
	case <-c.done:
	default:
		t.Fatal("done not signalled")
	}
}

func TestPingPong(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)
	c := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	nextFrame(t, c)

	h.handleInbound(context.Background(), c, []byte(`{"type":"ping"}`))
	if typ, _ := nextFrame(t, c); typ != framePong {
		t.Fatalf("ping answered with %q", typ)
	}
}

func TestMalformedMessageAnswersSenderOnly(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)
	sender := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	other := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	nextFrame(t, sender)
	nextFrame(t, other)

	h.handleInbound(context.Background(), sender, []byte(`not json`))
	if typ, _ := nextFrame(t, sender); typ != frameError {
		t.Fatalf("sender got %q, want error", typ)
	}
	assertEmpty(t, other)
}

func TestChatRelayAttachesSender(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)
	sender := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	other := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	nextFrame(t, sender)
	nextFrame(t, other)

	h.handleInbound(context.Background(), sender, []byte(`{"type":"chat_message","message":"hello"}`))
	typ, data := nextFrame(t, other)
	if typ != msgChatMessage {
		t.Fatalf("frame = %q, want chat_message", typ)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["message"] != "hello" || payload["sender_id"] != sender.userID.String() {
		t.Fatalf("payload = %v", payload)
	}

	h.handleInbound(context.Background(), sender, []byte(`{"type":"chat_message"}`))
	nextFrame(t, sender) // own copy of the first relay
	if typ, _ := nextFrame(t, sender); typ != frameError {
		t.Fatalf("empty chat accepted, got %q", typ)
	}
	assertEmpty(t, other)
}

func TestUnknownTypeIgnored(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)
	c := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	nextFrame(t, c)

	h.handleInbound(context.Background(), c, []byte(`{"type":"telemetry"}`))
	assertEmpty(t, c)

	h.handleInbound(context.Background(), c, []byte(`{"type":"update_location","location":{"x":1}}`))
	assertEmpty(t, c)
}

func TestJoinSessionBroadcastsUpdates(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)
	s := &model.Session{ID: uuid.New(), EventID: e.ID, Title: "Opening keynote"}
	if err := store.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	p := seedParticipant(t, store, e.ID, model.RoleAttendee)

	c := mustConnect(t, h, GroupEvent, e.ID, p.UserID)
	nextFrame(t, c)

	h.handleInbound(context.Background(), c, []byte(`{"type":"join_session","session_id":"`+s.ID.String()+`"}`))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		typ, _ := nextFrame(t, c)
		seen[typ] = true
	}
	if !seen[frameAttendanceUpdate] || !seen[frameSessionUpdate] {
		t.Fatalf("frames = %v, want attendance_update and session_update", seen)
	}

	got, err := store.GetSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.AttendeeCount != 1 {
		t.Fatalf("attendee_count = %d, want 1", got.AttendeeCount)
	}
}

func TestJoinSessionRequiresRegistration(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)
	s := &model.Session{ID: uuid.New(), EventID: e.ID}
	if err := store.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("create session: %v", err)
	}

	c := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	nextFrame(t, c)
	h.handleInbound(context.Background(), c, []byte(`{"type":"join_session","session_id":"`+s.ID.String()+`"}`))
	if typ, _ := nextFrame(t, c); typ != frameError {
		t.Fatalf("unregistered join got %q, want error", typ)
	}
}

func TestHandleEventNotification(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)
	p := seedParticipant(t, store, e.ID, model.RoleAttendee)
	c := mustConnect(t, h, GroupEvent, e.ID, uuid.New())
	nextFrame(t, c)

	if _, err := h.HandleEvent(context.Background(), event.LevelUp{Participant: p, Level: 3}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	typ, data := nextFrame(t, c)
	if typ != frameNotification {
		t.Fatalf("frame = %q, want notification", typ)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["kind"] != "level_up" || payload["level"].(float64) != 3 {
		t.Fatalf("payload = %v", payload)
	}
}

func TestNetworkingAcceptRecordsConnection(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)
	pa := seedParticipant(t, store, e.ID, model.RoleAttendee)
	pb := seedParticipant(t, store, e.ID, model.RoleAttendee)

	accepter := mustConnect(t, h, GroupNetworking, e.ID, pa.UserID)
	requester := mustConnect(t, h, GroupNetworking, e.ID, pb.UserID)
	nextFrame(t, accepter)
	nextFrame(t, requester)

	h.handleInbound(context.Background(), accepter, []byte(`{"type":"networking_accept","target_id":"`+pb.ID.String()+`"}`))

	for _, p := range []*model.Participant{pa, pb} {
		count, err := store.CountConnections(context.Background(), p.ID)
		if err != nil {
			t.Fatalf("count connections: %v", err)
		}
		if count != 1 {
			t.Fatalf("connections = %d, want 1", count)
		}
	}
	// One ConnectionMade per side, each broadcast to the pool.
	for i := 0; i < 2; i++ {
		if typ, _ := nextFrame(t, requester); typ != frameNotification {
			t.Fatalf("frame = %q, want notification", typ)
		}
	}

	// Accepting again changes nothing and stays silent.
	h.handleInbound(context.Background(), accepter, []byte(`{"type":"networking_accept","target_id":"`+pb.ID.String()+`"}`))
	count, err := store.CountConnections(context.Background(), pa.ID)
	if err != nil {
		t.Fatalf("count connections: %v", err)
	}
	if count != 1 {
		t.Fatalf("connections after repeat = %d, want 1", count)
	}
	assertEmpty(t, requester)
}

func TestNetworkingAcceptRejectsInvalidTargets(t *testing.T) {
	h, store := newHub(t)
	e := seedEvent(t, store, model.VisibilityPublic)
	p := seedParticipant(t, store, e.ID, model.RoleAttendee)

	anon := mustConnect(t, h, GroupNetworking, e.ID, uuid.New())
	nextFrame(t, anon)
	h.handleInbound(context.Background(), anon, []byte(`{"type":"networking_accept","target_id":"`+p.ID.String()+`"}`))
	if typ, _ := nextFrame(t, anon); typ != frameError {
		t.Fatalf("unregistered accept got %q, want error", typ)
	}

	c := mustConnect(t, h, GroupNetworking, e.ID, p.UserID)
	nextFrame(t, c)
	h.handleInbound(context.Background(), c, []byte(`{"type":"networking_accept","target_id":"`+p.ID.String()+`"}`))
	if typ, _ := nextFrame(t, c); typ != frameError {
		t.Fatalf("self accept got %q, want error", typ)
	}

	h.handleInbound(context.Background(), c, []byte(`{"type":"networking_accept","target_id":"`+uuid.NewString()+`"}`))
	if typ, _ := nextFrame(t, c); typ != frameError {
		t.Fatalf("unknown target got %q, want error", typ)
	}
}
