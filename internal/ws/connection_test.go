package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"duet/internal/models"
	"duet/internal/session"

	"github.com/gorilla/websocket"
)

type controlFrame struct {
	messageType int
	data        []byte
}

type mockWS struct {
	readCh      chan []byte
	writeCh     chan any
	controlCh   chan controlFrame
	closeCh     chan struct{}
	closeOnce   sync.Once
	closed      atomic.Bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:    make(chan []byte, 10),
		writeCh:   make(chan any, 10),
		controlCh: make(chan controlFrame, 10),
		closeCh:   make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.closeCh)
	})
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	m.writeCh <- v
	return nil
}

func (m *mockWS) WriteControl(messageType int, data []byte, _ time.Time) error {
	m.controlCh <- controlFrame{messageType: messageType, data: data}
	return nil
}

func (m *mockWS) SetWriteDeadline(time.Time) error { return nil }

func (m *mockWS) ReadMessage() (int, []byte, error) {
	if m.errToReturn != nil {
		return 0, nil, m.errToReturn
	}
	select {
	case data := <-m.readCh:
		return websocket.TextMessage, data, nil
	case <-m.closeCh:
		return 0, nil, errors.New("connection closed")
	}
}

func (m *mockWS) send(t *testing.T, msg models.ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	m.readCh <- data
}

type mockHub struct {
	joinCh      chan models.Identity
	leaveCh     chan string
	dispatchCh  chan models.ClientMessage
	dispatchErr error
}

func newMockHub() *mockHub {
	return &mockHub{
		joinCh:     make(chan models.Identity, 10),
		leaveCh:    make(chan string, 10),
		dispatchCh: make(chan models.ClientMessage, 10),
	}
}

func (m *mockHub) Join(id models.Identity) *session.Session {
	m.joinCh <- id
	return session.New(id, session.Config{Buffer: 10, SendTimeout: 10 * time.Millisecond})
}

func (m *mockHub) Leave(s *session.Session) {
	m.leaveCh <- s.UserID
	s.Close(websocket.CloseNormalClosure, "")
}

func (m *mockHub) Dispatch(_ context.Context, _ *session.Session, msg models.ClientMessage) error {
	m.dispatchCh <- msg
	return m.dispatchErr
}

var user1 = models.Identity{UserID: "user1", UserName: "User One"}

func startConnection(t *testing.T, hub *mockHub, ws *mockWS, cfg ConnectionConfig) (*Connection, context.CancelFunc, chan error) {
	t.Helper()
	conn := NewConnection(hub, ws, user1, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- conn.Handle(ctx)
	}()
	return conn, cancel, done
}

func expectWrite(t *testing.T, ws *mockWS) models.ServerMessage {
	t.Helper()
	select {
	case received := <-ws.writeCh:
		msg, ok := received.(models.ServerMessage)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("WS did not receive a frame")
	}
	return models.ServerMessage{}
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	conn, cancel, done := startConnection(t, hub, ws, ConnectionConfig{})
	defer cancel()

	select {
	case id := <-hub.joinCh:
		if id != user1 {
			t.Errorf("Expected Join with %v, got %v", user1, id)
		}
	default:
		t.Error("Join not called on NewConnection")
	}

	// 1. Client -> Hub
	ws.send(t, models.ClientMessage{Type: models.ClientMessageTypeMessage, ToUserID: "user2", Text: "hello"})

	select {
	case received := <-hub.dispatchCh:
		if received.Text != "hello" || received.ToUserID != "user2" {
			t.Errorf("Hub received wrong message: %v", received)
		}
	case <-time.After(time.Second):
		t.Error("Hub did not receive dispatched message")
	}

	// 2. Session queue -> Client
	if err := conn.Session().TrySend(models.ServerMessage{Type: models.ServerMessageTypeMessage, Text: "hi back"}); err != nil {
		t.Fatal(err)
	}
	if msg := expectWrite(t, ws); msg.Text != "hi back" {
		t.Errorf("WS received wrong content: %v", msg)
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Handle did not return after cancel")
	}

	select {
	case id := <-hub.leaveCh:
		if id != user1.UserID {
			t.Errorf("Expected Leave with %s, got %s", user1.UserID, id)
		}
	default:
		t.Error("Leave not called")
	}

	if !ws.closed.Load() {
		t.Error("WS Close not called")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	ws.errToReturn = errors.New("read error")

	_, cancel, done := startConnection(t, hub, ws, ConnectionConfig{})
	defer cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(time.Second):
		t.Error("Handle did not return on error")
	}

	if !ws.closed.Load() {
		t.Error("WS Close not called")
	}
}

func TestConnection_MalformedFrameIsDropped(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	_, cancel, _ := startConnection(t, hub, ws, ConnectionConfig{})
	defer cancel()

	ws.readCh <- []byte("{not json")
	ws.readCh <- []byte(`{"type":"message","text":"no recipient"}`)
	ws.send(t, models.ClientMessage{Type: models.ClientMessageTypeHeartbeat})

	select {
	case received := <-hub.dispatchCh:
		if received.Type != models.ClientMessageTypeHeartbeat {
			t.Errorf("Expected heartbeat after malformed frames, got %v", received.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("connection stopped reading after a malformed frame")
	}

	select {
	case w := <-ws.writeCh:
		t.Errorf("malformed frames must not be answered, got %v", w)
	default:
	}
}

func TestConnection_DispatchErrorBecomesErrorFrame(t *testing.T) {
	hub := newMockHub()
	hub.dispatchErr = models.ErrInvalidRecipient
	ws := newMockWS()
	_, cancel, _ := startConnection(t, hub, ws, ConnectionConfig{})
	defer cancel()

	ws.send(t, models.ClientMessage{Type: models.ClientMessageTypeMessage, ToUserID: "ghost", Text: "boo"})

	msg := expectWrite(t, ws)
	if msg.Type != models.ServerMessageTypeError || msg.Code != "invalid_recipient" {
		t.Errorf("Expected invalid_recipient error frame, got %+v", msg)
	}
}

func TestConnection_RateLimit(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	_, cancel, _ := startConnection(t, hub, ws, ConnectionConfig{RatePerMinute: 1, RateBurst: 2})
	defer cancel()

	for range 3 {
		ws.send(t, models.ClientMessage{Type: models.ClientMessageTypeMessage, ToUserID: "user2", Text: "spam"})
	}
	// Heartbeats are never limited.
	ws.send(t, models.ClientMessage{Type: models.ClientMessageTypeHeartbeat})

	msg := expectWrite(t, ws)
	if msg.Code != "rate_limited" {
		t.Errorf("Expected rate_limited error frame, got %+v", msg)
	}

	var dispatched []models.ClientMessageType
	for range 3 {
		select {
		case m := <-hub.dispatchCh:
			dispatched = append(dispatched, m.Type)
		case <-time.After(time.Second):
			t.Fatalf("only %d frames dispatched", len(dispatched))
		}
	}
	if dispatched[2] != models.ClientMessageTypeHeartbeat {
		t.Errorf("Expected two messages and a heartbeat, got %v", dispatched)
	}
}

func TestConnection_SessionCloseSendsCloseFrame(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	conn, cancel, done := startConnection(t, hub, ws, ConnectionConfig{})
	defer cancel()

	if err := conn.Session().TrySend(models.NewHeartbeatAck()); err != nil {
		t.Fatal(err)
	}
	conn.Session().Close(websocket.CloseNormalClosure, "heartbeat timeout")

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after session close")
	}

	if msg := expectWrite(t, ws); msg.Type != models.ServerMessageTypeHeartbeatAck {
		t.Errorf("queued frame was not flushed before close: %+v", msg)
	}

	var frame controlFrame
	for frame.messageType != websocket.CloseMessage {
		select {
		case frame = <-ws.controlCh:
		default:
			t.Fatal("close frame not written")
		}
	}
	want := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "heartbeat timeout")
	if string(frame.data) != string(want) {
		t.Errorf("Expected close payload %q, got %q", want, frame.data)
	}
}
