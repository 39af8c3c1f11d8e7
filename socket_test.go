package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

func wsUrl(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// serves the given frames once on connect, then holds the connection open
// until the client goes away
func newFrameServer(frames []*SocketMessage) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for _, frame := range frames {
			frameBytes, err := json.Marshal(frame)
			if err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frameBytes); err != nil {
				return
			}
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestSocketStatusTransitions(t *testing.T) {
	server := newFrameServer(nil)
	defer server.Close()

	socket := NewSocketWithDefaults(context.Background(), wsUrl(server))
	defer socket.Close()

	var mutex sync.Mutex
	statuses := []ConnectionStatus{}
	removeListener := socket.Status().AddListener(func(status ConnectionStatus) {
		mutex.Lock()
		statuses = append(statuses, status)
		mutex.Unlock()
	})
	defer removeListener()

	assert.Equal(t, socket.Status().Status(), StatusDisconnected)
	assert.Equal(t, socket.Connect(), nil)
	assert.Equal(t, socket.Status().Status(), StatusConnected)

	socket.Disconnect()
	assert.Equal(t, socket.Status().Status(), StatusDisconnected)

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, statuses, []ConnectionStatus{StatusConnecting, StatusConnected, StatusDisconnected})
}

func TestSocketDisconnectIdempotent(t *testing.T) {
	server := newFrameServer(nil)
	defer server.Close()

	socket := NewSocketWithDefaults(context.Background(), wsUrl(server))
	defer socket.Close()

	assert.Equal(t, socket.Connect(), nil)

	socket.Disconnect()
	assert.Equal(t, socket.Status().Status(), StatusDisconnected)
	socket.Disconnect()
	assert.Equal(t, socket.Status().Status(), StatusDisconnected)
}

func TestSocketSendWhenDisconnected(t *testing.T) {
	socket := NewSocketWithDefaults(context.Background(), "ws://127.0.0.1:1")
	defer socket.Close()

	err := socket.Send(&SocketMessage{Type: EventCreated, Payload: &User{Id: 1}, Timestamp: 1})
	assert.Equal(t, err, ErrNotConnected)
}

func TestSocketConnectError(t *testing.T) {
	// nothing is listening here
	socket := NewSocketWithDefaults(context.Background(), "ws://127.0.0.1:1")
	defer socket.Close()

	err := socket.Connect()
	assert.NotEqual(t, err, nil)
	assert.Equal(t, socket.Status().Status(), StatusError)

	socket.Disconnect()
	assert.Equal(t, socket.Status().Status(), StatusDisconnected)
}

func TestSocketBroadcast(t *testing.T) {
	frames := []*SocketMessage{
		{Type: EventCreated, Payload: &User{Id: 1, Name: "Alice", Email: "a@x.com"}, Timestamp: 100},
	}
	server := newFrameServer(frames)
	defer server.Close()

	socket := NewSocketWithDefaults(context.Background(), wsUrl(server))
	defer socket.Close()

	// both subscribers observe the same underlying connection
	messages1, unsubscribe1 := socket.Subscribe()
	defer unsubscribe1()
	messages2, unsubscribe2 := socket.Subscribe()
	defer unsubscribe2()

	assert.Equal(t, socket.Connect(), nil)

	for _, messages := range []<-chan *SocketMessage{messages1, messages2} {
		select {
		case message := <-messages:
			assert.Equal(t, message.Type, EventCreated)
			assert.Equal(t, message.Payload.Id, int64(1))
			assert.Equal(t, message.Timestamp, int64(100))
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for broadcast")
		}
	}
}

func TestSocketSendEcho(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			messageType, messageBytes, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, messageBytes); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	socket := NewSocketWithDefaults(context.Background(), wsUrl(server))
	defer socket.Close()

	messages, unsubscribe := socket.Subscribe()
	defer unsubscribe()

	assert.Equal(t, socket.Connect(), nil)

	sent := &SocketMessage{Type: EventCreated, Payload: &User{Id: 5, Name: "Eve", Email: "e@x.com"}, Timestamp: 500}
	assert.Equal(t, socket.Send(sent), nil)

	select {
	case message := <-messages:
		assert.Equal(t, message, sent)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for echo")
	}

	socket.Disconnect()
	err := socket.Send(sent)
	assert.Equal(t, err, ErrNotConnected)
}

func TestSocketMalformedFrameDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte("not json"))
		frameBytes, _ := json.Marshal(&SocketMessage{Type: EventCreated, Payload: &User{Id: 1}, Timestamp: 1})
		ws.WriteMessage(websocket.TextMessage, frameBytes)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	socket := NewSocketWithDefaults(context.Background(), wsUrl(server))
	defer socket.Close()

	messages, unsubscribe := socket.Subscribe()
	defer unsubscribe()

	assert.Equal(t, socket.Connect(), nil)

	// the malformed frame is dropped, the well-formed one still arrives
	select {
	case message := <-messages:
		assert.Equal(t, message.Type, EventCreated)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestSocketMessageNilPayload(t *testing.T) {
	for _, eventType := range []EventType{EventCreated, EventUpdated, EventDeleted} {
		message := &SocketMessage{Type: eventType, Timestamp: 1}
		event, err := message.ChangeEvent()
		assert.Equal(t, event, nil)
		assert.NotEqual(t, err, nil)
	}
}

func TestSocketDisconnectDuringDial(t *testing.T) {
	dialStarted := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// never complete the handshake. The dial stays in flight until the
		// client gives up.
		close(dialStarted)
		<-r.Context().Done()
	}))
	defer server.Close()

	socket := NewSocketWithDefaults(context.Background(), wsUrl(server))
	defer socket.Close()

	errs := make(chan error, 1)
	go func() {
		errs <- socket.Connect()
	}()

	<-dialStarted
	socket.Disconnect()

	select {
	case err := <-errs:
		assert.NotEqual(t, err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the canceled dial")
	}

	// the caller disconnect is not overridden by the failed dial
	assert.Equal(t, socket.Status().Status(), StatusDisconnected)
}

func TestSocketReconcilerEndToEnd(t *testing.T) {
	frames := []*SocketMessage{
		{Type: EventCreated, Payload: &User{Id: 1, Name: "Alice", Email: "a@x.com"}, Timestamp: 100},
		{Type: EventUpdated, Payload: &User{Id: 1, Name: "X", Email: "a@x.com"}, Timestamp: 101},
		{Type: EventDeleted, Payload: &User{Id: 1}, Timestamp: 102},
	}
	server := newFrameServer(frames)
	defer server.Close()

	socket := NewSocketWithDefaults(context.Background(), wsUrl(server))
	defer socket.Close()

	watched, unsubscribeWatched := socket.Subscribe()
	defer unsubscribeWatched()
	counted, unsubscribeCounted := socket.Subscribe()
	defer unsubscribeCounted()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()

	reconciler := NewReconciler()
	reconciler.Watch(watchCtx, watched)

	assert.Equal(t, socket.Connect(), nil)

	// wait until all three frames arrived, then let the watcher drain
	for range frames {
		select {
		case <-counted:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for frames")
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	sawUser := false
	for time.Now().Before(deadline) {
		users := reconciler.Users()
		if 0 < len(users) {
			sawUser = true
		}
		if sawUser && len(users) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, len(reconciler.Users()), 0)
}
