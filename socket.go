package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/maps"
)

const socketSendBufferSize = 8
const socketSubscriberBufferSize = 32

var ErrNotConnected = errors.New("socket is not connected")

// ConnectionStatus is the lifecycle of one socket instance. Transitions
// happen only via Connect / Disconnect or a terminal stream error.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (self ConnectionStatus) String() string {
	switch self {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(self))
	}
}

// StatusCell is the owned, injectable connection status holder. Whoever
// constructs the socket owns the cell; nothing in this package assumes a
// process-wide singleton.
type StatusCell struct {
	mutex     sync.Mutex
	status    ConnectionStatus
	listeners *callbackList[func(ConnectionStatus)]
}

func NewStatusCell() *StatusCell {
	return &StatusCell{
		status:    StatusDisconnected,
		listeners: newCallbackList[func(ConnectionStatus)](),
	}
}

func (self *StatusCell) Status() ConnectionStatus {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.status
}

// AddListener registers a listener called on every transition. The returned
// remove func is idempotent.
func (self *StatusCell) AddListener(listener func(ConnectionStatus)) func() {
	listenerId := self.listeners.add(listener)
	return func() {
		self.listeners.remove(listenerId)
	}
}

// transitions are restricted to the socket adapter
func (self *StatusCell) set(status ConnectionStatus) {
	self.mutex.Lock()
	if self.status == status {
		self.mutex.Unlock()
		return
	}
	self.status = status
	self.mutex.Unlock()
	for _, listener := range self.listeners.get() {
		listener(status)
	}
}

type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
)

// SocketMessage is the json frame exchanged on the duplex channel.
type SocketMessage struct {
	Type      EventType `json:"type"`
	Payload   *User     `json:"payload"`
	Timestamp int64     `json:"timestamp"`
}

// ChangeEvent maps the frame onto the closed event set. An unknown type or a
// missing payload is an error so the caller can drop the frame explicitly.
func (self *SocketMessage) ChangeEvent() (ChangeEvent, error) {
	if self.Payload == nil {
		return nil, fmt.Errorf("missing payload for event type: %s", self.Type)
	}
	switch self.Type {
	case EventCreated:
		return &UserCreated{User: self.Payload, Timestamp: self.Timestamp}, nil
	case EventUpdated:
		return &UserUpdated{User: self.Payload, Timestamp: self.Timestamp}, nil
	case EventDeleted:
		return &UserDeleted{User: self.Payload, Timestamp: self.Timestamp}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", self.Type)
	}
}

type SocketSettings struct {
	WsHandshakeTimeout time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultSocketSettings() *SocketSettings {
	return &SocketSettings{
		WsHandshakeTimeout: 2 * time.Second,
		PingTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

// Socket is the duplex channel adapter. The underlying connection is the one
// resource shared across subscribers: Subscribe fans out inbound frames from
// a single connection instead of opening duplicates. Send fails fast when the
// channel is not connected. Disconnect is idempotent and releases all
// resources deterministically from the caller's perspective; the underlying
// teardown completes asynchronously.
type Socket struct {
	ctx    context.Context
	cancel context.CancelFunc

	socketUrl string
	status    *StatusCell
	settings  *SocketSettings

	mutex       sync.Mutex
	connId      Id
	connCancel  context.CancelFunc
	send        chan *SocketMessage
	subscribers map[Id]chan *SocketMessage
}

func NewSocketWithDefaults(ctx context.Context, socketUrl string) *Socket {
	return NewSocket(ctx, socketUrl, NewStatusCell(), DefaultSocketSettings())
}

func NewSocket(ctx context.Context, socketUrl string, status *StatusCell, settings *SocketSettings) *Socket {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Socket{
		ctx:         cancelCtx,
		cancel:      cancel,
		socketUrl:   socketUrl,
		status:      status,
		settings:    settings,
		subscribers: map[Id]chan *SocketMessage{},
	}
}

func (self *Socket) Status() *StatusCell {
	return self.status
}

// Connect establishes the duplex channel. At most one connection at a time;
// Connect while already connected is a no-op.
func (self *Socket) Connect() error {
	self.mutex.Lock()
	if self.connCancel != nil {
		self.mutex.Unlock()
		return nil
	}
	connId := NewId()
	connCtx, connCancel := context.WithCancel(self.ctx)
	send := make(chan *SocketMessage, socketSendBufferSize)
	self.connId = connId
	self.connCancel = connCancel
	self.send = send
	self.mutex.Unlock()

	self.status.set(StatusConnecting)

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	connect := func() (*websocket.Conn, error) {
		ws, _, err := dialer.DialContext(connCtx, self.socketUrl, nil)
		return ws, err
	}

	var ws *websocket.Conn
	var err error
	if glog.V(2) {
		ws, err = TraceWithReturnError(fmt.Sprintf("[ws]connect %s", self.socketUrl), connect)
	} else {
		ws, err = connect()
	}
	if err != nil {
		self.mutex.Lock()
		active := self.connId == connId
		if active {
			self.connId = Id{}
			self.connCancel = nil
			self.send = nil
		}
		self.mutex.Unlock()
		connCancel()
		if active {
			// a dial canceled by Disconnect stays disconnected
			self.status.set(StatusError)
		}
		return NormalizeError(err)
	}

	self.mutex.Lock()
	active := self.connId == connId
	self.mutex.Unlock()
	if !active {
		// Disconnect won the race while the dial was in flight
		connCancel()
		ws.Close()
		return nil
	}

	self.status.set(StatusConnected)

	go HandleError(func() {
		self.run(connId, connCtx, connCancel, ws, send)
	})
	return nil
}

func (self *Socket) run(connId Id, connCtx context.Context, connCancel context.CancelFunc, ws *websocket.Conn, send <-chan *SocketMessage) {
	defer func() {
		connCancel()
		ws.Close()

		self.mutex.Lock()
		active := self.connId == connId
		if active {
			self.connId = Id{}
			self.connCancel = nil
			self.send = nil
		}
		self.mutex.Unlock()
		if active {
			// terminal stream error, not a caller disconnect
			self.status.set(StatusError)
		}
	}()

	logWs := LogFn(LogLevelInfo, "[ws]")
	logSend := SubLogFn(LogLevelDebug, logWs, "->")
	logReceive := SubLogFn(LogLevelDebug, logWs, "<-")

	go HandleError(func() {
		defer connCancel()

		for {
			select {
			case <-connCtx.Done():
				return
			case message, ok := <-send:
				if !ok {
					return
				}
				messageBytes, err := json.Marshal(message)
				if err != nil {
					glog.Infof("[ws]-> marshal error = %s\n", err)
					continue
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, messageBytes); err != nil {
					// a websocket deadline timeout cannot be recovered
					glog.Infof("[ws]-> error = %s\n", err)
					return
				}
				logSend("%s", message.Type)
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})

	ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		messageType, messageBytes, err := ws.ReadMessage()
		if err != nil {
			if connCtx.Err() == nil {
				glog.Infof("[ws]<- error = %s\n", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))

		switch messageType {
		case websocket.TextMessage:
			message := &SocketMessage{}
			if err := json.Unmarshal(messageBytes, message); err != nil {
				// drop the malformed frame. The connection stays alive.
				glog.Infof("[ws]<- drop malformed frame = %s\n", err)
				continue
			}
			logReceive("%s", message.Type)
			self.broadcast(message)
		default:
			logReceive("other=%d", messageType)
		}
	}
}

// Send queues one outbound frame. Fails fast when the channel is not in
// connected status.
func (self *Socket) Send(message *SocketMessage) error {
	self.mutex.Lock()
	send := self.send
	self.mutex.Unlock()
	if send == nil || self.status.Status() != StatusConnected {
		return ErrNotConnected
	}
	select {
	case send <- message:
		return nil
	case <-self.ctx.Done():
		return ErrNotConnected
	case <-time.After(self.settings.WriteTimeout):
		return fmt.Errorf("send timed out")
	}
}

// Subscribe returns a channel observing the shared inbound stream. All
// subscribers observe the same underlying connection, and a subscription
// survives reconnects. The returned remove func is idempotent.
func (self *Socket) Subscribe() (<-chan *SocketMessage, func()) {
	subscriberId := NewId()
	messages := make(chan *SocketMessage, socketSubscriberBufferSize)
	self.mutex.Lock()
	self.subscribers[subscriberId] = messages
	self.mutex.Unlock()
	unsubscribe := func() {
		self.mutex.Lock()
		if subscriber, ok := self.subscribers[subscriberId]; ok {
			delete(self.subscribers, subscriberId)
			close(subscriber)
		}
		self.mutex.Unlock()
	}
	return messages, unsubscribe
}

func (self *Socket) broadcast(message *SocketMessage) {
	// non-blocking sends under the mutex so that unsubscribe cannot close a
	// channel mid-send
	self.mutex.Lock()
	defer self.mutex.Unlock()
	for _, subscriber := range maps.Values(self.subscribers) {
		select {
		case subscriber <- message:
		default:
			// drop rather than stall the reader on a slow subscriber
			glog.Infof("[ws]<- drop for slow subscriber\n")
		}
	}
}

// Disconnect terminates the channel and flips status to disconnected.
// Idempotent: a second call produces no error and leaves the status
// disconnected.
func (self *Socket) Disconnect() {
	self.mutex.Lock()
	connCancel := self.connCancel
	self.connId = Id{}
	self.connCancel = nil
	self.send = nil
	self.mutex.Unlock()
	if connCancel != nil {
		connCancel()
	}
	self.status.set(StatusDisconnected)
}

// Close disconnects and tears down the socket permanently.
func (self *Socket) Close() {
	self.Disconnect()
	self.cancel()
}
