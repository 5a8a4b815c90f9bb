package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/context"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// ConnManager owns all open websocket connections, keyed by the connection
// handle assigned at upgrade time. Which participant a connection belongs to
// is not the manager's concern; the relay records that in its Roster once
// the client sends its join command.
type ConnManager struct {
	conns   map[string]*Conn
	mu      sync.RWMutex
	connWg  *sync.WaitGroup
	context context.Context
	logger  *slog.Logger

	onConnectionOpened func(string)
	onConnectionClosed func(string)

	receivedEvent chan *Event

	upgrader        websocket.Upgrader
	ReadStreamSize  int
	WriteStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *ConnManager) {
		m.logger = l
	}
}

func NewConnManager(context context.Context, wg *sync.WaitGroup, logger *slog.Logger, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		connWg:             wg,
		conns:              make(map[string]*Conn),
		logger:             logger,
		context:            context,
		upgrader:           defaultUpgrader,
		ReadStreamSize:     100,
		WriteStreamSize:    100,
		onConnectionOpened: func(string) {},
		onConnectionClosed: func(string) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.receivedEvent = make(chan *Event, m.ReadStreamSize)

	return m
}

// Receive returns the stream of inbound events from all connections.
func (m *ConnManager) Receive() <-chan *Event {
	return m.receivedEvent
}

func (m *ConnManager) OnConnectionOpened(f func(string)) {
	m.onConnectionOpened = f
}

func (m *ConnManager) OnConnectionClosed(f func(string)) {
	m.onConnectionClosed = f
}

func (m *ConnManager) IsConnected(connID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[connID]
	return ok
}

// Connect upgrades the request and starts the connection's read and write
// loops. It returns the handle assigned to the new connection.
func (m *ConnManager) Connect(w http.ResponseWriter, r *http.Request) (string, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	wsConn := &Conn{
		id:          id,
		conn:        conn,
		context:     m.context,
		writeStream: make(chan *Event, m.WriteStreamSize),
		readStream:  m.receivedEvent,
		ticker:      time.NewTicker(pingPeriod),
		logger:      m.logger.With(slog.String("connection", id)),
		notifyDisconnect: func() {
			m.disconnect(id)
		},
	}

	m.mu.Lock()
	m.conns[id] = wsConn
	m.mu.Unlock()

	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()

	m.logger.Info("new connection", slog.String("connection", id))
	m.onConnectionOpened(id)

	return id, nil
}

func (m *ConnManager) disconnect(connID string) {
	m.mu.Lock()
	conn, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, connID)
	// closed under the lock so no in-flight send can hit a closed stream
	conn.close()
	m.mu.Unlock()

	m.onConnectionClosed(connID)
}

// Close tears down every open connection.
func (m *ConnManager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.disconnect(id)
	}
}

// SendToConns delivers the event to the given connections. Unknown handles
// are skipped. A connection whose write stream is full is disconnected
// rather than allowed to block the caller.
//
// Sends happen while the read lock is held so a concurrent disconnect
// cannot close a write stream mid-send; the actual disconnects are done
// after the lock is released.
func (m *ConnManager) SendToConns(e *Event, connIDs ...string) {
	var stalled []string
	m.mu.RLock()
	for _, id := range connIDs {
		conn, ok := m.conns[id]
		if !ok {
			continue
		}
		select {
		case conn.writeStream <- e:
		default:
			stalled = append(stalled, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stalled {
		m.logger.Error(fmt.Sprintf("write stream full, dropping connection %s", id))
		m.disconnect(id)
	}
}
