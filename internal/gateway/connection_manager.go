// Package gateway streams session events to read-only websocket spectators.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/quizdash/internal/broadcast"
)

// ConnectionManager tracks spectator connections per session code and
// implements game.Broadcaster for them.
type ConnectionManager struct {
	rooms map[string]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage
}

type Connection struct {
	ID      string
	Room    string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	room string
	data []byte
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		rooms: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start processes broadcasts until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("spectator gateway started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("spectator gateway shutting down")
			cm.closeAll()
			return
		case msg := <-cm.broadcastCh:
			cm.handleBroadcast(msg)
		}
	}
}

// Publish queues an event for every spectator of room. It never blocks; when
// the queue is full the event is dropped.
func (cm *ConnectionManager) Publish(room, event string, payload any) {
	env, err := broadcast.NewEnvelope("", room, event, payload)
	if err != nil {
		log.Error().Err(err).Str("room", room).Str("event", event).Msg("failed to encode event")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("room", room).Msg("failed to marshal envelope")
		return
	}
	select {
	case cm.broadcastCh <- broadcastMessage{room: room, data: data}:
	default:
		log.Warn().Str("room", room).Str("event", event).Msg("broadcast channel full, dropping message")
	}
}

// Upgrade turns the request into a spectator connection for room and sends
// initial as its first message.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, room string, initial any) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}
	c := &Connection{
		ID:          uuid.NewString(),
		Room:        room,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	if initial != nil {
		env, err := broadcast.NewEnvelope("", room, "session-state", initial)
		if err == nil {
			if data, err := json.Marshal(env); err == nil {
				c.Send <- data
			}
		}
	}
	cm.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().Str("connection_id", c.ID).Str("room", room).Msg("spectator connected")
	return nil
}

func (cm *ConnectionManager) register(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.rooms[c.Room] == nil {
		cm.rooms[c.Room] = make(map[*Connection]bool)
	}
	cm.rooms[c.Room][c] = true
	log.Debug().Str("connection_id", c.ID).Str("room", c.Room).Int("total_connections", len(cm.rooms[c.Room])).Msg("connection registered")
}

func (cm *ConnectionManager) unregister(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	conns, ok := cm.rooms[c.Room]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	close(c.Send)
	if len(conns) == 0 {
		delete(cm.rooms, c.Room)
	}
	log.Info().Str("connection_id", c.ID).Str("room", c.Room).Msg("spectator disconnected")
}

func (cm *ConnectionManager) handleBroadcast(msg broadcastMessage) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.rooms[msg.room]))
	for c := range cm.rooms[msg.room] {
		targets = append(targets, c)
	}
	cm.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.Send <- msg.data:
		default:
			log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, closing connection")
			cm.unregister(c)
			c.Conn.Close()
		}
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, conns := range cm.rooms {
		for c := range conns {
			all = append(all, c)
		}
	}
	cm.mu.RUnlock()
	for _, c := range all {
		cm.unregister(c)
	}
}

type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

func (cm *ConnectionManager) Stats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	s := Stats{ActiveRooms: len(cm.rooms), RoomConnections: make(map[string]int, len(cm.rooms))}
	for room, conns := range cm.rooms {
		s.TotalConnections += len(conns)
		s.RoomConnections[room] = len(conns)
	}
	return s
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only keeps the read deadline alive; spectators cannot send commands.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
