package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"device-notifier/internal/logging"
	"device-notifier/internal/models"
)

const (
	maxConnections = 50
	writeWait      = 5 * time.Second
)

// WebSocketManager fans run events out to connected WebSocket clients.
type WebSocketManager struct {
	connections map[*websocket.Conn]bool
	mutex       sync.Mutex
	logger      *logging.Logger
	writeWait   time.Duration
}

// NewWebSocketManager creates an empty manager.
func NewWebSocketManager(logger *logging.Logger) *WebSocketManager {
	return &WebSocketManager{
		connections: make(map[*websocket.Conn]bool),
		logger:      logger,
		writeWait:   writeWait,
	}
}

// AddConnection registers conn. It returns false when the connection limit
// is reached.
func (m *WebSocketManager) AddConnection(conn *websocket.Conn) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.connections) >= maxConnections {
		m.logger.Warnf("Max WebSocket connections reached (%d)", maxConnections)
		return false
	}
	m.connections[conn] = true
	m.logger.Infof("Added WebSocket connection (total: %d)", len(m.connections))
	return true
}

// RemoveConnection unregisters conn.
func (m *WebSocketManager) RemoveConnection(conn *websocket.Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, exists := m.connections[conn]; exists {
		delete(m.connections, conn)
		m.logger.Infof("Removed WebSocket connection (remaining: %d)", len(m.connections))
	}
}

// Count returns the number of open connections.
func (m *WebSocketManager) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.connections)
}

// Broadcast sends event to every connection as JSON. Connections that fail
// or stall a write past the write deadline are dropped.
func (m *WebSocketManager) Broadcast(event models.RunEvent) {
	message, err := json.Marshal(event)
	if err != nil {
		m.logger.Errorf("Failed to encode run event: %v", err)
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for conn := range m.connections {
		if err := conn.SetWriteDeadline(time.Now().Add(m.writeWait)); err != nil {
			m.logger.Errorf("Failed to set WebSocket write deadline: %v", err)
			delete(m.connections, conn)
			_ = conn.Close()
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			m.logger.Errorf("Failed to send WebSocket message: %v", err)
			delete(m.connections, conn)
			_ = conn.Close()
		}
	}
}
