package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/showpls/showpls-backend/internal/goroutine"
	"github.com/showpls/showpls-backend/internal/logger"
)

// Hub управляет всеми WebSocket подключениями. Один пользователь может
// держать несколько соединений (Mini App на телефоне и десктопе),
// событие доставляется во все.
type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
}

type envelope struct {
	userID  uuid.UUID
	payload []byte
}

// NewHub создаёт новый хаб.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 32),
	}
}

// Run запускает главный цикл хаба. Вызывается одной горутиной.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg.userID, msg.payload)
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// SendToUser доставляет событие во все соединения пользователя.
// Событие сериализуется как есть: тип события кладёт отправитель.
func (h *Hub) SendToUser(userID uuid.UUID, event interface{}) {
	raw, err := json.Marshal(event)
	if err != nil {
		logger.Log.Errorf("ws: не удалось сериализовать событие: %v", err)
		return
	}
	h.broadcast <- envelope{userID: userID, payload: raw}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			// Буфер клиента забит — соединение мертво, закрываем в фоне.
			c := client
			goroutine.SafeGo("ws-close-slow-client", func() { c.Close() })
		}
	}
}
