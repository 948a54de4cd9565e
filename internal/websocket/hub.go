package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mautops/moderation-gin/internal/events"
)

// Message 带页面标识的广播消息
type Message struct {
	PageID string
	Data   []byte
}

// Hub 管理所有 WebSocket 连接,按页面分发审核事件
type Hub struct {
	clients map[*Client]bool

	// Broadcast 发送到订阅了该页面的客户端,PageID 为空时发给所有客户端
	Broadcast chan Message

	Register   chan *Client
	Unregister chan *Client

	mu sync.RWMutex
}

// NewHub 创建新的 Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Run 运行 Hub,ctx 结束时关闭所有客户端
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()

		case msg := <-h.Broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.Watches(msg.PageID) {
					continue
				}
				select {
				case client.Send <- msg.Data:
				default:
					// 发送队列已满的客户端直接断开
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Handle 实现 events.Handler,将审核事件推送给关注该页面的客户端
func (h *Hub) Handle(ctx context.Context, evt *events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	select {
	case h.Broadcast <- Message{PageID: evt.PageID, Data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasClient 检查客户端是否存在
func (h *Hub) HasClient(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.ID == clientID {
			return true
		}
	}
	return false
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
