package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

// 客户端可发送的控制消息
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// ControlMessage 客户端调整关注页面的消息
type ControlMessage struct {
	Action  string   `json:"action"`
	PageIDs []string `json:"page_ids"`
}

// Client 一个 WebSocket 连接
type Client struct {
	ID     string
	UserID string
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte

	mu    sync.RWMutex
	pages map[string]bool // 为空时接收所有页面的事件
}

// NewClient 创建客户端,pageIDs 为初始关注的页面
func NewClient(id string, userID string, hub *Hub, conn *websocket.Conn, pageIDs ...string) *Client {
	c := &Client{
		ID:     id,
		UserID: userID,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		pages:  make(map[string]bool, len(pageIDs)),
	}
	c.Subscribe(pageIDs...)
	return c
}

// Watches 客户端是否关注该页面
func (c *Client) Watches(pageID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.pages) == 0 || pageID == "" {
		return true
	}
	return c.pages[pageID]
}

// Subscribe 增加关注的页面
func (c *Client) Subscribe(pageIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range pageIDs {
		if id != "" {
			c.pages[id] = true
		}
	}
}

// Unsubscribe 取消关注页面,全部取消后恢复接收所有页面
func (c *Client) Unsubscribe(pageIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range pageIDs {
		delete(c.pages, id)
	}
}

// apply 处理一条控制消息
func (c *Client) apply(data []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logrus.WithField("client_id", c.ID).Debug("ignoring malformed websocket message")
		return
	}
	switch msg.Action {
	case ActionSubscribe:
		c.Subscribe(msg.PageIDs...)
	case ActionUnsubscribe:
		c.Unsubscribe(msg.PageIDs...)
	default:
		logrus.WithFields(logrus.Fields{"client_id": c.ID, "action": msg.Action}).Debug("unknown websocket action")
	}
}

// ReadPump 读取客户端的控制消息,连接断开时从 Hub 注销
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("client_id", c.ID).Warn("websocket closed unexpectedly")
			}
			return
		}
		c.apply(data)
	}
}

// WritePump 推送事件并定时发送心跳,每个事件单独一帧
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
