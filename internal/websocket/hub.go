// Package websocket 把新邮件实时推送给正在查看收件箱的租约持有者。
//
// Hub 同时是一个 notify.Notifier：分发器投递的 message.received 事件
// 会转发给订阅了该地址的连接。地址被出租、被认领或租约被删除时，
// 除新持有者以外的连接都会被断开。
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/lease/internal/domain"
	"tempmail/lease/internal/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// MessageType 推送消息类型
type MessageType string

const (
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeNewMail     MessageType = "new_mail"
	MessageTypeLeaseClosed MessageType = "lease_closed"
)

// Message 推送给客户端的消息
type Message struct {
	Type      MessageType `json:"type"`
	Address   string      `json:"address"`
	Data      *NewMail    `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMail 新邮件摘要，正文需要通过 /v1/messages/:id 读取
type NewMail struct {
	MessageID  string    `json:"messageId"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Client 单个 WebSocket 连接，只订阅一个地址
type Client struct {
	ID      string
	Address string
	UserID  string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
}

// AccessChecker 判断用户当前能否读取邮箱
type AccessChecker interface {
	CanAccess(ctx context.Context, userID, email string) (bool, error)
}

type broadcast struct {
	address string
	payload []byte             // nil 时不向保留的连接推送
	drop    func(*Client) bool // 返回 true 的连接收到 lease_closed 后断开
}

// Hub 管理全部连接。注册、注销和广播都在 Run 的循环里串行处理。
type Hub struct {
	clients    map[string]map[string]*Client // address -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcast
	upgrader   websocket.Upgrader
	access     AccessChecker
	mu         sync.RWMutex
	log        *zap.Logger
}

// NewHub 创建 Hub，allowedOrigins 为空或包含 "*" 时不校验 Origin
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcast, 256),
		upgrader:   newUpgrader(allowedOrigins),
		log:        log.Named("websocket"),
	}
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// SetAccessChecker 设置推送新邮件前的权限复核，nil 时不复核
func (h *Hub) SetAccessChecker(access AccessChecker) {
	h.access = access
}

// Run 处理连接事件直到 ctx 结束，结束时关闭全部连接
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Address] == nil {
				h.clients[client.Address] = make(map[string]*Client)
			}
			h.clients[client.Address][client.ID] = client
			h.mu.Unlock()
			client.enqueue(encode(&Message{
				Type:      MessageTypeSubscribed,
				Address:   client.Address,
				Timestamp: time.Now().UTC(),
			}))
			h.log.Debug("client subscribed",
				zap.String("client_id", client.ID),
				zap.String("address", client.Address),
			)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Name 通道名称
func (h *Hub) Name() string { return "websocket" }

// Notify 把事件转给订阅者，没有订阅者的地址直接忽略
func (h *Hub) Notify(ctx context.Context, event domain.Event) error {
	if event.Email == "" || h.Subscribers(event.Email) == 0 {
		return nil
	}

	var msg broadcast
	switch event.Type {
	case domain.EventMessageReceived:
		revoked := h.revoked(ctx, event.Email)
		msg = broadcast{
			address: event.Email,
			payload: encode(&Message{
				Type:    MessageTypeNewMail,
				Address: event.Email,
				Data: &NewMail{
					MessageID:  event.MessageID,
					From:       event.From,
					Subject:    event.Subject,
					ReceivedAt: event.OccurredAt,
				},
				Timestamp: time.Now().UTC(),
			}),
			drop: func(c *Client) bool { return revoked[c.UserID] },
		}
	case domain.EventLeaseCreated, domain.EventLeaseReassigned:
		owner := event.UserID
		msg = broadcast{
			address: event.Email,
			drop:    func(c *Client) bool { return owner == "" || c.UserID != owner },
		}
	case domain.EventLeaseDeleted:
		msg = broadcast{
			address: event.Email,
			drop:    func(*Client) bool { return true },
		}
	default:
		return nil
	}

	select {
	case h.broadcast <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// revoked 复核地址的每个订阅用户，返回已经无权读取的用户。
// 查询失败按无权处理。
func (h *Hub) revoked(ctx context.Context, address string) map[string]bool {
	if h.access == nil {
		return nil
	}

	h.mu.RLock()
	users := make(map[string]struct{}, len(h.clients[address]))
	for _, client := range h.clients[address] {
		users[client.UserID] = struct{}{}
	}
	h.mu.RUnlock()

	revoked := make(map[string]bool)
	for userID := range users {
		ok, err := h.access.CanAccess(ctx, userID, address)
		if err != nil {
			h.log.Warn("access check failed, dropping subscribers",
				zap.String("address", address),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		if err != nil || !ok {
			revoked[userID] = true
		}
	}
	return revoked
}

// Subscribers 返回地址当前的连接数
func (h *Hub) Subscribers(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[address])
}

// Handle 升级连接并订阅路由里 "address" 对应的地址。
// 访问权限由前置的租约中间件检查。
func (h *Hub) Handle(c *gin.Context) {
	address := c.GetString("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection",
			zap.Error(err),
			zap.String("origin", c.Request.Header.Get("Origin")),
			zap.String("ip", c.ClientIP()),
		)
		return
	}

	client := &Client{
		ID:      uuid.NewString(),
		Address: address,
		UserID:  middleware.UserID(c),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
	}

	select {
	case h.register <- client:
	case <-c.Request.Context().Done():
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) deliver(msg broadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[msg.address]
	if len(clients) == 0 {
		return
	}

	var closing []byte
	for id, client := range clients {
		if msg.drop != nil && msg.drop(client) {
			if closing == nil {
				closing = encode(&Message{
					Type:      MessageTypeLeaseClosed,
					Address:   msg.address,
					Timestamp: time.Now().UTC(),
				})
			}
			client.enqueue(closing)
			delete(clients, id)
			close(client.send)
			h.log.Debug("client dropped", zap.String("client_id", id), zap.String("address", msg.address))
			continue
		}
		if !client.enqueue(msg.payload) {
			h.log.Warn("client channel blocked, dropping connection", zap.String("client_id", id))
			delete(clients, id)
			close(client.send)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, msg.address)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.Address]
	if !ok {
		return
	}
	if _, ok := clients[client.ID]; !ok {
		return
	}
	delete(clients, client.ID)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.Address)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for _, client := range clients {
			close(client.send)
		}
	}
	h.clients = make(map[string]map[string]*Client)
}

// enqueue 非阻塞写入发送队列
func (c *Client) enqueue(payload []byte) bool {
	if payload == nil {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// readPump 只处理控制帧，连接断开时注销
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-time.After(writeWait):
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
	}
}

// writePump 发送队列中的消息并定期 ping，队列关闭时发送关闭帧
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(msg *Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return data
}
