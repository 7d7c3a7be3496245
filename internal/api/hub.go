package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/platform"
)

const (
	clientBuffer = 256
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// StreamMessage 推送给订阅方的单条事件
type StreamMessage struct {
	Op platform.Op `json:"op"`
	domain.Event
}

type client struct {
	conn  *websocket.Conn
	addr  string
	send  chan StreamMessage
	types map[domain.EventType]bool // 为空表示全部
}

func (c *client) wants(t domain.EventType) bool {
	return len(c.types) == 0 || c.types[t]
}

// Hub 把平台回执中的事件扇出给 websocket 订阅方。
// 发送不阻塞平台：客户端缓冲满时直接断开该客户端。
type Hub struct {
	Upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	log     *logrus.Entry
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
		log:     logrus.WithField("module", "hub"),
	}
}

// HandleReceipt 实现 platform.ReceiptHandler
func (h *Hub) HandleReceipt(_ context.Context, r *platform.Receipt) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.push(c, r)
	}
	return nil
}

// push 缓冲满即断开该客户端，回执中剩余事件不再投递；调用方持有 mu
func (h *Hub) push(c *client, r *platform.Receipt) {
	for _, e := range r.Events {
		if !c.wants(e.Type) {
			continue
		}
		select {
		case c.send <- StreamMessage{Op: r.Op, Event: e}:
		default:
			h.log.Warnf("client %s too slow, dropping", c.addr)
			h.drop(c)
			return
		}
	}
}

// Len 当前订阅数
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// drop 调用方持有 mu
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Close 断开所有订阅方
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.drop(c)
	}
}

// ServeWS GET /api/events/stream?type=OrderAdded,OrderRedeemed
func (h *Hub) ServeWS(c *gin.Context) {
	types := make(map[domain.EventType]bool)
	for _, t := range strings.Split(c.Query("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[domain.EventType(t)] = true
		}
	}

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debugf("upgrade failed: %v", err)
		return
	}
	cl := &client{conn: conn, addr: conn.RemoteAddr().String(), send: make(chan StreamMessage, clientBuffer), types: types}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go h.writePump(cl)
	h.readPump(cl)
}

// readPump 只用于感知断开
func (h *Hub) readPump(cl *client) {
	defer func() {
		h.mu.Lock()
		h.drop(cl)
		h.mu.Unlock()
	}()
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
