package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"adengine/internal/pkg/logger"
	"adengine/internal/service/ads/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
		return true
	},
}

// StatusMessage 推送给卖家看板的消息
type StatusMessage struct {
	Event      string       `json:"event"`
	AdID       string       `json:"ad_id,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
	Payload    domain.Event `json:"payload"`
}

// StatusHub 维护卖家的 WebSocket 连接，把计费和状态事件推送给对应卖家。
// 实现 port.EventPublisher。
type StatusHub struct {
	clients    map[string]map[*wsClient]struct{} // 使用 SellerID 作为 Key
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	lock       sync.RWMutex
}

func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients:    make(map[string]map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run 处理注册与注销，直到 ctx 结束
func (h *StatusHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case c := <-h.register:
			h.lock.Lock()
			set, ok := h.clients[c.sellerID]
			if !ok {
				set = make(map[*wsClient]struct{})
				h.clients[c.sellerID] = set
			}
			set[c] = struct{}{}
			h.lock.Unlock()
			logger.Ctx(ctx).Debug().Str("seller", c.sellerID).Msg("seller stream registered")
		case c := <-h.unregister:
			h.remove(c)
			logger.Ctx(ctx).Debug().Str("seller", c.sellerID).Msg("seller stream unregistered")
		}
	}
}

func (h *StatusHub) remove(c *wsClient) {
	h.lock.Lock()
	defer h.lock.Unlock()
	set, ok := h.clients[c.sellerID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.sellerID)
	}
}

func (h *StatusHub) closeAll() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for seller, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, seller)
	}
}

// Connections 返回某个卖家当前的连接数
func (h *StatusHub) Connections(sellerID string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients[sellerID])
}

// Publish 把事件推送给卖家的所有连接；缓冲已满的慢连接直接丢弃该消息
func (h *StatusHub) Publish(ctx context.Context, events ...domain.Event) error {
	for _, ev := range events {
		msg := StatusMessage{Event: ev.EventName(), Payload: ev}
		switch e := ev.(type) {
		case domain.ClickCharged:
			msg.AdID, msg.OccurredAt = e.AdID, e.OccurredAt
		case domain.ClickDeclined:
			msg.AdID, msg.OccurredAt = e.AdID, e.OccurredAt
		case domain.AdStateChanged:
			msg.AdID, msg.OccurredAt = e.AdID, e.OccurredAt
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}

		h.lock.RLock()
		for c := range h.clients[ev.Seller()] {
			select {
			case c.send <- data:
			default:
				logger.Ctx(ctx).Warn().Str("seller", c.sellerID).Msg("⚠️ seller stream buffer full, message dropped")
			}
		}
		h.lock.RUnlock()
	}
	return nil
}

// ServeStream GET /v1/sellers/{sellerID}/stream
func (h *StatusHub) ServeStream(w http.ResponseWriter, r *http.Request) {
	sellerID := r.PathValue("sellerID")
	if sellerID == "" {
		http.Error(w, "sellerID is required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), sellerID: sellerID}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *StatusHub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/sellers/{sellerID}/stream", h.ServeStream)
}

// wsClient 是一个 WebSocket 连接的代表
type wsClient struct {
	hub      *StatusHub
	conn     *websocket.Conn
	send     chan []byte
	sellerID string
}

// writePump 负责将 send channel 中的消息写入 websocket，并定时发送 ping
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump 只处理心跳；连接断开后从 hub 注销
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
