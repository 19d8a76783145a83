package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iabetor/gcptts/internal/logger"
)

// Role 是 WebSocket 客户端的角色。
type Role string

const (
	// RoleOverlay 浏览器 overlay，接收 "sound" 事件。
	RoleOverlay Role = "overlay"
	// RoleFrontend 宿主前端，接收 "playsound" 事件。
	RoleFrontend Role = "frontend"
)

const writeWait = 5 * time.Second

// Event 是推送给客户端的消息。
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type hubClient struct {
	conn     *websocket.Conn
	role     Role
	instance string
	writeMu  sync.Mutex
}

func (c *hubClient) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub 管理 overlay 与宿主前端的 WebSocket 连接。
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[*hubClient]struct{}
	closed   bool
}

// NewHub 创建 Hub。
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP 升级连接。查询参数 role 为 overlay（默认）或 frontend，instance 为 overlay 实例名。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role := Role(r.URL.Query().Get("role"))
	if role == "" {
		role = RoleOverlay
	}
	if role != RoleOverlay && role != RoleFrontend {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("[playback] WebSocket 升级失败: %v", err)
		return
	}
	c := &hubClient{conn: conn, role: role, instance: r.URL.Query().Get("instance")}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Infof("[playback] %s 客户端已连接 (instance=%q, 来自 %s)", role, c.instance, r.RemoteAddr)

	// 只读取以处理 ping/close，客户端消息被忽略
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	logger.Infof("[playback] %s 客户端已断开 (instance=%q)", role, c.instance)
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.conn.Close()
	}
	h.mu.Unlock()
}

// Count 返回指定角色的连接数。
func (h *Hub) Count(role Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.role == role {
			n++
		}
	}
	return n
}

// Broadcast 向匹配角色与实例的客户端发送事件，返回成功送达的数量。
// 没有任何客户端收到时返回 ErrNoListeners。
func (h *Hub) Broadcast(ctx context.Context, role Role, instance string, ev Event) (int, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("[playback] 序列化事件失败: %w", err)
	}

	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if c.role == role && (role != RoleOverlay || c.instance == instance) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := c.write(data); err != nil {
			logger.Warnf("[playback] 发送到 %s 客户端失败: %v", c.role, err)
			h.remove(c)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return 0, ErrNoListeners
	}
	return delivered, nil
}

// Overlay 返回向 overlay 推送 "sound" 事件的播放面。
func (h *Hub) Overlay() Surface {
	return SurfaceFunc(func(ctx context.Context, p SoundPayload) error {
		_, err := h.Broadcast(ctx, RoleOverlay, p.OverlayInstance, Event{Event: "sound", Data: p})
		return err
	})
}

// Frontend 返回请求宿主前端播放的 "playsound" 播放面。
func (h *Hub) Frontend() Surface {
	return SurfaceFunc(func(ctx context.Context, p SoundPayload) error {
		_, err := h.Broadcast(ctx, RoleFrontend, "", Event{Event: "playsound", Data: p})
		return err
	})
}

// Close 关闭所有连接并拒绝新连接。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		c.conn.Close()
		delete(h.clients, c)
	}
}
