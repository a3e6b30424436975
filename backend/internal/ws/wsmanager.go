package ws

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"annotationServer/backend/internal/collab"
)

// 默认允许本地开发环境的来源
var defaultAllowedOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

// originAllowed 比较 scheme 和 host；允许项不带端口时匹配任意端口
func originAllowed(origin string, allowed []string) bool {
	o, err := url.Parse(origin)
	if err != nil || o.Host == "" {
		return false
	}
	for _, p := range allowed {
		if p == "*" {
			return true
		}
		a, err := url.Parse(p)
		if err != nil || a.Host == "" || !strings.EqualFold(a.Scheme, o.Scheme) {
			continue
		}
		if a.Port() == "" {
			if strings.EqualFold(a.Hostname(), o.Hostname()) {
				return true
			}
			continue
		}
		if strings.EqualFold(a.Host, o.Host) {
			return true
		}
	}
	return false
}

func newUpgrader(allowed []string) websocket.Upgrader {
	if len(allowed) == 0 {
		allowed = defaultAllowedOrigins
	}
	return websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
			return true
		}
		return originAllowed(origin, allowed)
	}}
}

type Manager struct {
	h        *Hub
	svc      collab.Service
	sem      *collab.SemaphoreControl
	upgrader websocket.Upgrader
	opts     ConnOptions
}

func NewManager(h *Hub, svc collab.Service, sem *collab.SemaphoreControl, allowedOrigins []string, opts ConnOptions) *Manager {
	return &Manager{h: h, svc: svc, sem: sem, upgrader: newUpgrader(allowedOrigins), opts: opts}
}

// WebSocketConnect gin handler；userId / username 由鉴权中间件写入
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.h, userID, username, m.svc, m.sem, m.opts)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.SendMessage_Enqueue(ServerMessage{Type: "welcome", UserID: userID})

	// 最后再进入读循环（阻塞至连接关闭）
	wsConn.readLoop(c.Request.Context())
}
