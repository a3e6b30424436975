package ws

import (
	"context"
	"log"
	"sync"

	"annotationServer/backend/internal/cache"
	"annotationServer/backend/internal/collab"
)

type Hub struct {
	// 接口实例（一般是 Redis 实现的客户端句柄），用来落地/共享在线状态与选择器占用
	presence cache.PresenceCache
	// 保护 rooms，加入/离开房间、广播时都会先加锁
	mu sync.RWMutex
	// docID -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定文档房间
func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		// 一个用户可开多个标签页/设备（多连接），广播要逐连接发
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

// Leave 将连接从指定文档房间移除
func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// conns 房间内连接的快照，遍历时不持锁
func (h *Hub) conns(docID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.rooms[docID]))
	for c := range h.rooms[docID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) BroadcastPresence(docID string, members []PresenceMember) {
	msg := ServerMessage{Type: "presence", DocID: docID, Members: members}
	for _, c := range h.conns(docID) {
		c.SendMessage_Enqueue(msg)
	}
}

// BroadcastAppliedOp 把已应用的操作推给房间里除 from 以外的连接
func (h *Hub) BroadcastAppliedOp(docID string, from *Conn, op collab.AppliedOp) {
	msg := broadcastOf(docID, op)
	for _, c := range h.conns(docID) {
		if c == from {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}

// PushDecorations 文档变化后，每个会话的装饰都要重新下发
func (h *Hub) PushDecorations(ctx context.Context, docID string) {
	for _, c := range h.conns(docID) {
		c.pushDecorations(ctx)
	}
}

func (h *Hub) BroadcastSelectors(ctx context.Context, docID string) {
	if h.presence == nil {
		return
	}
	sels, err := h.presence.GetSelectors(ctx, docID)
	if err != nil {
		log.Printf("get selectors error (doc=%s): %v", docID, err)
		return
	}
	msg := SelectorsMessage{Type: "selectors", DocID: docID, Selectors: sels}
	for _, c := range h.conns(docID) {
		c.SendMessage_Enqueue(msg)
	}
}
