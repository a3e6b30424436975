package ws

import (
	"time"

	"annotationServer/backend/internal/cache"
	"annotationServer/backend/internal/collab"
	"annotationServer/backend/internal/document"
	"annotationServer/backend/internal/ot/delta"
)

type ClientMessage struct {
	Type         string      `json:"type"`
	DocID        string      `json:"docId"`
	DocTitle     string      `json:"docTitle"`
	Paragraphs   []string    `json:"paragraphs,omitempty"` // createDocument 的初始内容
	BaseRevision uint64      `json:"baseRevision"`
	ClientId     string      `json:"clientId"`
	ClientSeq    uint64      `json:"clientSeq"`
	Ops          delta.Delta `json:"ops"`
	// select：多个区间，最后一个区间决定选中的批注
	Ranges []document.Range `json:"ranges,omitempty"`
	// 批注命令参数
	ID             string   `json:"id,omitempty"`
	IDs            []string `json:"ids"` // null 或缺省表示关闭激活高亮
	Selector       string   `json:"selector,omitempty"`
	AnnotationType string   `json:"annotationType,omitempty"`
	Key            string   `json:"key,omitempty"`
}

type PresenceMember struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username,omitempty"`
}

type ServerMessage struct {
	Type     string           `json:"type"`
	UserID   uint64           `json:"userId,omitempty"`
	DocID    string           `json:"docId,omitempty"`
	ClientId string           `json:"clientId,omitempty"`
	Revision uint64           `json:"revision,omitempty"`
	Members  []PresenceMember `json:"members,omitempty"`
	Content  string           `json:"content,omitempty"`
	// loadDocumentContent 返回的文档树 JSON
	Document interface{} `json:"document,omitempty"`
}

type OpSubmitMessage struct {
	Type         string `json:"type"`
	DocID        string `json:"docId"`
	BaseRevision uint64 `json:"baseRevision"`
	// 客户端实例标识。同一用户可有多个 clientId（多端/多标签页）。
	ClientId string `json:"clientId"`
	// 针对同一个 clientId 的“本地递增序号”
	ClientSeq uint64      `json:"clientSeq"`
	Ops       delta.Delta `json:"ops"`
}

// 广播给同文档房间内其他连接的“已应用操作”事件
// - 与 op_applied(ack) 区分：这里用于把变更推送给其他协作者（包括同用户的其他标签页）
// - 批注命令改动文档时 Ops 为空，Command/AnnotationID 描述改动
type OpBroadcastMessage struct {
	Type         string      `json:"type"` // 固定 "op_broadcast"
	DocID        string      `json:"docId"`
	Revision     uint64      `json:"revision"` // 服务端已应用后的最新版本
	AuthorID     uint64      `json:"authorId"`
	ClientId     string      `json:"clientId,omitempty"`
	ClientSeq    uint64      `json:"clientSeq,omitempty"`
	Ops          delta.Delta `json:"ops,omitempty"`
	Command      string      `json:"command,omitempty"`
	AnnotationID string      `json:"annotationId,omitempty"`
	AppliedAt    time.Time   `json:"appliedAt,omitempty"`
}

type OpAppliedMessage struct {
	Type            string `json:"type"` // 固定 "op_applied"
	DocID           string `json:"docId"`
	BaseRevision    uint64 `json:"baseRevision"`    // 客户端提交时的 base
	CurrentRevision uint64 `json:"currentRevision"` // 服务端应用后的最新版本
	ClientId        string `json:"clientId"`
	ClientSeq       uint64 `json:"clientSeq"`
}

// 批注命令执行结果
type CommandResultMessage struct {
	Type       string `json:"type"` // 固定 "command_result"
	DocID      string `json:"docId"`
	Command    string `json:"command"`
	Applied    bool   `json:"applied"`
	DocChanged bool   `json:"docChanged"`
	Revision   uint64 `json:"revision"`
}

// 当前会话的装饰与选中批注
type DecorationsMessage struct {
	Type string `json:"type"` // 固定 "decorations"
	collab.SessionView
}

// 房间内各用户占用的选择器
type SelectorsMessage struct {
	Type      string                   `json:"type"` // 固定 "selectors"
	DocID     string                   `json:"docId"`
	Selectors []cache.SelectorPresence `json:"selectors"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string        { return m.Type }
func (m OpAppliedMessage) MessageType() string     { return m.Type }
func (m OpBroadcastMessage) MessageType() string   { return m.Type }
func (m CommandResultMessage) MessageType() string { return m.Type }
func (m DecorationsMessage) MessageType() string   { return m.Type }
func (m SelectorsMessage) MessageType() string     { return m.Type }

func broadcastOf(docID string, op collab.AppliedOp) OpBroadcastMessage {
	return OpBroadcastMessage{
		Type:         "op_broadcast",
		DocID:        docID,
		Revision:     op.Revision,
		AuthorID:     op.AuthorID,
		ClientId:     op.ClientID,
		ClientSeq:    op.ClientSeq,
		Ops:          op.Ops,
		Command:      op.Command,
		AnnotationID: op.AnnotationID,
		AppliedAt:    op.AppliedAt,
	}
}
