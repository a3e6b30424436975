package collab

import (
	"time"

	"annotationServer/backend/internal/ot/delta"
)

// 事件类型
const (
	EventOpApplied         = "OP_APPLIED"
	EventAnnotationAdded   = "ANNOTATION_ADDED"
	EventAnnotationRemoved = "ANNOTATION_REMOVED"
)

type DocEvent struct {
	EventType    string      `json:"eventType"`
	DocID        string      `json:"docId"`
	OperationID  string      `json:"operationId"`
	Revision     uint64      `json:"revision"`
	AuthorID     uint64      `json:"authorId"`
	ClientID     string      `json:"clientId"`
	ClientSeq    uint64      `json:"clientSeq,omitempty"` // 针对同一个 clientId 的“本地递增序号”
	BaseRevision uint64      `json:"baseRevision"`
	Ops          delta.Delta `json:"ops,omitempty"`
	AnnotationID string      `json:"annotationId,omitempty"` // 批注事件才有
	AppliedAt    time.Time   `json:"appliedAt"`
}

func eventFromOp(docID string, op AppliedOp) DocEvent {
	evt := DocEvent{
		EventType:    EventOpApplied,
		DocID:        docID,
		OperationID:  op.OperationID,
		Revision:     op.Revision,
		AuthorID:     op.AuthorID,
		ClientID:     op.ClientID,
		ClientSeq:    op.ClientSeq,
		BaseRevision: op.Revision - 1,
		Ops:          op.Ops,
		AnnotationID: op.AnnotationID,
		AppliedAt:    op.AppliedAt,
	}
	switch op.Command {
	case CmdAddAnnotationID:
		evt.EventType = EventAnnotationAdded
	case CmdRemoveAnnotationID:
		evt.EventType = EventAnnotationRemoved
	}
	return evt
}
