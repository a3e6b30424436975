package collab

import (
	"fmt"

	"annotationServer/backend/internal/annotations"
	"annotationServer/backend/internal/document"
)

// 批注命令名，与 websocket 消息类型一致
const (
	CmdShowNewAnnotation       = "showNewAnnotation"
	CmdHideNewAnnotation       = "hideNewAnnotation"
	CmdAddAnnotationID         = "addAnnotationId"
	CmdRemoveAnnotationID      = "removeAnnotationId"
	CmdSetActiveAnnotationIDs  = "setActiveAnnotationIds"
	CmdSetAnnotationSelector   = "setAnnotationSelector"
	CmdUnsetAnnotationSelector = "unsetAnnotationSelector"
)

// Command 客户端发来的批注命令。
// setActiveAnnotationIds 中 IDs 为 nil（缺省或 null）表示关闭激活高亮
type Command struct {
	Name           string   `json:"command"`
	ID             string   `json:"id,omitempty"`
	IDs            []string `json:"ids"`
	Selector       string   `json:"selector,omitempty"`
	AnnotationType string   `json:"annotationType,omitempty"`
}

func IsCommand(name string) bool {
	switch name {
	case CmdShowNewAnnotation, CmdHideNewAnnotation, CmdAddAnnotationID, CmdRemoveAnnotationID,
		CmdSetActiveAnnotationIDs, CmdSetAnnotationSelector, CmdUnsetAnnotationSelector:
		return true
	}
	return false
}

// resolve 把命令翻译成会话扩展上的 document.Command
func resolve(ann *annotations.Annotations, cmd Command, defaultType string) (document.Command, error) {
	switch cmd.Name {
	case CmdShowNewAnnotation:
		typ := cmd.AnnotationType
		if typ == "" {
			typ = defaultType
		}
		return ann.ShowNewAnnotation(typ), nil
	case CmdHideNewAnnotation:
		return ann.HideNewAnnotation(), nil
	case CmdAddAnnotationID:
		return ann.AddAnnotationID(cmd.ID), nil
	case CmdRemoveAnnotationID:
		return ann.RemoveAnnotationID(cmd.ID), nil
	case CmdSetActiveAnnotationIDs:
		return ann.SetActiveAnnotationIDs(cmd.IDs), nil
	case CmdSetAnnotationSelector:
		return ann.SetAnnotationSelector(annotations.Selector(cmd.Selector), cmd.ID), nil
	case CmdUnsetAnnotationSelector:
		return ann.UnsetAnnotationSelector(annotations.Selector(cmd.Selector), cmd.ID), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
}
