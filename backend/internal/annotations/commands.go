package annotations

import "annotationServer/backend/internal/document"

// 所有命令在 dispatch 为 nil（只询问能否执行）时返回 false，且不做任何修改

// withAction 只携带元数据、不改文档的命令
func (a *Annotations) withAction(act Action) document.Command {
	return func(state *document.EditorState, dispatch func(*document.Transaction)) bool {
		if dispatch == nil {
			return false
		}
		dispatch(state.Tr().SetMeta(a.key, act))
		return true
	}
}

// ShowNewAnnotation 在当前选区上显示新建批注
func (a *Annotations) ShowNewAnnotation(annotationType string) document.Command {
	return a.withAction(SetNewAnnotationType{Type: annotationType})
}

func (a *Annotations) HideNewAnnotation() document.Command {
	return a.withAction(SetNewAnnotationType{})
}

// SetActiveAnnotationIDs ids 为 nil 时关闭激活高亮
func (a *Annotations) SetActiveAnnotationIDs(ids []string) document.Command {
	return a.withAction(SetActiveAnnotations{ActiveIDs: cloneIDs(ids)})
}

func (a *Annotations) SetAnnotationSelector(sel Selector, id string) document.Command {
	if !sel.Valid() || id == "" {
		return rejected
	}
	return a.withAction(SetAnnotationSelector{Selector: sel, ID: id})
}

// UnsetAnnotationSelector 持有者不是 id 时状态不变，但命令仍然返回 true
func (a *Annotations) UnsetAnnotationSelector(sel Selector, id string) document.Command {
	if !sel.Valid() {
		return rejected
	}
	return a.withAction(UnsetAnnotationSelector{Selector: sel, ID: id})
}

// AddAnnotationID 把 id 加到当前选区；选区为空时返回 false
func (a *Annotations) AddAnnotationID(id string) document.Command {
	return func(state *document.EditorState, dispatch func(*document.Transaction)) bool {
		if dispatch == nil || id == "" {
			return false
		}
		changes, ok := PlanAddAnnotationID(state.Doc(), state.Selection(), id)
		if !ok {
			return false
		}
		tr := state.Tr()
		if err := ApplyMarkChanges(tr, changes); err != nil {
			return false
		}
		dispatch(tr)
		return true
	}
}

// RemoveAnnotationID 从整篇文档移除 id
func (a *Annotations) RemoveAnnotationID(id string) document.Command {
	return func(state *document.EditorState, dispatch func(*document.Transaction)) bool {
		if dispatch == nil || id == "" {
			return false
		}
		tr := state.Tr()
		if err := ApplyMarkChanges(tr, PlanRemoveAnnotationID(state.Doc(), id)); err != nil {
			return false
		}
		dispatch(tr)
		return true
	}
}

func rejected(*document.EditorState, func(*document.Transaction)) bool { return false }
