package annotations

import "annotationServer/backend/internal/document"

const DefaultPrefix = "annotation"

// OverlayState 一个编辑会话的批注叠加状态。
// 不可变：Apply 总是返回新快照，访问器返回拷贝。
type OverlayState struct {
	prefix            string
	activeIDs         []string // nil 表示未设置
	newAnnotationType string   // 空表示未在新建
	selectors         map[Selector]string
	selectedIDs       []string
	decorations       document.DecorationSet
}

// NewOverlayState 创建初始状态，selectedIDs/decorations 要等 Recompute 之后才有值
func NewOverlayState(activeIDs []string, prefix string) *OverlayState {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &OverlayState{
		prefix:      prefix,
		activeIDs:   cloneIDs(activeIDs),
		selectors:   map[Selector]string{},
		selectedIDs: []string{},
	}
}

func (s *OverlayState) Prefix() string { return s.prefix }

// ActiveIDs 第二个返回值表示是否设置了激活列表
func (s *OverlayState) ActiveIDs() ([]string, bool) {
	return cloneIDs(s.activeIDs), s.activeIDs != nil
}

func (s *OverlayState) NewAnnotationType() (string, bool) {
	return s.newAnnotationType, s.newAnnotationType != ""
}

// Selector 通道当前的持有者
func (s *OverlayState) Selector(sel Selector) (string, bool) {
	id, ok := s.selectors[sel]
	return id, ok
}

func (s *OverlayState) Selectors() map[Selector]string {
	out := make(map[Selector]string, len(s.selectors))
	for k, v := range s.selectors {
		out[k] = v
	}
	return out
}

func (s *OverlayState) SelectedIDs() []string {
	return append([]string{}, s.selectedIDs...)
}

func (s *OverlayState) Decorations() document.DecorationSet { return s.decorations }

func (s *OverlayState) clone() *OverlayState {
	c := *s
	c.activeIDs = cloneIDs(s.activeIDs)
	c.selectors = s.Selectors()
	c.selectedIDs = s.SelectedIDs()
	return &c
}

// Apply reducer：先执行 action（nil 或未知类型不改字段），
// 再按新的文档和选区重新计算 selectedIDs 和 decorations
func (s *OverlayState) Apply(action Action, doc *document.Document, sel document.Selection) *OverlayState {
	next := s.clone()
	switch a := action.(type) {
	case SetActiveAnnotations:
		next.activeIDs = cloneIDs(a.ActiveIDs)
	case SetAnnotationSelector:
		next.selectors[a.Selector] = a.ID
	case UnsetAnnotationSelector:
		if cur, ok := next.selectors[a.Selector]; ok && cur == a.ID {
			delete(next.selectors, a.Selector)
		}
	case SetNewAnnotationType:
		next.newAnnotationType = a.Type
	}
	next.recompute(doc, sel)
	return next
}

// Recompute 不带 action 的重新计算
func (s *OverlayState) Recompute(doc *document.Document, sel document.Selection) *OverlayState {
	return s.Apply(nil, doc, sel)
}

func (s *OverlayState) recompute(doc *document.Document, sel document.Selection) {
	s.selectedIDs = ComputeSelectedIDs(doc, sel)
	s.decorations = Synthesize(doc, sel, s)
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	return append([]string{}, ids...)
}
