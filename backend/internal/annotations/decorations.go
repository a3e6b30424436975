package annotations

import (
	"strings"

	"annotationServer/backend/internal/document"
)

// 状态标签，渲染时加上前缀：annotation-selected
const (
	TagNew      = "new"
	TagSelected = "selected"
	TagActive   = "active"
)

// Synthesize 从头生成整份装饰：
//   - 正在新建批注时，主选区（第一段）[from, to) 上一条 <prefix>-new；
//   - 每个带批注 mark 的文本节点，对其中每个 id 收集 focus/hover、selected、active 标签，
//     非空则在整个节点上生成一条装饰，Spec.ID 为该 id。
func Synthesize(doc *document.Document, sel document.Selection, s *OverlayState) document.DecorationSet {
	var decos []document.Decoration

	if s.newAnnotationType != "" {
		primary := sel.Main()
		decos = append(decos, document.Inline(primary.From, primary.To,
			map[string]string{"class": s.className(TagNew)},
			document.DecorationSpec{InclusiveEnd: true}))
	}

	doc.Descendants(func(n *document.Node, pos int) bool {
		if !n.IsText() {
			return true
		}
		ids, ok := NodeIDs(doc, n.ID)
		if !ok {
			return false
		}
		from, to := pos, pos+doc.NodeSize(n.ID)
		for _, id := range ids {
			tags := s.tagsFor(id)
			if len(tags) == 0 {
				continue
			}
			decos = append(decos, document.Inline(from, to,
				map[string]string{"class": s.className(tags...)},
				document.DecorationSpec{ID: id, InclusiveEnd: true}))
		}
		return false
	})

	return document.NewDecorationSet(decos)
}

func (s *OverlayState) tagsFor(id string) []string {
	var tags []string
	for _, sel := range selectorOrder {
		if owner, ok := s.selectors[sel]; ok && owner == id {
			tags = append(tags, string(sel))
		}
	}
	if contains(s.selectedIDs, id) {
		tags = append(tags, TagSelected)
	}
	if s.activeIDs != nil && contains(s.activeIDs, id) {
		tags = append(tags, TagActive)
	}
	return tags
}

func (s *OverlayState) className(tags ...string) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = s.prefix + "-" + t
	}
	return strings.Join(parts, " ")
}
