package annotations

import "annotationServer/backend/internal/document"

// ComputeSelectedIDs 选区内每个文本节点都带有的批注 id。
//
// 每一段 range 单独求交集，最终结果取最后一段 range 的结果，
// 多段之间不求交集。
// 没有 range、或最后一段里没有文本节点时返回空。
func ComputeSelectedIDs(doc *document.Document, sel document.Selection) []string {
	var selected []string
	for _, r := range sel.Ranges {
		var running []string
		constrained := false
		doc.NodesBetween(r.From, r.To, func(n *document.Node, pos int) bool {
			if !n.IsText() {
				return true
			}
			ids, _ := NodeIDs(doc, n.ID)
			if !constrained {
				running, constrained = ids, true
				return false
			}
			running = intersect(running, ids)
			return false
		})
		selected = running
	}
	if selected == nil {
		return []string{}
	}
	return selected
}

// intersect 保持 a 的顺序
func intersect(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, x := range a {
		if contains(b, x) {
			out = append(out, x)
		}
	}
	return out
}
