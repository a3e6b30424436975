package annotations

import (
	"fmt"

	"annotationServer/backend/internal/document"
)

// MarkChange 对 [From, To) 写入新的 ids；IDs 为 nil 表示移除批注 mark
type MarkChange struct {
	From int      `json:"from"`
	To   int      `json:"to"`
	IDs  []string `json:"ids"`
}

// PlanAddAnnotationID 计算把 id 加到选区上需要的修改。
// 每个与选区相交的文本节点裁剪到选区边界，在原有 ids 后追加 id（不去重）。
// 选区为空时返回 false。
func PlanAddAnnotationID(doc *document.Document, sel document.Selection, id string) ([]MarkChange, bool) {
	if sel.Empty() {
		return nil, false
	}
	var changes []MarkChange
	for _, r := range sel.Ranges {
		doc.NodesBetween(r.From, r.To, func(n *document.Node, pos int) bool {
			if !n.IsText() {
				return true
			}
			from := max(pos, r.From)
			to := min(pos+doc.NodeSize(n.ID), r.To)
			if from >= to {
				return false
			}
			existing, _ := NodeIDs(doc, n.ID)
			changes = append(changes, MarkChange{From: from, To: to, IDs: append(existing, id)})
			return false
		})
	}
	return changes, true
}

// PlanRemoveAnnotationID 在整篇文档里移除 id，不受选区限制
func PlanRemoveAnnotationID(doc *document.Document, id string) []MarkChange {
	var changes []MarkChange
	doc.Descendants(func(n *document.Node, pos int) bool {
		if !n.IsText() {
			return true
		}
		ids, ok := NodeIDs(doc, n.ID)
		if !ok || !contains(ids, id) {
			return false
		}
		var rest []string
		for _, x := range ids {
			if x != id {
				rest = append(rest, x)
			}
		}
		changes = append(changes, MarkChange{From: pos, To: pos + doc.NodeSize(n.ID), IDs: rest})
		return false
	})
	return changes
}

// ApplyMarkChanges 把修改写进事务。mark step 不移动位置，按顺序应用即可
func ApplyMarkChanges(tr *document.Transaction, changes []MarkChange) error {
	for _, c := range changes {
		var err error
		if len(c.IDs) == 0 {
			err = tr.RemoveMark(c.From, c.To, MarkType)
		} else {
			err = tr.AddMark(c.From, c.To, NewMark(c.IDs))
		}
		if err != nil {
			return fmt.Errorf("mark change [%d,%d): %w", c.From, c.To, err)
		}
	}
	return nil
}

// Span 一个批注覆盖的连续区间
type Span struct {
	ID   string `json:"id"`
	From int    `json:"from"`
	To   int    `json:"to"`
}

// Spans 导出文档里所有批注的区间，同一 id 首尾相接的区间合并，按出现顺序排列
func Spans(doc *document.Document) []Span {
	var out []Span
	last := make(map[string]int)
	doc.Descendants(func(n *document.Node, pos int) bool {
		if !n.IsText() {
			return true
		}
		ids, _ := NodeIDs(doc, n.ID)
		end := pos + doc.NodeSize(n.ID)
		for _, id := range ids {
			if i, ok := last[id]; ok && out[i].To >= pos {
				out[i].To = max(out[i].To, end)
				continue
			}
			last[id] = len(out)
			out = append(out, Span{ID: id, From: pos, To: end})
		}
		return false
	})
	return out
}
