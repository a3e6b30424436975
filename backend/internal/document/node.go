package document

import (
	"reflect"
	"sort"
)

// NodeID 在同一文档的所有版本中保持稳定，未被修改的节点 clone 后 ID 不变
type NodeID uint64

type NodeType string

const (
	TypeDoc       NodeType = "doc"
	TypeParagraph NodeType = "paragraph"
	TypeText      NodeType = "text"
)

// Node 是 arena 里的一个节点。
// doc -> paragraph -> text 三层；只有 text 节点能携带 mark。
// 从 Document 读到的 *Node 只读，修改只能通过 Transaction。
type Node struct {
	ID       NodeID
	Type     NodeType
	Text     string   // 仅 text 节点
	Children []NodeID // doc / paragraph
}

func (n *Node) IsText() bool  { return n.Type == TypeText }
func (n *Node) IsBlock() bool { return n.Type == TypeParagraph }

func (n *Node) clone() *Node {
	c := *n
	if n.Children != nil {
		c.Children = append([]NodeID(nil), n.Children...)
	}
	return &c
}

// Mark 是挂在 text 节点上的带属性标签，同一节点上每种 Type 最多一个
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

func (m Mark) Eq(o Mark) bool {
	if m.Type != o.Type {
		return false
	}
	if len(m.Attrs) == 0 && len(o.Attrs) == 0 {
		return true
	}
	return reflect.DeepEqual(m.Attrs, o.Attrs)
}

// markSetEq 两个 mark 集合是否一致（集合按 Type 有序）
func markSetEq(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Eq(b[i]) {
			return false
		}
	}
	return true
}

// addToSet 同类型的 mark 直接替换，不合并属性
func addToSet(set []Mark, m Mark) []Mark {
	out := make([]Mark, 0, len(set)+1)
	for _, x := range set {
		if x.Type != m.Type {
			out = append(out, x)
		}
	}
	out = append(out, m)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func removeFromSet(set []Mark, typ string) []Mark {
	out := make([]Mark, 0, len(set))
	for _, x := range set {
		if x.Type != typ {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func copyMarks(set []Mark) []Mark {
	if len(set) == 0 {
		return nil
	}
	return append([]Mark(nil), set...)
}
