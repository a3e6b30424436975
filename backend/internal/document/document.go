package document

import (
	"strings"
	"unicode/utf8"
)

// Document 是一份不可变的文档快照。
// 节点放在 arena（nodes）里，mark 单独用稀疏表保存，不做反向指针。
//
// 位置约定（与 ProseMirror 一致）：
//
//	"ab" / "c" 两个段落：
//	0   1 2 3   4   5 6   7
//	 <p> a b </p> <p> c </p>
//
// 段落占 2 + 内容长度，text 节点占 rune 数。
type Document struct {
	root  NodeID
	nodes map[NodeID]*Node
	marks map[NodeID][]Mark
	next  NodeID
}

func newEmptyDocument() *Document {
	d := &Document{
		nodes: make(map[NodeID]*Node),
		marks: make(map[NodeID][]Mark),
	}
	root := d.newNode(TypeDoc, "")
	d.root = root.ID
	return d
}

// NewDocument 用若干段纯文本构造文档；不传参数时得到一个空段落
func NewDocument(paragraphs ...string) *Document {
	d := newEmptyDocument()
	if len(paragraphs) == 0 {
		paragraphs = []string{""}
	}
	root := d.nodes[d.root]
	for _, text := range paragraphs {
		p := d.newNode(TypeParagraph, "")
		if text != "" {
			t := d.newNode(TypeText, text)
			p.Children = append(p.Children, t.ID)
		}
		root.Children = append(root.Children, p.ID)
	}
	return d
}

func (d *Document) newNode(typ NodeType, text string) *Node {
	d.next++
	n := &Node{ID: d.next, Type: typ, Text: text}
	d.nodes[n.ID] = n
	return n
}

// clone 拷贝 arena，供 step 在新版本上修改
func (d *Document) clone() *Document {
	c := &Document{
		root:  d.root,
		nodes: make(map[NodeID]*Node, len(d.nodes)),
		marks: make(map[NodeID][]Mark, len(d.marks)),
		next:  d.next,
	}
	for id, n := range d.nodes {
		c.nodes[id] = n.clone()
	}
	for id, ms := range d.marks {
		c.marks[id] = copyMarks(ms)
	}
	return c
}

func (d *Document) Root() *Node { return d.nodes[d.root] }

// Node 按 ID 查节点，不存在返回 nil
func (d *Document) Node(id NodeID) *Node { return d.nodes[id] }

func (d *Document) NodeCount() int { return len(d.nodes) }

// NodeSize 节点在位置空间里占的长度
func (d *Document) NodeSize(id NodeID) int {
	n := d.nodes[id]
	if n == nil {
		return 0
	}
	switch n.Type {
	case TypeText:
		return utf8.RuneCountInString(n.Text)
	case TypeDoc:
		return d.contentSize(n)
	default:
		return 2 + d.contentSize(n)
	}
}

func (d *Document) contentSize(n *Node) int {
	size := 0
	for _, c := range n.Children {
		size += d.NodeSize(c)
	}
	return size
}

// ContentSize 文档内容长度，合法位置为 [0, ContentSize]
func (d *Document) ContentSize() int { return d.contentSize(d.Root()) }

// MarksOf 返回节点上的 mark（拷贝）
func (d *Document) MarksOf(id NodeID) []Mark { return copyMarks(d.marks[id]) }

func (d *Document) FindMark(id NodeID, typ string) (Mark, bool) {
	for _, m := range d.marks[id] {
		if m.Type == typ {
			return m, true
		}
	}
	return Mark{}, false
}

// NodesBetween 遍历所有与 [from, to) 相交的节点：pos < to && pos+size > from。
// fn 返回 false 时不再进入该节点的子节点。
// from == to 时只会访问严格包含该位置的节点。
func (d *Document) NodesBetween(from, to int, fn func(n *Node, pos int) bool) {
	d.nodesBetween(d.Root(), from, to, 0, fn)
}

func (d *Document) nodesBetween(parent *Node, from, to, start int, fn func(n *Node, pos int) bool) {
	pos := 0
	for i := 0; pos < to && i < len(parent.Children); i++ {
		child := d.nodes[parent.Children[i]]
		end := pos + d.NodeSize(child.ID)
		if end > from && fn(child, start+pos) && len(child.Children) > 0 {
			inner := pos + 1
			d.nodesBetween(child, max(0, from-inner), min(d.contentSize(child), to-inner), start+inner, fn)
		}
		pos = end
	}
}

// Descendants 遍历整篇文档
func (d *Document) Descendants(fn func(n *Node, pos int) bool) {
	d.NodesBetween(0, d.ContentSize(), fn)
}

// TextContent 段落之间用 "\n" 连接
func (d *Document) TextContent() string {
	var sb strings.Builder
	for i, pid := range d.Root().Children {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for _, tid := range d.nodes[pid].Children {
			sb.WriteString(d.nodes[tid].Text)
		}
	}
	return sb.String()
}

// TextBetween 取 [from, to) 之间的文本，段落边界输出 "\n"
func (d *Document) TextBetween(from, to int) string {
	var sb strings.Builder
	first := true
	d.NodesBetween(from, to, func(n *Node, pos int) bool {
		switch n.Type {
		case TypeParagraph:
			if !first {
				sb.WriteByte('\n')
			}
			first = false
		case TypeText:
			rs := []rune(n.Text)
			lo := max(from, pos) - pos
			hi := min(to, pos+len(rs)) - pos
			sb.WriteString(string(rs[lo:hi]))
		}
		return true
	})
	return sb.String()
}

// blockAt 找到包含 pos（内容区，含两端）的段落
func (d *Document) blockAt(pos int) (idx int, para *Node, offset int, err error) {
	start := 0
	for i, pid := range d.Root().Children {
		p := d.nodes[pid]
		size := d.NodeSize(pid)
		if pos >= start+1 && pos <= start+size-1 {
			return i, p, pos - start - 1, nil
		}
		start += size
	}
	return 0, nil, 0, ErrInvalidPosition
}
