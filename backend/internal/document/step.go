package document

import (
	"fmt"
	"unicode/utf8"
)

// StepMap 记录一次替换：在 Pos 处删除 Removed 个位置、插入 Inserted 个位置
type StepMap struct {
	Pos      int `json:"pos"`
	Removed  int `json:"removed"`
	Inserted int `json:"inserted"`
}

// Map 映射旧位置到新位置，落在替换区间内的位置靠右
func (m StepMap) Map(pos int) int {
	switch {
	case pos < m.Pos:
		return pos
	case pos > m.Pos+m.Removed:
		return pos - m.Removed + m.Inserted
	case m.Removed == 0 && m.Inserted == 0:
		return pos
	default:
		return m.Pos + m.Inserted
	}
}

type Mapping []StepMap

func (m Mapping) Map(pos int) int {
	for _, sm := range m {
		pos = sm.Map(pos)
	}
	return pos
}

// Step 是一次原子的文档修改，失败时不产生新文档
type Step interface {
	apply(doc *Document) (*Document, StepMap, error)
	String() string
}

// AddMarkStep 在 [From, To) 的所有文本上加 mark（同类型替换）
type AddMarkStep struct {
	From, To int
	Mark     Mark
}

// RemoveMarkStep 移除 [From, To) 上指定类型的 mark
type RemoveMarkStep struct {
	From, To int
	Type     string
}

// InsertTextStep 在 Pos 插入文本；Marks 为 nil 时继承插入点左侧文本的 mark
type InsertTextStep struct {
	Pos   int
	Text  string
	Marks []Mark
}

// DeleteStep 删除 [From, To)，跨段落时首尾两个段落合并
type DeleteStep struct {
	From, To int
}

// SplitBlockStep 在 Pos 处把段落一分为二
type SplitBlockStep struct {
	Pos int
}

func (s AddMarkStep) String() string    { return fmt.Sprintf("addMark(%d,%d,%s)", s.From, s.To, s.Mark.Type) }
func (s RemoveMarkStep) String() string { return fmt.Sprintf("removeMark(%d,%d,%s)", s.From, s.To, s.Type) }
func (s InsertTextStep) String() string { return fmt.Sprintf("insert(%d,%q)", s.Pos, s.Text) }
func (s DeleteStep) String() string     { return fmt.Sprintf("delete(%d,%d)", s.From, s.To) }
func (s SplitBlockStep) String() string { return fmt.Sprintf("split(%d)", s.Pos) }

func (s AddMarkStep) apply(doc *Document) (*Document, StepMap, error) {
	nd, err := updateMarks(doc, s.From, s.To, func(set []Mark) []Mark { return addToSet(set, s.Mark) })
	return nd, StepMap{}, err
}

func (s RemoveMarkStep) apply(doc *Document) (*Document, StepMap, error) {
	nd, err := updateMarks(doc, s.From, s.To, func(set []Mark) []Mark { return removeFromSet(set, s.Type) })
	return nd, StepMap{}, err
}

// updateMarks mark 类 step 的公共部分，区间会被裁剪到文档范围内
func updateMarks(doc *Document, from, to int, update func([]Mark) []Mark) (*Document, error) {
	if from > to {
		return nil, ErrInvalidRange
	}
	from, to = max(from, 0), min(to, doc.ContentSize())
	nd := doc.clone()
	start := 0
	for _, pid := range nd.Root().Children {
		para := nd.nodes[pid]
		size := nd.NodeSize(pid)
		cFrom, cTo := start+1, start+size-1
		start += size
		lo, hi := max(from, cFrom), min(to, cTo)
		if lo >= hi {
			continue
		}
		before, middle, after := sliceRuns(nd.runsOf(para), lo-cFrom, hi-cFrom)
		for i := range middle {
			middle[i].marks = update(middle[i].marks)
		}
		nd.setRuns(para, concatRuns(before, middle, after))
	}
	return nd, nil
}

func (s InsertTextStep) apply(doc *Document) (*Document, StepMap, error) {
	if s.Text == "" {
		return doc, StepMap{Pos: s.Pos}, nil
	}
	nd := doc.clone()
	_, para, off, err := nd.blockAt(s.Pos)
	if err != nil {
		return nil, StepMap{}, err
	}
	left, right := splitRuns(nd.runsOf(para), off)
	marks := s.Marks
	if marks == nil {
		switch {
		case len(left) > 0:
			marks = left[len(left)-1].marks
		case len(right) > 0:
			marks = right[0].marks
		}
	}
	inserted := run{text: []rune(s.Text), marks: copyMarks(marks)}
	nd.setRuns(para, concatRuns(left, []run{inserted}, right))
	return nd, StepMap{Pos: s.Pos, Inserted: utf8.RuneCountInString(s.Text)}, nil
}

func (s DeleteStep) apply(doc *Document) (*Document, StepMap, error) {
	if s.From > s.To {
		return nil, StepMap{}, ErrInvalidRange
	}
	if s.From == s.To {
		return doc, StepMap{Pos: s.From}, nil
	}
	nd := doc.clone()
	ai, a, aOff, err := nd.blockAt(s.From)
	if err != nil {
		return nil, StepMap{}, err
	}
	bi, b, bOff, err := nd.blockAt(s.To)
	if err != nil {
		return nil, StepMap{}, err
	}
	if ai == bi {
		before, _, after := sliceRuns(nd.runsOf(a), aOff, bOff)
		nd.setRuns(a, concatRuns(before, after))
		return nd, StepMap{Pos: s.From, Removed: s.To - s.From}, nil
	}

	// 跨段落：a 保留前半，b 保留后半，拼接到 a；中间段落全部删除
	head, _ := splitRuns(nd.runsOf(a), aOff)
	_, tail := splitRuns(nd.runsOf(b), bOff)
	nd.setRuns(a, concatRuns(head, tail))

	keep := make(map[NodeID]bool, len(a.Children))
	for _, id := range a.Children {
		keep[id] = true
	}
	root := nd.nodes[nd.root]
	for _, pid := range root.Children[ai+1 : bi+1] {
		nd.dropBlock(pid, keep)
	}
	root.Children = append(root.Children[:ai+1], root.Children[bi+1:]...)
	return nd, StepMap{Pos: s.From, Removed: s.To - s.From}, nil
}

func (s SplitBlockStep) apply(doc *Document) (*Document, StepMap, error) {
	nd := doc.clone()
	idx, para, off, err := nd.blockAt(s.Pos)
	if err != nil {
		return nil, StepMap{}, err
	}
	left, right := splitRuns(nd.runsOf(para), off)
	nd.setRuns(para, left)

	next := nd.newNode(TypeParagraph, "")
	nd.setRuns(next, right)

	root := nd.nodes[nd.root]
	children := make([]NodeID, 0, len(root.Children)+1)
	children = append(children, root.Children[:idx+1]...)
	children = append(children, next.ID)
	children = append(children, root.Children[idx+1:]...)
	root.Children = children
	return nd, StepMap{Pos: s.Pos, Inserted: 2}, nil
}
