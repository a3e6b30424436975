package document

import (
	"sort"
	"strings"

	"annotationServer/backend/internal/ot/delta"
)

// PluginKey 是插件元数据通道的身份令牌，按指针比较，不按名字查找
type PluginKey struct {
	name string
}

func NewPluginKey(name string) *PluginKey { return &PluginKey{name: name} }

func (k *PluginKey) String() string { return k.name }

// Transaction 在一份文档快照上累积 step，并携带插件元数据。
// 任何一步失败都不会修改事务。
type Transaction struct {
	before    *Document
	doc       *Document
	steps     []Step
	mapping   Mapping
	selection Selection
	selSet    bool
	meta      map[*PluginKey]any
}

func NewTransaction(doc *Document, sel Selection) *Transaction {
	return &Transaction{
		before:    doc,
		doc:       doc,
		selection: sel,
		meta:      make(map[*PluginKey]any),
	}
}

func (tr *Transaction) Before() *Document    { return tr.before }
func (tr *Transaction) Doc() *Document       { return tr.doc }
func (tr *Transaction) Selection() Selection { return tr.selection }
func (tr *Transaction) Steps() []Step        { return append([]Step(nil), tr.steps...) }
func (tr *Transaction) Mapping() Mapping     { return append(Mapping(nil), tr.mapping...) }
func (tr *Transaction) DocChanged() bool     { return len(tr.steps) > 0 }
func (tr *Transaction) SelectionSet() bool   { return tr.selSet }

// SetSelection 显式设置选区，之后的 step 仍会继续映射它
func (tr *Transaction) SetSelection(sel Selection) *Transaction {
	tr.selection = sel.Clamp(tr.doc.ContentSize())
	tr.selSet = true
	return tr
}

func (tr *Transaction) SetMeta(key *PluginKey, value any) *Transaction {
	tr.meta[key] = value
	return tr
}

// Meta 未设置时返回 nil
func (tr *Transaction) Meta(key *PluginKey) any { return tr.meta[key] }

func (tr *Transaction) Step(s Step) error {
	nd, sm, err := s.apply(tr.doc)
	if err != nil {
		return err
	}
	tr.doc = nd
	tr.steps = append(tr.steps, s)
	tr.mapping = append(tr.mapping, sm)
	tr.selection = tr.selection.Map(Mapping{sm}, nd.ContentSize())
	return nil
}

func (tr *Transaction) AddMark(from, to int, m Mark) error {
	return tr.Step(AddMarkStep{From: from, To: to, Mark: m})
}

func (tr *Transaction) RemoveMark(from, to int, typ string) error {
	return tr.Step(RemoveMarkStep{From: from, To: to, Type: typ})
}

func (tr *Transaction) InsertText(pos int, text string, marks []Mark) error {
	return tr.Step(InsertTextStep{Pos: pos, Text: text, Marks: marks})
}

func (tr *Transaction) Delete(from, to int) error {
	return tr.Step(DeleteStep{From: from, To: to})
}

func (tr *Transaction) SplitBlock(pos int) error {
	return tr.Step(SplitBlockStep{Pos: pos})
}

// Replay 把 src 的全部 step 接到本事务上。
// 两个事务必须基于同一份文档（用于把一个会话的修改同步给同文档的其它会话）
func (tr *Transaction) Replay(src *Transaction) error {
	if src.before != tr.doc {
		return ErrDocMismatch
	}
	if !src.DocChanged() {
		return nil
	}
	tr.doc = src.doc
	tr.steps = append(tr.steps, src.steps...)
	tr.mapping = append(tr.mapping, src.mapping...)
	tr.selection = tr.selection.Map(src.mapping, tr.doc.ContentSize())
	return nil
}

type snapshot struct {
	doc       *Document
	steps     int
	selection Selection
}

func (tr *Transaction) save() snapshot {
	return snapshot{doc: tr.doc, steps: len(tr.steps), selection: tr.selection}
}

func (tr *Transaction) restore(s snapshot) {
	tr.doc = s.doc
	tr.steps = tr.steps[:s.steps]
	tr.mapping = tr.mapping[:s.steps]
	tr.selection = s.selection
}

// ApplyDelta 按 retain/insert/delete 游标依次应用客户端提交的 delta。
// insert 文本中的 "\n" 会拆分段落；Attrs 转成 mark。
// 任意一个 op 失败，整个 delta 回滚。
func (tr *Transaction) ApplyDelta(d delta.Delta) error {
	if err := d.Validate(); err != nil {
		return err
	}
	saved := tr.save()
	pos := 0
	for _, op := range d {
		var err error
		switch op.Kind {
		case delta.KindRetain:
			pos += op.Count
		case delta.KindInsert:
			pos, err = tr.insertLines(pos, op.Text, marksFromAttrs(op.Attrs))
		case delta.KindDelete:
			err = tr.Delete(pos, pos+op.Count)
		}
		if err != nil {
			tr.restore(saved)
			return err
		}
	}
	return nil
}

func (tr *Transaction) insertLines(pos int, text string, marks []Mark) (int, error) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			if err := tr.InsertText(pos, line, marks); err != nil {
				return pos, err
			}
			pos += len([]rune(line))
		}
		if i < len(lines)-1 {
			if err := tr.SplitBlock(pos); err != nil {
				return pos, err
			}
			pos += 2
		}
	}
	return pos, nil
}

// marksFromAttrs delta 的 attrs：{"bold": true, "annotations": {"ids": ["a"]}}。
// attrs 为 nil 时返回 nil（继承左侧 mark），非 nil 时至少返回空切片（不带 mark）
func marksFromAttrs(attrs map[string]any) []Mark {
	if attrs == nil {
		return nil
	}
	marks := make([]Mark, 0, len(attrs))
	for typ, v := range attrs {
		switch val := v.(type) {
		case nil:
			continue
		case bool:
			if val {
				marks = append(marks, Mark{Type: typ})
			}
		case map[string]any:
			marks = append(marks, Mark{Type: typ, Attrs: normalizeAttrs(val)})
		default:
			marks = append(marks, Mark{Type: typ, Attrs: map[string]any{"value": val}})
		}
	}
	sort.Slice(marks, func(i, j int) bool { return marks[i].Type < marks[j].Type })
	return marks
}
