package document

import "fmt"

// Plugin 给编辑器状态挂一个自定义字段，随每个事务重新计算
type Plugin interface {
	Key() *PluginKey
	// Init 创建状态时调用，state 中只有文档和选区可用
	Init(state *EditorState) any
	// Apply 根据事务推导新的插件字段；old 是事务之前的状态，new 里的本插件字段尚未更新
	Apply(tr *Transaction, value any, old, new *EditorState) any
}

// DecorationSource 插件可选实现，向视图提供装饰
type DecorationSource interface {
	Decorations(state *EditorState) DecorationSet
}

// Command 标准命令签名：dispatch 为 nil 时只检查能否执行
type Command func(state *EditorState, dispatch func(tr *Transaction)) bool

// Keymap 快捷键到命令，键名形如 "Mod-Shift-m"
type Keymap map[string]Command

func (k Keymap) Lookup(key string) (Command, bool) {
	cmd, ok := k[key]
	return cmd, ok
}

// EditorState 不可变：Apply 返回新的状态
type EditorState struct {
	doc       *Document
	selection Selection
	plugins   []Plugin
	fields    map[*PluginKey]any
}

func NewEditorState(doc *Document, sel Selection, plugins ...Plugin) *EditorState {
	s := &EditorState{
		doc:       doc,
		selection: sel.Clamp(doc.ContentSize()),
		plugins:   plugins,
		fields:    make(map[*PluginKey]any, len(plugins)),
	}
	for _, p := range plugins {
		s.fields[p.Key()] = p.Init(s)
	}
	return s
}

func (s *EditorState) Doc() *Document       { return s.doc }
func (s *EditorState) Selection() Selection { return s.selection }
func (s *EditorState) Plugins() []Plugin    { return s.plugins }

// Field 插件字段，未注册返回 nil
func (s *EditorState) Field(key *PluginKey) any { return s.fields[key] }

// Tr 基于当前文档和选区开启一个事务
func (s *EditorState) Tr() *Transaction { return NewTransaction(s.doc, s.selection) }

// Apply 事务必须基于当前文档
func (s *EditorState) Apply(tr *Transaction) (*EditorState, error) {
	if tr.Before() != s.doc {
		return nil, fmt.Errorf("apply %d steps: %w", len(tr.steps), ErrDocMismatch)
	}
	ns := &EditorState{
		doc:       tr.Doc(),
		selection: tr.Selection(),
		plugins:   s.plugins,
		fields:    make(map[*PluginKey]any, len(s.plugins)),
	}
	for k, v := range s.fields {
		ns.fields[k] = v
	}
	for _, p := range s.plugins {
		ns.fields[p.Key()] = p.Apply(tr, s.fields[p.Key()], s, ns)
	}
	return ns, nil
}

// Decorations 合并所有插件的装饰
func (s *EditorState) Decorations() DecorationSet {
	var all []Decoration
	for _, p := range s.plugins {
		if src, ok := p.(DecorationSource); ok {
			all = append(all, src.Decorations(s).All()...)
		}
	}
	return NewDecorationSet(all)
}
