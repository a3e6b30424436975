package annotations

import "annotationServer/backend/internal/document"

// DefaultAnnotationType Mod-Shift-m 新建的批注类型
const DefaultAnnotationType = "comment"

type Options struct {
	// ActiveIDs 初始激活列表，nil 表示不高亮
	ActiveIDs []string
	// Prefix 装饰 class 前缀，默认 "annotation"
	Prefix string
	// ShortcutType 快捷键新建的批注类型，默认 "comment"
	ShortcutType string
}

// Annotations 一个编辑会话里的批注扩展：插件、命令、快捷键共用同一个 key。
// key 只能从这里拿到，不按名字查找。
type Annotations struct {
	key  *document.PluginKey
	opts Options
}

func New(opts Options) *Annotations {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.ShortcutType == "" {
		opts.ShortcutType = DefaultAnnotationType
	}
	return &Annotations{key: document.NewPluginKey("annotations"), opts: opts}
}

func (a *Annotations) Key() *document.PluginKey { return a.key }

// Plugin 挂到 EditorState 上的插件
func (a *Annotations) Plugin() document.Plugin { return plugin{a: a} }

// State 读取编辑器状态里的叠加状态，插件未注册时返回 nil
func (a *Annotations) State(state *document.EditorState) *OverlayState {
	s, _ := state.Field(a.key).(*OverlayState)
	return s
}

// ActionOf 事务携带的批注 action，没有时返回 nil
func (a *Annotations) ActionOf(tr *document.Transaction) Action {
	act, _ := tr.Meta(a.key).(Action)
	return act
}

// Keymap Mod-Shift-m 打开新建批注
func (a *Annotations) Keymap() document.Keymap {
	return document.Keymap{"Mod-Shift-m": a.ShowNewAnnotation(a.opts.ShortcutType)}
}

type plugin struct {
	a *Annotations
}

func (p plugin) Key() *document.PluginKey { return p.a.key }

func (p plugin) Init(state *document.EditorState) any {
	return NewOverlayState(p.a.opts.ActiveIDs, p.a.opts.Prefix).Recompute(state.Doc(), state.Selection())
}

func (p plugin) Apply(tr *document.Transaction, value any, old, new *document.EditorState) any {
	prev, ok := value.(*OverlayState)
	if !ok {
		prev = NewOverlayState(p.a.opts.ActiveIDs, p.a.opts.Prefix)
	}
	return prev.Apply(p.a.ActionOf(tr), new.Doc(), new.Selection())
}

func (p plugin) Decorations(state *document.EditorState) document.DecorationSet {
	if s := p.a.State(state); s != nil {
		return s.Decorations()
	}
	return document.DecorationSet{}
}
