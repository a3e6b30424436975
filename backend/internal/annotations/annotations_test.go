package annotations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotationServer/backend/internal/document"
)

func annMark(v ...string) document.Mark { return NewMark(v) }

// "aa"{x,y} "bb"{y} "cc"{y,z}，内容区 1..7
func xyzDoc() *document.Document {
	return document.Build([]document.TextSpec{
		document.T("aa", annMark("x", "y")),
		document.T("bb", annMark("y")),
		document.T("cc", annMark("y", "z")),
	})
}

func newEditor(t *testing.T, doc *document.Document, sel document.Selection, opts Options) (*Annotations, *document.Editor) {
	t.Helper()
	ann := New(opts)
	state := document.NewEditorState(doc, sel, ann.Plugin())
	return ann, document.NewEditor(state, ann.Keymap())
}

func exec(t *testing.T, ed *document.Editor, cmd document.Command) bool {
	t.Helper()
	ok, err := ed.Exec(cmd)
	require.NoError(t, err)
	return ok
}

func idsAt(doc *document.Document, id string) []Span {
	var out []Span
	for _, s := range Spans(doc) {
		if s.ID == id {
			out = append(out, s)
		}
	}
	return out
}

func TestComputeSelectedIDs_Intersection(t *testing.T) {
	doc := xyzDoc()
	assert.Equal(t, []string{"y"}, ComputeSelectedIDs(doc, document.TextSelection(1, 7)))
	assert.Equal(t, []string{"x", "y"}, ComputeSelectedIDs(doc, document.TextSelection(1, 3)))
	assert.Equal(t, []string{"y"}, ComputeSelectedIDs(doc, document.TextSelection(2, 4)))
}

func TestComputeSelectedIDs_Cursor(t *testing.T) {
	doc := xyzDoc()
	// 光标在 "aa" 内部
	assert.Equal(t, []string{"x", "y"}, ComputeSelectedIDs(doc, document.Cursor(2)))
	// 光标在节点边界上
	assert.Empty(t, ComputeSelectedIDs(doc, document.Cursor(3)))
	assert.Empty(t, ComputeSelectedIDs(doc, document.Selection{}))
}

func TestComputeSelectedIDs_LastRangeWins(t *testing.T) {
	doc := xyzDoc()
	sel := document.MultiSelection(document.Range{From: 1, To: 3}, document.Range{From: 5, To: 7})
	assert.Equal(t, []string{"y", "z"}, ComputeSelectedIDs(doc, sel))

	// 最后一段里没有文本
	sel = document.MultiSelection(document.Range{From: 1, To: 3}, document.Range{From: 0, To: 0})
	assert.Empty(t, ComputeSelectedIDs(doc, sel))
}

func TestComputeSelectedIDs_UnmarkedNodeEmptiesSet(t *testing.T) {
	doc := document.Build([]document.TextSpec{
		document.T("aa", annMark("x")),
		document.T("bb"),
	})
	assert.Empty(t, ComputeSelectedIDs(doc, document.TextSelection(1, 5)))
}

func TestIDsOf_Malformed(t *testing.T) {
	assert.Nil(t, IDsOf(document.Mark{Type: MarkType}))
	assert.Nil(t, IDsOf(document.Mark{Type: MarkType, Attrs: map[string]any{"ids": 42}}))
	assert.Nil(t, IDsOf(document.Mark{Type: MarkType, Attrs: map[string]any{"ids": []any{"a", 1}}}))
	assert.Equal(t, []string{"a"}, IDsOf(document.Mark{Type: MarkType, Attrs: map[string]any{"ids": []any{"a"}}}))

	doc := document.Build([]document.TextSpec{
		document.T("aa", document.Mark{Type: MarkType, Attrs: map[string]any{"ids": "oops"}}),
	})
	assert.Empty(t, ComputeSelectedIDs(doc, document.TextSelection(1, 3)))
	s := NewOverlayState([]string{"oops"}, "").Recompute(doc, document.TextSelection(1, 3))
	assert.Zero(t, s.Decorations().Len())
}

func TestMarkAttrsHTML(t *testing.T) {
	assert.Nil(t, MarkAttrsHTML(nil))
	assert.Equal(t, map[string]string{"data-annotations": "a,b"}, MarkAttrsHTML([]string{"a", "b"}))
}

func TestAddAnnotationID_ClipsToSelection(t *testing.T) {
	ann, ed := newEditor(t, document.NewDocument("hello world"), document.TextSelection(3, 9), Options{})
	require.True(t, exec(t, ed, ann.AddAnnotationID("a")))

	doc := ed.State().Doc()
	assert.Equal(t, []Span{{ID: "a", From: 3, To: 9}}, Spans(doc))
	assert.Equal(t, "hello world", doc.TextContent())
}

func TestAddAnnotationID_AppendsToExisting(t *testing.T) {
	ann, ed := newEditor(t, document.NewDocument("hello world"), document.TextSelection(1, 6), Options{})
	require.True(t, exec(t, ed, ann.AddAnnotationID("b")))
	require.NoError(t, ed.Dispatch(ed.State().Tr().SetSelection(document.TextSelection(3, 9))))
	require.True(t, exec(t, ed, ann.AddAnnotationID("a")))

	doc := ed.State().Doc()
	assert.Equal(t, []Span{{ID: "b", From: 1, To: 6}}, idsAt(doc, "b"))
	assert.Equal(t, []Span{{ID: "a", From: 3, To: 9}}, idsAt(doc, "a"))

	// 交叠部分 ids 顺序为 b, a
	var overlap []string
	doc.NodesBetween(4, 5, func(n *document.Node, pos int) bool {
		if n.IsText() {
			overlap, _ = NodeIDs(doc, n.ID)
		}
		return true
	})
	assert.Equal(t, []string{"b", "a"}, overlap)
}

func TestAddAnnotationID_MultiRange(t *testing.T) {
	sel := document.MultiSelection(document.Range{From: 1, To: 3}, document.Range{From: 5, To: 7})
	ann, ed := newEditor(t, document.NewDocument("abcdef"), sel, Options{})
	require.True(t, exec(t, ed, ann.AddAnnotationID("q")))
	assert.Equal(t, []Span{{ID: "q", From: 1, To: 3}, {ID: "q", From: 5, To: 7}}, Spans(ed.State().Doc()))
}

func TestAddAnnotationID_AcrossParagraphs(t *testing.T) {
	ann, ed := newEditor(t, document.NewDocument("ab", "cd"), document.TextSelection(2, 6), Options{})
	require.True(t, exec(t, ed, ann.AddAnnotationID("p")))
	assert.Equal(t, []Span{{ID: "p", From: 2, To: 3}, {ID: "p", From: 5, To: 6}}, Spans(ed.State().Doc()))
}

func TestAddAnnotationID_EmptySelection(t *testing.T) {
	doc := document.NewDocument("hello")
	ann, ed := newEditor(t, doc, document.Cursor(3), Options{})
	assert.False(t, exec(t, ed, ann.AddAnnotationID("a")))
	assert.Same(t, doc, ed.State().Doc())

	_, ok := PlanAddAnnotationID(doc, document.Selection{}, "a")
	assert.False(t, ok)
}

func TestAddAnnotationID_DuplicateNotDeduplicated(t *testing.T) {
	ann, ed := newEditor(t, document.NewDocument("hello"), document.TextSelection(1, 6), Options{})
	require.True(t, exec(t, ed, ann.AddAnnotationID("a")))
	require.True(t, exec(t, ed, ann.AddAnnotationID("a")))

	doc := ed.State().Doc()
	para := doc.Node(doc.Root().Children[0])
	got, ok := NodeIDs(doc, para.Children[0])
	require.True(t, ok)
	assert.Equal(t, []string{"a", "a"}, got)
}

func TestRemoveAnnotationID_Inverse(t *testing.T) {
	ann, ed := newEditor(t, document.NewDocument("hello world"), document.TextSelection(1, 6), Options{})
	require.True(t, exec(t, ed, ann.AddAnnotationID("b")))
	before := ed.State().Doc().ToJSON()

	require.NoError(t, ed.Dispatch(ed.State().Tr().SetSelection(document.TextSelection(3, 9))))
	require.True(t, exec(t, ed, ann.AddAnnotationID("a")))
	require.True(t, exec(t, ed, ann.RemoveAnnotationID("a")))

	doc := ed.State().Doc()
	assert.Empty(t, idsAt(doc, "a"))
	assert.Equal(t, []Span{{ID: "b", From: 1, To: 6}}, idsAt(doc, "b"))
	// 规范化后与添加 a 之前完全一致
	assert.Equal(t, before, doc.ToJSON())
}

func TestRemoveAnnotationID_Idempotent(t *testing.T) {
	ann, ed := newEditor(t, xyzDoc(), document.Cursor(1), Options{})
	require.True(t, exec(t, ed, ann.RemoveAnnotationID("y")))
	once := ed.State().Doc().ToJSON()
	require.True(t, exec(t, ed, ann.RemoveAnnotationID("y")))
	assert.Equal(t, once, ed.State().Doc().ToJSON())

	doc := ed.State().Doc()
	assert.Empty(t, idsAt(doc, "y"))
	assert.Equal(t, []Span{{ID: "x", From: 1, To: 3}}, idsAt(doc, "x"))
	assert.Equal(t, []Span{{ID: "z", From: 5, To: 7}}, idsAt(doc, "z"))
}

func TestPlanRemoveAnnotationID_RemovesMarkWhenEmpty(t *testing.T) {
	changes := PlanRemoveAnnotationID(xyzDoc(), "y")
	assert.Equal(t, []MarkChange{
		{From: 1, To: 3, IDs: []string{"x"}},
		{From: 3, To: 5, IDs: nil},
		{From: 5, To: 7, IDs: []string{"z"}},
	}, changes)
}

func TestSelectorExclusivity(t *testing.T) {
	doc := document.Build([]document.TextSpec{
		document.T("aa", annMark("a")),
		document.T("bb", annMark("b")),
	})
	ann, ed := newEditor(t, doc, document.Cursor(0), Options{})
	require.True(t, exec(t, ed, ann.SetAnnotationSelector(SelectorHover, "a")))
	require.True(t, exec(t, ed, ann.SetAnnotationSelector(SelectorHover, "b")))

	decos := ed.State().Decorations()
	assert.Empty(t, decos.ByID("a"))
	require.Len(t, decos.ByID("b"), 1)
	assert.Equal(t, "annotation-hover", decos.ByID("b")[0].Attrs["class"])
}

func TestUnsetSelectorGuard(t *testing.T) {
	ann, ed := newEditor(t, xyzDoc(), document.Cursor(0), Options{})
	require.True(t, exec(t, ed, ann.SetAnnotationSelector(SelectorFocus, "a")))
	assert.True(t, exec(t, ed, ann.UnsetAnnotationSelector(SelectorFocus, "b")))

	owner, ok := ann.State(ed.State()).Selector(SelectorFocus)
	require.True(t, ok)
	assert.Equal(t, "a", owner)

	require.True(t, exec(t, ed, ann.UnsetAnnotationSelector(SelectorFocus, "a")))
	_, ok = ann.State(ed.State()).Selector(SelectorFocus)
	assert.False(t, ok)
}

func TestDecorationCompleteness(t *testing.T) {
	doc := document.Build(
		[]document.TextSpec{document.T("aa", annMark("x")), document.T("bb", annMark("y"))},
		[]document.TextSpec{document.T("cc", annMark("x", "y"))},
	)
	ann, ed := newEditor(t, doc, document.Cursor(0), Options{})
	require.True(t, exec(t, ed, ann.SetActiveAnnotationIDs([]string{"x", "y"})))

	decos := ed.State().Decorations()
	xs := decos.ByID("x")
	require.Len(t, xs, 2)
	assert.Equal(t, 1, xs[0].From)
	assert.Equal(t, 3, xs[0].To)
	assert.Equal(t, 7, xs[1].From)
	assert.Equal(t, 9, xs[1].To)
	for _, d := range xs {
		assert.Equal(t, "annotation-active", d.Attrs["class"])
	}
	ys := decos.ByID("y")
	require.Len(t, ys, 2)

	require.True(t, exec(t, ed, ann.SetActiveAnnotationIDs([]string{"y"})))
	decos = ed.State().Decorations()
	assert.Empty(t, decos.ByID("x"))
	assert.Equal(t, ys, decos.ByID("y"))

	require.True(t, exec(t, ed, ann.SetActiveAnnotationIDs(nil)))
	assert.Zero(t, ed.State().Decorations().Len())
	_, set := ann.State(ed.State()).ActiveIDs()
	assert.False(t, set)
}

func TestDecorationTagOrder(t *testing.T) {
	doc := document.Build([]document.TextSpec{document.T("aa", annMark("x"))})
	ann, ed := newEditor(t, doc, document.TextSelection(1, 3), Options{ActiveIDs: []string{"x"}, Prefix: "note"})
	require.True(t, exec(t, ed, ann.SetAnnotationSelector(SelectorHover, "x")))
	require.True(t, exec(t, ed, ann.SetAnnotationSelector(SelectorFocus, "x")))

	xs := ed.State().Decorations().ByID("x")
	require.Len(t, xs, 1)
	assert.Equal(t, "note-focus note-hover note-selected note-active", xs[0].Attrs["class"])
	assert.True(t, xs[0].Spec.InclusiveEnd)
}

func TestInitialActiveIDs(t *testing.T) {
	doc := document.Build([]document.TextSpec{document.T("aa", annMark("x"))})
	ann, ed := newEditor(t, doc, document.Cursor(0), Options{ActiveIDs: []string{"x"}})
	got, set := ann.State(ed.State()).ActiveIDs()
	assert.True(t, set)
	assert.Equal(t, []string{"x"}, got)
	assert.Len(t, ed.State().Decorations().ByID("x"), 1)
}

func TestNewAnnotationTransience(t *testing.T) {
	ann, ed := newEditor(t, document.NewDocument("hello world"), document.TextSelection(1, 3), Options{})
	require.True(t, exec(t, ed, ann.ShowNewAnnotation("comment")))

	isNew := func(d document.Decoration) bool { return d.Attrs["class"] == "annotation-new" }
	findNew := func() []document.Decoration {
		var out []document.Decoration
		for _, d := range ed.State().Decorations().All() {
			if isNew(d) {
				out = append(out, d)
			}
		}
		return out
	}

	got := findNew()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].From)
	assert.Equal(t, 3, got[0].To)
	assert.Empty(t, got[0].Spec.ID)

	require.NoError(t, ed.Dispatch(ed.State().Tr().SetSelection(document.TextSelection(2, 5))))
	got = findNew()
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].From)
	assert.Equal(t, 5, got[0].To)

	// 多段选区只覆盖第一段，不跨越两段之间的文本
	multi := document.MultiSelection(document.Range{From: 7, To: 8}, document.Range{From: 1, To: 2})
	require.NoError(t, ed.Dispatch(ed.State().Tr().SetSelection(multi)))
	got = findNew()
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].From)
	assert.Equal(t, 8, got[0].To)

	require.True(t, exec(t, ed, ann.HideNewAnnotation()))
	assert.Empty(t, findNew())
	_, showing := ann.State(ed.State()).NewAnnotationType()
	assert.False(t, showing)
}

func TestKeymapShowsNewComment(t *testing.T) {
	ann, ed := newEditor(t, document.NewDocument("hello"), document.TextSelection(1, 3), Options{})
	ok, err := ed.HandleKey("Mod-Shift-m")
	require.NoError(t, err)
	require.True(t, ok)
	typ, showing := ann.State(ed.State()).NewAnnotationType()
	assert.True(t, showing)
	assert.Equal(t, "comment", typ)

	ok, err = ed.HandleKey("Mod-z")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommands_DryRun(t *testing.T) {
	ann := New(Options{})
	state := document.NewEditorState(xyzDoc(), document.TextSelection(1, 7), ann.Plugin())
	cmds := map[string]document.Command{
		"showNewAnnotation":       ann.ShowNewAnnotation("comment"),
		"hideNewAnnotation":       ann.HideNewAnnotation(),
		"addAnnotationId":         ann.AddAnnotationID("n"),
		"removeAnnotationId":      ann.RemoveAnnotationID("y"),
		"setActiveAnnotationIds":  ann.SetActiveAnnotationIDs([]string{"y"}),
		"setAnnotationSelector":   ann.SetAnnotationSelector(SelectorHover, "y"),
		"unsetAnnotationSelector": ann.UnsetAnnotationSelector(SelectorHover, "y"),
	}
	for name, cmd := range cmds {
		assert.False(t, cmd(state, nil), name)
	}
	assert.Equal(t, []string{"y"}, ann.State(state).SelectedIDs())
}

func TestCommands_Rejected(t *testing.T) {
	ann, ed := newEditor(t, xyzDoc(), document.TextSelection(1, 7), Options{})
	assert.False(t, exec(t, ed, ann.SetAnnotationSelector("press", "y")))
	assert.False(t, exec(t, ed, ann.SetAnnotationSelector(SelectorHover, "")))
	assert.False(t, exec(t, ed, ann.AddAnnotationID("")))
	assert.False(t, exec(t, ed, ann.RemoveAnnotationID("")))
}

type unknownAction struct{}

func (unknownAction) isAction() {}

func TestOverlayState_ReducerIsPure(t *testing.T) {
	doc := xyzDoc()
	s0 := NewOverlayState(nil, "").Recompute(doc, document.TextSelection(1, 3))
	s1 := s0.Apply(SetAnnotationSelector{Selector: SelectorFocus, ID: "x"}, doc, document.TextSelection(1, 3))

	_, ok := s0.Selector(SelectorFocus)
	assert.False(t, ok, "previous snapshot must not change")
	owner, _ := s1.Selector(SelectorFocus)
	assert.Equal(t, "x", owner)

	s2 := s1.Apply(unknownAction{}, doc, document.TextSelection(1, 7))
	assert.Equal(t, s1.Selectors(), s2.Selectors())
	// 未知 action 也会重新计算 selectedIDs
	assert.Equal(t, []string{"y"}, s2.SelectedIDs())

	sel := s2.SelectedIDs()
	sel[0] = "mutated"
	assert.Equal(t, []string{"y"}, s2.SelectedIDs())
}

func TestOverlayState_RecomputedAfterEdit(t *testing.T) {
	ann, ed := newEditor(t, xyzDoc(), document.TextSelection(1, 7), Options{})
	require.True(t, exec(t, ed, ann.SetActiveAnnotationIDs([]string{"z"})))

	// 在 "cc" 前插入未标记文本，z 的装饰随之后移
	tr := ed.State().Tr()
	require.NoError(t, tr.InsertText(5, "--", []document.Mark{}))
	require.NoError(t, ed.Dispatch(tr))

	zs := ed.State().Decorations().ByID("z")
	require.Len(t, zs, 1)
	assert.Equal(t, 7, zs[0].From)
	assert.Equal(t, 9, zs[0].To)
	// 选区覆盖了未标记文本
	assert.Empty(t, ann.State(ed.State()).SelectedIDs())
}
