package document

// TextSpec 构造文档时的一段文本
type TextSpec struct {
	Text  string
	Marks []Mark
}

func T(text string, marks ...Mark) TextSpec {
	return TextSpec{Text: text, Marks: marks}
}

// Build 按段落构造带 mark 的文档，每个参数是一个段落：
//
//	Build([]TextSpec{T("a", bold), T("b")}, []TextSpec{T("c")})
func Build(paragraphs ...[]TextSpec) *Document {
	d := newEmptyDocument()
	root := d.nodes[d.root]
	if len(paragraphs) == 0 {
		paragraphs = [][]TextSpec{nil}
	}
	for _, texts := range paragraphs {
		p := d.newNode(TypeParagraph, "")
		runs := make([]run, 0, len(texts))
		for _, t := range texts {
			runs = append(runs, run{text: []rune(t.Text), marks: normalizeMarks(t.Marks)})
		}
		d.setRuns(p, runs)
		root.Children = append(root.Children, p.ID)
	}
	return d
}
