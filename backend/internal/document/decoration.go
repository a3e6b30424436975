package document

import "sort"

// DecorationSpec 装饰的附加信息，不会渲染到 DOM
type DecorationSpec struct {
	ID string `json:"id,omitempty"`
	// InclusiveEnd 在装饰末尾输入的文字是否也被覆盖
	InclusiveEnd bool `json:"inclusiveEnd,omitempty"`
}

// Decoration 行内装饰：只影响渲染，不进入文档
type Decoration struct {
	From  int               `json:"from"`
	To    int               `json:"to"`
	Attrs map[string]string `json:"attrs"`
	Spec  DecorationSpec    `json:"spec"`
}

func Inline(from, to int, attrs map[string]string, spec DecorationSpec) Decoration {
	return Decoration{From: from, To: to, Attrs: attrs, Spec: spec}
}

// DecorationSet 按 (From, To, ID) 排序的装饰集合
type DecorationSet struct {
	items []Decoration
}

func NewDecorationSet(items []Decoration) DecorationSet {
	out := append([]Decoration(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Spec.ID < b.Spec.ID
	})
	return DecorationSet{items: out}
}

func (s DecorationSet) Len() int { return len(s.items) }

func (s DecorationSet) All() []Decoration { return append([]Decoration(nil), s.items...) }

// Find 与 [from, to] 有交集的装饰
func (s DecorationSet) Find(from, to int) []Decoration {
	var out []Decoration
	for _, d := range s.items {
		if d.From <= to && d.To >= from {
			out = append(out, d)
		}
	}
	return out
}

func (s DecorationSet) ByID(id string) []Decoration {
	var out []Decoration
	for _, d := range s.items {
		if d.Spec.ID == id {
			out = append(out, d)
		}
	}
	return out
}
