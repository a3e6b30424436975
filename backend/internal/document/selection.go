package document

// Range 选区中的一段，From <= To
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func NewRange(a, b int) Range {
	if a > b {
		a, b = b, a
	}
	return Range{From: a, To: b}
}

func (r Range) Empty() bool { return r.From == r.To }

// Selection 支持多段（例如表格多选或多光标），各段互不相交
type Selection struct {
	Ranges []Range `json:"ranges"`
}

func TextSelection(from, to int) Selection {
	return Selection{Ranges: []Range{NewRange(from, to)}}
}

func Cursor(pos int) Selection { return TextSelection(pos, pos) }

func MultiSelection(ranges ...Range) Selection {
	out := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, NewRange(r.From, r.To))
	}
	return Selection{Ranges: out}
}

// Main 主选区，即第一段；没有段时返回零值
func (s Selection) Main() Range {
	if len(s.Ranges) == 0 {
		return Range{}
	}
	return s.Ranges[0]
}

// From 所有段中最小的起点
func (s Selection) From() int {
	if len(s.Ranges) == 0 {
		return 0
	}
	from := s.Ranges[0].From
	for _, r := range s.Ranges[1:] {
		from = min(from, r.From)
	}
	return from
}

// To 所有段中最大的终点
func (s Selection) To() int {
	if len(s.Ranges) == 0 {
		return 0
	}
	to := s.Ranges[0].To
	for _, r := range s.Ranges[1:] {
		to = max(to, r.To)
	}
	return to
}

// Empty 所有段都是折叠的光标（或者根本没有段）
func (s Selection) Empty() bool {
	for _, r := range s.Ranges {
		if !r.Empty() {
			return false
		}
	}
	return true
}

// Map 把选区映射到新文档，并裁剪到 [0, size]
func (s Selection) Map(m Mapping, size int) Selection {
	if len(s.Ranges) == 0 {
		return s
	}
	out := make([]Range, 0, len(s.Ranges))
	for _, r := range s.Ranges {
		from := min(max(m.Map(r.From), 0), size)
		to := min(max(m.Map(r.To), 0), size)
		out = append(out, NewRange(from, to))
	}
	return Selection{Ranges: out}
}

// Clamp 裁剪到 [0, size]
func (s Selection) Clamp(size int) Selection { return s.Map(nil, size) }

func (s Selection) Eq(o Selection) bool {
	if len(s.Ranges) != len(o.Ranges) {
		return false
	}
	for i := range s.Ranges {
		if s.Ranges[i] != o.Ranges[i] {
			return false
		}
	}
	return true
}
