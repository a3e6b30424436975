package document

// run 是段落内一段同 mark 的文本，编辑时先把段落展开成 run 列表，改完再写回
type run struct {
	id    NodeID // 0 表示需要新建节点
	text  []rune
	marks []Mark
}

func (d *Document) runsOf(para *Node) []run {
	runs := make([]run, 0, len(para.Children))
	for _, id := range para.Children {
		n := d.nodes[id]
		runs = append(runs, run{id: id, text: []rune(n.Text), marks: copyMarks(d.marks[id])})
	}
	return runs
}

func runsLen(runs []run) int {
	n := 0
	for _, r := range runs {
		n += len(r.text)
	}
	return n
}

// splitRuns 在段内偏移 off 处切开。
// 被切开的 run：左半保留原 ID，右半当作新节点
func splitRuns(runs []run, off int) (left, right []run) {
	pos := 0
	for i, r := range runs {
		end := pos + len(r.text)
		switch {
		case off >= end:
			left = append(left, r)
		case off <= pos:
			right = append(right, runs[i:]...)
			return left, right
		default:
			cut := off - pos
			left = append(left, run{id: r.id, text: r.text[:cut], marks: r.marks})
			right = append(right, run{text: r.text[cut:], marks: r.marks})
			right = append(right, runs[i+1:]...)
			return left, right
		}
		pos = end
	}
	return left, right
}

// sliceRuns 把 [from, to) 切成三段
func sliceRuns(runs []run, from, to int) (before, middle, after []run) {
	before, rest := splitRuns(runs, from)
	middle, after = splitRuns(rest, to-from)
	return before, middle, after
}

func concatRuns(parts ...[]run) []run {
	var out []run
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// setRuns 写回段落：丢掉空 run，合并相邻且 mark 相同的 run，释放不再使用的旧节点
func (d *Document) setRuns(para *Node, runs []run) {
	var out []run
	for _, r := range runs {
		if len(r.text) == 0 {
			continue
		}
		if k := len(out); k > 0 && markSetEq(out[k-1].marks, r.marks) {
			prev := &out[k-1]
			// 必须新开切片，切开的左右两半共用底层数组
			text := make([]rune, 0, len(prev.text)+len(r.text))
			text = append(append(text, prev.text...), r.text...)
			prev.text = text
			if prev.id == 0 {
				prev.id = r.id
			}
			continue
		}
		out = append(out, r)
	}

	keep := make(map[NodeID]bool, len(out))
	for _, r := range out {
		if r.id != 0 {
			keep[r.id] = true
		}
	}
	for _, id := range para.Children {
		if !keep[id] {
			delete(d.nodes, id)
			delete(d.marks, id)
		}
	}

	children := make([]NodeID, 0, len(out))
	for _, r := range out {
		n := d.nodes[r.id]
		if r.id == 0 || n == nil {
			n = d.newNode(TypeText, string(r.text))
		} else {
			n.Text = string(r.text)
		}
		if len(r.marks) > 0 {
			d.marks[n.ID] = copyMarks(r.marks)
		} else {
			delete(d.marks, n.ID)
		}
		children = append(children, n.ID)
	}
	para.Children = children
}

// dropBlock 删除段落节点，以及其中没有被 keep 的 text 节点
func (d *Document) dropBlock(pid NodeID, keep map[NodeID]bool) {
	if p := d.nodes[pid]; p != nil {
		for _, id := range p.Children {
			if !keep[id] {
				delete(d.nodes, id)
				delete(d.marks, id)
			}
		}
	}
	delete(d.nodes, pid)
}
