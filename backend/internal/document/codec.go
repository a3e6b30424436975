package document

import (
	"encoding/json"
	"fmt"
	"sort"
)

// NodeJSON 快照格式，与 ProseMirror 的 doc.toJSON() 同构：
//
//	{"type":"doc","content":[{"type":"paragraph","content":[
//	    {"type":"text","text":"hi","marks":[{"type":"annotations","attrs":{"ids":["a"]}}]}]}]}
type NodeJSON struct {
	Type    NodeType   `json:"type"`
	Text    string     `json:"text,omitempty"`
	Marks   []Mark     `json:"marks,omitempty"`
	Content []NodeJSON `json:"content,omitempty"`
}

func (d *Document) ToJSON() NodeJSON {
	return d.nodeJSON(d.Root())
}

func (d *Document) nodeJSON(n *Node) NodeJSON {
	out := NodeJSON{Type: n.Type, Text: n.Text, Marks: d.MarksOf(n.ID)}
	for _, c := range n.Children {
		out.Content = append(out.Content, d.nodeJSON(d.nodes[c]))
	}
	return out
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.ToJSON())
}

// FromJSON 重建文档，节点 ID 重新分配；相邻同 mark 的文本会被合并
func FromJSON(root NodeJSON) (*Document, error) {
	if root.Type != TypeDoc {
		return nil, fmt.Errorf("root type %q: %w", root.Type, ErrInvalidJSON)
	}
	d := newEmptyDocument()
	docNode := d.nodes[d.root]
	for i, pj := range root.Content {
		if pj.Type != TypeParagraph {
			return nil, fmt.Errorf("content[%d] type %q: %w", i, pj.Type, ErrInvalidJSON)
		}
		p := d.newNode(TypeParagraph, "")
		runs := make([]run, 0, len(pj.Content))
		for j, tj := range pj.Content {
			if tj.Type != TypeText || len(tj.Content) > 0 {
				return nil, fmt.Errorf("content[%d][%d] type %q: %w", i, j, tj.Type, ErrInvalidJSON)
			}
			runs = append(runs, run{text: []rune(tj.Text), marks: normalizeMarks(tj.Marks)})
		}
		d.setRuns(p, runs)
		docNode.Children = append(docNode.Children, p.ID)
	}
	if len(docNode.Children) == 0 {
		p := d.newNode(TypeParagraph, "")
		docNode.Children = append(docNode.Children, p.ID)
	}
	return d, nil
}

// Unmarshal 从 JSON 字节解析快照
func Unmarshal(data []byte) (*Document, error) {
	var root NodeJSON
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return FromJSON(root)
}

// normalizeMarks 按 Type 排序、同类型后者覆盖前者
func normalizeMarks(marks []Mark) []Mark {
	var out []Mark
	for _, m := range marks {
		out = addToSet(out, Mark{Type: m.Type, Attrs: normalizeAttrs(m.Attrs)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// normalizeAttrs JSON 解出的字符串数组是 []any，统一成 []string，
// 否则 DeepEqual 会把内容相同的 mark 当成不同
func normalizeAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if arr, ok := v.([]any); ok {
			strs := make([]string, 0, len(arr))
			allStrings := true
			for _, x := range arr {
				s, ok := x.(string)
				if !ok {
					allStrings = false
					break
				}
				strs = append(strs, s)
			}
			if allStrings {
				out[k] = strs
				continue
			}
		}
		out[k] = v
	}
	return out
}
