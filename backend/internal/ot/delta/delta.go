package delta

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

var ErrInvalidOp = errors.New("delta: invalid op")

type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // retain/delete 的长度（文档位置单位）
	Text  string         `json:"text,omitempty"`  // insert 的文本，"\n" 表示拆分段落
	Attrs map[string]any `json:"attrs,omitempty"` // insert 携带的 mark，key 为 mark 类型，value 为属性
}

type Delta []Op

// "ops":[{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]

// Validate 检查每个 op 是否合法：retain/delete 必须是正数，insert 不能为空
func (d Delta) Validate() error {
	for i, op := range d {
		switch op.Kind {
		case KindRetain, KindDelete:
			if op.Count <= 0 {
				return fmt.Errorf("%w: op[%d] %s count=%d", ErrInvalidOp, i, op.Kind, op.Count)
			}
		case KindInsert:
			if op.Text == "" {
				return fmt.Errorf("%w: op[%d] empty insert", ErrInvalidOp, i)
			}
		default:
			return fmt.Errorf("%w: op[%d] unknown kind %q", ErrInvalidOp, i, op.Kind)
		}
	}
	return nil
}

// BaseLen 应用前文档至少需要的长度（retain + delete）
func (d Delta) BaseLen() int {
	n := 0
	for _, op := range d {
		if op.Kind == KindRetain || op.Kind == KindDelete {
			n += op.Count
		}
	}
	return n
}

// Retain / Insert / Delete 便于构造 delta
func Retain(n int) Op { return Op{Kind: KindRetain, Count: n} }

func Insert(text string, attrs map[string]any) Op {
	return Op{Kind: KindInsert, Text: text, Attrs: attrs}
}

func Delete(n int) Op { return Op{Kind: KindDelete, Count: n} }
