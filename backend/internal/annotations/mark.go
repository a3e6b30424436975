// Package annotations 在文档之上叠加批注：把批注 id 挂到文本区间上，
// 并根据选区、悬停/聚焦、外部激活列表等状态计算渲染用的装饰。
// 不保存批注内容（评论正文、作者等），只关心 id 和它覆盖的区间。
package annotations

import (
	"strings"

	"annotationServer/backend/internal/document"
)

// MarkType 批注 mark 的类型名，属性 ids 为 []string
const MarkType = "annotations"

// NewMark 用给定 id 列表创建批注 mark（拷贝一份，避免与调用方共享）
func NewMark(ids []string) document.Mark {
	return document.Mark{
		Type:  MarkType,
		Attrs: map[string]any{"ids": append([]string(nil), ids...)},
	}
}

// IDsOf 读出 mark 上的 ids。
// 缺失或格式不对时当作空集合，不报错
func IDsOf(m document.Mark) []string {
	switch v := m.Attrs["ids"].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			s, ok := x.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}

// NodeIDs 节点上的批注 id；没有批注 mark 时 ok 为 false
func NodeIDs(doc *document.Document, id document.NodeID) (ids []string, ok bool) {
	m, found := doc.FindMark(id, MarkType)
	if !found {
		return nil, false
	}
	return IDsOf(m), true
}

// MarkAttrsHTML 渲染成 span 属性：{"data-annotations": "a,b"}，没有 id 时返回 nil
func MarkAttrsHTML(ids []string) map[string]string {
	if len(ids) == 0 {
		return nil
	}
	return map[string]string{"data-annotations": strings.Join(ids, ",")}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
