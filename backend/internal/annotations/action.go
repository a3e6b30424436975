package annotations

// Selector 选择器通道，每个通道同一时刻最多属于一个批注
type Selector string

const (
	SelectorFocus Selector = "focus"
	SelectorHover Selector = "hover"
)

// selectorOrder 生成装饰时通道的固定顺序
var selectorOrder = []Selector{SelectorFocus, SelectorHover}

func (s Selector) Valid() bool {
	return s == SelectorFocus || s == SelectorHover
}

// Action 随事务元数据传给 reducer，每个事务最多一个。
// 只有本包里的四种实现。
type Action interface {
	isAction()
}

// SetActiveAnnotations ActiveIDs 为 nil 表示关闭激活高亮
type SetActiveAnnotations struct {
	ActiveIDs []string
}

type SetAnnotationSelector struct {
	Selector Selector
	ID       string
}

// UnsetAnnotationSelector 只有当前持有者等于 ID 时才会清除
type UnsetAnnotationSelector struct {
	Selector Selector
	ID       string
}

// SetNewAnnotationType Type 为空表示隐藏新建批注
type SetNewAnnotationType struct {
	Type string
}

func (SetActiveAnnotations) isAction()    {}
func (SetAnnotationSelector) isAction()   {}
func (UnsetAnnotationSelector) isAction() {}
func (SetNewAnnotationType) isAction()    {}
