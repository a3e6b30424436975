package document

import "sync"

// Editor 持有一个会话的 EditorState，串行化所有事务
type Editor struct {
	mu     sync.Mutex
	state  *EditorState
	keymap Keymap
}

func NewEditor(state *EditorState, keymaps ...Keymap) *Editor {
	km := Keymap{}
	for _, k := range keymaps {
		for key, cmd := range k {
			km[key] = cmd
		}
	}
	return &Editor{state: state, keymap: km}
}

func (e *Editor) State() *EditorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Dispatch 提交一个基于当前状态创建的事务
func (e *Editor) Dispatch(tr *Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispatchLocked(tr)
}

func (e *Editor) dispatchLocked(tr *Transaction) error {
	ns, err := e.state.Apply(tr)
	if err != nil {
		return err
	}
	e.state = ns
	return nil
}

// Exec 执行命令；命令派发的事务立即提交。
// 返回命令自身的结果，以及提交失败时的错误
func (e *Editor) Exec(cmd Command) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var dispatchErr error
	ok := cmd(e.state, func(tr *Transaction) {
		if dispatchErr == nil {
			dispatchErr = e.dispatchLocked(tr)
		}
	})
	return ok, dispatchErr
}

func (e *Editor) Lookup(key string) (Command, bool) { return e.keymap.Lookup(key) }

// HandleKey 按快捷键查找命令并执行，未绑定时返回 false
func (e *Editor) HandleKey(key string) (bool, error) {
	cmd, ok := e.Lookup(key)
	if !ok {
		return false, nil
	}
	return e.Exec(cmd)
}
