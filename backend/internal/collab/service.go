package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"annotationServer/backend/internal/annotations"
	"annotationServer/backend/internal/document"
	"annotationServer/backend/internal/ot/delta"
)

// 协作引擎接口
type Service interface {
	CreateDocument(ctx context.Context, ownerID uint64, title string, paragraphs []string) (string, error)
	GetDocumentID(ctx context.Context, title string) (string, error)

	// 会话：同一文档的每个客户端（clientId）各自持有选区和批注叠加状态。
	// 会话属于打开它的用户，其他用户访问返回 ErrSessionForbidden
	OpenSession(ctx context.Context, docID string, userID uint64, clientID string) (SessionView, error)
	CloseSession(ctx context.Context, docID string, userID uint64, clientID string) error
	Sessions(ctx context.Context, docID string) []string

	Submit(ctx context.Context, docID string, authorID uint64,
		baseRevision uint64, clientID string, clientSeq uint64,
		ops delta.Delta) (AppliedOp, error)
	Select(ctx context.Context, docID string, userID uint64, clientID string, sel document.Selection) (SessionView, error)
	Exec(ctx context.Context, docID string, userID uint64, clientID string, cmd Command) (CommandResult, error)
	HandleKey(ctx context.Context, docID string, userID uint64, clientID, key string) (CommandResult, error)
	Decorations(ctx context.Context, docID string, userID uint64, clientID string) (SessionView, error)

	CurrentRevision(ctx context.Context, docID string) (uint64, error)
	LoadDocumentContent(ctx context.Context, docID string) (Snapshot, error)
	// 可选：用于握手/追平
	OpsSince(ctx context.Context, docID string, fromRevision uint64, limit int) ([]AppliedOp, error)
	SaveSnapshot(ctx context.Context, docID string) error
	AnnotationIndex(ctx context.Context, docID string) ([]annotations.Span, uint64, error)
}

// 快照存储接口
type SnapshotStore interface {
	SaveDocumentSnapshot(ctx context.Context, docID string, rev uint64, content string) error
	LoadLatestSnapshot(ctx context.Context, docID string) (content string, rev uint64, found bool, err error)
}

type DocumentStore interface {
	GetDocumentID(ctx context.Context, title string) (string, error)
	CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error)
	DocumentExists(ctx context.Context, docID string) (bool, error)
}

// RangeIndex 保存快照时同步写入的批注区间索引
type RangeIndex interface {
	ReplaceRanges(ctx context.Context, docID string, rev uint64, spans []annotations.Span) error
}

type AppliedOp struct {
	OperationID string      `json:"operationId"` // 本次操作的唯一ID（用于幂等/追踪）
	Revision    uint64      `json:"revision"`    // 文档版本号
	AuthorID    uint64      `json:"authorId"`
	ClientID    string      `json:"clientId"`
	ClientSeq   uint64      `json:"clientSeq,omitempty"`
	Ops         delta.Delta `json:"ops,omitempty"`
	// 批注命令引起的修改
	Command      string    `json:"command,omitempty"`
	AnnotationID string    `json:"annotationId,omitempty"`
	AppliedAt    time.Time `json:"appliedAt"`
}

// SessionView 一个会话当前的渲染状态
type SessionView struct {
	DocID             string                `json:"docId"`
	ClientID          string                `json:"clientId"`
	Revision          uint64                `json:"revision"`
	Selection         document.Selection    `json:"selection"`
	SelectedIDs       []string              `json:"selectedIds"`
	NewAnnotationType string                `json:"newAnnotationType,omitempty"`
	Selectors         map[string]string     `json:"selectors,omitempty"`
	Decorations       []document.Decoration `json:"decorations"`
}

type CommandResult struct {
	Applied    bool        `json:"applied"`
	DocChanged bool        `json:"docChanged"`
	Revision   uint64      `json:"revision"`
	Ops        []AppliedOp `json:"ops,omitempty"`
	View       SessionView `json:"view"`
}

type Snapshot struct {
	DocID    string          `json:"docId"`
	Revision uint64          `json:"revision"`
	Content  json.RawMessage `json:"content"`
	Text     string          `json:"text"`
}

var (
	ErrRevisionConflict      = errors.New("REVISION_CONFLICT")
	ErrDuplicateOrOutOfOrder = errors.New("DUPLICATE_OR_OUT_OF_ORDER")
	ErrDocumentNotFound      = errors.New("DOCUMENT_NOT_FOUND")
	ErrSessionNotFound       = errors.New("SESSION_NOT_FOUND")
	ErrSessionForbidden      = errors.New("SESSION_FORBIDDEN")
	ErrUnknownCommand        = errors.New("UNKNOWN_COMMAND")
	ErrStoreNotInitialized   = errors.New("STORE_NOT_INITIALIZED")
)

type Options struct {
	RingCap               int           // 近期操作环形缓冲容量
	Prefix                string        // 装饰 class 前缀
	DefaultAnnotationType string        // showNewAnnotation 未指定类型 / 快捷键使用的类型
	EnqueueTimeout        time.Duration // 事件入队最长等待
	// OnChange 文档内容变化后调用（持锁调用，不能回调 Service）
	OnChange func(docID string, revision uint64)
}

type session struct {
	userID   uint64
	clientID string
	ann      *annotations.Annotations
	editor   *document.Editor
}

type docState struct {
	mu       sync.Mutex
	doc      *document.Document
	revision uint64
	opsRing  []AppliedOp
	// 去重窗口：记录某 clientId 最近的最大 clientSeq
	lastSeqByClient map[string]uint64
	sessions        map[string]*session
}

// 内存实现：持有所有已打开文档的状态，存储层可选
type InMemoryService struct {
	mu     sync.RWMutex
	docs   map[string]*docState
	titles map[string]string // 无 DocumentStore 时的 title -> docID
	opts   Options

	// 依赖注入，实现在 store 中
	snapshots SnapshotStore
	documents DocumentStore
	ranges    RangeIndex
	events    EventSink
}

var _ Service = (*InMemoryService)(nil)

func NewInMemoryService(snapshots SnapshotStore, documents DocumentStore, ranges RangeIndex, events EventSink, opts Options) *InMemoryService {
	if opts.RingCap <= 0 {
		opts.RingCap = 1024
	}
	if opts.Prefix == "" {
		opts.Prefix = annotations.DefaultPrefix
	}
	if opts.DefaultAnnotationType == "" {
		opts.DefaultAnnotationType = annotations.DefaultAnnotationType
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 100 * time.Millisecond
	}
	return &InMemoryService{
		docs:      make(map[string]*docState),
		titles:    make(map[string]string),
		opts:      opts,
		snapshots: snapshots,
		documents: documents,
		ranges:    ranges,
		events:    events,
	}
}

func (s *InMemoryService) newDocState(doc *document.Document, rev uint64) *docState {
	return &docState{
		doc:             doc,
		revision:        rev,
		opsRing:         make([]AppliedOp, 0, s.opts.RingCap),
		lastSeqByClient: make(map[string]uint64),
		sessions:        make(map[string]*session),
	}
}

func (s *InMemoryService) lookup(docID string) *docState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[docID]
}

// loadDoc 取内存中的文档；不在内存时从最新快照恢复。
// 没有 DocumentStore 时只认有快照的文档，纯内存模式下必须先 CreateDocument
func (s *InMemoryService) loadDoc(ctx context.Context, docID string) (*docState, error) {
	if ds := s.lookup(docID); ds != nil {
		return ds, nil
	}
	known := s.documents != nil
	if known {
		ok, err := s.documents.DocumentExists(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("check document %s: %w", docID, err)
		}
		if !ok {
			return nil, ErrDocumentNotFound
		}
	}
	doc, rev := document.NewDocument(), uint64(0)
	if s.snapshots != nil {
		content, r, found, err := s.snapshots.LoadLatestSnapshot(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("load snapshot %s: %w", docID, err)
		}
		if found {
			if doc, err = document.Unmarshal([]byte(content)); err != nil {
				return nil, fmt.Errorf("decode snapshot %s rev=%d: %w", docID, r, err)
			}
			rev, known = r, true
		}
	}
	if !known {
		return nil, ErrDocumentNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ds := s.docs[docID]; ds != nil {
		return ds, nil
	}
	ds := s.newDocState(doc, rev)
	s.docs[docID] = ds
	return ds, nil
}

func (s *InMemoryService) sessionOf(docID string, userID uint64, clientID string) (*docState, *session, error) {
	ds := s.lookup(docID)
	if ds == nil {
		return nil, nil, ErrSessionNotFound
	}
	ds.mu.Lock()
	sess := ds.sessions[clientID]
	if sess == nil {
		ds.mu.Unlock()
		return nil, nil, ErrSessionNotFound
	}
	if sess.userID != userID {
		ds.mu.Unlock()
		return nil, nil, fmt.Errorf("session %s of doc %s: %w", clientID, docID, ErrSessionForbidden)
	}
	// 调用方负责解锁
	return ds, sess, nil
}

func (s *InMemoryService) CreateDocument(ctx context.Context, ownerID uint64, title string, paragraphs []string) (string, error) {
	var docID string
	if s.documents != nil {
		id, err := s.documents.CreateDocument(ctx, ownerID, title)
		if err != nil {
			return "", fmt.Errorf("create document %q: %w", title, err)
		}
		docID = id
	} else {
		docID = uuid.NewString()
	}

	doc := document.NewDocument(paragraphs...)
	s.mu.Lock()
	s.docs[docID] = s.newDocState(doc, 0)
	if title != "" {
		s.titles[title] = docID
	}
	s.mu.Unlock()

	if s.snapshots != nil {
		b, err := doc.MarshalJSON()
		if err != nil {
			return "", err
		}
		if err := s.snapshots.SaveDocumentSnapshot(ctx, docID, 0, string(b)); err != nil {
			return "", fmt.Errorf("save initial snapshot %s: %w", docID, err)
		}
	}
	log.Printf("document created doc=%s owner=%d title=%q", docID, ownerID, title)
	return docID, nil
}

func (s *InMemoryService) GetDocumentID(ctx context.Context, title string) (string, error) {
	if s.documents != nil {
		return s.documents.GetDocumentID(ctx, title)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.titles[title]; ok {
		return id, nil
	}
	return "", ErrDocumentNotFound
}

func (s *InMemoryService) OpenSession(ctx context.Context, docID string, userID uint64, clientID string) (SessionView, error) {
	ds, err := s.loadDoc(ctx, docID)
	if err != nil {
		return SessionView{}, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	sess := ds.sessions[clientID]
	if sess != nil && sess.userID != userID {
		return SessionView{}, fmt.Errorf("session %s of doc %s: %w", clientID, docID, ErrSessionForbidden)
	}
	if sess == nil {
		ann := annotations.New(annotations.Options{
			Prefix:       s.opts.Prefix,
			ShortcutType: s.opts.DefaultAnnotationType,
		})
		state := document.NewEditorState(ds.doc, document.Selection{}, ann.Plugin())
		sess = &session{
			userID:   userID,
			clientID: clientID,
			ann:      ann,
			editor:   document.NewEditor(state, ann.Keymap()),
		}
		ds.sessions[clientID] = sess
	}
	return viewOf(docID, ds, sess), nil
}

func (s *InMemoryService) CloseSession(ctx context.Context, docID string, userID uint64, clientID string) error {
	ds, _, err := s.sessionOf(docID, userID, clientID)
	if err != nil {
		return err
	}
	defer ds.mu.Unlock()
	delete(ds.sessions, clientID)
	return nil
}

// Sessions 文档上打开的 clientId，按字典序
func (s *InMemoryService) Sessions(ctx context.Context, docID string) []string {
	ds := s.lookup(docID)
	if ds == nil {
		return nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	out := make([]string, 0, len(ds.sessions))
	for id := range ds.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// 提交操作（InMemoryService 实现）
func (s *InMemoryService) Submit(ctx context.Context, docID string, authorID uint64, baseRevision uint64, clientID string, clientSeq uint64, ops delta.Delta) (AppliedOp, error) {
	ds, err := s.loadDoc(ctx, docID)
	if err != nil {
		return AppliedOp{}, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	// 幂等/去重（最小实现：只允许递增）
	if last := ds.lastSeqByClient[clientID]; clientSeq <= last {
		return AppliedOp{}, ErrDuplicateOrOutOfOrder
	}
	// 版本校验
	if baseRevision != ds.revision {
		return AppliedOp{}, ErrRevisionConflict
	}

	tr := document.NewTransaction(ds.doc, document.Selection{})
	if err := tr.ApplyDelta(ops); err != nil {
		return AppliedOp{}, fmt.Errorf("apply ops doc=%s rev=%d: %w", docID, ds.revision, err)
	}
	if err := s.commitLocked(ds, tr, nil); err != nil {
		return AppliedOp{}, err
	}

	op := s.recordLocked(docID, ds, AppliedOp{
		AuthorID:  authorID,
		ClientID:  clientID,
		ClientSeq: clientSeq,
		Ops:       ops,
	})
	// 更新去重窗口
	ds.lastSeqByClient[clientID] = clientSeq
	return op, nil
}

func (s *InMemoryService) Select(ctx context.Context, docID string, userID uint64, clientID string, sel document.Selection) (SessionView, error) {
	ds, sess, err := s.sessionOf(docID, userID, clientID)
	if err != nil {
		return SessionView{}, err
	}
	defer ds.mu.Unlock()

	if err := sess.editor.Dispatch(sess.editor.State().Tr().SetSelection(sel)); err != nil {
		return SessionView{}, err
	}
	return viewOf(docID, ds, sess), nil
}

func (s *InMemoryService) Exec(ctx context.Context, docID string, userID uint64, clientID string, cmd Command) (CommandResult, error) {
	ds, sess, err := s.sessionOf(docID, userID, clientID)
	if err != nil {
		return CommandResult{}, err
	}
	defer ds.mu.Unlock()

	c, err := resolve(sess.ann, cmd, s.opts.DefaultAnnotationType)
	if err != nil {
		return CommandResult{}, err
	}
	return s.runLocked(docID, ds, sess, c, cmd.Name, cmd.ID)
}

// HandleKey 执行快捷键绑定的命令，未绑定返回 Applied=false
func (s *InMemoryService) HandleKey(ctx context.Context, docID string, userID uint64, clientID, key string) (CommandResult, error) {
	ds, sess, err := s.sessionOf(docID, userID, clientID)
	if err != nil {
		return CommandResult{}, err
	}
	defer ds.mu.Unlock()

	c, ok := sess.editor.Lookup(key)
	if !ok {
		return CommandResult{Revision: ds.revision, View: viewOf(docID, ds, sess)}, nil
	}
	return s.runLocked(docID, ds, sess, c, "", "")
}

// runLocked 在会话上执行命令，修改了文档的事务同步到同文档的其他会话
func (s *InMemoryService) runLocked(docID string, ds *docState, sess *session, c document.Command, name, annotationID string) (CommandResult, error) {
	var committed []*document.Transaction
	capture := func(state *document.EditorState, dispatch func(*document.Transaction)) bool {
		return c(state, func(tr *document.Transaction) {
			committed = append(committed, tr)
			dispatch(tr)
		})
	}
	applied, err := sess.editor.Exec(capture)
	if err != nil {
		return CommandResult{}, err
	}

	res := CommandResult{Applied: applied}
	for _, tr := range committed {
		if !tr.DocChanged() {
			continue
		}
		if err := s.commitLocked(ds, tr, sess); err != nil {
			return CommandResult{}, err
		}
		op := s.recordLocked(docID, ds, AppliedOp{
			AuthorID:     sess.userID,
			ClientID:     sess.clientID,
			Command:      name,
			AnnotationID: annotationID,
		})
		res.DocChanged = true
		res.Ops = append(res.Ops, op)
	}
	res.Revision = ds.revision
	res.View = viewOf(docID, ds, sess)
	return res, nil
}

// commitLocked 文档已在 origin 会话上生效（origin 为 nil 表示不属于任何会话），
// 把同一个事务重放到其余会话上
func (s *InMemoryService) commitLocked(ds *docState, tr *document.Transaction, origin *session) error {
	if tr.Before() != ds.doc {
		return fmt.Errorf("commit: %w", document.ErrDocMismatch)
	}
	for id, sess := range ds.sessions {
		if sess == origin {
			continue
		}
		rtr := sess.editor.State().Tr()
		if err := rtr.Replay(tr); err != nil {
			return fmt.Errorf("replay into session %s: %w", id, err)
		}
		if err := sess.editor.Dispatch(rtr); err != nil {
			return fmt.Errorf("dispatch into session %s: %w", id, err)
		}
	}
	ds.doc = tr.Doc()
	return nil
}

// recordLocked 推进版本、写入环形缓冲并发出事件
func (s *InMemoryService) recordLocked(docID string, ds *docState, op AppliedOp) AppliedOp {
	ds.revision++
	op.OperationID = uuid.NewString()
	op.Revision = ds.revision
	op.AppliedAt = time.Now()

	// 达到容量则丢弃最老的一条
	if len(ds.opsRing) >= s.opts.RingCap {
		copy(ds.opsRing[0:], ds.opsRing[1:])
		ds.opsRing = ds.opsRing[:len(ds.opsRing)-1]
	}
	ds.opsRing = append(ds.opsRing, op)

	if s.events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.EnqueueTimeout)
		if err := s.events.Enqueue(ctx, eventFromOp(docID, op)); err != nil {
			log.Printf("enqueue event failed doc=%s op=%s rev=%d err=%v", docID, op.OperationID, op.Revision, err)
		}
		cancel()
	}
	if s.opts.OnChange != nil {
		s.opts.OnChange(docID, ds.revision)
	}
	return op
}

func (s *InMemoryService) Decorations(ctx context.Context, docID string, userID uint64, clientID string) (SessionView, error) {
	ds, sess, err := s.sessionOf(docID, userID, clientID)
	if err != nil {
		return SessionView{}, err
	}
	defer ds.mu.Unlock()
	return viewOf(docID, ds, sess), nil
}

func viewOf(docID string, ds *docState, sess *session) SessionView {
	state := sess.editor.State()
	v := SessionView{
		DocID:       docID,
		ClientID:    sess.clientID,
		Revision:    ds.revision,
		Selection:   state.Selection(),
		SelectedIDs: []string{},
		Decorations: state.Decorations().All(),
	}
	if v.Decorations == nil {
		v.Decorations = []document.Decoration{}
	}
	if o := sess.ann.State(state); o != nil {
		v.SelectedIDs = o.SelectedIDs()
		v.NewAnnotationType, _ = o.NewAnnotationType()
		if sels := o.Selectors(); len(sels) > 0 {
			v.Selectors = make(map[string]string, len(sels))
			for k, id := range sels {
				v.Selectors[string(k)] = id
			}
		}
	}
	return v
}

// 返回当前文档版本，未加载的文档返回 0
func (s *InMemoryService) CurrentRevision(ctx context.Context, docID string) (uint64, error) {
	ds := s.lookup(docID)
	if ds == nil {
		return 0, nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.revision, nil
}

func (s *InMemoryService) LoadDocumentContent(ctx context.Context, docID string) (Snapshot, error) {
	ds, err := s.loadDoc(ctx, docID)
	if err != nil {
		return Snapshot{}, err
	}
	ds.mu.Lock()
	doc, rev := ds.doc, ds.revision
	ds.mu.Unlock()

	b, err := doc.MarshalJSON()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{DocID: docID, Revision: rev, Content: b, Text: doc.TextContent()}, nil
}

// 返回 fromRevision 之后的已应用操作
func (s *InMemoryService) OpsSince(ctx context.Context, docID string, fromRevision uint64, limit int) ([]AppliedOp, error) {
	ds := s.lookup(docID)
	if ds == nil {
		return nil, nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	var out []AppliedOp
	for _, op := range ds.opsRing {
		if op.Revision > fromRevision {
			out = append(out, op)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryService) SaveSnapshot(ctx context.Context, docID string) error {
	if s.snapshots == nil {
		return ErrStoreNotInitialized
	}
	ds := s.lookup(docID)
	if ds == nil {
		return ErrDocumentNotFound
	}
	// 文档不可变，拿到引用后即可释放锁
	ds.mu.Lock()
	doc, rev := ds.doc, ds.revision
	ds.mu.Unlock()

	b, err := doc.MarshalJSON()
	if err != nil {
		return err
	}
	if err := s.snapshots.SaveDocumentSnapshot(ctx, docID, rev, string(b)); err != nil {
		return fmt.Errorf("save snapshot doc=%s rev=%d: %w", docID, rev, err)
	}
	if s.ranges != nil {
		if err := s.ranges.ReplaceRanges(ctx, docID, rev, annotations.Spans(doc)); err != nil {
			return fmt.Errorf("save annotation ranges doc=%s rev=%d: %w", docID, rev, err)
		}
	}
	return nil
}

// AnnotationIndex 文档中所有批注的区间；文档不在内存时读最新快照，但不加载进内存
func (s *InMemoryService) AnnotationIndex(ctx context.Context, docID string) ([]annotations.Span, uint64, error) {
	if ds := s.lookup(docID); ds != nil {
		ds.mu.Lock()
		doc, rev := ds.doc, ds.revision
		ds.mu.Unlock()
		return annotations.Spans(doc), rev, nil
	}
	if s.snapshots == nil {
		return nil, 0, ErrDocumentNotFound
	}
	content, rev, found, err := s.snapshots.LoadLatestSnapshot(ctx, docID)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return nil, 0, ErrDocumentNotFound
	}
	doc, err := document.Unmarshal([]byte(content))
	if err != nil {
		return nil, 0, err
	}
	return annotations.Spans(doc), rev, nil
}
