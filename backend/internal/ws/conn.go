package ws

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"annotationServer/backend/internal/collab"
	"annotationServer/backend/internal/document"
)

type ConnOptions struct {
	PresenceTTL   time.Duration // 在线状态 / 选择器占用的过期时间
	SubmitTimeout time.Duration // 等待信号量 + 提交的最长时间
	SendBuffer    int
}

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	userID   uint64
	username string

	// docID / clientID 在 readLoop 中修改，hub 推送时在别的 goroutine 读取
	mu       sync.Mutex
	docID    string
	clientID string
	closed   bool

	send chan OutboundMessage
	// 协作引擎服务
	svc collab.Service
	// 信号量控制
	sem  *collab.SemaphoreControl
	opts ConnOptions
}

func NewConn(ws *websocket.Conn, hub *Hub, userID uint64, username string, svc collab.Service, sem *collab.SemaphoreControl, opts ConnOptions) *Conn {
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = 600 * time.Second
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 200 * time.Millisecond
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	return &Conn{
		ws:       ws,
		hub:      hub,
		userID:   userID,
		username: username,
		send:     make(chan OutboundMessage, opts.SendBuffer),
		svc:      svc,
		sem:      sem,
		opts:     opts,
	}
}

func (c *Conn) session() (docID, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docID, c.clientID
}

func (c *Conn) setSession(docID, clientID string) {
	c.mu.Lock()
	c.docID, c.clientID = docID, clientID
	c.mu.Unlock()
}

func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		// 如果队列满了，则丢弃消息
	}
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) sendError(content string) {
	c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: content})
}

// docOf 只读操作（保存、加载）可以指定 docId，默认当前加入的文档
func (c *Conn) docOf(msg ClientMessage) string {
	if msg.DocID != "" {
		return msg.DocID
	}
	docID, _ := c.session()
	return docID
}

// joined 当前连接加入的会话；会话相关的消息只作用于它，忽略消息里的 docId/clientId
func (c *Conn) joined() (docID, clientID string, ok bool) {
	docID, clientID = c.session()
	if docID == "" {
		c.sendError(collab.ErrSessionNotFound.Error())
		return "", "", false
	}
	return docID, clientID, true
}

func (c *Conn) withSem(ctx context.Context, fn func(ctx context.Context)) {
	sctx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
	defer cancel()
	if c.sem != nil {
		if err := c.sem.Acquire(sctx); err != nil {
			c.sendError(err.Error())
			return
		}
		defer c.sem.Release()
	}
	fn(sctx)
}

func (c *Conn) join(ctx context.Context, msg ClientMessage) {
	docID := msg.DocID
	if docID == "" && msg.DocTitle != "" {
		id, err := c.svc.GetDocumentID(ctx, msg.DocTitle)
		if err != nil {
			log.Printf("get document id error: %v", err)
			c.sendError("GET_DOCID_FAILED")
			return
		}
		docID = id
	}
	if docID == "" {
		c.sendError("MISSING_DOC_ID")
		return
	}

	cur, prev := c.session()
	clientID := prev
	if msg.ClientId != "" {
		clientID = msg.ClientId
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	view, err := c.svc.OpenSession(ctx, docID, c.userID, clientID)
	if err != nil {
		log.Printf("open session error (user=%d, doc=%s): %v", c.userID, docID, err)
		c.sendError(err.Error())
		return
	}
	// 先离开旧会话，同一文档换 clientId 时旧会话也要关掉
	if cur != "" && (cur != docID || prev != clientID) {
		c.leave(ctx)
	}
	c.setSession(docID, clientID)
	c.hub.Join(docID, c)
	if c.hub.presence != nil {
		if err := c.hub.presence.AddMember(ctx, docID, c.userID, c.username, c.opts.PresenceTTL); err != nil {
			log.Printf("add member error: %v", err)
		}
	}

	c.SendMessage_Enqueue(ServerMessage{
		Type:     "joinDocument",
		DocID:    docID,
		ClientId: clientID,
		Revision: view.Revision,
		Content:  "Document " + docID + " joined by user " + strconv.FormatUint(c.userID, 10),
	})
	c.SendMessage_Enqueue(DecorationsMessage{Type: "decorations", SessionView: view})
	c.hub.BroadcastSelectors(ctx, docID)
}

// leave 关闭会话并离开房间；没有加入文档时什么也不做
func (c *Conn) leave(ctx context.Context) {
	docID, clientID := c.session()
	if docID == "" {
		return
	}
	if err := c.svc.CloseSession(ctx, docID, c.userID, clientID); err != nil && !errors.Is(err, collab.ErrSessionNotFound) {
		log.Printf("close session error (doc=%s, client=%s): %v", docID, clientID, err)
	}
	c.hub.Leave(docID, c)
	if c.hub.presence != nil {
		if err := c.hub.presence.RemoveMember(ctx, docID, c.userID); err != nil {
			log.Printf("remove member error: %v", err)
		}
	}
	c.setSession("", clientID)
	c.hub.BroadcastSelectors(ctx, docID)
}

func (c *Conn) handleOpSubmit(ctx context.Context, msg OpSubmitMessage) {
	c.withSem(ctx, func(sctx context.Context) {
		op, err := c.svc.Submit(sctx, msg.DocID, c.userID,
			msg.BaseRevision, msg.ClientId, msg.ClientSeq, msg.Ops)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.SendMessage_Enqueue(OpAppliedMessage{
			Type:            "op_applied",
			DocID:           msg.DocID,
			BaseRevision:    msg.BaseRevision,
			CurrentRevision: op.Revision,
			ClientId:        msg.ClientId,
			ClientSeq:       msg.ClientSeq,
		})
		c.hub.BroadcastAppliedOp(msg.DocID, c, op)
		c.hub.PushDecorations(ctx, msg.DocID)
	})
}

func (c *Conn) handleSelect(ctx context.Context, msg ClientMessage) {
	docID, clientID, ok := c.joined()
	if !ok {
		return
	}
	view, err := c.svc.Select(ctx, docID, c.userID, clientID, document.MultiSelection(msg.Ranges...))
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.SendMessage_Enqueue(DecorationsMessage{Type: "decorations", SessionView: view})
}

func (c *Conn) handleCommand(ctx context.Context, msg ClientMessage) {
	docID, clientID, ok := c.joined()
	if !ok {
		return
	}
	cmd := collab.Command{
		Name:           msg.Type,
		ID:             msg.ID,
		IDs:            msg.IDs,
		Selector:       msg.Selector,
		AnnotationType: msg.AnnotationType,
	}
	c.withSem(ctx, func(sctx context.Context) {
		res, err := c.svc.Exec(sctx, docID, c.userID, clientID, cmd)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.afterCommand(ctx, docID, cmd, res)
	})
}

func (c *Conn) handleKey(ctx context.Context, msg ClientMessage) {
	docID, clientID, ok := c.joined()
	if !ok {
		return
	}
	c.withSem(ctx, func(sctx context.Context) {
		res, err := c.svc.HandleKey(sctx, docID, c.userID, clientID, msg.Key)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.afterCommand(ctx, docID, collab.Command{Name: "key"}, res)
	})
}

// afterCommand 回执 + 装饰推送；文档有变化时整个房间都要更新
func (c *Conn) afterCommand(ctx context.Context, docID string, cmd collab.Command, res collab.CommandResult) {
	c.SendMessage_Enqueue(CommandResultMessage{
		Type:       "command_result",
		DocID:      docID,
		Command:    cmd.Name,
		Applied:    res.Applied,
		DocChanged: res.DocChanged,
		Revision:   res.Revision,
	})
	if res.DocChanged {
		for _, op := range res.Ops {
			c.hub.BroadcastAppliedOp(docID, c, op)
		}
		c.hub.PushDecorations(ctx, docID)
	} else {
		c.SendMessage_Enqueue(DecorationsMessage{Type: "decorations", SessionView: res.View})
	}

	if !res.Applied || c.hub.presence == nil {
		return
	}
	var err error
	switch cmd.Name {
	case collab.CmdSetAnnotationSelector:
		err = c.hub.presence.SetSelector(ctx, docID, c.userID, cmd.Selector, cmd.ID, c.opts.PresenceTTL)
	case collab.CmdUnsetAnnotationSelector:
		_, err = c.hub.presence.UnsetSelector(ctx, docID, c.userID, cmd.Selector, cmd.ID)
	default:
		return
	}
	if err != nil {
		log.Printf("update selector presence error (doc=%s): %v", docID, err)
		return
	}
	c.hub.BroadcastSelectors(ctx, docID)
}

func (c *Conn) pushDecorations(ctx context.Context) {
	docID, clientID := c.session()
	if docID == "" {
		return
	}
	view, err := c.svc.Decorations(ctx, docID, c.userID, clientID)
	if err != nil {
		log.Printf("decorations error (doc=%s, client=%s): %v", docID, clientID, err)
		return
	}
	c.SendMessage_Enqueue(DecorationsMessage{Type: "decorations", SessionView: view})
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		// 请求 ctx 此时可能已经取消
		c.leave(context.Background())
		c.closeSend()
	}()
	for {
		var clientMessage ClientMessage
		if err := c.ws.ReadJSON(&clientMessage); err != nil {
			docID, _ := c.session()
			log.Printf("read json error (user=%d, doc=%s): %v", c.userID, docID, err)
			return
		}
		switch clientMessage.Type {
		case "heartbeat":
			docID, _ := c.session()
			if docID != "" && c.hub.presence != nil {
				if err := c.hub.presence.AddMember(ctx, docID, c.userID, c.username, c.opts.PresenceTTL); err != nil {
					log.Printf("add member error: %v", err)
				}
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})

		case "createDocument":
			docID, err := c.svc.CreateDocument(ctx, c.userID, clientMessage.DocTitle, clientMessage.Paragraphs)
			if err != nil {
				log.Printf("create document error: %v", err)
				c.sendError("CREATE_DOC_FAILED")
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "createDocument", DocID: docID,
				Content: "Document " + docID + " created by user " + strconv.FormatUint(c.userID, 10)})

		case "joinDocument":
			c.join(ctx, clientMessage)

		case "leaveDocument":
			c.leave(ctx)
			c.SendMessage_Enqueue(ServerMessage{Type: "leaveDocument"})

		case "show_alive_members":
			docID, _ := c.session()
			if c.hub.presence == nil || docID == "" {
				continue
			}
			members, err := c.hub.presence.GetAliveMembersWithNames(ctx, docID)
			if err != nil {
				log.Printf("get alive members with names error: %v", err)
				continue
			}
			names := make([]PresenceMember, len(members))
			for i, m := range members {
				names[i] = PresenceMember{UserID: m.UserID, Username: m.Username}
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "show_alive_members", DocID: docID, Members: names})

		case "op_submit":
			// 去重窗口按 clientId 计，只能用自己加入时的 clientId 提交
			docID, clientID, ok := c.joined()
			if !ok {
				continue
			}
			c.handleOpSubmit(ctx, OpSubmitMessage{
				Type:         clientMessage.Type,
				DocID:        docID,
				BaseRevision: clientMessage.BaseRevision,
				ClientId:     clientID,
				ClientSeq:    clientMessage.ClientSeq,
				Ops:          clientMessage.Ops,
			})

		case "select":
			c.handleSelect(ctx, clientMessage)

		case "key":
			c.handleKey(ctx, clientMessage)

		case "saveDocument":
			docID := c.docOf(clientMessage)
			if err := c.svc.SaveSnapshot(ctx, docID); err != nil {
				log.Printf("save document error: %v", err)
				c.SendMessage_Enqueue(ServerMessage{Type: "saveDocument", DocID: docID, Content: "Document " + docID + " save failed"})
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "saveDocument", DocID: docID, Content: "Document " + docID + " saved"})

		case "loadDocumentContent":
			docID := c.docOf(clientMessage)
			snap, err := c.svc.LoadDocumentContent(ctx, docID)
			if err != nil {
				log.Printf("load document content error: %v", err)
				c.sendError(err.Error())
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "loadDocumentContent", DocID: docID,
				Revision: snap.Revision, Content: snap.Text, Document: snap.Content})

		default:
			if collab.IsCommand(clientMessage.Type) {
				c.handleCommand(ctx, clientMessage)
				continue
			}
			// 忽略未知类型，或回一条提示
			c.SendMessage_Enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的消息
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			log.Printf("write json error (user=%d, type=%s): %v", c.userID, msg.MessageType(), err)
		}
	}
}
