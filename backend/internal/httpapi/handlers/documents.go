package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"annotationServer/backend/internal/annotations"
	"annotationServer/backend/internal/cache"
	"annotationServer/backend/internal/collab"
	"annotationServer/backend/internal/document"
	"annotationServer/backend/internal/ot/delta"
	"annotationServer/backend/internal/store"
)

// RangeLister 快照时落库的批注区间（store.AnnotationRangeRepo）
type RangeLister interface {
	ListRanges(ctx context.Context, docID, annotationID string) ([]annotations.Span, uint64, error)
}

type Handlers struct {
	svc    collab.Service
	index  *cache.AnnotationIndexCache // 可为 nil
	ranges RangeLister                 // 可为 nil
}

func New(svc collab.Service, index *cache.AnnotationIndexCache, ranges RangeLister) *Handlers {
	return &Handlers{svc: svc, index: index, ranges: ranges}
}

func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.POST("/documents", h.CreateDocument)
	rg.GET("/documents/:docID", h.GetDocument)
	rg.POST("/documents/:docID/ops", h.SubmitOps)
	rg.POST("/documents/:docID/snapshot", h.SaveSnapshot)
	rg.GET("/documents/:docID/annotations", h.GetAnnotations)

	rg.POST("/documents/:docID/sessions", h.OpenSession)
	rg.DELETE("/documents/:docID/sessions/:clientID", h.CloseSession)
	rg.PUT("/documents/:docID/sessions/:clientID/selection", h.Select)
	rg.GET("/documents/:docID/sessions/:clientID/decorations", h.GetDecorations)
	rg.POST("/documents/:docID/sessions/:clientID/commands", h.ExecCommand)
	rg.POST("/documents/:docID/sessions/:clientID/keys", h.HandleKey)
}

// statusOf 把领域错误映射成 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, collab.ErrDocumentNotFound),
		errors.Is(err, collab.ErrSessionNotFound),
		errors.Is(err, store.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, collab.ErrSessionForbidden):
		return http.StatusForbidden
	case errors.Is(err, collab.ErrRevisionConflict),
		errors.Is(err, collab.ErrDuplicateOrOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, collab.ErrUnknownCommand),
		errors.Is(err, delta.ErrInvalidOp),
		errors.Is(err, document.ErrInvalidPosition),
		errors.Is(err, document.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, collab.ErrStoreNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// 从 gin.Context 获取用户信息，由鉴权中间件写入
func userOf(c *gin.Context) (uint64, bool) {
	userId, exists := c.Get("userId")
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User context missing"})
		return 0, false
	}
	uid, ok := userId.(uint64)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Invalid user ID format"})
		return 0, false
	}
	return uid, true
}

type createDocumentRequest struct {
	Title      string   `json:"title" binding:"required"`
	Paragraphs []string `json:"paragraphs"`
}

func (h *Handlers) CreateDocument(c *gin.Context) {
	ownerID, ok := userOf(c)
	if !ok {
		return
	}
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	docID, err := h.svc.CreateDocument(c.Request.Context(), ownerID, req.Title, req.Paragraphs)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"docId":     docID,
		"ownerId":   ownerID,
		"title":     req.Title,
		"revision":  0,
		"createdAt": time.Now().Format(time.RFC3339),
	})
}

func (h *Handlers) GetDocument(c *gin.Context) {
	snap, err := h.svc.LoadDocumentContent(c.Request.Context(), c.Param("docID"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type submitRequest struct {
	BaseRevision uint64      `json:"baseRevision"`
	ClientID     string      `json:"clientId" binding:"required"`
	ClientSeq    uint64      `json:"clientSeq" binding:"required"`
	Ops          delta.Delta `json:"ops" binding:"required"`
}

func (h *Handlers) SubmitOps(c *gin.Context) {
	uid, ok := userOf(c)
	if !ok {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op, err := h.svc.Submit(c.Request.Context(), c.Param("docID"), uid, req.BaseRevision, req.ClientID, req.ClientSeq, req.Ops)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *Handlers) SaveSnapshot(c *gin.Context) {
	docID := c.Param("docID")
	if err := h.svc.SaveSnapshot(c.Request.Context(), docID); err != nil {
		abortWith(c, err)
		return
	}
	rev, _ := h.svc.CurrentRevision(c.Request.Context(), docID)
	c.JSON(http.StatusOK, gin.H{"docId": docID, "revision": rev})
}

// loadIndex 回源顺序：内存/快照中的文档，再到落库的区间表
func (h *Handlers) loadIndex(docID string) cache.IndexLoader {
	return func(ctx context.Context) ([]annotations.Span, uint64, bool, error) {
		spans, rev, err := h.svc.AnnotationIndex(ctx, docID)
		switch {
		case err == nil:
			return spans, rev, true, nil
		case !errors.Is(err, collab.ErrDocumentNotFound):
			return nil, 0, false, err
		case h.ranges == nil:
			return nil, 0, false, nil
		}
		spans, rev, err = h.ranges.ListRanges(ctx, docID, "")
		if err != nil {
			return nil, 0, false, err
		}
		return spans, rev, len(spans) > 0, nil
	}
}

func (h *Handlers) GetAnnotations(c *gin.Context) {
	docID := c.Param("docID")
	ctx := c.Request.Context()

	var (
		entry cache.IndexEntry
		found bool
		err   error
	)
	if h.index != nil {
		entry, found, err = h.index.Get(ctx, docID, h.loadIndex(docID))
	} else {
		entry.Spans, entry.Revision, found, err = h.loadIndex(docID)(ctx)
	}
	if err != nil {
		abortWith(c, err)
		return
	}
	if !found {
		abortWith(c, collab.ErrDocumentNotFound)
		return
	}

	spans := entry.Spans
	if id := c.Query("id"); id != "" {
		filtered := make([]annotations.Span, 0, len(spans))
		for _, sp := range spans {
			if sp.ID == id {
				filtered = append(filtered, sp)
			}
		}
		spans = filtered
	}
	if spans == nil {
		spans = []annotations.Span{}
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "revision": entry.Revision, "annotations": spans})
}
