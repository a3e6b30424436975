package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"annotationServer/backend/internal/collab"
	"annotationServer/backend/internal/document"
)

type openSessionRequest struct {
	ClientID string `json:"clientId"`
}

// OpenSession clientId 为空时由服务端生成
func (h *Handlers) OpenSession(c *gin.Context) {
	uid, ok := userOf(c)
	if !ok {
		return
	}
	var req openSessionRequest
	// 允许空 body
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	view, err := h.svc.OpenSession(c.Request.Context(), c.Param("docID"), uid, req.ClientID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handlers) CloseSession(c *gin.Context) {
	uid, ok := userOf(c)
	if !ok {
		return
	}
	if err := h.svc.CloseSession(c.Request.Context(), c.Param("docID"), uid, c.Param("clientID")); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type selectRequest struct {
	Ranges []document.Range `json:"ranges"`
}

func (h *Handlers) Select(c *gin.Context) {
	uid, ok := userOf(c)
	if !ok {
		return
	}
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := h.svc.Select(c.Request.Context(), c.Param("docID"), uid, c.Param("clientID"), document.MultiSelection(req.Ranges...))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handlers) GetDecorations(c *gin.Context) {
	uid, ok := userOf(c)
	if !ok {
		return
	}
	view, err := h.svc.Decorations(c.Request.Context(), c.Param("docID"), uid, c.Param("clientID"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ExecCommand body 与 websocket 命令相同：{command, id, ids, selector, annotationType}
func (h *Handlers) ExecCommand(c *gin.Context) {
	uid, ok := userOf(c)
	if !ok {
		return
	}
	var cmd collab.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.Exec(c.Request.Context(), c.Param("docID"), uid, c.Param("clientID"), cmd)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type keyRequest struct {
	Key string `json:"key" binding:"required"`
}

func (h *Handlers) HandleKey(c *gin.Context) {
	uid, ok := userOf(c)
	if !ok {
		return
	}
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.HandleKey(c.Request.Context(), c.Param("docID"), uid, c.Param("clientID"), req.Key)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
