package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/converse-chat/converse/internal/domain"
	"github.com/converse-chat/converse/internal/visibility"
	"github.com/gin-gonic/gin"
)

func (s *Server) listConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	digests, err := s.ledger.ListConversations(c.Request.Context(), actor(c), limit)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": digests})
}

func (s *Server) listMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	beforeTS, _ := strconv.ParseInt(c.DefaultQuery("beforeTs", "0"), 10, 64)

	views, err := s.ledger.ListMessages(c.Request.Context(), c.Param("id"), actor(c), visibility.Filter{
		Search:   c.Query("search"),
		Limit:    limit,
		BeforeTS: beforeTS,
		BeforeID: c.Query("beforeId"),
	})
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

func (s *Server) sendMessage(c *gin.Context) {
	var body struct {
		Body     string `json:"body"`
		MediaRef string `json:"mediaRef"`
		Type     string `json:"type"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if body.Type == "" {
		body.Type = string(domain.TypeText)
	}

	msg, err := s.ledger.Append(c.Request.Context(), c.Param("id"), actor(c),
		body.Body, body.MediaRef, domain.MessageType(body.Type))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        msg.ID,
		"senderId":  msg.SenderID,
		"body":      msg.Body,
		"mediaRef":  msg.MediaRef,
		"type":      msg.Type,
		"createdAt": msg.CreatedAt,
	})
}

func (s *Server) editMessage(c *gin.Context) {
	var body struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	msg, err := s.ledger.Edit(c.Request.Context(), c.Param("id"), c.Param("msgId"), actor(c), body.Body)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       msg.ID,
		"body":     msg.Body,
		"isEdited": msg.IsEdited,
		"editedAt": msg.EditedAt,
	})
}

func (s *Server) deleteMessages(c *gin.Context) {
	var body struct {
		MessageIDs []string `json:"messageIds"`
		Scope      string   `json:"scope"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	scope, err := domain.ParseScope(body.Scope)
	if err != nil {
		s.respondErr(c, err)
		return
	}

	res, err := s.ledger.Delete(c.Request.Context(), c.Param("id"), body.MessageIDs, actor(c), scope)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted":        res.Deleted,
		"alreadyDeleted": res.AlreadyDeleted,
		"effectiveScope": res.EffectiveScope,
	})
}

func (s *Server) markRead(c *gin.Context) {
	var body struct {
		At int64 `json:"at"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if body.At == 0 {
		body.At = time.Now().UnixMilli()
	}

	if err := s.ledger.MarkRead(c.Request.Context(), c.Param("id"), actor(c), body.At); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) typing(c *gin.Context) {
	var body struct {
		Started bool `json:"started"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if err := s.ledger.Typing(c.Request.Context(), c.Param("id"), actor(c), body.Started); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
