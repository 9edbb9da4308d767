// Package api exposes the conversation core over HTTP. Every route requires
// a bearer token; the authenticated subject is the actor for whatever the
// route does, so a caller can never act as someone else.
package api

import (
	"errors"
	"net/http"

	"github.com/converse-chat/converse/internal/domain"
	"github.com/converse-chat/converse/internal/hub"
	"github.com/converse-chat/converse/internal/ledger"
	"github.com/converse-chat/converse/internal/membership"
	"github.com/converse-chat/converse/internal/token"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDKey = "userID"

// Server wires the services into HTTP routes.
type Server struct {
	directory *membership.Directory
	ledger    *ledger.Ledger
	hub       *hub.Hub
	tokens    *token.Manager
	logger    *zap.Logger
}

func NewServer(directory *membership.Directory, l *ledger.Ledger, h *hub.Hub,
	tokens *token.Manager, logger *zap.Logger) *Server {
	return &Server{
		directory: directory,
		ledger:    l,
		hub:       h,
		tokens:    tokens,
		logger:    logger,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", func(c *gin.Context) { hub.ServeWS(s.hub, s.tokens, c) })

	apiGroup := router.Group("/api", s.authenticate)
	{
		apiGroup.POST("/requests", s.sendRequest)
		apiGroup.GET("/requests", s.listRequests)
		apiGroup.POST("/requests/:id", s.actOnRequest)

		apiGroup.GET("/invitations", s.listInvitations)
		apiGroup.POST("/invitations/:id", s.actOnInvitation)

		apiGroup.POST("/groups", s.createGroup)
		apiGroup.GET("/groups/:id/members", s.listGroupMembers)
		apiGroup.POST("/groups/:id/members", s.addMembers)
		apiGroup.POST("/groups/:id/members/remove", s.removeMembers)
		apiGroup.POST("/groups/:id/coadmins", s.promoteCoAdmins)
		apiGroup.DELETE("/groups/:id", s.deleteGroup)

		apiGroup.GET("/conversations", s.listConversations)
		apiGroup.GET("/conversations/:id/messages", s.listMessages)
		apiGroup.POST("/conversations/:id/messages", s.sendMessage)
		apiGroup.PATCH("/conversations/:id/messages/:msgId", s.editMessage)
		apiGroup.POST("/conversations/:id/messages/delete", s.deleteMessages)
		apiGroup.POST("/conversations/:id/read", s.markRead)
		apiGroup.POST("/conversations/:id/typing", s.typing)
	}

	return router
}

func (s *Server) authenticate(c *gin.Context) {
	raw := token.FromAuthHeader(c.GetHeader("Authorization"))
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := s.tokens.Parse(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Set(userIDKey, userID)
	c.Next()
}

func actor(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// respondErr maps the domain error taxonomy onto HTTP statuses.
func (s *Server) respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
