package api

import (
	"net/http"

	"github.com/converse-chat/converse/internal/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) sendRequest(c *gin.Context) {
	var body struct {
		TargetID string `json:"targetId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	req, err := s.directory.SendRequest(c.Request.Context(), actor(c), body.TargetID)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        req.ID,
		"requester": req.RequesterID,
		"target":    req.TargetID,
		"status":    req.Status,
		"createdAt": req.CreatedAt,
	})
}

func (s *Server) listRequests(c *gin.Context) {
	reqs, err := s.directory.PendingRequestsFor(c.Request.Context(), actor(c))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

func (s *Server) actOnRequest(c *gin.Context) {
	var body struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	err := s.directory.ActOnRequest(c.Request.Context(), c.Param("id"), actor(c), domain.RequestAction(body.Action))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) listInvitations(c *gin.Context) {
	invs, err := s.directory.InvitationsFor(c.Request.Context(), actor(c))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": invs})
}

func (s *Server) actOnInvitation(c *gin.Context) {
	var body struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	err := s.directory.ActOnInvitation(c.Request.Context(), c.Param("id"), actor(c), domain.RequestAction(body.Action))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) createGroup(c *gin.Context) {
	var body struct {
		Name         string   `json:"name"`
		AvatarRef    string   `json:"avatarRef"`
		CandidateIDs []string `json:"candidateIds"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	res, err := s.directory.CreateGroup(c.Request.Context(), actor(c), body.Name, body.AvatarRef, body.CandidateIDs)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"group":       res.Group,
		"members":     res.Members,
		"invitations": res.Invitations,
	})
}

func (s *Server) listGroupMembers(c *gin.Context) {
	members, err := s.directory.GroupRoster(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (s *Server) addMembers(c *gin.Context) {
	var body struct {
		UserIDs []string `json:"userIds"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	added, err := s.directory.AddMembers(c.Request.Context(), c.Param("id"), actor(c), body.UserIDs)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (s *Server) removeMembers(c *gin.Context) {
	var body struct {
		UserIDs []string `json:"userIds"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if err := s.directory.RemoveMembers(c.Request.Context(), c.Param("id"), actor(c), body.UserIDs); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) promoteCoAdmins(c *gin.Context) {
	var body struct {
		UserIDs []string `json:"userIds"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if err := s.directory.PromoteCoAdmins(c.Request.Context(), c.Param("id"), actor(c), body.UserIDs); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) deleteGroup(c *gin.Context) {
	if err := s.directory.DeleteGroup(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
