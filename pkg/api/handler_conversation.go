package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/merlya/merlya/pkg/conversation"
)

// ConversationsResponse is returned by GET /api/v1/conversations.
type ConversationsResponse struct {
	Conversations []conversation.Summary `json:"conversations"`
}

// conversationsHandler handles GET /api/v1/conversations.
func (s *Server) conversationsHandler(c *gin.Context) {
	response := ConversationsResponse{Conversations: []conversation.Summary{}}
	if s.store == nil {
		c.JSON(http.StatusOK, response)
		return
	}

	summaries, err := s.store.ListAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Conversations = append(response.Conversations, summaries...)
	c.JSON(http.StatusOK, response)
}

// conversationHandler handles GET /api/v1/conversations/:id.
func (s *Server) conversationHandler(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conversation store is not configured"})
		return
	}

	conv, err := s.store.LoadConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// conversationExportHandler handles GET /api/v1/conversations/:id/export.
// The body is the portable export document, importable into any store
// backend.
func (s *Server) conversationExportHandler(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conversation store is not configured"})
		return
	}

	data, err := s.store.ExportConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}
