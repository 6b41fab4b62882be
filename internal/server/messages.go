package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	automationdomain "github.com/smallbiznis/charla/internal/automation/domain"
	convdomain "github.com/smallbiznis/charla/internal/conversation/domain"
)

type ingestMessageRequest struct {
	ContactRef  string `json:"contact_ref" binding:"required"`
	ContactName string `json:"contact_name"`
	Content     string `json:"content" binding:"required"`
}

type ingestMessageResponse struct {
	Message      *convdomain.Message         `json:"message"`
	Conversation *convdomain.Conversation    `json:"conversation"`
	Execution    *automationdomain.Execution `json:"execution"`
}

// ingestMessage stores one inbound message and runs the automation
// pipeline for it synchronously. The execution outcome is returned so
// channel adapters can surface automation results immediately.
func (s *Server) ingestMessage(c *gin.Context) {
	var req ingestMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	orgID := requestOrgID(c)

	if !s.allowIngest(ctx, orgID.String(), req.ContactRef) {
		AbortWithError(c, ErrRateLimited)
		return
	}
	lease, locked := s.lockConversation(ctx, orgID.String(), req.ContactRef)
	if !locked {
		AbortWithError(c, ErrConversationBusy)
		return
	}
	defer s.unlockConversation(orgID.String(), lease)

	message, conversation, err := s.conversationSvc.RecordInbound(ctx, convdomain.RecordInboundRequest{
		OrgID:       orgID,
		ContactRef:  req.ContactRef,
		ContactName: req.ContactName,
		Content:     req.Content,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	execution, err := s.pipeline.Handle(ctx, automationdomain.HandleRequest{
		OrgID:     orgID,
		MessageID: message.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Reload: the pipeline bumped counters and timestamps.
	conversation, err = s.conversationSvc.GetConversation(ctx, orgID, conversation.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ingestMessageResponse{
		Message:      message,
		Conversation: conversation,
		Execution:    execution,
	})
}

func (s *Server) getConversation(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	conversation, err := s.conversationSvc.GetConversation(c.Request.Context(), requestOrgID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}
