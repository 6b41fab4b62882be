package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// RecordInboundRequest appends one inbound message, creating the
// conversation for a new contact ref on first contact.
type RecordInboundRequest struct {
	OrgID       snowflake.ID
	ContactRef  string
	ContactName string
	Content     string
}

// Service is the pipeline's window onto conversations: fact reads for
// condition evaluation and the narrow set of writes actions may apply.
type Service interface {
	RecordInbound(ctx context.Context, req RecordInboundRequest) (*Message, *Conversation, error)
	GetMessage(ctx context.Context, orgID, messageID snowflake.ID) (*Message, error)
	GetConversation(ctx context.Context, orgID, conversationID snowflake.ID) (*Conversation, error)

	AttachTag(ctx context.Context, orgID, conversationID snowflake.ID, tagName string) error
	AssignAgent(ctx context.Context, orgID, conversationID, agentID snowflake.ID, reason string) error
	SendReply(ctx context.Context, orgID, conversationID snowflake.ID, text string) (*Message, error)
	CreateTask(ctx context.Context, orgID, conversationID snowflake.ID, title, description string, dueAt *time.Time) (*Task, error)
	HasTag(ctx context.Context, orgID, conversationID snowflake.ID, tagName string) (bool, error)
}
