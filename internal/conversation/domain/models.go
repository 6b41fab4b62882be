// Package domain contains persistence models for conversations and the
// side effects automations apply to them.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization   = errors.New("invalid_organization")
	ErrConversationNotFound  = errors.New("conversation_not_found")
	ErrMessageNotFound       = errors.New("message_not_found")
	ErrInvalidMessageContent = errors.New("invalid_message_content")
	ErrInvalidTagName        = errors.New("invalid_tag_name")
	ErrInvalidAgent          = errors.New("invalid_agent")
)

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// Conversation is one contact thread within a tenant. Counters and
// last-activity timestamps are denormalized here because condition
// evaluation reads them on every inbound message.
type Conversation struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_conversations_org_contact,priority:1" json:"org_id"`
	ContactName     string        `gorm:"type:text" json:"contact_name"`
	ContactRef      string        `gorm:"type:text;not null;uniqueIndex:ux_conversations_org_contact,priority:2" json:"contact_ref"`
	AssignedAgentID *snowflake.ID `gorm:"index" json:"assigned_agent_id"`
	MessageCount    int           `gorm:"not null;default:0" json:"message_count"`
	LastInboundAt   *time.Time    `json:"last_inbound_at"`
	LastOutboundAt  *time.Time    `json:"last_outbound_at"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID             snowflake.ID     `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID     `gorm:"not null;index" json:"org_id"`
	ConversationID snowflake.ID     `gorm:"not null;index" json:"conversation_id"`
	Direction      MessageDirection `gorm:"type:text;not null" json:"direction"`
	Content        string           `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Message) TableName() string { return "messages" }

type Tag struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_tags_org_name,priority:1" json:"org_id"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:ux_tags_org_name,priority:2" json:"name"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Tag) TableName() string { return "tags" }

type ConversationTag struct {
	ConversationID snowflake.ID `gorm:"primaryKey" json:"conversation_id"`
	TagID          snowflake.ID `gorm:"primaryKey" json:"tag_id"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ConversationTag) TableName() string { return "conversation_tags" }

type Task struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID `gorm:"not null;index" json:"org_id"`
	ConversationID snowflake.ID `gorm:"not null;index" json:"conversation_id"`
	Title          string       `gorm:"type:text;not null" json:"title"`
	Description    string       `gorm:"type:text" json:"description"`
	DueAt          *time.Time   `json:"due_at"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Task) TableName() string { return "tasks" }

// AssignmentLog records each agent handoff with its reason.
type AssignmentLog struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID `gorm:"not null;index" json:"org_id"`
	ConversationID snowflake.ID `gorm:"not null;index" json:"conversation_id"`
	AgentID        snowflake.ID `gorm:"not null" json:"agent_id"`
	Reason         string       `gorm:"type:text" json:"reason"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (AssignmentLog) TableName() string { return "assignment_logs" }
