package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrRuleNotFound           = errors.New("automation_rule_not_found")
	ErrInvalidConditionParams = errors.New("invalid_condition_params")
	ErrInvalidActionParams    = errors.New("invalid_action_params")
	ErrUnknownConditionType   = errors.New("unknown_condition_type")
	ErrUnknownActionType      = errors.New("unknown_action_type")
)

type ConditionType string

const (
	ConditionIntention    ConditionType = "INTENTION"
	ConditionKeyword      ConditionType = "KEYWORD"
	ConditionTimeWindow   ConditionType = "TIME_WINDOW"
	ConditionMessageCount ConditionType = "MESSAGE_COUNT"
	ConditionResponseTime ConditionType = "RESPONSE_TIME"
)

type LogicalOperator string

const (
	OperatorAnd LogicalOperator = "AND"
	OperatorOr  LogicalOperator = "OR"
)

type ActionType string

const (
	ActionTag         ActionType = "TAG"
	ActionAssignAgent ActionType = "ASSIGN_AGENT"
	ActionReply       ActionType = "REPLY"
	ActionTransfer    ActionType = "TRANSFER"
	ActionCreateTask  ActionType = "CREATE_TASK"
	ActionNotify      ActionType = "NOTIFY"
)

// ExecutionStatus tracks one pipeline run for one inbound message.
type ExecutionStatus string

const (
	StatusReceived    ExecutionStatus = "RECEIVED"
	StatusClassifying ExecutionStatus = "CLASSIFYING"
	StatusMatching    ExecutionStatus = "MATCHING"
	StatusExecuting   ExecutionStatus = "EXECUTING"
	StatusCompleted   ExecutionStatus = "COMPLETED"
	StatusSkipped     ExecutionStatus = "SKIPPED"
	StatusFailed      ExecutionStatus = "FAILED"
)

// Rule is one automation rule. Lower priority evaluates first; counters are
// maintained by the executor after every run.
type Rule struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id,string"`
	OrgID          snowflake.ID `gorm:"column:org_id;not null;index:idx_rules_org_active" json:"org_id,string"`
	Name           string       `gorm:"type:text;not null" json:"name"`
	Priority       int          `gorm:"not null;default:100" json:"priority"`
	IsActive       bool         `gorm:"not null;default:true;index:idx_rules_org_active" json:"is_active"`
	ExecutionCount int64        `gorm:"not null;default:0" json:"execution_count"`
	SuccessCount   int64        `gorm:"not null;default:0" json:"success_count"`
	ErrorCount     int64        `gorm:"not null;default:0" json:"error_count"`
	LastExecutedAt *time.Time   `json:"last_executed_at,omitempty"`

	Conditions []Condition `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"conditions,omitempty"`
	Actions    []Action    `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"actions,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Rule) TableName() string { return "automation_rules" }

// Condition combines with the running rule result through its own
// LogicalOperator; Position fixes the left-to-right order.
type Condition struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id,string"`
	RuleID          snowflake.ID      `gorm:"column:rule_id;not null;index" json:"rule_id,string"`
	Type            ConditionType     `gorm:"type:text;not null" json:"type"`
	LogicalOperator LogicalOperator   `gorm:"type:text;not null;default:AND" json:"logical_operator"`
	Position        int               `gorm:"not null;default:0" json:"position"`
	Params          datatypes.JSONMap `gorm:"type:jsonb" json:"params"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (Condition) TableName() string { return "automation_conditions" }

// Action is one side effect of a matched rule. ExecutionOrder is unique
// ascending per rule and fixes the sequential run order.
type Action struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id,string"`
	RuleID         snowflake.ID      `gorm:"column:rule_id;not null;index" json:"rule_id,string"`
	Type           ActionType        `gorm:"type:text;not null" json:"type"`
	ExecutionOrder int               `gorm:"not null;default:0" json:"execution_order"`
	Params         datatypes.JSONMap `gorm:"type:jsonb" json:"params"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (Action) TableName() string { return "automation_actions" }

// Execution is the persisted outcome of one pipeline run.
type Execution struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id,string"`
	OrgID           snowflake.ID      `gorm:"column:org_id;not null;index" json:"org_id,string"`
	RuleID          *snowflake.ID     `gorm:"column:rule_id;index" json:"rule_id,string,omitempty"`
	MessageID       snowflake.ID      `gorm:"column:message_id;not null;index" json:"message_id,string"`
	ConversationID  snowflake.ID      `gorm:"column:conversation_id;not null" json:"conversation_id,string"`
	Status          ExecutionStatus   `gorm:"type:text;not null" json:"status"`
	ActionsExecuted int               `gorm:"not null;default:0" json:"actions_executed"`
	ActionsFailed   int               `gorm:"not null;default:0" json:"actions_failed"`
	ErrorMessage    string            `gorm:"type:text" json:"error_message,omitempty"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	StartedAt       time.Time         `gorm:"not null" json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
}

func (Execution) TableName() string { return "automation_executions" }

// IntentionParams matches classification intentions against a set; the
// threshold override falls back to the org's resolved default when nil.
type IntentionParams struct {
	IntentionTypes      []string `json:"intention_types"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

type KeywordParams struct {
	Keywords []string `json:"keywords"`
	// MatchType is ANY or ALL; empty falls back to the org default.
	MatchType string `json:"match_type,omitempty"`
}

// TimeWindowParams uses HH:MM wall-clock bounds in the given IANA timezone.
// TimeEnd before TimeStart wraps across midnight. Empty Weekdays means all
// days; entries are MON..SUN.
type TimeWindowParams struct {
	TimeStart string   `json:"time_start"`
	TimeEnd   string   `json:"time_end"`
	Timezone  string   `json:"timezone,omitempty"`
	Weekdays  []string `json:"weekdays,omitempty"`
}

// MessageCountParams bounds conversation.message_count; nil bounds are open.
type MessageCountParams struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// ResponseTimeParams bounds seconds elapsed since the last outbound
// message; nil bounds are open. False when no outbound message exists yet.
type ResponseTimeParams struct {
	MinSeconds *int64 `json:"min_seconds,omitempty"`
	MaxSeconds *int64 `json:"max_seconds,omitempty"`
}

type TagParams struct {
	TagName string `json:"tag_name"`
}

type AssignAgentParams struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

// ReplyParams sends fixed Text, or generates the reply when AIGenerated is
// set (charged before sending). DelaySeconds postpones the send.
type ReplyParams struct {
	Text         string `json:"text,omitempty"`
	AIGenerated  bool   `json:"ai_generated,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	DelaySeconds int    `json:"delay_seconds,omitempty"`
}

type CreateTaskParams struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueInHours  int    `json:"due_in_hours,omitempty"`
}

type NotifyParams struct {
	Channels []string `json:"channels"`
	Subject  string   `json:"subject,omitempty"`
	Message  string   `json:"message"`
}

// DecodeConditionParams maps a stored condition params blob onto a typed
// struct. A blob that does not fit the target shape is a configuration
// error for that rule, reported as ErrInvalidConditionParams.
func DecodeConditionParams[T any](raw datatypes.JSONMap) (T, error) {
	return decodeParams[T](raw, ErrInvalidConditionParams)
}

// DecodeActionParams is the action-side counterpart, failing with
// ErrInvalidActionParams.
func DecodeActionParams[T any](raw datatypes.JSONMap) (T, error) {
	return decodeParams[T](raw, ErrInvalidActionParams)
}

func decodeParams[T any](raw datatypes.JSONMap, sentinel error) (T, error) {
	var out T
	buf, err := json.Marshal(map[string]any(raw))
	if err != nil {
		return out, fmt.Errorf("%w: %v", sentinel, err)
	}
	if err := json.Unmarshal(buf, &out); err != nil {
		return out, fmt.Errorf("%w: %v", sentinel, err)
	}
	return out, nil
}
