package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	classifierdomain "github.com/smallbiznis/charla/internal/classifier/domain"
	convdomain "github.com/smallbiznis/charla/internal/conversation/domain"
)

// Matcher returns the single rule that fires for a message, or nil when no
// active rule evaluates true.
type Matcher interface {
	Match(ctx context.Context, orgID snowflake.ID, classification *classifierdomain.Classification, message *convdomain.Message, conversation *convdomain.Conversation) (*Rule, error)
}

// RunResult counts the per-action outcomes of one rule run.
type RunResult struct {
	Executed int
	Failed   int
}

// Executor runs a matched rule's actions in execution order and updates the
// rule counters afterwards.
type Executor interface {
	Run(ctx context.Context, rule *Rule, message *convdomain.Message, conversation *convdomain.Conversation) (RunResult, error)
}

// HandleRequest identifies one durably stored inbound message.
type HandleRequest struct {
	OrgID     snowflake.ID
	MessageID snowflake.ID
}

// Pipeline is the single automation entry point, invoked once per inbound
// message after ingestion has persisted it.
type Pipeline interface {
	Handle(ctx context.Context, req HandleRequest) (*Execution, error)
}
