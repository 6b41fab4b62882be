package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	automationdomain "github.com/smallbiznis/charla/internal/automation/domain"
	classifierdomain "github.com/smallbiznis/charla/internal/classifier/domain"
	"github.com/smallbiznis/charla/internal/clock"
	convdomain "github.com/smallbiznis/charla/internal/conversation/domain"
	"github.com/smallbiznis/charla/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PipelineParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Conversations convdomain.Service
	Classifier    classifierdomain.Service
	Matcher       automationdomain.Matcher
	Executor      automationdomain.Executor
	Metrics       *metrics.Metrics `optional:"true"`
}

type Pipeline struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	conversations convdomain.Service
	classifier    classifierdomain.Service
	matcher       automationdomain.Matcher
	executor      automationdomain.Executor
	metrics       *metrics.Metrics
}

func NewPipeline(p PipelineParam) automationdomain.Pipeline {
	return &Pipeline{
		db:            p.DB,
		log:           p.Log.Named("automation.pipeline"),
		genID:         p.GenID,
		clock:         p.Clock,
		conversations: p.Conversations,
		classifier:    p.Classifier,
		matcher:       p.Matcher,
		executor:      p.Executor,
		metrics:       p.Metrics,
	}
}

// Handle runs the automation pipeline once for a durably stored inbound
// message: classify (metered), match, execute, record. Billing and provider
// failures degrade rather than fail; FAILED is reserved for faults like an
// unavailable store. Committed steps stay committed if the run is cut
// short, there is no cross-step transaction.
func (p *Pipeline) Handle(ctx context.Context, req automationdomain.HandleRequest) (*automationdomain.Execution, error) {
	message, err := p.conversations.GetMessage(ctx, req.OrgID, req.MessageID)
	if err != nil {
		return nil, err
	}
	conversation, err := p.conversations.GetConversation(ctx, req.OrgID, message.ConversationID)
	if err != nil {
		return nil, err
	}

	execution := &automationdomain.Execution{
		ID:             p.genID.Generate(),
		OrgID:          req.OrgID,
		MessageID:      message.ID,
		ConversationID: conversation.ID,
		Status:         automationdomain.StatusReceived,
		StartedAt:      p.clock.Now(),
	}
	if err := p.db.WithContext(ctx).Create(execution).Error; err != nil {
		return nil, err
	}

	p.setStatus(ctx, execution, automationdomain.StatusClassifying)
	classification, err := p.classifier.Classify(ctx, classifierdomain.Context{
		OrgID:          req.OrgID,
		ConversationID: conversation.ID,
		MessageID:      message.ID,
		Content:        message.Content,
		ContactName:    conversation.ContactName,
		MessageCount:   conversation.MessageCount,
	})
	if err != nil {
		return p.fail(ctx, execution, err)
	}

	p.setStatus(ctx, execution, automationdomain.StatusMatching)
	rule, err := p.matcher.Match(ctx, req.OrgID, classification, message, conversation)
	if err != nil {
		return p.fail(ctx, execution, err)
	}
	if rule == nil {
		p.finish(ctx, execution, automationdomain.StatusSkipped, automationdomain.RunResult{}, nil)
		return execution, nil
	}
	execution.RuleID = &rule.ID

	p.setStatus(ctx, execution, automationdomain.StatusExecuting)
	result, err := p.executor.Run(ctx, rule, message, conversation)
	if err != nil {
		return p.fail(ctx, execution, err)
	}

	p.finish(ctx, execution, automationdomain.StatusCompleted, result, nil)
	p.log.Info("pipeline completed",
		zap.Int64("org_id", int64(req.OrgID)),
		zap.Int64("message_id", int64(message.ID)),
		zap.Int64("rule_id", int64(rule.ID)),
		zap.String("rule_name", rule.Name),
		zap.Int("actions_executed", result.Executed),
		zap.Int("actions_failed", result.Failed),
	)
	return execution, nil
}

// setStatus records an intermediate transition; losing one is harmless, so
// failures are only logged.
func (p *Pipeline) setStatus(ctx context.Context, execution *automationdomain.Execution, status automationdomain.ExecutionStatus) {
	execution.Status = status
	err := p.db.WithContext(ctx).
		Model(&automationdomain.Execution{}).
		Where("id = ?", execution.ID).
		Update("status", status).Error
	if err != nil {
		p.log.Warn("failed to record pipeline status",
			zap.Int64("execution_id", int64(execution.ID)),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) finish(ctx context.Context, execution *automationdomain.Execution, status automationdomain.ExecutionStatus, result automationdomain.RunResult, cause error) {
	now := p.clock.Now()
	execution.Status = status
	execution.ActionsExecuted = result.Executed
	execution.ActionsFailed = result.Failed
	execution.FinishedAt = &now
	if cause != nil {
		execution.ErrorMessage = cause.Error()
	}

	updates := map[string]any{
		"status":           status,
		"actions_executed": result.Executed,
		"actions_failed":   result.Failed,
		"error_message":    execution.ErrorMessage,
		"finished_at":      now,
	}
	if execution.RuleID != nil {
		updates["rule_id"] = *execution.RuleID
	}
	err := p.db.WithContext(ctx).
		Model(&automationdomain.Execution{}).
		Where("id = ?", execution.ID).
		Updates(updates).Error
	if err != nil {
		p.log.Error("failed to record pipeline outcome",
			zap.Int64("execution_id", int64(execution.ID)),
			zap.Error(err),
		)
	}
	p.metrics.RecordPipelineRun(ctx, string(status))
}

func (p *Pipeline) fail(ctx context.Context, execution *automationdomain.Execution, cause error) (*automationdomain.Execution, error) {
	p.log.Error("pipeline failed",
		zap.Int64("execution_id", int64(execution.ID)),
		zap.Int64("org_id", int64(execution.OrgID)),
		zap.Error(cause),
	)
	p.finish(ctx, execution, automationdomain.StatusFailed, automationdomain.RunResult{}, cause)
	return execution, cause
}
