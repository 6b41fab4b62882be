package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	automationdomain "github.com/smallbiznis/charla/internal/automation/domain"
	"github.com/smallbiznis/charla/internal/clock"
	"github.com/smallbiznis/charla/internal/config"
	convdomain "github.com/smallbiznis/charla/internal/conversation/domain"
	"github.com/smallbiznis/charla/internal/notification"
	"github.com/smallbiznis/charla/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	"github.com/smallbiznis/charla/internal/providers/ai"
	walletdomain "github.com/smallbiznis/charla/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ExecutorParam struct {
	fx.In

	Config        config.Config
	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Conversations convdomain.Service
	Wallet        walletdomain.Service
	Orgs          orgdomain.Service
	Gateway       ai.Gateway
	Dispatcher    *notification.Dispatcher
	Metrics       *metrics.Metrics `optional:"true"`
}

type Executor struct {
	cfg           config.Config
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	conversations convdomain.Service
	wallet        walletdomain.Service
	orgs          orgdomain.Service
	gateway       ai.Gateway
	dispatcher    *notification.Dispatcher
	metrics       *metrics.Metrics
	pricing       ai.Pricing
	retrier       ai.Retrier
}

func NewExecutor(p ExecutorParam) automationdomain.Executor {
	return &Executor{
		cfg:           p.Config,
		db:            p.DB,
		log:           p.Log.Named("automation.executor"),
		clock:         p.Clock,
		conversations: p.Conversations,
		wallet:        p.Wallet,
		orgs:          p.Orgs,
		gateway:       p.Gateway,
		dispatcher:    p.Dispatcher,
		metrics:       p.Metrics,
		pricing: ai.Pricing{
			InputPer1KMicros:  p.Config.AI.InputCostPer1KMicros,
			OutputPer1KMicros: p.Config.AI.OutputCostPer1KMicros,
		},
		retrier: ai.Retrier{
			Attempts: 2,
			Delay:    time.Duration(p.Config.Automation.ProviderRetryBackoffMs) * time.Millisecond,
		},
	}
}

// Run executes the rule's actions strictly in ascending execution order,
// one at a time, so later actions can rely on earlier committed effects.
// A failing action is counted and logged; the run continues. There is no
// cross-action rollback. Afterwards the rule counters are updated.
func (e *Executor) Run(ctx context.Context, rule *automationdomain.Rule, message *convdomain.Message, conversation *convdomain.Conversation) (automationdomain.RunResult, error) {
	actions := make([]automationdomain.Action, len(rule.Actions))
	copy(actions, rule.Actions)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].ExecutionOrder < actions[j].ExecutionOrder
	})

	var result automationdomain.RunResult
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.execute(ctx, action, rule, message, conversation); err != nil {
			result.Failed++
			e.log.Warn("action failed",
				zap.Int64("org_id", int64(rule.OrgID)),
				zap.Int64("rule_id", int64(rule.ID)),
				zap.String("action_type", string(action.Type)),
				zap.Int("execution_order", action.ExecutionOrder),
				zap.Error(err),
			)
			e.metrics.RecordActionExecution(ctx, string(action.Type), "error")
			continue
		}
		result.Executed++
		e.metrics.RecordActionExecution(ctx, string(action.Type), "ok")
	}

	if err := e.updateRuleCounters(ctx, rule, result); err != nil {
		e.log.Error("failed to update rule counters",
			zap.Int64("rule_id", int64(rule.ID)),
			zap.Error(err),
		)
	}
	return result, nil
}

func (e *Executor) execute(ctx context.Context, action automationdomain.Action, rule *automationdomain.Rule, message *convdomain.Message, conversation *convdomain.Conversation) error {
	switch action.Type {
	case automationdomain.ActionTag:
		return e.executeTag(ctx, action, conversation)
	case automationdomain.ActionAssignAgent, automationdomain.ActionTransfer:
		return e.executeAssign(ctx, action, conversation)
	case automationdomain.ActionReply:
		return e.executeReply(ctx, action, message, conversation)
	case automationdomain.ActionCreateTask:
		return e.executeCreateTask(ctx, action, conversation)
	case automationdomain.ActionNotify:
		return e.executeNotify(ctx, action, rule, conversation)
	default:
		return fmt.Errorf("%w: %s", automationdomain.ErrUnknownActionType, action.Type)
	}
}

func (e *Executor) executeTag(ctx context.Context, action automationdomain.Action, conversation *convdomain.Conversation) error {
	params, err := automationdomain.DecodeActionParams[automationdomain.TagParams](action.Params)
	if err != nil {
		return err
	}
	if strings.TrimSpace(params.TagName) == "" {
		return fmt.Errorf("%w: tag_name is empty", automationdomain.ErrInvalidActionParams)
	}
	return e.conversations.AttachTag(ctx, conversation.OrgID, conversation.ID, params.TagName)
}

func (e *Executor) executeAssign(ctx context.Context, action automationdomain.Action, conversation *convdomain.Conversation) error {
	params, err := automationdomain.DecodeActionParams[automationdomain.AssignAgentParams](action.Params)
	if err != nil {
		return err
	}
	agentID, err := snowflake.ParseString(params.AgentID)
	if err != nil {
		return fmt.Errorf("%w: agent_id %q", automationdomain.ErrInvalidActionParams, params.AgentID)
	}
	reason := params.Reason
	if reason == "" {
		reason = strings.ToLower(string(action.Type))
	}
	return e.conversations.AssignAgent(ctx, conversation.OrgID, conversation.ID, agentID, reason)
}

func (e *Executor) executeReply(ctx context.Context, action automationdomain.Action, message *convdomain.Message, conversation *convdomain.Conversation) error {
	params, err := automationdomain.DecodeActionParams[automationdomain.ReplyParams](action.Params)
	if err != nil {
		return err
	}

	text := params.Text
	if params.AIGenerated {
		text, err = e.generateReply(ctx, conversation.OrgID, message, params)
		if err != nil {
			return err
		}
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: reply text is empty", automationdomain.ErrInvalidActionParams)
	}

	if params.DelaySeconds > 0 {
		delay := params.DelaySeconds
		if max := e.cfg.Automation.ReplyDelayMaxSeconds; max > 0 && delay > max {
			delay = max
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(time.Duration(delay) * time.Second):
		}
	}

	_, err = e.conversations.SendReply(ctx, conversation.OrgID, conversation.ID, text)
	return err
}

// generateReply produces the reply text through the AI gateway, charged as
// CONTENT_GENERATION before the message is sent. A rejected charge fails
// the action; the reply is never sent unbilled.
func (e *Executor) generateReply(ctx context.Context, orgID snowflake.ID, message *convdomain.Message, params automationdomain.ReplyParams) (string, error) {
	prompt := buildReplyPrompt(message, params)

	estimate := e.pricing.CostMicros(len(prompt)/4+1, e.cfg.AI.MaxTokens)
	ok, err := e.wallet.Authorize(ctx, orgID, estimate)
	if err != nil {
		return "", err
	}
	if !ok {
		e.metrics.RecordInsufficientBalance(ctx, string(walletdomain.UsageTypeContentGeneration))
		return "", walletdomain.ErrInsufficientBalance
	}

	model := e.cfg.AI.Model
	if settings, err := e.orgs.ResolveSettings(ctx, orgID); err == nil && settings.AIModel != "" {
		model = settings.AIModel
	}

	var result *ai.Result
	invokeErr := e.retrier.Do(ctx, func() error {
		var err error
		result, err = e.gateway.Invoke(ctx, prompt, ai.InvokeOptions{
			Model:       model,
			MaxTokens:   e.cfg.AI.MaxTokens,
			Temperature: e.cfg.AI.Temperature,
		})
		return err
	})
	if invokeErr != nil {
		e.metrics.RecordAIInvocation(ctx, e.gateway.Name(), "error")
		return "", invokeErr
	}
	e.metrics.RecordAIInvocation(ctx, result.Provider, "ok")

	costMicros := result.ProviderCostMicros
	if costMicros == 0 {
		costMicros = e.pricing.CostMicros(result.InputTokens, result.OutputTokens)
	}
	_, err = e.wallet.RecordUsage(ctx, walletdomain.RecordUsageRequest{
		OrgID:              orgID,
		IdempotencyKey:     "reply:" + message.ID.String(),
		UsageType:          walletdomain.UsageTypeContentGeneration,
		ProviderName:       result.Provider,
		ModelUsed:          result.Model,
		InputTokens:        result.InputTokens,
		OutputTokens:       result.OutputTokens,
		ProviderCostMicros: costMicros,
		ProcessingTime:     result.ProcessingTime,
		Description:        "automated reply generation",
		Metadata: map[string]any{
			"message_id": message.ID.String(),
		},
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", errors.New("empty generated reply")
	}
	return text, nil
}

func buildReplyPrompt(message *convdomain.Message, params automationdomain.ReplyParams) string {
	var b strings.Builder
	b.WriteString("Write a short, friendly reply to this customer message on behalf of the business.\n")
	b.WriteString("Answer in the customer's language. Respond with the reply text only.\n\n")
	if params.Prompt != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", params.Prompt)
	}
	fmt.Fprintf(&b, "Customer message: %s\n", message.Content)
	return b.String()
}

func (e *Executor) executeCreateTask(ctx context.Context, action automationdomain.Action, conversation *convdomain.Conversation) error {
	params, err := automationdomain.DecodeActionParams[automationdomain.CreateTaskParams](action.Params)
	if err != nil {
		return err
	}
	if strings.TrimSpace(params.Title) == "" {
		return fmt.Errorf("%w: title is empty", automationdomain.ErrInvalidActionParams)
	}
	var dueAt *time.Time
	if params.DueInHours > 0 {
		due := e.clock.Now().Add(time.Duration(params.DueInHours) * time.Hour)
		dueAt = &due
	}
	_, err = e.conversations.CreateTask(ctx, conversation.OrgID, conversation.ID, params.Title, params.Description, dueAt)
	return err
}

func (e *Executor) executeNotify(ctx context.Context, action automationdomain.Action, rule *automationdomain.Rule, conversation *convdomain.Conversation) error {
	params, err := automationdomain.DecodeActionParams[automationdomain.NotifyParams](action.Params)
	if err != nil {
		return err
	}
	if len(params.Channels) == 0 {
		return fmt.Errorf("%w: channels is empty", automationdomain.ErrInvalidActionParams)
	}
	body := params.Message
	if body == "" {
		body = fmt.Sprintf("Automation rule %q fired for conversation %s.", rule.Name, conversation.ID)
	}
	subject := params.Subject
	if subject == "" {
		subject = fmt.Sprintf("Automation: %s", rule.Name)
	}
	return e.dispatcher.Dispatch(ctx, conversation.OrgID, notification.Notification{
		Channels: params.Channels,
		Subject:  subject,
		Body:     body,
	})
}

func (e *Executor) updateRuleCounters(ctx context.Context, rule *automationdomain.Rule, result automationdomain.RunResult) error {
	now := e.clock.Now()
	updates := map[string]any{
		"execution_count":  gorm.Expr("execution_count + 1"),
		"last_executed_at": now,
		"updated_at":       now,
	}
	if result.Failed > 0 {
		updates["error_count"] = gorm.Expr("error_count + 1")
	} else {
		updates["success_count"] = gorm.Expr("success_count + 1")
	}
	return e.db.WithContext(ctx).
		Model(&automationdomain.Rule{}).
		Where("id = ?", rule.ID).
		Updates(updates).Error
}
