// Package evaluator decides whether automation conditions hold for one
// inbound message. It is pure: every fact it needs arrives as an argument
// and identical inputs always yield the identical boolean.
package evaluator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/charla/internal/automation/domain"
	classifierdomain "github.com/smallbiznis/charla/internal/classifier/domain"
)

// Defaults carries the org-resolved fallbacks for parameters a condition
// may leave unset.
type Defaults struct {
	ConfidenceThreshold float64
	KeywordMatchType    string
}

// MessageFacts is the slice of the message the evaluator may see.
type MessageFacts struct {
	Content    string
	ReceivedAt time.Time
}

// ConversationFacts is the slice of the conversation the evaluator may see.
type ConversationFacts struct {
	MessageCount   int
	LastOutboundAt *time.Time
}

// Evaluate resolves a single condition against the given facts. Malformed
// parameters surface as an error so the owning rule can be skipped.
func Evaluate(cond domain.Condition, classification *classifierdomain.Classification, msg MessageFacts, conv ConversationFacts, now time.Time, defaults Defaults) (bool, error) {
	switch cond.Type {
	case domain.ConditionIntention:
		return evaluateIntention(cond, classification, defaults)
	case domain.ConditionKeyword:
		return evaluateKeyword(cond, msg, defaults)
	case domain.ConditionTimeWindow:
		return evaluateTimeWindow(cond, now)
	case domain.ConditionMessageCount:
		return evaluateMessageCount(cond, conv)
	case domain.ConditionResponseTime:
		return evaluateResponseTime(cond, conv, now)
	default:
		return false, fmt.Errorf("%w: %s", domain.ErrUnknownConditionType, cond.Type)
	}
}

// EvaluateRule reduces a rule's conditions left to right in Position order:
// the first condition seeds the accumulator and each subsequent condition's
// own operator combines it with the running result. There is no operator
// precedence; existing rule data depends on this exact order.
func EvaluateRule(conditions []domain.Condition, classification *classifierdomain.Classification, msg MessageFacts, conv ConversationFacts, now time.Time, defaults Defaults) (bool, error) {
	if len(conditions) == 0 {
		return false, nil
	}
	ordered := make([]domain.Condition, len(conditions))
	copy(ordered, conditions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	acc, err := Evaluate(ordered[0], classification, msg, conv, now, defaults)
	if err != nil {
		return false, err
	}
	for _, cond := range ordered[1:] {
		v, err := Evaluate(cond, classification, msg, conv, now, defaults)
		if err != nil {
			return false, err
		}
		if cond.LogicalOperator == domain.OperatorOr {
			acc = acc || v
		} else {
			acc = acc && v
		}
	}
	return acc, nil
}

func evaluateIntention(cond domain.Condition, classification *classifierdomain.Classification, defaults Defaults) (bool, error) {
	params, err := domain.DecodeConditionParams[domain.IntentionParams](cond.Params)
	if err != nil {
		return false, err
	}
	if len(params.IntentionTypes) == 0 {
		return false, fmt.Errorf("%w: intention_types is empty", domain.ErrInvalidConditionParams)
	}
	if classification == nil || len(classification.DetectedIntentions) == 0 {
		return false, nil
	}
	threshold := defaults.ConfidenceThreshold
	if params.ConfidenceThreshold != nil {
		threshold = *params.ConfidenceThreshold
	}
	if classification.ConfidenceScore < threshold {
		return false, nil
	}
	detected := make(map[string]struct{}, len(classification.DetectedIntentions))
	for _, it := range classification.DetectedIntentions {
		detected[strings.ToLower(it)] = struct{}{}
	}
	for _, want := range params.IntentionTypes {
		if _, ok := detected[strings.ToLower(want)]; ok {
			return true, nil
		}
	}
	return false, nil
}

func evaluateKeyword(cond domain.Condition, msg MessageFacts, defaults Defaults) (bool, error) {
	params, err := domain.DecodeConditionParams[domain.KeywordParams](cond.Params)
	if err != nil {
		return false, err
	}
	if len(params.Keywords) == 0 {
		return false, fmt.Errorf("%w: keywords is empty", domain.ErrInvalidConditionParams)
	}
	matchType := strings.ToUpper(params.MatchType)
	if matchType == "" {
		matchType = strings.ToUpper(defaults.KeywordMatchType)
	}
	content := strings.ToLower(msg.Content)
	switch matchType {
	case "ALL":
		for _, kw := range params.Keywords {
			if !strings.Contains(content, strings.ToLower(kw)) {
				return false, nil
			}
		}
		return true, nil
	case "ANY", "":
		for _, kw := range params.Keywords {
			if strings.Contains(content, strings.ToLower(kw)) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: match_type %q", domain.ErrInvalidConditionParams, params.MatchType)
	}
}

var weekdayNames = map[string]time.Weekday{
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
	"SUN": time.Sunday,
}

func evaluateTimeWindow(cond domain.Condition, now time.Time) (bool, error) {
	params, err := domain.DecodeConditionParams[domain.TimeWindowParams](cond.Params)
	if err != nil {
		return false, err
	}
	start, err := parseClock(params.TimeStart)
	if err != nil {
		return false, err
	}
	end, err := parseClock(params.TimeEnd)
	if err != nil {
		return false, err
	}

	loc := time.UTC
	if params.Timezone != "" {
		loc, err = time.LoadLocation(params.Timezone)
		if err != nil {
			return false, fmt.Errorf("%w: timezone %q", domain.ErrInvalidConditionParams, params.Timezone)
		}
	}
	local := now.In(loc)

	if len(params.Weekdays) > 0 {
		ok := false
		for _, name := range params.Weekdays {
			wd, found := weekdayNames[strings.ToUpper(name)]
			if !found {
				return false, fmt.Errorf("%w: weekday %q", domain.ErrInvalidConditionParams, name)
			}
			if local.Weekday() == wd {
				ok = true
			}
		}
		if !ok {
			return false, nil
		}
	}

	minute := local.Hour()*60 + local.Minute()
	if start <= end {
		return minute >= start && minute <= end, nil
	}
	// Window wraps midnight, e.g. 22:00-06:00.
	return minute >= start || minute <= end, nil
}

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: time %q", domain.ErrInvalidConditionParams, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func evaluateMessageCount(cond domain.Condition, conv ConversationFacts) (bool, error) {
	params, err := domain.DecodeConditionParams[domain.MessageCountParams](cond.Params)
	if err != nil {
		return false, err
	}
	if params.Min == nil && params.Max == nil {
		return false, fmt.Errorf("%w: message_count needs min or max", domain.ErrInvalidConditionParams)
	}
	if params.Min != nil && conv.MessageCount < *params.Min {
		return false, nil
	}
	if params.Max != nil && conv.MessageCount > *params.Max {
		return false, nil
	}
	return true, nil
}

func evaluateResponseTime(cond domain.Condition, conv ConversationFacts, now time.Time) (bool, error) {
	params, err := domain.DecodeConditionParams[domain.ResponseTimeParams](cond.Params)
	if err != nil {
		return false, err
	}
	if params.MinSeconds == nil && params.MaxSeconds == nil {
		return false, fmt.Errorf("%w: response_time needs min or max", domain.ErrInvalidConditionParams)
	}
	if conv.LastOutboundAt == nil {
		return false, nil
	}
	elapsed := int64(now.Sub(*conv.LastOutboundAt).Seconds())
	if params.MinSeconds != nil && elapsed < *params.MinSeconds {
		return false, nil
	}
	if params.MaxSeconds != nil && elapsed > *params.MaxSeconds {
		return false, nil
	}
	return true, nil
}
