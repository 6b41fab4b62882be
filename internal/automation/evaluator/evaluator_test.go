package evaluator

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/charla/internal/automation/domain"
	classifierdomain "github.com/smallbiznis/charla/internal/classifier/domain"
	"gorm.io/datatypes"
)

var testDefaults = Defaults{
	ConfidenceThreshold: 0.7,
	KeywordMatchType:    "ANY",
}

func condition(t domain.ConditionType, op domain.LogicalOperator, pos int, params map[string]any) domain.Condition {
	return domain.Condition{
		Type:            t,
		LogicalOperator: op,
		Position:        pos,
		Params:          datatypes.JSONMap(params),
	}
}

func classified(intentions []string, confidence float64) *classifierdomain.Classification {
	return &classifierdomain.Classification{
		DetectedIntentions: intentions,
		ConfidenceScore:    confidence,
	}
}

func TestKeywordAnyMatchesAccented(t *testing.T) {
	cond := condition(domain.ConditionKeyword, domain.OperatorAnd, 0, map[string]any{
		"keywords": []any{"precio", "costo"},
	})
	msg := MessageFacts{Content: "¿cuál es el precio?"}

	got, err := Evaluate(cond, nil, msg, ConversationFacts{}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Fatal("expected ANY keyword match")
	}
}

func TestKeywordAllRequiresEveryKeyword(t *testing.T) {
	cond := condition(domain.ConditionKeyword, domain.OperatorAnd, 0, map[string]any{
		"keywords":   []any{"precio", "costo"},
		"match_type": "ALL",
	})

	got, err := Evaluate(cond, nil, MessageFacts{Content: "el precio y el costo"}, ConversationFacts{}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Fatal("expected ALL match when every keyword is present")
	}

	got, err = Evaluate(cond, nil, MessageFacts{Content: "solo el precio"}, ConversationFacts{}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got {
		t.Fatal("expected ALL to fail with a missing keyword")
	}
}

func TestKeywordEmptyListIsConfigurationError(t *testing.T) {
	cond := condition(domain.ConditionKeyword, domain.OperatorAnd, 0, map[string]any{
		"keywords": []any{},
	})
	_, err := Evaluate(cond, nil, MessageFacts{Content: "hola"}, ConversationFacts{}, time.Now(), testDefaults)
	if !errors.Is(err, domain.ErrInvalidConditionParams) {
		t.Fatalf("expected ErrInvalidConditionParams, got %v", err)
	}
}

func TestIntentionRequiresThreshold(t *testing.T) {
	cond := condition(domain.ConditionIntention, domain.OperatorAnd, 0, map[string]any{
		"intention_types": []any{"pricing_inquiry"},
	})

	got, err := Evaluate(cond, classified([]string{"pricing_inquiry"}, 0.9), MessageFacts{}, ConversationFacts{}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Fatal("expected intersecting intention above threshold to match")
	}

	got, err = Evaluate(cond, classified([]string{"pricing_inquiry"}, 0.5), MessageFacts{}, ConversationFacts{}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got {
		t.Fatal("expected below-threshold confidence to fail")
	}
}

func TestIntentionDegradedClassificationIsFalse(t *testing.T) {
	cond := condition(domain.ConditionIntention, domain.OperatorAnd, 0, map[string]any{
		"intention_types": []any{"pricing_inquiry"},
	})
	got, err := Evaluate(cond, classified(nil, 0), MessageFacts{}, ConversationFacts{}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got {
		t.Fatal("degraded classification must never satisfy INTENTION")
	}
}

func TestIntentionPerConditionThresholdOverride(t *testing.T) {
	cond := condition(domain.ConditionIntention, domain.OperatorAnd, 0, map[string]any{
		"intention_types":      []any{"pricing_inquiry"},
		"confidence_threshold": 0.4,
	})
	got, err := Evaluate(cond, classified([]string{"pricing_inquiry"}, 0.5), MessageFacts{}, ConversationFacts{}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Fatal("expected the per-condition threshold to apply")
	}
}

func TestTimeWindowBusinessHours(t *testing.T) {
	cond := condition(domain.ConditionTimeWindow, domain.OperatorAnd, 0, map[string]any{
		"time_start": "09:00",
		"time_end":   "18:00",
		"weekdays":   []any{"MON", "TUE", "WED", "THU", "FRI"},
	})

	// Wednesday 10:30 UTC.
	wednesday := time.Date(2024, 3, 6, 10, 30, 0, 0, time.UTC)
	got, err := Evaluate(cond, nil, MessageFacts{}, ConversationFacts{}, wednesday, testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Fatal("expected Wednesday 10:30 inside the window")
	}

	// Saturday 10:30 UTC.
	saturday := time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC)
	got, err = Evaluate(cond, nil, MessageFacts{}, ConversationFacts{}, saturday, testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got {
		t.Fatal("expected Saturday to fall outside the weekday set")
	}
}

func TestTimeWindowWrapsMidnight(t *testing.T) {
	cond := condition(domain.ConditionTimeWindow, domain.OperatorAnd, 0, map[string]any{
		"time_start": "22:00",
		"time_end":   "06:00",
	})

	insideLate := time.Date(2024, 3, 6, 23, 15, 0, 0, time.UTC)
	insideEarly := time.Date(2024, 3, 7, 2, 0, 0, 0, time.UTC)
	outside := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		now  time.Time
		want bool
	}{
		{insideLate, true},
		{insideEarly, true},
		{outside, false},
	} {
		got, err := Evaluate(cond, nil, MessageFacts{}, ConversationFacts{}, tc.now, testDefaults)
		if err != nil {
			t.Fatalf("Evaluate(%v): %v", tc.now, err)
		}
		if got != tc.want {
			t.Fatalf("Evaluate(%v) = %v, want %v", tc.now, got, tc.want)
		}
	}
}

func TestTimeWindowTimezone(t *testing.T) {
	cond := condition(domain.ConditionTimeWindow, domain.OperatorAnd, 0, map[string]any{
		"time_start": "09:00",
		"time_end":   "18:00",
		"timezone":   "America/Mexico_City",
	})

	// 16:00 UTC is 10:00 in Mexico City (UTC-6).
	now := time.Date(2024, 1, 10, 16, 0, 0, 0, time.UTC)
	got, err := Evaluate(cond, nil, MessageFacts{}, ConversationFacts{}, now, testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Fatal("expected the window to be checked in the condition timezone")
	}
}

func TestMessageCountOpenBounds(t *testing.T) {
	min := condition(domain.ConditionMessageCount, domain.OperatorAnd, 0, map[string]any{"min": 3})
	max := condition(domain.ConditionMessageCount, domain.OperatorAnd, 0, map[string]any{"max": 5})

	conv := ConversationFacts{MessageCount: 4}
	for _, cond := range []domain.Condition{min, max} {
		got, err := Evaluate(cond, nil, MessageFacts{}, conv, time.Now(), testDefaults)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if !got {
			t.Fatalf("expected count 4 to satisfy %v", cond.Params)
		}
	}

	got, err := Evaluate(min, nil, MessageFacts{}, ConversationFacts{MessageCount: 2}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got {
		t.Fatal("expected count 2 below min 3 to fail")
	}
}

func TestResponseTimeNeedsOutboundMessage(t *testing.T) {
	cond := condition(domain.ConditionResponseTime, domain.OperatorAnd, 0, map[string]any{
		"min_seconds": 600,
	})

	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	got, err := Evaluate(cond, nil, MessageFacts{}, ConversationFacts{}, now, testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got {
		t.Fatal("no outbound message yet must evaluate false")
	}

	last := now.Add(-20 * time.Minute)
	got, err = Evaluate(cond, nil, MessageFacts{}, ConversationFacts{LastOutboundAt: &last}, now, testDefaults)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Fatal("expected 20 minutes elapsed to satisfy min 600s")
	}
}

// The reduction has no precedence: A OR B AND C is ((A OR B) AND C), which
// differs from a precedence tree when A=true, B=false, C=false.
func TestEvaluateRuleLeftToRightReduction(t *testing.T) {
	conds := []domain.Condition{
		condition(domain.ConditionKeyword, domain.OperatorAnd, 0, map[string]any{"keywords": []any{"hola"}}),   // A: true
		condition(domain.ConditionKeyword, domain.OperatorOr, 1, map[string]any{"keywords": []any{"adios"}}),   // B: false
		condition(domain.ConditionKeyword, domain.OperatorAnd, 2, map[string]any{"keywords": []any{"gracias"}}), // C: false
	}
	msg := MessageFacts{Content: "hola"}

	got, err := EvaluateRule(conds, nil, msg, ConversationFacts{}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("EvaluateRule: %v", err)
	}
	if got {
		t.Fatal("((true OR false) AND false) must be false")
	}
}

func TestEvaluateRuleOrdersByPosition(t *testing.T) {
	// Stored out of order; Position decides who seeds the accumulator.
	conds := []domain.Condition{
		condition(domain.ConditionKeyword, domain.OperatorOr, 1, map[string]any{"keywords": []any{"hola"}}),
		condition(domain.ConditionKeyword, domain.OperatorAnd, 0, map[string]any{"keywords": []any{"adios"}}),
	}
	msg := MessageFacts{Content: "hola"}

	got, err := EvaluateRule(conds, nil, msg, ConversationFacts{}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("EvaluateRule: %v", err)
	}
	// Position order: (false OR true) = true. Stored order would seed with
	// true and then AND false.
	if !got {
		t.Fatal("expected evaluation in Position order")
	}
}

func TestEvaluateRuleEmptyConditionsNeverMatch(t *testing.T) {
	got, err := EvaluateRule(nil, nil, MessageFacts{}, ConversationFacts{}, time.Now(), testDefaults)
	if err != nil {
		t.Fatalf("EvaluateRule: %v", err)
	}
	if got {
		t.Fatal("a rule without conditions must not match")
	}
}

func TestEvaluateRuleIsIdempotent(t *testing.T) {
	conds := []domain.Condition{
		condition(domain.ConditionKeyword, domain.OperatorAnd, 0, map[string]any{"keywords": []any{"precio"}}),
		condition(domain.ConditionMessageCount, domain.OperatorAnd, 1, map[string]any{"max": 10}),
	}
	msg := MessageFacts{Content: "precio?"}
	conv := ConversationFacts{MessageCount: 3}
	now := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	first, err := EvaluateRule(conds, nil, msg, conv, now, testDefaults)
	if err != nil {
		t.Fatalf("EvaluateRule: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := EvaluateRule(conds, nil, msg, conv, now, testDefaults)
		if err != nil {
			t.Fatalf("EvaluateRule: %v", err)
		}
		if again != first {
			t.Fatalf("iteration %d: result changed from %v to %v", i, first, again)
		}
	}
}
