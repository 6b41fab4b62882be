package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Classification is the AI read of one inbound message. A degraded
// classification (no balance, provider down) carries empty intentions and
// confidence zero so downstream matching can still run on non-AI facts.
type Classification struct {
	DetectedIntentions []string      `json:"detected_intentions"`
	ConfidenceScore    float64       `json:"confidence_score"`
	Sentiment          string        `json:"sentiment"`
	KeywordsExtracted  []string      `json:"keywords_extracted"`
	AIProvider         string        `json:"ai_provider,omitempty"`
	ModelUsed          string        `json:"model_used,omitempty"`
	ProcessingTime     time.Duration `json:"-"`
	Degraded           bool          `json:"degraded"`
}

// Context is everything the classifier sees about the message.
type Context struct {
	OrgID          snowflake.ID
	ConversationID snowflake.ID
	MessageID      snowflake.ID
	Content        string
	ContactName    string
	MessageCount   int
}

type Service interface {
	// Classify never fails the pipeline for billing or provider reasons:
	// it returns a degraded Classification instead. Only context
	// cancellation and persistence faults surface as errors.
	Classify(ctx context.Context, req Context) (*Classification, error)
}
