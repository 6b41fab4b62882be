package ai

import (
	"context"
	"sync"
	"time"
)

// StaticGateway returns canned results in order; used by tests and local
// development without provider credentials.
type StaticGateway struct {
	mu      sync.Mutex
	results []*Result
	errs    []error
	calls   int
}

func NewStaticGateway() *StaticGateway { return &StaticGateway{} }

func (g *StaticGateway) Name() string { return "static" }

// Queue appends a canned outcome. A nil result with a non-nil err models a
// provider failure.
func (g *StaticGateway) Queue(result *Result, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results = append(g.results, result)
	g.errs = append(g.errs, err)
}

func (g *StaticGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *StaticGateway) Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.calls
	g.calls++
	if idx >= len(g.results) {
		return &Result{
			Text:           "{}",
			Provider:       g.Name(),
			Model:          opts.Model,
			ProcessingTime: time.Millisecond,
		}, nil
	}
	if g.errs[idx] != nil {
		return nil, g.errs[idx]
	}
	result := *g.results[idx]
	if result.Provider == "" {
		result.Provider = g.Name()
	}
	if result.Model == "" {
		result.Model = opts.Model
	}
	return &result, nil
}
