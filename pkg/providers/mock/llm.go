package mock

import (
	"context"
	"sync"

	"github.com/liqian5129/reading-comp/pkg/llm"
)

// Step is one scripted Generate outcome.
type Step struct {
	Response llm.Response
	Err      error
}

// LLMAdapter replays a script of responses; once the script runs out it
// repeats the last step. Requests are recorded for inspection.
type LLMAdapter struct {
	mu       sync.Mutex
	script   []Step
	next     int
	requests []llm.Request
}

func NewLLMAdapter(script ...Step) *LLMAdapter {
	if len(script) == 0 {
		script = []Step{{Response: llm.Response{Text: "mock response"}}}
	}
	return &LLMAdapter{script: script}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	step := a.script[a.next]
	if a.next < len(a.script)-1 {
		a.next++
	}
	return step.Response, step.Err
}

func (a *LLMAdapter) Requests() []llm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Request, len(a.requests))
	copy(out, a.requests)
	return out
}
