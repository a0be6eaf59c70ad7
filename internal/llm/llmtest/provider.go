// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"iter"
	"sync"

	"agentcanvas/backend/internal/llm"
)

// Scripted yields Fragments in order, then Err if set.
type Scripted struct {
	Fragments []string
	Err       error
	// Gate, when non-nil, is received from before each fragment after the first.
	Gate chan struct{}

	mu       sync.Mutex
	requests []llm.Request
	pulled   int
}

// Stream implements llm.Provider.
func (s *Scripted) Stream(ctx context.Context, req llm.Request) iter.Seq2[string, error] {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	return func(yield func(string, error) bool) {
		for i, f := range s.Fragments {
			if i > 0 && s.Gate != nil {
				select {
				case <-s.Gate:
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
			s.mu.Lock()
			s.pulled++
			s.mu.Unlock()
			if !yield(f, nil) {
				return
			}
		}
		if s.Err != nil {
			yield("", s.Err)
		}
	}
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// Pulled returns how many fragments the consumer pulled.
func (s *Scripted) Pulled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulled
}
