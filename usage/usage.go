// Copyright 2025 The NLP Odyssey Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package usage tracks LLM token and request consumption for a run.
package usage

import (
	"context"
	"sync"

	"github.com/openai/openai-go/v3/responses"
)

// Usage accumulates request and token counts across model calls.
// A single value is shared by every turn and guardrail task of a run,
// so all mutations of a shared value must go through Add or AddRequests.
type Usage struct {
	// Total requests made to the LLM API.
	Requests uint64

	// Total input tokens sent, across all requests.
	InputTokens uint64

	// Details about the input tokens, matching responses API usage details.
	InputTokensDetails responses.ResponseUsageInputTokensDetails

	// Total output tokens received, across all requests.
	OutputTokens uint64

	// Details about the output tokens, matching responses API usage details.
	OutputTokensDetails responses.ResponseUsageOutputTokensDetails

	// Total tokens sent and received, across all requests.
	TotalTokens uint64

	mu sync.Mutex
}

// NewUsage creates a new zeroed Usage.
func NewUsage() *Usage {
	return new(Usage)
}

// Add accumulates the counts of other into u. It is safe for concurrent use.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Requests += other.Requests
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.InputTokensDetails.CachedTokens += other.InputTokensDetails.CachedTokens
	u.OutputTokensDetails.ReasoningTokens += other.OutputTokensDetails.ReasoningTokens
}

// AddRequests increments the request counter. It is safe for concurrent use.
func (u *Usage) AddRequests(n uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Requests += n
}

// Clone returns a copy of the current counts.
func (u *Usage) Clone() *Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return &Usage{
		Requests:            u.Requests,
		InputTokens:         u.InputTokens,
		InputTokensDetails:  u.InputTokensDetails,
		OutputTokens:        u.OutputTokens,
		OutputTokensDetails: u.OutputTokensDetails,
		TotalTokens:         u.TotalTokens,
	}
}

type contextKey struct{}

// NewContext returns a new Context that carries the given Usage.
func NewContext(ctx context.Context, u *Usage) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// FromContext returns the Usage value stored in ctx, if any.
func FromContext(ctx context.Context) (*Usage, bool) {
	u, ok := ctx.Value(contextKey{}).(*Usage)
	return u, ok
}
