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

package tracing

import (
	"context"
	"sync"
)

// Scope holds the current trace and span for one logical execution flow.
// It is carried by context.Context, never by package globals: goroutines
// that need an isolated current span must derive their own scope with
// ContextWithClonedOrNewScope, so overlapping sibling spans can start and
// finish out of order without corrupting each other's view.
type Scope struct {
	mu    sync.Mutex
	trace Trace
	span  Span
}

type scopeContextKey struct{}

// ContextWithNewScope returns a Context carrying a fresh empty Scope.
func ContextWithNewScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, new(Scope))
}

// ContextWithClonedOrNewScope returns a Context carrying a new Scope
// initialized with the current trace/span of the parent's Scope, if any.
// Mutations of the new Scope never affect the parent's.
func ContextWithClonedOrNewScope(ctx context.Context) context.Context {
	scope := new(Scope)
	if parent := scopeFromContext(ctx); parent != nil {
		parent.mu.Lock()
		scope.trace = parent.trace
		scope.span = parent.span
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

func scopeFromContext(ctx context.Context) *Scope {
	scope, _ := ctx.Value(scopeContextKey{}).(*Scope)
	return scope
}

// GetCurrentTrace returns the trace currently marked on the context's
// Scope, or nil.
func GetCurrentTrace(ctx context.Context) Trace {
	scope := scopeFromContext(ctx)
	if scope == nil {
		return nil
	}
	scope.mu.Lock()
	defer scope.mu.Unlock()
	return scope.trace
}

// GetCurrentSpan returns the span currently marked on the context's
// Scope, or nil.
func GetCurrentSpan(ctx context.Context) Span {
	scope := scopeFromContext(ctx)
	if scope == nil {
		return nil
	}
	scope.mu.Lock()
	defer scope.mu.Unlock()
	return scope.span
}

func (s *Scope) replaceTrace(t Trace) Trace {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.trace
	s.trace = t
	return prev
}

// restoreTrace puts prev back only if t is still current, so that
// out-of-order finishes cannot clobber an unrelated trace.
func (s *Scope) restoreTrace(t Trace, prev Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trace == t {
		s.trace = prev
	}
}

func (s *Scope) replaceSpan(sp Span) Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.span
	s.span = sp
	return prev
}

// restoreSpan puts prev back only if sp is still current; a sibling that
// finished out of order leaves the scope untouched.
func (s *Scope) restoreSpan(sp Span, prev Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.span == sp {
		s.span = prev
	}
}
