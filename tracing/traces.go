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
	"fmt"
	"log/slog"
	"sync"
)

// Trace is the root of one run's observability tree. A Trace must be
// finished exactly once, even when the run fails.
type Trace interface {
	TraceID() string
	Name() string

	// Start notifies the processors and, when markAsCurrent is true, makes
	// this trace the current trace of the Scope carried by ctx.
	Start(ctx context.Context, markAsCurrent bool) error

	// Finish notifies the processors and, when resetCurrent is true,
	// restores the Scope's previous current trace.
	Finish(ctx context.Context, resetCurrent bool) error

	Export() map[string]any
}

// TraceImpl is the default Trace implementation, reporting to a Processor.
type TraceImpl struct {
	name     string
	traceID  string
	groupID  string
	metadata map[string]any

	processor Processor

	mu        sync.Mutex
	started   bool
	finished  bool
	prevTrace Trace
	marked    bool
}

// NewTraceImpl creates a trace root. Most callers should use NewTrace or
// RunTrace instead.
func NewTraceImpl(name, traceID, groupID string, metadata map[string]any, processor Processor) *TraceImpl {
	if traceID == "" {
		traceID = GenTraceID()
	}
	return &TraceImpl{
		name:      name,
		traceID:   traceID,
		groupID:   groupID,
		metadata:  metadata,
		processor: processor,
	}
}

func (t *TraceImpl) TraceID() string { return t.traceID }
func (t *TraceImpl) Name() string    { return t.name }

func (t *TraceImpl) Start(ctx context.Context, markAsCurrent bool) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		Logger().Warn("Trace already started, ignoring", slog.String("traceId", t.traceID))
		return nil
	}
	t.started = true
	t.mu.Unlock()

	if err := t.processor.OnTraceStart(ctx, t); err != nil {
		return fmt.Errorf("failed to process trace start: %w", err)
	}
	if markAsCurrent {
		if scope := scopeFromContext(ctx); scope != nil {
			t.mu.Lock()
			t.prevTrace = scope.replaceTrace(t)
			t.marked = true
			t.mu.Unlock()
		}
	}
	return nil
}

func (t *TraceImpl) Finish(ctx context.Context, resetCurrent bool) error {
	t.mu.Lock()
	if !t.started || t.finished {
		finished := t.finished
		t.mu.Unlock()
		if finished {
			Logger().Warn("Trace already finished, ignoring", slog.String("traceId", t.traceID))
		}
		return nil
	}
	t.finished = true
	prev, marked := t.prevTrace, t.marked
	t.mu.Unlock()

	if err := t.processor.OnTraceEnd(ctx, t); err != nil {
		return fmt.Errorf("failed to process trace end: %w", err)
	}
	if resetCurrent && marked {
		if scope := scopeFromContext(ctx); scope != nil {
			scope.restoreTrace(t, prev)
		}
	}
	return nil
}

func (t *TraceImpl) Export() map[string]any {
	var groupID any
	if t.groupID != "" {
		groupID = t.groupID
	}
	return map[string]any{
		"object":        "trace",
		"id":            t.traceID,
		"workflow_name": t.name,
		"group_id":      groupID,
		"metadata":      t.metadata,
	}
}

// NoOpTrace is a Trace that records nothing.
type NoOpTrace struct {
	mu        sync.Mutex
	prevTrace Trace
	marked    bool
}

func NewNoOpTrace() *NoOpTrace { return new(NoOpTrace) }

func (t *NoOpTrace) TraceID() string { return "no-op" }
func (t *NoOpTrace) Name() string    { return "no-op" }

func (t *NoOpTrace) Start(ctx context.Context, markAsCurrent bool) error {
	if markAsCurrent {
		if scope := scopeFromContext(ctx); scope != nil {
			t.mu.Lock()
			t.prevTrace = scope.replaceTrace(t)
			t.marked = true
			t.mu.Unlock()
		}
	}
	return nil
}

func (t *NoOpTrace) Finish(ctx context.Context, resetCurrent bool) error {
	t.mu.Lock()
	prev, marked := t.prevTrace, t.marked
	t.mu.Unlock()
	if resetCurrent && marked {
		if scope := scopeFromContext(ctx); scope != nil {
			scope.restoreTrace(t, prev)
		}
	}
	return nil
}

func (t *NoOpTrace) Export() map[string]any { return nil }
