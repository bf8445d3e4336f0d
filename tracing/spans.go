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
	"time"
)

// SpanError is a structured error attached to a Span.
type SpanError struct {
	Message string
	Data    map[string]any
}

func (e SpanError) Error() string {
	return fmt.Sprintf("%s %v", e.Message, e.Data)
}

func (e SpanError) export() map[string]any {
	return map[string]any{
		"message": e.Message,
		"data":    e.Data,
	}
}

// Span is one node of a run's observability tree.
//
// Every started span must be finished exactly once, regardless of errors;
// sibling spans may start and finish out of order, so implementations must
// not assume LIFO nesting. The parent linkage is fixed at creation time.
type Span interface {
	TraceID() string
	SpanID() string
	ParentID() string
	SpanData() SpanData

	// Start marks the span as begun and notifies the processors.
	// If markAsCurrent is true, the span becomes the current span of the
	// Scope carried by ctx.
	Start(ctx context.Context, markAsCurrent bool) error

	// Finish marks the span as ended and notifies the processors.
	// If resetCurrent is true and this span is the Scope's current span,
	// the Scope is restored to the span that was current when Start ran.
	Finish(ctx context.Context, resetCurrent bool) error

	// SetError attaches a structured error to the span.
	SetError(SpanError)
	Error() *SpanError

	// StartedAt and EndedAt report when the span was started and finished.
	// The zero time means the event has not happened yet.
	StartedAt() time.Time
	EndedAt() time.Time

	Export() map[string]any
}

// SpanImpl is the default Span implementation, reporting to a Processor.
type SpanImpl struct {
	traceID  string
	spanID   string
	parentID string
	spanData SpanData

	processor Processor

	mu        sync.Mutex
	startedAt time.Time
	endedAt   time.Time
	spanError *SpanError
	// current-span value replaced by Start(markAsCurrent), restored by Finish
	prevCurrent Span
	marked      bool
}

// NewSpanImpl creates a span node. Most callers should use the creation
// helpers in create.go instead.
func NewSpanImpl(traceID, spanID, parentID string, processor Processor, spanData SpanData) *SpanImpl {
	if spanID == "" {
		spanID = GenSpanID()
	}
	return &SpanImpl{
		traceID:   traceID,
		spanID:    spanID,
		parentID:  parentID,
		spanData:  spanData,
		processor: processor,
	}
}

func (s *SpanImpl) TraceID() string    { return s.traceID }
func (s *SpanImpl) SpanID() string     { return s.spanID }
func (s *SpanImpl) ParentID() string   { return s.parentID }
func (s *SpanImpl) SpanData() SpanData { return s.spanData }

func (s *SpanImpl) Start(ctx context.Context, markAsCurrent bool) error {
	s.mu.Lock()
	if !s.startedAt.IsZero() {
		s.mu.Unlock()
		Logger().Warn("Span already started, ignoring", slog.String("spanId", s.spanID))
		return nil
	}
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.processor.OnSpanStart(ctx, s); err != nil {
		return fmt.Errorf("failed to process span start: %w", err)
	}
	if markAsCurrent {
		if scope := scopeFromContext(ctx); scope != nil {
			s.mu.Lock()
			s.prevCurrent = scope.replaceSpan(s)
			s.marked = true
			s.mu.Unlock()
		}
	}
	return nil
}

func (s *SpanImpl) Finish(ctx context.Context, resetCurrent bool) error {
	s.mu.Lock()
	if !s.endedAt.IsZero() {
		s.mu.Unlock()
		Logger().Warn("Span already finished, ignoring", slog.String("spanId", s.spanID))
		return nil
	}
	s.endedAt = time.Now()
	prev, marked := s.prevCurrent, s.marked
	s.mu.Unlock()

	if err := s.processor.OnSpanEnd(ctx, s); err != nil {
		return fmt.Errorf("failed to process span end: %w", err)
	}
	if resetCurrent && marked {
		if scope := scopeFromContext(ctx); scope != nil {
			scope.restoreSpan(s, prev)
		}
	}
	return nil
}

func (s *SpanImpl) SetError(err SpanError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spanError = &err
}

func (s *SpanImpl) Error() *SpanError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spanError
}

func (s *SpanImpl) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *SpanImpl) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

func (s *SpanImpl) Export() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parentID any
	if s.parentID != "" {
		parentID = s.parentID
	}
	var spanError any
	if s.spanError != nil {
		spanError = s.spanError.export()
	}
	var startedAt, endedAt any
	if !s.startedAt.IsZero() {
		startedAt = TimeISO(s.startedAt)
	}
	if !s.endedAt.IsZero() {
		endedAt = TimeISO(s.endedAt)
	}
	return map[string]any{
		"object":     "trace.span",
		"id":         s.spanID,
		"trace_id":   s.traceID,
		"parent_id":  parentID,
		"started_at": startedAt,
		"ended_at":   endedAt,
		"span_data":  s.spanData.Export(),
		"error":      spanError,
	}
}

// NoOpSpan is a Span that records nothing.
type NoOpSpan struct {
	spanData SpanData

	mu          sync.Mutex
	spanError   *SpanError
	prevCurrent Span
	marked      bool
}

func NewNoOpSpan(spanData SpanData) *NoOpSpan {
	return &NoOpSpan{spanData: spanData}
}

func (s *NoOpSpan) TraceID() string    { return "no-op" }
func (s *NoOpSpan) SpanID() string     { return "no-op" }
func (s *NoOpSpan) ParentID() string   { return "" }
func (s *NoOpSpan) SpanData() SpanData { return s.spanData }

func (s *NoOpSpan) Start(ctx context.Context, markAsCurrent bool) error {
	if markAsCurrent {
		if scope := scopeFromContext(ctx); scope != nil {
			s.mu.Lock()
			s.prevCurrent = scope.replaceSpan(s)
			s.marked = true
			s.mu.Unlock()
		}
	}
	return nil
}

func (s *NoOpSpan) Finish(ctx context.Context, resetCurrent bool) error {
	s.mu.Lock()
	prev, marked := s.prevCurrent, s.marked
	s.mu.Unlock()
	if resetCurrent && marked {
		if scope := scopeFromContext(ctx); scope != nil {
			scope.restoreSpan(s, prev)
		}
	}
	return nil
}

func (s *NoOpSpan) SetError(err SpanError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spanError = &err
}

func (s *NoOpSpan) Error() *SpanError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spanError
}

func (s *NoOpSpan) StartedAt() time.Time { return time.Time{} }
func (s *NoOpSpan) EndedAt() time.Time   { return time.Time{} }

func (s *NoOpSpan) Export() map[string]any { return nil }
