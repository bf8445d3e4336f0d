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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/openai/openai-go/v3/packages/param"
)

// Processor receives lifecycle notifications for traces and spans.
// Implementations must be safe for concurrent use.
type Processor interface {
	// OnTraceStart is called when a trace is started.
	OnTraceStart(ctx context.Context, trace Trace) error
	// OnTraceEnd is called when a trace is finished.
	OnTraceEnd(ctx context.Context, trace Trace) error
	// OnSpanStart is called when a span is started.
	OnSpanStart(ctx context.Context, span Span) error
	// OnSpanEnd is called when a span is finished.
	OnSpanEnd(ctx context.Context, span Span) error
	// Shutdown is called when the application stops, and should flush
	// anything still queued.
	Shutdown(ctx context.Context) error
	// ForceFlush forces an immediate flush of all queued items.
	ForceFlush(ctx context.Context) error
}

// Exporter sends finished traces and spans to a destination.
// Items are either Trace or Span values.
type Exporter interface {
	Export(ctx context.Context, items []any) error
}

// TraceProvider creates traces and spans and owns the processors that
// observe them.
type TraceProvider interface {
	// RegisterProcessor adds a processor that will receive all traces and spans.
	RegisterProcessor(processor Processor)
	// SetProcessors replaces the current processors with the given list.
	SetProcessors(processors []Processor)
	// SetDisabled turns tracing on or off, overriding the environment.
	SetDisabled(disabled bool)
	// CreateTrace returns a new trace, or a NoOpTrace when tracing is disabled.
	// A random trace ID is generated when traceID is empty.
	CreateTrace(name, traceID, groupID string, metadata map[string]any, disabled bool) Trace
	// CreateSpan returns a new span, or a NoOpSpan when tracing is disabled or
	// no trace is active. The parent may be a Trace, a Span, or nil to use the
	// current trace and span from the context.
	CreateSpan(ctx context.Context, spanData SpanData, spanID string, parent any, disabled bool) Span
	// Shutdown flushes and stops all processors.
	Shutdown(ctx context.Context) error
}

// multiProcessor forwards each notification to every registered processor,
// in registration order.
type multiProcessor struct {
	mu         sync.RWMutex
	processors []Processor
}

func (m *multiProcessor) addProcessor(processor Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processors = append(m.processors, processor)
}

func (m *multiProcessor) setProcessors(processors []Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processors = slices.Clone(processors)
}

func (m *multiProcessor) currentProcessors() []Processor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.processors
}

func (m *multiProcessor) OnTraceStart(ctx context.Context, trace Trace) error {
	for _, processor := range m.currentProcessors() {
		if err := processor.OnTraceStart(ctx, trace); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiProcessor) OnTraceEnd(ctx context.Context, trace Trace) error {
	for _, processor := range m.currentProcessors() {
		if err := processor.OnTraceEnd(ctx, trace); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiProcessor) OnSpanStart(ctx context.Context, span Span) error {
	for _, processor := range m.currentProcessors() {
		if err := processor.OnSpanStart(ctx, span); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiProcessor) OnSpanEnd(ctx context.Context, span Span) error {
	for _, processor := range m.currentProcessors() {
		if err := processor.OnSpanEnd(ctx, span); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiProcessor) Shutdown(ctx context.Context) error {
	var errs []error
	for _, processor := range m.currentProcessors() {
		errs = append(errs, processor.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (m *multiProcessor) ForceFlush(ctx context.Context) error {
	var errs []error
	for _, processor := range m.currentProcessors() {
		errs = append(errs, processor.ForceFlush(ctx))
	}
	return errors.Join(errs...)
}

// DefaultTraceProvider is the standard TraceProvider implementation.
//
// Whether tracing is disabled is resolved lazily: the
// OPENAI_AGENTS_DISABLE_TRACING environment variable is read the first time
// a trace is created, then cached. SetDisabled overrides the environment in
// both directions.
type DefaultTraceProvider struct {
	multiProcessor *multiProcessor

	mu          sync.Mutex
	disabled    param.Opt[bool]
	envDisabled param.Opt[bool]
}

func NewDefaultTraceProvider() *DefaultTraceProvider {
	return &DefaultTraceProvider{
		multiProcessor: new(multiProcessor),
	}
}

func (p *DefaultTraceProvider) RegisterProcessor(processor Processor) {
	p.multiProcessor.addProcessor(processor)
}

func (p *DefaultTraceProvider) SetProcessors(processors []Processor) {
	p.multiProcessor.setProcessors(processors)
}

func (p *DefaultTraceProvider) SetDisabled(disabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = param.NewOpt(disabled)
}

func (p *DefaultTraceProvider) isDisabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disabled.Valid() {
		return p.disabled.Value
	}
	if !p.envDisabled.Valid() {
		v, err := strconv.ParseBool(os.Getenv("OPENAI_AGENTS_DISABLE_TRACING"))
		p.envDisabled = param.NewOpt(err == nil && v)
	}
	return p.envDisabled.Value
}

func (p *DefaultTraceProvider) CreateTrace(name, traceID, groupID string, metadata map[string]any, disabled bool) Trace {
	if disabled || p.isDisabled() {
		Logger().Debug("Tracing is disabled. Not creating trace", slog.String("name", name))
		return NewNoOpTrace()
	}
	if traceID == "" {
		traceID = GenTraceID()
	}
	return NewTraceImpl(name, traceID, groupID, metadata, p.multiProcessor)
}

func (p *DefaultTraceProvider) CreateSpan(
	ctx context.Context,
	spanData SpanData,
	spanID string,
	parent any,
	disabled bool,
) Span {
	if disabled || p.isDisabled() {
		Logger().Debug("Tracing is disabled. Not creating span", slog.String("type", spanData.Type()))
		return NewNoOpSpan(spanData)
	}

	var traceID, parentID string

	switch parent := parent.(type) {
	case nil:
		currentTrace := GetCurrentTrace(ctx)
		if currentTrace == nil {
			Logger().Error("No active trace. Make sure to start a trace first. Returning NoOpSpan.")
			return NewNoOpSpan(spanData)
		}
		if _, ok := currentTrace.(*NoOpTrace); ok {
			return NewNoOpSpan(spanData)
		}
		currentSpan := GetCurrentSpan(ctx)
		if _, ok := currentSpan.(*NoOpSpan); ok {
			return NewNoOpSpan(spanData)
		}
		traceID = currentTrace.TraceID()
		if currentSpan != nil {
			parentID = currentSpan.SpanID()
		}
	case Trace:
		if _, ok := parent.(*NoOpTrace); ok {
			return NewNoOpSpan(spanData)
		}
		traceID = parent.TraceID()
	case Span:
		if _, ok := parent.(*NoOpSpan); ok {
			return NewNoOpSpan(spanData)
		}
		traceID = parent.TraceID()
		parentID = parent.SpanID()
	default:
		Logger().Error(fmt.Sprintf("CreateSpan: unexpected parent type %T. Returning NoOpSpan.", parent))
		return NewNoOpSpan(spanData)
	}

	if spanID == "" {
		spanID = GenSpanID()
	}
	return NewSpanImpl(traceID, spanID, parentID, p.multiProcessor, spanData)
}

func (p *DefaultTraceProvider) Shutdown(ctx context.Context) error {
	Logger().Debug("Shutting down trace provider")
	return p.multiProcessor.Shutdown(ctx)
}

var (
	globalTraceProvider       atomic.Pointer[TraceProvider]
	defaultProviderOnce       sync.Once
	shutdownOnce              sync.Once
	shutdownHandlerRegistered atomic.Bool
)

// GetTraceProvider returns the global trace provider, initializing it, the
// default exporter and the default processor on first use. Nothing is set up
// at package load time.
func GetTraceProvider() TraceProvider {
	if provider := globalTraceProvider.Load(); provider != nil {
		registerShutdownHandler()
		return *provider
	}
	defaultProviderOnce.Do(func() {
		if globalTraceProvider.Load() != nil {
			return
		}
		provider := NewDefaultTraceProvider()
		provider.RegisterProcessor(DefaultProcessor())
		var tp TraceProvider = provider
		globalTraceProvider.Store(&tp)
	})
	registerShutdownHandler()
	return *globalTraceProvider.Load()
}

// SetTraceProvider replaces the global trace provider. The default exporter
// and processor are not created: the given provider owns its processors.
func SetTraceProvider(provider TraceProvider) {
	globalTraceProvider.Store(&provider)
}

// registerShutdownHandler installs a signal handler that flushes pending
// traces before the process terminates, then re-raises the signal.
func registerShutdownHandler() {
	if !shutdownHandlerRegistered.CompareAndSwap(false, true) {
		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-ch
		if err := Shutdown(context.Background()); err != nil {
			Logger().Error("failed to shut down tracing", slog.String("error", err.Error()))
		}
		signal.Stop(ch)
		if process, err := os.FindProcess(os.Getpid()); err == nil {
			_ = process.Signal(sig)
		}
	}()
}

// Shutdown flushes pending traces and spans and stops the global provider's
// processors. It runs at most once and is a no-op if the provider was never
// initialized.
func Shutdown(ctx context.Context) error {
	provider := globalTraceProvider.Load()
	if provider == nil {
		return nil
	}
	var err error
	shutdownOnce.Do(func() {
		err = (*provider).Shutdown(ctx)
	})
	return err
}

// SetTraceProcessors replaces the processors of the global trace provider.
func SetTraceProcessors(processors []Processor) {
	GetTraceProvider().SetProcessors(processors)
}

// AddTraceProcessor adds a processor to the global trace provider.
func AddTraceProcessor(processor Processor) {
	GetTraceProvider().RegisterProcessor(processor)
}

// SetTracingDisabled turns global tracing on or off.
func SetTracingDisabled(disabled bool) {
	GetTraceProvider().SetDisabled(disabled)
}

// SetTracingExportAPIKey sets the OpenAI API key used by the default
// exporter, which is separate from the key used to call models.
func SetTracingExportAPIKey(apiKey string) {
	DefaultExporter().SetAPIKey(apiKey)
}
