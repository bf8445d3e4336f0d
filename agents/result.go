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

package agents

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/nlpodyssey/agentcore/asyncqueue"
	"github.com/nlpodyssey/agentcore/tracing"
)

// RunResult contains the result of a blocking (non-streamed) agent run.
type RunResult struct {
	// The original input items, i.e. the items before Run() was called.
	// This may be a mutated version of the input, if there are handoff
	// input filters that mutate the input.
	Input Input

	// The new items generated during the agent run. These include things
	// like new messages, tool calls and their outputs, etc.
	NewItems []RunItem

	// The raw LLM responses generated by the model during the agent run.
	RawResponses []ModelResponse

	// The output of the last agent.
	FinalOutput any

	// Guardrail results for the input messages.
	InputGuardrailResults []InputGuardrailResult

	// Guardrail results for the final output of the agent.
	OutputGuardrailResults []OutputGuardrailResult

	// The last agent that was run.
	LastAgent *Agent
}

// FinalOutputAs is a convenience method that assigns the final output,
// through the given pointer, to a value of a concrete type.
//
// By default, if the final output is not assignable to the pointed-to type,
// the value is set to its zero value and no error is returned. Set
// raiseIfIncorrectType to true to get an error in case of type mismatch.
func (r *RunResult) FinalOutputAs(v any, raiseIfIncorrectType bool) error {
	return finalOutputAs(r.FinalOutput, v, raiseIfIncorrectType)
}

// ToInputList creates a new input list, merging the original input with all
// the new items generated.
func (r *RunResult) ToInputList() []TResponseInputItem {
	originalItems := ItemHelpers().InputToNewInputList(r.Input)
	return slices.Concat(originalItems, runItemsToInputItems(r.NewItems))
}

// LastResponseID is a convenience method to get the response ID of the last
// model response generated. It returns an empty string if there are no raw
// model responses.
func (r *RunResult) LastResponseID() string {
	if len(r.RawResponses) == 0 {
		return ""
	}
	return r.RawResponses[len(r.RawResponses)-1].ResponseID
}

// ReleaseAgents drops the references to Agent objects held by the result, so
// that the agents can be garbage collected once the caller no longer needs
// them. By default it also clears the Agent references of each item in
// NewItems; pass false to keep those.
//
// It is safe to call ReleaseAgents multiple times.
func (r *RunResult) ReleaseAgents(releaseNewItems ...bool) {
	release := true
	if len(releaseNewItems) > 0 {
		release = releaseNewItems[0]
	}
	r.LastAgent = nil
	if release {
		for i, item := range r.NewItems {
			r.NewItems[i] = runItemWithoutAgent(item)
		}
	}
}

func finalOutputAs(finalOutput, v any, raiseIfIncorrectType bool) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return UserErrorf("FinalOutputAs expects a non-nil pointer, got %T", v)
	}
	elem := rv.Elem()
	out := reflect.ValueOf(finalOutput)
	if out.IsValid() && out.Type().AssignableTo(elem.Type()) {
		elem.Set(out)
		return nil
	}
	elem.SetZero()
	if raiseIfIncorrectType {
		return fmt.Errorf("final output of type %T is not assignable to %s", finalOutput, elem.Type())
	}
	return nil
}

// runItemWithoutAgent returns a copy of the item with its Agent references
// cleared. Items of pointer type are modified in place.
func runItemWithoutAgent(item RunItem) RunItem {
	switch it := item.(type) {
	case MessageOutputItem:
		it.Agent = nil
		return it
	case *MessageOutputItem:
		it.Agent = nil
		return it
	case HandoffCallItem:
		it.Agent = nil
		return it
	case *HandoffCallItem:
		it.Agent = nil
		return it
	case HandoffOutputItem:
		it.Agent = nil
		it.SourceAgent = nil
		it.TargetAgent = nil
		return it
	case *HandoffOutputItem:
		it.Agent = nil
		it.SourceAgent = nil
		it.TargetAgent = nil
		return it
	case ToolCallItem:
		it.Agent = nil
		return it
	case *ToolCallItem:
		it.Agent = nil
		return it
	case ToolCallOutputItem:
		it.Agent = nil
		return it
	case *ToolCallOutputItem:
		it.Agent = nil
		return it
	case ReasoningItem:
		it.Agent = nil
		return it
	case *ReasoningItem:
		it.Agent = nil
		return it
	default:
		return item
	}
}

// RunResultStreaming is the result of an agent run in streaming mode.
// You can use the StreamEvents method to receive semantic events as they are
// generated.
//
// StreamEvents will return an error:
//   - MaxTurnsExceededError if the agent exceeds the max turns limit.
//   - InputGuardrailTripwireTriggeredError or
//     OutputGuardrailTripwireTriggeredError if a guardrail is tripped.
type RunResultStreaming struct {
	mu sync.RWMutex

	input                  Input
	newItems               []RunItem
	rawResponses           []ModelResponse
	finalOutput            any
	inputGuardrailResults  []InputGuardrailResult
	outputGuardrailResults []OutputGuardrailResult
	modelInputItems        []RunItem

	currentAgent *Agent
	currentTurn  uint64
	maxTurns     uint64

	trace      tracing.Trace
	runCtx     context.Context
	isComplete atomic.Bool

	runImplTask          *task[struct{}]
	inputGuardrailsTask  *task[struct{}]
	outputGuardrailsTask *task[[]OutputGuardrailResult]

	// storedException is read and written only by the goroutine consuming
	// StreamEvents.
	storedException error

	eventQueue          *asyncqueue.Queue[StreamEvent]
	inputGuardrailQueue *asyncqueue.Queue[InputGuardrailResult]
}

func newRunResultStreaming() *RunResultStreaming {
	return &RunResultStreaming{
		eventQueue:          asyncqueue.NewQueue[StreamEvent](),
		inputGuardrailQueue: asyncqueue.NewQueue[InputGuardrailResult](),
	}
}

// Input returns the original input items, i.e. the items before Run() was
// called. This may be a mutated version of the input, if there are handoff
// input filters that mutate the input.
func (r *RunResultStreaming) Input() Input {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.input
}

func (r *RunResultStreaming) setInput(input Input) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input = input
}

// NewItems returns the new items generated during the agent run. These
// include things like new messages, tool calls and their outputs, etc.
func (r *RunResultStreaming) NewItems() []RunItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.newItems
}

func (r *RunResultStreaming) setNewItems(items []RunItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newItems = items
}

// RawResponses returns the raw LLM responses generated by the model during
// the agent run.
func (r *RunResultStreaming) RawResponses() []ModelResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rawResponses
}

func (r *RunResultStreaming) appendRawResponses(responses ...ModelResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rawResponses = append(r.rawResponses, responses...)
}

// FinalOutput returns the output of the last agent. It is nil until the run
// is complete.
func (r *RunResultStreaming) FinalOutput() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finalOutput
}

// FinalOutputAs is a convenience method that assigns the final output,
// through the given pointer, to a value of a concrete type.
//
// By default, if the final output is not assignable to the pointed-to type,
// the value is set to its zero value and no error is returned. Set
// raiseIfIncorrectType to true to get an error in case of type mismatch.
func (r *RunResultStreaming) FinalOutputAs(v any, raiseIfIncorrectType bool) error {
	return finalOutputAs(r.FinalOutput(), v, raiseIfIncorrectType)
}

func (r *RunResultStreaming) setFinalOutput(output any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalOutput = output
}

// InputGuardrailResults returns the guardrail results for the input messages.
func (r *RunResultStreaming) InputGuardrailResults() []InputGuardrailResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inputGuardrailResults
}

func (r *RunResultStreaming) setInputGuardrailResults(results []InputGuardrailResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputGuardrailResults = results
}

// OutputGuardrailResults returns the guardrail results for the final output
// of the agent.
func (r *RunResultStreaming) OutputGuardrailResults() []OutputGuardrailResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outputGuardrailResults
}

func (r *RunResultStreaming) setOutputGuardrailResults(results []OutputGuardrailResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputGuardrailResults = results
}

// ModelInputItems returns the run items that are sent to the model as input,
// in addition to the original input, on the next turn.
func (r *RunResultStreaming) ModelInputItems() []RunItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modelInputItems
}

func (r *RunResultStreaming) setModelInputItems(items []RunItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelInputItems = items
}

// CurrentAgent returns the agent that is currently running, or the last agent
// that ran if the run is complete.
func (r *RunResultStreaming) CurrentAgent() *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentAgent
}

func (r *RunResultStreaming) setCurrentAgent(agent *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentAgent = agent
}

// LastAgent returns the last agent that was run. Updates as the agent run
// progresses, so the true last agent is only available after the agent run
// is complete.
func (r *RunResultStreaming) LastAgent() *Agent {
	return r.CurrentAgent()
}

// CurrentTurn returns the current turn number.
func (r *RunResultStreaming) CurrentTurn() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentTurn
}

func (r *RunResultStreaming) setCurrentTurn(turn uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentTurn = turn
}

// MaxTurns returns the maximum number of turns the agent can run for.
func (r *RunResultStreaming) MaxTurns() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxTurns
}

func (r *RunResultStreaming) setMaxTurns(maxTurns uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxTurns = maxTurns
}

// IsComplete reports whether the agent has finished running.
func (r *RunResultStreaming) IsComplete() bool {
	return r.isComplete.Load()
}

func (r *RunResultStreaming) markAsComplete() {
	r.isComplete.Store(true)
}

func (r *RunResultStreaming) getTrace() tracing.Trace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trace
}

func (r *RunResultStreaming) setTrace(trace tracing.Trace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = trace
}

// ToInputList creates a new input list, merging the original input with all
// the new items generated.
func (r *RunResultStreaming) ToInputList() []TResponseInputItem {
	originalItems := ItemHelpers().InputToNewInputList(r.Input())
	return slices.Concat(originalItems, runItemsToInputItems(r.NewItems()))
}

// LastResponseID is a convenience method to get the response ID of the last
// model response generated. It returns an empty string if there are no raw
// model responses.
func (r *RunResultStreaming) LastResponseID() string {
	rawResponses := r.RawResponses()
	if len(rawResponses) == 0 {
		return ""
	}
	return rawResponses[len(rawResponses)-1].ResponseID
}

// ReleaseAgents drops the references to Agent objects held by the result, so
// that the agents can be garbage collected once the caller no longer needs
// them. By default it also clears the Agent references of each item in
// NewItems; pass false to keep those.
//
// Call it only after the run is complete.
func (r *RunResultStreaming) ReleaseAgents(releaseNewItems ...bool) {
	release := true
	if len(releaseNewItems) > 0 {
		release = releaseNewItems[0]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentAgent = nil
	if release {
		for i, item := range r.newItems {
			r.newItems[i] = runItemWithoutAgent(item)
		}
	}
}

func (r *RunResultStreaming) createRunImplTask(ctx context.Context, fn func(context.Context) error) {
	t := newTask(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runCtx = ctx
	r.runImplTask = t
}

func (r *RunResultStreaming) getRunImplTask() *task[struct{}] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runImplTask
}

func (r *RunResultStreaming) createInputGuardrailsTask(ctx context.Context, fn func(context.Context) error) {
	t := newTask(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputGuardrailsTask = t
}

func (r *RunResultStreaming) getInputGuardrailsTask() *task[struct{}] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inputGuardrailsTask
}

func (r *RunResultStreaming) createOutputGuardrailsTask(ctx context.Context, fn func(context.Context) ([]OutputGuardrailResult, error)) {
	t := newTask(ctx, fn)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputGuardrailsTask = t
}

func (r *RunResultStreaming) getOutputGuardrailsTask() *task[[]OutputGuardrailResult] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outputGuardrailsTask
}

// StreamEvents calls yield for each semantic event, as it is generated.
// It blocks until the run is complete, an error occurs, or yield returns a
// non-nil error. In the latter case, the run is canceled and the same error
// is returned.
func (r *RunResultStreaming) StreamEvents(yield func(StreamEvent) error) error {
	for {
		r.checkErrors()
		if r.storedException != nil {
			break
		}
		if r.IsComplete() && r.eventQueue.IsEmpty() {
			break
		}

		event := r.eventQueue.Get()
		if _, ok := event.(queueCompleteSentinel); ok {
			// The sentinel is emitted just before the run task returns.
			// Wait for the task, so that its error, if any, is visible below.
			if t := r.getRunImplTask(); t != nil {
				_ = t.Await()
			}
			// The queue may have been completed due to an error.
			r.checkErrors()
			break
		}

		if err := yield(event); err != nil {
			r.Cancel()
			return err
		}
	}

	r.cleanupTasks()
	return r.storedException
}

// Cancel interrupts the streamed run, stopping the background work and
// marking the run as complete. Pending events are discarded.
func (r *RunResultStreaming) Cancel() {
	r.cleanupTasks()
	r.markAsComplete()

	for {
		if _, ok := r.eventQueue.Poll(); !ok {
			break
		}
	}
	for {
		if _, ok := r.inputGuardrailQueue.Poll(); !ok {
			break
		}
	}
}

func (r *RunResultStreaming) checkErrors() {
	if maxTurns := r.MaxTurns(); r.CurrentTurn() > maxTurns {
		maxTurnsErr := MaxTurnsExceededErrorf("max turns %d exceeded", maxTurns)
		maxTurnsErr.RunData = r.errorDetails()
		r.storedException = maxTurnsErr
	}

	// Fetch all the completed guardrail results from the queue and check them.
	for {
		guardrailResult, ok := r.inputGuardrailQueue.Poll()
		if !ok {
			break
		}
		if guardrailResult.Output.TripwireTriggered {
			tripwireErr := NewInputGuardrailTripwireTriggeredError(guardrailResult)
			tripwireErr.RunData = r.errorDetails()
			r.storedException = tripwireErr
		}
	}

	// Check the background tasks for any errors.
	if t := r.getRunImplTask(); t != nil && t.IsDone() {
		if err := t.Await().Error; err != nil {
			var agentsErr *AgentsError
			if errors.As(err, &agentsErr) && agentsErr.RunData == nil {
				agentsErr.RunData = r.errorDetails()
			}
			r.storedException = err
		}
	}
	if t := r.getInputGuardrailsTask(); t != nil && t.IsDone() {
		if err := t.Await().Error; err != nil {
			r.storedException = err
		}
	}
	if t := r.getOutputGuardrailsTask(); t != nil && t.IsDone() {
		if err := t.Await().Error; err != nil {
			r.storedException = err
		}
	}
}

func (r *RunResultStreaming) cleanupTasks() {
	if t := r.getRunImplTask(); t != nil && !t.IsDone() {
		t.Cancel()
	}
	if t := r.getInputGuardrailsTask(); t != nil && !t.IsDone() {
		t.Cancel()
	}
	if t := r.getOutputGuardrailsTask(); t != nil && !t.IsDone() {
		t.Cancel()
	}
}

func (r *RunResultStreaming) errorDetails() *RunErrorDetails {
	r.mu.RLock()
	ctx := r.runCtx
	r.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return &RunErrorDetails{
		Context:                ctx,
		Input:                  r.Input(),
		NewItems:               r.NewItems(),
		RawResponses:           r.RawResponses(),
		LastAgent:              r.CurrentAgent(),
		InputGuardrailResults:  r.InputGuardrailResults(),
		OutputGuardrailResults: r.OutputGuardrailResults(),
	}
}

type taskResult[T any] struct {
	Value T
	Error error
}

// task runs a function in a goroutine, offering a cancelable context to the
// function, and allowing the caller to wait for its completion.
type task[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}
	result taskResult[T]
}

func newTask[T any](ctx context.Context, fn func(context.Context) (T, error)) *task[T] {
	ctx, cancel := context.WithCancel(ctx)
	t := &task[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		value, err := fn(ctx)
		t.result = taskResult[T]{Value: value, Error: err}
	}()
	return t
}

// Await blocks until the task function has returned.
func (t *task[T]) Await() taskResult[T] {
	<-t.done
	return t.result
}

// IsDone reports whether the task function has returned.
func (t *task[T]) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Cancel cancels the task's context. It does not wait for the function to
// return.
func (t *task[T]) Cancel() {
	t.cancel()
}
