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

// StreamEvent is an event produced while running an agent in streaming mode.
//
// It can be one of RawResponsesStreamEvent, RunItemStreamEvent, or
// AgentUpdatedStreamEvent.
type StreamEvent interface {
	isStreamEvent()
}

// RawResponsesStreamEvent is a streaming event from the LLM. These are "raw"
// events, i.e. they are directly passed through from the LLM.
type RawResponsesStreamEvent struct {
	// The raw responses streaming event from the LLM.
	Data TResponseStreamEvent

	// The type of the event, which is always "raw_response_event".
	Type string
}

func (RawResponsesStreamEvent) isStreamEvent() {}

// StreamEventName is the name of a RunItemStreamEvent.
type StreamEventName string

const (
	StreamEventMessageOutputCreated StreamEventName = "message_output_created"
	StreamEventHandoffRequested     StreamEventName = "handoff_requested"
	// This is misspelled, but we can't change it because that would be a breaking change.
	StreamEventHandoffOccurred      StreamEventName = "handoff_occured"
	StreamEventToolCalled           StreamEventName = "tool_called"
	StreamEventToolOutput           StreamEventName = "tool_output"
	StreamEventReasoningItemCreated StreamEventName = "reasoning_item_created"
)

// RunItemStreamEvent is a streaming event that wraps a RunItem. As the agent
// processes the LLM response, it will generate these events for new messages,
// tool calls, tool outputs, handoffs, etc.
type RunItemStreamEvent struct {
	// The name of the event.
	Name StreamEventName

	// The item that was created.
	Item RunItem

	// The type of the event, which is always "run_item_stream_event".
	Type string
}

func NewRunItemStreamEvent(name StreamEventName, item RunItem) RunItemStreamEvent {
	return RunItemStreamEvent{
		Name: name,
		Item: item,
		Type: "run_item_stream_event",
	}
}

func (RunItemStreamEvent) isStreamEvent() {}

// AgentUpdatedStreamEvent is an event that notifies that there is a new agent
// running.
type AgentUpdatedStreamEvent struct {
	// The new agent.
	NewAgent *Agent

	// The type of the event, which is always "agent_updated_stream_event".
	Type string
}

func (AgentUpdatedStreamEvent) isStreamEvent() {}
