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

// Package memory provides conversation history storage for agent runs.
package memory

import (
	"context"
	"slices"

	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"
)

// TResponseInputItem is an item of the model input sequence.
type TResponseInputItem = responses.ResponseInputItemUnionParam

// Session stores conversation history for a specific session, allowing an
// agent to maintain context across runs without explicit manual memory
// management.
type Session interface {
	// SessionID returns the ID of this session.
	SessionID(ctx context.Context) string

	// GetItems retrieves the conversation history for this session.
	// A positive limit returns only the latest items, in chronological order.
	// Zero or negative means all items.
	GetItems(ctx context.Context, limit int) ([]TResponseInputItem, error)

	// AddItems appends new items to the conversation history.
	AddItems(ctx context.Context, items []TResponseInputItem) error

	// PopItem removes and returns the most recent item from the session.
	// It returns nil if the session is empty.
	PopItem(ctx context.Context) (*TResponseInputItem, error)

	// ClearSession removes all items for this session.
	ClearSession(ctx context.Context) error
}

// SessionSettings configures how a run reads from a session.
type SessionSettings struct {
	// Limit caps the number of most recent items retrieved. Nil retrieves
	// all items; zero retrieves none.
	Limit *int
}

// Resolve overlays non-nil fields from override onto the receiver,
// returning the merged settings. Either side may be nil.
func (s *SessionSettings) Resolve(override *SessionSettings) *SessionSettings {
	if s == nil && override == nil {
		return nil
	}
	var merged SessionSettings
	if s != nil {
		merged = *s
	}
	if override != nil && override.Limit != nil {
		merged.Limit = override.Limit
	}
	return &merged
}

// SessionSettingsProvider is implemented by sessions that carry their own
// default read settings.
type SessionSettingsProvider interface {
	SessionSettings() *SessionSettings
}

// marshalMessageData encodes one history item for storage. The plain message
// variant may omit its "type" discriminator, which the union decoder requires
// when the item is read back, so it is filled in before encoding.
func marshalMessageData(item TResponseInputItem) (string, error) {
	if msg := item.OfMessage; msg != nil && msg.Type == "" {
		withType := *msg
		withType.Type = responses.EasyInputMessageTypeMessage
		item = TResponseInputItem{OfMessage: &withType}
	}
	payload, err := item.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// unmarshalMessageData decodes one stored history item.
func unmarshalMessageData(messageData string) (TResponseInputItem, error) {
	var item TResponseInputItem
	if err := item.UnmarshalJSON([]byte(messageData)); err != nil {
		return TResponseInputItem{}, err
	}
	return item, nil
}

// trimOrphanedCallOutputAtHead drops a leading call-output item whose
// originating call was cut off by a retrieval limit. Model APIs reject an
// output item with no matching call.
func trimOrphanedCallOutputAtHead(items []TResponseInputItem) []TResponseInputItem {
	if len(items) == 0 {
		return items
	}
	itemType := items[0].GetType()
	if itemType == nil {
		return items
	}
	switch *itemType {
	case string(constant.ValueOf[constant.FunctionCallOutput]()),
		string(constant.ValueOf[constant.ComputerCallOutput]()),
		string(constant.ValueOf[constant.LocalShellCallOutput]()),
		string(constant.ValueOf[constant.CustomToolCallOutput]()):
		return slices.Delete(items, 0, 1)
	default:
		return items
	}
}
