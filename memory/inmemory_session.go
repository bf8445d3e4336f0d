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

package memory

import (
	"context"
	"slices"
	"sync"
)

// InMemorySession keeps conversation history in process memory. It is safe
// for concurrent use. History is lost when the process exits.
type InMemorySession struct {
	sessionID       string
	sessionSettings *SessionSettings
	mu              sync.Mutex
	items           []TResponseInputItem
}

type InMemorySessionParams struct {
	// Unique identifier for the conversation session.
	SessionID string

	// Optional default read settings (e.g. history limit).
	SessionSettings *SessionSettings
}

// NewInMemorySession creates an empty in-memory session.
func NewInMemorySession(params InMemorySessionParams) *InMemorySession {
	settings := params.SessionSettings
	if settings == nil {
		settings = &SessionSettings{}
	}
	return &InMemorySession{
		sessionID:       params.SessionID,
		sessionSettings: settings,
	}
}

func (s *InMemorySession) SessionID(context.Context) string {
	return s.sessionID
}

func (s *InMemorySession) SessionSettings() *SessionSettings {
	return s.sessionSettings
}

func (s *InMemorySession) GetItems(_ context.Context, limit int) ([]TResponseInputItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit >= len(s.items) {
		return slices.Clone(s.items), nil
	}
	items := slices.Clone(s.items[len(s.items)-limit:])
	return trimOrphanedCallOutputAtHead(items), nil
}

func (s *InMemorySession) AddItems(_ context.Context, items []TResponseInputItem) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, items...)
	return nil
}

func (s *InMemorySession) PopItem(context.Context) (*TResponseInputItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return nil, nil
	}
	item := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return &item, nil
}

func (s *InMemorySession) ClearSession(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	return nil
}

var _ Session = (*InMemorySession)(nil)
