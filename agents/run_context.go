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
	"github.com/nlpodyssey/agentcore/usage"
)

// RunContextWrapper wraps the caller-provided context object of a run and
// tracks the usage accumulated over the run. It is created once per run and
// shared by reference with everything the run touches.
type RunContextWrapper[T any] struct {
	// Context is the context object passed by the user to the Runner.
	Context T

	// Usage reports the run's usage so far. For streamed responses, the
	// usage is stale until the final chunk of the stream is processed.
	Usage *usage.Usage
}

// NewRunContextWrapper creates a new RunContextWrapper.
func NewRunContextWrapper[T any](ctx T) *RunContextWrapper[T] {
	return &RunContextWrapper[T]{
		Context: ctx,
		Usage:   usage.NewUsage(),
	}
}
