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

package usage

import (
	"sync"
	"testing"

	"github.com/openai/openai-go/v3/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageAdd(t *testing.T) {
	u := NewUsage()
	u.Add(&Usage{
		Requests:            1,
		InputTokens:         10,
		InputTokensDetails:  responses.ResponseUsageInputTokensDetails{CachedTokens: 3},
		OutputTokens:        20,
		OutputTokensDetails: responses.ResponseUsageOutputTokensDetails{ReasoningTokens: 5},
		TotalTokens:         30,
	})
	u.Add(&Usage{Requests: 1, InputTokens: 7, OutputTokens: 11, TotalTokens: 18})

	assert.Equal(t, uint64(2), u.Requests)
	assert.Equal(t, uint64(17), u.InputTokens)
	assert.Equal(t, uint64(31), u.OutputTokens)
	assert.Equal(t, uint64(48), u.TotalTokens)
	assert.Equal(t, int64(3), u.InputTokensDetails.CachedTokens)
	assert.Equal(t, int64(5), u.OutputTokensDetails.ReasoningTokens)
}

func TestUsageAddNil(t *testing.T) {
	u := NewUsage()
	u.Add(nil)
	assert.Equal(t, uint64(0), u.Requests)
}

func TestUsageConcurrentAdd(t *testing.T) {
	u := NewUsage()
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.Add(&Usage{Requests: 1, InputTokens: 2, OutputTokens: 3, TotalTokens: 5})
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(100), u.Requests)
	assert.Equal(t, uint64(200), u.InputTokens)
	assert.Equal(t, uint64(300), u.OutputTokens)
	assert.Equal(t, uint64(500), u.TotalTokens)
}

func TestUsageContext(t *testing.T) {
	_, ok := FromContext(t.Context())
	assert.False(t, ok)

	u := NewUsage()
	ctx := NewContext(t.Context(), u)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, u, got)
}

func TestUsageClone(t *testing.T) {
	u := &Usage{Requests: 2, InputTokens: 4, OutputTokens: 6, TotalTokens: 10}
	clone := u.Clone()
	require.NotSame(t, u, clone)
	assert.Equal(t, u.Requests, clone.Requests)
	assert.Equal(t, u.TotalTokens, clone.TotalTokens)

	clone.Add(&Usage{Requests: 1})
	assert.Equal(t, uint64(2), u.Requests)
}
