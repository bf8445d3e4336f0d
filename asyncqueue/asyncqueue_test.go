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

package asyncqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePutGetOrder(t *testing.T) {
	q := NewQueue[int]()
	q.Put(1)
	q.Put(2)
	q.Put(3)

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 1, q.Get())
	assert.Equal(t, 2, q.Get())
	assert.Equal(t, 3, q.Get())
	assert.True(t, q.IsEmpty())
}

func TestQueuePoll(t *testing.T) {
	q := NewQueue[string]()

	_, ok := q.Poll()
	assert.False(t, ok)

	q.Put("a")
	v, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestQueueGetBlocksUntilPut(t *testing.T) {
	q := NewQueue[int]()

	done := make(chan int)
	go func() { done <- q.Get() }()

	q.Put(42)
	assert.Equal(t, 42, <-done)
}

func TestQueueConcurrentProducersConsumers(t *testing.T) {
	const producers = 8
	const itemsPerProducer = 100

	q := NewQueue[int]()
	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range itemsPerProducer {
				q.Put(i)
			}
		}()
	}

	got := make(chan int, producers*itemsPerProducer)
	var consumers sync.WaitGroup
	for range 4 {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for range producers * itemsPerProducer / 4 {
				got <- q.Get()
			}
		}()
	}

	wg.Wait()
	consumers.Wait()
	assert.Len(t, got, producers*itemsPerProducer)
	assert.True(t, q.IsEmpty())
}
