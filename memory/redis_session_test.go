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
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisSession(t *testing.T, sessionID string, ttl time.Duration) (*miniredis.Miniredis, *redis.Client, *RedisSession) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	session, err := NewRedisSession(t.Context(), RedisSessionParams{
		SessionID: sessionID,
		Client:    client,
		KeyPrefix: "test:agents:session",
		TTL:       ttl,
	})
	require.NoError(t, err)
	return server, client, session
}

func TestRedisSessionBasicFlow(t *testing.T) {
	_, _, session := newMiniRedisSession(t, "redis_basic", 0)
	ctx := t.Context()

	items := []TResponseInputItem{
		userMessageItem("Hello"),
		assistantMessageItem("Hi there!"),
	}
	require.NoError(t, session.AddItems(ctx, items))

	retrieved, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, items, retrieved)

	popped, err := session.PopItem(ctx)
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, items[1], *popped)

	require.NoError(t, session.ClearSession(ctx))
	retrieved, err = session.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, retrieved)
}

func TestRedisSessionPopFromEmpty(t *testing.T) {
	_, _, session := newMiniRedisSession(t, "redis_pop_empty", 0)

	popped, err := session.PopItem(t.Context())
	require.NoError(t, err)
	assert.Nil(t, popped)
}

func TestRedisSessionLimitAndOrphanTrim(t *testing.T) {
	_, _, session := newMiniRedisSession(t, "redis_limit", 0)
	ctx := t.Context()

	items := []TResponseInputItem{
		userMessageItem("look this up"),
		functionCallItem("call-3", "lookup"),
		functionCallOutputItem("call-3", "found it"),
		assistantMessageItem("found it"),
	}
	require.NoError(t, session.AddItems(ctx, items))

	latest3, err := session.GetItems(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, items[1:], latest3)

	// A window of 2 starts at the call output, which has lost its call.
	latest2, err := session.GetItems(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest2, 1)
	assert.NotNil(t, latest2[0].OfMessage)
}

func TestRedisSessionRoundTripsUntypedMessages(t *testing.T) {
	_, _, session := newMiniRedisSession(t, "redis_untyped", 0)
	ctx := t.Context()

	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{
		untypedUserMessageItem("what is the weather?"),
		functionCallItem("call-1", "get_weather"),
		functionCallOutputItem("call-1", "sunny"),
		assistantMessageItem("sunny"),
	}))

	items, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 4)
	require.NotNil(t, items[0].OfMessage)
	assert.Equal(t, "what is the weather?", items[0].OfMessage.Content.OfString.Value)
	assert.NotNil(t, items[1].OfFunctionCall)
	assert.NotNil(t, items[2].OfFunctionCallOutput)
	assert.NotNil(t, items[3].OfMessage)
}

func TestRedisSessionTTLExpiresKeys(t *testing.T) {
	server, client, session := newMiniRedisSession(t, "redis_ttl", time.Minute)
	ctx := t.Context()

	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{userMessageItem("fleeting")}))
	assert.Greater(t, client.TTL(ctx, session.messagesKey).Val(), time.Duration(0))

	server.FastForward(2 * time.Minute)

	items, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.False(t, server.Exists(session.sessionKey))
}

func TestRedisSessionCreatedAtPreservedAcrossAdds(t *testing.T) {
	_, client, session := newMiniRedisSession(t, "redis_created_at", 0)
	ctx := t.Context()

	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{userMessageItem("first")}))
	require.NoError(t, client.HSet(ctx, session.sessionKey, "created_at", "42").Err())

	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{userMessageItem("second")}))

	createdAt, err := client.HGet(ctx, session.sessionKey, "created_at").Result()
	require.NoError(t, err)
	assert.Equal(t, "42", createdAt)

	updatedAt, err := client.HGet(ctx, session.sessionKey, "updated_at").Result()
	require.NoError(t, err)
	assert.NotEqual(t, "42", updatedAt)
}

func TestRedisSessionIsolationByKeyPrefix(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := t.Context()

	s1, err := NewRedisSession(ctx, RedisSessionParams{
		SessionID: "shared-id",
		Client:    client,
		KeyPrefix: "tenant-a:session",
	})
	require.NoError(t, err)
	s2, err := NewRedisSession(ctx, RedisSessionParams{
		SessionID: "shared-id",
		Client:    client,
		KeyPrefix: "tenant-b:session",
	})
	require.NoError(t, err)

	require.NoError(t, s1.AddItems(ctx, []TResponseInputItem{userMessageItem("alpha")}))
	require.NoError(t, s2.AddItems(ctx, []TResponseInputItem{userMessageItem("beta")}))

	items1, err := s1.GetItems(ctx, 0)
	require.NoError(t, err)
	items2, err := s2.GetItems(ctx, 0)
	require.NoError(t, err)

	require.Len(t, items1, 1)
	require.Len(t, items2, 1)
	assert.Equal(t, "alpha", items1[0].OfMessage.Content.OfString.Value)
	assert.Equal(t, "beta", items2[0].OfMessage.Content.OfString.Value)
}

func TestRedisSessionSkipsCorruptedEntries(t *testing.T) {
	_, client, session := newMiniRedisSession(t, "redis_corrupted", 0)
	ctx := t.Context()

	good1 := userMessageItem("good-1")
	good2 := assistantMessageItem("good-2")
	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{good1}))
	require.NoError(t, client.RPush(ctx, session.messagesKey, "{not-json").Err())
	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{good2}))

	retrieved, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []TResponseInputItem{good1, good2}, retrieved)
}

func TestRedisSessionFromURLOwnsClient(t *testing.T) {
	server := miniredis.RunT(t)
	ctx := t.Context()

	session, err := NewRedisSession(ctx, RedisSessionParams{
		SessionID: "redis_url",
		URL:       fmt.Sprintf("redis://%s/0", server.Addr()),
	})
	require.NoError(t, err)
	require.True(t, session.ownsClient)

	require.True(t, session.Ping(ctx))
	require.NoError(t, session.Close())
	assert.False(t, session.Ping(ctx))
}

func TestNewRedisSessionValidation(t *testing.T) {
	ctx := t.Context()

	_, err := NewRedisSession(ctx, RedisSessionParams{})
	require.ErrorContains(t, err, "session id")

	_, err = NewRedisSession(ctx, RedisSessionParams{SessionID: "redis"})
	require.ErrorContains(t, err, "redis client or url")
}
