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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileSQLiteSession(t *testing.T, sessionID string) *SQLiteSession {
	t.Helper()
	session, err := NewSQLiteSession(t.Context(), SQLiteSessionParams{
		SessionID:        sessionID,
		DBDataSourceName: filepath.Join(t.TempDir(), sessionID+".db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, session.Close()) })
	return session
}

func TestSQLiteSessionBasicFlow(t *testing.T) {
	ctx := t.Context()
	session := newFileSQLiteSession(t, "sqlite_basic")

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

func TestSQLiteSessionInMemoryDefaultDSN(t *testing.T) {
	ctx := t.Context()
	session, err := NewSQLiteSession(ctx, SQLiteSessionParams{SessionID: "sqlite_default_dsn"})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, session.Close()) })

	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{userMessageItem("ephemeral")}))
	items, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSQLiteSessionPersistsAcrossReopen(t *testing.T) {
	ctx := t.Context()
	dbPath := filepath.Join(t.TempDir(), "persist.db")

	first, err := NewSQLiteSession(ctx, SQLiteSessionParams{
		SessionID:        "persist",
		DBDataSourceName: dbPath,
	})
	require.NoError(t, err)
	require.NoError(t, first.AddItems(ctx, []TResponseInputItem{
		userMessageItem("remember me"),
	}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteSession(ctx, SQLiteSessionParams{
		SessionID:        "persist",
		DBDataSourceName: dbPath,
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, second.Close()) })

	items, err := second.GetItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "remember me", items[0].OfMessage.Content.OfString.Value)
}

func TestSQLiteSessionPopFromEmpty(t *testing.T) {
	ctx := t.Context()
	session := newFileSQLiteSession(t, "sqlite_pop_empty")

	popped, err := session.PopItem(ctx)
	require.NoError(t, err)
	assert.Nil(t, popped)
}

func TestSQLiteSessionLimitReturnsLatestInOrder(t *testing.T) {
	ctx := t.Context()
	session := newFileSQLiteSession(t, "sqlite_limit")

	items := []TResponseInputItem{
		userMessageItem("1"),
		assistantMessageItem("2"),
		userMessageItem("3"),
		assistantMessageItem("4"),
	}
	require.NoError(t, session.AddItems(ctx, items))

	latest2, err := session.GetItems(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, items[2:], latest2)

	more, err := session.GetItems(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, items, more)
}

func TestSQLiteSessionLimitTrimsOrphanedOutput(t *testing.T) {
	ctx := t.Context()
	session := newFileSQLiteSession(t, "sqlite_trim")

	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{
		functionCallItem("call-9", "lookup"),
		functionCallOutputItem("call-9", "found"),
		assistantMessageItem("here you go"),
	}))

	latest, err := session.GetItems(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.NotNil(t, latest[0].OfMessage)
}

func TestSQLiteSessionInsertionOrderWinsOverTimestamp(t *testing.T) {
	ctx := t.Context()
	session := newFileSQLiteSession(t, "sqlite_rowid_order")

	items := []TResponseInputItem{
		userMessageItem("first"),
		assistantMessageItem("second"),
		userMessageItem("third"),
	}
	require.NoError(t, session.AddItems(ctx, items))

	// Collapse all created_at values to one instant; rowid still decides.
	_, err := session.db.ExecContext(ctx,
		`UPDATE "`+session.messagesTable+`" SET created_at = ? WHERE session_id = ?`,
		"2025-01-01 00:00:00.000000", session.sessionID,
	)
	require.NoError(t, err)

	retrieved, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, items, retrieved)

	popped, err := session.PopItem(ctx)
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, "third", popped.OfMessage.Content.OfString.Value)
}

func TestSQLiteSessionIsolationWithinOneDatabase(t *testing.T) {
	ctx := t.Context()
	dbPath := filepath.Join(t.TempDir(), "shared.db")

	cats, err := NewSQLiteSession(ctx, SQLiteSessionParams{
		SessionID:        "cats",
		DBDataSourceName: dbPath,
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, cats.Close()) })

	dogs, err := NewSQLiteSession(ctx, SQLiteSessionParams{
		SessionID:        "dogs",
		DBDataSourceName: dbPath,
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, dogs.Close()) })

	require.NoError(t, cats.AddItems(ctx, []TResponseInputItem{userMessageItem("meow")}))
	require.NoError(t, dogs.AddItems(ctx, []TResponseInputItem{userMessageItem("woof")}))

	catItems, err := cats.GetItems(ctx, 0)
	require.NoError(t, err)
	dogItems, err := dogs.GetItems(ctx, 0)
	require.NoError(t, err)

	require.Len(t, catItems, 1)
	require.Len(t, dogItems, 1)
	assert.Equal(t, "meow", catItems[0].OfMessage.Content.OfString.Value)
	assert.Equal(t, "woof", dogItems[0].OfMessage.Content.OfString.Value)

	require.NoError(t, cats.ClearSession(ctx))
	dogItems, err = dogs.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, dogItems, 1)
}

func TestSQLiteSessionCustomTableNames(t *testing.T) {
	ctx := t.Context()
	session, err := NewSQLiteSession(ctx, SQLiteSessionParams{
		SessionID:        "custom_tables",
		DBDataSourceName: filepath.Join(t.TempDir(), "custom.db"),
		SessionTable:     "chat_sessions",
		MessagesTable:    "chat_messages",
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, session.Close()) })

	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{userMessageItem("custom")}))

	var count int
	err = session.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM "chat_messages" WHERE session_id = ?`, "custom_tables",
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteSessionSkipsCorruptedRows(t *testing.T) {
	ctx := t.Context()
	session := newFileSQLiteSession(t, "sqlite_corrupted")

	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{userMessageItem("good-1")}))
	_, err := session.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO "%s" (session_id, message_data) VALUES (?, ?)`, session.messagesTable),
		session.sessionID, "{not-json",
	)
	require.NoError(t, err)
	require.NoError(t, session.AddItems(ctx, []TResponseInputItem{assistantMessageItem("good-2")}))

	items, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "good-1", items[0].OfMessage.Content.OfString.Value)
	assert.Equal(t, "good-2", items[1].OfMessage.Content.OfString.Value)
}

func TestSQLiteSessionRoundTripsUntypedMessages(t *testing.T) {
	ctx := t.Context()
	session := newFileSQLiteSession(t, "sqlite_untyped")

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

func TestSQLiteSessionAddEmptyList(t *testing.T) {
	ctx := t.Context()
	session := newFileSQLiteSession(t, "sqlite_add_empty")

	require.NoError(t, session.AddItems(ctx, nil))
	items, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSQLiteSessionUnicodeContent(t *testing.T) {
	ctx := t.Context()
	session := newFileSQLiteSession(t, "sqlite_unicode")

	items := []TResponseInputItem{
		userMessageItem("こんにちは"),
		assistantMessageItem("мир 🤖"),
	}
	require.NoError(t, session.AddItems(ctx, items))

	retrieved, err := session.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, items, retrieved)
}
