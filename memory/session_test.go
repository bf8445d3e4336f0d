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
	"testing"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageItem(role responses.EasyInputMessageRole, text string) TResponseInputItem {
	return TResponseInputItem{
		OfMessage: &responses.EasyInputMessageParam{
			Content: responses.EasyInputMessageContentUnionParam{
				OfString: param.NewOpt(text),
			},
			Role: role,
			Type: responses.EasyInputMessageTypeMessage,
		},
	}
}

func userMessageItem(text string) TResponseInputItem {
	return messageItem(responses.EasyInputMessageRoleUser, text)
}

// untypedUserMessageItem mirrors the shape a run produces: a plain message
// with no Type field set.
func untypedUserMessageItem(text string) TResponseInputItem {
	return TResponseInputItem{
		OfMessage: &responses.EasyInputMessageParam{
			Content: responses.EasyInputMessageContentUnionParam{
				OfString: param.NewOpt(text),
			},
			Role: responses.EasyInputMessageRoleUser,
		},
	}
}

func assistantMessageItem(text string) TResponseInputItem {
	return messageItem(responses.EasyInputMessageRoleAssistant, text)
}

func functionCallItem(callID, name string) TResponseInputItem {
	return TResponseInputItem{
		OfFunctionCall: &responses.ResponseFunctionToolCallParam{
			Arguments: "{}",
			CallID:    callID,
			Name:      name,
			Type:      constant.ValueOf[constant.FunctionCall](),
		},
	}
}

func functionCallOutputItem(callID, output string) TResponseInputItem {
	return TResponseInputItem{
		OfFunctionCallOutput: &responses.ResponseInputItemFunctionCallOutputParam{
			CallID: callID,
			Output: responses.ResponseInputItemFunctionCallOutputOutputUnionParam{
				OfString: param.NewOpt(output),
			},
			Type: constant.ValueOf[constant.FunctionCallOutput](),
		},
	}
}

func intPtr(v int) *int { return &v }

func TestSessionSettingsResolve(t *testing.T) {
	t.Run("both nil", func(t *testing.T) {
		var base *SessionSettings
		assert.Nil(t, base.Resolve(nil))
	})

	t.Run("base only", func(t *testing.T) {
		base := &SessionSettings{Limit: intPtr(3)}
		resolved := base.Resolve(nil)
		require.NotNil(t, resolved)
		assert.Equal(t, 3, *resolved.Limit)
	})

	t.Run("override wins", func(t *testing.T) {
		base := &SessionSettings{Limit: intPtr(3)}
		resolved := base.Resolve(&SessionSettings{Limit: intPtr(7)})
		require.NotNil(t, resolved)
		assert.Equal(t, 7, *resolved.Limit)
	})

	t.Run("nil override field keeps base", func(t *testing.T) {
		base := &SessionSettings{Limit: intPtr(3)}
		resolved := base.Resolve(&SessionSettings{})
		require.NotNil(t, resolved)
		assert.Equal(t, 3, *resolved.Limit)
	})

	t.Run("override without base", func(t *testing.T) {
		var base *SessionSettings
		resolved := base.Resolve(&SessionSettings{Limit: intPtr(2)})
		require.NotNil(t, resolved)
		assert.Equal(t, 2, *resolved.Limit)
	})
}

func TestTrimOrphanedCallOutputAtHead(t *testing.T) {
	t.Run("drops leading function call output", func(t *testing.T) {
		items := []TResponseInputItem{
			functionCallOutputItem("call-1", "42"),
			assistantMessageItem("done"),
		}
		trimmed := trimOrphanedCallOutputAtHead(items)
		require.Len(t, trimmed, 1)
		assert.NotNil(t, trimmed[0].OfMessage)
	})

	t.Run("keeps paired call and output", func(t *testing.T) {
		items := []TResponseInputItem{
			functionCallItem("call-1", "get_weather"),
			functionCallOutputItem("call-1", "sunny"),
		}
		trimmed := trimOrphanedCallOutputAtHead(items)
		assert.Len(t, trimmed, 2)
	})

	t.Run("keeps leading message", func(t *testing.T) {
		items := []TResponseInputItem{
			userMessageItem("hello"),
			assistantMessageItem("hi"),
		}
		trimmed := trimOrphanedCallOutputAtHead(items)
		assert.Len(t, trimmed, 2)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, trimOrphanedCallOutputAtHead(nil))
	})
}

func TestUnmarshalMessageDataRoundTrip(t *testing.T) {
	original := userMessageItem("round trip")
	payload, err := original.MarshalJSON()
	require.NoError(t, err)

	decoded, err := unmarshalMessageData(string(payload))
	require.NoError(t, err)
	require.NotNil(t, decoded.OfMessage)
	assert.Equal(t, "round trip", decoded.OfMessage.Content.OfString.Value)
}

func TestUnmarshalMessageDataRejectsGarbage(t *testing.T) {
	_, err := unmarshalMessageData("{not-json")
	assert.Error(t, err)
}

func TestMarshalMessageDataAddsMessageDiscriminator(t *testing.T) {
	payload, err := marshalMessageData(untypedUserMessageItem("no type set"))
	require.NoError(t, err)
	assert.Contains(t, payload, `"type":"message"`)

	decoded, err := unmarshalMessageData(payload)
	require.NoError(t, err)
	require.NotNil(t, decoded.OfMessage)
	assert.Equal(t, "no type set", decoded.OfMessage.Content.OfString.Value)
	assert.Equal(t, responses.EasyInputMessageRoleUser, decoded.OfMessage.Role)
}

func TestMarshalMessageDataLeavesOtherVariantsAlone(t *testing.T) {
	original := functionCallItem("call-1", "get_weather")
	payload, err := marshalMessageData(original)
	require.NoError(t, err)

	decoded, err := unmarshalMessageData(payload)
	require.NoError(t, err)
	require.NotNil(t, decoded.OfFunctionCall)
	assert.Equal(t, "call-1", decoded.OfFunctionCall.CallID)
}
