package eventcodec_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/cohere-ai/melody-sub000/eventcodec"
	"github.com/cohere-ai/melody-sub000/parsing"
)

func TestEncode_TextEvent(t *testing.T) {
	t.Parallel()
	enc := eventcodec.New()
	out, err := enc.Encode(parsing.FilterOutput{
		Text:     "hello",
		Logprobs: parsing.TokenIDsWithLogProb{TokenIDs: []int64{1, 2}, Logprobs: []float32{-0.1, -0.2}},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, "hello", decoded["text"])
	require.Contains(t, decoded, "logprobs")
}

func TestEncode_CitationEvent(t *testing.T) {
	t.Parallel()
	enc := eventcodec.New()
	out, err := enc.Encode(parsing.FilterOutput{
		Text: "world",
		Citations: []parsing.FilterCitation{{
			StartIndex: 0,
			EndIndex:   5,
			Text:       "world",
			Sources:    []parsing.Source{{ToolCallIndex: 0, ToolResultIndices: []int{1}}},
		}},
	})
	require.NoError(t, err)

	var decoded struct {
		Citations []struct {
			StartIndex int    `json:"start_index"`
			EndIndex   int    `json:"end_index"`
			Text       string `json:"text"`
			Sources    []struct {
				ToolCallIndex     int   `json:"tool_call_index"`
				ToolResultIndices []int `json:"tool_result_indices"`
			} `json:"sources"`
		} `json:"citations"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded.Citations, 1)
	require.Equal(t, 0, decoded.Citations[0].StartIndex)
	require.Equal(t, 5, decoded.Citations[0].EndIndex)
	require.Equal(t, []int{1}, decoded.Citations[0].Sources[0].ToolResultIndices)
}

func TestEncode_ToolCallDelta(t *testing.T) {
	t.Parallel()
	enc := eventcodec.New()
	out, err := enc.Encode(parsing.FilterOutput{
		ToolCalls: &parsing.FilterToolCallDelta{
			Index: 2,
			ParamDelta: &parsing.FilterToolParameter{
				Name:       "a",
				ValueDelta: "1",
			},
		},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"tool_calls":{"index":2,"param_delta":{"name":"a","value_delta":"1"}}}`, string(out))
}

func TestEncode_CompactLogprobsRoundTripsApproximately(t *testing.T) {
	t.Parallel()
	enc := eventcodec.New(eventcodec.WithCompactLogprobs())
	out, err := enc.Encode(parsing.FilterOutput{
		Logprobs: parsing.TokenIDsWithLogProb{TokenIDs: []int64{1}, Logprobs: []float32{-1.5}},
	})
	require.NoError(t, err)

	var decoded struct {
		Logprobs struct {
			Logprobs []uint16 `json:"logprobs"`
		} `json:"logprobs"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded.Logprobs.Logprobs, 1)
	require.InDelta(t, -1.5, float16.Frombits(decoded.Logprobs.Logprobs[0]).Float32(), 1e-3)
}

func TestEncode_EmptyEventIsEmptyObject(t *testing.T) {
	t.Parallel()
	enc := eventcodec.New()
	out, err := enc.Encode(parsing.FilterOutput{})
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(out))
}
