package parsing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseActions_ProcessedParams(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t, HandleMultiHopCmd3(), StreamToolActions(), StreamProcessedParams())
	input := `[{"tool_call_id":"0","tool_name":"add","parameters":{"a": 6, "b": "seven"}}]`

	// ParseActions never needs to consume every trailing structural brace
	// itself: once the stream's "<|END_ACTION|>" (or equivalent) marker
	// arrives, the mode-transition layer in filter.go force-flushes
	// whatever is left unconsumed.
	out, _ := f.ParseActions(input)

	var names []string
	var values []string
	for _, o := range out {
		if o.ToolCalls == nil || o.ToolCalls.ParamDelta == nil {
			continue
		}
		if o.ToolCalls.ParamDelta.Name != "" && o.ToolCalls.ParamDelta.ValueDelta == "" {
			names = append(names, o.ToolCalls.ParamDelta.Name)
		} else {
			values = append(values, o.ToolCalls.ParamDelta.ValueDelta)
		}
	}
	require.Contains(t, names, "a")
	require.Contains(t, names, "b")
	require.Contains(t, values, "6")
	require.Contains(t, values, `"seven"`)
}

func TestParseActions_WaitsOnTrailingBackslash(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t, HandleMultiHopCmd3(), StreamToolActions())
	out, n := f.ParseActions(`[{"tool_call_id":"0","tool_name":"add\`)
	require.Nil(t, out)
	require.Equal(t, 0, n)
}

func TestParseActions_SyntheticToolCallID(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t, HandleLlama(), StreamToolActions(), WithSyntheticToolCallIDs())
	input := `[{"name": "add", "parameters": {"a": 1}}]`

	out, _ := f.ParseActions(input)
	var ids []string
	for _, o := range out {
		if o.ToolCalls != nil && o.ToolCalls.ID != "" {
			ids = append(ids, o.ToolCalls.ID)
		}
	}
	require.Len(t, ids, 1)
	require.NotEmpty(t, ids[0])
}

func TestParseActions_RawParamStripsIndentation(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t, HandleMultiHopCmd3(), StreamToolActions())
	input := "[{\"tool_call_id\":\"0\",\"tool_name\":\"add\",\"parameters\": {\n        \"a\": 1\n        }}]"

	out, _ := f.ParseActions(input)
	var raw string
	for _, o := range out {
		if o.ToolCalls != nil {
			raw += o.ToolCalls.RawParamDelta
		}
	}
	require.NotContains(t, raw, "        ")
}

func TestFindNonEscapedChar(t *testing.T) {
	t.Parallel()
	require.Equal(t, 5, findNonEscapedChar(`hello"`, '"'))
	require.Equal(t, -1, findNonEscapedChar(`hello\"`, '"'))
	require.Equal(t, 7, findNonEscapedChar(`hello\\"`, '"'))
}
