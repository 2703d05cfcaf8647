package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSalvageActionFragment_CompleteArray(t *testing.T) {
	t.Parallel()
	frag := []byte(`[{"tool_call_id":"0","tool_name":"add","parameters":{"a":1}}]`)
	calls := SalvageActionFragment(frag, zaptest.NewLogger(t))
	require.Len(t, calls, 1)
	require.Equal(t, "0", calls[0].ToolCallID)
	require.Equal(t, "add", calls[0].ToolName)
	require.Equal(t, []string{"a"}, calls[0].ParamNames)
}

func TestSalvageActionFragment_TruncatedArray(t *testing.T) {
	t.Parallel()
	frag := []byte(`[{"tool_call_id":"0","tool_name":"add","parameters":{"a":1`)
	calls := SalvageActionFragment(frag, zaptest.NewLogger(t))
	require.Len(t, calls, 1)
	require.Equal(t, "add", calls[0].ToolName)
}

func TestSalvageActionFragment_TruncatedBeforeAnyObjectCloses(t *testing.T) {
	t.Parallel()
	frag := []byte(`[{"tool_call_id":"0","tool_name":"ad`)
	calls := SalvageActionFragment(frag, nil)
	// jsonparser can't resolve a dangling unterminated string value at
	// all; salvage degrades to zero calls rather than panicking.
	require.Empty(t, calls)
}

func TestUnclosedBrackets(t *testing.T) {
	t.Parallel()
	require.Equal(t, []byte("]"), unclosedBrackets([]byte(`[1,2`)))
	require.Equal(t, []byte("}]"), unclosedBrackets([]byte(`[{"a":1`)))
	require.Empty(t, unclosedBrackets([]byte(`[1,2]`)))
	require.Empty(t, unclosedBrackets([]byte(`["a[b]c"]`)))
}
