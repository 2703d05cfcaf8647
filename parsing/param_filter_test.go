package parsing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindValidJSONValue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		buffer string
		str    string
		want   int
	}{
		{name: "incomplete string", buffer: `"hello`, str: ` world`, want: -1},
		{name: "string completes mid-chunk", buffer: `"hello`, str: ` world"`, want: 7},
		{name: "brace inside string not a terminator", buffer: `{"a":"}"`, str: `}`, want: 1},
		{name: "nested object completes", buffer: `{"a":{"b":1}`, str: `}`, want: 1},
		{name: "array completes", buffer: `[1,2`, str: `,3]`, want: 3},
		{name: "still open", buffer: `{"a":1`, str: `,"b":2`, want: -1},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, findValidJSONValue(tc.buffer, tc.str))
		})
	}
}

func TestHandleParamValue_BeginningClassifiesByFirstByte(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t, HandleMultiHopCmd3(), StreamToolActions())
	f.action.curParamState = paramBeginning
	out, n, again := f.HandleParamValue("123, next")
	require.True(t, again)
	require.Equal(t, paramBasic, f.action.curParamState)
	require.Equal(t, 0, n)
	require.Empty(t, out)
}

func TestHandleParamValue_BasicTypeEndsOnComma(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t, HandleMultiHopCmd3(), StreamToolActions())
	f.action.curParamState = paramBasic
	out, n, again := f.HandleParamValue("123, next")
	require.True(t, again)
	require.Equal(t, paramEnd, f.action.curParamState)
	require.Equal(t, len("123"), n)
	require.Len(t, out, 1)
	require.Equal(t, "123", out[0].ToolCalls.ParamDelta.ValueDelta)
}

func TestHandleParamValue_StringValueStopsAtClosingQuote(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t, HandleMultiHopCmd3(), StreamToolActions())
	f.action.curParamState = paramComplex
	out, n, again := f.HandleParamValue(`"hello"}`)
	require.True(t, again)
	require.Equal(t, paramEnd, f.action.curParamState)
	require.Equal(t, len(`"hello"`), n)
	require.Len(t, out, 1)
	require.Equal(t, `"hello"`, out[0].ToolCalls.ParamDelta.ValueDelta)
}

func TestHandleParamValue_EmptyValueWithLeadingWhitespace(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t, HandleMultiHopCmd3(), StreamToolActions())
	f.action.curParamState = paramEnd
	f.action.trimLeft = true
	out, n, again := f.HandleParamValue("   ,")
	require.True(t, again)
	require.Equal(t, 4, n)
	require.Empty(t, out)
}
