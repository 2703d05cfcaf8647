package parsing

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestInnerFilter(t *testing.T, opts ...FilterOption) *filter {
	t.Helper()
	f, err := newFilter(zaptest.NewLogger(t), nil, opts...)
	require.NoError(t, err)
	return f
}

func TestParseCitations_LegacyWholeCitation(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t)
	out, n := f.ParseCitations("hello <co: 2,1>foo</co: 2,1>", groundedAnswer)
	require.NotNil(t, out)
	require.Equal(t, "hello foo", out.Text)
	require.Equal(t, []FilterCitation{{
		StartIndex: 6, EndIndex: 9, Text: "foo",
		Sources: []Source{{ToolCallIndex: 0, ToolResultIndices: []int{2, 1}}},
	}}, out.Citations)
	require.Equal(t, len("hello <co: 2,1>foo</co: 2,1>"), n)
}

func TestParseCitations_Cmd3MultipleSources(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t, HandleMultiHopCmd3())
	out, _ := f.ParseCitations("foo <co>bar</co: 0:[1,2],1:[3,4]>", groundedAnswer)
	require.NotNil(t, out)
	require.Equal(t, "foo bar", out.Text)
	require.Equal(t, []Source{
		{ToolCallIndex: 0, ToolResultIndices: []int{1, 2}},
		{ToolCallIndex: 1, ToolResultIndices: []int{3, 4}},
	}, out.Citations[0].Sources)
}

func TestParseCitations_NoOpenerIsPlainText(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t)
	out, n := f.ParseCitations("just plain text", groundedAnswer)
	require.Equal(t, "just plain text", out.Text)
	require.Nil(t, out.Citations)
	require.Equal(t, len("just plain text"), n)
}

func TestParseCitations_PartialOpenerWaits(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t)
	out, n := f.ParseCitations("hello <co: 1", groundedAnswer)
	require.Nil(t, out)
	require.Equal(t, 0, n)
}

func TestParseCitations_StreamsPartialInnerText(t *testing.T) {
	t.Parallel()
	// Partial citation streaming only fires when streamNonGroundedAnswer
	// is unset, matching the teacher's getPartialOrMalformedCitationText
	// gate.
	f := newTestInnerFilter(t)
	out, _ := f.ParseCitations("hello <co: 1>partial so fa", groundedAnswer)
	require.NotNil(t, out)
	require.Contains(t, out.Text, "hello")
	require.Contains(t, out.Text, "partial so fa")
}

func TestParseCitations_OverlappingMarkersWarnsAndWaits(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t)
	// The opener's own ">" search runs past the first closer entirely
	// (the opener is never properly terminated), so the resolved open end
	// lands after the resolved close start: exactly the overlap case from
	// the open question on overlapping citations.
	out, n := f.ParseCitations("<co: 1 </co: 1>x>", groundedAnswer)
	require.Nil(t, out)
	require.Equal(t, 0, n)
}

func TestParseCitations_ToolReasonMarksThinking(t *testing.T) {
	t.Parallel()
	f := newTestInnerFilter(t)
	out, _ := f.ParseCitations("hi <co: 1>there</co: 1>", toolReason)
	require.True(t, out.Citations[0].IsThinking)
}
