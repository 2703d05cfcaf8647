// Package parsing implements the streaming marker/citation/tool-call filter
// that turns a raw model token stream into a typed FilterOutput event stream.
package parsing

// Decoder is the tokenizer boundary: it turns a sequence of token IDs into
// decoded UTF-8 text. The filter treats it as an opaque collaborator.
type Decoder interface {
	Decode(tokens []int64, skipSpecialTokens bool) (string, error)
}

// TokenIDsWithLogProb pairs a run of token IDs with their log probabilities.
// len(Logprobs) is either 0 or len(TokenIDs).
type TokenIDsWithLogProb struct {
	TokenIDs []int64
	Logprobs []float32
}

func (t *TokenIDsWithLogProb) append(other TokenIDsWithLogProb) {
	t.TokenIDs = append(t.TokenIDs, other.TokenIDs...)
	t.Logprobs = append(t.Logprobs, other.Logprobs...)
}

type fullTextWithLogProbs struct {
	Text     []byte
	Logprobs TokenIDsWithLogProb
}

// FilterOutput is the sole output type: a typed event describing some slice
// of the input stream.
type FilterOutput struct {
	Text      string
	Logprobs  TokenIDsWithLogProb
	Citations []FilterCitation

	SearchQuery *FilterSearchQueryDelta
	ToolCalls   *FilterToolCallDelta

	IsPostAnswer  bool
	IsToolsReason bool // also marks "thinking" text
}

// FilterSearchQueryDelta is an incremental update to a numbered search query.
type FilterSearchQueryDelta struct {
	Index int
	Text  string
}

// FilterToolCallDelta is an incremental update to one tool call in the
// action array. Exactly one of ID, Name, ParamDelta, RawParamDelta is
// populated on any given delta.
type FilterToolCallDelta struct {
	Index         int
	ID            string
	Name          string
	ParamDelta    *FilterToolParameter
	RawParamDelta string
}

// FilterToolParameter is an incremental update to a single named parameter
// value of a tool call.
type FilterToolParameter struct {
	Name       string
	ValueDelta string
}

// FilterCitation attributes a substring of the already-emitted assistant
// text to one or more tool results.
type FilterCitation struct {
	// StartIndex is the character offset of the citation in the assistant
	// text emitted since the most recent entry into grounded-answer mode.
	StartIndex int
	// EndIndex is exclusive, in the same character units as StartIndex.
	EndIndex int
	Text     string
	Sources  []Source

	IsThinking bool
}

// Source points at one prior tool execution's result list: ToolCallIndex
// names the call, ToolResultIndices names which of its results are cited.
type Source struct {
	ToolCallIndex     int
	ToolResultIndices []int
}

// filterMode is the mode state machine's active state. It is a tiny value
// type rather than a bare int so a mode cannot be mixed up with an ordinary
// integer; its zero value is plainText.
type filterMode struct{ e uint }

var (
	plainText       = filterMode{0}
	ignore          = filterMode{1}
	toolAction      = filterMode{2}
	toolReason      = filterMode{3}
	answer          = filterMode{4}
	groundedAnswer  = filterMode{5}
	inclusiveStop   = filterMode{6}
	exclusiveStop   = filterMode{7}
	searchQuery     = filterMode{8}
	nextSearchQuery = filterMode{9}
)

func (m filterMode) isStop() bool {
	return m == inclusiveStop || m == exclusiveStop
}

var filterModeNames = map[filterMode]string{
	plainText:       "plain_text",
	ignore:          "ignore",
	toolAction:      "tool_action",
	toolReason:      "tool_reason",
	answer:          "answer",
	groundedAnswer:  "grounded_answer",
	inclusiveStop:   "inclusive_stop",
	exclusiveStop:   "exclusive_stop",
	searchQuery:     "search_query",
	nextSearchQuery: "next_search_query",
}

func (m filterMode) String() string {
	if s, ok := filterModeNames[m]; ok {
		return s
	}
	return "unknown"
}
