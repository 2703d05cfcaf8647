package parsing

import "fmt"

// FilterOption configures a Filter at construction time. Options are
// consumed once by NewFilter/NewStreamFilter; there is no runtime mutation
// of the resulting configuration afterwards.
type FilterOption func(*options)

type options struct {
	markerMap   map[string]filterMode
	defaultMode filterMode
	chunkSize   int

	leftTrimmed  bool
	rightTrimmed bool
	trimPrefix   string

	maxRepetitionLimit          int
	maxRepetitionSequenceLength int

	streamNonGroundedAnswer bool
	streamToolActions       bool
	streamProcessedParams   bool
	hasToolCallID           bool
	cmd3Citations           bool
	llamaToolParsing        bool
	syntheticToolCallIDs    bool

	inclusiveStops []string
	exclusiveStops []string
	removedTokens  []string
}

func newOptions() *options {
	return &options{
		markerMap:   make(map[string]filterMode),
		defaultMode: plainText,
		chunkSize:   1,
	}
}

// build resolves the final marker map from the profile markers, the
// caller-supplied stop sequences and the removed tokens of the already
// applied options, rejecting configurations where a stop sequence collides
// with an existing marker under a different mode.
func (o *options) build() (map[string]filterMode, error) {
	resolved := make(map[string]filterMode, len(o.markerMap)+len(o.inclusiveStops)+len(o.exclusiveStops))
	for k, v := range o.markerMap {
		resolved[k] = v
	}
	if err := addStops(resolved, o.inclusiveStops, inclusiveStop); err != nil {
		return nil, err
	}
	if err := addStops(resolved, o.exclusiveStops, exclusiveStop); err != nil {
		return nil, err
	}
	for _, tok := range o.removedTokens {
		delete(resolved, tok)
	}
	return resolved, nil
}

func addStops(into map[string]filterMode, stops []string, mode filterMode) error {
	for _, stop := range stops {
		if existing, ok := into[stop]; ok && existing != mode {
			return fmt.Errorf("parsing: marker %q is already mapped to mode %s, cannot also map it to %s", stop, existing, mode)
		}
		into[stop] = mode
	}
	return nil
}

func (o *options) mergeMarkerMap(toMerge map[string]filterMode) {
	for k, v := range toMerge {
		if _, ok := o.markerMap[k]; ok {
			continue
		}
		o.markerMap[k] = v
	}
}

// WithChunkSize batches this many tokens together before the mode machine's
// sub-parser is invoked, instead of running it on every single token.
func WithChunkSize(size int) FilterOption {
	return func(o *options) { o.chunkSize = size }
}

// WithRepetitionLimit aborts a Write call once the last repetitionLimit
// tokens (for any sequence length up to maxSequenceLength) repeat. It only
// engages on the raw-token Write entry point; WriteDecoded is unaffected.
func WithRepetitionLimit(limit int, maxSequenceLength int) FilterOption {
	return func(o *options) {
		o.maxRepetitionLimit = limit
		o.maxRepetitionSequenceLength = maxSequenceLength
	}
}

// WithInclusiveStops adds stop sequences whose own text is included in the
// final emitted event.
func WithInclusiveStops(stops ...string) FilterOption {
	return func(o *options) { o.inclusiveStops = append(o.inclusiveStops, stops...) }
}

// WithExclusiveStops adds stop sequences whose own text is trimmed from the
// final emitted event.
func WithExclusiveStops(stops ...string) FilterOption {
	return func(o *options) { o.exclusiveStops = append(o.exclusiveStops, stops...) }
}

// WithLeftTrimmed trims leading whitespace from the start of the response.
func WithLeftTrimmed() FilterOption {
	return func(o *options) { o.leftTrimmed = true }
}

// WithRightTrimmed trims trailing whitespace from the end of the response.
func WithRightTrimmed() FilterOption {
	return func(o *options) { o.rightTrimmed = true }
}

// WithPrefixTrim trims a single given prefix from the very start of the
// response, e.g. stripping a model's echoed "Response: " header. Unlike
// WithLeftTrimmed this matches exact text, not whitespace, and only ever
// fires once.
func WithPrefixTrim(prefix string) FilterOption {
	return func(o *options) { o.trimPrefix = prefix }
}

// WithRemoveToken removes a marker a profile would otherwise install, e.g.
// stripping CMD3's "<|END_RESPONSE|>" terminator for a disabled-EOS caller.
func WithRemoveToken(token string) FilterOption {
	return func(o *options) { o.removedTokens = append(o.removedTokens, token) }
}

// WithSyntheticToolCallIDs mints a uuid the first time a tool call index is
// seen, for payload formats (llama) that never carry their own
// tool_call_id. No-op when the active payload already has one.
func WithSyntheticToolCallIDs() FilterOption {
	return func(o *options) { o.syntheticToolCallIDs = true }
}

// HandleRAG configures the plain-text RAG sentinel format.
func HandleRAG() FilterOption {
	return func(o *options) {
		o.defaultMode = ignore
		o.rightTrimmed = true
		o.mergeMarkerMap(ragTokenMap)
	}
}

// HandleSearchQuery configures the numbered search-query generation format.
func HandleSearchQuery() FilterOption {
	return func(o *options) {
		o.defaultMode = ignore
		o.rightTrimmed = true
		o.mergeMarkerMap(searchQueryTokenMap)
	}
}

// HandleMultiHop configures the plain-text plan/reflection/action format.
func HandleMultiHop() FilterOption {
	return func(o *options) {
		o.defaultMode = ignore
		o.rightTrimmed = true
		o.mergeMarkerMap(multiHopTokenMap)
	}
}

// HandleMultiHopCmd3 configures the CMD3 sentinel format.
func HandleMultiHopCmd3() FilterOption {
	return func(o *options) {
		// Default must be grounded since the response does not always
		// begin with <|START_RESPONSE|>.
		o.defaultMode = groundedAnswer
		o.rightTrimmed = true
		o.hasToolCallID = true
		o.cmd3Citations = true
		o.mergeMarkerMap(multiHopTokenMapCmd3)
	}
}

// HandleMultiHopCmd4 configures the CMD4 sentinel format.
func HandleMultiHopCmd4() FilterOption {
	return func(o *options) {
		o.defaultMode = groundedAnswer
		o.rightTrimmed = true
		o.hasToolCallID = true
		o.cmd3Citations = true
		o.mergeMarkerMap(multiHopTokenMapCmd4)
	}
}

// HandleLlama configures the llama tool-calling format.
func HandleLlama() FilterOption {
	return func(o *options) {
		o.defaultMode = groundedAnswer
		o.rightTrimmed = true
		o.mergeMarkerMap(llamaTokenMap)
		o.llamaToolParsing = true
	}
}

// StreamNonGroundedAnswer streams Answer-mode text as well as
// GroundedAnswer-mode text, marking the latter IsPostAnswer; Answer-mode
// events are not marked.
func StreamNonGroundedAnswer() FilterOption {
	return func(o *options) { o.streamNonGroundedAnswer = true }
}

// StreamToolActions enables emission of tool-call deltas from ToolAction
// mode (and reasoning text from ToolReason mode).
func StreamToolActions() FilterOption {
	return func(o *options) { o.streamToolActions = true }
}

// StreamProcessedParams streams tool parameters as structured name/value
// deltas instead of one raw JSON-text delta per tool call.
func StreamProcessedParams() FilterOption {
	return func(o *options) { o.streamProcessedParams = true }
}
