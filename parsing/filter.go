package parsing

import (
	"bytes"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/exp/maps"

	"go.uber.org/zap"

	"github.com/cohere-ai/melody-sub000/parsing/diagnostics"
)

// Filter is the streaming parser's public interface. A Filter instance is
// single-threaded and not safe for concurrent use; independent instances
// share no state.
type Filter interface {
	// Write decodes one raw token (via the configured Decoder) and filters
	// the result. It is the only operation that can return an error, and
	// only for a Decoder failure or the optional repetition-limit guard.
	Write(token int64, logprob *float32) ([]FilterOutput, error)
	// WriteDecoded filters already-decoded text with no associated logprobs.
	WriteDecoded(text string) []FilterOutput
	// FlushPartials forces a final pass over any buffered bytes and marks
	// the filter done; every subsequent call becomes a no-op.
	FlushPartials() []FilterOutput
	// GetRawTokens returns every raw token ID written so far via Write.
	GetRawTokens() []int64
}

// NewFilter constructs a Filter from a configuration profile. logger may be
// nil (resolves to a no-op logger); tokenizer may be nil if the caller only
// ever uses WriteDecoded.
func NewFilter(logger *zap.Logger, tokenizer Decoder, opts ...FilterOption) (Filter, error) {
	return newFilter(logger, tokenizer, opts...)
}

func newFilter(logger *zap.Logger, tokenizer Decoder, opts ...FilterOption) (*filter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	markerMap, err := o.build()
	if err != nil {
		return nil, err
	}
	f := &filter{
		logger:                      logger,
		tokenizer:                   tokenizer,
		markerMap:                   markerMap,
		markerKeys:                  maps.Keys(markerMap),
		defaultMode:                 o.defaultMode,
		chunkSize:                   max(o.chunkSize, 1),
		leftTrimmed:                 o.leftTrimmed,
		rightTrimmed:                o.rightTrimmed,
		trimPrefix:                  o.trimPrefix,
		maxRepetitionLimit:          o.maxRepetitionLimit,
		maxRepetitionSequenceLength: o.maxRepetitionSequenceLength,
		streamNonGroundedAnswer:     o.streamNonGroundedAnswer,
		streamToolActions:           o.streamToolActions,
		streamProcessedParams:       o.streamProcessedParams,
		hasToolCallID:               o.hasToolCallID,
		cmd3Citations:               o.cmd3Citations,
		llamaToolParsing:            o.llamaToolParsing,
		syntheticToolCallIDs:        o.syntheticToolCallIDs,
		curCitationByteIndex:        -1,
	}
	f.mode = f.defaultMode
	return f, nil
}

type filter struct {
	logger *zap.Logger

	tokenizer  Decoder
	tokenBuf   []int64
	logProbBuf []float32
	rawTokens  []int64

	leftTrimmed  bool
	rightTrimmed bool
	trimPrefix   string

	maxRepetitionLimit          int
	maxRepetitionSequenceLength int

	defaultMode filterMode
	markerMap   map[string]filterMode
	markerKeys  []string

	streamNonGroundedAnswer bool
	streamToolActions       bool
	streamProcessedParams   bool
	hasToolCallID           bool
	cmd3Citations           bool
	llamaToolParsing        bool
	syntheticToolCallIDs    bool

	// rawParamIndentLengthRemoved tracks how much indentation has been
	// stripped from the current line of a raw tool-call parameter
	// generation, which always arrives indented two levels deeper than the
	// end user should see.
	rawParamIndentLengthRemoved   int
	sawNonWhitespaceInCurrentLine bool

	// curTextIndex/curTextByteIndex track position in the text without
	// citation tags, e.g. in "<co: 1>hello</co: 1> world" once "hello w"
	// has been sent the index is 7. curCitationByteIndex additionally
	// tracks position inside the tags of a citation currently being
	// streamed, reset to -1 once that citation completes.
	curTextIndex         int
	curTextByteIndex     int
	curCitationByteIndex int
	action               filterAction

	searchQueryIndex       int
	sentCurrentSearchQuery bool

	chunkSize        int
	numTokensInChunk int
	chunkLogProbs    TokenIDsWithLogProb

	buf                   bytes.Buffer
	partialMarkerLogProbs TokenIDsWithLogProb
	mode                  filterMode
	done                  bool
}

// GetRawTokens returns the raw tokens written to the filter so far.
func (f *filter) GetRawTokens() []int64 {
	return f.rawTokens
}

func (f *filter) decodeToken(token int64, tokenLogProb *float32) (string, error) {
	f.tokenBuf = append(f.tokenBuf, token)
	text, err := f.tokenizer.Decode(f.tokenBuf, false)
	if err != nil {
		return "", err
	}
	if text == "" {
		f.logger.Warn("empty text from tokenizer", zap.Int64("token", token), zap.Int64s("tokens", f.tokenBuf))
	}
	if tokenLogProb == nil {
		return text, nil
	}
	f.logProbBuf = append(f.logProbBuf, *tokenLogProb)
	return text, nil
}

func (f *filter) getFullTextWithLogProbs(token int64, tokenLogProb *float32) (fullTextWithLogProbs, error) {
	f.rawTokens = append(f.rawTokens, token)
	if f.maxRepetitionLimit > 0 && f.maxRepetitionSequenceLength > 0 &&
		hasHitTokenRepetitionLimit(f.rawTokens, f.maxRepetitionLimit, f.maxRepetitionSequenceLength) {
		f.logger.Error("too many repeated tokens in strict generation mode",
			zap.Int("max_repetition_limit", f.maxRepetitionLimit),
			zap.Int("max_repetition_sequence_length", f.maxRepetitionSequenceLength),
			zap.Int("raw_tokens_length", len(f.rawTokens)))
		return fullTextWithLogProbs{}, errors.New("parsing: too many repeated tokens")
	}
	text, err := f.decodeToken(token, tokenLogProb)
	if err != nil {
		return fullTextWithLogProbs{}, err
	}
	// A decoded multi-byte character still in progress ends in the
	// replacement rune; wait for the byte that completes it.
	if strings.HasSuffix(text, "�") {
		return fullTextWithLogProbs{}, nil
	}

	tokenBufCopy := append([]int64(nil), f.tokenBuf...)
	f.tokenBuf = nil
	var logProbsCopy []float32
	if len(f.logProbBuf) != 0 {
		logProbsCopy = append([]float32(nil), f.logProbBuf...)
		f.logProbBuf = nil
	}
	return fullTextWithLogProbs{
		Text:     []byte(text),
		Logprobs: TokenIDsWithLogProb{TokenIDs: tokenBufCopy, Logprobs: logProbsCopy},
	}, nil
}

func (f *filter) Write(token int64, tokenLogProb *float32) ([]FilterOutput, error) {
	t, err := f.getFullTextWithLogProbs(token, tokenLogProb)
	if err != nil {
		return nil, err
	}
	return f.writeText(t.Text, t.Logprobs), nil
}

func (f *filter) WriteDecoded(text string) []FilterOutput {
	return f.writeText([]byte(text), TokenIDsWithLogProb{})
}

// writeText is the mode state machine's main loop, matching §4.1
// write_decoded exactly: buffer the text, look for a marker (full, partial,
// or none), and either wait, transition mode, or dispatch to the current
// mode's sub-parser.
func (f *filter) writeText(text []byte, logprobs TokenIDsWithLogProb) (out []FilterOutput) {
	if f.done {
		return nil
	}
	f.buf.Write(text)
	str := f.buf.String()

	markerIdx, marker := findPartial(str, f.markerKeys)
	if markerIdx != -1 && marker == "" {
		// Only a partial marker at the tail: wait for more bytes.
		f.partialMarkerLogProbs = logprobs
		return nil
	}

	if markerIdx != -1 && marker != "" {
		newMode, transitionOut, stop, applies := f.resolveTransition(str, markerIdx, marker)
		out = append(out, transitionOut...)
		if applies {
			if stop {
				f.buf.Reset()
				f.done = true
				return out
			}
			prefix := str[:markerIdx]
			if prefix != "" {
				// Flush whatever was buffered under the old mode before
				// the marker (may include a resolved partial-marker
				// false start).
				o, _ := f.handleToken(f.mode, []byte(prefix), false, f.partialMarkerLogProbs)
				out = append(out, o...)
			}
			f.buf.Next(len(prefix) + len(marker))
			f.mode = newMode
		}
	}

	if f.buf.Len() > 0 {
		f.numTokensInChunk++
		f.chunkLogProbs.append(logprobs)
		if f.chunkSize > 1 && f.numTokensInChunk < f.chunkSize {
			return out
		}
		o, consumed := f.handleToken(f.mode, f.buf.Bytes(), false, f.chunkLogProbs)
		out = append(out, o...)
		f.buf.Next(consumed)
		f.numTokensInChunk = 0
		f.chunkLogProbs = TokenIDsWithLogProb{}
	}
	return out
}

// FlushPartials forces a final pass over any buffered bytes. Subsequent
// calls to writeText/FlushPartials are no-ops.
func (f *filter) FlushPartials() []FilterOutput {
	f.done = true
	if f.buf.Len() == 0 || f.mode.isStop() {
		return nil
	}
	leftover := append([]byte(nil), f.buf.Bytes()...)
	o, consumed := f.handleToken(f.mode, f.buf.Bytes(), true, f.partialMarkerLogProbs)
	f.buf.Next(consumed)
	if f.mode == toolAction && f.buf.Len() > 0 {
		f.logDroppedActionFragment(leftover[consumed:])
	}
	return o
}

// logDroppedActionFragment best-effort salvages whatever jsonparser can
// make out of a tool-action buffer the stream ended before completing,
// purely to enrich the warning log; it never changes what was emitted.
func (f *filter) logDroppedActionFragment(fragment []byte) {
	calls := diagnostics.SalvageActionFragment(fragment, f.logger)
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.ToolName + "/" + c.ToolCallID
	}
	f.logger.Warn("stream ended with an incomplete tool action",
		zap.Int("fragment_len", len(fragment)),
		zap.Strings("salvaged_calls", names))
}

// handleToken dispatches the buffered bytes (everything not yet claimed by
// a marker) to the sub-parser for mode, returning its events and how many
// bytes it consumed.
func (f *filter) handleToken(mode filterMode, bstr []byte, afterLastToken bool, logprobs TokenIDsWithLogProb) ([]FilterOutput, int) {
	switch mode {
	case inclusiveStop, exclusiveStop:
		f.logger.Error("dispatch invoked while already in a stop mode")
		return nil, 0
	case ignore, nextSearchQuery:
		return nil, 0
	case toolAction:
		return f.ParseActions(string(bstr))
	case groundedAnswer, toolReason:
		return f.processGroundedText(bstr, afterLastToken, mode, &logprobs)
	case searchQuery:
		return f.processSearchQuery(bstr)
	case answer:
		if f.streamNonGroundedAnswer {
			return f.processText(bstr, nil)
		}
		return nil, len(bstr)
	case plainText:
		return f.processText(bstr, &logprobs)
	}
	return nil, 0
}

// resolveTransition applies a fully-matched marker's mode-transition
// effects (§4.1's transition-effects table) and reports the events that
// transition itself produces (stop-mode text, mostly), the new mode, and
// whether the transition actually applies.
//
// NextSearchQuery only ever exists to flip searchQueryIndex; rather than
// materializing it as a reachable mode (open question (c)), the flip
// happens right here and the resolved mode is searchQuery.
func (f *filter) resolveTransition(str string, idx int, marker string) (newMode filterMode, out []FilterOutput, stop bool, applies bool) {
	target := f.markerMap[marker]

	// Anti-flip: ignore a redundant "Answer:" while already inside an
	// answer so a hallucinated second header doesn't re-enter answer mode.
	if (f.mode == groundedAnswer || f.mode == answer) && target == answer {
		return f.mode, nil, false, false
	}

	switch target {
	case inclusiveStop:
		return inclusiveStop, f.handleInclusiveStop(str, idx, marker), true, true
	case exclusiveStop:
		return exclusiveStop, f.handleExclusiveStop(str, idx), true, true
	case groundedAnswer:
		f.curTextIndex = 0
		if f.streamNonGroundedAnswer {
			f.leftTrimmed = true
		}
	case toolReason:
		f.leftTrimmed = true
		f.rightTrimmed = true
	case answer, searchQuery:
		f.leftTrimmed = true
	case nextSearchQuery:
		f.leftTrimmed = true
		if f.sentCurrentSearchQuery {
			f.searchQueryIndex++
			f.sentCurrentSearchQuery = false
		}
		return searchQuery, nil, false, true
	}
	return target, nil, false, true
}

func (f *filter) handleInclusiveStop(str string, idx int, marker string) []FilterOutput {
	end := idx + len(marker)
	if end == 0 {
		return nil
	}
	if f.curCitationByteIndex != -1 {
		return []FilterOutput{{Text: str[f.curCitationByteIndex:end]}}
	}
	return []FilterOutput{{Text: str[:end]}}
}

func (f *filter) handleExclusiveStop(str string, idx int) []FilterOutput {
	if idx == 0 {
		return nil
	}
	var text string
	if f.curCitationByteIndex != -1 {
		text, _ = f.trimSpace(str[f.curCitationByteIndex:idx])
	} else {
		text, _ = f.trimSpace(str[:idx])
	}
	if text == "" {
		return nil
	}
	return []FilterOutput{{Text: text}}
}

func (f *filter) utf8ValidOrLimit(bstr []byte) bool {
	const maxUTF8ScalarLen = 4
	valid := utf8.Valid(bstr)
	if !valid && len(bstr) >= maxUTF8ScalarLen {
		f.logger.Warn("emitting invalid utf8", zap.Binary("text", bstr))
	}
	return valid || len(bstr) >= maxUTF8ScalarLen
}

func (f *filter) processSearchQuery(bstr []byte) ([]FilterOutput, int) {
	if !f.utf8ValidOrLimit(bstr) {
		return nil, 0
	}
	send, remRight := f.trimSpace(string(bstr))
	var out []FilterOutput
	if send != "" {
		out = []FilterOutput{{SearchQuery: &FilterSearchQueryDelta{
			Index: f.searchQueryIndex,
			Text:  send,
		}}}
		f.sentCurrentSearchQuery = true
	}
	return out, len(bstr) - remRight
}

// processGroundedText runs the citation extractor over GroundedAnswer and
// ToolReason text, suppressing reasoning-only events when tool-action
// streaming is disabled.
func (f *filter) processGroundedText(bstr []byte, afterLastToken bool, mode filterMode, logprobs *TokenIDsWithLogProb) ([]FilterOutput, int) {
	if !f.utf8ValidOrLimit(bstr) {
		return nil, 0
	}
	send, remRight := f.trimSpace(string(bstr))
	remove := len(bstr) - len(send) - remRight

	res, removeCit := f.ParseCitations(send, mode)
	if res == nil || (res.Text == "" && res.Citations == nil) {
		if send == "" || !afterLastToken {
			return nil, remove + removeCit
		}
		// Nothing but the end of the stream will ever complete a pending
		// citation now; send what we have as plain text.
		res = &FilterOutput{Text: send}
	}
	res.IsPostAnswer = f.streamNonGroundedAnswer && mode != toolReason
	res.IsToolsReason = mode == toolReason

	if logprobs != nil && (res.Citations == nil || res.Text != "") {
		res.Logprobs = *logprobs
	}

	if !res.IsToolsReason || f.streamToolActions {
		return []FilterOutput{*res}, remove + removeCit
	}
	return nil, remove + removeCit
}

func (f *filter) processText(bstr []byte, logprobs *TokenIDsWithLogProb) ([]FilterOutput, int) {
	if !f.utf8ValidOrLimit(bstr) {
		return nil, 0
	}
	send, remRight := f.trimSpace(string(bstr))
	var out []FilterOutput
	if send != "" {
		o := FilterOutput{Text: send}
		if logprobs != nil {
			o.Logprobs = *logprobs
		}
		out = []FilterOutput{o}
	}
	return out, len(bstr) - remRight
}

// trimSpace applies the right-then-left-then-prefix trim contract of §4.1:
// right trim first (if enabled), then left trim (if enabled, auto-clearing
// as soon as any non-whitespace byte is emitted), then a one-shot prefix
// trim (if a prefix is still pending). It returns the kept text and how
// many trailing bytes were dropped, so the caller can still remove
// right-trimmed whitespace from the buffer instead of leaving it to
// reappear on the next call.
func (f *filter) trimSpace(s string) (kept string, trailingBytesDropped int) {
	if f.rightTrimmed {
		before := len(s)
		s = strings.TrimRightFunc(s, unicode.IsSpace)
		trailingBytesDropped = before - len(s)
	}
	if f.leftTrimmed {
		trimmed := strings.TrimLeftFunc(s, unicode.IsSpace)
		if trimmed != "" {
			f.leftTrimmed = false
		}
		s = trimmed
	}
	return f.trimPendingPrefix(s, trailingBytesDropped)
}

// trimPendingPrefix consumes f.trimPrefix from the start of s, a byte at a
// time across calls if necessary: a full match clears the pending prefix
// and keeps whatever follows it, a partial match at the tail holds s back
// entirely (reported as trailing bytes dropped) until more text arrives,
// and a mismatch gives up on the prefix for good.
func (f *filter) trimPendingPrefix(s string, trailingBytesDropped int) (string, int) {
	if f.trimPrefix == "" {
		return s, trailingBytesDropped
	}
	prefix := f.trimPrefix
	if len(s) < len(prefix) {
		prefix = prefix[:len(s)]
	}
	if !strings.HasPrefix(s, prefix) {
		f.trimPrefix = ""
		return s, trailingBytesDropped
	}
	if len(prefix) == len(f.trimPrefix) {
		f.trimPrefix = ""
		return s[len(prefix):], trailingBytesDropped
	}
	return "", len(s) + trailingBytesDropped
}

// findPartial is the cross-chunk-safety primitive (§4.5): if any marker
// occurs fully inside s, return its start and literal. Otherwise, if some
// marker's non-empty prefix equals a suffix of s, return the smallest such
// suffix's start and an empty literal (a partial match, wait for more).
// Otherwise return (-1, "").
func findPartial(s string, markers []string) (int, string) {
	minPartialIdx := -1
	for _, marker := range markers {
		if idx := strings.Index(s, marker); idx >= 0 {
			return idx, marker
		}
		for i := 0; i < len(s); i++ {
			suffixLen := len(marker)
			if suffixLen > len(s)-i {
				suffixLen = len(s) - i
			}
			if strings.HasSuffix(s, marker[:suffixLen]) {
				idx := len(s) - suffixLen
				if minPartialIdx < 0 || idx < minPartialIdx {
					minPartialIdx = idx
				}
				break
			}
		}
	}
	return minPartialIdx, ""
}

// hashTokensForRepetitionCheck is a DJB2 hash: fast, allocation-free, not
// cryptographically secure, which is fine for a heuristic repetition guard.
func hashTokensForRepetitionCheck(seq []int64) uint64 {
	var hash uint64 = 5381
	for _, v := range seq {
		hash = hash*33 + uint64(v)
	}
	return hash
}

// hasHitTokenRepetitionLimit reports whether the last repetitionLimit
// tokens — or any repeated sequence of length up to maxSequenceLength — are
// all identical. E.g. with repetitionLimit=3, maxSequenceLength=2:
// [1,2,3,4,4,4] -> true (length-1 repeat); [1,2,1,2,1,2] -> true only if
// maxSequenceLength >= 2.
func hasHitTokenRepetitionLimit(seenTokens []int64, repetitionLimit, maxSequenceLength int) bool {
	if len(seenTokens) <= repetitionLimit {
		return false
	}
	if maxPossible := len(seenTokens) / repetitionLimit; maxSequenceLength > maxPossible {
		maxSequenceLength = maxPossible
	}
	for seqLen := 1; seqLen <= maxSequenceLength; seqLen++ {
		start := len(seenTokens) - repetitionLimit*seqLen
		tokens := seenTokens[start:]
		var firstHash uint64
		mismatch := false
		for i := 0; i < repetitionLimit; i++ {
			offset := i * seqLen
			h := hashTokensForRepetitionCheck(tokens[offset : offset+seqLen])
			if i == 0 {
				firstHash = h
			} else if h != firstHash {
				mismatch = true
				break
			}
		}
		if !mismatch {
			return true
		}
	}
	return false
}
