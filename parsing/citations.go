package parsing

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	legacyCitationOpen = "<co: "
	citationClose      = "</co: "
	citationTerminator = ">"
	cmd3CitationOpen   = "<co" // deliberately unanchored, see ParseCitations doc
)

// ParseCitations extracts citations from grounded/reasoning text, emitting
// plain text plus Citation records with character offsets. It recurses on
// the text following a resolved citation to pick up any further citations
// in the same pass; the recursion depth is bounded by the number of
// citations in one chunk, which is always small.
//
// The CMD3 opener "<co" is deliberately unanchored — it is not required to
// be followed by a space or colon, so stray angle brackets like
// "<completion_A>" are not rejected here. They are instead filtered out by
// the subsequent closer search ("</co: ") simply never matching, which
// falls through to the plain-text or wait-for-more paths below.
func (f *filter) ParseCitations(str string, mode filterMode) (*FilterOutput, int) {
	openLiteral := legacyCitationOpen
	if f.cmd3Citations {
		openLiteral = cmd3CitationOpen
	}
	openStart, openEnd, _ := f.findCitationElement(str, openLiteral, citationTerminator)

	if openStart < 0 {
		// No opener anywhere: the whole fragment is plain text.
		f.curTextIndex += utf8.RuneCountInString(str)
		f.curTextByteIndex += len(str)
		return &FilterOutput{Text: str}, len(str)
	}

	if openEnd < 0 {
		// Only a partial opener at the tail; wait for more.
		return nil, 0
	}

	closeStart, closeEnd, sources := f.findCitationElement(str, citationClose, citationTerminator)

	if closeStart < 0 || closeEnd < 0 {
		if !f.streamNonGroundedAnswer && closeEnd == -1 {
			if txt, remove := f.partialOrMalformedCitationText(openStart, openEnd, closeStart, str); txt != "" {
				return &FilterOutput{Text: txt}, remove
			}
		}
		return nil, 0
	}

	if openEnd > closeStart {
		f.logger.Warn("overlapping citation markers",
			zap.String("text", str),
			zap.Int("open_start", openStart),
			zap.Int("close_start", closeStart))
		return nil, 0
	}

	startIndex := f.curTextIndex + openStart
	citationEnd := closeEnd + 1
	innerText := str[openEnd+1 : closeStart]
	text := str[:openStart] + innerText
	f.curTextIndex += utf8.RuneCountInString(text)
	f.curTextByteIndex += len(text)

	if f.curCitationByteIndex != -1 {
		// Some of the citation's inner text was already streamed via the
		// partial-citation path; only send what's left.
		if f.curCitationByteIndex < closeStart {
			text = str[f.curCitationByteIndex:closeStart]
		} else {
			text = ""
		}
	}
	f.curCitationByteIndex = -1

	citations := []FilterCitation{{
		StartIndex: startIndex,
		EndIndex:   startIndex + utf8.RuneCountInString(innerText),
		Text:       innerText,
		Sources:    sources,
		IsThinking: mode == toolReason,
	}}

	more, moreRemove := f.ParseCitations(str[citationEnd:], mode)
	if more != nil {
		citations = append(citations, more.Citations...)
		text += more.Text
	}

	return &FilterOutput{Text: text, Citations: citations}, citationEnd + moreRemove
}

// partialOrMalformedCitationText handles the case where an opener was found
// but its closer is not resolved yet. For the legacy grammar (and a
// well-formed-looking CMD3 opener) this streams the citation's inner text
// as it arrives; for a CMD3 opener that clearly isn't one (e.g. the closer
// search failed because there never was a real "<co" here) it instead sends
// everything up to the would-be closer as plain text, since cmd3+ models
// are not trusted to avoid hallucinating a malformed citation tag.
func (f *filter) partialOrMalformedCitationText(openStart, openEnd, closeStart int, str string) (string, int) {
	if !f.cmd3Citations || len(cmd3CitationOpen)+openStart == openEnd {
		return f.partialCitationText(openStart, openEnd, closeStart, str)
	}
	txt := str
	if closeStart > 0 {
		txt = str[:closeStart]
	}
	f.curTextIndex += utf8.RuneCountInString(txt)
	f.curTextByteIndex += len(txt)
	return txt, len(txt)
}

// partialCitationText streams the text inside an opened-but-not-yet-closed
// citation incrementally: "before<co: 1>some text so " then later
// "far</co: 1>" is completed. curCitationByteIndex marks how much of the
// inner text has already been sent.
func (f *filter) partialCitationText(openStart, openEnd, closeStart int, str string) (string, int) {
	before := str[:openStart]
	f.curTextIndex += utf8.RuneCountInString(before)
	f.curTextByteIndex += len(before)

	start := f.curCitationByteIndex
	if start == -1 {
		start = openEnd + 1
	}
	f.curCitationByteIndex = len(str) - len(before)

	end := len(str)
	if closeStart > 0 {
		end = closeStart
	}
	if start >= end {
		return before, len(before)
	}
	return before + str[start:end], len(before)
}

// findCitationElement locates one "<tag ...>" style element: start is -1 if
// absent, end is -1 (with start >= 0) if only a partial opener is present,
// and otherwise both are set and sources holds whatever was parsed from the
// element's body per the active citation grammar.
func (f *filter) findCitationElement(str, open, terminator string) (start, end int, sources []Source) {
	openIdx, full := findPartial(str, []string{open})
	if openIdx < 0 {
		return -1, -1, nil
	}
	if full == "" {
		return openIdx, -1, nil
	}
	closeIdx := strings.Index(str[openIdx+1:], terminator)
	if closeIdx < 0 {
		return openIdx, -1, nil
	}
	body := str[openIdx+len(open) : openIdx+1+closeIdx]
	if f.cmd3Citations {
		sources = parseCmd3Sources(body, f.logger)
	} else if indices := parseIntList(body); len(indices) != 0 {
		sources = []Source{{ToolCallIndex: 0, ToolResultIndices: indices}}
	}
	return openIdx, openIdx + 1 + closeIdx, sources
}

// parseIntList parses a comma-separated list of non-negative integers,
// dropping anything that doesn't parse.
func parseIntList(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && n >= 0 {
			out = append(out, n)
		}
	}
	return out
}

// parseCmd3Sources parses the CMD3 "]"-separated list of
// "tool_index:[r1,r2,...]" groups. A malformed group is skipped with a
// warning rather than aborting the whole citation.
func parseCmd3Sources(s string, logger *zap.Logger) []Source {
	groups := strings.Split(strings.TrimSpace(s), "]")
	var sources []Source
	for _, group := range groups[:len(groups)-1] {
		parts := strings.SplitN(strings.TrimLeft(group, ","), ":", 2)
		if len(parts) != 2 {
			logger.Warn("malformed citation source group", zap.String("group", group))
			continue
		}
		toolIndex, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || toolIndex < 0 {
			logger.Warn("malformed citation tool index", zap.String("group", group), zap.Error(err))
			continue
		}
		var resultIndices []int
		for _, r := range strings.Split(strings.TrimLeft(parts[1], "["), ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(r))
			if err != nil || idx < 0 {
				logger.Warn("malformed citation result index", zap.String("group", group), zap.Error(err))
				continue
			}
			resultIndices = append(resultIndices, idx)
		}
		sources = append(sources, Source{ToolCallIndex: toolIndex, ToolResultIndices: resultIndices})
	}
	return sources
}
