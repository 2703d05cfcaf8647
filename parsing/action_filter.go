package parsing

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// actionMode is the tool-action parser's sub-state, the "program counter"
// of the explicit loop in ParseActions.
type actionMode int

const (
	actionNotStarted actionMode = iota
	actionToolCallID
	actionToolCallIDEnd
	actionToolName
	actionToolNameEnd
	actionParamName
	actionParamNameEnd
	actionParamValue
	actionParamValueEnd
	actionRawParam
	actionToolEnd
)

// filterAction is the tool-action sub-machine's own state, nested inside
// the filter's larger mode state machine.
type filterAction struct {
	mode         actionMode
	curToolIndex int
	trimLeft     bool

	curParamName     string
	curParamState    paramState
	paramValueBuffer string

	// sentSyntheticID tracks which tool-call indices already got a minted
	// uuid, so WithSyntheticToolCallIDs mints at most one per index.
	sentSyntheticID map[int]bool
}

var (
	toolCallIDRegex = regexp.MustCompile(`"tool_call_id":\s*"`)
	toolNameRegex   = regexp.MustCompile(`"tool_name":\s*"`)
	paramRegex      = regexp.MustCompile(`"parameters":\s*\{\s*"`)
	rawParamRegex   = regexp.MustCompile(`"parameters":\s*`)
	paramNameRegex  = regexp.MustCompile(`\s*:\s*`)

	llamaToolNameRegex = regexp.MustCompile(`"name":\s*"`)
)

// ParseActions walks the tool-action JSON array as an explicit loop over
// actionMode, consuming the matched region of str on each rule and looping
// on the remainder rather than recursing.
func (f *filter) ParseActions(str string) ([]FilterOutput, int) {
	var out []FilterOutput
	total := 0
	for {
		// A trailing backslash might be escaping the next character; wait
		// for it to arrive before deciding anything.
		if str == "" || str[len(str)-1] == '\\' {
			return out, total
		}
		var o []FilterOutput
		var n int
		var again bool
		switch f.action.mode {
		case actionNotStarted, actionToolEnd:
			o, n, again = f.handleBeforeTool(str)
		case actionToolCallID:
			o, n, again = f.handleInToolCallID(str)
		case actionToolCallIDEnd:
			o, n, again = f.handleToolCallIDEnd(str)
		case actionToolName:
			o, n, again = f.handleInToolName(str)
		case actionToolNameEnd:
			o, n, again = f.handleToolNameEnd(str)
		case actionRawParam:
			o, n, again = f.handleRawParam(str)
		case actionParamName:
			o, n, again = f.handleParamName(str)
		case actionParamNameEnd:
			o, n, again = f.handleEndOfParamName(str)
		case actionParamValue:
			o, n, again = f.HandleParamValue(str)
		case actionParamValueEnd:
			o, n, again = f.handleParamValueEnd(str)
		default:
			return out, total
		}
		out = append(out, o...)
		total += n
		if !again {
			return out, total
		}
		str = str[n:]
	}
}

// handleBeforeTool waits for "tool_call_id":\s*" (if configured), or
// "tool_name":\s*" / "name":\s*" (llama) otherwise.
func (f *filter) handleBeforeTool(str string) ([]FilterOutput, int, bool) {
	var indices []int
	var mode actionMode
	switch {
	case f.llamaToolParsing:
		indices = llamaToolNameRegex.FindStringIndex(str)
		mode = actionToolName
	case f.hasToolCallID:
		indices = toolCallIDRegex.FindStringIndex(str)
		mode = actionToolCallID
	default:
		indices = toolNameRegex.FindStringIndex(str)
		mode = actionToolName
	}
	if indices == nil {
		return nil, 0, false
	}
	f.action.mode = mode
	f.action.trimLeft = true
	return nil, indices[1], true
}

func (f *filter) handleInToolCallID(str string) ([]FilterOutput, int, bool) {
	idx := findNonEscapedChar(str, '"')
	if idx == -1 {
		return nil, 0, false
	}
	out := f.sendToolCallIDChunk(str[:idx])
	f.action.mode = actionToolCallIDEnd
	return out, idx + 1, true
}

func (f *filter) handleToolCallIDEnd(str string) ([]FilterOutput, int, bool) {
	indices := toolNameRegex.FindStringIndex(str)
	if indices == nil {
		return nil, 0, false
	}
	f.action.mode = actionToolName
	f.action.trimLeft = true
	return nil, indices[1], true
}

func (f *filter) handleInToolName(str string) ([]FilterOutput, int, bool) {
	idx := findNonEscapedChar(str, '"')
	if idx == -1 {
		return nil, 0, false
	}
	out := f.sendToolNameChunk(str[:idx])
	out = append(out, f.maybeSendSyntheticID()...)
	f.action.mode = actionToolNameEnd
	return out, idx + 1, true
}

// handleToolNameEnd waits for "parameters":\s*{\s*", then either streams
// processed params from after it or, for raw params, resumes just after
// "parameters":\s*. Without that match, a bare } ends the tool call with no
// parameters.
func (f *filter) handleToolNameEnd(str string) ([]FilterOutput, int, bool) {
	if indices := paramRegex.FindStringIndex(str); indices != nil {
		if f.streamProcessedParams {
			f.action.mode = actionParamName
			return nil, indices[1], true
		}
		f.action.mode = actionRawParam
		raw := rawParamRegex.FindStringIndex(str)
		return nil, raw[1], true
	}
	idx := strings.Index(str, "}")
	if idx == -1 {
		return nil, 0, false
	}
	f.action.mode = actionToolEnd
	f.action.curToolIndex++
	f.action.curParamName = ""
	return nil, idx + 1, true
}

// handleRawParam streams the whole "parameters": {...} object as one
// string, stripping pretty-print indentation, until a complete JSON value
// closes it.
func (f *filter) handleRawParam(str string) ([]FilterOutput, int, bool) {
	idx := findValidJSONValue(f.action.paramValueBuffer, str)
	if idx == -1 {
		out := f.sendRawParamChunkWithoutIndentation(str)
		f.action.paramValueBuffer += str
		return out, len(str), false
	}
	out := f.sendRawParamChunkWithoutIndentation(str[:idx])
	f.action.paramValueBuffer = ""
	f.action.curToolIndex++
	f.action.mode = actionToolEnd
	return out, idx, true
}

// numSpacesToRemovePerLine undoes exactly two levels of model pretty-print
// indentation on the raw parameters object.
const numSpacesToRemovePerLine = 8

func (f *filter) sendRawParamChunkWithoutIndentation(str string) []FilterOutput {
	var b strings.Builder
	for _, c := range str {
		switch {
		case c == '\n':
			f.rawParamIndentLengthRemoved = 0
			f.sawNonWhitespaceInCurrentLine = false
		case unicode.IsSpace(c):
			if f.rawParamIndentLengthRemoved < numSpacesToRemovePerLine && !f.sawNonWhitespaceInCurrentLine {
				f.rawParamIndentLengthRemoved++
				continue
			}
		default:
			f.sawNonWhitespaceInCurrentLine = true
		}
		b.WriteRune(c)
	}
	return f.sendRawParamChunk(b.String())
}

func (f *filter) handleParamName(str string) ([]FilterOutput, int, bool) {
	idx := findNonEscapedChar(str, '"')
	if idx == -1 {
		return nil, 0, false
	}
	out := f.sendParamNameChunk(str[:idx])
	f.action.mode = actionParamNameEnd
	return out, idx + 1, true
}

func (f *filter) handleEndOfParamName(str string) ([]FilterOutput, int, bool) {
	indices := paramNameRegex.FindStringIndex(str)
	if indices == nil {
		return nil, 0, false
	}
	f.action.mode = actionParamValue
	return nil, indices[1], true
}

func (f *filter) handleParamValueEnd(str string) ([]FilterOutput, int, bool) {
	idx := strings.Index(str, `"`)
	if idx == -1 {
		return nil, 0, false
	}
	f.action.mode = actionParamName
	return nil, idx + 1, true
}

func (f *filter) sendToolCallIDChunk(str string) []FilterOutput {
	if str == "" || !f.streamToolActions {
		return nil
	}
	return []FilterOutput{{ToolCalls: &FilterToolCallDelta{
		Index: f.action.curToolIndex,
		ID:    str,
	}}}
}

func (f *filter) sendToolNameChunk(str string) []FilterOutput {
	if str == "" || !f.streamToolActions {
		return nil
	}
	return []FilterOutput{{ToolCalls: &FilterToolCallDelta{
		Index: f.action.curToolIndex,
		Name:  str,
	}}}
}

// maybeSendSyntheticID mints a uuid for the current tool-call index the
// first time it's seen, for payload formats that never carry their own
// tool_call_id (see WithSyntheticToolCallIDs).
func (f *filter) maybeSendSyntheticID() []FilterOutput {
	if !f.syntheticToolCallIDs || !f.streamToolActions || f.hasToolCallID {
		return nil
	}
	if f.action.sentSyntheticID == nil {
		f.action.sentSyntheticID = make(map[int]bool)
	}
	idx := f.action.curToolIndex
	if f.action.sentSyntheticID[idx] {
		return nil
	}
	f.action.sentSyntheticID[idx] = true
	return []FilterOutput{{ToolCalls: &FilterToolCallDelta{
		Index: idx,
		ID:    uuid.NewString(),
	}}}
}

func (f *filter) sendParamNameChunk(str string) []FilterOutput {
	if str == "" || !f.streamToolActions {
		return nil
	}
	f.action.curParamName = str
	return []FilterOutput{{ToolCalls: &FilterToolCallDelta{
		Index: f.action.curToolIndex,
		ParamDelta: &FilterToolParameter{
			Name: str,
		},
	}}}
}

func (f *filter) sendRawParamChunk(str string) []FilterOutput {
	if str == "" || !f.streamToolActions {
		return nil
	}
	return []FilterOutput{{ToolCalls: &FilterToolCallDelta{
		Index:         f.action.curToolIndex,
		RawParamDelta: str,
	}}}
}

func (f *filter) sendParamValueChunk(str string) []FilterOutput {
	trimmed := strings.TrimRightFunc(str, unicode.IsSpace)
	if f.action.trimLeft {
		trimmed = strings.TrimLeftFunc(trimmed, unicode.IsSpace)
	}
	if trimmed == "" || !f.streamToolActions {
		return nil
	}
	f.action.trimLeft = false
	return []FilterOutput{{ToolCalls: &FilterToolCallDelta{
		Index: f.action.curToolIndex,
		ParamDelta: &FilterToolParameter{
			Name:       f.action.curParamName,
			ValueDelta: trimmed,
		},
	}}}
}

// findNonEscapedChar returns the index of the first occurrence of char that
// is not preceded by an odd number of backslashes.
func findNonEscapedChar(str string, char byte) int {
	for i := 0; i < len(str); i++ {
		if str[i] != char {
			continue
		}
		escaped := false
		for j := i - 1; j >= 0 && str[j] == '\\'; j-- {
			escaped = !escaped
		}
		if !escaped {
			return i
		}
	}
	return -1
}
