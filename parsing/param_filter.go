package parsing

import (
	"strings"
	"unicode"
)

// paramState is the parameter-value sub-machine's state, nested inside
// filterAction while mode == actionParamValue.
type paramState int

const (
	paramBeginning paramState = iota
	paramComplex
	paramBasic
	paramEnd
)

// HandleParamValue streams one parameter value — string, number/bool/null,
// object, or array — tracking JSON balance for the complex-type case.
// Each call consumes and returns the bytes handled by its own state; the
// caller (ParseActions) loops on the remainder when again is true.
func (f *filter) HandleParamValue(str string) ([]FilterOutput, int, bool) {
	if str == "" {
		return nil, 0, false
	}
	switch f.action.curParamState {
	case paramBeginning:
		return f.handleParamValueBeginning(str)
	case paramComplex:
		return f.handleParamValueComplexType(str)
	case paramBasic:
		return f.handleParamValueBasicType(str)
	case paramEnd:
		return f.handleParamValueEndType(str)
	}
	return nil, 0, false
}

// handleParamValueBeginning decides the value's type from its first
// non-whitespace byte. It only changes state; the whitespace itself is
// trimmed later by sendParamValueChunk's one-shot left trim.
func (f *filter) handleParamValueBeginning(str string) ([]FilterOutput, int, bool) {
	trimmed := strings.TrimLeftFunc(str, unicode.IsSpace)
	if trimmed == "" {
		return nil, 0, false
	}
	switch trimmed[0] {
	case '"', '{', '[':
		f.action.curParamState = paramComplex
	case '}', ',':
		f.action.curParamState = paramEnd
	default:
		f.action.curParamState = paramBasic
	}
	return nil, 0, true
}

// handleParamValueBasicType scans to the first } or , and sends everything
// before it as the value.
func (f *filter) handleParamValueBasicType(str string) ([]FilterOutput, int, bool) {
	idx := strings.IndexAny(str, "},")
	if idx == -1 {
		return f.sendParamValueChunk(str), len(str), false
	}
	out := f.sendParamValueChunk(str[:idx])
	f.action.curParamState = paramEnd
	return out, idx, true
}

// handleParamValueComplexType appends to the buffer until it is a complete
// JSON value, streaming each appended span as it arrives.
func (f *filter) handleParamValueComplexType(str string) ([]FilterOutput, int, bool) {
	idx := findValidJSONValue(f.action.paramValueBuffer, str)
	if idx == -1 {
		out := f.sendParamValueChunk(str)
		f.action.paramValueBuffer += str
		return out, len(str), false
	}
	f.action.paramValueBuffer = ""
	f.action.curParamState = paramEnd
	out := f.sendParamValueChunk(str[:idx])
	return out, idx, true
}

// handleParamValueEndType skips whitespace then dispatches on the
// terminator: } ends the tool call, , ends just this parameter.
func (f *filter) handleParamValueEndType(str string) ([]FilterOutput, int, bool) {
	trimmed := strings.TrimLeftFunc(str, unicode.IsSpace)
	if trimmed == "" {
		return nil, 0, false
	}
	idx := strings.IndexByte(str, trimmed[0])
	out := f.sendParamValueChunk(strings.TrimRightFunc(str[:idx], unicode.IsSpace))

	f.action.trimLeft = true
	f.action.paramValueBuffer = ""
	f.action.curParamState = paramBeginning
	f.action.curParamName = ""

	if str[idx] == '}' {
		f.action.mode = actionToolEnd
		f.action.curToolIndex++
	} else {
		f.action.mode = actionParamValueEnd
	}
	return out, idx + 1, true
}

// findValidJSONValue reports the byte index in str just past the point
// where buffer+str completes buffer's leading JSON value (a string, object,
// or array), or -1 if it is still incomplete. Tracks bracket depth and
// in-string state directly rather than re-parsing the whole prefix on every
// byte, and always returns a byte offset so a multibyte scalar split across
// chunks can never be sliced mid-rune.
func findValidJSONValue(buffer, str string) int {
	full := buffer + str
	if full == "" {
		return -1
	}
	kind := full[0]
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(full); i++ {
		c := full[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				if kind == '"' && depth == 0 {
					return i + 1 - len(buffer)
				}
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1 - len(buffer)
			}
		}
	}
	return -1
}
