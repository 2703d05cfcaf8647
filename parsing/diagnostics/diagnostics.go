// Package diagnostics provides best-effort introspection over tool-action
// fragments that a stream ended before completing. It never changes what a
// Filter emits; it only helps an operator understand what was lost.
package diagnostics

import (
	"github.com/buger/jsonparser"
	"go.uber.org/zap"
)

// SalvagedCall describes whatever jsonparser could make out of one
// tool-call object in an incomplete action array.
type SalvagedCall struct {
	ToolCallID string
	ToolName   string
	// ParamNames lists parameter keys jsonparser could read, in whatever
	// order the partial object happened to present them.
	ParamNames []string
}

// SalvageActionFragment runs a tolerant jsonparser pass over a buffer that
// FlushPartials is about to drop because it never completed the tool-action
// array. jsonparser.ArrayEach/Get report an error on the first construct
// they cannot parse rather than panicking on truncated input, so this walks
// as far as it can and returns whatever calls it resolved before that.
func SalvageActionFragment(buf []byte, logger *zap.Logger) []SalvagedCall {
	if logger == nil {
		logger = zap.NewNop()
	}
	// A dangling "[" or "{" with no closer is common — jsonparser.ArrayEach
	// needs a syntactically closed array, so pad matching closers on for
	// the salvage pass only; this never affects what the caller emits.
	candidate := buf
	if closers := unclosedBrackets(buf); len(closers) > 0 {
		padded := make([]byte, len(buf), len(buf)+len(closers))
		copy(padded, buf)
		candidate = append(padded, closers...)
	}

	var calls []SalvagedCall
	_, err := jsonparser.ArrayEach(candidate, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if dataType != jsonparser.Object {
			return
		}
		var call SalvagedCall
		if id, err := jsonparser.GetString(value, "tool_call_id"); err == nil {
			call.ToolCallID = id
		}
		if name, err := jsonparser.GetString(value, "tool_name"); err == nil {
			call.ToolName = name
		}
		if params, _, _, err := jsonparser.Get(value, "parameters"); err == nil {
			_ = jsonparser.ObjectEach(params, func(key []byte, _ []byte, _ jsonparser.ValueType, _ int) error {
				call.ParamNames = append(call.ParamNames, string(key))
				return nil
			})
		}
		calls = append(calls, call)
	})
	if err != nil {
		logger.Warn("could not fully salvage dropped tool-action fragment",
			zap.Int("fragment_len", len(buf)), zap.Int("salvaged_calls", len(calls)), zap.Error(err))
	}
	return calls
}

// unclosedBrackets returns the closer bytes (in innermost-first order) that
// would balance every '[' and '{' left open in buf, ignoring anything
// inside a JSON string, so a truncated fragment can be closed off just
// enough for a best-effort parse.
func unclosedBrackets(buf []byte) []byte {
	var stack []byte
	inString := false
	escaped := false
	for _, c := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			stack = append(stack, ']')
		case '{':
			stack = append(stack, '}')
		case ']', '}':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	closers := make([]byte, len(stack))
	for i, c := range stack {
		closers[len(stack)-1-i] = c
	}
	return closers
}
