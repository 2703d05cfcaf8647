// Package eventcodec encodes parsing.FilterOutput events to JSON without
// reflection, in the house style of the teacher's orderedjson package: a
// hand-written jwriter.Writer pass keyed field-by-field. It exists because
// FilterOutput is emitted at the rate of the token stream itself, where
// encoding/json's reflection overhead per event is the dominant cost.
package eventcodec

import (
	"bytes"

	"github.com/mailru/easyjson/jwriter"
	"github.com/x448/float16"

	"github.com/cohere-ai/melody-sub000/parsing"
)

// Option configures an Encoder.
type Option func(*Encoder)

// WithCompactLogprobs encodes each logprob as its IEEE 754 half-precision
// bit pattern instead of a full-precision JSON number. Half precision loses
// mantissa bits a caller that only ever sorts or thresholds logprobs will
// never notice, and roughly halves the digits on the wire for a field that
// appears once per token.
func WithCompactLogprobs() Option {
	return func(e *Encoder) { e.compactLogprobs = true }
}

// Encoder turns FilterOutput values into JSON bytes.
type Encoder struct {
	compactLogprobs bool
}

// New constructs an Encoder.
func New(opts ...Option) *Encoder {
	e := &Encoder{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode serializes one event. Each call uses a fresh writer and buffer, so
// the returned bytes are not shared with later calls.
func (e *Encoder) Encode(out parsing.FilterOutput) ([]byte, error) {
	w := jwriter.Writer{}
	e.writeOutput(&w, out)
	return dump(&w)
}

func dump(w *jwriter.Writer) ([]byte, error) {
	if w.Error != nil {
		return nil, w.Error
	}
	var buf bytes.Buffer
	buf.Grow(w.Size())
	if _, err := w.DumpTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Encoder) writeOutput(w *jwriter.Writer, out parsing.FilterOutput) {
	w.RawByte('{')
	first := true
	field := func(name string) {
		if !first {
			w.RawByte(',')
		}
		first = false
		w.String(name)
		w.RawByte(':')
	}

	if out.Text != "" {
		field("text")
		w.String(out.Text)
	}
	if len(out.Logprobs.TokenIDs) != 0 {
		field("logprobs")
		e.writeLogprobs(w, out.Logprobs)
	}
	if len(out.Citations) != 0 {
		field("citations")
		e.writeCitations(w, out.Citations)
	}
	if out.SearchQuery != nil {
		field("search_query")
		e.writeSearchQuery(w, out.SearchQuery)
	}
	if out.ToolCalls != nil {
		field("tool_calls")
		e.writeToolCallDelta(w, out.ToolCalls)
	}
	if out.IsPostAnswer {
		field("is_post_answer")
		w.Bool(true)
	}
	if out.IsToolsReason {
		field("is_tools_reason")
		w.Bool(true)
	}
	w.RawByte('}')
}

func (e *Encoder) writeLogprobs(w *jwriter.Writer, lp parsing.TokenIDsWithLogProb) {
	w.RawByte('{')
	w.RawString(`"token_ids":`)
	w.RawByte('[')
	for i, id := range lp.TokenIDs {
		if i > 0 {
			w.RawByte(',')
		}
		w.Int64(id)
	}
	w.RawByte(']')
	if len(lp.Logprobs) != 0 {
		w.RawString(`,"logprobs":`)
		w.RawByte('[')
		for i, v := range lp.Logprobs {
			if i > 0 {
				w.RawByte(',')
			}
			if e.compactLogprobs {
				w.Uint16(uint16(float16.Fromfloat32(v)))
			} else {
				w.Float32(v)
			}
		}
		w.RawByte(']')
	}
	w.RawByte('}')
}

func (e *Encoder) writeCitations(w *jwriter.Writer, citations []parsing.FilterCitation) {
	w.RawByte('[')
	for i, c := range citations {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawByte('{')
		w.RawString(`"start_index":`)
		w.Int(c.StartIndex)
		w.RawString(`,"end_index":`)
		w.Int(c.EndIndex)
		w.RawString(`,"text":`)
		w.String(c.Text)
		if c.IsThinking {
			w.RawString(`,"is_thinking":true`)
		}
		if len(c.Sources) != 0 {
			w.RawString(`,"sources":`)
			e.writeSources(w, c.Sources)
		}
		w.RawByte('}')
	}
	w.RawByte(']')
}

func (e *Encoder) writeSources(w *jwriter.Writer, sources []parsing.Source) {
	w.RawByte('[')
	for i, s := range sources {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawByte('{')
		w.RawString(`"tool_call_index":`)
		w.Int(s.ToolCallIndex)
		w.RawString(`,"tool_result_indices":`)
		w.RawByte('[')
		for j, idx := range s.ToolResultIndices {
			if j > 0 {
				w.RawByte(',')
			}
			w.Int(idx)
		}
		w.RawByte(']')
		w.RawByte('}')
	}
	w.RawByte(']')
}

func (e *Encoder) writeSearchQuery(w *jwriter.Writer, sq *parsing.FilterSearchQueryDelta) {
	w.RawByte('{')
	w.RawString(`"index":`)
	w.Int(sq.Index)
	w.RawString(`,"text":`)
	w.String(sq.Text)
	w.RawByte('}')
}

func (e *Encoder) writeToolCallDelta(w *jwriter.Writer, tc *parsing.FilterToolCallDelta) {
	w.RawByte('{')
	w.RawString(`"index":`)
	w.Int(tc.Index)
	if tc.ID != "" {
		w.RawString(`,"id":`)
		w.String(tc.ID)
	}
	if tc.Name != "" {
		w.RawString(`,"name":`)
		w.String(tc.Name)
	}
	if tc.ParamDelta != nil {
		w.RawString(`,"param_delta":`)
		w.RawByte('{')
		w.RawString(`"name":`)
		w.String(tc.ParamDelta.Name)
		if tc.ParamDelta.ValueDelta != "" {
			w.RawString(`,"value_delta":`)
			w.String(tc.ParamDelta.ValueDelta)
		}
		w.RawByte('}')
	}
	if tc.RawParamDelta != "" {
		w.RawString(`,"raw_param_delta":`)
		w.String(tc.RawParamDelta)
	}
	w.RawByte('}')
}
