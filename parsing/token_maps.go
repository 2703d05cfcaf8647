package parsing

// ragTokenMap handles the plain-text RAG sentinel format.
var ragTokenMap = map[string]filterMode{
	"Grounded answer:": groundedAnswer,
	"Answer:":          answer,
}

// searchQueryTokenMap handles numbered search-query generation.
var searchQueryTokenMap = map[string]filterMode{
	"Search:": searchQuery,
	"|||":     nextSearchQuery,
	"\n":      nextSearchQuery,
}

// multiHopTokenMap handles the plain-text multi-hop (plan/reflection/action)
// format.
var multiHopTokenMap = map[string]filterMode{
	"Grounded answer:": groundedAnswer,
	"Answer:":          answer,
	"Plan:":            toolReason,
	"Reflection:":      toolReason,
	"Action:":          toolAction,
	// Relevant/Cited Documents are present in the generation for model
	// performance but never streamed to the end user.
	"Relevant Documents:": ignore,
	"Cited Documents:":    ignore,
}

// multiHopTokenMapCmd3 handles the CMD3 sentinel format.
var multiHopTokenMapCmd3 = map[string]filterMode{
	"<|START_RESPONSE|>": groundedAnswer,
	"<|END_RESPONSE|>":   ignore,
	"<|START_THINKING|>": toolReason,
	"<|END_THINKING|>":   groundedAnswer,
	"<|START_ACTION|>":   toolAction,
	"<|END_ACTION|>":     ignore,
}

// multiHopTokenMapCmd4 is multiHopTokenMapCmd3 with START_TEXT/END_TEXT in
// place of START_RESPONSE/END_RESPONSE.
var multiHopTokenMapCmd4 = map[string]filterMode{
	"<|START_TEXT|>":     groundedAnswer,
	"<|END_TEXT|>":       ignore,
	"<|START_THINKING|>": toolReason,
	"<|END_THINKING|>":   groundedAnswer,
	"<|START_ACTION|>":   toolAction,
	"<|END_ACTION|>":     ignore,
}

// llamaTokenMap handles the llama tool-calling format: a blank line enters
// grounded-answer mode, a python-tag token enters the action array, and
// <eom_id> is an exclusive stop.
var llamaTokenMap = map[string]filterMode{
	"\n\n":           groundedAnswer,
	"<|python_tag|>": toolAction,
	"<eom_id>":       exclusiveStop,
}
