// Package melody turns a raw LLM token stream into citations, search
// queries, and tool-call events. The state machine itself lives in
// parsing; this package re-exports its public surface so callers only need
// one import.
package melody

import (
	"go.uber.org/zap"

	"github.com/cohere-ai/melody-sub000/parsing"
)

type (
	Filter                 = parsing.Filter
	StreamFilter           = parsing.StreamFilter
	FilterOption           = parsing.FilterOption
	FilterOutput           = parsing.FilterOutput
	FilterCitation         = parsing.FilterCitation
	FilterSearchQueryDelta = parsing.FilterSearchQueryDelta
	FilterToolCallDelta    = parsing.FilterToolCallDelta
	FilterToolParameter    = parsing.FilterToolParameter
	Source                 = parsing.Source
	Decoder                = parsing.Decoder
	TokenIDsWithLogProb    = parsing.TokenIDsWithLogProb
)

var (
	WithChunkSize            = parsing.WithChunkSize
	WithRepetitionLimit      = parsing.WithRepetitionLimit
	WithInclusiveStops       = parsing.WithInclusiveStops
	WithExclusiveStops       = parsing.WithExclusiveStops
	WithLeftTrimmed          = parsing.WithLeftTrimmed
	WithRightTrimmed         = parsing.WithRightTrimmed
	WithPrefixTrim           = parsing.WithPrefixTrim
	WithRemoveToken          = parsing.WithRemoveToken
	WithSyntheticToolCallIDs = parsing.WithSyntheticToolCallIDs
	HandleRAG                = parsing.HandleRAG
	HandleSearchQuery        = parsing.HandleSearchQuery
	HandleMultiHop           = parsing.HandleMultiHop
	HandleMultiHopCmd3       = parsing.HandleMultiHopCmd3
	HandleMultiHopCmd4       = parsing.HandleMultiHopCmd4
	HandleLlama              = parsing.HandleLlama
	StreamNonGroundedAnswer  = parsing.StreamNonGroundedAnswer
	StreamToolActions        = parsing.StreamToolActions
	StreamProcessedParams    = parsing.StreamProcessedParams
)

// NewFilter constructs a Filter from a configuration profile built out of
// the With*/Handle*/Stream* options above.
func NewFilter(logger *zap.Logger, tokenizer Decoder, opts ...FilterOption) (Filter, error) {
	return parsing.NewFilter(logger, tokenizer, opts...)
}

// NewStreamFilter constructs a channel-based Filter for callers that push
// tokens from one goroutine and drain events from another.
func NewStreamFilter(logger *zap.Logger, tokenizer Decoder, opts ...FilterOption) (StreamFilter, error) {
	return parsing.NewStreamFilter(logger, tokenizer, opts...)
}
