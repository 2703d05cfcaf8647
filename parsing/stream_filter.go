package parsing

import (
	"go.uber.org/zap"
)

// StreamFilter is the channel-based wrapper around Filter for callers that
// want to push tokens from one goroutine and drain events from another.
type StreamFilter interface { //nolint:revive
	Read() <-chan FilterOutput
	Write(token int64, logprob *float32) error
	WriteDecoded(decodedToken string)
	Close()
	GetRawTokens() []int64
}

// NewStreamFilter starts a background goroutine that serializes writes into
// filter events. Close must be called exactly once, after which Read's
// channel closes once any buffered input has drained.
func NewStreamFilter(logger *zap.Logger, tokenizer Decoder, opts ...FilterOption) (StreamFilter, error) {
	f, err := newFilter(logger, tokenizer, opts...)
	if err != nil {
		return nil, err
	}
	s := &streamFilter{
		filter: f,
		in:     make(chan fullTextWithLogProbs, 1),
		out:    make(chan FilterOutput, 1),
	}
	go s.run()
	return s, nil
}

var _ StreamFilter = (*streamFilter)(nil)

type streamFilter struct {
	filter *filter
	in     chan fullTextWithLogProbs
	out    chan FilterOutput
}

func (s *streamFilter) run() {
	defer close(s.out)
	defer func() {
		for range s.in {
			// Drain the input channel in case the caller closed it without
			// first noticing the output channel had already closed.
		}
	}()
	for t := range s.in {
		for _, output := range s.filter.writeText(t.Text, t.Logprobs) {
			s.out <- output
		}
	}
	for _, output := range s.filter.FlushPartials() {
		s.out <- output
	}
}

func (s *streamFilter) Read() <-chan FilterOutput {
	return s.out
}

func (s *streamFilter) Write(token int64, logprob *float32) error {
	t, err := s.filter.getFullTextWithLogProbs(token, logprob)
	if err != nil {
		return err
	}
	s.in <- t
	return nil
}

func (s *streamFilter) WriteDecoded(decodedToken string) {
	s.in <- fullTextWithLogProbs{Text: []byte(decodedToken)}
}

func (s *streamFilter) Close() {
	close(s.in)
}

func (s *streamFilter) GetRawTokens() []int64 {
	return s.filter.GetRawTokens()
}
