// Package llm provides the response generation stage of the conversation
// pipeline.
package llm

import "context"

// Speaker identifies the author of a conversation turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one conversation turn as seen by the generation stage.
type Turn struct {
	Speaker Speaker
	Text    string
}

// Request carries the assembled context window for one generation call.
type Request struct {
	System string // System prompt; empty uses the vendor default
	Turns  []Turn // Context window in ascending order, newest last
}

// Provider is the capability interface for generation vendors. One
// implementation exists per vendor, selected by configuration.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// StreamReply starts one generation invocation over the given context.
	// Increments from a single invocation arrive strictly in generation
	// order. An invocation is not resumable mid-stream; restart by calling
	// StreamReply again with the same context.
	StreamReply(ctx context.Context, req Request) (*ReplyStream, error)
}

// ReplyStream is an explicit lazy sequence of text increments.
//
// Next returns increments until io.EOF. Close stops consumption and signals
// the producer to release upstream resources promptly; it is safe to call
// Close at any time, including concurrently with Next returning.
type ReplyStream struct {
	next  func() (string, error)
	close func()
}

// NewReplyStream builds a stream from a pull function and a close hook.
// Vendor implementations and test fakes use this.
func NewReplyStream(next func() (string, error), close func()) *ReplyStream {
	return &ReplyStream{next: next, close: close}
}

// Next returns the next text increment, or io.EOF when generation is
// complete.
func (s *ReplyStream) Next() (string, error) {
	return s.next()
}

// Close releases upstream resources. Idempotent.
func (s *ReplyStream) Close() {
	if s.close != nil {
		s.close()
	}
}
