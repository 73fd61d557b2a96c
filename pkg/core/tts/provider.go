// Package tts provides the speech synthesis stage of the conversation
// pipeline.
package tts

import (
	"context"
	"sync"
	"sync/atomic"
)

// Provider is the capability interface for synthesis vendors.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens an incremental synthesis stream. Text is sent in
	// chunks as generation produces it; audio chunks arrive on Audio() in
	// order.
	NewStream(ctx context.Context, opts StreamOptions) (*Stream, error)
}

// StreamOptions configures an incremental synthesis stream.
type StreamOptions struct {
	Voice            string // Vendor voice identifier
	Language         string // Language code, default "en"
	SampleRate       int    // Output sample rate, default 24000
	MaxBufferDelayMs int    // Max time the vendor buffers text before generating
}

// Stream manages one incremental synthesis invocation. Text chunks go in via
// SendText, raw PCM audio chunks come out on Audio. The audio channel closes
// when synthesis finishes or fails; check Err after it closes.
type Stream struct {
	audio     chan []byte
	err       error
	errMu     sync.Mutex
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	// Set by vendor implementations.
	SendFunc  func(text string, final bool) error
	CloseFunc func() error
}

// NewStream builds an unwired stream. Vendor implementations and test fakes
// attach SendFunc/CloseFunc and feed audio via PushAudio.
func NewStream() *Stream {
	return &Stream{
		audio: make(chan []byte, 16),
		done:  make(chan struct{}),
	}
}

// SendText sends a text chunk. Set final on the last chunk so the vendor
// flushes remaining audio and ends the stream.
func (s *Stream) SendText(text string, final bool) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if s.SendFunc != nil {
		return s.SendFunc(text, final)
	}
	return nil
}

// Flush signals that all text has been sent.
func (s *Stream) Flush() error {
	return s.SendText("", true)
}

// Audio returns the ordered channel of raw audio chunks. The channel has a
// small buffer; when the consumer stops draining, PushAudio blocks and
// synthesis pauses rather than dropping audio.
func (s *Stream) Audio() <-chan []byte {
	return s.audio
}

// Err returns the stream error, if any.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close abandons the stream and releases vendor resources. Idempotent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.CloseFunc != nil {
			err = s.CloseFunc()
		}
		close(s.done)
	})
	return err
}

// Done returns a channel closed when the stream is abandoned.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// PushAudio delivers an audio chunk to the consumer. Blocks while the
// consumer is not draining; returns false once the stream is abandoned.
func (s *Stream) PushAudio(chunk []byte) bool {
	select {
	case s.audio <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// SetError records the stream error.
func (s *Stream) SetError(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// FinishAudio closes the audio channel.
func (s *Stream) FinishAudio() {
	close(s.audio)
}

// ErrStreamClosed is returned when sending to an abandoned stream.
var ErrStreamClosed = &streamClosedError{}

type streamClosedError struct{}

func (e *streamClosedError) Error() string { return "synthesis stream closed" }
