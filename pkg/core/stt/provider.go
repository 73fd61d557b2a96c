// Package stt provides the speech-to-text stage of the conversation pipeline.
package stt

import "context"

// Provider is the capability interface for speech-to-text vendors. One
// implementation exists per vendor, selected by configuration.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens a streaming transcription session. Audio for one or
	// more utterances is pushed with SendAudio; the caller marks utterance
	// boundaries with Finalize.
	NewStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// StreamConfig configures a streaming transcription session.
type StreamConfig struct {
	Model      string // Vendor-specific model identifier
	Language   string // ISO language code (default: "en")
	Encoding   string // Pipeline audio encoding (pcm_s16le)
	SampleRate int    // Audio sample rate in Hz
}

// Stream is one live transcription session.
type Stream interface {
	// SendAudio pushes pipeline PCM bytes into the session.
	SendAudio(pcm []byte) error

	// Finalize flushes buffered audio and forces a final delta for the
	// current utterance. The session stays open for the next utterance.
	Finalize() error

	// Deltas emits transcript updates. Interim deltas are UI feedback only;
	// only deltas with IsFinal set feed the state machine. The channel is
	// closed when the session ends.
	Deltas() <-chan Delta

	// Close tears the session down and releases the vendor connection.
	Close() error
}

// Delta is a streaming transcript update.
type Delta struct {
	Text       string  // Transcript so far for the current utterance
	IsFinal    bool    // True when the vendor considers the segment final
	Confidence float64 // Vendor confidence in [0,1]; 0 when not reported
}
