package tts

import (
	"strings"
	"sync"
)

// SentenceBuffer accumulates generation increments and emits chunks sized
// for natural-sounding synthesis. It emits on:
// 1. Sentence punctuation: . , ! ?
// 2. Word count threshold when a word boundary is confirmed
type SentenceBuffer struct {
	mu          sync.Mutex
	text        strings.Builder
	minWords    int
	punctuation string
}

// NewSentenceBuffer creates a buffer with default settings.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{
		minWords:    5,
		punctuation: ",.!?",
	}
}

// Add appends a text increment and returns a chunk ready for synthesis, or
// "" if more text should accumulate first.
func (b *SentenceBuffer) Add(delta string) string {
	if delta == "" {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// A leading space confirms the previously buffered word is complete.
	startsWithSpace := delta[0] == ' ' || delta[0] == '\n'

	prevContent := b.text.String()
	prevWordCount := len(strings.Fields(prevContent))

	b.text.WriteString(delta)
	content := b.text.String()

	if strings.ContainsAny(delta, b.punctuation) {
		lastPunct := strings.LastIndexAny(content, b.punctuation)
		if lastPunct >= 0 {
			toSend := strings.TrimSpace(content[:lastPunct+1])
			remainder := strings.TrimSpace(content[lastPunct+1:])
			b.text.Reset()
			if remainder != "" {
				b.text.WriteString(remainder)
			}
			return toSend
		}
	}

	if prevWordCount >= b.minWords && startsWithSpace {
		toSend := strings.TrimSpace(prevContent)
		b.text.Reset()
		b.text.WriteString(strings.TrimLeft(delta, " \n"))
		return toSend
	}

	return ""
}

// Flush returns any remaining buffered text and resets the buffer. Call when
// the generation stream ends.
func (b *SentenceBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := strings.TrimSpace(b.text.String())
	b.text.Reset()
	return result
}

// Reset discards buffered text. Call on interruption.
func (b *SentenceBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text.Reset()
}

// Len returns the current buffered length in bytes.
func (b *SentenceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.Len()
}
