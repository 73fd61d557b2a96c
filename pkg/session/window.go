package session

import (
	"github.com/attune-voice/attune/pkg/core/llm"
	"github.com/attune-voice/attune/pkg/store"
)

// estimateTokens approximates the token count of a text at four characters
// per token.
func estimateTokens(text string) int {
	return len(text)/4 + 1
}

// buildWindow converts the turn log into a generation context, evicting the
// oldest turns first once the token budget is exceeded. The newest turn is
// always retained so the model sees the utterance being answered. Incomplete
// turns are included: a partial assistant reply is still context the user
// heard.
func buildWindow(turns []store.Turn, tokenBudget int) []llm.Turn {
	if len(turns) == 0 {
		return nil
	}

	// Walk newest to oldest, keeping turns while the budget holds.
	total := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := estimateTokens(turns[i].Content)
		if total+cost > tokenBudget && start < len(turns) {
			break
		}
		total += cost
		start = i
	}

	out := make([]llm.Turn, 0, len(turns)-start)
	for _, t := range turns[start:] {
		speaker := llm.SpeakerUser
		if t.Speaker == store.SpeakerAssistant {
			speaker = llm.SpeakerAssistant
		}
		out = append(out, llm.Turn{Speaker: speaker, Text: t.Content})
	}
	return out
}
