package channel

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/attune-voice/attune/pkg/core/llm"
	"github.com/attune-voice/attune/pkg/core/tts"
	"github.com/attune-voice/attune/pkg/gateway/live/protocol"
)

// runPipeline executes one reply turn: context window to generation to
// synthesis. The assistant turn is appended to the log (incomplete) before
// any assistant frame is emitted; on interruption it stays incomplete with
// the partial text, otherwise it is completed with the full reply and the
// committed event follows the durable write.
func (c *Channel) runPipeline(ctx context.Context, window []llm.Turn, startCh chan<- int64, done chan<- pipeResult) {
	report := func(r pipeResult) {
		select {
		case done <- r:
		case <-c.ctx.Done():
		}
	}

	if window == nil {
		w, err := c.sessions.ContextWindow(ctx, c.sessionID, c.cfg.ContextTokenBudget)
		if err != nil {
			report(pipeResult{err: err})
			return
		}
		window = w
	}
	if len(window) == 0 {
		report(pipeResult{})
		return
	}

	reply, err := c.llm.StreamReply(ctx, llm.Request{System: llm.SystemPrompt, Turns: window})
	if err != nil {
		_ = c.sendPriorityJSON(protocol.ServerWarning{
			Type: "warning", Code: "provider_error",
			Message: "failed to start reply generation",
		})
		report(pipeResult{err: err})
		return
	}
	defer reply.Close()

	turn, err := c.sessions.BeginAssistantTurn(ctx, c.sessionID)
	if err != nil {
		_ = c.sendPriorityJSON(protocol.ServerError{
			Type: "error", Code: "persistence_failure",
			Message: "failed to record turn", Close: true,
		})
		report(pipeResult{err: err})
		return
	}
	seq := turn.Seq
	select {
	case startCh <- seq:
	case <-c.ctx.Done():
	}

	// Synthesis failure degrades the turn to text only.
	textOnly := false
	ttsStream, ttsErr := c.tts.NewStream(ctx, tts.StreamOptions{
		Voice:      c.cfg.VoiceID,
		Language:   c.cfg.Language,
		SampleRate: c.cfg.OutputSampleRate,
	})
	if ttsErr != nil {
		textOnly = true
		_ = c.sendPriorityJSON(protocol.ServerWarning{
			Type: "warning", Code: "synthesis_failed",
			Message: "speech synthesis unavailable, continuing with text",
		})
	}

	var audioWG sync.WaitGroup
	pumpStarted := false
	if !textOnly {
		if err := c.sendJSON(ctx, protocol.ServerAssistantAudioStart{
			Type: "assistant_audio_start",
			Seq:  seq,
			Format: protocol.AudioFormat{
				Encoding:     "pcm_s16le",
				SampleRateHz: c.cfg.OutputSampleRate,
				Channels:     1,
			},
		}); err != nil {
			ttsStream.Close()
			report(pipeResult{seq: seq, interrupted: true, err: err})
			return
		}
		pumpStarted = true
		audioWG.Add(1)
		go func() {
			defer audioWG.Done()
			var chunkSeq int64
			for chunk := range ttsStream.Audio() {
				chunkSeq++
				if err := c.sendAudio(ctx, seq, chunkSeq, chunk); err != nil {
					ttsStream.Close()
					return
				}
			}
			if err := ttsStream.Err(); err != nil {
				_ = c.sendPriorityJSON(protocol.ServerWarning{
					Type: "warning", Code: "synthesis_failed",
					Message: "speech synthesis stream failed",
				})
			}
			_ = c.sendJSON(ctx, protocol.ServerAssistantAudioEnd{Type: "assistant_audio_end", Seq: seq})
		}()
	}

	buf := tts.NewSentenceBuffer()
	speak := func(text string, final bool) {
		if textOnly || text == "" && !final {
			return
		}
		if err := ttsStream.SendText(text, final); err != nil {
			textOnly = true
			ttsStream.Close()
			_ = c.sendPriorityJSON(protocol.ServerWarning{
				Type: "warning", Code: "synthesis_failed",
				Message: "speech synthesis failed, continuing with text",
			})
		}
	}

	var full strings.Builder
	var genErr error
	for {
		inc, err := reply.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			genErr = err
			break
		}
		full.WriteString(inc)
		if err := c.sendJSON(ctx, protocol.ServerAssistantTextDelta{
			Type: "assistant_text_delta", Seq: seq, Text: inc,
		}); err != nil {
			genErr = err
			break
		}
		if chunk := buf.Add(inc); chunk != "" {
			speak(chunk, false)
		}
	}

	text := strings.TrimSpace(full.String())

	if genErr != nil || ctx.Err() != nil {
		if pumpStarted {
			ttsStream.Close()
			audioWG.Wait()
		} else if ttsErr == nil {
			ttsStream.Close()
		}
		interrupted := ctx.Err() != nil || errors.Is(genErr, context.Canceled)
		if !interrupted {
			_ = c.sendPriorityJSON(protocol.ServerWarning{
				Type: "warning", Code: "generation_interrupted",
				Message: "reply generation was interrupted",
			})
		}
		c.recordPartial(seq, text)
		report(pipeResult{seq: seq, text: text, interrupted: true, err: genErr})
		return
	}

	if !textOnly {
		if rem := buf.Flush(); rem != "" {
			speak(rem, false)
		}
		speak("", true)
	}
	if pumpStarted {
		c.waitForAudio(&audioWG, ttsStream)
	}

	if err := c.sendJSON(ctx, protocol.ServerAssistantTextFinal{
		Type: "assistant_text_final", Seq: seq, Text: text,
	}); err != nil {
		c.recordPartial(seq, text)
		report(pipeResult{seq: seq, text: text, interrupted: true, err: err})
		return
	}

	// Durable completion precedes the committed event.
	finCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = c.sessions.FinishAssistantTurn(finCtx, c.sessionID, seq, text)
	cancel()
	if err != nil {
		_ = c.sendPriorityJSON(protocol.ServerError{
			Type: "error", Code: "persistence_failure",
			Message: "failed to record turn", Close: true,
		})
		report(pipeResult{seq: seq, text: text, err: err})
		return
	}
	if err := c.sendJSON(ctx, protocol.ServerTurnCommitted{
		Type: "turn_committed", Seq: seq, Speaker: "assistant", Text: text,
	}); err != nil {
		report(pipeResult{seq: seq, text: text, err: err})
		return
	}

	report(pipeResult{seq: seq, text: text})
}

// recordPartial stores whatever text was produced on the interrupted turn,
// leaving it incomplete. Uses a fresh context so the write survives the
// pipeline's cancelation.
func (c *Channel) recordPartial(seq int64, partial string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sessions.RecordInterruptedAssistantTurn(ctx, c.sessionID, seq, partial); err != nil {
		c.logger.Warn("record interrupted turn",
			"session_id", c.sessionID, "seq", seq, "error", err)
	}
}

// waitForAudio waits for the audio pump to drain, bounded by the synthesis
// timeout. On timeout the stream is abandoned and whatever audio was
// delivered stands.
func (c *Channel) waitForAudio(wg *sync.WaitGroup, stream *tts.Stream) {
	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	timeout := c.cfg.SynthesisTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-doneCh:
	case <-timer.C:
		_ = c.sendPriorityJSON(protocol.ServerWarning{
			Type: "warning", Code: "synthesis_failed",
			Message: "speech synthesis timed out",
		})
	case <-c.ctx.Done():
	}
	stream.Close()
	<-doneCh
}
