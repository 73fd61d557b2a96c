// Package channel runs the live conversation loop over one WebSocket
// connection: inbound audio to transcription, utterance commit, reply
// generation, and synthesized audio back out.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/attune-voice/attune/pkg/core/audio"
	"github.com/attune-voice/attune/pkg/core/llm"
	"github.com/attune-voice/attune/pkg/core/stt"
	"github.com/attune-voice/attune/pkg/core/tts"
	"github.com/attune-voice/attune/pkg/gateway/live/protocol"
	"github.com/attune-voice/attune/pkg/session"
)

const (
	maxCanceledTurns          = 64
	outboundPriorityQueueSize = 8
)

type Config struct {
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	MaxAudioBytesPerSec int64
	InboundBurstSeconds int
	SilenceCommit       time.Duration
	TurnTimeout         time.Duration
	MaxSessionDuration  time.Duration
	SynthesisTimeout    time.Duration
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	OutboundQueueSize   int
	ContextTokenBudget  int
	SampleRate          int
	OutputSampleRate    int
	VoiceID             string
	STTModel            string
	Language            string
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Sessions  *session.Manager
	STT       stt.Provider
	LLM       llm.Provider
	TTS       tts.Provider
	Hello     protocol.ClientHello
	SessionID string
	OwnerID   string
	Resumed   bool
	// FreshLog marks a session with no committed turns yet; the assistant
	// greets first.
	FreshLog  bool
	RequestID string
	Config    Config
}

// Channel owns one live connection. A single goroutine runs the select loop;
// the outbound writer and at most one reply pipeline run alongside it.
type Channel struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	sessions  *session.Manager
	stt       stt.Provider
	llm       llm.Provider
	tts       tts.Provider
	hello     protocol.ClientHello
	sessionID string
	ownerID   string
	resumed   bool
	freshLog  bool
	requestID string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	canceledTurns atomic.Value // canceledTurnState
	superseded    atomic.Bool
	ended         bool
}

type outboundFrame struct {
	isAssistantAudio bool
	assistantSeq     int64
	payload          []byte
}

type canceledTurnState struct {
	set   map[int64]struct{}
	order []int64
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type pipeResult struct {
	seq         int64
	text        string
	interrupted bool
	err         error
}

func New(deps Dependencies) (*Channel, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.STT == nil {
		return nil, fmt.Errorf("stt provider is required")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if deps.TTS == nil {
		return nil, fmt.Errorf("tts provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.ContextTokenBudget <= 0 {
		deps.Config.ContextTokenBudget = 2048
	}
	if deps.Config.STTModel == "" {
		deps.Config.STTModel = "ink-whisper"
	}
	if deps.Config.Language == "" {
		deps.Config.Language = "en"
	}
	if deps.Config.OutputSampleRate <= 0 {
		deps.Config.OutputSampleRate = 24000
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		conn:             deps.Conn,
		logger:           deps.Logger,
		sessions:         deps.Sessions,
		stt:              deps.STT,
		llm:              deps.LLM,
		tts:              deps.TTS,
		hello:            deps.Hello,
		sessionID:        deps.SessionID,
		ownerID:          deps.OwnerID,
		resumed:          deps.Resumed,
		freshLog:         deps.FreshLog,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
	}
	c.canceledTurns.Store(canceledTurnState{set: make(map[int64]struct{})})
	return c, nil
}

// Run drives the connection until the client ends the session, disconnects,
// or a fatal error occurs. Disconnecting without end_session pauses the
// session so it can be resumed within the window.
func (c *Channel) Run() error {
	defer c.cancel()

	if c.cfg.MaxJSONMessageBytes > 0 {
		c.conn.SetReadLimit(c.cfg.MaxJSONMessageBytes)
	}
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		})
	}

	newSTTStream := func() (stt.Stream, error) {
		return c.stt.NewStream(c.ctx, stt.StreamConfig{
			Model:      c.cfg.STTModel,
			Language:   c.cfg.Language,
			Encoding:   c.hello.AudioIn.Encoding,
			SampleRate: c.hello.AudioIn.SampleRateHz,
		})
	}
	sttStream, err := newSTTStream()
	if err != nil {
		_ = c.sendPriorityJSON(protocol.ServerWarning{Type: "warning", Code: "provider_error", Message: "failed to initialize transcription"})
		return err
	}
	// The stream variable is rebound when transcription is reopened, so the
	// deferred close has to read it late.
	defer func() { sttStream.Close() }()

	limiter := newInboundAudioLimiter(time.Now, c.cfg.MaxAudioBytesPerSec, c.cfg.InboundBurstSeconds)

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go c.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:         c.conn,
			ctx:        c.ctx,
			cfg:        c.cfg,
			priority:   c.outboundPriority,
			normal:     c.outboundNormal,
			isCanceled: c.isTurnCanceled,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	flushAndClose := func() error {
		c.cancel()
		wait := 100 * time.Millisecond
		if c.cfg.WriteTimeout > 0 && c.cfg.WriteTimeout < wait {
			wait = c.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
		return nil
	}

	pipeDoneCh := make(chan pipeResult, 4)
	assistantStartCh := make(chan int64, 4)

	var wg sync.WaitGroup
	defer wg.Wait()

	// Disconnect without end_session pauses the session for later resume. A
	// superseded connection skips the pause: the session now belongs to the
	// connection that displaced this one.
	defer func() {
		if c.ended || c.superseded.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.sessions.Pause(ctx, c.sessionID); err != nil {
			c.logger.Warn("pause on disconnect", "session_id", c.sessionID, "error", err)
		}
	}()

	var (
		silenceTimer     *time.Timer
		silenceActive    bool
		currentText      string
		currentUtterID   string
		utteranceCounter int64

		pipeActive   bool
		pipeCancel   context.CancelFunc
		activeSeq    int64
		pendingTurns int
	)

	stopSilence := func() {
		if silenceTimer == nil {
			return
		}
		if !silenceTimer.Stop() {
			select {
			case <-silenceTimer.C:
			default:
			}
		}
		silenceActive = false
	}
	resetSilence := func() {
		if silenceTimer == nil {
			silenceTimer = time.NewTimer(c.cfg.SilenceCommit)
			silenceActive = true
			return
		}
		if !silenceTimer.Stop() {
			select {
			case <-silenceTimer.C:
			default:
			}
		}
		silenceTimer.Reset(c.cfg.SilenceCommit)
		silenceActive = true
	}
	silenceCh := func() <-chan time.Time {
		if !silenceActive || silenceTimer == nil {
			return nil
		}
		return silenceTimer.C
	}
	defer func() {
		if silenceTimer != nil {
			silenceTimer.Stop()
		}
	}()

	nextUtteranceID := func() string {
		utteranceCounter++
		return fmt.Sprintf("u_%d", utteranceCounter)
	}

	// A malformed frame throws away the utterance being built, not the
	// connection.
	discardUtterance := func() {
		currentText = ""
		currentUtterID = ""
		stopSilence()
	}

	// Whole-session time cap, disabled when zero.
	var sessionDeadline <-chan time.Time
	if c.cfg.MaxSessionDuration > 0 {
		sessionTimer := time.NewTimer(c.cfg.MaxSessionDuration)
		defer sessionTimer.Stop()
		sessionDeadline = sessionTimer.C
	}

	startPipeline := func(window []llm.Turn) {
		var pipeCtx context.Context
		var cancel context.CancelFunc
		if c.cfg.TurnTimeout > 0 {
			pipeCtx, cancel = context.WithTimeout(c.ctx, c.cfg.TurnTimeout)
		} else {
			pipeCtx, cancel = context.WithCancel(c.ctx)
		}
		pipeActive = true
		pipeCancel = cancel
		activeSeq = 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			c.runPipeline(pipeCtx, window, assistantStartCh, pipeDoneCh)
		}()
	}

	interrupt := func() {
		if !pipeActive {
			return
		}
		if activeSeq > 0 {
			c.cancelTurnAudio(activeSeq)
		}
		if pipeCancel != nil {
			pipeCancel()
		}
	}

	endSession := func(code, message string) error {
		interrupt()
		ctx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.sessions.CloseSession(ctx, c.sessionID)
		cancelClose()
		if err != nil {
			c.logger.Warn("close session", "session_id", c.sessionID, "error", err)
		}
		c.ended = true
		_ = c.sendPriorityJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
		return flushAndClose()
	}

	commitUtterance := func() error {
		trimmed := strings.TrimSpace(currentText)
		utterID := currentUtterID
		currentText = ""
		currentUtterID = ""
		stopSilence()
		if trimmed == "" {
			return nil
		}
		if utterID == "" {
			utterID = nextUtteranceID()
		}
		if err := c.sendJSON(c.ctx, protocol.ServerUtteranceFinal{
			Type:        "utterance_final",
			UtteranceID: utterID,
			Text:        trimmed,
		}); err != nil {
			return err
		}
		_ = sttStream.Finalize()

		// Durable append precedes the committed event.
		turn, err := c.sessions.AppendUserTurn(c.ctx, c.sessionID, trimmed)
		if err != nil {
			_ = c.sendPriorityJSON(protocol.ServerError{
				Type: "error", Code: "persistence_failure",
				Message: "failed to record turn", Close: true,
			})
			return err
		}
		if err := c.sendJSON(c.ctx, protocol.ServerTurnCommitted{
			Type: "turn_committed", Seq: turn.Seq, Speaker: turn.Speaker, Text: turn.Content,
		}); err != nil {
			return err
		}

		// One reply pipeline in flight; later utterances queue in order.
		if pipeActive {
			pendingTurns++
		} else {
			startPipeline(nil)
		}
		return nil
	}

	// A brand-new session hears the assistant first.
	if c.freshLog && !c.resumed {
		startPipeline([]llm.Turn{{Speaker: llm.SpeakerUser, Text: llm.GreetingPrompt}})
	}

	for {
		select {
		case <-c.ctx.Done():
			return nil

		case err := <-writerErrCh:
			return err

		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				return nil
			}
			if frame.messageType != websocket.TextMessage {
				if err := c.sendPriorityJSON(protocol.ServerError{
					Type: "error", Code: "bad_request",
					Message: "binary frames are not supported", Close: true,
				}); err != nil {
					return err
				}
				return flushAndClose()
			}
			msg, decErr := protocol.DecodeClientMessage(frame.data)
			if decErr != nil {
				code := "bad_request"
				if de, ok := decErr.(*protocol.DecodeError); ok {
					code = de.Code
				}
				if err := c.sendPriorityJSON(protocol.ServerError{
					Type: "error", Code: code, Message: decErr.Error(), Close: true,
				}); err != nil {
					return err
				}
				return flushAndClose()
			}
			switch m := msg.(type) {
			case protocol.ClientHello:
				if err := c.sendPriorityJSON(protocol.ServerError{
					Type: "error", Code: "bad_request",
					Message: "hello is only valid as the first message", Close: true,
				}); err != nil {
					return err
				}
				return flushAndClose()

			case protocol.ClientAudioFrame:
				pcm, err := audio.DecodeWireFrame(m.DataB64, audio.Format{
					Encoding:     c.hello.AudioIn.Encoding,
					SampleRateHz: c.hello.AudioIn.SampleRateHz,
					Channels:     c.hello.AudioIn.Channels,
				})
				// A codec failure loses the current utterance, never the
				// session.
				if err != nil {
					discardUtterance()
					if serr := c.sendPriorityJSON(protocol.ServerWarning{
						Type: "warning", Code: "unsupported_format",
						Message: "invalid audio_frame payload, utterance discarded",
					}); serr != nil {
						return serr
					}
					continue
				}
				if len(pcm) > c.cfg.MaxAudioFrameBytes {
					discardUtterance()
					if serr := c.sendPriorityJSON(protocol.ServerWarning{
						Type: "warning", Code: "frame_too_large",
						Message: "audio frame exceeds max size, utterance discarded",
					}); serr != nil {
						return serr
					}
					continue
				}
				if !limiter.Allow(len(pcm)) {
					if serr := c.sendPriorityJSON(protocol.ServerError{
						Type: "error", Code: "rate_limited",
						Message: "inbound audio rate limit exceeded", Close: true,
					}); serr != nil {
						return serr
					}
					return flushAndClose()
				}
				if err := sttStream.SendAudio(pcm); err != nil {
					_ = c.sendPriorityJSON(protocol.ServerWarning{
						Type: "warning", Code: "provider_error",
						Message: "failed to forward audio frame",
					})
					return err
				}

			case protocol.ClientAudioStreamEnd:
				// Explicit end-of-utterance marker; no need to wait out the
				// silence timer.
				if err := commitUtterance(); err != nil {
					return err
				}

			case protocol.ClientControl:
				switch m.Op {
				case protocol.OpInterrupt, protocol.OpCancelTurn:
					interrupt()
				case protocol.OpEndSession:
					return endSession("session_end", "session ended by client request")
				}
			}

		case delta, ok := <-sttStream.Deltas():
			if !ok {
				// Vendor ended the stream mid-session. The utterance in
				// flight is lost; tell the client to repeat and reopen.
				sttStream.Close()
				discardUtterance()
				if serr := c.sendPriorityJSON(protocol.ServerWarning{
					Type: "warning", Code: "transcription_failed",
					Message: "transcription interrupted, please repeat",
				}); serr != nil {
					return serr
				}
				reopened, err := newSTTStream()
				if err != nil {
					_ = c.sendPriorityJSON(protocol.ServerError{
						Type: "error", Code: "transcription_failed",
						Message: "transcription unavailable", Close: true,
					})
					return err
				}
				sttStream = reopened
				continue
			}
			trimmed := strings.TrimSpace(delta.Text)
			if trimmed == "" {
				continue
			}
			if currentUtterID == "" {
				currentUtterID = nextUtteranceID()
			}
			if err := c.sendJSON(c.ctx, protocol.ServerTranscriptDelta{
				Type:        "transcript_delta",
				UtteranceID: currentUtterID,
				IsFinal:     delta.IsFinal,
				Text:        trimmed,
			}); err != nil {
				return err
			}
			currentText = trimmed
			resetSilence()
			// Barge-in: user speech while the assistant is replying cancels
			// the in-flight reply.
			if pipeActive {
				interrupt()
			}

		case <-silenceCh():
			if err := commitUtterance(); err != nil {
				return err
			}

		case <-sessionDeadline:
			return endSession("session_timeout", "maximum session duration reached")

		case seq := <-assistantStartCh:
			if pipeActive {
				activeSeq = seq
			}

		case res := <-pipeDoneCh:
			pipeActive = false
			pipeCancel = nil
			activeSeq = 0
			if res.err != nil {
				c.logger.Warn("reply pipeline failed",
					"session_id", c.sessionID, "seq", res.seq, "error", res.err)
			}
			if pendingTurns > 0 {
				pendingTurns--
				startPipeline(nil)
			}
		}
	}
}

// Cancel aborts the connection. The select loop exits and the deferred
// pause still runs, so the session stays resumable.
func (c *Channel) Cancel() { c.cancel() }

// Supersede aborts the connection without pausing the session, which has
// been taken over by another connection.
func (c *Channel) Supersede() {
	c.superseded.Store(true)
	c.cancel()
}

// SendWarning queues a best-effort warning frame, used during drain and
// when another connection takes over the session.
func (c *Channel) SendWarning(code, message string) error {
	return c.sendPriorityJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func (c *Channel) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-c.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Channel) sendJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.outboundNormal <- outboundFrame{payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *Channel) sendPriorityJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.outboundPriority <- outboundFrame{payload: payload}:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// sendAudio queues one assistant audio chunk. The bounded queue makes this
// block when the client falls behind, pausing synthesis upstream.
func (c *Channel) sendAudio(ctx context.Context, seq, chunkSeq int64, pcm []byte) error {
	payload, err := json.Marshal(protocol.ServerAssistantAudioChunk{
		Type:     "assistant_audio_chunk",
		Seq:      seq,
		ChunkSeq: chunkSeq,
		AudioB64: audio.EncodeWireFrame(pcm),
	})
	if err != nil {
		return err
	}
	select {
	case c.outboundNormal <- outboundFrame{isAssistantAudio: true, assistantSeq: seq, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *Channel) cancelTurnAudio(seq int64) {
	state, _ := c.canceledTurns.Load().(canceledTurnState)
	next := canceledTurnState{
		set:   make(map[int64]struct{}, len(state.set)+1),
		order: append([]int64{}, state.order...),
	}
	for k := range state.set {
		next.set[k] = struct{}{}
	}
	if _, ok := next.set[seq]; !ok {
		next.set[seq] = struct{}{}
		next.order = append(next.order, seq)
		for len(next.order) > maxCanceledTurns {
			delete(next.set, next.order[0])
			next.order = next.order[1:]
		}
	}
	c.canceledTurns.Store(next)
}

func (c *Channel) isTurnCanceled(seq int64) bool {
	state, _ := c.canceledTurns.Load().(canceledTurnState)
	_, ok := state.set[seq]
	return ok
}
