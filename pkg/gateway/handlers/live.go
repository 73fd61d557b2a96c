package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/attune-voice/attune/pkg/core"
	"github.com/attune-voice/attune/pkg/core/llm"
	"github.com/attune-voice/attune/pkg/core/stt"
	"github.com/attune-voice/attune/pkg/core/tts"
	"github.com/attune-voice/attune/pkg/gateway/auth"
	"github.com/attune-voice/attune/pkg/gateway/config"
	"github.com/attune-voice/attune/pkg/gateway/live/channel"
	"github.com/attune-voice/attune/pkg/gateway/live/channels"
	"github.com/attune-voice/attune/pkg/gateway/live/protocol"
	"github.com/attune-voice/attune/pkg/session"
)

// LiveHandler upgrades /v1/live to a WebSocket and hands the connection to a
// channel. Session activation, resume, and the hello handshake happen here;
// everything after hello_ack is the channel's select loop.
type LiveHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Sessions *session.Manager
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider
	Tracker  *channels.Tracker
	Draining func() bool
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, core.NewInvalidRequestError("method not allowed"))
		return
	}
	if h.Draining != nil && h.Draining() {
		writeError(w, r, &core.Error{Type: core.ErrRateLimit, Message: "server is draining", Code: "draining"})
		return
	}
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok || principal.OwnerID == "" {
		writeError(w, r, core.NewUnauthorizedError("authentication required"))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(req *http.Request) bool {
			if len(h.Config.CORSAllowedOrigins) == 0 {
				return true
			}
			origin := req.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, allowed := h.Config.CORSAllowedOrigins[origin]
			return allowed
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello")
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello")
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		code := "bad_request"
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			code = de.Code
		}
		h.writeWSError(conn, code, err.Error())
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello")
		return
	}
	if !strings.EqualFold(hello.AudioIn.Encoding, "pcm_s16le") ||
		hello.AudioIn.SampleRateHz != h.Config.SampleRate ||
		hello.AudioIn.Channels != 1 {
		h.writeWSError(conn, "unsupported", "audio_in must be pcm_s16le mono at the advertised sample rate")
		return
	}

	rec, resumed, err := h.Sessions.Activate(r.Context(), principal.OwnerID, hello.SessionID)
	if err != nil {
		h.writeWSCoreError(conn, err)
		return
	}
	turns, err := h.Sessions.History(r.Context(), principal.OwnerID, rec.ID)
	if err != nil {
		h.writeWSCoreError(conn, err)
		return
	}

	voiceID := strings.TrimSpace(hello.VoiceID)
	if voiceID == "" {
		voiceID = h.Config.VoiceID
	}

	audioOut := protocol.AudioFormat{
		Encoding:     "pcm_s16le",
		SampleRateHz: h.Config.OutputSampleRate,
		Channels:     1,
	}
	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       rec.ID,
		Resumed:         resumed,
		NextSeq:         int64(len(turns)) + 1,
		AudioIn:         hello.AudioIn,
		AudioOut:        audioOut,
		Limits: &protocol.HelloAckLimits{
			MaxAudioFrameBytes:  h.Config.MaxAudioFrameBytes,
			MaxJSONMessageBytes: int(h.Config.MaxJSONMessageBytes),
			MaxAudioBPS:         h.Config.MaxAudioBytesPerSec,
			InboundBurstSeconds: h.Config.InboundBurstSeconds,
			SilenceCommitMS:     int(h.Config.SilenceCommitDuration / time.Millisecond),
			TurnTimeoutMS:       int(h.Config.TurnTimeout / time.Millisecond),
		},
	}
	if err := conn.WriteJSON(ack); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ch, err := channel.New(channel.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		Sessions:  h.Sessions,
		STT:       h.STT,
		LLM:       h.LLM,
		TTS:       h.TTS,
		Hello:     hello,
		SessionID: rec.ID,
		OwnerID:   principal.OwnerID,
		Resumed:   resumed,
		FreshLog:  len(turns) == 0,
		RequestID: requestIDFrom(r),
		Config: channel.Config{
			MaxAudioFrameBytes:  h.Config.MaxAudioFrameBytes,
			MaxJSONMessageBytes: h.Config.MaxJSONMessageBytes,
			MaxAudioBytesPerSec: h.Config.MaxAudioBytesPerSec,
			InboundBurstSeconds: h.Config.InboundBurstSeconds,
			SilenceCommit:       h.Config.SilenceCommitDuration,
			TurnTimeout:         h.Config.TurnTimeout,
			MaxSessionDuration:  h.Config.MaxSessionDuration,
			SynthesisTimeout:    h.Config.SynthesisTimeout,
			PingInterval:        h.Config.WSPingInterval,
			WriteTimeout:        h.Config.WSWriteTimeout,
			ReadTimeout:         h.Config.WSReadTimeout,
			ContextTokenBudget:  h.Config.ContextTokenBudget,
			SampleRate:          h.Config.SampleRate,
			OutputSampleRate:    h.Config.OutputSampleRate,
			VoiceID:             voiceID,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize connection")
		return
	}

	unregister := func() {}
	if h.Tracker != nil {
		unregister = h.Tracker.Register(rec.ID, channels.Handle{
			Cancel:    ch.Cancel,
			Supersede: ch.Supersede,
			Warn:      ch.SendWarning,
		})
	}
	defer unregister()

	if err := ch.Run(); err != nil {
		h.Logger.Warn("live connection ended with error",
			"session_id", rec.ID, "owner_id", principal.OwnerID, "error", err)
	}
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.ServerError{
		Type: "error", Code: code, Message: message, Close: true,
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(time.Second))
}

func (h LiveHandler) writeWSCoreError(conn *websocket.Conn, err error) {
	code := "internal"
	message := "internal error"
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		code = string(coreErr.Type)
		message = coreErr.Message
	}
	h.writeWSError(conn, code, message)
}
