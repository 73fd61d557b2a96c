// Package protocol defines the live WebSocket wire frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes negotiated live audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ClientHello opens a live connection. SessionID names the session to
// activate; set Resume when reconnecting to a paused session.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Client          HelloClient `json:"client,omitempty"`
	SessionID       string      `json:"session_id"`
	Resume          bool        `json:"resume,omitempty"`
	AudioIn         AudioFormat `json:"audio_in"`
	VoiceID         string      `json:"voice_id,omitempty"`
}

type ClientAudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	DataB64 string `json:"data_b64"`
}

// ClientAudioStreamEnd marks the end of the current utterance explicitly,
// instead of waiting for the silence timeout.
type ClientAudioStreamEnd struct {
	Type string `json:"type"`
}

type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// Control operations.
const (
	OpInterrupt  = "interrupt"
	OpCancelTurn = "cancel_turn"
	OpEndSession = "end_session"
)

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "audio_frame":
		var msg ClientAudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "audio_stream_end":
		return ClientAudioStreamEnd{Type: typ}, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case OpInterrupt, OpCancelTurn, OpEndSession:
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	if strings.TrimSpace(msg.SessionID) == "" {
		return badRequest("hello.session_id is required", "session_id")
	}
	if strings.TrimSpace(msg.AudioIn.Encoding) == "" {
		return badRequest("hello.audio_in.encoding is required", "audio_in.encoding")
	}
	if msg.AudioIn.SampleRateHz <= 0 {
		return badRequest("hello.audio_in.sample_rate_hz must be > 0", "audio_in.sample_rate_hz")
	}
	if msg.AudioIn.Channels <= 0 {
		return badRequest("hello.audio_in.channels must be > 0", "audio_in.channels")
	}
	return nil
}

type HelloAckLimits struct {
	MaxAudioFrameBytes  int   `json:"max_audio_frame_bytes"`
	MaxJSONMessageBytes int   `json:"max_json_message_bytes"`
	MaxAudioBPS         int64 `json:"max_audio_bps,omitempty"`
	InboundBurstSeconds int   `json:"inbound_burst_seconds,omitempty"`
	SilenceCommitMS     int   `json:"silence_commit_ms"`
	TurnTimeoutMS       int   `json:"turn_timeout_ms,omitempty"`
}

// ServerHelloAck acknowledges the handshake. Resumed reports whether a
// paused session was picked back up; NextSeq is the sequence number the next
// committed turn will take.
type ServerHelloAck struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	Resumed         bool            `json:"resumed"`
	NextSeq         int64           `json:"next_seq"`
	AudioIn         AudioFormat     `json:"audio_in"`
	AudioOut        AudioFormat     `json:"audio_out"`
	Limits          *HelloAckLimits `json:"limits,omitempty"`
}

type ServerError struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Close     bool   `json:"close,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ServerTranscriptDelta struct {
	Type        string `json:"type"`
	UtteranceID string `json:"utterance_id"`
	IsFinal     bool   `json:"is_final"`
	Text        string `json:"text"`
}

type ServerUtteranceFinal struct {
	Type        string `json:"type"`
	UtteranceID string `json:"utterance_id"`
	Text        string `json:"text"`
}

// ServerTurnCommitted is emitted only after the turn is durably appended to
// the turn log.
type ServerTurnCommitted struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type ServerAssistantTextDelta struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`
	Text string `json:"text"`
}

type ServerAssistantTextFinal struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`
	Text string `json:"text"`
}

type ServerAssistantAudioStart struct {
	Type   string      `json:"type"`
	Seq    int64       `json:"seq"`
	Format AudioFormat `json:"format"`
}

type ServerAssistantAudioChunk struct {
	Type     string `json:"type"`
	Seq      int64  `json:"seq"`
	ChunkSeq int64  `json:"chunk_seq"`
	AudioB64 string `json:"audio_b64"`
}

type ServerAssistantAudioEnd struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`
}
