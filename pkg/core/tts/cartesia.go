package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"
	cartesiaModel   = "sonic-2"
)

// Cartesia synthesizes speech via Cartesia's streaming WebSocket API.
type Cartesia struct {
	apiKey string
	wsURL  string
}

// NewCartesia creates a Cartesia synthesis provider.
func NewCartesia(apiKey string) *Cartesia {
	return &Cartesia{apiKey: apiKey, wsURL: cartesiaWSURL}
}

// NewCartesiaWithURL creates a provider against a custom endpoint, used in
// tests.
func NewCartesiaWithURL(apiKey, wsURL string) *Cartesia {
	return &Cartesia{apiKey: apiKey, wsURL: wsURL}
}

func (c *Cartesia) Name() string { return "cartesia" }

// NewStream opens an incremental synthesis stream. Each SendText call carries
// continue=true until the final chunk; Cartesia closes the context after a
// chunk with continue=false and rejects anything sent later.
func (c *Cartesia) NewStream(ctx context.Context, opts StreamOptions) (*Stream, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 24000
	}
	maxBufferDelay := opts.MaxBufferDelayMs
	if maxBufferDelay == 0 {
		maxBufferDelay = 500
	}

	baseReq := cartesiaStreamRequest{
		ModelID: cartesiaModel,
		Voice: cartesiaVoiceSpec{
			Mode: "id",
			ID:   opts.Voice,
		},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		},
		ContextID:        nextContextID(),
		MaxBufferDelayMs: maxBufferDelay,
	}
	if opts.Language != "" {
		baseReq.Language = &opts.Language
	}

	stream := NewStream()

	var writeMu sync.Mutex
	stream.SendFunc = func(text string, final bool) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		req := baseReq
		req.Transcript = text
		req.Continue = !final
		return conn.WriteJSON(req)
	}
	stream.CloseFunc = func() error {
		return conn.Close()
	}

	go func() {
		defer stream.FinishAudio()
		defer conn.Close()

		for {
			select {
			case <-ctx.Done():
				stream.SetError(ctx.Err())
				return
			case <-stream.Done():
				return
			default:
			}

			var msg cartesiaStreamResponse
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				stream.SetError(err)
				return
			}

			switch msg.Type {
			case "chunk":
				audio, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					stream.SetError(fmt.Errorf("decode audio: %w", err))
					return
				}
				if !stream.PushAudio(audio) {
					return
				}
			case "done":
				return
			case "flush_done":
				continue
			case "error":
				stream.SetError(fmt.Errorf("cartesia error: %s", msg.Error))
				return
			}
		}
	}()

	return stream, nil
}

type cartesiaStreamRequest struct {
	ModelID          string               `json:"model_id"`
	Transcript       string               `json:"transcript"`
	Voice            cartesiaVoiceSpec    `json:"voice"`
	OutputFormat     cartesiaOutputFormat `json:"output_format"`
	ContextID        string               `json:"context_id"`
	Continue         bool                 `json:"continue"`
	MaxBufferDelayMs int                  `json:"max_buffer_delay_ms,omitempty"`
	Language         *string              `json:"language,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaStreamResponse struct {
	Type       string `json:"type"` // "chunk", "done", "flush_done", "error"
	Data       string `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

var contextCounter atomic.Uint64

func nextContextID() string {
	return fmt.Sprintf("ctx_%d", contextCounter.Add(1))
}
