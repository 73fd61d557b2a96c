package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"
)

// Cartesia implements Provider using Cartesia's streaming STT API.
type Cartesia struct {
	apiKey string
	wsURL  string
}

// NewCartesia creates a new Cartesia STT provider.
func NewCartesia(apiKey string) *Cartesia {
	return &Cartesia{apiKey: apiKey, wsURL: cartesiaWSURL}
}

// NewCartesiaWithURL creates a provider pointed at a custom websocket
// endpoint. Used by tests.
func NewCartesiaWithURL(apiKey, wsURL string) *Cartesia {
	return &Cartesia{apiKey: apiKey, wsURL: wsURL}
}

// Name returns the provider identifier.
func (c *Cartesia) Name() string {
	return "cartesia"
}

// NewStream opens a streaming transcription session via WebSocket.
func (c *Cartesia) NewStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "ink-whisper"
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", language)
	q.Set("encoding", encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	// Utterance boundaries are decided upstream by the silence timer, so do
	// not set max_silence_duration_secs; Cartesia then streams interim
	// transcripts continuously. min_volume filters background noise.
	q.Set("min_volume", "0.01")
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &cartesiaStream{
		conn:   conn,
		deltas: make(chan Delta, 100),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.readLoop()
	return s, nil
}

type cartesiaStream struct {
	conn    *websocket.Conn
	deltas  chan Delta
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

type cartesiaSTTMessage struct {
	Type        string  `json:"type"` // "transcript", "flush_done", "done", "error"
	Text        string  `json:"text"`
	IsFinal     bool    `json:"is_final"`
	Probability float64 `json:"probability"`
	Duration    float64 `json:"duration"`
	Error       string  `json:"error"`
}

func (s *cartesiaStream) readLoop() {
	defer func() {
		close(s.deltas)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg cartesiaSTTMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			delta := Delta{Text: msg.Text, IsFinal: msg.IsFinal, Confidence: msg.Probability}
			select {
			case s.deltas <- delta:
			case <-s.ctx.Done():
				return
			}
		case "flush_done":
			continue
		case "done", "error":
			return
		}
	}
}

// SendAudio sends PCM bytes to the vendor session.
func (s *cartesiaStream) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("stt stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Finalize flushes remaining audio and signals the end of the utterance.
func (s *cartesiaStream) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("stt stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Deltas returns the channel of transcript deltas.
func (s *cartesiaStream) Deltas() <-chan Delta {
	return s.deltas
}

// Close closes the streaming session.
func (s *cartesiaStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
