package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/attune-voice/attune/pkg/core/llm"
	"github.com/attune-voice/attune/pkg/core/stt"
	"github.com/attune-voice/attune/pkg/core/tts"
	"github.com/attune-voice/attune/pkg/gateway/auth"
	"github.com/attune-voice/attune/pkg/gateway/live/channels"
	"github.com/attune-voice/attune/pkg/gateway/live/protocol"
	"github.com/attune-voice/attune/pkg/session"
	"github.com/attune-voice/attune/pkg/store"
)

type idleSTTStream struct {
	deltas chan stt.Delta
}

func (s *idleSTTStream) SendAudio([]byte) error   { return nil }
func (s *idleSTTStream) Finalize() error          { return nil }
func (s *idleSTTStream) Deltas() <-chan stt.Delta { return s.deltas }
func (s *idleSTTStream) Close() error             { return nil }

type idleSTT struct{}

func (idleSTT) Name() string { return "idle-stt" }
func (idleSTT) NewStream(context.Context, stt.StreamConfig) (stt.Stream, error) {
	return &idleSTTStream{deltas: make(chan stt.Delta)}, nil
}

type emptyLLM struct{}

func (emptyLLM) Name() string { return "empty-llm" }
func (emptyLLM) StreamReply(context.Context, llm.Request) (*llm.ReplyStream, error) {
	return llm.NewReplyStream(func() (string, error) { return "", io.EOF }, func() {}), nil
}

type silentTTS struct{}

func (silentTTS) Name() string { return "silent-tts" }
func (silentTTS) NewStream(context.Context, tts.StreamOptions) (*tts.Stream, error) {
	st := tts.NewStream()
	st.SendFunc = func(text string, final bool) error {
		if final {
			st.FinishAudio()
		}
		return nil
	}
	return st, nil
}

type liveFixture struct {
	mgr       *session.Manager
	store     *store.Memory
	srv       *httptest.Server
	sessionID string
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()
	mem := store.NewMemory()
	mgr := session.NewManager(mem, session.NewMemoryPauseStore(), 5*time.Minute, slog.New(slog.DiscardHandler))
	rec, err := mgr.Create(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cfg := validConfig()
	cfg.SampleRate = 16000
	cfg.OutputSampleRate = 24000
	cfg.WSPingInterval = time.Second
	cfg.WSWriteTimeout = time.Second
	cfg.TurnTimeout = 5 * time.Second
	cfg.SynthesisTimeout = 2 * time.Second

	handler := LiveHandler{
		Config:   cfg,
		Logger:   slog.New(slog.DiscardHandler),
		Sessions: mgr,
		STT:      idleSTT{},
		LLM:      emptyLLM{},
		TTS:      silentTTS{},
		Tracker:  channels.NewTracker(),
	}

	// Stand in for the auth middleware.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithPrincipal(r.Context(), auth.Principal{OwnerID: "owner_1"})
		handler.ServeHTTP(w, r.WithContext(ctx))
	}))
	t.Cleanup(srv.Close)

	return &liveFixture{mgr: mgr, store: mem, srv: srv, sessionID: rec.ID}
}

func (f *liveFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func pcmHello(sessionID string, resume bool) protocol.ClientHello {
	return protocol.ClientHello{
		Type:            "hello",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		Resume:          resume,
		AudioIn:         protocol.AudioFormat{Encoding: "pcm_s16le", SampleRateHz: 16000, Channels: 1},
	}
}

func TestLiveHandshakeAck(t *testing.T) {
	f := newLiveFixture(t)
	conn := f.dial(t)

	if err := conn.WriteJSON(pcmHello(f.sessionID, false)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var ack protocol.ServerHelloAck
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ack.Type != "hello_ack" || ack.SessionID != f.sessionID {
		t.Fatalf("ack=%+v", ack)
	}
	if ack.Resumed || ack.NextSeq != 1 {
		t.Fatalf("fresh session: resumed=%v next_seq=%d", ack.Resumed, ack.NextSeq)
	}
	if ack.AudioOut.SampleRateHz != 24000 || ack.AudioOut.Encoding != "pcm_s16le" {
		t.Fatalf("audio_out=%+v", ack.AudioOut)
	}
	if ack.Limits == nil || ack.Limits.SilenceCommitMS != 600 {
		t.Fatalf("limits=%+v", ack.Limits)
	}

	rec, err := f.store.GetSession(context.Background(), f.sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.State != store.StateActive {
		t.Fatalf("state=%s, want active", rec.State)
	}
}

func TestLiveResumeReportsNextSeq(t *testing.T) {
	f := newLiveFixture(t)
	ctx := context.Background()
	if _, _, err := f.mgr.Activate(ctx, "owner_1", f.sessionID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := f.mgr.AppendUserTurn(ctx, f.sessionID, "hello"); err != nil {
		t.Fatalf("AppendUserTurn: %v", err)
	}
	if err := f.mgr.Pause(ctx, f.sessionID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	conn := f.dial(t)
	if err := conn.WriteJSON(pcmHello(f.sessionID, true)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var ack protocol.ServerHelloAck
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if !ack.Resumed {
		t.Fatalf("expected resumed ack, got %+v", ack)
	}
	if ack.NextSeq != 2 {
		t.Fatalf("next_seq=%d, want 2", ack.NextSeq)
	}
}

func TestLiveRejectsBadHello(t *testing.T) {
	f := newLiveFixture(t)
	conn := f.dial(t)

	hello := pcmHello("", false)
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var errFrame protocol.ServerError
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&errFrame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if errFrame.Type != "error" || errFrame.Code != "bad_request" || !errFrame.Close {
		t.Fatalf("frame=%+v", errFrame)
	}
}

func TestLiveRejectsWrongSampleRate(t *testing.T) {
	f := newLiveFixture(t)
	conn := f.dial(t)

	hello := pcmHello(f.sessionID, false)
	hello.AudioIn.SampleRateHz = 44100
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var errFrame protocol.ServerError
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&errFrame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if errFrame.Code != "unsupported" {
		t.Fatalf("frame=%+v", errFrame)
	}
}

func TestLiveSecondConnectionTakesOver(t *testing.T) {
	f := newLiveFixture(t)

	first := f.dial(t)
	if err := first.WriteJSON(pcmHello(f.sessionID, false)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var ack protocol.ServerHelloAck
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := first.ReadJSON(&ack); err != nil {
		t.Fatalf("first ReadJSON: %v", err)
	}

	second := f.dial(t)
	if err := second.WriteJSON(pcmHello(f.sessionID, false)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var ack2 protocol.ServerHelloAck
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := second.ReadJSON(&ack2); err != nil {
		t.Fatalf("second ReadJSON: %v", err)
	}
	if ack2.Type != "hello_ack" || !ack2.Resumed {
		t.Fatalf("takeover ack = %+v, want resumed hello_ack", ack2)
	}

	// The displaced connection hears about it before it is cut off. Other
	// frames (the greeting reply) may arrive first.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame map[string]any
		if err := first.ReadJSON(&frame); err != nil {
			t.Fatalf("superseded warning never arrived: %v", err)
		}
		if frame["type"] == "warning" && frame["code"] == "superseded" {
			break
		}
	}

	// The session stays active under the new connection; the displaced one
	// must not pause it on the way out.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := f.store.GetSession(context.Background(), f.sessionID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if rec.State == store.StatePaused {
			t.Fatalf("takeover paused the session")
		}
		if time.Now().After(deadline) {
			if rec.State != store.StateActive {
				t.Fatalf("state=%s, want active", rec.State)
			}
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestLiveResumePastWindowExpires(t *testing.T) {
	mem := store.NewMemory()
	// A one-millisecond window lapses before the client reconnects.
	mgr := session.NewManager(mem, session.NewMemoryPauseStore(), time.Millisecond, slog.New(slog.DiscardHandler))
	ctx := context.Background()
	rec, err := mgr.Create(ctx, "owner_1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := mgr.Activate(ctx, "owner_1", rec.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := mgr.Pause(ctx, rec.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	cfg := validConfig()
	cfg.SampleRate = 16000
	handler := LiveHandler{
		Config:   cfg,
		Logger:   slog.New(slog.DiscardHandler),
		Sessions: mgr,
		STT:      idleSTT{},
		LLM:      emptyLLM{},
		TTS:      silentTTS{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{OwnerID: "owner_1"})))
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteJSON(pcmHello(rec.ID, true)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var errFrame protocol.ServerError
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&errFrame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if errFrame.Code != "session_expired" || !errFrame.Close {
		t.Fatalf("frame=%+v", errFrame)
	}

	got, err := mem.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.State != store.StateClosed {
		t.Fatalf("state=%s, want closed", got.State)
	}
}
