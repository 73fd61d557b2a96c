package protocol

import "testing"

func TestDecodeHello(t *testing.T) {
	raw := []byte(`{
		"type": "hello",
		"protocol_version": "1",
		"session_id": "s1",
		"resume": true,
		"audio_in": {"encoding": "pcm_s16le", "sample_rate_hz": 16000, "channels": 1}
	}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	hello, ok := msg.(ClientHello)
	if !ok {
		t.Fatalf("message type = %T, want ClientHello", msg)
	}
	if hello.SessionID != "s1" || !hello.Resume {
		t.Fatalf("hello = %+v, want session s1 with resume", hello)
	}
}

func TestDecodeHelloValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"missing session", `{"type":"hello","protocol_version":"1","audio_in":{"encoding":"pcm_s16le","sample_rate_hz":16000,"channels":1}}`, "bad_request"},
		{"missing version", `{"type":"hello","session_id":"s1","audio_in":{"encoding":"pcm_s16le","sample_rate_hz":16000,"channels":1}}`, "bad_request"},
		{"unknown version", `{"type":"hello","protocol_version":"9","session_id":"s1","audio_in":{"encoding":"pcm_s16le","sample_rate_hz":16000,"channels":1}}`, "unsupported"},
		{"bad sample rate", `{"type":"hello","protocol_version":"1","session_id":"s1","audio_in":{"encoding":"pcm_s16le","sample_rate_hz":0,"channels":1}}`, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tt.raw))
			de, ok := err.(*DecodeError)
			if !ok {
				t.Fatalf("error = %v, want *DecodeError", err)
			}
			if de.Code != tt.code {
				t.Fatalf("Code = %q, want %q", de.Code, tt.code)
			}
		})
	}
}

func TestDecodeAudioFrame(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"audio_frame","seq":7,"data_b64":"AAAA"}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	frame, ok := msg.(ClientAudioFrame)
	if !ok || frame.Seq != 7 || frame.DataB64 != "AAAA" {
		t.Fatalf("frame = %+v (%T), want seq 7 with payload", msg, msg)
	}

	if _, err := DecodeClientMessage([]byte(`{"type":"audio_frame"}`)); err == nil {
		t.Fatal("empty audio_frame decoded, want error")
	}
}

func TestDecodeAudioStreamEnd(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"audio_stream_end"}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	if _, ok := msg.(ClientAudioStreamEnd); !ok {
		t.Fatalf("message type = %T, want ClientAudioStreamEnd", msg)
	}
}

func TestDecodeControl(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"control","op":" interrupt "}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	if ctl := msg.(ClientControl); ctl.Op != OpInterrupt {
		t.Fatalf("Op = %q, want %q", ctl.Op, OpInterrupt)
	}

	msg, err = DecodeClientMessage([]byte(`{"type":"control","op":"cancel_turn"}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	if ctl := msg.(ClientControl); ctl.Op != OpCancelTurn {
		t.Fatalf("Op = %q, want %q", ctl.Op, OpCancelTurn)
	}

	_, err = DecodeClientMessage([]byte(`{"type":"control","op":"reboot"}`))
	if de, ok := err.(*DecodeError); !ok || de.Code != "unsupported" {
		t.Fatalf("error = %v, want unsupported DecodeError", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":"telemetry"}`)); err == nil {
		t.Fatal("unknown type decoded, want error")
	}
	if _, err := DecodeClientMessage([]byte(`not json`)); err == nil {
		t.Fatal("invalid json decoded, want error")
	}
}
