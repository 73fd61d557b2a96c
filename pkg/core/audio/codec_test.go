package audio

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/attune-voice/attune/pkg/core"
)

func pcmFormat() Format {
	return Format{Encoding: EncodingPCMS16LE, SampleRateHz: 16000, Channels: 1}
}

func TestFormatValidate(t *testing.T) {
	if err := pcmFormat().Validate(); err != nil {
		t.Fatalf("valid format rejected: %v", err)
	}
	bad := []Format{
		{Encoding: "mp3", SampleRateHz: 16000, Channels: 1},
		{Encoding: EncodingPCMS16LE, SampleRateHz: 0, Channels: 1},
		{Encoding: EncodingPCMS16LE, SampleRateHz: 16000, Channels: 2},
	}
	for _, f := range bad {
		err := f.Validate()
		if err == nil {
			t.Fatalf("format %+v should be rejected", f)
		}
		if !core.IsType(err, core.ErrUnsupportedFormat) {
			t.Fatalf("err=%v, want unsupported_format", err)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	f := pcmFormat()
	// 16000 Hz * 2 bytes = 32000 bytes/s, so 3200 bytes is 100ms.
	if got := f.Duration(3200); got != 100*time.Millisecond {
		t.Fatalf("Duration=%v, want 100ms", got)
	}
	if got := (Format{}).Duration(3200); got != 0 {
		t.Fatalf("zero-format Duration=%v, want 0", got)
	}
}

func TestDecodeWireFrameRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	decoded, err := DecodeWireFrame(EncodeWireFrame(pcm), pcmFormat())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Fatalf("decoded=%v, want %v", decoded, pcm)
	}
}

func TestDecodeWireFrameRejectsBadPayloads(t *testing.T) {
	if _, err := DecodeWireFrame("not base64!!!", pcmFormat()); !core.IsType(err, core.ErrUnsupportedFormat) {
		t.Fatalf("invalid base64: err=%v", err)
	}
	odd := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})
	if _, err := DecodeWireFrame(odd, pcmFormat()); !core.IsType(err, core.ErrUnsupportedFormat) {
		t.Fatalf("odd byte count: err=%v", err)
	}
	if _, err := DecodeWireFrame(EncodeWireFrame([]byte{0, 0}), Format{Encoding: "opus", SampleRateHz: 48000, Channels: 1}); err == nil {
		t.Fatalf("expected unsupported encoding to fail")
	}
}

func TestRMSEnergy(t *testing.T) {
	if got := RMSEnergy(nil); got != 0 {
		t.Fatalf("empty RMSEnergy=%v, want 0", got)
	}
	silence := make([]byte, 320)
	if got := RMSEnergy(silence); got != 0 {
		t.Fatalf("silence RMSEnergy=%v, want 0", got)
	}
	// Full-scale square wave has RMS ~1.0.
	loud := make([]byte, 0, 320)
	for i := 0; i < 160; i++ {
		loud = append(loud, 0xFF, 0x7F) // 32767 little-endian
	}
	if got := RMSEnergy(loud); got < 0.99 {
		t.Fatalf("full-scale RMSEnergy=%v, want ~1.0", got)
	}
}
