// Package audio converts between the wire audio representation and the
// PCM format the pipeline stages operate on.
package audio

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/attune-voice/attune/pkg/core"
)

// EncodingPCMS16LE is the only pipeline-internal encoding: 16-bit signed
// little-endian PCM, mono.
const EncodingPCMS16LE = "pcm_s16le"

// Format describes the shape of an audio stream.
type Format struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// Validate checks that the format is one the pipeline can carry. Failures
// are fatal to the current utterance only.
func (f Format) Validate() error {
	if !strings.EqualFold(strings.TrimSpace(f.Encoding), EncodingPCMS16LE) {
		return core.NewUnsupportedFormatError(fmt.Sprintf("encoding %q is not supported, want %s", f.Encoding, EncodingPCMS16LE))
	}
	if f.SampleRateHz <= 0 {
		return core.NewUnsupportedFormatError("sample rate must be positive")
	}
	if f.Channels != 1 {
		return core.NewUnsupportedFormatError("only mono audio is supported")
	}
	return nil
}

// BytesPerSecond returns the PCM byte rate for the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRateHz * f.Channels * 2
}

// Duration returns the play time of n PCM bytes in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Frame is one transient unit of pipeline audio. Frames live only for the
// duration of a single pipeline pass and are never retained once the
// corresponding turn is finalized.
type Frame struct {
	Seq          int64
	PCM          []byte
	EndUtterance bool
}

// DecodeWireFrame decodes a base64 wire payload into pipeline PCM bytes,
// validating it against the negotiated format.
func DecodeWireFrame(dataB64 string, format Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	pcm, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return nil, core.NewUnsupportedFormatError("frame payload is not valid base64")
	}
	if len(pcm)%2 != 0 {
		return nil, core.NewUnsupportedFormatError("pcm_s16le payload must be an even number of bytes")
	}
	return pcm, nil
}

// EncodeWireFrame encodes pipeline PCM bytes for the wire.
func EncodeWireFrame(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM. Returns a value between 0.0 and 1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}
