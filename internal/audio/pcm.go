package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Wire formats for the live session. Input is what the client microphone
// produces, output is what the model streams back.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	Channels         = 1

	InputMIMEType = "audio/pcm;rate=16000"
)

// Frame is one outbound chunk of base64-encoded 16-bit LE PCM plus its
// MIME-like format descriptor.
type Frame struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// EncodeFrame converts float samples in [-1, 1] to 16-bit signed LE PCM and
// wraps them in a transport-safe base64 frame tagged with the input format.
func EncodeFrame(samples []float32) Frame {
	return Frame{
		Data:     base64.StdEncoding.EncodeToString(FloatToPCM16(samples)),
		MIMEType: InputMIMEType,
	}
}

// FloatToPCM16 converts float samples in [-1, 1] to 16-bit signed
// little-endian PCM bytes. Values are scaled by 32768 and clamped to the
// int16 range.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat converts 16-bit signed little-endian PCM bytes to float
// samples normalized by 32768. A trailing odd byte is an encoding error.
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm: odd byte count %d", len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768.0
	}
	return out, nil
}

// DecodePayload decodes a base64 audio payload into raw PCM bytes.
func DecodePayload(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("pcm: decode payload: %w", err)
	}
	return raw, nil
}

// PCMDuration returns the playback duration of a 16-bit mono PCM byte
// sequence at the given sample rate.
func PCMDuration(pcmBytes int, sampleRate int) time.Duration {
	if sampleRate <= 0 || pcmBytes <= 0 {
		return 0
	}
	samples := pcmBytes / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
