package scorer

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"sort"

	"reelsmith/internal/media"
	"reelsmith/internal/services"
	"reelsmith/internal/services/transport"
)

type vadResponse struct {
	Segments []media.Segment `json:"segments"`
}

// VADClient asks the neural voice activity model for speech intervals.
type VADClient struct {
	client        *transport.Client
	minConfidence float64
}

// NewVADClient wraps a guarded transport client. Segments scored below
// minConfidence are discarded.
func NewVADClient(client *transport.Client, minConfidence float64) *VADClient {
	return &VADClient{client: client, minConfidence: minConfidence}
}

// Name identifies the detector in job metadata.
func (c *VADClient) Name() string {
	return "neural"
}

// Detect uploads the audio as WAV and returns sorted speech segments.
func (c *VADClient) Detect(ctx context.Context, pcm media.PCM) ([]media.Segment, error) {
	if !c.client.Configured() {
		return nil, services.Errorf(services.ErrConfiguration, "", "detect_speech", "neural vad endpoint not configured")
	}
	body := EncodeWAV(pcm)
	var resp vadResponse
	err := c.client.DoJSON(ctx, "detect_speech", func(ctx context.Context) (*http.Request, error) {
		endpoint, err := c.client.URL("/vad", nil)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "audio/wav")
		return req, nil
	}, &resp)
	if err != nil {
		return nil, err
	}
	duration := pcm.Duration()
	out := make([]media.Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		if seg.End <= seg.Start || (seg.Confidence > 0 && seg.Confidence < c.minConfidence) {
			continue
		}
		if seg.Start < 0 {
			seg.Start = 0
		}
		if duration > 0 && seg.End > duration {
			seg.End = duration
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// EncodeWAV wraps mono 16-bit samples in a RIFF/WAVE container.
func EncodeWAV(pcm media.PCM) []byte {
	dataLen := len(pcm.Samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))
	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(buf, le, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, le, uint32(16))
	_ = binary.Write(buf, le, uint16(1))
	_ = binary.Write(buf, le, uint16(1))
	_ = binary.Write(buf, le, uint32(pcm.SampleRate))
	_ = binary.Write(buf, le, uint32(pcm.SampleRate*2))
	_ = binary.Write(buf, le, uint16(2))
	_ = binary.Write(buf, le, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(buf, le, uint32(dataLen))
	_ = binary.Write(buf, le, pcm.Samples)
	return buf.Bytes()
}
