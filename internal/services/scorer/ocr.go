package scorer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"

	"reelsmith/internal/media"
	"reelsmith/internal/services"
	"reelsmith/internal/services/transport"
)

// Detection is one text region reported for a frame.
type Detection struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Box        [4]int  `json:"box"`
}

type detectResponse struct {
	Detections []Detection `json:"detections"`
}

// OCRClient scores full frames for visible text.
type OCRClient struct {
	client *transport.Client
}

// NewOCRClient wraps a guarded transport client.
func NewOCRClient(client *transport.Client) *OCRClient {
	return &OCRClient{client: client}
}

// Detect submits the whole frame and returns every detection, unfiltered.
func (c *OCRClient) Detect(ctx context.Context, frame media.Frame) ([]Detection, error) {
	encoded, err := EncodePNG(frame)
	if err != nil {
		return nil, err
	}
	var resp detectResponse
	err = c.client.DoJSON(ctx, "detect_text", func(ctx context.Context) (*http.Request, error) {
		endpoint, err := c.client.URL("/detect", nil)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "image/png")
		req.Header.Set("X-Frame-Index", fmt.Sprint(frame.Index))
		return req, nil
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

// EncodePNG converts an RGB24 frame to PNG.
func EncodePNG(frame media.Frame) ([]byte, error) {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pix) != frame.Width*frame.Height*3 {
		return nil, services.Errorf(services.ErrValidation, "", "encode_frame",
			"frame %d has %d bytes for %dx%d", frame.Index, len(frame.Pix), frame.Width, frame.Height)
	}
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for src, dst := 0, 0; src < len(frame.Pix); src, dst = src+3, dst+4 {
		img.Pix[dst] = frame.Pix[src]
		img.Pix[dst+1] = frame.Pix[src+1]
		img.Pix[dst+2] = frame.Pix[src+2]
		img.Pix[dst+3] = 0xff
	}
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "encode_frame", "png encode", err)
	}
	return buf.Bytes(), nil
}
