package transcribe

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"reelsmith/internal/media"
	"reelsmith/internal/services"
	"reelsmith/internal/services/transport"
)

type transcribeResponse struct {
	Language string              `json:"language"`
	Segments []media.TextSegment `json:"segments"`
}

// Client uploads audio to the speech-to-text service.
type Client struct {
	client   *transport.Client
	language string
}

// New wraps a guarded transport client. Its retry policy bounds the
// transcription attempts independently of stage retries.
func New(client *transport.Client, language string) *Client {
	return &Client{client: client, language: strings.TrimSpace(language)}
}

// Transcribe returns the transcript segments for the audio at path, in
// order. Segments with no text or a non-positive span are dropped.
func (c *Client) Transcribe(ctx context.Context, path string) ([]media.TextSegment, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "", "transcribe", "read narration", err,
			services.WithDetail("path", path))
	}
	body, contentType, err := c.encode(filepath.Base(path), audio)
	if err != nil {
		return nil, err
	}
	var resp transcribeResponse
	err = c.client.DoJSON(ctx, "transcribe", func(ctx context.Context) (*http.Request, error) {
		endpoint, err := c.client.URL("/transcribe", nil)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]media.TextSegment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Text == "" || seg.End <= seg.Start {
			continue
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return nil, services.Errorf(services.ErrContent, "", "transcribe", "transcript is empty")
	}
	return out, nil
}

func (c *Client) encode(name string, audio []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if c.language != "" {
		if err := writer.WriteField("language", c.language); err != nil {
			return nil, "", services.Wrap(services.ErrValidation, "", "transcribe", "encode form", err)
		}
	}
	if err := writer.WriteField("timestamps", "segment"); err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "", "transcribe", "encode form", err)
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "", "transcribe", "encode form", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(audio)); err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "", "transcribe", "encode form", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "", "transcribe", "encode form", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}
