// Package extractor is the client of the face embedding server. It detects
// faces in a camera frame and returns one embedding per face.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/constants"
)

const defaultURL = "http://localhost:8000"

// Face is one face found in a frame.
type Face struct {
	Index     int       `json:"face_index"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2] in source image pixels
	DetScore  float64   `json:"det_score"`
}

// faceResponse is the body of POST /embed/face.
type faceResponse struct {
	FacesCount int    `json:"faces_count"`
	Faces      []Face `json:"faces"`
	Model      string `json:"model"`
}

// Client computes face embeddings using the embedding server.
type Client struct {
	baseURL      string
	maxImageSize int
	client       *http.Client
}

// NewClient creates a new extraction client.
func NewClient(baseURL string, timeout time.Duration, maxImageSize int) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxImageSize <= 0 {
		maxImageSize = constants.MaxImageSize
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		maxImageSize: maxImageSize,
		client:       &http.Client{Timeout: timeout},
	}
}

// NewFromConfig creates a client from the extractor configuration.
func NewFromConfig(cfg *config.ExtractorConfig) *Client {
	return NewClient(cfg.URL, cfg.Timeout, cfg.MaxImageSize)
}

// URL returns the embedding server base URL.
func (c *Client) URL() string { return c.baseURL }

// Extract detects faces in imageData. Frames larger than the configured
// maximum are downscaled first; bounding boxes refer to the original frame.
func (c *Client) Extract(ctx context.Context, imageData []byte) ([]Face, error) {
	if len(imageData) == 0 {
		return nil, ErrEmptyImage
	}
	upload, scale, err := fitImage(imageData, c.maxImageSize)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", upload)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		if scale != 1 {
			for i := range f.BBox {
				f.BBox[i] /= scale
			}
		}
		faces = append(faces, f)
	}
	return faces, nil
}

// postMultipartImage posts imageData as the "file" form field.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// detectMIMEType detects the MIME type from image magic bytes.
func detectMIMEType(data []byte) string {
	if len(data) < 12 {
		return "application/octet-stream"
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G':
		return "image/png"
	case data[0] == 'B' && data[1] == 'M':
		return "image/bmp"
	case string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return "application/octet-stream"
}
