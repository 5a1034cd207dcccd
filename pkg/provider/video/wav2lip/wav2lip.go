// Package wav2lip provides a talking-face provider backed by a Wav2Lip
// HTTP server. The server takes a WAV upload plus a face image reference
// and responds with an MP4 body.
package wav2lip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hibiki-ai/hibiki/pkg/provider/video"
)

// UpstreamError reports a render the server rejected.
type UpstreamError struct {
	StatusCode int
	Msg        string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("wav2lip: server returned HTTP %d: %s", e.StatusCode, e.Msg)
}

// ErrorClass marks the error as an upstream failure.
func (e *UpstreamError) ErrorClass() string { return "upstream" }

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets a per-render timeout. Lip-sync inference is slow;
// the default allows two minutes.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Client implements video.Provider against a Wav2Lip HTTP server.
type Client struct {
	endpoint   string
	outputDir  string
	httpClient *http.Client
}

// New creates a Client that POSTs renders to endpoint and saves the
// resulting MP4 files under outputDir.
func New(endpoint, outputDir string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("wav2lip: endpoint must not be empty")
	}
	if outputDir == "" {
		return nil, errors.New("wav2lip: outputDir must not be empty")
	}
	c := &Client{
		endpoint:   endpoint,
		outputDir:  outputDir,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Generate implements video.Provider.
func (c *Client) Generate(ctx context.Context, req video.Request) (*video.Artifact, error) {
	if len(req.AudioWAV) == 0 {
		return nil, errors.New("wav2lip: audio must not be empty")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("audio", "speech.wav")
	if err != nil {
		return nil, fmt.Errorf("wav2lip: create form file: %w", err)
	}
	if _, err := fw.Write(req.AudioWAV); err != nil {
		return nil, fmt.Errorf("wav2lip: write wav data: %w", err)
	}
	if req.FaceImagePath != "" {
		if err := mw.WriteField("face_image", req.FaceImagePath); err != nil {
			return nil, fmt.Errorf("wav2lip: write face_image field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("wav2lip: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("wav2lip: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("wav2lip: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Msg: string(bytes.TrimSpace(msg))}
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("wav2lip: create output dir: %w", err)
	}
	path := filepath.Join(c.outputDir, uuid.NewString()+".mp4")
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav2lip: create output file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(path)
		return nil, fmt.Errorf("wav2lip: save video: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("wav2lip: close output file: %w", err)
	}

	return &video.Artifact{Path: path}, nil
}

// Ensure Client implements video.Provider at compile time.
var _ video.Provider = (*Client)(nil)
