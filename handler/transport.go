package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxResponseSize caps provider response bodies to prevent memory
// exhaustion on a misbehaving endpoint.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Transport is the shared HTTP plumbing for provider handlers. It
// encodes parameters, applies common headers, and normalizes 2xx JSON
// bodies into Cargo. Non-2xx responses and connection failures come
// back as TransportError.
type Transport struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) TransportOption {
	return func(t *Transport) {
		t.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a Transport with sane defaults.
func NewTransport(opts ...TransportOption) *Transport {
	t := &Transport{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get performs a GET with params encoded on the query string.
func (t *Transport) Get(ctx context.Context, rawURL string, params url.Values) (*Cargo, error) {
	full := rawURL
	if encoded := params.Encode(); encoded != "" {
		full += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return t.do(req)
}

// PostForm performs a POST with params as a URL-encoded form body.
func (t *Transport) PostForm(ctx context.Context, rawURL string, params url.Values) (*Cargo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(req)
}

// PostFile performs a multipart POST uploading the file at path under
// fileField, with the remaining params as form fields.
func (t *Transport) PostFile(ctx context.Context, rawURL string, params url.Values, fileField, path string) (*Cargo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile(fileField, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy upload file: %w", err)
	}
	for field, values := range params {
		for _, v := range values {
			if err := writer.WriteField(field, v); err != nil {
				return nil, fmt.Errorf("write form field %s: %w", field, err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return t.do(req)
}

func (t *Transport) do(req *http.Request) (*Cargo, error) {
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	t.logger.Debug("Provider request", "method", req.Method, "url", req.URL.Redacted())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, NewTransportError(0, "", fmt.Errorf("provider request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransportError(0, "", fmt.Errorf("read provider response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := http.StatusText(resp.StatusCode)
		return nil, NewTransportError(resp.StatusCode, reason,
			fmt.Errorf("provider returned %d %s", resp.StatusCode, reason))
	}

	return UnpackJSON(body)
}

// UnpackJSON normalizes a provider JSON body into Cargo: response_code
// becomes StatusCode, verbose_msg becomes Notes, the remainder is Data.
func UnpackJSON(body []byte) (*Cargo, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse provider response: %w", err)
	}

	cargo := &Cargo{Data: raw}
	if v, ok := raw["response_code"]; ok {
		cargo.StatusCode = fmt.Sprint(v)
		delete(raw, "response_code")
	}
	if v, ok := raw["verbose_msg"]; ok {
		cargo.Notes = fmt.Sprint(v)
		delete(raw, "verbose_msg")
	}
	return cargo, nil
}
