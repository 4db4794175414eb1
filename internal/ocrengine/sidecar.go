package ocrengine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SidecarAdapter calls out to an HTTP OCR sidecar process (the
// deployment shape used for easyocr/paddleocr/rapidocr/apple_vision/
// llm_proxy_* providers, each a separate sidecar address). The tiered
// core never talks to these processes directly; it only sees the
// Adapter contract.
type SidecarAdapter struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewSidecarAdapter builds an adapter pointed at one sidecar's HTTP
// endpoint.
func NewSidecarAdapter(name, endpoint string, timeout time.Duration) *SidecarAdapter {
	return &SidecarAdapter{
		name:       name,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sidecarRequest struct {
	ImageBase64  string `json:"image_base64"`
	LanguageHint string `json:"language_hint"`
	Mode         string `json:"mode"`
}

type sidecarResponse struct {
	Text       string  `json:"text"`
	DurationMS int64   `json:"duration_ms"`
	Blocks     []Block `json:"blocks,omitempty"`
}

func (a *SidecarAdapter) Process(ctx context.Context, image []byte, languageHint string, mode Mode) (Result, error) {
	body, err := json.Marshal(sidecarRequest{
		ImageBase64:  base64.StdEncoding.EncodeToString(image),
		LanguageHint: languageHint,
		Mode:         string(mode),
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: encoding request: %w", a.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/process", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%s: building request: %w", a.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%s: request failed: %w", a.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%s: reading response: %w", a.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%s: sidecar returned status %d: %s", a.name, resp.StatusCode, string(respBody))
	}

	var parsed sidecarResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("%s: decoding response: %w", a.name, err)
	}

	return Result{Text: parsed.Text, DurationMS: parsed.DurationMS, Blocks: parsed.Blocks}, nil
}

func (a *SidecarAdapter) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
