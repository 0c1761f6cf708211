package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RemoteOCR calls a lightweight OCR endpoint that takes
// {"base64_str": <url-safe base64 without padding>} and answers {"data": "<text>"}.
type RemoteOCR struct {
	client  *http.Client
	url     string
	limiter *rate.Limiter
}

type remoteOCRRequest struct {
	Base64Str string `json:"base64_str"`
}

type remoteOCRResponse struct {
	Data string `json:"data"`
}

func NewRemoteOCR(cfg OCRConfig) *RemoteOCR {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &RemoteOCR{
		client: &http.Client{
			Timeout: timeout,
		},
		url:     cfg.RemoteURL,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (o *RemoteOCR) Name() string { return "remote" }

func (o *RemoteOCR) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	jsonData, err := json.Marshal(remoteOCRRequest{
		Base64Str: base64.RawURLEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out remoteOCRResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to parse OCR response: %w", err)
	}

	return strings.TrimSpace(out.Data), nil
}
