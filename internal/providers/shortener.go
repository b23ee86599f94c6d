package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

const tinyURLBase = "https://api.tinyurl.com"

// URLShortener shortens scheduling links before they are read to a caller.
// Implementations must fall back to the long URL on any failure.
type URLShortener interface {
	Shorten(ctx context.Context, longURL string) string
}

// TinyURLShortener calls the TinyURL create API. A nil or unconfigured
// shortener passes URLs through unchanged.
type TinyURLShortener struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewTinyURLShortener(apiKey string, logger *logging.Logger) *TinyURLShortener {
	if logger == nil {
		logger = logging.Default()
	}
	return &TinyURLShortener{
		apiKey:     apiKey,
		baseURL:    tinyURLBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Shorten returns the shortened URL, or longURL when the API key is absent
// or the call fails. Shortening is cosmetic; it never blocks a booking.
func (s *TinyURLShortener) Shorten(ctx context.Context, longURL string) string {
	if s == nil || s.apiKey == "" || longURL == "" {
		return longURL
	}

	payload, err := json.Marshal(map[string]string{
		"url":    longURL,
		"domain": "tinyurl.com",
	})
	if err != nil {
		return longURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/create", bytes.NewReader(payload))
	if err != nil {
		return longURL
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("tinyurl request failed, using long url", "error", err)
		return longURL
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		s.logger.Warn("tinyurl returned error, using long url", "status", resp.StatusCode)
		return longURL
	}

	var out struct {
		Data struct {
			TinyURL string `json:"tiny_url"`
		} `json:"data"`
		Code int `json:"code"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Code != 0 || out.Data.TinyURL == "" {
		s.logger.Warn("tinyurl response unusable, using long url")
		return longURL
	}
	return out.Data.TinyURL
}
