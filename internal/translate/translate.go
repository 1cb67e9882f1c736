// Package translate proxies text translation to an external provider.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrEmptyText is returned when there is nothing to translate.
	ErrEmptyText = errors.New("translate: empty text")
	// ErrNoTarget is returned when no target language was given.
	ErrNoTarget = errors.New("translate: missing target language")
	// ErrUnavailable is returned by Unavailable.
	ErrUnavailable = errors.New("translate: no provider configured")
)

// Translator translates text into targetLang.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Unavailable is the Translator used when no provider is configured.
type Unavailable struct{}

// Translate always fails with ErrUnavailable.
func (Unavailable) Translate(context.Context, string, string) (string, error) {
	return "", ErrUnavailable
}

// Client talks to a LibreTranslate compatible HTTP endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient creates a Client posting to endpoint. apiKey may be empty.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type providerRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type providerResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

// Translate sends text to the provider with source language detection.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if err := validate(text, targetLang); err != nil {
		return "", err
	}

	body, err := json.Marshal(providerRequest{
		Q:      text,
		Source: "auto",
		Target: targetLang,
		Format: "text",
		APIKey: c.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("translate: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("translate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate: request: %w", err)
	}
	defer resp.Body.Close()

	var out providerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("translate: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate: provider status %d: %s", resp.StatusCode, out.Error)
	}
	return out.TranslatedText, nil
}

func validate(text, targetLang string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if strings.TrimSpace(targetLang) == "" {
		return ErrNoTarget
	}
	return nil
}
