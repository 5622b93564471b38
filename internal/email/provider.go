package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jwalitptl/quote-api/internal/config"
	"github.com/jwalitptl/quote-api/pkg/circuitbreaker"
)

// ProviderService sends through a transactional email HTTP API that accepts
// {from, to, subject, text} with a bearer key.
type ProviderService struct {
	url     string
	apiKey  string
	from    string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

type providerMessage struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func NewProviderService(cfg config.EmailProviderConfig, from string) *ProviderService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProviderService{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		from:   from,
		client: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "email-provider",
			MaxFailures: 3,
			Timeout:     time.Minute,
		}),
	}
}

func (p *ProviderService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	body, err := json.Marshal(providerMessage{From: p.from, To: []string{to}, Subject: subject, Text: content})
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}

	return p.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build email request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("email provider request failed: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("email provider responded with status %d", resp.StatusCode)
		}
		return nil
	})
}
