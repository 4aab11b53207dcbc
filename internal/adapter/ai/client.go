// Package ai provides embedding-provider adapters and cache wrappers.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/fairyhunter13/curriculum-catalog/internal/config"
	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
	"github.com/fairyhunter13/curriculum-catalog/internal/observability"
)

// Client calls an OpenAI-compatible /embeddings endpoint.
type Client struct {
	cfg config.Config
	hc  *http.Client

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewClient constructs a Client from config. The HTTP timeout matches the
// configured embed timeout so a hung provider can never stall a request
// longer than the caller's deadline.
func NewClient(cfg config.Config) *Client {
	return &Client{cfg: cfg, hc: &http.Client{Timeout: cfg.EmbedTimeout}}
}

// Embed returns one vector per input text.
func (c *Client) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	if !c.cfg.EmbeddingEnabled() {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY or EMBEDDINGS_MODEL missing", domain.ErrInvalidArgument)
	}
	capped := make([]string, len(texts))
	for i, t := range texts {
		capped[i] = c.capTokens(t)
	}
	body := map[string]any{
		"model": c.cfg.EmbeddingsModel,
		"input": capped,
	}
	b, _ := json.Marshal(body)
	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	op := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OpenAIBaseURL+"/embeddings", bytes.NewReader(b))
		r.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		observability.EmbedRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			observability.EmbedRequestsTotal.WithLabelValues("error").Inc()
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode == http.StatusTooManyRequests {
			observability.EmbedRequestsTotal.WithLabelValues("rate_limited").Inc()
			slog.Warn("embedding provider rate limited", slog.Int("status", resp.StatusCode))
			return fmt.Errorf("rate limited: 429")
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			observability.EmbedRequestsTotal.WithLabelValues("client_error").Inc()
			slog.Warn("embedding provider 4xx", slog.Int("status", resp.StatusCode), slog.String("body", readSnippet(resp.Body, 512)))
			return backoff.Permanent(fmt.Errorf("embed status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			observability.EmbedRequestsTotal.WithLabelValues("server_error").Inc()
			slog.Error("embedding provider non-2xx", slog.Int("status", resp.StatusCode), slog.String("body", readSnippet(resp.Body, 512)))
			return fmt.Errorf("embed status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			observability.EmbedRequestsTotal.WithLabelValues("decode_error").Inc()
			return err
		}
		observability.EmbedRequestsTotal.WithLabelValues("ok").Inc()
		return nil
	}
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = c.cfg.EmbedTimeout
	bo := backoff.WithContext(expo, ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embeddings call: %v", domain.ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("embeddings call failed: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings count mismatch: want %d got %d", len(texts), len(out.Data))
	}
	res := make([][]float32, len(out.Data))
	for i := range out.Data {
		v := make([]float32, len(out.Data[i].Embedding))
		for j := range out.Data[i].Embedding {
			v[j] = float32(out.Data[i].Embedding[j])
		}
		res[i] = v
	}
	return res, nil
}

// capTokens truncates text to the configured token budget using the model's
// tokenizer. When the tokenizer cannot be loaded the text passes through
// unchanged and the provider enforces its own limit.
func (c *Client) capTokens(text string) string {
	if c.cfg.EmbedMaxTokens <= 0 {
		return text
	}
	c.encOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.cfg.EmbeddingsModel)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			slog.Warn("tokenizer unavailable; embedding inputs not capped", slog.Any("error", err))
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return text
	}
	toks := c.enc.Encode(text, nil, nil)
	if len(toks) <= c.cfg.EmbedMaxTokens {
		return text
	}
	return c.enc.Decode(toks[:c.cfg.EmbedMaxTokens])
}

// readSnippet reads up to n bytes from r for log context.
func readSnippet(r io.Reader, n int) string {
	if r == nil || n <= 0 {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, int64(n)))
	return string(b)
}
