package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"memnet/internal/config"
	"memnet/internal/observability"
)

// httpClient is the production embedder backend. It POSTs directly to the
// configured embeddings endpoint rather than going through an SDK: the
// teacher's own embedding client (internal/embedding/client.go) does the
// same, since no embeddings-specific Go SDK was available for it either.
type httpClient struct {
	cfg    config.EmbedderConfig
	http   *http.Client
	header string
}

// NewHTTPClient builds a production Embedder against cfg.Endpoint, posting
// {"model": cfg.Model, "input": [...]} and expecting
// {"data": [{"embedding": [...]}, ...]} in return, per the conventions
// already established by the teacher's embedding client.
func NewHTTPClient(cfg config.EmbedderConfig, base *http.Client) Embedder {
	header := "Authorization"
	hc := observability.NewHTTPClient(base)
	if cfg.APIKey != "" {
		value := cfg.APIKey
		if header == "Authorization" {
			value = "Bearer " + cfg.APIKey
		}
		hc = observability.WithHeaders(hc, map[string]string{header: value})
	}
	return wrap(&httpClient{cfg: cfg, http: hc, header: header})
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *httpClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedder: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log := observability.LoggerWithTrace(ctx)
	resp, err := c.http.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("embedder_request_failed")
		return nil, fmt.Errorf("embedder: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		log.Error().Int("status", resp.StatusCode).Str("body", string(observability.RedactJSON(raw))).Msg("embedder_non_2xx")
		return nil, fmt.Errorf("embedder: status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedder: parse response (first 200 bytes %q): %w", string(raw[:min(200, len(raw))]), err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: got %d embeddings, want %d", len(parsed.Data), len(texts))
	}
	out := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		out[i] = parsed.Data[i].Embedding
	}
	return out, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
