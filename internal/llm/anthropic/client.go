// Package anthropic adapts the Anthropic Messages SDK to the memnet
// llm.Provider contract: one-shot extract/merge/rerank prompts, no
// streaming, no tool use, no extended thinking.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"memnet/internal/config"
	"memnet/internal/llm"
	"memnet/internal/memvec"
	"memnet/internal/observability"
)

const defaultMaxTokens int64 = 1024

// Client is a memnet llm.Provider backed by the Anthropic Messages API.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New builds a Client from cfg. httpClient may be nil, in which case a
// default instrumented client is used.
func New(cfg config.LLMConfig, httpClient *http.Client) *Client {
	hc := observability.NewHTTPClient(httpClient)
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(hc),
	}
	if base := strings.TrimSpace(cfg.Endpoint); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: model}
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	log := observability.LoggerWithTrace(ctx)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(user))},
	}

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("anthropic_message_error")
		return "", fmt.Errorf("%w: %v", memvec.ErrBackendUnavailable, err)
	}
	log.Debug().Str("model", c.model).Dur("duration", dur).Msg("anthropic_message_ok")

	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: anthropic returned no text content", memvec.ErrProtocol)
	}
	return sb.String(), nil
}

func (c *Client) ExtractMemories(ctx context.Context, conversationText string) ([]memvec.ExtractedMemory, error) {
	raw, err := c.complete(ctx, llm.ExtractSystemPrompt(), llm.ExtractUserPrompt(conversationText))
	if err != nil {
		return nil, err
	}
	return llm.ParseExtractResponse(raw), nil
}

func (c *Client) MergeMemories(ctx context.Context, existing, new string) (string, error) {
	raw, err := c.complete(ctx, llm.MergeSystemPrompt(), llm.MergeUserPrompt(existing, new))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

func (c *Client) Rerank(ctx context.Context, query string, results []memvec.MemorySearchResult) ([]memvec.MemorySearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}
	raw, err := c.complete(ctx, llm.RerankSystemPrompt(), llm.RerankUserPrompt(query, results))
	if err != nil {
		return nil, err
	}
	return llm.ApplyRerankOrFallback(raw, results), nil
}
