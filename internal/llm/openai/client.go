// Package openai adapts the OpenAI chat-completions SDK to the memnet
// llm.Provider contract: one-shot extract/merge/rerank prompts, no
// streaming, no tool use.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"memnet/internal/config"
	"memnet/internal/llm"
	"memnet/internal/memvec"
	"memnet/internal/observability"
)

// Client is a memnet llm.Provider backed by the OpenAI chat-completions
// endpoint (or any OpenAI-compatible self-hosted server reachable at
// cfg.Endpoint).
type Client struct {
	sdk   sdk.Client
	model string
}

// New builds a Client from cfg. httpClient may be nil, in which case a
// default instrumented client is used.
func New(cfg config.LLMConfig, httpClient *http.Client) *Client {
	hc := observability.NewHTTPClient(httpClient)
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithHTTPClient(hc)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	log := observability.LoggerWithTrace(ctx)
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(system),
			sdk.UserMessage(user),
		},
	}
	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("openai_completion_error")
		return "", fmt.Errorf("%w: %v", memvec.ErrBackendUnavailable, err)
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", memvec.ErrProtocol)
	}
	log.Debug().Str("model", c.model).Dur("duration", dur).Msg("openai_completion_ok")
	return comp.Choices[0].Message.Content, nil
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
