package selection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/lifeexplorer230/newsdigest/pkg/fn"
	"github.com/lifeexplorer230/newsdigest/pkg/resilience"
	"github.com/rs/zerolog"
)

// ChatProvider is the "chat"-style LLMClient implementation: a single
// system prompt plus one user message, POSTed to an
// Anthropic-Messages-shaped endpoint.
type ChatProvider struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	retry       fn.RetryOpts
	breaker     *resilience.Breaker
	log         zerolog.Logger
}

// ChatProviderOpts configures ChatProvider.
type ChatProviderOpts struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
	Retry       fn.RetryOpts
	Logger      zerolog.Logger
}

// NewChatProvider constructs a ChatProvider. The default retry budget is
// 3 attempts with 2-10s exponential backoff.
func NewChatProvider(opts ChatProviderOpts) *ChatProvider {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.RetryOpts{MaxAttempts: 3, InitialWait: 2 * time.Second, MaxWait: 10 * time.Second, Jitter: true}
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	breakerOpts := resilience.DefaultBreakerOpts
	breakerOpts.OnStateChange = func(from, to resilience.State) {
		opts.Logger.Warn().Stringer("from", from).Stringer("to", to).Msg("chat provider breaker state change")
	}
	return &ChatProvider{
		httpClient:  opts.HTTPClient,
		baseURL:     opts.BaseURL,
		apiKey:      opts.APIKey,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		retry:       opts.Retry,
		breaker:     resilience.NewBreaker(breakerOpts),
		log:         opts.Logger,
	}
}

func (p *ChatProvider) Name() string { return "chat" }

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete posts one chunk's (system, user) prompt pair and returns the
// model's raw reply text, retrying transient failures (429/5xx/network)
// per p.retry and failing fast on auth/invalid-request errors.
func (p *ChatProvider) Complete(ctx context.Context, system, user, requestID string) (string, error) {
	result := fn.Retry(ctx, p.retry, func(ctx context.Context) fn.Result[string] {
		text, retryable, err := p.complete(ctx, system, user, requestID)
		if err == nil {
			return fn.Ok(text)
		}
		if !retryable {
			return fn.Err[string](fn.Permanent(err))
		}
		return fn.Err[string](err)
	})

	text, err := result.Unwrap()
	if err == nil {
		return text, nil
	}
	if fn.IsPermanent(err) {
		return "", domain.NewTaggedError(domain.TagInvalidLLMResponse, "chat provider", errors.Unwrap(err))
	}
	return "", domain.NewTaggedError(domain.TagTransientLLM, "chat provider", err)
}

func (p *ChatProvider) complete(ctx context.Context, system, user, requestID string) (text string, retryable bool, err error) {
	callErr := p.breaker.Call(ctx, func(ctx context.Context) error {
		var innerErr error
		text, retryable, innerErr = p.doRequest(ctx, system, user, requestID)
		return innerErr
	})
	if callErr != nil {
		if callErr == resilience.ErrCircuitOpen {
			return "", true, callErr
		}
		return "", retryable, callErr
	}
	return text, false, nil
}

func (p *ChatProvider) doRequest(ctx context.Context, system, user, requestID string) (text string, retryable bool, err error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		System:      system,
		Messages:    []chatMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", false, err
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("x-request-id", requestID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("chat provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("chat provider: read body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("chat provider: status %d: %s", resp.StatusCode, raw)
	}
	if resp.StatusCode >= 400 {
		return "", false, fmt.Errorf("chat provider: status %d: %s", resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, fmt.Errorf("chat provider: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("chat provider: api error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return "", false, fmt.Errorf("chat provider: empty content")
	}

	p.log.Info().
		Str("request_id", requestID).
		Int("input_tokens", parsed.Usage.InputTokens).
		Int("output_tokens", parsed.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("chat provider completion")

	return parsed.Content[0].Text, false, nil
}
