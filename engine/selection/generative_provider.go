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

// GenerativeProvider is the "generative"-style LLMClient implementation:
// a single combined prompt (generateContent has no separate system role
// in the REST shape used here) POSTed to a Generative Language
// API-compatible endpoint.
type GenerativeProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	retry      fn.RetryOpts
	breaker    *resilience.Breaker
	log        zerolog.Logger
}

// GenerativeProviderOpts configures GenerativeProvider.
type GenerativeProviderOpts struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Retry      fn.RetryOpts
	Logger     zerolog.Logger
}

// NewGenerativeProvider constructs a GenerativeProvider.
func NewGenerativeProvider(opts GenerativeProviderOpts) *GenerativeProvider {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.DefaultRetry
	}
	if opts.Model == "" {
		opts.Model = "gemini-1.5-flash"
	}
	breakerOpts := resilience.DefaultBreakerOpts
	breakerOpts.OnStateChange = func(from, to resilience.State) {
		opts.Logger.Warn().Stringer("from", from).Stringer("to", to).Msg("generative provider breaker state change")
	}
	return &GenerativeProvider{
		httpClient: opts.HTTPClient,
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		retry:      opts.Retry,
		breaker:    resilience.NewBreaker(breakerOpts),
		log:        opts.Logger,
	}
}

func (p *GenerativeProvider) Name() string { return "generative" }

type generateContentRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateContent struct {
	Role  string     `json:"role"`
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete joins system and user into one prompt and retries transient
// failures, narrowed to network errors and 429/5xx: a permanently
// malformed request should not burn the whole retry budget.
func (p *GenerativeProvider) Complete(ctx context.Context, system, user, requestID string) (string, error) {
	combined := user
	if system != "" {
		combined = system + "\n\n" + user
	}

	result := fn.Retry(ctx, p.retry, func(ctx context.Context) fn.Result[string] {
		text, retryable, err := p.complete(ctx, combined, requestID)
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
		return "", domain.NewTaggedError(domain.TagInvalidLLMResponse, "generative provider", errors.Unwrap(err))
	}
	return "", domain.NewTaggedError(domain.TagTransientLLM, "generative provider", err)
}

// complete runs one attempt through the circuit breaker: an open breaker
// counts as a retryable failure (the caller's fn.Retry backs off and
// gives the breaker's Timeout a chance to move to half-open) rather than
// a permanent one.
func (p *GenerativeProvider) complete(ctx context.Context, prompt, requestID string) (text string, retryable bool, err error) {
	callErr := p.breaker.Call(ctx, func(ctx context.Context) error {
		var innerErr error
		text, retryable, innerErr = p.doRequest(ctx, prompt, requestID)
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

func (p *GenerativeProvider) doRequest(ctx context.Context, prompt, requestID string) (text string, retryable bool, err error) {
	body, err := json.Marshal(generateContentRequest{
		Contents: []generateContent{{Role: "user", Parts: []textPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", false, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-request-id", requestID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("generative provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("generative provider: read body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("generative provider: status %d: %s", resp.StatusCode, raw)
	}
	if resp.StatusCode >= 400 {
		return "", false, fmt.Errorf("generative provider: status %d: %s", resp.StatusCode, raw)
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, fmt.Errorf("generative provider: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("generative provider: api error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", false, fmt.Errorf("generative provider: empty candidates")
	}

	p.log.Info().
		Str("request_id", requestID).
		Dur("duration", time.Since(start)).
		Msg("generative provider completion")

	return parsed.Candidates[0].Content.Parts[0].Text, false, nil
}
