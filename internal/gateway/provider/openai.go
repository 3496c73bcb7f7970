package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradewind/internal/pkg/failsafe"
)

// OpenAIBackend talks to any /v1/chat/completions compatible endpoint.
// Retries with capped exponential backoff happen here, at the transport
// layer only; callers never retry on top.
type OpenAIBackend struct {
	id         string
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	maxRetries int
	httpc      *http.Client
}

var _ ModelBackend = (*OpenAIBackend)(nil)

type OpenAIConfig struct {
	ID         string
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	url := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	// Tolerate configs that already include the completions path.
	url = strings.TrimSuffix(url, "/chat/completions")
	return &OpenAIBackend{
		id:         cfg.ID,
		baseURL:    url,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    timeout,
		maxRetries: retries,
		httpc:      &http.Client{Timeout: timeout},
	}
}

func (b *OpenAIBackend) ID() string    { return b.id }
func (b *OpenAIBackend) Model() string { return b.model }

func (b *OpenAIBackend) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.User})
	body := map[string]any{
		"model":    b.model,
		"messages": messages,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	url := b.baseURL + "/chat/completions"
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		out, retryable, wait, err := b.doOnce(ctx, url, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable || attempt == b.maxRetries {
			break
		}
		if wait <= 0 {
			// 0.8s, 1.6s, 3.2s ... capped at 8s.
			wait = 800 * time.Millisecond << attempt
			if wait > 8*time.Second {
				wait = 8 * time.Second
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", failsafe.ErrTimeout, ctx.Err())
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

func (b *OpenAIBackend) doOnce(ctx context.Context, url string, payload []byte) (out string, retryable bool, wait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", false, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return "", true, 0, fmt.Errorf("%w: %v", failsafe.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		var r struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&r); derr != nil {
			return "", false, 0, derr
		}
		if len(r.Choices) == 0 {
			return "", false, 0, fmt.Errorf("empty choices from %s", b.id)
		}
		return r.Choices[0].Message.Content, false, 0, nil
	}

	var eresp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&eresp)
	msg := strings.TrimSpace(eresp.Error.Message)
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", false, 0, fmt.Errorf("%w: %s: %s", failsafe.ErrAuth, b.id, msg)
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return "", true, wait, fmt.Errorf("%w: %s status=%d: %s", failsafe.ErrRateLimited, b.id, resp.StatusCode, msg)
	default:
		return "", false, 0, fmt.Errorf("%s status=%d: %s", b.id, resp.StatusCode, msg)
	}
}

func (b *OpenAIBackend) GenerateAsync(ctx context.Context, req GenerateRequest) <-chan GenerateResult {
	ch := make(chan GenerateResult, 1)
	go func() {
		text, err := b.Generate(ctx, req)
		ch <- GenerateResult{Text: text, Err: err}
		close(ch)
	}()
	return ch
}
