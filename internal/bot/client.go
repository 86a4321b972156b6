// Package bot talks to the external text-completion service that powers
// the assistant chat. The client wraps resty with retries, a rate limiter,
// and a circuit breaker; callers always get a reply string back, with a
// canned fallback when the service is unreachable or misbehaving.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/threadhub/realtime/internal/domain/history"
	"github.com/threadhub/realtime/internal/infrastructure/config"
	"github.com/threadhub/realtime/internal/infrastructure/logging"
	"github.com/threadhub/realtime/internal/infrastructure/monitoring"
	"github.com/threadhub/realtime/internal/infrastructure/resilience"
)

// FallbackReply is sent when the completion service cannot produce an
// answer. The user always hears something back.
const FallbackReply = "Sorry, I can't help with that right now. Please try again in a bit."

// contextTurns is how many retained history turns are folded into the
// prompt for conversational context.
const contextTurns = 10

// Completer produces an assistant reply for a user's message.
type Completer interface {
	Complete(ctx context.Context, userID, message string) string
}

// completionRequest is the upstream request body.
type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	UserID string `json:"user_id,omitempty"`
}

// completionResponse is the upstream response body. Exactly one of Error
// and Data is meaningful.
type completionResponse struct {
	Error string `json:"error"`
	Data  string `json:"data"`
}

// Client calls the text-completion service.
type Client struct {
	cfg     config.BotConfig
	http    *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	history *history.Store
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewClient creates a production-ready completion client.
func NewClient(cfg config.BotConfig, hist *history.Store, logger *logging.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "ThreadHub-Realtime/1.0").
		SetTransport(retryClient.HTTPClient.Transport).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)

	breaker := resilience.NewBreaker("bot-completion", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
	})

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Inf, 0),
		breaker: breaker,
		history: hist,
		logger:  logger.Component("bot-client"),
	}
}

// WithMetrics attaches a metrics collector.
func (c *Client) WithMetrics(m *monitoring.Metrics) *Client {
	c.metrics = m
	return c
}

// SetRateLimit caps completion calls at rps requests per second.
func (c *Client) SetRateLimit(rps float64) {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
}

// SetRetry overrides the retry policy. Used by tests to fail fast.
func (c *Client) SetRetry(maxRetries int, minWait, maxWait time.Duration) {
	c.http.SetRetryCount(maxRetries).
		SetRetryWaitTime(minWait).
		SetRetryMaxWaitTime(maxWait)
}

// Complete asks the service for a reply to the user's message, folding
// recent conversation turns into the prompt. The exchange is recorded in
// the history store. Never returns an error: failures of any kind degrade
// to FallbackReply so the chat flow stays alive.
func (c *Client) Complete(ctx context.Context, userID, message string) string {
	start := time.Now()

	prompt := c.buildPrompt(userID, message)
	c.history.Append(userID, history.Turn{Role: history.RoleUser, Text: message})

	reply, err := c.complete(ctx, userID, prompt)
	status := "ok"
	if err != nil {
		status = "error"
		reply = FallbackReply
		c.logger.Warn("completion failed, using fallback",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	c.history.Append(userID, history.Turn{Role: history.RoleAssistant, Text: reply})
	if c.metrics != nil {
		c.metrics.RecordBotRequest(status, time.Since(start))
	}
	return reply
}

func (c *Client) complete(ctx context.Context, userID, prompt string) (string, error) {
	if c.breaker.State() == resilience.StateOpen {
		return "", resilience.ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	requestID := uuid.NewString()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var body completionResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("X-Request-ID", requestID).
			SetBody(completionRequest{
				Model:  c.cfg.Model,
				Prompt: prompt,
				UserID: userID,
			}).
			SetResult(&body).
			Post(c.cfg.URL)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("completion service returned %s", resp.Status())
		}
		if body.Error != "" {
			return nil, fmt.Errorf("completion service error: %s", body.Error)
		}
		if body.Data == "" {
			return nil, fmt.Errorf("completion service returned empty reply")
		}
		return body.Data, nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug("completion succeeded",
		zap.String("user_id", userID),
		zap.String("request_id", requestID),
	)
	return result.(string), nil
}

// buildPrompt prefixes the user's message with their recent retained
// turns so the service sees the conversation, not a lone sentence.
func (c *Client) buildPrompt(userID, message string) string {
	turns := c.history.Recent(userID, contextTurns)

	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	b.WriteString(string(history.RoleUser))
	b.WriteString(": ")
	b.WriteString(message)
	return b.String()
}
