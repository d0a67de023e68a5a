// Package workflow delivers generation requests to the external
// workflow-automation engine. The engine performs the actual image
// generation out of process and reports back through the callback endpoint;
// this client only cares whether the trigger POST was accepted.
package workflow

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

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
)

// ErrNoWebhookConfigured indicates the client has no destination to deliver to.
var ErrNoWebhookConfigured = errors.New("workflow: webhook url is not configured")

// Options configures the trigger client.
type Options struct {
	WebhookURL     string
	CallbackSecret string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client posts trigger payloads to the configured webhook.
type Client struct {
	webhookURL     string
	callbackSecret string
	httpClient     *http.Client
	logger         *infra.Logger
}

// TriggerRequest carries everything the engine needs to run one generation
// and call back with the result.
type TriggerRequest struct {
	GenerationID string `json:"generationId"`
	UserID       string `json:"userId"`
	ImageURL     string `json:"imageUrl"`
	PromptText   string `json:"promptText"`
	CallbackURL  string `json:"callbackUrl"`
	// CallbackSecret must be echoed back in the X-Callback-Secret header.
	CallbackSecret string `json:"callbackSecret,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		webhookURL:     strings.TrimSpace(opts.WebhookURL),
		callbackSecret: opts.CallbackSecret,
		httpClient:     httpClient,
		logger:         logger,
	}
}

// HasDestination reports whether a webhook URL is configured.
func (c *Client) HasDestination() bool {
	return c != nil && c.webhookURL != ""
}

// Trigger posts the request to the webhook and returns once the POST is
// accepted. A non-2xx response, timeout or transport failure is reported as
// domain.ErrUpstreamUnavailable; the caller persists the failure on the
// generation record so polling clients observe it too.
func (c *Client) Trigger(ctx context.Context, req TriggerRequest) error {
	if !c.HasDestination() {
		return ErrNoWebhookConfigured
	}
	if req.Timestamp == "" {
		req.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if req.CallbackSecret == "" {
		req.CallbackSecret = c.callbackSecret
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("workflow: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("workflow: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error().Err(err).Str("generation_id", req.GenerationID).Msg("workflow trigger transport failure")
		return fmt.Errorf("%w: workflow trigger: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("generation_id", req.GenerationID).
			Msgf("workflow trigger rejected: %s", strings.TrimSpace(string(detail)))
		return fmt.Errorf("%w: workflow engine returned status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	c.logger.Info().Str("generation_id", req.GenerationID).Msg("workflow trigger accepted")
	return nil
}
