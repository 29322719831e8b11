// Package automator talks to the external submission-automator sidecar:
// the service that drives the actual application forms. The engine treats
// it as an opaque, possibly slow, possibly failing collaborator.
package automator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arpitpandey/jobagent/internal/posting"
	"github.com/arpitpandey/jobagent/internal/utils"
)

const (
	contentType    = "application/json"
	submitPath     = "/v1/submissions"
	defaultTimeout = 60 * time.Second
)

// Client is an HTTP client for the automator sidecar.
type Client struct {
	baseURL    string
	token      string
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration

	HTTPClient *http.Client
}

// Config tunes the client. Zero values fall back to defaults.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

func New(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		logger:     logger,
		maxRetries: retries,
		retryDelay: delay,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	Source          string `json:"source"`
	SourceID        string `json:"source_id,omitempty"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	Company         string `json:"company"`
	CoverLetterPath string `json:"cover_letter_path,omitempty"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Submit asks the sidecar to apply to the posting. Transport errors and
// server-side failures are retried with exponential backoff up to the
// configured bound; rejections (4xx) are terminal.
func (c *Client) Submit(ctx context.Context, p *posting.Canonical, letterPath string) error {
	payload, err := json.Marshal(submitRequest{
		Source:          string(p.Source),
		SourceID:        p.SourceID,
		URL:             p.URL,
		Title:           p.Title,
		Company:         p.Company,
		CoverLetterPath: letterPath,
	})
	if err != nil {
		return fmt.Errorf("marshal submission payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryDelay * time.Duration(1<<(attempt-1))
			if err := utils.WaitFor(ctx, backoff); err != nil {
				return err
			}
			c.logger.Debug("retrying submission",
				zap.String("fingerprint", p.Fingerprint),
				zap.Int("attempt", attempt+1),
			)
		}

		var retryable bool
		retryable, lastErr = c.submitOnce(ctx, payload)
		if lastErr == nil {
			return nil
		}
		if !retryable {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("submission retries exhausted: %w", lastErr)
}

func (c *Client) submitOnce(ctx context.Context, payload []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("automator request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, fmt.Errorf("read automator response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusCreated:
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("automator status %s", resp.Status)
	default:
		return false, fmt.Errorf("automator rejected submission: %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var result submitResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("parse automator response: %w", err)
	}

	if !result.Success {
		reason := result.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return false, fmt.Errorf("submission failed: %s", reason)
	}

	return false, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
}
