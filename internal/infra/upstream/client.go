package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/opsforge/medic/internal/core/domain"
)

// Config holds upstream API settings.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries uint64        `yaml:"max_retries"`
}

// Defaults fills unset fields with standard values.
func (c Config) Defaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	return c
}

// RepoInfo is the subset of upstream repository metadata the sync task needs.
type RepoInfo struct {
	Name          string    `json:"name"`
	DefaultBranch string    `json:"default_branch"`
	HeadSHA       string    `json:"head_sha"`
	PushedAt      time.Time `json:"pushed_at"`
}

// Client talks to the upstream tracker API. Transient failures (5xx, broken
// connections) are retried with exponential backoff; client-class responses
// surface immediately as *domain.UpstreamError so the caller can classify
// them.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	cfg = cfg.Defaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// FetchRepo retrieves repository metadata for a sync target.
func (c *Client) FetchRepo(ctx context.Context, name string) (*RepoInfo, error) {
	var info RepoInfo
	url := fmt.Sprintf("%s/repos/%s", c.cfg.BaseURL, name)
	if err := c.getJSON(ctx, url, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch repo %s: %w", name, err)
	}
	return &info, nil
}

// createIssue opens a tracker issue and returns its reference.
func (c *Client) createIssue(ctx context.Context, title, body string) (string, error) {
	payload := map[string]string{"title": title, "body": body}
	var created struct {
		Ref string `json:"ref"`
	}
	if err := c.postJSON(ctx, c.cfg.BaseURL+"/issues", payload, &created); err != nil {
		return "", fmt.Errorf("failed to create upstream issue: %w", err)
	}
	return created.Ref, nil
}

// ----------------------------------------------------------------------------
// healing.Notifier
// ----------------------------------------------------------------------------

// Notify posts a notice to the configured webhook. A missing webhook URL
// makes this a logged no-op.
func (c *Client) Notify(ctx context.Context, subject, message string) error {
	if c.cfg.WebhookURL == "" {
		c.log.Info("Notice (no webhook configured)", "subject", subject, "message", message)
		return nil
	}
	payload := map[string]string{"subject": subject, "message": message}
	if err := c.postJSON(ctx, c.cfg.WebhookURL, payload, nil); err != nil {
		return fmt.Errorf("failed to post notice: %w", err)
	}
	return nil
}

// EscalateToHumans opens a tracker issue describing the unhealable issue.
func (c *Client) EscalateToHumans(ctx context.Context, issue *domain.Issue, reason string) (string, error) {
	title := fmt.Sprintf("[%s] %s escalated", issue.Severity, issue.Type)
	body := fmt.Sprintf("Issue %s escalated: %s\n\nLast error: %s",
		issue.ID, reason, issue.Context.ErrorText)
	return c.createIssue(ctx, title, body)
}

// ----------------------------------------------------------------------------
// Transport
// ----------------------------------------------------------------------------

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return c.doJSON(ctx, http.MethodGet, url, nil, out)
}

func (c *Client) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, url, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	backoff := retry.WithMaxRetries(c.cfg.MaxRetries, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Connection-level failures are worth another attempt.
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if err := classifyStatus(resp); err != nil {
			return err
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	})
}

// classifyStatus maps response codes to errors. Server-class codes are
// retryable; everything else surfaces as an upstream error whose text the
// healing trees match on.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.UpstreamError{Status: resp.StatusCode, Msg: "rate limit exceeded"}
	case resp.StatusCode == http.StatusUnauthorized:
		return &domain.UpstreamError{Status: resp.StatusCode, Msg: "401 unauthorized"}
	case resp.StatusCode == http.StatusForbidden:
		return &domain.UpstreamError{Status: resp.StatusCode, Msg: "403 forbidden"}
	case resp.StatusCode >= 500:
		return retry.RetryableError(&domain.UpstreamError{
			Status: resp.StatusCode,
			Msg:    fmt.Sprintf("server error: %s", resp.Status),
		})
	default:
		return &domain.UpstreamError{Status: resp.StatusCode, Msg: resp.Status}
	}
}
