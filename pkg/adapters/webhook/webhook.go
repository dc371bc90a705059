package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/push"
)

// Sender posts notifications to an HTTP endpoint (generic webhook).
//
// Response status determines the outcome: 2xx is delivered, 404/410
// marks the destination permanently gone, everything else is retried.
type Sender struct {
	name   string
	lgr    logger.Logger
	cfg    Config
	client *http.Client
}

var _ push.Sender = (*Sender)(nil)

// Config configures the webhook sender.
type Config struct {
	URL           string
	Method        string
	Headers       map[string]string
	Timeout       time.Duration
	BasicAuthUser string
	BasicAuthPass string
	DryRun        bool
}

type Option func(*Sender)

// WithName overrides the sender name.
func WithName(name string) Option {
	return func(s *Sender) {
		if strings.TrimSpace(name) != "" {
			s.name = name
		}
	}
}

// WithConfig sets the sender configuration.
func WithConfig(cfg Config) Option {
	return func(s *Sender) {
		s.cfg = cfg
	}
}

// WithClient allows injecting a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(s *Sender) {
		if c != nil {
			s.client = c
		}
	}
}

// New constructs the webhook sender.
func New(l logger.Logger, opts ...Option) *Sender {
	if l == nil {
		l = &logger.Nop{}
	}
	sender := &Sender{
		name: "webhook",
		lgr:  l,
		cfg: Config{
			Method:  "POST",
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sender)
		}
	}
	if sender.client == nil {
		sender.client = &http.Client{Timeout: sender.cfg.Timeout}
	}
	return sender
}

// Name identifies the sender in logs and configuration.
func (s *Sender) Name() string { return s.name }

// Deliver posts the notification as JSON to the configured endpoint.
func (s *Sender) Deliver(ctx context.Context, n push.Notification) (push.Outcome, error) {
	if s.cfg.DryRun {
		s.lgr.Info("[webhook:dry-run] send skipped",
			logger.Field{Key: "url", Value: s.cfg.URL},
			logger.Field{Key: "identity", Value: n.Identity},
		)
		return push.Delivered, nil
	}

	if strings.TrimSpace(s.cfg.URL) == "" {
		return push.PermanentFailure, fmt.Errorf("webhook: url is required")
	}

	payload := map[string]any{
		"identity": n.Identity,
		"title":    n.Title,
		"body":     n.Body,
	}
	if len(n.Data) > 0 {
		payload["data"] = n.Data
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return push.PermanentFailure, fmt.Errorf("webhook: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(s.cfg.Method), s.cfg.URL, bytes.NewReader(bodyBytes))
	if err != nil {
		return push.PermanentFailure, fmt.Errorf("webhook: build request: %w", err)
	}

	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.BasicAuthUser != "" {
		req.SetBasicAuth(s.cfg.BasicAuthUser, s.cfg.BasicAuthPass)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return push.TransientFailure, fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return push.Delivered, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return push.PermanentFailure, fmt.Errorf("webhook: destination gone, status %d", resp.StatusCode)
	default:
		return push.TransientFailure, fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
}
