// Package webhook posts workflow transitions as JSON to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/notify"
	"github.com/h1v3-io/swarm/internal/workflow"
)

// SignatureHeader carries "sha256=<hex>" when a secret is configured.
const SignatureHeader = "X-Swarm-Signature-256"

// Config holds webhook notifier configuration.
type Config struct {
	URL    string
	Secret string
}

// Notifier implements workflow.Notifier by POSTing a notify.Payload.
type Notifier struct {
	config Config
	client *http.Client
	logger *zap.SugaredLogger
}

// New creates a webhook notifier.
func New(cfg Config, logger *zap.SugaredLogger) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Notifier{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}, nil
}

// Notify posts ev. Any non-2xx response is an error.
func (n *Notifier) Notify(ctx context.Context, ev workflow.Event) error {
	body, err := json.Marshal(notify.NewPayload(ev))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.config.Secret != "" {
		req.Header.Set(SignatureHeader, ComputeSignature(body, n.config.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	n.logger.Debugw("webhook notification sent", "url", n.config.URL, "status", resp.StatusCode)
	return nil
}

// ComputeSignature returns the "sha256=<hex>" HMAC of body.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by ComputeSignature. Receivers can use
// it to authenticate deliveries.
func Verify(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(ComputeSignature(body, secret)), []byte(signature))
}
