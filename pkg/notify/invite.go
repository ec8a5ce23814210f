package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/7juliusearl/dot-backend/pkg/config"
	"github.com/7juliusearl/dot-backend/pkg/logger"
)

// InviteClient delivers beta-invite notifications after a completed
// checkout. Delivery is best effort; callers must never let a failed
// invite affect payment processing.
type InviteClient struct {
	url    string
	token  string
	client *http.Client
	logg   *logger.Logger
}

// NewInviteClient builds the invite client. A client with an empty URL is
// valid and turns Send into a no-op.
func NewInviteClient(cfg config.InviteConfig, logg *logger.Logger) *InviteClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &InviteClient{
		url:    strings.TrimSpace(cfg.URL),
		token:  strings.TrimSpace(cfg.Token),
		client: &http.Client{Timeout: timeout},
		logg:   logg,
	}
}

// Enabled reports whether a destination is configured.
func (c *InviteClient) Enabled() bool {
	return c != nil && c.url != ""
}

// Send posts the invite request. Errors are returned for logging but carry
// no typed code; they must not be propagated to webhook responses.
func (c *InviteClient) Send(ctx context.Context, email string) error {
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("invite requires an email")
	}

	body, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return fmt.Errorf("encoding invite payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building invite request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending invite: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("invite endpoint returned %d", resp.StatusCode)
	}

	if c.logg != nil {
		c.logg.Info(ctx, "beta invite dispatched")
	}
	return nil
}
