package cookieservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
)

// Client implements ports.CookieExtractor against the browser-automation
// service that logs in with a real browser and exports its cookies.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client. Extraction drives a real browser, so the
// timeout is measured in minutes.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type remoteCookie struct {
	Domain   string  `json:"domain"`
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
}

type extractResponse struct {
	Success bool           `json:"success"`
	Cookies []remoteCookie `json:"cookies"`
	Error   string         `json:"error"`
}

// ExtractCookies asks the service for a fresh cookie set for one platform.
func (c *Client) ExtractCookies(ctx context.Context, in ports.ExtractCookiesRequest) ([]domain.Cookie, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract-cookies", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cookie service unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie service response: %w", err)
	}

	var result extractResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("cookie service: status %d, body: %s", resp.StatusCode, string(raw))
		}
		return nil, fmt.Errorf("failed to decode cookie service response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !result.Success {
		msg := result.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("cookie extraction for %s failed: %s", in.Platform, msg)
	}
	if len(result.Cookies) == 0 {
		return nil, fmt.Errorf("cookie extraction for %s returned no cookies", in.Platform)
	}

	cookies := make([]domain.Cookie, 0, len(result.Cookies))
	for _, rc := range result.Cookies {
		cookies = append(cookies, domain.Cookie{
			Domain:   rc.Domain,
			Name:     rc.Name,
			Value:    rc.Value,
			Path:     rc.Path,
			Expires:  int64(rc.Expires),
			Secure:   rc.Secure,
			HTTPOnly: rc.HTTPOnly,
		})
	}
	return cookies, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cookie service unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cookie service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
