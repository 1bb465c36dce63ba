package httpjson

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clusterbits/groupmon/pkg/transport"
)

// Client is a thin HTTP client for the management API with optional TLS and
// a short retry with backoff.
type Client struct {
	httpc     *http.Client
	transport *http.Transport
	isTLS     bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	tr := &http.Transport{}
	return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
	if c.transport != nil {
		c.transport.TLSClientConfig = cfg
	}
	c.isTLS = cfg != nil
	return c
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
	scheme := "http"
	if c.isTLS {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/status", scheme, addr)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
			}
		}
		body, err := c.fetch(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

var _ transport.StatusClient = (*Client)(nil)
