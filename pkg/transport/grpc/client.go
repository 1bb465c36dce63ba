package grpc

import (
	"context"
	"crypto/tls"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/clusterbits/groupmon/pkg/transport"
)

// Client is a gRPC client for the status RPC. Connections are dialed per
// call; the status surface is queried too rarely to warrant pooling.
type Client struct {
	timeout time.Duration
	tlsCfg  *tls.Config
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
	// Use JSON codec and set content subtype accordingly.
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
	}
	if c.tlsCfg != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return grpc.DialContext(ctx, target, opts...)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, err := c.dialCtx(cctx, addr)
	if err != nil {
		return nil, err
	}
	defer cc.Close()
	out := new(statusBlob)
	if err := cc.Invoke(cctx, "/groupmon.v1.Status/GetStatus", &empty{}, out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

var _ transport.StatusClient = (*Client)(nil)
