package transport

import "context"

// StatusFunc produces the JSON status snapshot served to clients.
type StatusFunc func(ctx context.Context) ([]byte, error)

// StatusServer is the management surface of a node: status snapshot, health
// and metrics. The monitor is a passive observer; the surface is read-only.
type StatusServer interface {
	Start(ctx context.Context, status StatusFunc) error
	Addr() string
	Stop(ctx context.Context) error
}

// StatusClient fetches a remote node's status snapshot.
type StatusClient interface {
	GetStatus(ctx context.Context, addr string) ([]byte, error)
}
