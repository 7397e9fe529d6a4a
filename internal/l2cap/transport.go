package l2cap

import (
	"context"
	"fmt"
	"time"
)

// Transport establishes controller links for the session orchestrator.
type Transport struct {
	// RetryInterval spaces out reconnect dial attempts.
	RetryInterval time.Duration
}

// NewTransport returns a transport with a 1s dial retry interval.
func NewTransport() *Transport {
	return &Transport{RetryInterval: time.Second}
}

// Accept waits for an inbound pairing connection on the adapter address.
func (t *Transport) Accept(ctx context.Context, localAddr string) (*Conn, error) {
	ln, err := Listen(localAddr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	return ln.Accept(ctx)
}

// Connect dials a previously paired console, retrying until it answers or
// the context ends. A powered-off console refuses the connection; the retry
// loop covers waiting for it to come back in range.
func (t *Transport) Connect(ctx context.Context, localAddr, remoteAddr string) (*Conn, error) {
	interval := t.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn, err := Dial(ctx, localAddr, remoteAddr)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connect to %s: %w", remoteAddr, ctx.Err())
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to %s: %w", remoteAddr, ctx.Err())
		case <-ticker.C:
		}
	}
}
