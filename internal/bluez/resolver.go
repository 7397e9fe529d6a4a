package bluez

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PeerLister is the subset of Manager the resolver needs.
type PeerLister interface {
	FindConnectedPeers(aliasFilter string) ([]Peer, error)
}

// Resolver polls the device list until an expected peer shows up connected.
// The overall wait is bounded only by the caller's context.
type Resolver struct {
	peers    PeerLister
	interval time.Duration
}

// NewResolver creates a resolver polling at the given interval (default 1s).
func NewResolver(peers PeerLister, interval time.Duration) *Resolver {
	if interval <= 0 {
		interval = time.Second
	}
	return &Resolver{peers: peers, interval: interval}
}

// AwaitConnectedAddress blocks until the peer with the given address reports
// connected, or the context ends.
func (r *Resolver) AwaitConnectedAddress(ctx context.Context, address string) (Peer, error) {
	return r.await(ctx, func() (Peer, bool, error) {
		peers, err := r.peers.FindConnectedPeers("")
		if err != nil {
			return Peer{}, false, err
		}
		for _, p := range peers {
			if strings.EqualFold(p.Address, address) {
				return p, true, nil
			}
		}
		return Peer{}, false, nil
	})
}

// AwaitAnyConnection blocks until any peer (optionally matching the alias
// filter) reports connected, or the context ends.
func (r *Resolver) AwaitAnyConnection(ctx context.Context, aliasFilter string) (Peer, error) {
	return r.await(ctx, func() (Peer, bool, error) {
		peers, err := r.peers.FindConnectedPeers(aliasFilter)
		if err != nil {
			return Peer{}, false, err
		}
		if len(peers) > 0 {
			return peers[0], true, nil
		}
		return Peer{}, false, nil
	})
}

func (r *Resolver) await(ctx context.Context, probe func() (Peer, bool, error)) (Peer, error) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		peer, found, err := probe()
		if err != nil {
			return Peer{}, fmt.Errorf("poll peers: %w", err)
		}
		if found {
			return peer, nil
		}

		select {
		case <-ctx.Done():
			return Peer{}, fmt.Errorf("%w: %v", ErrPeerNotFound, ctx.Err())
		case <-ticker.C:
		}
	}
}
