package session

import (
	"context"

	"github.com/nxpad/go-procon-server/internal/l2cap"
)

// L2CAPTransport adapts the concrete L2CAP transport to the Transport seam.
type L2CAPTransport struct {
	inner *l2cap.Transport
}

// NewL2CAPTransport returns the production transport.
func NewL2CAPTransport() *L2CAPTransport {
	return &L2CAPTransport{inner: l2cap.NewTransport()}
}

func (t *L2CAPTransport) Accept(ctx context.Context, localAddr string) (Link, error) {
	conn, err := t.inner.Accept(ctx, localAddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (t *L2CAPTransport) Connect(ctx context.Context, localAddr, remoteAddr string) (Link, error) {
	conn, err := t.inner.Connect(ctx, localAddr, remoteAddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
