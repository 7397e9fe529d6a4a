// Package l2cap provides the HID transport channels of the emulated
// controller: two SEQPACKET L2CAP sockets, control on PSM 17 and interrupt
// on PSM 19. Input reports travel over the interrupt channel.
package l2cap

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	controlPSM   = 17
	interruptPSM = 19

	// HIDP header for a DATA|INPUT transaction.
	hidInputHeader = 0xa1
)

// Conn is one established controller link: a control and an interrupt
// channel to the same peer.
type Conn struct {
	controlFD   int
	interruptFD int
	remote      string

	mu     sync.Mutex
	closed bool
}

// SendReport writes one input report on the interrupt channel. A failed
// write means the peer is gone; callers treat it as a disconnect signal.
func (c *Conn) SendReport(report []byte) error {
	buf := make([]byte, 0, len(report)+1)
	buf = append(buf, hidInputHeader)
	buf = append(buf, report...)

	if _, err := unix.Write(c.interruptFD, buf); err != nil {
		return fmt.Errorf("send input report: %w", err)
	}
	return nil
}

// RemoteAddress returns the peer MAC address, when known.
func (c *Conn) RemoteAddress() string {
	return c.remote
}

// Close shuts both channels down.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	unix.Close(c.interruptFD)
	unix.Close(c.controlFD)
	return nil
}

// Listener waits for a console to open the HID channels toward us.
type Listener struct {
	controlFD   int
	interruptFD int

	mu     sync.Mutex
	closed bool
}

// Listen binds server sockets for both PSMs on the adapter address.
func Listen(localAddr string) (*Listener, error) {
	ctrl, err := listenChannel(localAddr, controlPSM)
	if err != nil {
		return nil, err
	}
	intr, err := listenChannel(localAddr, interruptPSM)
	if err != nil {
		unix.Close(ctrl)
		return nil, err
	}
	return &Listener{controlFD: ctrl, interruptFD: intr}, nil
}

// Accept blocks until a peer has connected both channels, or the context
// ends. The control channel always comes in first.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	stop := l.closeOnDone(ctx)
	defer stop()

	ctrl, _, err := unix.Accept(l.controlFD)
	if err != nil {
		return nil, acceptErr(ctx, "control", err)
	}

	intr, sa, err := unix.Accept(l.interruptFD)
	if err != nil {
		unix.Close(ctrl)
		return nil, acceptErr(ctx, "interrupt", err)
	}

	return &Conn{
		controlFD:   ctrl,
		interruptFD: intr,
		remote:      remoteFromSockaddr(sa),
	}, nil
}

// Close unblocks any pending Accept and releases the sockets.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	unix.Close(l.controlFD)
	unix.Close(l.interruptFD)
	return nil
}

// closeOnDone closes the listener when the context ends, unblocking a
// pending Accept. The returned stop function ends the watch.
func (l *Listener) closeOnDone(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Dial opens both channels toward a previously paired console. Used on the
// reconnect path, where the console expects the controller to initiate.
func Dial(ctx context.Context, localAddr, remoteAddr string) (*Conn, error) {
	ctrl, err := dialChannel(ctx, localAddr, remoteAddr, controlPSM)
	if err != nil {
		return nil, err
	}
	intr, err := dialChannel(ctx, localAddr, remoteAddr, interruptPSM)
	if err != nil {
		unix.Close(ctrl)
		return nil, err
	}
	return &Conn{
		controlFD:   ctrl,
		interruptFD: intr,
		remote:      remoteAddr,
	}, nil
}

func listenChannel(localAddr string, psm uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return 0, fmt.Errorf("l2cap socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("set SO_REUSEADDR: %w", err)
	}

	sa, err := sockaddr(localAddr, psm)
	if err != nil {
		unix.Close(fd)
		return 0, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("bind psm %d: %w", psm, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listen psm %d: %w", psm, err)
	}
	return fd, nil
}

func dialChannel(ctx context.Context, localAddr, remoteAddr string, psm uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return 0, fmt.Errorf("l2cap socket: %w", err)
	}
	closer := &fdCloser{fd: fd}

	local, err := sockaddr(localAddr, 0)
	if err != nil {
		closer.Close()
		return 0, err
	}
	if err := unix.Bind(fd, local); err != nil {
		closer.Close()
		return 0, fmt.Errorf("bind local address: %w", err)
	}

	remote, err := sockaddr(remoteAddr, psm)
	if err != nil {
		closer.Close()
		return 0, err
	}

	// Closing the socket unblocks a pending Connect when the context ends.
	// Both the watcher and the error path may reach for the close; the
	// once-guard keeps them from closing a descriptor number the kernel has
	// already handed to someone else.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			closer.Close()
		case <-done:
		}
	}()
	err = unix.Connect(fd, remote)
	close(done)
	if err != nil {
		closer.Close()
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("connect psm %d to %s: %w", psm, remoteAddr, err)
	}
	return fd, nil
}

// fdCloser closes one descriptor at most once, no matter how many paths
// race to release it.
type fdCloser struct {
	fd   int
	once sync.Once
}

func (c *fdCloser) Close() {
	c.once.Do(func() { unix.Close(c.fd) })
}

// sockaddr converts a textual MAC address into an L2CAP sockaddr. The kernel
// expects the bdaddr octets in little-endian order.
func sockaddr(addr string, psm uint16) (unix.Sockaddr, error) {
	hw, err := net.ParseMAC(addr)
	if err != nil || len(hw) != 6 {
		return nil, fmt.Errorf("invalid bluetooth address %q", addr)
	}
	var bdaddr [6]byte
	for i := 0; i < 6; i++ {
		bdaddr[i] = hw[5-i]
	}
	return &unix.SockaddrL2{
		PSM:      psm,
		Addr:     bdaddr,
		AddrType: unix.BDADDR_BREDR,
	}, nil
}

func remoteFromSockaddr(sa unix.Sockaddr) string {
	l2, ok := sa.(*unix.SockaddrL2)
	if !ok {
		return ""
	}
	b := l2.Addr
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[5], b[4], b[3], b[2], b[1], b[0])
}

func acceptErr(ctx context.Context, channel string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("accept %s channel: %w", channel, err)
}
