// Package watchdog implements the small slice of the systemd notify
// protocol the inspector service needs: READY on startup, WATCHDOG pings,
// STOPPING on shutdown. Outside systemd (no NOTIFY_SOCKET) every operation
// is a no-op.
package watchdog

import (
	"context"
	"net"
	"os"
	"time"
)

// Notifier sends sd_notify messages. A nil Notifier is valid and inert.
type Notifier struct {
	addr string
	conn net.Conn
}

// New returns a Notifier, or nil when NOTIFY_SOCKET is unset.
func New() *Notifier {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}
	return &Notifier{addr: addr}
}

func (n *Notifier) send(msg string) error {
	if n == nil {
		return nil
	}
	if n.conn == nil {
		conn, err := net.Dial("unixgram", n.addr)
		if err != nil {
			return err
		}
		n.conn = conn
	}
	_, err := n.conn.Write([]byte(msg))
	return err
}

// Ready signals that the first session build completed and queries can be
// served.
func (n *Notifier) Ready() error { return n.send("READY=1") }

// Stopping signals the start of graceful shutdown.
func (n *Notifier) Stopping() error { return n.send("STOPPING=1") }

// Ping sends one watchdog keepalive.
func (n *Notifier) Ping() error { return n.send("WATCHDOG=1") }

// Close releases the socket.
func (n *Notifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// Interval returns half the WATCHDOG_USEC period, or zero when systemd did
// not configure a watchdog.
func Interval() time.Duration {
	usec, err := time.ParseDuration(os.Getenv("WATCHDOG_USEC") + "us")
	if err != nil || usec <= 0 {
		return 0
	}
	return usec / 2
}

// Run pings until the context is cancelled, then signals STOPPING. It
// returns immediately when no watchdog is configured.
func (n *Notifier) Run(ctx context.Context) {
	if n == nil {
		return
	}
	interval := Interval()
	if interval == 0 {
		<-ctx.Done()
		_ = n.Stopping()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = n.Ping()
		case <-ctx.Done():
			_ = n.Stopping()
			return
		}
	}
}
