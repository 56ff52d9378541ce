// Package display waits for an X server to accept connections.
package display

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/browserguard/log"
)

const (
	pollInterval = 500 * time.Millisecond
	dialTimeout  = time.Second
	x11BasePort  = 6000
)

// Waiter polls the X server of a display.
type Waiter struct {
	// SocketDir holds the unix sockets of local displays.
	SocketDir string
	logger    *log.Logger
}

// NewWaiter returns a Waiter for the standard X11 socket directory.
func NewWaiter(logger *log.Logger) *Waiter {
	return &Waiter{
		SocketDir: "/tmp/.X11-unix",
		logger:    logger,
	}
}

// Address returns the network and address the X server of display listens
// on. ":99" and "unix:99" are local unix sockets, "host:1" is TCP port 6001
// on host. A screen suffix such as ".0" is ignored.
func (w *Waiter) Address(display string) (network, address string, err error) {
	i := strings.LastIndex(display, ":")
	if i < 0 {
		return "", "", fmt.Errorf("invalid display %q", display)
	}
	host, num := display[:i], display[i+1:]
	if j := strings.Index(num, "."); j >= 0 {
		num = num[:j]
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return "", "", fmt.Errorf("invalid display number in %q", display)
	}

	host = strings.Trim(host, "[]")
	if host == "" || host == "unix" {
		return "unix", filepath.Join(w.SocketDir, "X"+strconv.Itoa(n)), nil
	}
	return "tcp", net.JoinHostPort(host, strconv.Itoa(x11BasePort+n)), nil
}

// Wait polls until the X server of display accepts a connection and
// reports whether it did before timeout.
func (w *Waiter) Wait(ctx context.Context, display string, timeout time.Duration) bool {
	network, address, err := w.Address(display)
	if err != nil {
		w.logger.Errorf("display", "%v", err)
		return false
	}
	w.logger.Infof("display", "waiting for display %s on %s %s", display, network, address)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		dctx, dcancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := d.DialContext(dctx, network, address)
		dcancel()
		if err == nil {
			_ = conn.Close()
			w.logger.Infof("display", "display %s is ready", display)
			return true
		}
		w.logger.Debugf("display", "display %s not ready: %v", display, err)

		select {
		case <-ctx.Done():
			w.logger.Errorf("display", "display %s not ready after %s", display, timeout)
			return false
		case <-ticker.C:
		}
	}
}
