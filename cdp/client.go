// Package cdp talks the Chrome DevTools Protocol to browser tabs over
// persistent websockets.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/mailru/easyjson"

	"github.com/grafana/browserguard/cdp/domains"
	"github.com/grafana/browserguard/log"
)

// DefaultCommandTimeout bounds a command round-trip when the Client is
// given no timeout.
const DefaultCommandTimeout = 3 * time.Second

var _ cdp.Executor = &Client{}

// Client runs CDP commands against one tab. Connections come from a shared
// Registry and are evicted when they fault.
type Client struct {
	registry *Registry
	addr     string
	timeout  time.Duration
	logger   *log.Logger

	Browser domains.Browser
}

// NewClient returns a Client for the tab whose websocket URL is addr.
func NewClient(registry *Registry, addr string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	c := &Client{
		registry: registry,
		addr:     addr,
		timeout:  timeout,
		logger:   logger,
	}
	c.Browser = domains.NewBrowser(c)

	return c
}

// Execute implements cdp.Executor: it sends method with params, waits for
// the reply at most the command timeout and unmarshals the result into res.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	c.logger.Debugf("cdp:client", "addr:%q method:%q", c.addr, method)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.registry.Acquire(ctx, c.addr)
	if err != nil {
		return err
	}

	result, err := conn.Send(ctx, method, params)
	if errors.Is(err, ErrConnectionFault) {
		c.registry.Evict(c.addr)
	}
	if err != nil {
		return err
	}

	if res == nil || len(result) == 0 {
		return nil
	}
	if err := easyjson.Unmarshal(result, res); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}

	return nil
}
