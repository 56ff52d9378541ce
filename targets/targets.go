// Package targets lists and opens browser tabs through the HTTP control
// endpoint.
package targets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/grafana/browserguard/log"
)

// ErrRegistry is matched by every error of the control endpoint.
var ErrRegistry = errors.New("tab registry error")

// DefaultTimeout bounds every request when the Registry is given no timeout.
const DefaultTimeout = 5 * time.Second

// Tab is a target listed by the browser. Only targets of type "page" are
// tabs.
type Tab struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	Title                string `json:"title"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Version describes the browser behind the control endpoint.
type Version struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Registry queries the control endpoint at a base URL such as
// http://localhost:9222.
type Registry struct {
	http   *resty.Client
	logger *log.Logger
}

// NewRegistry returns a Registry for the control endpoint at baseURL.
func NewRegistry(baseURL string, timeout time.Duration, logger *log.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetLogger(log.CategoryLogger{L: logger, Category: "targets"}).
			SetHeader("Accept", "application/json"),
		logger: logger,
	}
}

// ListTabs returns the open tabs in the order the browser lists them.
func (r *Registry) ListTabs(ctx context.Context) ([]Tab, error) {
	var all []Tab
	resp, err := r.http.R().
		SetContext(ctx).
		SetResult(&all).
		Get("/json/list")
	if err := check(resp, err, "listing tabs"); err != nil {
		return nil, err
	}

	tabs := make([]Tab, 0, len(all))
	for _, t := range all {
		if t.Type == "page" {
			tabs = append(tabs, t)
		}
	}
	r.logger.Tracef("targets", "%d targets, %d tabs", len(all), len(tabs))

	return tabs, nil
}

// OpenTab opens a new tab navigated to u.
func (r *Registry) OpenTab(ctx context.Context, u string) (Tab, error) {
	var tab Tab
	resp, err := r.http.R().
		SetContext(ctx).
		SetResult(&tab).
		Put("/json/new?" + url.QueryEscape(u))
	if err := check(resp, err, "opening tab"); err != nil {
		return Tab{}, err
	}
	r.logger.Infof("targets", "opened tab %s at %q", tab.ID, u)

	return tab, nil
}

// Version returns the browser version information.
func (r *Registry) Version(ctx context.Context) (Version, error) {
	var v Version
	resp, err := r.http.R().
		SetContext(ctx).
		SetResult(&v).
		Get("/json/version")
	if err := check(resp, err, "reading version"); err != nil {
		return Version{}, err
	}

	return v, nil
}

func check(resp *resty.Response, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRegistry, what, err)
	}
	if resp.IsError() || !resp.IsSuccess() {
		return fmt.Errorf("%w: %s: status %d: %s", ErrRegistry, what, resp.StatusCode(),
			strings.TrimSpace(resp.String()))
	}
	return nil
}
