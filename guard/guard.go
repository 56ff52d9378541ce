// Package guard supervises a browser: it launches it, keeps a tab open with
// its window maximized and relaunches the browser when it stops answering.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/grafana/browserguard/browserprocess"
	"github.com/grafana/browserguard/cdp"
	"github.com/grafana/browserguard/config"
	"github.com/grafana/browserguard/log"
	"github.com/grafana/browserguard/metrics"
	"github.com/grafana/browserguard/otel"
	"github.com/grafana/browserguard/targets"
	"github.com/grafana/browserguard/window"
)

// State is the supervision state.
type State int32

// States of the guard.
const (
	Starting State = iota
	Monitoring
	Recovering
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Monitoring:
		return "monitoring"
	case Recovering:
		return "recovering"
	default:
		return "stopped"
	}
}

// DefaultSettle is how long the guard waits for a newly opened tab to show
// up in the tab list.
const DefaultSettle = time.Second

// Launcher launches and stops the browser process.
type Launcher interface {
	Launch(ctx context.Context, path string, args []string) (*browserprocess.Process, error)
	IsResponding(ctx context.Context, controlURL string, timeout time.Duration) bool
	Terminate(p *browserprocess.Process)
}

// TabRegistry lists and opens tabs.
type TabRegistry interface {
	ListTabs(ctx context.Context) ([]targets.Tab, error)
	OpenTab(ctx context.Context, url string) (targets.Tab, error)
	Version(ctx context.Context) (targets.Version, error)
}

// WindowController keeps the window of a tab maximized.
type WindowController interface {
	Ensure(ctx context.Context, tab targets.Tab) (window.Decision, error)
	Resize(ctx context.Context, tab targets.Tab, width, height int) error
}

// Transports closes every open CDP connection.
type Transports interface {
	CloseAll()
}

// Options configures a Guard.
type Options struct {
	ExecutablePath string
	Args           []string
	ControlURL     string
	Config         config.GuardConfig

	// Zero values select the defaults.
	ProbeBackoff    Backoff
	RelaunchBackoff Backoff
	Settle          time.Duration
}

// Guard runs the supervision loop. A Guard runs at most once.
type Guard struct {
	opts       Options
	launcher   Launcher
	tabs       TabRegistry
	window     WindowController
	transports Transports
	metrics    *metrics.Metrics
	logger     *log.Logger

	runID   string
	limiter *rate.Limiter
	state   atomic.Int32
	started atomic.Bool
	stopCh  chan struct{}
	stop    sync.Once

	// the process handle is shared with Stop callers.
	mu   sync.Mutex
	proc *browserprocess.Process

	connFaults int
}

// New returns a Guard. m may be nil.
func New(
	opts Options,
	launcher Launcher,
	tabs TabRegistry,
	win WindowController,
	transports Transports,
	m *metrics.Metrics,
	logger *log.Logger,
) *Guard {
	if opts.ProbeBackoff == (Backoff{}) {
		opts.ProbeBackoff = DefaultProbeBackoff
	}
	if opts.RelaunchBackoff == (Backoff{}) {
		opts.RelaunchBackoff = DefaultRelaunchBackoff
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if m == nil {
		m = metrics.Register(nil)
	}

	limit := rate.Inf
	if d := opts.Config.RecoveryBackoff; d > 0 {
		limit = rate.Every(d)
	}

	return &Guard{
		opts:       opts,
		launcher:   launcher,
		tabs:       tabs,
		window:     win,
		transports: transports,
		metrics:    m,
		logger:     logger,
		runID:      uuid.NewString(),
		limiter:    rate.NewLimiter(limit, 1),
		stopCh:     make(chan struct{}),
	}
}

// RunID identifies this guard in logs and in the process register.
func (g *Guard) RunID() string { return g.runID }

// State returns the current supervision state.
func (g *Guard) State() State { return State(g.state.Load()) }

func (g *Guard) setState(s State) {
	if old := State(g.state.Swap(int32(s))); old != s {
		g.logger.Infof("guard", "run:%s state %s -> %s", g.runID, old, s)
	}
}

// Stop asks Run to return. Commands in flight are canceled. It is safe to
// call from any goroutine, more than once.
func (g *Guard) Stop() {
	g.stop.Do(func() { close(g.stopCh) })
}

// Run launches the browser and supervises it until ctx is done or Stop is
// called, in which case it returns nil. It returns an error matching
// browserprocess.ErrLaunch when the browser could not be started within
// the retry budget.
func (g *Guard) Run(ctx context.Context) error {
	if !g.started.CompareAndSwap(false, true) {
		return errors.New("guard already ran")
	}

	ctx, cancel := context.WithCancel(browserprocess.WithRunID(ctx, g.runID))
	defer cancel()
	go func() {
		select {
		case <-g.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer g.shutdown()

	g.logger.Infof("guard", "run:%s supervising %s", g.runID, g.opts.ExecutablePath)

	for ctx.Err() == nil {
		switch g.State() {
		case Starting:
			if err := g.start(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			g.logVersion(ctx)
			g.setState(Monitoring)
		case Monitoring:
			if err := g.tick(ctx); err != nil && ctx.Err() == nil {
				g.logger.Errorf("guard", "run:%s monitoring failed: %v", g.runID, err)
				g.setState(Recovering)
				continue
			}
			sleep(ctx, g.opts.Config.CheckInterval)
		case Recovering:
			g.recover(ctx)
			if ctx.Err() == nil {
				g.setState(Starting)
			}
		case Stopped:
			return nil
		}
	}

	return nil
}

// start launches the browser and waits for its control endpoint, relaunching
// up to the retry count.
func (g *Guard) start(ctx context.Context) (err error) {
	ctx, span := otel.Trace(ctx, "guard.start", g.spanAttrs())
	defer func() { otel.End(span, err) }()

	retries := g.opts.Config.RetryCount
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 && !sleep(ctx, g.opts.RelaunchBackoff.Delay(attempt-1)) {
			return ctx.Err()
		}
		g.metrics.LaunchAttempts.Inc()

		p, err := g.launcher.Launch(ctx, g.opts.ExecutablePath, g.opts.Args)
		if err != nil {
			lastErr = err
			g.logger.Errorf("guard", "run:%s launch attempt %d/%d: %v", g.runID, attempt, retries, err)
			continue
		}
		g.setProc(p)

		if g.waitReady(ctx, p) {
			g.metrics.BrowserUp.Set(1)
			g.logger.Infof("guard", "run:%s browser PID %d ready after %d launch attempts", g.runID, p.Pid(), attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = fmt.Errorf("control endpoint %s not responding", g.opts.ControlURL)
		g.logger.Errorf("guard", "run:%s launch attempt %d/%d: %v", g.runID, attempt, retries, lastErr)
		g.terminate()
	}

	return &browserprocess.LaunchError{
		Path: g.opts.ExecutablePath,
		Err:  fmt.Errorf("giving up after %d attempts: %w", retries, lastErr),
	}
}

// waitReady probes the control endpoint until it answers, the probe budget
// runs out or the process exits.
func (g *Guard) waitReady(ctx context.Context, p *browserprocess.Process) bool {
	attempts := g.opts.Config.ProbeAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if !sleep(ctx, g.opts.ProbeBackoff.Delay(attempt)) {
			return false
		}
		if g.launcher.IsResponding(ctx, g.opts.ControlURL, g.opts.Config.ProbeTimeout) {
			return true
		}
		select {
		case <-p.Done():
			g.logger.Warnf("guard", "run:%s browser PID %d exited while starting: %v", g.runID, p.Pid(), p.Err())
			return false
		default:
		}
		g.logger.Debugf("guard", "run:%s probe %d/%d: not responding", g.runID, attempt, attempts)
	}

	return false
}

// tick runs one monitoring step. A returned error means the browser is
// gone or unreachable and has to be recovered.
func (g *Guard) tick(ctx context.Context) (err error) {
	ctx, span := otel.Trace(ctx, "guard.tick", g.spanAttrs())
	defer func() { otel.End(span, err) }()

	g.metrics.Ticks.Inc()

	tabs, err := g.tabs.ListTabs(ctx)
	if err != nil {
		g.metrics.CommandFailures.WithLabelValues(failureKind(err)).Inc()
		return err
	}

	if len(tabs) == 0 {
		g.logger.Infof("guard", "run:%s no tabs left, opening %s", g.runID, g.opts.Config.DefaultTabURL)
		if _, err := g.tabs.OpenTab(ctx, g.opts.Config.DefaultTabURL); err != nil {
			g.metrics.CommandFailures.WithLabelValues(failureKind(err)).Inc()
			g.logger.Errorf("guard", "run:%s %v", g.runID, err)
		} else {
			g.metrics.TabsOpened.Inc()
		}
		sleep(ctx, g.opts.Settle)
		return nil
	}

	// only the first tab is supervised.
	decision, err := g.window.Ensure(ctx, tabs[0])
	g.metrics.WindowDecisions.WithLabelValues(decision.String()).Inc()
	span.SetAttributes(attribute.String("window.decision", decision.String()))
	if err == nil {
		g.connFaults = 0
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	g.metrics.CommandFailures.WithLabelValues(failureKind(err)).Inc()
	g.logger.Warnf("guard", "run:%s tab %s: %v", g.runID, tabs[0].ID, err)
	span.RecordError(err)

	if !errors.Is(err, cdp.ErrConnectionFault) {
		g.connFaults = 0
		return nil
	}
	g.connFaults++
	if limit := g.opts.Config.MaxConnFaults; limit > 0 && g.connFaults >= limit {
		g.connFaults = 0
		return fmt.Errorf("%d consecutive connection faults: %w", limit, err)
	}

	return nil
}

// recover tears the browser down before it is started again.
func (g *Guard) recover(ctx context.Context) {
	ctx, span := otel.Trace(ctx, "guard.recover", g.spanAttrs())
	defer span.End()

	g.metrics.Recoveries.Inc()
	g.transports.CloseAll()
	g.terminate()

	if r := g.limiter.Reserve(); r.OK() {
		if d := r.Delay(); d > 0 {
			g.logger.Infof("guard", "run:%s waiting %s before relaunching", g.runID, d.Round(time.Millisecond))
			if !sleep(ctx, d) {
				r.Cancel()
			}
		}
	}
}

func (g *Guard) spanAttrs() trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("guard.run_id", g.runID))
}

func (g *Guard) logVersion(ctx context.Context) {
	v, err := g.tabs.Version(ctx)
	if err != nil {
		g.logger.Debugf("guard", "run:%s reading browser version: %v", g.runID, err)
		return
	}
	g.logger.Infof("guard", "run:%s browser %s, protocol %s", g.runID, v.Browser, v.ProtocolVersion)
}

// Resize sets the window of the first tab to width x height.
func (g *Guard) Resize(ctx context.Context, width, height int) error {
	tabs, err := g.tabs.ListTabs(ctx)
	if err != nil {
		return err
	}
	if len(tabs) == 0 {
		return errors.New("no tab to resize")
	}
	return g.window.Resize(ctx, tabs[0], width, height)
}

func (g *Guard) setProc(p *browserprocess.Process) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proc = p
}

func (g *Guard) terminate() {
	g.mu.Lock()
	p := g.proc
	g.proc = nil
	g.mu.Unlock()

	if p != nil {
		g.launcher.Terminate(p)
	}
	g.metrics.BrowserUp.Set(0)
}

func (g *Guard) shutdown() {
	g.setState(Stopped)
	g.transports.CloseAll()
	g.terminate()
	g.logger.Infof("guard", "run:%s stopped", g.runID)
}

func failureKind(err error) string {
	var cerr *cdp.CommandError
	switch {
	case errors.Is(err, cdp.ErrTimeout):
		return "timeout"
	case errors.Is(err, cdp.ErrConnectionFault):
		return "connection"
	case errors.As(err, &cerr):
		return "command"
	case errors.Is(err, targets.ErrRegistry):
		return "registry"
	default:
		return "other"
	}
}

// sleep waits for d and reports whether ctx is still alive.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
