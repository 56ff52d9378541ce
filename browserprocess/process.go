/*
 *
 * browserguard - keeps a supervised Chromium window alive
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package browserprocess runs external commands for the guard: it launches
// and terminates the browser, probes its control endpoint and runs short
// helper commands to completion.
package browserprocess

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/grafana/browserguard/log"
	"github.com/grafana/browserguard/storage"
)

// ErrLaunch is matched by every error caused by a browser that could not be
// spawned or never became responsive.
var ErrLaunch = errors.New("browser launch failed")

// LaunchError describes a failed launch of the browser executable at Path.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %q: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Is reports whether target is ErrLaunch.
func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

const (
	defaultProbePath      = "/json/version"
	defaultTerminateGrace = 2 * time.Second
	killWait              = 2 * time.Second
)

// Process is a launched browser process.
type Process struct {
	cmd         *exec.Cmd
	done        chan struct{}
	waitErr     error
	terminating atomic.Bool
}

// Pid returns the browser process ID, or 0 when the process was never started.
func (p *Process) Pid() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Alive reports whether the process has not exited yet.
func (p *Process) Alive() bool {
	if p == nil || p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the error the process exited with. It is only meaningful after
// Done is closed.
func (p *Process) Err() error {
	return p.waitErr
}

// Runner launches, probes and terminates browser processes.
type Runner struct {
	logger    *log.Logger
	http      *resty.Client
	probePath string
	grace     time.Duration
	outputLog string
}

// Option configures a Runner.
type Option func(*Runner)

// WithProbePath sets the path appended to the control URL by IsResponding.
func WithProbePath(path string) Option {
	return func(r *Runner) { r.probePath = path }
}

// WithTerminateGrace sets how long Terminate waits after the stop signal
// before it force kills the process.
func WithTerminateGrace(d time.Duration) Option {
	return func(r *Runner) { r.grace = d }
}

// WithOutputLog sends the stdout and stderr of launched processes to a
// rotating log file at path. Output is discarded when path is empty.
func WithOutputLog(path string) Option {
	return func(r *Runner) { r.outputLog = path }
}

// NewRunner returns a Runner logging to logger.
func NewRunner(logger *log.Logger, opts ...Option) *Runner {
	r := &Runner{
		logger:    logger,
		probePath: defaultProbePath,
		grace:     defaultTerminateGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.http = resty.New().
		SetLogger(log.CategoryLogger{L: logger, Category: "browser:probe"}).
		SetRetryCount(0)

	return r
}

// Launch starts the browser executable at path with args as a detached child
// process and returns without waiting for it.
func (r *Runner) Launch(ctx context.Context, path string, args []string) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}

	sink, err := r.outputSink()
	if err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}

	cmd := exec.Command(path, args...)
	setProcAttrs(cmd)
	if sink != nil {
		cmd.Stdout = sink
		cmd.Stderr = sink
	}
	// Children of the browser may keep the output pipes open after it exits.
	cmd.WaitDelay = r.grace

	// We must start the cmd before calling cmd.Wait, as otherwise the two
	// can run into a data race.
	if err := cmd.Start(); err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		return nil, &LaunchError{Path: path, Err: errors.Wrap(err, "starting process")}
	}

	p := &Process{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	pid := cmd.Process.Pid
	register(ctx, r.logger, pid)

	go func() {
		defer close(p.done)

		p.waitErr = cmd.Wait()
		if p.waitErr != nil && !p.terminating.Load() {
			r.logger.Errorf("browser",
				"process with PID %d unexpectedly ended: %v", pid, p.waitErr)
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				r.logger.Debugf("browser", "closing output sink of PID %d: %v", pid, err)
			}
		}
		unregister(pid)
	}()

	r.logger.Infof("browser", "launched %s with PID %d", path, pid)

	return p, nil
}

// outputSink returns nil when output is discarded.
func (r *Runner) outputSink() (io.WriteCloser, error) {
	if r.outputLog == "" {
		return nil, nil
	}
	if err := storage.EnsureFileDir(r.outputLog); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   r.outputLog,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     7, // days
	}, nil
}

// IsResponding probes the control endpoint at controlURL and reports
// whether it answered with a success status within timeout. It never fails:
// any error counts as not responding.
func (r *Runner) IsResponding(ctx context.Context, controlURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := strings.TrimRight(controlURL, "/") + r.probePath
	resp, err := r.http.R().SetContext(ctx).Get(u)
	if err != nil {
		r.logger.Debugf("browser:probe", "probing %q: %v", u, err)
		return false
	}
	if !resp.IsSuccess() {
		r.logger.Debugf("browser:probe", "probing %q: status %d", u, resp.StatusCode())
		return false
	}

	return true
}

// Terminate stops p: it sends a graceful stop signal, waits for the grace
// window and then force kills the process. Calling it on a nil or already
// exited process is a no-op.
func (r *Runner) Terminate(p *Process) {
	if p == nil || p.done == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}

	p.terminating.Store(true)
	pid := p.Pid()

	r.logger.Debugf("browser:terminate", "sending stop signal to PID %d", pid)
	if err := signalStop(p.cmd.Process); err != nil {
		r.logger.Debugf("browser:terminate", "stop signal to PID %d: %v", pid, err)
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()
	select {
	case <-p.done:
		r.logger.Infof("browser:terminate", "PID %d stopped", pid)
		return
	case <-grace.C:
	}

	r.logger.Warnf("browser:terminate", "PID %d still alive after %s, killing it", pid, r.grace)
	if err := signalKill(p.cmd.Process); err != nil {
		r.logger.Debugf("browser:terminate", "killing PID %d: %v", pid, err)
	}

	wait := time.NewTimer(killWait)
	defer wait.Stop()
	select {
	case <-p.done:
	case <-wait.C:
		r.logger.Errorf("browser:terminate", "PID %d did not exit after being killed", pid)
	}
}
