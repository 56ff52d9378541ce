package browserprocess

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grafana/browserguard/log"
)

var (
	processRegister   = map[string]int{} //nolint:gochecknoglobals
	processRegisterMu = sync.Mutex{}     //nolint:gochecknoglobals
)

func registerKey(runID string, pid int) string {
	return strconv.Itoa(pid) + "/" + runID
}

func register(ctx context.Context, logger *log.Logger, pid int) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	logger.Debugf("browserprocess:register", "registered browser pid %d", pid)

	processRegister[registerKey(GetRunID(ctx), pid)] = pid
}

func unregister(pid int) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	prefix := strconv.Itoa(pid) + "/"
	for k := range processRegister {
		if strings.HasPrefix(k, prefix) {
			delete(processRegister, k)
		}
	}
}

// registered returns the number of processes still registered for the run
// ID in ctx, or for every run when ctx carries none.
func registered(ctx context.Context) int {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	rID := GetRunID(ctx)
	n := 0
	for k := range processRegister {
		if rID == "" || strings.HasSuffix(k, "/"+rID) {
			n++
		}
	}
	return n
}

// ForceShutdown kills every browser process launched under the run ID in
// ctx, or every registered process when ctx carries no run ID. It should be
// called when the guard has to exit without going through the normal
// termination path, for example on a panic.
func ForceShutdown(ctx context.Context) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	rID := GetRunID(ctx)
	for k, pid := range processRegister {
		if rID != "" && !strings.HasSuffix(k, "/"+rID) {
			continue
		}
		Kill(pid)
		delete(processRegister, k)
	}
}

// Kill will look for and kill the process with the
// given pid. This is only being exported to allow
// tests to override it so that they don't have to
// spawn real processes.
var Kill = func(pid int) { //nolint:gochecknoglobals
	p, err := os.FindProcess(pid)
	if err != nil {
		// optimistically continue and don't kill the process
		return
	}
	// no need to check the error since we're already dying.
	_ = p.Kill()
	_ = p.Release()
}
