// Command browserguard launches a browser and keeps a maximized tab open in
// it, relaunching the browser when it stops answering.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/grafana/browserguard/browserprocess"
	"github.com/grafana/browserguard/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(logrus.StandardLogger(), false, nil)

	// browsers must not outlive a crashing guard.
	defer func() {
		if r := recover(); r != nil {
			browserprocess.ForceShutdown(context.Background())
			panic(r)
		}
	}()

	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		logger.Errorf("browserguard", "%v", err)
		stop()
		os.Exit(1) //nolint:gocritic
	}
}
