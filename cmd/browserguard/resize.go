package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grafana/browserguard/cdp"
	"github.com/grafana/browserguard/guard"
	"github.com/grafana/browserguard/log"
	"github.com/grafana/browserguard/targets"
	"github.com/grafana/browserguard/window"
)

func newResizeCmd(logger *log.Logger, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resize WIDTHxHEIGHT",
		Short: "Resize the window of the first tab of a running browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			width, height, err := parseSize(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(logger, *logLevel)
			if err != nil {
				return err
			}

			transports := cdp.NewRegistry(logger)
			defer transports.CloseAll()
			g := guard.New(
				guard.Options{ControlURL: cfg.ControlURL(), Config: cfg.Guard},
				nil,
				targets.NewRegistry(cfg.ControlURL(), cfg.Guard.HTTPTimeout, logger),
				window.NewController(transports, cfg.Guard.CommandTimeout, logger),
				transports,
				nil,
				logger,
			)

			return g.Resize(cmd.Context(), width, height)
		},
	}
}

// parseSize parses sizes such as 1280x720.
func parseSize(s string) (width, height int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q, want WIDTHxHEIGHT", s)
	}
	if width, err = strconv.Atoi(ws); err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	if height, err = strconv.Atoi(hs); err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return width, height, nil
}
