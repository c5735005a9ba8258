package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/grafana/xk6-compositor/cdp"
	"github.com/grafana/xk6-compositor/config"
)

func newAttachCmd() *cobra.Command {
	var cfgPath string
	var reportPath string
	cmd := &cobra.Command{
		Use:   "attach <ws-url>",
		Short: "Follow the frames of a running browser as pipelines",
		Long: "Connects to the DevTools websocket of a running browser and " +
			"attaches its frame tree to the compositor until the browser disconnects.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err //nolint:wrapcheck
			}
			if reportPath != "" {
				cfg.Server.Report = reportPath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return attach(ctx, cfg, args[0], cmd)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&reportPath, "report", "", "write a session report to this path on exit")
	return cmd
}

func attach(ctx context.Context, cfg *config.Options, wsURL string, cmd *cobra.Command) (err error) {
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), map[string]string{"browser.url": wsURL})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.run(runCtx) }()

	s, err := cdp.Attach(runCtx, wsURL, a.c, a.events, a.logger)
	if err != nil {
		cancel()
		<-done
		return err //nolint:wrapcheck
	}

	select {
	case <-s.Done():
		if serr := s.Err(); serr != nil {
			a.logger.Warnf("attach", "browser connection ended: %v", serr)
		}
	case <-ctx.Done():
	}
	s.Close()
	cancel()
	return <-done
}
