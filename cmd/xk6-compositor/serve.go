package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grafana/xk6-compositor/cdp"
	"github.com/grafana/xk6-compositor/config"
)

const readHeaderTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var cfgPath string
	var reportPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the compositor and accept CDP peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err //nolint:wrapcheck
			}
			if reportPath != "" {
				cfg.Server.Report = reportPath
			}
			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("listening on %q: %w", cfg.Server.Addr, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, ln, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&reportPath, "report", "", "write a session report to this path on exit")
	return cmd
}

// serve runs a compositor behind a CDP endpoint on ln until ctx is done.
func serve(ctx context.Context, cfg *config.Options, ln net.Listener, logw io.Writer) (err error) {
	a, err := newApp(ctx, cfg, logw, map[string]string{"server.addr": ln.Addr().String()})
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := cdp.NewServer(runCtx, a.c, a.events, a.logger)
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, srv)
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	serveErr := make(chan error, 1)
	go func() {
		if err := hs.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()
	a.logger.Infof("serve", "accepting CDP peers on ws://%s%s", ln.Addr(), cfg.Server.Path)

	runErr := a.run(runCtx)

	srv.Close()
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := hs.Shutdown(sctx); err != nil {
		a.logger.Warnf("serve", "stopping http server: %v", err)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("serving CDP: %w", err)
	default:
	}
	return runErr
}
