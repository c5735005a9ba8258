// Command xk6-compositor runs a standalone compositor that peers drive
// over the Chrome DevTools Protocol.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/grafana/xk6-compositor/config"
	"github.com/grafana/xk6-compositor/log"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), color.RedString("xk6-compositor: %v", err))
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "xk6-compositor",
		Short:         "Browser compositor coordinator with a CDP endpoint",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newAttachCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newLogger(cfg config.Log, w io.Writer) (*log.Logger, error) {
	l := logrus.New()
	l.SetOutput(w)
	logger := log.New(l, uuid.NewString())
	if err := logger.SetLevel(cfg.Level); err != nil {
		return nil, fmt.Errorf("setting log level: %w", err)
	}
	if cfg.CategoryFilter != "" {
		if err := logger.SetCategoryFilter(cfg.CategoryFilter); err != nil {
			return nil, fmt.Errorf("setting log category filter: %w", err)
		}
	}
	return logger, nil
}
