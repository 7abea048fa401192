package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0gfoundation/0g-rav-redeemer/internal/server"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the redemption loop for every enabled variant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			g, gctx := errgroup.WithContext(ctx)
			srv := server.New(a.cfg.Server.Port, a.cfg.Server.GRPCPort, a.status, a.reg, a.log)
			g.Go(func() error { return srv.Run(gctx) })
			for _, r := range a.runners {
				r := r
				g.Go(func() error { return r.Run(gctx) })
			}

			err = g.Wait()
			if err != nil && ctx.Err() == nil {
				a.log.Error("redeemer exited", zap.Error(err))
				return err
			}
			a.log.Info("shutdown complete")
			return nil
		},
	}
}
