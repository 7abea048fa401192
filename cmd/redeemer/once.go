package main

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newOnceCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single redemption cycle per enabled variant and print the reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			var errs []error
			for _, r := range a.runners {
				report, err := r.RunOnce(ctx)
				if err != nil {
					a.log.Error("cycle failed", zap.Error(err))
					errs = append(errs, err)
				}
				if report == nil {
					if err == nil {
						a.log.Warn("cycle skipped, lock held by another process")
					}
					continue
				}
				if err := enc.Encode(report); err != nil {
					return err
				}
			}
			return errors.Join(errs...)
		},
	}
}
