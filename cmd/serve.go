package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the worker pool, the fetch schedule and the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			err = appInstance.Serve(cmd.Context())
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			appInstance.Logger().Info("shutdown complete")
			return nil
		},
	}
}
