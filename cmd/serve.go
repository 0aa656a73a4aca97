package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/app"
)

// newServeCmd creates the 'serve' subcommand, the long-running process.
func newServeCmd() *cobra.Command {
	var roles []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs workers, triggers and the HTTP API until interrupted",
		Long: `Starts the selected roles and blocks until SIGINT or SIGTERM.

Roles: controller, ingest, detail, trigger, api, or all (the default).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := app.ParseRoles(roles)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("serve starting", zap.Stringer("roles", selected))
			return appInstance.Run(cmd.Context(), selected)
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "comma separated roles to run (default all)")
	return cmd
}
