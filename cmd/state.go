package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/boxoffice-crawler/internal/schedule"
)

// newStateCmd creates the 'state' subcommand, which prints the schedule document.
func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Prints the stored schedule state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			s, err := appInstance.State(cmd.Context())
			if err != nil {
				return err
			}
			body, err := schedule.EncodeState(s)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(body, '\n'))
			return err
		},
	}
}
