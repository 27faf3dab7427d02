package cmd

import (
	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var volumes bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the tunnel, the log follower and all services",
		Long: `Stops the background processes and the service containers, then verifies
that the reserved ports are free. If a port is still bound, processes are
killed and containers force-removed once more before giving up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			return application.Stop(cmd.Context(), volumes)
		},
	}

	cmd.Flags().BoolVar(&volumes, "volumes", false, "Also remove the data volumes of the services")
	return cmd
}
