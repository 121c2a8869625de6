package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd runs the operational HTTP surface without starting a crawl,
// for deployments where runs are triggered externally on a schedule.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics, and progress endpoints until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			appInstance.StartAPI()
			appInstance.Logger().Info("serving; press Ctrl-C to stop")
			<-cmd.Context().Done()
			return nil
		},
	}
}
