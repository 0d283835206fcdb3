package cli

import (
	"context"

	"github.com/spf13/cobra"

	"onebookreader/internal/app"
	"onebookreader/pkg/domain"
	"onebookreader/pkg/recommend"
)

func NewRecsCmd(newApp AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recs",
		Short: "Show personalized recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			force, _ := cmd.Flags().GetBool("force")
			return withApp(cmd, newApp, recommend.FallbackMessage, func(ctx context.Context, a *app.App) error {
				load := a.Recommendations.Load
				switch {
				case force:
					load = a.Recommendations.ForceRefresh
				case refresh:
					load = a.Recommendations.Refresh
				}
				recs, err := load(ctx)
				if err != nil {
					return err
				}
				if recs == nil {
					recs = []domain.Recommendation{}
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				printRecommendations(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}
	cmd.Flags().Bool("refresh", false, "Recompute on the server, keeping current results while loading")
	cmd.Flags().Bool("force", false, "Drop cached results and recompute on the server")
	cmd.MarkFlagsMutuallyExclusive("refresh", "force")
	return cmd
}
