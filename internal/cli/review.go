package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"onebookreader/internal/app"
	"onebookreader/pkg/domain"
	"onebookreader/pkg/reviews"
)

func NewReviewCmd(newApp AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Create, edit or delete your reviews",
	}
	cmd.AddCommand(newReviewCreateCmd(newApp), newReviewUpdateCmd(newApp), newReviewDeleteCmd(newApp))
	return cmd
}

func newReviewCreateCmd(newApp AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <bookId>",
		Short: "Review a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, _ := cmd.Flags().GetInt("rating")
			content, _ := cmd.Flags().GetString("content")
			return withApp(cmd, newApp, "Could not save review", func(ctx context.Context, a *app.App) error {
				out, err := a.Reviews.CreateReview(ctx, args[0], rating, content)
				if err != nil {
					return err
				}
				return reportOutcome(cmd, "Created", out)
			})
		},
	}
	cmd.Flags().Int("rating", 0, "Rating from 1 to 5")
	cmd.Flags().String("content", "", "Review text")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func newReviewUpdateCmd(newApp AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <reviewId>",
		Short: "Edit one of your reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.ReviewPatch
			if cmd.Flags().Changed("rating") {
				rating, _ := cmd.Flags().GetInt("rating")
				patch.Rating = &rating
			}
			if cmd.Flags().Changed("content") {
				content, _ := cmd.Flags().GetString("content")
				patch.Content = &content
			}
			return withApp(cmd, newApp, "Could not update review", func(ctx context.Context, a *app.App) error {
				out, err := a.Reviews.UpdateReview(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return reportOutcome(cmd, "Updated", out)
			})
		},
	}
	cmd.Flags().Int("rating", 0, "New rating from 1 to 5")
	cmd.Flags().String("content", "", "New review text")
	return cmd
}

func newReviewDeleteCmd(newApp AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <reviewId>",
		Short: "Delete one of your reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, "Could not delete review", func(ctx context.Context, a *app.App) error {
				out, err := a.Reviews.DeleteReview(ctx, args[0])
				if err != nil {
					return err
				}
				return reportOutcome(cmd, "Deleted", out)
			})
		},
	}
}

// reportOutcome prints the mutated review. A failed view refresh is only a
// warning: the mutation itself succeeded.
func reportOutcome(cmd *cobra.Command, verb string, out reviews.Outcome) error {
	if out.RefreshErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: views could not be refreshed: %v\n", out.RefreshErr)
	}
	if jsonOutput(cmd) {
		return printJSON(cmd.OutOrStdout(), out.Review)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s review %s (%s) for book %s.\n", verb, out.Review.ID, stars(out.Review.Rating), out.Review.BookID)
	return err
}
