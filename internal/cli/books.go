package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"onebookreader/internal/app"
	"onebookreader/pkg/catalog"
	"onebookreader/pkg/domain"
)

func NewBooksCmd(newApp AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, _ := cmd.Flags().GetInt("page")
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, newApp, "Could not load books", func(ctx context.Context, a *app.App) error {
				res, err := a.Catalog.Books(ctx, page, limit)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				if err := printBooks(out, res.Books); err != nil {
					return err
				}
				fmt.Fprintf(out, "\nPage %d, %d books total\n", res.Page, res.Total)
				return nil
			})
		},
	}
	cmd.Flags().Int("page", catalog.DefaultPage, "Page number")
	cmd.Flags().Int("limit", catalog.DefaultLimit, "Books per page")
	return cmd
}

func NewBookCmd(newApp AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "book <id>",
		Short: "Show one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, "Could not load book", func(ctx context.Context, a *app.App) error {
				book, err := a.Catalog.Book(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), book)
				}
				printBook(cmd.OutOrStdout(), book)
				return nil
			})
		},
	}
}

func NewReviewsCmd(newApp AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "reviews <bookId>",
		Short: "List reviews of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, "Could not load reviews", func(ctx context.Context, a *app.App) error {
				reviews, err := a.Catalog.Reviews(ctx, args[0])
				if err != nil {
					return err
				}
				if reviews == nil {
					reviews = []domain.Review{}
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), reviews)
				}
				return printReviews(cmd.OutOrStdout(), reviews)
			})
		},
	}
}

func NewFavoritesCmd(newApp AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "List or change favorite books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, "Could not load favorites", func(ctx context.Context, a *app.App) error {
				books, err := a.Catalog.Favorites(ctx)
				if err != nil {
					return err
				}
				if books == nil {
					books = []domain.Book{}
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), books)
				}
				return printBooks(cmd.OutOrStdout(), books)
			})
		},
	}
	cmd.AddCommand(
		favoriteChangeCmd(newApp, "add", "Add a book to favorites", "Added", (*catalog.Service).AddFavorite),
		favoriteChangeCmd(newApp, "remove", "Remove a book from favorites", "Removed", (*catalog.Service).RemoveFavorite),
	)
	return cmd
}

func favoriteChangeCmd(newApp AppFactory, use, short, verb string, change func(*catalog.Service, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <bookId>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, "Could not update favorites", func(ctx context.Context, a *app.App) error {
				if err := change(a.Catalog, ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s.\n", verb, args[0])
				return nil
			})
		},
	}
}
