package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"onebookreader/internal/app"
	"onebookreader/internal/config"
	"onebookreader/internal/util"
)

// AppFactory builds the client core for a single command run.
type AppFactory func(cmd *cobra.Command) (*app.App, error)

// NewRootCmd assembles the onebook command tree. A nil factory loads
// configuration from the --config flag and the environment.
func NewRootCmd(newApp AppFactory) *cobra.Command {
	if newApp == nil {
		newApp = DefaultAppFactory
	}
	root := &cobra.Command{
		Use:           "onebook",
		Short:         "Book reviews and recommendations from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to config.yaml")
	root.PersistentFlags().Bool("verbose", false, "Log at debug level")
	root.PersistentFlags().Bool("json", false, "Print results as JSON")

	root.AddCommand(
		NewLoginCmd(newApp),
		NewRegisterCmd(newApp),
		NewLogoutCmd(newApp),
		NewWhoamiCmd(newApp),
		NewRecsCmd(newApp),
		NewBooksCmd(newApp),
		NewBookCmd(newApp),
		NewReviewsCmd(newApp),
		NewReviewCmd(newApp),
		NewFavoritesCmd(newApp),
	)
	return root
}

// DefaultAppFactory loads config.yaml (or --config), initializes logging
// and opens the configured credential store.
func DefaultAppFactory(cmd *cobra.Command) (*app.App, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger := util.InitLoggerTo(cmd.ErrOrStderr(), level)
	return app.New(app.Config{Settings: cfg, Logger: logger})
}

// withApp starts the client core, runs fn and shuts the core down once the
// background session check has settled.
func withApp(cmd *cobra.Command, newApp AppFactory, fallback string, fn func(ctx context.Context, a *app.App) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return asExit(err, "could not start")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		<-a.Session.Validated()
		if cerr := a.Close(); cerr != nil {
			slog.Warn("shutdown failed", "err", cerr)
		}
	}()
	if err := a.Start(ctx); err != nil {
		return asExit(err, "could not start")
	}
	return asExit(fn(ctx, a), fallback)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
