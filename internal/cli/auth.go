package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"onebookreader/internal/app"
	"onebookreader/internal/usertoken"
	"onebookreader/pkg/domain"
)

// PasswordEnv supplies the password when --password is omitted.
const PasswordEnv = "ONEBOOK_PASSWORD"

func NewLoginCmd(newApp AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, err := passwordFlag(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, newApp, "Login failed", func(ctx context.Context, a *app.App) error {
				user, err := a.Session.Login(ctx, domain.Credentials{Email: strings.TrimSpace(email), Password: password})
				if err != nil {
					return err
				}
				return printUser(cmd, "Logged in as", user)
			})
		},
	}
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password (or "+PasswordEnv+")")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func NewRegisterCmd(newApp AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, err := passwordFlag(cmd)
			if err != nil {
				return err
			}
			profile := domain.Profile{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email), Password: password}
			return withApp(cmd, newApp, "Registration failed", func(ctx context.Context, a *app.App) error {
				user, err := a.Session.Register(ctx, profile)
				if err != nil {
					return err
				}
				return printUser(cmd, "Registered", user)
			})
		},
	}
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password (or "+PasswordEnv+")")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func NewLogoutCmd(newApp AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, "Logout failed", func(ctx context.Context, a *app.App) error {
				if err := a.Session.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
				return nil
			})
		},
	}
}

func NewWhoamiCmd(newApp AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, "Could not load session", func(ctx context.Context, a *app.App) error {
				select {
				case <-a.Session.Validated():
				case <-ctx.Done():
					return ctx.Err()
				}
				if !a.Session.IsAuthenticated(ctx) {
					return exitError(exitAuth, "not logged in")
				}
				st := a.Session.Current()
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), st.User)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s <%s>\n", st.User.Name, st.User.Email)
				switch {
				case usertoken.Expired(st.Token, time.Now(), 0):
					fmt.Fprintf(out, "Session expired %s, run onebook login\n", st.ExpiresAt.Local().Format("2006-01-02 15:04"))
				case !st.ExpiresAt.IsZero():
					fmt.Fprintf(out, "Session expires %s\n", st.ExpiresAt.Local().Format("2006-01-02 15:04"))
				}
				return nil
			})
		},
	}
}

func passwordFlag(cmd *cobra.Command) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		password = os.Getenv(PasswordEnv)
	}
	if password == "" {
		return "", exitError(exitUsage, "--password or %s is required", PasswordEnv)
	}
	return password, nil
}

func printUser(cmd *cobra.Command, prefix string, user domain.User) error {
	if jsonOutput(cmd) {
		return printJSON(cmd.OutOrStdout(), user)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s <%s>\n", prefix, user.Name, user.Email)
	return err
}
