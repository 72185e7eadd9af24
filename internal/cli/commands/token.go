package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/relay/internal/web/auth"
)

// NewTokenCommand creates the token command
func NewTokenCommand(app *App) *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		Long: `Issue a bearer token for the admin API, signed with admin.secret.

Scopes:
  routes:read    GET /admin/routes
  monitor:read   GET /admin/monitor
  debug:read     /admin/debug/pprof and /admin/debug/stats
  *              everything`,
		Example: `  relay token --subject ops --scope routes:read
  relay token --ttl 15m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := app.loadProject()
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = p.config.Admin.TokenTTL
			}

			svc, err := auth.NewAuthService(p.config.Admin.Secret, ttl)
			if err != nil {
				return fmt.Errorf("%w (set admin.secret or RELAY_ADMIN_SECRET)", err)
			}
			token, err := svc.GenerateToken(subject, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "relay-cli", "Token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{"*"}, "Granted scopes (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: admin.token_ttl)")

	cmd.AddCommand(newTokenHashCommand())
	return cmd
}

func newTokenHashCommand() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Hash a password for admin.password_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				prompt := &survey.Password{Message: "Admin password:"}
				if err := survey.AskOne(prompt, &password, survey.WithValidator(survey.Required)); err != nil {
					return err
				}
			}
			if password == "" {
				return errors.New("password is required")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password to hash (prompted when omitted)")
	return cmd
}
