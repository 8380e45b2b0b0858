package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HerbHall/exhibitdesk/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var subject, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Example: `  exhibitdesk token --sub 7
  exhibitdesk token --sub 1 --role administrator`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return errors.New("--sub is required")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			v, err := auth.NewVerifier(cfg.GetString("auth.jwt_secret"), cfg.GetString("auth.issuer"), cfg.GetDuration("auth.token_ttl"))
			if err != nil {
				return err
			}
			token, err := v.Issue(subject, role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "numeric user id")
	cmd.Flags().StringVar(&role, "role", "", `role claim, e.g. "`+auth.RoleAdministrator+`"`)
	return cmd
}
