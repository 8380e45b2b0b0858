package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HerbHall/exhibitdesk/internal/services"
	"github.com/HerbHall/exhibitdesk/internal/store"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the settings and audit tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			path := cfg.GetString("store.path")
			st, err := store.New(path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if _, err := services.NewSQLiteSettingsRepository(cmd.Context(), st); err != nil {
				return err
			}
			if _, err := services.NewSQLiteAuditRepository(cmd.Context(), st); err != nil {
				return err
			}
			applied, err := st.Applied(cmd.Context(), "")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range applied {
				fmt.Fprintf(out, "%-10s v%-3d %s (%s)\n", a.Module, a.Version, a.Description,
					a.AppliedAt.Format(time.RFC3339))
			}
			_, err = fmt.Fprintf(out, "database %s is up to date\n", path)
			return err
		},
	}
}
