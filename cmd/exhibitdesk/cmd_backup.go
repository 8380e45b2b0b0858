package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HerbHall/exhibitdesk/internal/backup"
)

func newBackupCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the database and config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("exhibitdesk-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
			}
			m, err := backup.Backup(cmd.Context(), cfg.GetString("store.path"), cfg.Viper().ConfigFileUsed(), output)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s (database %s)\n", output, m.Database)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default exhibitdesk-backup-{timestamp}.tar.gz)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var dataDir string
	var force bool
	cmd := &cobra.Command{
		Use:   "restore ARCHIVE",
		Short: "Restore a backup archive into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := backup.Restore(cmd.Context(), args[0], dataDir, force)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Restored backup from %s (version %s) to %s\n",
				m.CreatedAt.Format(time.RFC3339), m.Version, dataDir)
			return err
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", ".", "target directory for restored files")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}
