package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/HerbHall/exhibitdesk/internal/config"
	"github.com/HerbHall/exhibitdesk/internal/version"
)

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "exhibitdesk",
		Short: "Administrative backend for the digital exhibits interface",
		Long: `exhibitdesk serves the paging and record-locking logic behind the
exhibits administration screens. Without a subcommand it runs the server.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file")

	root.AddCommand(
		newServeCmd(opts),
		newVersionCmd(),
		newMigrateCmd(opts),
		newTokenCmd(opts),
		newConfigCmd(opts),
		newBackupCmd(opts),
		newRestoreCmd(),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	v, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	return config.New(v), nil
}

// newLogger builds the process logger from log.level and log.development.
// The returned level can be changed while the logger is in use.
func newLogger(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := parseLevel(cfg.GetString("log.level"))
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	zc := zap.NewProductionConfig()
	if cfg.GetBool("log.development") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return logger, zc.Level, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(s))
	if err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
