package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blimp/pkg/config"
)

// configureLogger creates a logger for cfg. --log-level, when given, takes
// precedence over the config file's log_level.
// Returns an error if the effective level is invalid.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return cfg.NewLogger(), nil
}
