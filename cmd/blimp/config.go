package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/blimp/pkg/config"
)

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Loads the config file (if any) over the built-in defaults, validates it and
prints the result. Use it as a starting point for your own config file:

  blimp config > ~/.config/blimp/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	out, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}

// loadConfig reads --config, applies any serve flags the user set explicitly
// and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	if changed("name") {
		cfg.Device.Name = serveName
	}
	if changed("service") {
		cfg.Device.ServiceUUID = serveService
	}
	if changed("char") {
		cfg.Device.CharacteristicUUID = serveChar
	}
	if changed("backend") {
		cfg.Stack.Backend = serveBackend
	}
	if changed("console") {
		cfg.Console.Enabled = serveConsole
	}
	if changed("script") {
		cfg.Decoder.Kind = config.DecoderLua
		cfg.Decoder.Script = serveScript
	}
	if level, _ := flags.GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
