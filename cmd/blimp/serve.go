package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// serveCmd runs the peripheral until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Advertise the peripheral and execute incoming commands",
	Long: `Sets up the BLE stack, advertises the configured service and executes every
command a central writes to the characteristic. Status updates are sent back
as notifications while a central is connected.

Advertising restarts whenever the central disconnects and is re-checked every
readvertise_interval.

With --console a pseudo-terminal is created: each line typed into it is sent
to the central as a notification. Console commands:
  :status     show connection state and sampler state
  :commands   list the command catalog

Example:
  blimp serve --name bag-collector --backend go-ble
  blimp serve --script ./decoder.lua --console`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveName    string
	serveService string
	serveChar    string
	serveBackend string
	serveScript  string
	serveConsole bool
)

func init() {
	serveCmd.Flags().StringVar(&serveName, "name", "", "Advertised device name")
	serveCmd.Flags().StringVar(&serveService, "service", "", "Service UUID")
	serveCmd.Flags().StringVar(&serveChar, "char", "", "Characteristic UUID")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "BLE backend (tinygo, go-ble)")
	serveCmd.Flags().StringVar(&serveScript, "script", "", "Lua decoder script with a decode(command) function")
	serveCmd.Flags().BoolVar(&serveConsole, "console", false, "Open a PTY console for manual notifications")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := srv.Start(); err != nil {
		return err
	}

	srv.Run(ctx)
	logger.Info("Received interrupt signal, shutting down...")
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
