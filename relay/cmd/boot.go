package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jupiter/notifier/version"
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Start the subscriber when auto start is configured",
	Long:  "Meant to be started by the system at login. Runs the subscriber with the saved configuration only when auto_start is enabled in the config file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		return boot(ctx, rootFlags.ConfigPath, rootFlags.MetricsPort, os.Stdin, cmd.OutOrStdout())
	},
}

func boot(ctx context.Context, configPath string, metricsPort int, input io.Reader, out io.Writer) error {
	fc, err := readFileConfig(configPath)
	if err != nil {
		return err
	}

	if !fc.AutoStart {
		log.Infof("auto start is disabled in %s", configPath)
		return nil
	}

	cfg := ClientConfig{
		URL:             fc.URL,
		Transport:       fc.Transport,
		DisplayDuration: time.Duration(fc.DisplayDuration) * time.Second,
		ClientType:      defaultSubscriberType,
		ClientVersion:   version.NotifierVersion(),
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	log.Infof("auto starting subscriber for %s", cfg.URL)
	return runSubscriber(ctx, cfg, metricsPort, input, out)
}
