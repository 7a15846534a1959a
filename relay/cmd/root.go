package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jupiter/notifier/util"
)

const shutdownTimeout = 30 * time.Second

type rootConfig struct {
	LogLevel    string
	LogFile     string
	ConfigPath  string
	MetricsPort int
}

var (
	rootFlags = &rootConfig{}
	rootCmd   = &cobra.Command{
		Use:           "jupiter-notifier",
		Short:         "Cross device notification relay",
		Long:          "Relays the notifications of a source device to the overlays of the subscriber devices and keeps their dismiss state in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := util.InitLog(rootFlags.LogLevel, rootFlags.LogFile); err != nil {
				return fmt.Errorf("failed to initialize log: %w", err)
			}
			return nil
		},
	}
)

func init() {
	_ = util.InitLog("info", util.LogConsole)

	rootCmd.PersistentFlags().StringVar(&rootFlags.LogLevel, "log-level", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&rootFlags.LogFile, "log-file", util.LogConsole, "log file, console writes to stderr")
	rootCmd.PersistentFlags().StringVar(&rootFlags.ConfigPath, "config", defaultConfigPath(), "client configuration file")
	rootCmd.PersistentFlags().IntVar(&rootFlags.MetricsPort, "metrics-port", 0, "metrics endpoint http port, 0 disables the endpoint. Metrics are accessible under host:metrics-port/metrics")

	rootCmd.AddCommand(runCmd, bootCmd, sendCmd, relayCmd)
}

func Execute() error {
	// the flags of the sub commands are registered by the init of their own files
	util.SetFlagsFromEnvVars(rootCmd)
	for _, c := range rootCmd.Commands() {
		util.SetFlagsFromEnvVars(c)
	}

	err := rootCmd.Execute()
	if err != nil {
		log.Errorf("%s", err)
	}
	return err
}

// signalContext is canceled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
