package cmd

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"github.com/jupiter/notifier/relay/server"
	"github.com/jupiter/notifier/shared/metrics"
)

type relayConfig struct {
	ListenAddress string
	// ExposedAddress is the address the clients use when the hub is behind a proxy
	ExposedAddress string
}

func (c relayConfig) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address is required")
	}
	return nil
}

var (
	relayFlags = &relayConfig{}

	relayCmd = &cobra.Command{
		Use:   "relay",
		Short: "Run the relay hub",
		Long:  "Development relay hub. Forwards every notification and dismiss frame to all the other connected clients.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := relayFlags.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runRelay(ctx, *relayFlags, rootFlags.MetricsPort)
		},
	}
)

func init() {
	relayCmd.Flags().StringVarP(&relayFlags.ListenAddress, "listen-address", "l", ":8080", "listen address")
	relayCmd.Flags().StringVarP(&relayFlags.ExposedAddress, "exposed-address", "e", "", "address the clients connect to, defaults to the listen address")
}

func runRelay(ctx context.Context, cfg relayConfig, metricsPort int) error {
	g, gCtx := errgroup.WithContext(ctx)

	var (
		meter         metric.Meter = noop.NewMeterProvider().Meter("")
		metricsServer *metrics.Metrics
	)
	if metricsPort != 0 {
		var err error
		metricsServer, err = metrics.NewServer(metricsPort, "")
		if err != nil {
			return fmt.Errorf("setup metrics: %w", err)
		}
		meter = metricsServer.Meter
	}

	srv, err := server.NewServer(meter)
	if err != nil {
		return fmt.Errorf("failed to create relay server: %w", err)
	}

	exposed := cfg.ExposedAddress
	if exposed == "" {
		exposed = cfg.ListenAddress
	}
	instanceURL, err := server.InstanceURL(exposed, false)
	if err != nil {
		return err
	}
	log.Infof("relay hub will be available on: %s", instanceURL)

	if metricsServer != nil {
		g.Go(metricsServer.ListenAndServe)
	}
	g.Go(func() error {
		return srv.Listen(cfg.ListenAddress)
	})

	// a listener error cancels gCtx as well
	<-gCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close relay server: %w", err))
	}
	if metricsServer != nil {
		log.Infof("shutting down metrics server")
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close metrics server: %w", err))
		}
	}
	if err := g.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}
