package cmd

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	relaymetrics "github.com/jupiter/notifier/relay/metrics"
	"github.com/jupiter/notifier/shared/metrics"
)

// startClientMetrics serves the client metrics when a metrics port is configured. The returned
// shutdown function is never nil.
func startClientMetrics(g *errgroup.Group, port int) (*relaymetrics.ClientMetrics, func(ctx context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if port == 0 {
		return relaymetrics.NewNoopClientMetrics(), noop, nil
	}

	metricsServer, err := metrics.NewServer(port, "")
	if err != nil {
		return nil, noop, fmt.Errorf("setup metrics: %w", err)
	}

	clientMetrics, err := relaymetrics.NewClientMetrics(metricsServer.Meter)
	if err != nil {
		return nil, noop, fmt.Errorf("setup client metrics: %w", err)
	}

	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil {
			log.Errorf("metrics server: %s", err)
			return err
		}
		return nil
	})
	return clientMetrics, metricsServer.Shutdown, nil
}

// stopClientMetrics shuts the metrics server down, waits for it and appends its errors to errs
func stopClientMetrics(g *errgroup.Group, stop func(ctx context.Context) error, errs error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := stop(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close metrics server: %w", err))
	}
	if err := g.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}
