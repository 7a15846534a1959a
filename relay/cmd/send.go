package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jupiter/notifier/relay/client"
	"github.com/jupiter/notifier/relay/messages"
	"github.com/jupiter/notifier/relay/source"
)

const (
	defaultSourceType = "android_notifier"
	connectTimeout    = 30 * time.Second
	flushDelay        = 500 * time.Millisecond
)

type sendConfig struct {
	ClientConfig
	DedupeWindow time.Duration
	Rate         float64
	Burst        int
}

var (
	sendFlags = &sendConfig{}

	sendCmd = &cobra.Command{
		Use:   "send",
		Short: "Publish notifications read from the standard input",
		Long:  `Publishes every JSON line of the standard input, e.g. {"title":"Discord通知","body":"hi","sender":"alice","app":"Discord"}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := readFileConfig(rootFlags.ConfigPath)
			if err != nil {
				return err
			}
			cfg := *sendFlags
			cfg.apply(fc, cmd.Flags().Changed("url"), cmd.Flags().Changed("transport"), true)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runSource(ctx, cfg, rootFlags.MetricsPort, os.Stdin)
		},
	}
)

func init() {
	addClientFlags(sendCmd, &sendFlags.ClientConfig, defaultSourceType)
	sendCmd.Flags().DurationVar(&sendFlags.DedupeWindow, "dedupe-window", 10*time.Minute, "ignore repeated notifications within this window")
	sendCmd.Flags().Float64Var(&sendFlags.Rate, "rate", 2, "maximum notifications per second")
	sendCmd.Flags().IntVar(&sendFlags.Burst, "burst", 5, "notifications allowed above the rate at once")
}

func (c sendConfig) Validate() error {
	if err := c.ClientConfig.Validate(); err != nil {
		return err
	}
	if c.Rate <= 0 {
		return fmt.Errorf("rate must be positive")
	}
	return nil
}

// runSource publishes the lines of input until it is exhausted or the context is done
func runSource(ctx context.Context, cfg sendConfig, metricsPort int, input io.Reader) error {
	g := &errgroup.Group{}
	clientMetrics, stopMetrics, err := startClientMetrics(g, metricsPort)
	if err != nil {
		return err
	}

	c, err := newClient(cfg.ClientConfig, client.Options{Metrics: clientMetrics})
	if err != nil {
		return stopClientMetrics(g, stopMetrics, err)
	}

	connected := make(chan struct{})
	var once sync.Once
	c.OnStateChange(func(old, new client.ConnectionState) {
		log.Infof("relay connection %s -> %s", old, new)
		if new.IsConnected() {
			once.Do(func() { close(connected) })
		}
	})

	if _, err := c.Start(cfg.URL, messages.NewIdentity(cfg.ClientType, cfg.ClientVersion)); err != nil {
		return stopClientMetrics(g, stopMetrics, err)
	}

	var errs error
	select {
	case <-connected:
		src := source.New(c, source.Options{
			DedupeWindow: cfg.DedupeWindow,
			Rate:         rate.Limit(cfg.Rate),
			Burst:        cfg.Burst,
		})
		if err := src.Run(ctx, input); err != nil {
			errs = multierror.Append(errs, err)
		}
		// frames are written asynchronously by the connection
		time.Sleep(flushDelay)
	case <-time.After(connectTimeout):
		errs = multierror.Append(errs, fmt.Errorf("relay %s is not reachable", cfg.URL))
	case <-ctx.Done():
	}

	if err := c.Stop(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return stopClientMetrics(g, stopMetrics, errs)
}
