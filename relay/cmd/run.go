package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jupiter/notifier/relay/client"
	"github.com/jupiter/notifier/relay/messages"
	"github.com/jupiter/notifier/relay/overlay"
	"github.com/jupiter/notifier/version"
)

const defaultSubscriberType = "windows_notifier"

var (
	runFlags = &ClientConfig{}
	runSave  bool
	runAuto  bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a subscriber",
		Long:  "Connects to the relay and prints the received notifications. An empty line on the standard input dismisses the visible notification on every device.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := readFileConfig(rootFlags.ConfigPath)
			if err != nil {
				return err
			}
			cfg := *runFlags
			cfg.apply(fc, cmd.Flags().Changed("url"), cmd.Flags().Changed("transport"), cmd.Flags().Changed("display-duration"))
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			if runSave {
				fc = FileConfig{
					URL:             cfg.URL,
					AutoStart:       runAuto,
					Transport:       cfg.Transport,
					DisplayDuration: int(cfg.DisplayDuration / time.Second),
				}
				if err := writeFileConfig(cmd.Context(), rootFlags.ConfigPath, fc); err != nil {
					return err
				}
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runSubscriber(ctx, cfg, rootFlags.MetricsPort, os.Stdin, cmd.OutOrStdout())
		},
	}
)

func init() {
	addClientFlags(runCmd, runFlags, defaultSubscriberType)
	runCmd.Flags().DurationVar(&runFlags.DisplayDuration, "display-duration", 0, "close a shown notification after this duration, 0 keeps it until dismissed")
	runCmd.Flags().BoolVar(&runSave, "save", false, "persist the url, transport and display duration in the config file")
	runCmd.Flags().BoolVar(&runAuto, "auto-start", false, "with --save, let the boot command start the subscriber")
}

func addClientFlags(cmd *cobra.Command, cfg *ClientConfig, clientType string) {
	cmd.Flags().StringVarP(&cfg.URL, "url", "u", "", "relay server url, ws://host:port or wss://host:port")
	cmd.Flags().StringVar(&cfg.Transport, "transport", transportWS, "websocket implementation: ws, gorilla or race")
	cmd.Flags().StringVar(&cfg.ClientType, "client-type", clientType, "client type announced to the relay")
	cmd.Flags().StringVar(&cfg.ClientVersion, "client-version", version.NotifierVersion(), "client version announced to the relay")
}

// overlayPrinter renders the overlays as lines of out
type overlayPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *overlayPrinter) Show(n messages.Notification) {
	p.printf("[%s] %s\n", n.Title, formatBody(n))
}

func (p *overlayPrinter) Dismiss(ev messages.DismissEvent) {
	if ev.OriginClientID != "" {
		p.printf("dismissed by %s\n", ev.OriginClientID)
		return
	}
	p.printf("dismissed\n")
}

func (p *overlayPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func formatBody(n messages.Notification) string {
	if n.Sender == "" {
		return n.Body
	}
	return n.Sender + ": " + n.Body
}

func newClient(cfg ClientConfig, opts client.Options) (*client.Client, error) {
	d, err := newDialer(cfg.Transport)
	if err != nil {
		return nil, err
	}
	opts.Dialer = d
	return client.NewClient(opts), nil
}

// runSubscriber runs until the context is done. Every line read from input dismisses the visible
// overlay.
func runSubscriber(ctx context.Context, cfg ClientConfig, metricsPort int, input io.Reader, out io.Writer) error {
	g := &errgroup.Group{}
	clientMetrics, stopMetrics, err := startClientMetrics(g, metricsPort)
	if err != nil {
		return err
	}

	c, err := newClient(cfg, client.Options{
		DisplayDuration: cfg.DisplayDuration,
		Metrics:         clientMetrics,
	})
	if err != nil {
		return stopClientMetrics(g, stopMetrics, err)
	}

	printer := &overlayPrinter{out: out}
	c.OnNotification(printer.Show)
	c.OnDismiss(printer.Dismiss)
	c.OnStateChange(func(old, new client.ConnectionState) {
		log.Infof("relay connection %s -> %s", old, new)
	})

	if _, err := c.Start(cfg.URL, messages.NewIdentity(cfg.ClientType, cfg.ClientVersion)); err != nil {
		return stopClientMetrics(g, stopMetrics, err)
	}

	go readDismissLines(ctx, c, input)

	<-ctx.Done()

	var errs error
	if err := c.Stop(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return stopClientMetrics(g, stopMetrics, errs)
}

func readDismissLines(ctx context.Context, c *client.Client, input io.Reader) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		err := c.Dismiss()
		switch {
		case err == nil:
		case errors.Is(err, overlay.ErrNoActiveOverlay):
			log.Infof("there is no notification to dismiss")
		default:
			log.Warnf("failed to dismiss notification: %s", err)
		}
	}
}
