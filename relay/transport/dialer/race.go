package dialer

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/jupiter/notifier/relay/transport"
)

type dialResult struct {
	Conn     transport.WSConn
	Protocol string
	Err      error
}

// RaceDialer dials with all the configured dialers at once and keeps the first connection that
// succeeds. The late winners are closed.
type RaceDialer struct {
	dialers []transport.Dialer
}

func NewRaceDialer(dialers ...transport.Dialer) *RaceDialer {
	return &RaceDialer{dialers: dialers}
}

func (r *RaceDialer) Protocol() string {
	protocols := make([]string, 0, len(r.dialers))
	for _, d := range r.dialers {
		protocols = append(protocols, d.Protocol())
	}
	return "race(" + strings.Join(protocols, ",") + ")"
}

func (r *RaceDialer) Dial(ctx context.Context, address string) (transport.WSConn, error) {
	if len(r.dialers) == 0 {
		return nil, fmt.Errorf("no dialer configured")
	}

	connChan := make(chan dialResult, len(r.dialers))
	winnerConn := make(chan dialResult, 1)
	abortCtx, abort := context.WithCancel(ctx)
	defer abort()

	for _, d := range r.dialers {
		d := d
		go func() {
			conn, err := d.Dial(abortCtx, address)
			if err != nil {
				log.Debugf("failed to dial via %s: %s", d.Protocol(), err)
			}
			connChan <- dialResult{Conn: conn, Protocol: d.Protocol(), Err: err}
		}()
	}

	go func() {
		var hasWinner bool
		var merr *multierror.Error
		for i := 0; i < len(r.dialers); i++ {
			dr := <-connChan
			if dr.Err != nil {
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", dr.Protocol, dr.Err))
				continue
			}

			if hasWinner {
				_ = dr.Conn.CloseNow()
				continue
			}

			hasWinner = true
			winnerConn <- dr
		}
		if !hasWinner {
			winnerConn <- dialResult{Err: merr.ErrorOrNil()}
		}
		close(winnerConn)
	}()

	dr := <-winnerConn
	if dr.Err != nil {
		return nil, fmt.Errorf("all dialers failed: %w", dr.Err)
	}
	log.Debugf("dial race won by %s", dr.Protocol)
	return dr.Conn, nil
}
