package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jupiter/notifier/relay/messages"
)

const (
	defaultDedupeWindow = 10 * time.Minute
	defaultRate         = rate.Limit(2)
	defaultBurst        = 5

	dedupeBodyLen = 50
)

var (
	ErrDuplicate = errors.New("duplicate notification")
	ErrEmptyBody = errors.New("notification body is empty")
)

// Event is one line of the source input
type Event struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Sender string `json:"sender,omitempty"`
	App    string `json:"app,omitempty"`
}

// Sender publishes a notification to the relay. *client.Client implements it.
type Sender interface {
	SendNotification(n messages.Notification) error
}

type Options struct {
	// DedupeWindow is the time an already published notification is ignored for
	DedupeWindow time.Duration
	Rate         rate.Limit
	Burst        int
}

// Source reads the notifications of the source device and publishes them through the relay client
type Source struct {
	log     *log.Entry
	sender  Sender
	seen    *cache.Cache
	limiter *rate.Limiter
}

func New(sender Sender, opts Options) *Source {
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = defaultDedupeWindow
	}
	if opts.Rate <= 0 {
		opts.Rate = defaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}

	return &Source{
		log:     log.WithField("component", "source"),
		sender:  sender,
		seen:    cache.New(opts.DedupeWindow, 2*opts.DedupeWindow),
		limiter: rate.NewLimiter(opts.Rate, opts.Burst),
	}
}

// Run publishes every JSON line of r until r is exhausted or the context is done. Invalid lines and
// failed publications are logged and skipped.
func (s *Source) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read source: %w", err)
					}
				default:
				}
				return nil
			}
			s.handleLine(ctx, line)
		}
	}
}

func (s *Source) handleLine(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		s.log.Warnf("skip invalid line: %s", err)
		return
	}

	err := s.Publish(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicate):
		s.log.Debugf("skip duplicate notification from %q", ev.App)
	default:
		s.log.Warnf("failed to publish notification: %s", err)
	}
}

// Publish sends the event unless the same one was published within the de-duplication window
func (s *Source) Publish(ctx context.Context, ev Event) error {
	if strings.TrimSpace(ev.Body) == "" {
		return ErrEmptyBody
	}

	key := dedupeKey(ev)
	if _, found := s.seen.Get(key); found {
		return ErrDuplicate
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	title := ev.Title
	if title == "" {
		title = messages.DefaultTitle
	}
	n := messages.Notification{
		Title:     title,
		Body:      ev.Body,
		Sender:    ev.Sender,
		SourceApp: ev.App,
		CreatedAt: time.Now(),
	}
	if err := s.sender.SendNotification(n); err != nil {
		return err
	}

	s.seen.SetDefault(key, struct{}{})
	s.log.Infof("published notification from %q: %s", ev.App, title)
	return nil
}

func dedupeKey(ev Event) string {
	body := []rune(ev.Body)
	if len(body) > dedupeBodyLen {
		body = body[:dedupeBodyLen]
	}
	return ev.App + ":" + ev.Title + ":" + string(body)
}
