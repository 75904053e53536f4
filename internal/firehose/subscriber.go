// Package firehose subscribes to the Jetstream feed and delivers repository
// operations as domain.FeedEnvelopes.
package firehose

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/blackmichael/bsky-collect/internal/domain"
)

// DefaultURL is the public Jetstream endpoint.
const DefaultURL = "wss://jetstream2.us-east.bsky.network/subscribe"

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxFailures    = 10
	statsInterval         = 30 * time.Second
)

// Subscriber connects to Jetstream and hands every commit to a handler. It
// reconnects on transient errors and resumes from the last event seen in the
// current run; nothing is persisted between runs.
type Subscriber struct {
	url            string
	collections    []string
	dialer         *websocket.Dialer
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxFailures    int
	logger         *zap.Logger

	mu     sync.Mutex
	cursor int64
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithCollections limits the feed to the given collection NSIDs. Nil or
// empty subscribes to every collection.
func WithCollections(nsids []string) Option {
	return func(s *Subscriber) {
		s.collections = nsids
	}
}

// WithBackoff sets the reconnect delay range.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(s *Subscriber) {
		s.initialBackoff = initial
		s.maxBackoff = maxDelay
	}
}

// WithMaxFailures sets how many consecutive failed connections end the
// subscription.
func WithMaxFailures(n int) Option {
	return func(s *Subscriber) {
		s.maxFailures = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l.Named("firehose")
		}
	}
}

// NewSubscriber creates a new firehose subscriber. If firehoseURL is empty,
// DefaultURL is used.
func NewSubscriber(firehoseURL string, opts ...Option) *Subscriber {
	if firehoseURL == "" {
		firehoseURL = DefaultURL
	}
	s := &Subscriber{
		url:            firehoseURL,
		dialer:         websocket.DefaultDialer,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		maxFailures:    defaultMaxFailures,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cursor returns the time_us of the last event delivered.
func (s *Subscriber) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Subscriber) setCursor(c int64) {
	s.mu.Lock()
	s.cursor = c
	s.mu.Unlock()
}

// handlerError marks a failure returned by the caller's handler. It ends the
// subscription without a reconnect.
type handlerError struct{ err error }

func (e handlerError) Error() string { return e.err.Error() }
func (e handlerError) Unwrap() error { return e.err }

// Subscribe implements domain.FeedSubscriber. It returns when ctx is
// cancelled, when handler fails, or after too many consecutive connection
// failures.
func (s *Subscriber) Subscribe(ctx context.Context, handler domain.FeedHandler) error {
	failures := 0
	backoff := s.initialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delivered, err := s.subscribe(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var he handlerError
		if errors.As(err, &he) {
			return he.err
		}

		if delivered > 0 {
			failures = 0
			backoff = s.initialBackoff
		}
		failures++
		if s.maxFailures > 0 && failures >= s.maxFailures {
			return fmt.Errorf("firehose unavailable after %d attempts: %w", failures, err)
		}

		s.logger.Warn("firehose connection error, reconnecting",
			zap.Error(err),
			zap.Int("attempt", failures),
			zap.Duration("backoff", backoff),
			zap.Int64("cursor", s.Cursor()),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

func (s *Subscriber) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse firehose url: %w", err)
	}
	q := u.Query()
	for _, c := range s.collections {
		q.Add("wantedCollections", c)
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// subscribe runs one connection until it fails. It returns how many events
// were delivered on that connection.
func (s *Subscriber) subscribe(ctx context.Context, handler domain.FeedHandler) (int64, error) {
	wsURL, err := s.buildURL(s.Cursor())
	if err != nil {
		return 0, err
	}
	s.logger.Info("connecting to firehose", zap.String("url", wsURL))

	conn, _, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return 0, fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	// ReadMessage does not watch ctx; closing the socket unblocks it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.logger.Info("connected to firehose")

	var eventsReceived, commitsReceived, delivered, undecodable int64
	lastStatsLog := time.Now()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", zap.Error(err))
			continue
		}
		eventsReceived++

		env, err := event.envelope()
		if err != nil {
			undecodable++
			s.logger.Debug("undecodable record", zap.String("repo", event.DID), zap.Error(err))
		}
		if env != nil {
			commitsReceived++
			if err := handler(ctx, env); err != nil {
				return delivered, handlerError{err: err}
			}
			delivered++
		}
		s.setCursor(event.TimeUS)

		if time.Since(lastStatsLog) >= statsInterval {
			s.logger.Info("firehose stats",
				zap.Int64("events_received", eventsReceived),
				zap.Int64("commits_received", commitsReceived),
				zap.Int64("delivered", delivered),
				zap.Int64("undecodable", undecodable),
			)
			lastStatsLog = time.Now()
		}
	}
}
