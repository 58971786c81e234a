package streamstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/emberfall-io/streamstore/internal/latch"
	"github.com/emberfall-io/streamstore/notify"
)

const (
	defaultMaxCountPerRead = 100
	defaultPollingInterval = 500 * time.Millisecond
	defaultGapReloadDelay  = 5 * time.Second
	defaultGapReloadTimes  = 1
	defaultReadRetryDelay  = time.Second

	appendRetryAttempts = 200
	appendRetryMinDelay = time.Millisecond
	appendRetryMaxDelay = 50 * time.Millisecond
	appendRetryFactor   = 1.05
)

// Store is the public surface of the stream store. It is safe for concurrent
// use. A Store owns its live subscriptions and (once one exists) a Notifier;
// Dispose tears all of them down deterministically.
type Store struct {
	driver  Driver
	log     *slog.Logger
	clock   clock.Clock
	metrics *storeMetrics
	writes  *latch.Latch

	pollingInterval time.Duration
	gapReloadDelay  time.Duration
	gapReloadTimes  int
	readRetryDelay  time.Duration
	retryAttempts   int

	mu       sync.Mutex
	subs     map[string]*Subscription
	notifier notify.Notifier
	fanDone  chan struct{}

	disposing   atomic.Bool
	disposeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock sets the clock used for message timestamps and retry delays.
// Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithNotifier injects the notifier that wakes subscriptions. The store takes
// ownership and closes it on Dispose. When absent, a head-polling notifier is
// created lazily on first subscribe.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithPollingInterval sets the interval of the default polling notifier.
func WithPollingInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollingInterval = d
		}
	}
}

// WithGapReload tunes the all-stream gap detection: how long to wait before
// re-reading a page with a position gap, and how many times to re-read before
// accepting the gap as permanent.
func WithGapReload(delay time.Duration, times int) Option {
	return func(s *Store) {
		if delay >= 0 {
			s.gapReloadDelay = delay
		}
		if times >= 0 {
			s.gapReloadTimes = times
		}
	}
}

// WithMetrics registers the store's Prometheus collectors on reg. Without
// this option metrics are still recorded but stay on a private registry.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Store) {
		if reg != nil {
			s.metrics = newStoreMetrics(reg)
		}
	}
}

// New constructs a Store over the given driver.
func New(driver Driver, opts ...Option) (*Store, error) {
	if driver == nil {
		return nil, errors.New("streamstore: nil driver")
	}

	s := &Store{
		driver:          driver,
		log:             slog.Default(),
		clock:           clock.WallClock,
		writes:          latch.New(),
		pollingInterval: defaultPollingInterval,
		gapReloadDelay:  defaultGapReloadDelay,
		gapReloadTimes:  defaultGapReloadTimes,
		readRetryDelay:  defaultReadRetryDelay,
		retryAttempts:   appendRetryAttempts,
		subs:            make(map[string]*Subscription),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.metrics == nil {
		s.metrics = newStoreMetrics(prometheus.NewRegistry())
	}
	return s, nil
}

// Dispose shuts the store down:
//
//  1. All subsequent writes fail fast with ErrDisposed.
//  2. Every live subscription is disposed, in parallel.
//  3. The notifier, if one exists, is closed.
//  4. In-flight writes are drained.
//  5. The driver (and its pool) is closed.
//
// A second call returns immediately. ctx bounds how long Dispose waits for
// in-flight subscription callbacks.
func (s *Store) Dispose(ctx context.Context) error {
	s.disposing.Store(true)

	var err error
	s.disposeOnce.Do(func() { err = s.dispose(ctx) })
	return err
}

func (s *Store) dispose(ctx context.Context) error {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	notifier := s.notifier
	fanDone := s.fanDone
	s.mu.Unlock()

	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error { return sub.Dispose(ctx) })
	}
	err := g.Wait()

	var closeErr error
	if notifier != nil {
		closeErr = notifier.Close(ctx)
		if fanDone != nil {
			<-fanDone
		}
	}

	s.writes.Wait()
	s.driver.Close()

	if err != nil || closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return nil
}

// now is the timestamp stamped onto appended messages.
func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// checkDisposed is the fast-fail gate on every write path.
func (s *Store) checkDisposed() error {
	if s.disposing.Load() {
		return ErrDisposed
	}
	return nil
}
