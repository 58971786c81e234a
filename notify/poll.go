package notify

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often the Poller samples the head position.
const DefaultPollInterval = 500 * time.Millisecond

// HeadFunc samples the current global head position of the store.
type HeadFunc func(ctx context.Context) (int64, error)

// Poller emits a tick whenever the head position moved between two samples.
// Polls never overlap: a slow sample delays the next one instead of stacking.
type Poller struct {
	head     HeadFunc
	interval time.Duration
	log      *slog.Logger

	ticks  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval sets the sample interval. Defaults to DefaultPollInterval.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPollLogger sets the logger. Defaults to slog.Default().
func WithPollLogger(log *slog.Logger) PollerOption {
	return func(p *Poller) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPoller starts a Poller over the given head sampler.
func NewPoller(head HeadFunc, opts ...PollerOption) *Poller {
	p := &Poller{
		head:     head,
		interval: DefaultPollInterval,
		log:      slog.Default(),
		ticks:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	// Baseline before the loop starts, so only history from before NewPoller
	// returned is folded in; any later head movement produces a tick.
	last, err := p.head(ctx)
	if err != nil {
		last = 0
	}
	go p.loop(ctx, last)
	return p
}

// C implements Notifier.
func (p *Poller) C() <-chan struct{} { return p.ticks }

// Close implements Notifier.
func (p *Poller) Close(ctx context.Context) error {
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) loop(ctx context.Context, last int64) {
	defer close(p.done)
	defer close(p.ticks)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := p.head(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Debug("head poll failed", "error", err)
			continue
		}
		if head == last {
			continue
		}
		last = head

		select {
		case p.ticks <- struct{}{}:
		default:
		}
	}
}
