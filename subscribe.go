package streamstore

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/emberfall-io/streamstore/notify"
)

// Processor handles one delivered message. Returning an error drops the
// subscription; the message is redelivered if the subscription is restarted
// from the same checkpoint (at-least-once).
type Processor func(ctx context.Context, msg Message) error

// SubscribeStreamOptions configures SubscribeToStream. The zero value
// subscribes at the current stream head (future messages only) with defaults.
type SubscribeStreamOptions struct {
	// AfterVersion resumes delivery after this stream version; the first
	// message delivered is AfterVersion+1. Nil starts at the live head.
	AfterVersion *int64
	// MaxCountPerRead caps the page size of catch-up reads. Default 100.
	MaxCountPerRead int
	// OnEstablished fires exactly once, after the starting point resolved.
	OnEstablished func()
	// OnCaughtUp fires once per transition from catching-up to live.
	OnCaughtUp func()
	// OnDropped fires exactly once when the subscription dies on an error
	// (including a processor rejection). Not fired on Dispose.
	OnDropped func(error)
}

// SubscribeAllOptions configures SubscribeToAll. The zero value subscribes
// at the current head position with defaults.
type SubscribeAllOptions struct {
	// AfterPosition resumes delivery after this global position. Nil starts
	// at the live head.
	AfterPosition *int64
	// MaxCountPerRead caps the page size of catch-up reads. Default 100.
	MaxCountPerRead int
	OnEstablished   func()
	OnCaughtUp      func()
	OnDropped       func(error)
}

// SubscribeToStream tails a single stream. processor is invoked strictly in
// ascending stream-version order and never concurrently with itself. The
// returned handle stays tracked by the store until it is disposed or drops.
func (s *Store) SubscribeToStream(streamID string, processor Processor, opts *SubscribeStreamOptions) (*Subscription, error) {
	if streamID == "" {
		return nil, invalidf("streamId", "is required")
	}
	if processor == nil {
		return nil, invalidf("processMessage", "is required")
	}

	var o SubscribeStreamOptions
	if opts != nil {
		o = *opts
	}

	sub := s.newSubscription(
		&streamPager{store: s, streamID: streamID},
		processor, o.AfterVersion, o.MaxCountPerRead,
		o.OnEstablished, o.OnCaughtUp, o.OnDropped,
	)
	return sub, s.launch(sub)
}

// SubscribeToAll tails the global log. processor is invoked strictly in
// ascending position order, with gap detection applied before delivery.
func (s *Store) SubscribeToAll(processor Processor, opts *SubscribeAllOptions) (*Subscription, error) {
	if processor == nil {
		return nil, invalidf("processMessage", "is required")
	}

	var o SubscribeAllOptions
	if opts != nil {
		o = *opts
	}

	sub := s.newSubscription(
		&allPager{store: s},
		processor, o.AfterPosition, o.MaxCountPerRead,
		o.OnEstablished, o.OnCaughtUp, o.OnDropped,
	)
	return sub, s.launch(sub)
}

func (s *Store) newSubscription(p pager, processor Processor, after *int64, maxCount int,
	onEstablished, onCaughtUp func(), onDropped func(error)) *Subscription {

	if maxCount <= 0 {
		maxCount = defaultMaxCountPerRead
	}
	return &Subscription{
		id:            ulid.Make().String(),
		store:         s,
		pager:         p,
		process:       processor,
		after:         after,
		maxCount:      maxCount,
		onEstablished: onEstablished,
		onCaughtUp:    onCaughtUp,
		onDropped:     onDropped,
		tick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// launch registers sub and starts its fiber. The notifier (and its fan-out)
// is created on first use.
func (s *Store) launch(sub *Subscription) error {
	s.mu.Lock()
	if s.disposing.Load() {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.notifier == nil {
		s.notifier = notify.NewPoller(s.driver.ReadHead,
			notify.WithPollInterval(s.pollingInterval),
			notify.WithPollLogger(s.log))
	}
	if s.fanDone == nil {
		s.fanDone = make(chan struct{})
		go s.fanOut(s.notifier, s.fanDone)
	}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	s.metrics.liveSubs.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel
	go sub.run(ctx)
	return nil
}

// fanOut copies coalesced notifier ticks to every tracked subscription.
// A tick is a hint that new data may exist, never a delivery; a subscription
// that is busy catching up keeps at most one tick pending.
func (s *Store) fanOut(n notify.Notifier, done chan struct{}) {
	defer close(done)
	for range n.C() {
		s.mu.Lock()
		for _, sub := range s.subs {
			select {
			case sub.tick <- struct{}{}:
			default:
			}
		}
		s.mu.Unlock()
	}
}

func (s *Store) unregister(sub *Subscription) {
	s.mu.Lock()
	_, tracked := s.subs[sub.id]
	delete(s.subs, sub.id)
	s.mu.Unlock()

	if tracked {
		s.metrics.liveSubs.Dec()
	}
}

// Subscription is a live tail of one stream or of the global log.
type Subscription struct {
	id       string
	store    *Store
	pager    pager
	process  Processor
	after    *int64
	maxCount int

	onEstablished func()
	onCaughtUp    func()
	onDropped     func(error)

	tick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	dropOnce sync.Once
}

// ID is the store-unique id of this subscription.
func (sub *Subscription) ID() string { return sub.id }

// Done is closed when the subscription fiber has fully stopped.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Dispose stops the subscription. Any in-flight wait is cancelled, but an
// in-flight processor invocation is awaited, not cancelled; ctx bounds how
// long Dispose waits for it. OnDropped is not invoked.
func (sub *Subscription) Dispose(ctx context.Context) error {
	sub.cancel()
	select {
	case <-sub.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drop reports a terminal error exactly once.
func (sub *Subscription) drop(err error) {
	sub.dropOnce.Do(func() {
		sub.store.log.Warn("subscription dropped",
			"subscription_id", sub.id, "error", err)
		if sub.onDropped != nil {
			sub.onDropped(err)
		}
	})
}
