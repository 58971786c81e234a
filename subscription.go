package streamstore

import (
	"context"
	"time"
)

// pager abstracts the per-stream and all-stream tails behind one state
// machine: resolve a starting point, read forward pages, advance past a
// delivered message.
type pager interface {
	start(ctx context.Context, after *int64) (int64, error)
	read(ctx context.Context, from int64, count int) ([]Message, bool, error)
	advance(msg Message) int64
}

// run is the subscription fiber:
//
//	initializing -> catching-up <-> live
//
// Catching-up pages forward from the checkpoint and delivers each message in
// order. A page that ends the scan flips the fiber to live, where it blocks
// on a notifier tick. Ticks are coalesced; one pending tick at most.
// A processor rejection drops the subscription; read errors are retried with
// a fixed backoff. Cancellation (Dispose) interrupts every wait except an
// in-flight processor call.
func (sub *Subscription) run(ctx context.Context) {
	defer close(sub.done)
	defer sub.store.unregister(sub)

	next, err := sub.pager.start(ctx, sub.after)
	if err != nil {
		if ctx.Err() == nil {
			sub.drop(err)
		}
		return
	}
	if sub.onEstablished != nil {
		sub.onEstablished()
	}

	// At-least-once: an in-flight delivery either completes or is replayed
	// after restart, so Dispose must not cancel the processor mid-call.
	procCtx := context.WithoutCancel(ctx)

	caughtUp := false
	for ctx.Err() == nil {
		messages, isEnd, err := sub.pager.read(ctx, next, sub.maxCount)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sub.store.log.Warn("subscription read failed, backing off",
				"subscription_id", sub.id, "error", err)
			if !sub.sleep(ctx, sub.store.readRetryDelay) {
				return
			}
			continue
		}

		for _, msg := range messages {
			if err := sub.process(procCtx, msg); err != nil {
				sub.drop(err)
				return
			}
			next = sub.pager.advance(msg)
			caughtUp = false
		}

		if !isEnd {
			continue
		}
		if !caughtUp {
			caughtUp = true
			if sub.onCaughtUp != nil {
				sub.onCaughtUp()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-sub.tick:
		}
	}
}

func (sub *Subscription) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-sub.store.clock.After(d):
		return true
	}
}

// streamPager tails one stream by version.
type streamPager struct {
	store    *Store
	streamID string
}

func (p *streamPager) start(ctx context.Context, after *int64) (int64, error) {
	if after != nil {
		return *after + 1, nil
	}
	// Live head: only future messages. A stream that does not exist yet has
	// head NoStream, so the first delivered version is 0.
	slice, err := p.store.driver.ReadStream(ctx, p.streamID, PositionEnd, 1, Backward)
	if err != nil {
		return 0, err
	}
	head := slice.Info.Version
	if !slice.Info.Exists {
		head = NoStream
	}
	return head + 1, nil
}

func (p *streamPager) read(ctx context.Context, from int64, count int) ([]Message, bool, error) {
	page, err := p.store.ReadStream(ctx, p.streamID, from, count, Forward)
	if err != nil {
		return nil, false, err
	}
	return page.Messages, page.IsEnd, nil
}

func (p *streamPager) advance(msg Message) int64 {
	return msg.StreamVersion + 1
}

// allPager tails the global log by position, through gap detection.
type allPager struct {
	store *Store
}

func (p *allPager) start(ctx context.Context, after *int64) (int64, error) {
	if after != nil {
		return *after + 1, nil
	}
	head, err := p.store.driver.ReadHead(ctx)
	if err != nil {
		return 0, err
	}
	return head + 1, nil
}

func (p *allPager) read(ctx context.Context, from int64, count int) ([]Message, bool, error) {
	page, err := p.store.ReadAll(ctx, from, count, Forward)
	if err != nil {
		return nil, false, err
	}
	return page.Messages, page.IsEnd, nil
}

func (p *allPager) advance(msg Message) int64 {
	return msg.Position + 1
}
