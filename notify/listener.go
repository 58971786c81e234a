package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultChannel is the Postgres notification channel the message
	// tables raise on insert.
	DefaultChannel = "streamstore_messages"

	// DefaultKeepAliveInterval is how long the Listener waits for a
	// notification before pinging the connection.
	DefaultKeepAliveInterval = 30 * time.Second

	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// Listener emits a tick per Postgres NOTIFY on a dedicated connection.
//
// The connection is held outside the pool's rotation for the lifetime of the
// listener. A periodic keep-alive ping detects dead connections; a lost
// connection is reopened with backoff and a fresh LISTEN.
type Listener struct {
	pool      *pgxpool.Pool
	channel   string
	keepAlive time.Duration
	log       *slog.Logger

	ticks  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithChannel sets the notification channel. Defaults to DefaultChannel.
func WithChannel(channel string) ListenerOption {
	return func(l *Listener) {
		if channel != "" {
			l.channel = channel
		}
	}
}

// WithKeepAliveInterval sets the keep-alive ping interval.
func WithKeepAliveInterval(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.keepAlive = d
		}
	}
}

// WithListenerLogger sets the logger. Defaults to slog.Default().
func WithListenerLogger(log *slog.Logger) ListenerOption {
	return func(l *Listener) {
		if log != nil {
			l.log = log
		}
	}
}

// NewListener starts a Listener on the given pool.
func NewListener(pool *pgxpool.Pool, opts ...ListenerOption) (*Listener, error) {
	if pool == nil {
		return nil, errors.New("notify: nil pool")
	}

	l := &Listener{
		pool:      pool,
		channel:   DefaultChannel,
		keepAlive: DefaultKeepAliveInterval,
		log:       slog.Default(),
		ticks:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.loop(ctx)
	return l, nil
}

// C implements Notifier.
func (l *Listener) C() <-chan struct{} { return l.ticks }

// Close implements Notifier. It issues UNLISTEN when the connection is still
// healthy and releases it back to the pool.
func (l *Listener) Close(ctx context.Context) error {
	l.cancel()
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) loop(ctx context.Context) {
	defer close(l.done)
	defer close(l.ticks)

	delay := reconnectMinDelay
	for ctx.Err() == nil {
		started := time.Now()
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}

		l.log.Warn("notification connection lost, reconnecting",
			"channel", l.channel, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = nextReconnectDelay(delay, time.Since(started), l.keepAlive)
	}
}

// nextReconnectDelay doubles the backoff up to the cap, but starts over at
// the minimum once a connection survived a full keep-alive window: old
// failures must not tax a reconnect after hours of healthy listening.
func nextReconnectDelay(prev, uptime, keepAlive time.Duration) time.Duration {
	if uptime >= keepAlive {
		return reconnectMinDelay
	}
	return min(prev*2, reconnectMaxDelay)
}

// listen holds one connection until it fails or ctx is cancelled.
func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	quoted := pgx.Identifier{l.channel}.Sanitize()
	if _, err := conn.Exec(ctx, "listen "+quoted); err != nil {
		return err
	}
	defer func() {
		// Best effort; a broken connection is destroyed by the pool anyway.
		unlistenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(unlistenCtx, "unlisten "+quoted)
	}()

	for {
		waitCtx, cancel := context.WithTimeout(ctx, l.keepAlive)
		_, err := conn.Conn().WaitForNotification(waitCtx)
		cancel()

		switch {
		case err == nil:
			select {
			case l.ticks <- struct{}{}:
			default:
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			// Keep-alive window elapsed without traffic.
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			pingErr := conn.Ping(pingCtx)
			cancel()
			if pingErr != nil {
				return pingErr
			}
		default:
			return err
		}
	}
}
