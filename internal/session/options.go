package session

import (
	"fmt"
	"time"
)

// Options contains optional configuration for the session layer.
// NewOptions should be used to create instances of Options.
type Options struct {
	// ConnectTimeout bounds a single connect attempt, handshake and
	// discovery included.
	ConnectTimeout time.Duration

	// DisconnectTimeout bounds the transport close during disconnect.
	DisconnectTimeout time.Duration

	// ConnectCooldown is the minimum spacing between connect attempts on the
	// same session; attempts arriving early sleep out the remainder.
	ConnectCooldown time.Duration

	// AttemptWindow resets the consecutive-failure counter once this much
	// time has passed since the last attempt.
	AttemptWindow time.Duration

	// MaxConnectAttempts caps consecutive failed connect attempts; once
	// reached, connect fails immediately until the session is recreated.
	MaxConnectAttempts int

	// IdleTimeout disconnects a session after this much inactivity.
	// Zero disables idle disconnection.
	IdleTimeout time.Duration

	// SweepInterval is how often the registry removes disconnected sessions.
	SweepInterval time.Duration

	// PollInterval is how often the config watcher reloads the persisted
	// store looking for out-of-process changes.
	PollInterval time.Duration

	// DebounceDelay collapses bursts of reconcile triggers into one pass.
	DebounceDelay time.Duration

	// StartupStagger is the pause between initial connects so that a large
	// config set does not hammer every remote server at once.
	StartupStagger time.Duration

	// RefreshReconnectDelay is the pause between disconnecting and
	// reconnecting during a refresh.
	RefreshReconnectDelay time.Duration

	// ShutdownTimeout bounds how long Cleanup waits for the concurrent
	// disconnects to finish.
	ShutdownTimeout time.Duration

	// Clock drives every timer and timestamp in the session layer.
	Clock Clock

	// Dialer opens transports; overridden in tests.
	Dialer Dialer
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
// Starts with default values, then applies options in order.
func NewOptions(opts ...Option) (Options, error) {
	options := defaultOptions()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}

	return options, nil
}

// WithConnectTimeout configures how long a single connect attempt may take.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", timeout)
		}
		o.ConnectTimeout = timeout
		return nil
	}
}

// WithDisconnectTimeout configures how long a transport close may take.
func WithDisconnectTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("disconnect timeout must be positive, got %v", timeout)
		}
		o.DisconnectTimeout = timeout
		return nil
	}
}

// WithConnectCooldown configures the minimum spacing between connect attempts.
func WithConnectCooldown(cooldown time.Duration) Option {
	return func(o *Options) error {
		if cooldown < 0 {
			return fmt.Errorf("connect cooldown cannot be negative, got %v", cooldown)
		}
		o.ConnectCooldown = cooldown
		return nil
	}
}

// WithAttemptWindow configures when the consecutive-failure counter resets.
func WithAttemptWindow(window time.Duration) Option {
	return func(o *Options) error {
		if window <= 0 {
			return fmt.Errorf("attempt window must be positive, got %v", window)
		}
		o.AttemptWindow = window
		return nil
	}
}

// WithMaxConnectAttempts configures the consecutive-failure cap.
func WithMaxConnectAttempts(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("max connect attempts must be positive, got %d", n)
		}
		o.MaxConnectAttempts = n
		return nil
	}
}

// WithIdleTimeout configures idle auto-disconnection. Zero disables it.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout < 0 {
			return fmt.Errorf("idle timeout cannot be negative, got %v", timeout)
		}
		o.IdleTimeout = timeout
		return nil
	}
}

// WithSweepInterval configures how often stale sessions are removed.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("sweep interval must be positive, got %v", interval)
		}
		o.SweepInterval = interval
		return nil
	}
}

// WithPollInterval configures how often the persisted store is re-read.
func WithPollInterval(interval time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("poll interval must be positive, got %v", interval)
		}
		o.PollInterval = interval
		return nil
	}
}

// WithDebounceDelay configures the reconcile trigger debounce.
func WithDebounceDelay(delay time.Duration) Option {
	return func(o *Options) error {
		if delay <= 0 {
			return fmt.Errorf("debounce delay must be positive, got %v", delay)
		}
		o.DebounceDelay = delay
		return nil
	}
}

// WithStartupStagger configures the pause between initial connects.
func WithStartupStagger(delay time.Duration) Option {
	return func(o *Options) error {
		if delay < 0 {
			return fmt.Errorf("startup stagger cannot be negative, got %v", delay)
		}
		o.StartupStagger = delay
		return nil
	}
}

// WithRefreshReconnectDelay configures the pause inside a refresh.
func WithRefreshReconnectDelay(delay time.Duration) Option {
	return func(o *Options) error {
		if delay < 0 {
			return fmt.Errorf("refresh reconnect delay cannot be negative, got %v", delay)
		}
		o.RefreshReconnectDelay = delay
		return nil
	}
}

// WithShutdownTimeout configures how long Cleanup waits for disconnects.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("shutdown timeout must be positive, got %v", timeout)
		}
		o.ShutdownTimeout = timeout
		return nil
	}
}

// WithClock configures the clock driving timers and timestamps.
func WithClock(clock Clock) Option {
	return func(o *Options) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		o.Clock = clock
		return nil
	}
}

// WithDialer configures how transports are opened.
func WithDialer(dial Dialer) Option {
	return func(o *Options) error {
		if dial == nil {
			return fmt.Errorf("dialer cannot be nil")
		}
		o.Dialer = dial
		return nil
	}
}

// DefaultConnectTimeout is the default bound on a single connect attempt.
func DefaultConnectTimeout() time.Duration {
	return 30 * time.Second
}

// DefaultDisconnectTimeout is the default bound on a transport close.
func DefaultDisconnectTimeout() time.Duration {
	return 5 * time.Second
}

// DefaultConnectCooldown is the default spacing between connect attempts.
func DefaultConnectCooldown() time.Duration {
	return 10 * time.Second
}

// DefaultAttemptWindow is the default failure-counter reset window.
func DefaultAttemptWindow() time.Duration {
	return 60 * time.Second
}

// DefaultMaxConnectAttempts is the default consecutive-failure cap.
func DefaultMaxConnectAttempts() int {
	return 5
}

// DefaultIdleTimeout is the default idle auto-disconnect window.
func DefaultIdleTimeout() time.Duration {
	return time.Hour
}

// DefaultSweepInterval is the default stale-session sweep interval.
func DefaultSweepInterval() time.Duration {
	return 15 * time.Minute
}

// DefaultPollInterval is the default persisted-store poll interval.
func DefaultPollInterval() time.Duration {
	return 5 * time.Minute
}

// DefaultDebounceDelay is the default reconcile trigger debounce.
func DefaultDebounceDelay() time.Duration {
	return time.Second
}

// DefaultStartupStagger is the default pause between initial connects.
func DefaultStartupStagger() time.Duration {
	return 250 * time.Millisecond
}

// DefaultRefreshReconnectDelay is the default pause inside a refresh.
func DefaultRefreshReconnectDelay() time.Duration {
	return time.Second
}

// DefaultShutdownTimeout is the default bound on Cleanup.
func DefaultShutdownTimeout() time.Duration {
	return 5 * time.Second
}

// defaultOptions returns Options with default values.
func defaultOptions() Options {
	return Options{
		ConnectTimeout:        DefaultConnectTimeout(),
		DisconnectTimeout:     DefaultDisconnectTimeout(),
		ConnectCooldown:       DefaultConnectCooldown(),
		AttemptWindow:         DefaultAttemptWindow(),
		MaxConnectAttempts:    DefaultMaxConnectAttempts(),
		IdleTimeout:           DefaultIdleTimeout(),
		SweepInterval:         DefaultSweepInterval(),
		PollInterval:          DefaultPollInterval(),
		DebounceDelay:         DefaultDebounceDelay(),
		StartupStagger:        DefaultStartupStagger(),
		RefreshReconnectDelay: DefaultRefreshReconnectDelay(),
		ShutdownTimeout:       DefaultShutdownTimeout(),
		Clock:                 NewClock(),
	}
}
