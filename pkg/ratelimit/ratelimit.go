package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Class is the category of an upstream failure.
type Class string

const (
	ClassForbidden  Class = "forbidden"
	ClassTimeout    Class = "timeout"
	ClassConnection Class = "connection"
	ClassOther      Class = "other"
)

// ErrRetriesExhausted matches every *ExhaustedError.
var ErrRetriesExhausted = errors.New("retry budget exhausted")

// ExhaustedError is returned by Do once the attempt budget is spent.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRetriesExhausted) hold.
func (e *ExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// Config holds the retry and spacing policy for one upstream service.
type Config struct {
	MinInterval    time.Duration // minimum spacing between calls (default: 500ms, negative disables)
	MaxAttempts    int           // attempts per operation, including the first (default: 5)
	ForbiddenWait  time.Duration // wait after a 403 (default: 60s)
	TimeoutWait    time.Duration // wait after a timeout (default: 30s)
	ConnectionWait time.Duration // wait after a connection/network error (default: 45s)
	OtherWait      time.Duration // wait after any other error (default: 15s)

	// Sleep blocks between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		MinInterval:    500 * time.Millisecond,
		MaxAttempts:    5,
		ForbiddenWait:  60 * time.Second,
		TimeoutWait:    30 * time.Second,
		ConnectionWait: 45 * time.Second,
		OtherWait:      15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	switch {
	case c.MinInterval == 0:
		c.MinInterval = d.MinInterval
	case c.MinInterval < 0:
		c.MinInterval = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.ForbiddenWait <= 0 {
		c.ForbiddenWait = d.ForbiddenWait
	}
	if c.TimeoutWait <= 0 {
		c.TimeoutWait = d.TimeoutWait
	}
	if c.ConnectionWait <= 0 {
		c.ConnectionWait = d.ConnectionWait
	}
	if c.OtherWait <= 0 {
		c.OtherWait = d.OtherWait
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// Classify maps an error to a class and its default wait.
// Matching is a case-insensitive substring test on the error text; the first match wins.
func Classify(err error) (Class, time.Duration) {
	return DefaultConfig().classify(err)
}

func (c Config) classify(err error) (Class, time.Duration) {
	if err == nil {
		return ClassOther, 0
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "403"):
		return ClassForbidden, c.ForbiddenWait
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ClassTimeout, c.TimeoutWait
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return ClassConnection, c.ConnectionWait
	default:
		return ClassOther, c.OtherWait
	}
}

// Limiter spaces calls to an upstream service and retries failed calls
// with classified waits. It is safe for concurrent use.
type Limiter struct {
	cfg     Config
	spacing *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter. Zero fields of cfg take their defaults.
func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Limiter{
		cfg:     cfg,
		spacing: rate.NewLimiter(limit, 1),
		sleep:   cfg.Sleep,
	}
}

// Config returns the effective policy.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Classify maps an error to a class and the configured wait for it.
func (l *Limiter) Classify(err error) (Class, time.Duration) {
	return l.cfg.classify(err)
}

// Wait blocks until the next upstream call is allowed.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.spacing.Wait(ctx)
}

// Do runs fn until it succeeds or MaxAttempts is reached, sleeping the classified
// wait between attempts. Context cancellation stops the loop immediately.
func (l *Limiter) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Printf("RateLimit: %s succeeded after %d attempts", op, attempt)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		lastErr = err

		if attempt == l.cfg.MaxAttempts {
			break
		}

		class, wait := l.cfg.classify(err)
		log.Printf("RateLimit: %s failed (attempt %d/%d, %s), waiting %v: %v",
			op, attempt, l.cfg.MaxAttempts, class, wait, err)
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s: interrupted during retry wait: %w", op, err)
		}
	}

	return &ExhaustedError{Op: op, Attempts: l.cfg.MaxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
