package actions

import "time"

// Config holds the per-type timeouts and retry policy of the executor
type Config struct {
	// DefaultTimeout applies to every action type without a dedicated timeout
	DefaultTimeout time.Duration
	// NotificationTimeout covers the whole recipient fan-out of one SendNotification
	NotificationTimeout time.Duration
	// TriggerActionTimeout bounds a TriggerAction invocation
	TriggerActionTimeout time.Duration

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// MaxAttempts includes the first attempt
	MaxAttempts int

	// MaxParallel bounds concurrent notification deliveries
	MaxParallel int
}

// DefaultConfig returns the production timeouts and retry policy
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:       30 * time.Second,
		NotificationTimeout:  60 * time.Second,
		TriggerActionTimeout: 45 * time.Second,
		RetryBaseDelay:       500 * time.Millisecond,
		RetryMaxDelay:        5000 * time.Millisecond,
		MaxAttempts:          3,
		MaxParallel:          4,
	}
}

// TimeoutFor returns the timeout applied to an action of type t
func (c Config) TimeoutFor(t ActionType) time.Duration {
	switch t {
	case SendNotification:
		if c.NotificationTimeout > 0 {
			return c.NotificationTimeout
		}
	case TriggerAction:
		if c.TriggerActionTimeout > 0 {
			return c.TriggerActionTimeout
		}
	}
	return c.DefaultTimeout
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.NotificationTimeout <= 0 {
		c.NotificationTimeout = d.NotificationTimeout
	}
	if c.TriggerActionTimeout <= 0 {
		c.TriggerActionTimeout = d.TriggerActionTimeout
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = d.MaxParallel
	}
	return c
}
