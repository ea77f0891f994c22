package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRedis() error {
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis.addr must be set")
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must not be negative")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.Name == "" {
		return errors.New("queue.name must be set")
	}
	if strings.ContainsAny(c.Queue.Name, " :") {
		return fmt.Errorf("queue.name %q must not contain spaces or colons", c.Queue.Name)
	}
	if c.Queue.Workers < 1 {
		return errors.New("queue.workers must be at least 1")
	}
	if c.Queue.PopTimeoutSeconds < 1 {
		return errors.New("queue.pop_timeout_seconds must be at least 1")
	}
	if c.Queue.SweepIntervalSeconds < 1 {
		return errors.New("queue.sweep_interval_seconds must be at least 1")
	}
	if c.Queue.StuckTimeoutSeconds <= c.Queue.PopTimeoutSeconds {
		return errors.New("queue.stuck_timeout_seconds must exceed queue.pop_timeout_seconds")
	}
	if c.Queue.PendingRequeueSeconds < 1 {
		return errors.New("queue.pending_requeue_seconds must be at least 1")
	}
	if c.Queue.LockLeaseSeconds < 1 {
		return errors.New("queue.lock_lease_seconds must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported (use debug, info, warn, or error)", c.Logging.Level)
	}
	return nil
}
