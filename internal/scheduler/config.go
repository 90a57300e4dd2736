// Package scheduler wraps one collection operation with a timeout, bounded
// retries and a jittered cycle loop, producing one Record per cycle.
package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects single-shot or recurring execution.
type Mode string

const (
	ModeOnce   Mode = "once"
	ModeDaemon Mode = "daemon"
)

// ParseMode accepts "once" and "daemon" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOnce:
		return ModeOnce, nil
	case ModeDaemon:
		return ModeDaemon, nil
	}
	return "", fmt.Errorf("unknown run mode %q (want once or daemon)", s)
}

// Config is the run cadence policy. It is embedded verbatim in every record.
type Config struct {
	Mode           Mode    `json:"mode" yaml:"mode"`
	IntervalSecs   uint64  `json:"interval_secs" yaml:"interval_secs"`
	JitterPct      float64 `json:"jitter_pct" yaml:"jitter_pct"`
	TimeoutSecs    uint64  `json:"timeout_secs" yaml:"timeout_secs"`
	RetryTimes     uint32  `json:"retry_times" yaml:"retry_times"`
	RetryBackoffMs uint64  `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	MaxCycles      *uint32 `json:"max_cycles" yaml:"max_cycles"`
}

// DefaultConfig runs once with a 120s budget and a single retry.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeOnce,
		IntervalSecs:   60,
		JitterPct:      0.1,
		TimeoutSecs:    120,
		RetryTimes:     1,
		RetryBackoffMs: 1000,
	}
}

func (c Config) Interval() time.Duration { return time.Duration(c.IntervalSecs) * time.Second }
func (c Config) Timeout() time.Duration  { return time.Duration(c.TimeoutSecs) * time.Second }
func (c Config) Backoff() time.Duration  { return time.Duration(c.RetryBackoffMs) * time.Millisecond }

// Attempts is retry_times + 1.
func (c Config) Attempts() uint32 { return c.RetryTimes + 1 }

// Validate rejects configurations the loop cannot honour.
func (c Config) Validate() error {
	if c.Mode != ModeOnce && c.Mode != ModeDaemon {
		return fmt.Errorf("unknown run mode %q", c.Mode)
	}
	if c.TimeoutSecs == 0 {
		return fmt.Errorf("timeout_secs must be greater than 0")
	}
	if c.Mode == ModeDaemon && c.IntervalSecs == 0 {
		return fmt.Errorf("interval_secs must be greater than 0 in daemon mode")
	}
	if c.MaxCycles != nil && *c.MaxCycles == 0 {
		return fmt.Errorf("max_cycles must be greater than 0 when set")
	}
	return nil
}
