package scheduler

import (
	"math"
	"time"
)

const (
	maxJitterPct     = 0.9
	minJitteredSleep = time.Second
)

// JitteredInterval perturbs base by up to ±base*jitterPct using the wall
// clock as entropy. jitterPct is clamped to [0, 0.9]; results are floored
// at one second; a zero base yields zero.
func JitteredInterval(base time.Duration, jitterPct float64) time.Duration {
	return jitteredAt(base, jitterPct, time.Now())
}

func jitteredAt(base time.Duration, jitterPct float64, now time.Time) time.Duration {
	baseMs := base.Milliseconds()
	if baseMs <= 0 {
		return 0
	}

	if math.IsNaN(jitterPct) || jitterPct < 0 {
		jitterPct = 0
	}
	if jitterPct > maxJitterPct {
		jitterPct = maxJitterPct
	}

	jitterAbs := int64(math.Round(float64(baseMs) * jitterPct))
	if jitterAbs == 0 {
		return time.Duration(baseMs) * time.Millisecond
	}

	span := 2*jitterAbs + 1
	offset := now.UnixMilli()%span - jitterAbs

	ms := baseMs + offset
	if floor := minJitteredSleep.Milliseconds(); ms < floor {
		ms = floor
	}
	return time.Duration(ms) * time.Millisecond
}
