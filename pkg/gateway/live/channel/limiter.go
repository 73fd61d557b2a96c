package channel

import "time"

// inboundAudioLimiter is a token bucket over inbound audio bytes. A client
// streaming faster than real time drains the bucket and gets cut off.
type inboundAudioLimiter struct {
	now          func() time.Time
	bpsRate      int64
	bpsTokens    int64
	burstSeconds int64
	lastRefill   time.Time
}

func newInboundAudioLimiter(now func() time.Time, bps int64, burstSeconds int) *inboundAudioLimiter {
	if bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}

	l := &inboundAudioLimiter{
		now:          now,
		bpsRate:      bps,
		burstSeconds: int64(burstSeconds),
		lastRefill:   now(),
	}
	l.bpsTokens = l.bpsRate * l.burstSeconds
	return l
}

func (l *inboundAudioLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	l.refill()

	if frameBytes < 0 {
		frameBytes = 0
	}
	if l.bpsTokens < int64(frameBytes) {
		return false
	}
	l.bpsTokens -= int64(frameBytes)
	return true
}

func (l *inboundAudioLimiter) refill() {
	now := l.now()
	if l.lastRefill.IsZero() {
		l.lastRefill = now
		return
	}
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}

	add := (elapsed.Nanoseconds() * l.bpsRate) / int64(time.Second)
	if add > 0 {
		l.bpsTokens += add
		maxTokens := l.bpsRate * l.burstSeconds
		if l.bpsTokens > maxTokens {
			l.bpsTokens = maxTokens
		}
	}

	l.lastRefill = now
}
