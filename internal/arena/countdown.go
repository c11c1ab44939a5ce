package arena

import (
	"sync"
	"time"
)

// countdown is a cancellable one-shot lobby timer. cancel may be called any
// number of times, before or after the timer fired.
type countdown struct {
	timer  *time.Timer
	endsAt time.Time
	once   sync.Once
}

func startCountdown(d time.Duration, fire func(*countdown)) *countdown {
	c := &countdown{endsAt: time.Now().Add(d)}
	c.timer = time.AfterFunc(d, func() { fire(c) })
	return c
}

func (c *countdown) cancel() {
	if c == nil {
		return
	}
	c.once.Do(func() { c.timer.Stop() })
}
