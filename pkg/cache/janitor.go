package cache

import (
	"sync"
	"time"
)

// janitor runs a sweep function on a fixed interval until halted. Each tier
// owns one janitor; a sweep failure is the sweep's problem to log, the
// janitor keeps ticking.
type janitor struct {
	interval time.Duration
	sweep    func()
	stop     chan struct{}
	once     sync.Once
}

// newJanitor starts a background sweeper. Returns nil when interval is zero.
func newJanitor(interval time.Duration, sweep func()) *janitor {
	if interval <= 0 {
		return nil
	}
	j := &janitor{
		interval: interval,
		sweep:    sweep,
		stop:     make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *janitor) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

// halt stops the janitor. Safe to call more than once.
func (j *janitor) halt() {
	if j == nil {
		return
	}
	j.once.Do(func() { close(j.stop) })
}
