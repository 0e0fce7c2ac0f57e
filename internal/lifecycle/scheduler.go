package lifecycle

import (
	"sync"
	"time"
)

// Every runs fn on a fixed interval until the returned stop function is
// called. Periodic work goes through this instead of ad hoc timers so every
// loop carries a cancellation token.
func Every(interval time.Duration, fn func()) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
