package order

import "time"

func (w *RetryWorker) SetClock(now func() time.Time) {
	w.now = now
}
