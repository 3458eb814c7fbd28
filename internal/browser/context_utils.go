// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from primary (keeping its values, which carry
// the chromedp target) that is also canceled when secondary is done.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	if secondary == nil {
		return combined, cancel
	}
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach keeps ctx's values but drops its deadline and cancellation, for
// cleanup work that has to outlive the caller.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
