package safe

import (
	"github.com/michaeljohneduave/hugin-gateway/logger"
)

// Go starts a goroutine that recovers from panics so that a single
// fire-and-forget task cannot take down the gateway.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
