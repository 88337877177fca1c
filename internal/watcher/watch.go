package watcher

import (
	"context"
	"time"

	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
)

// rewatchDelay is the pause before a failed watch is re-established
const rewatchDelay = time.Second

// watchLoop keeps a prefix watch on key alive until ctx is done. handle gets
// every change in order; resync runs after a broken watch was re-established
// so the caller can reconcile what it missed.
func watchLoop(ctx context.Context, store metadata.Store, key string, logger *logging.Logger,
	handle func(metadata.Event), resync func(context.Context)) {
	for {
		broken := false
		for ev := range store.Watch(ctx, key) {
			if ev.Err != nil {
				logger.Warn("Watch interrupted", "key", key, "error", ev.Err)
				broken = true
				continue
			}
			handle(ev)
		}
		if ctx.Err() != nil {
			return
		}
		if !broken {
			logger.Warn("Watch channel closed", "key", key)
		}

		select {
		case <-time.After(rewatchDelay):
		case <-ctx.Done():
			return
		}
		if resync != nil {
			resync(ctx)
		}
	}
}
