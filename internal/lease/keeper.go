package lease

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Keeper extends a held lease every ttl/3 until stopped. If an extension
// reports ErrNotHeld the keeper stops and Lost reports true; the work it was
// guarding should not assume exclusivity any more.
type Keeper struct {
	svc    Service
	lease  Lease
	ttl    time.Duration
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	lost   atomic.Bool
}

// Keep starts heartbeating l. The caller must call Stop.
func Keep(ctx context.Context, svc Service, l Lease, ttl time.Duration, logger *slog.Logger) *Keeper {
	ctx, cancel := context.WithCancel(ctx)
	k := &Keeper{svc: svc, lease: l, ttl: ttl, logger: logger, cancel: cancel}

	interval := ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := k.svc.Extend(ctx, k.lease, k.ttl)
				if err == nil {
					continue
				}
				if errors.Is(err, ErrNotHeld) {
					k.lost.Store(true)
					k.logger.Warn("lease lost", slog.String("key", k.lease.Key))
					return
				}
				if ctx.Err() != nil {
					return
				}
				k.logger.Warn("extend lease failed", slog.String("key", k.lease.Key), slog.String("error", err.Error()))
			}
		}
	}()
	return k
}

// Stop ends the heartbeat and waits for it to exit.
func (k *Keeper) Stop() {
	k.cancel()
	k.wg.Wait()
}

func (k *Keeper) Lost() bool {
	return k.lost.Load()
}
