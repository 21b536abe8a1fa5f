package jobs

import (
	"context"
	"log"
	"time"

	"github.com/monitor111/pwa-chat/internal/config"
	"github.com/monitor111/pwa-chat/internal/directory"
)

// EventSink matches the publish side of the roster and the hub.
type EventSink interface {
	Publish(ctx context.Context, event directory.Event) error
}

// StartStaleSweepJob reconciles durable presence against Redis liveness: a
// row still marked online whose liveness key expired belongs to a client
// that vanished without publishing offline. The sweep flips it offline and
// leaves last_seen untouched.
func StartStaleSweepJob(ctx context.Context, cfg config.Config, store *directory.Store, roster *directory.Roster, events EventSink) {
	if !cfg.StaleSweepEnabled {
		return
	}
	if roster == nil {
		log.Printf("stale sweep disabled: redis not configured")
		return
	}
	interval := cfg.StaleSweepEvery
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				swept, err := sweepOnce(tickCtx, store, roster, events)
				cancel()
				if err != nil {
					log.Printf("stale sweep error: %v", err)
					continue
				}
				if swept > 0 {
					log.Printf("stale sweep marked %d users offline", swept)
				}
			}
		}
	}()
}

func sweepOnce(ctx context.Context, store *directory.Store, roster *directory.Roster, events EventSink) (int64, error) {
	online, err := store.ListOnlineIDs(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, id := range online {
		live, err := roster.IsLive(ctx, id)
		if err != nil {
			return 0, err
		}
		if !live {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	swept, err := store.MarkStaleOffline(ctx, stale)
	if err != nil {
		return 0, err
	}

	if events != nil {
		for _, id := range stale {
			record, err := store.GetPresence(ctx, id)
			if err != nil {
				continue
			}
			if err := events.Publish(ctx, directory.PresenceEvent(record)); err != nil {
				log.Printf("stale sweep publish for %s failed: %v", id, err)
			}
		}
	}
	return swept, nil
}
